package scratch

import (
	"context"
	"time"
)

// Dir is a worker-owned scratch directory that packed tarballs are installed into.
type Dir struct {
	Owner string
	Path  string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs scratch directory lifecycle. Each directory belongs to
// exactly one worker for its whole lifetime.
type Manager interface {
	// Create makes a fresh, empty directory for owner.
	Create(ctx context.Context, owner string) (Dir, error)

	// Prune removes a directory previously returned by Create.
	Prune(ctx context.Context, dir Dir) error

	// Cleanup removes stale scratch directories older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
