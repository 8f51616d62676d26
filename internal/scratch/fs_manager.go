package scratch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// dirPrefix marks directories this package created so Cleanup never touches anything else.
const dirPrefix = "smoker-"

// fsManager manages scratch directories on local disk.
type fsManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a filesystem-backed manager rooted at baseDir.
// An empty baseDir means the OS temp directory.
func NewFSManager(baseDir string) (*fsManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		trimmed = os.TempDir()
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch base directory: %w", err)
	}

	return &fsManager{
		baseDir: abs,
		now:     time.Now,
	}, nil
}

// BaseDir returns the directory scratch dirs are created under.
func (m *fsManager) BaseDir() string { return m.baseDir }

// Create makes a unique directory named after owner.
func (m *fsManager) Create(ctx context.Context, owner string) (Dir, error) {
	if err := ctx.Err(); err != nil {
		return Dir{}, err
	}
	if err := validateOwner(owner); err != nil {
		return Dir{}, err
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Dir{}, fmt.Errorf("create scratch base directory: %w", err)
	}

	path, err := os.MkdirTemp(m.baseDir, dirPrefix+sanitize(owner)+"-")
	if err != nil {
		return Dir{}, fmt.Errorf("create scratch dir for %q: %w", owner, err)
	}

	return Dir{Owner: owner, Path: path}, nil
}

// Prune removes dir. It refuses paths outside the base directory.
func (m *fsManager) Prune(ctx context.Context, dir Dir) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.owns(dir.Path) {
		return fmt.Errorf("refusing to prune %q: not a scratch dir under %s", dir.Path, m.baseDir)
	}
	if err := os.RemoveAll(dir.Path); err != nil {
		return fmt.Errorf("remove scratch dir %q: %w", dir.Path, err)
	}
	return nil
}

// Cleanup removes scratch directories older than olderThan based on directory
// modification time.
func (m *fsManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read scratch base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read scratch entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove scratch dir %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsManager) owns(path string) bool {
	clean := filepath.Clean(path)
	if filepath.Dir(clean) != m.baseDir {
		return false
	}
	return strings.HasPrefix(filepath.Base(clean), dirPrefix)
}

func validateOwner(owner string) error {
	trimmed := strings.TrimSpace(owner)
	if trimmed == "" {
		return fmt.Errorf("scratch owner is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("scratch owner %q is invalid", owner)
	}
	return nil
}

// sanitize turns "npm@10.2.0" into a path-safe fragment.
func sanitize(owner string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(owner))
}
