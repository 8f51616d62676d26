package scratch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFSManagerCreateAndPrune(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "scratch")
	mgr, err := NewFSManager(baseDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	dir, err := mgr.Create(context.Background(), "npm@10.2.0")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if filepath.Dir(dir.Path) != baseDir {
		t.Fatalf("Create() dir = %q, want parent %q", dir.Path, baseDir)
	}
	if !strings.HasPrefix(filepath.Base(dir.Path), "smoker-npm_10.2.0-") {
		t.Fatalf("Create() dir name = %q, want smoker-npm_10.2.0- prefix", filepath.Base(dir.Path))
	}

	info, err := os.Stat(dir.Path)
	if err != nil {
		t.Fatalf("Stat(scratch) error = %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("scratch path is not a directory")
	}

	other, err := mgr.Create(context.Background(), "npm@10.2.0")
	if err != nil {
		t.Fatalf("Create(second) error = %v", err)
	}
	if other.Path == dir.Path {
		t.Fatalf("two Create calls returned the same directory %q", dir.Path)
	}

	if err := os.WriteFile(filepath.Join(dir.Path, "pkg.tgz"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := mgr.Prune(context.Background(), dir); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if _, err := os.Stat(dir.Path); !os.IsNotExist(err) {
		t.Fatalf("Stat(pruned) error = %v, want not-exist", err)
	}
}

func TestFSManagerPruneRefusesForeignPaths(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	foreign := t.TempDir()
	if err := mgr.Prune(context.Background(), Dir{Owner: "x", Path: foreign}); err == nil {
		t.Fatal("Prune(foreign) expected error")
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("foreign dir should survive, stat error = %v", err)
	}
}

func TestFSManagerCreateRejectsBadOwner(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	for _, owner := range []string{"", "  ", ".", ".."} {
		if _, err := mgr.Create(context.Background(), owner); err == nil {
			t.Fatalf("Create(%q) expected error", owner)
		}
	}
}

func TestFSManagerCreateHonoursCancelledContext(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mgr.Create(ctx, "npm"); err == nil {
		t.Fatal("Create() with cancelled context expected error")
	}
}

func TestFSManagerCleanupRemovesOnlyStaleScratchDirs(t *testing.T) {
	baseDir := t.TempDir()
	mgr, err := NewFSManager(baseDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	fixedNow := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return fixedNow }

	stale, err := mgr.Create(context.Background(), "npm")
	if err != nil {
		t.Fatalf("Create(stale) error = %v", err)
	}
	fresh, err := mgr.Create(context.Background(), "pnpm")
	if err != nil {
		t.Fatalf("Create(fresh) error = %v", err)
	}
	unrelated := filepath.Join(baseDir, "not-ours")
	if err := os.Mkdir(unrelated, 0o755); err != nil {
		t.Fatalf("Mkdir(unrelated) error = %v", err)
	}

	old := fixedNow.Add(-48 * time.Hour)
	for _, p := range []string{stale.Path, unrelated} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatalf("Chtimes(%s) error = %v", p, err)
		}
	}
	recent := fixedNow.Add(-1 * time.Hour)
	if err := os.Chtimes(fresh.Path, recent, recent); err != nil {
		t.Fatalf("Chtimes(fresh) error = %v", err)
	}

	report, err := mgr.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("Cleanup() deleted = %d, want 1", report.DeletedDirs)
	}
	if _, err := os.Stat(stale.Path); !os.IsNotExist(err) {
		t.Fatalf("stale scratch dir should be removed, stat error = %v", err)
	}
	for _, p := range []string{fresh.Path, unrelated} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s should remain, stat error = %v", p, err)
		}
	}
}
