package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// networkFS lists filesystem names on which SQLite locking cannot be trusted.
var networkFS = []string{"afpfs", "cifs", "nfs", "nfs4", "smbfs", "smb2", "webdav"}

// NetworkFSError reports a history database placed on a network mount.
type NetworkFSError struct {
	Path   string
	FSType string
}

func (e *NetworkFSError) Error() string {
	return fmt.Sprintf("history database %s is on network filesystem %q; SQLite needs a local disk for locking. "+
		"Point history.path (or --history-db) at a local file", e.Path, e.FSType)
}

type fsTyper func(dir string) (string, error)

// ValidateFilesystem refuses database paths that live on a network mount.
// The path itself need not exist yet; its nearest existing ancestor is inspected.
func ValidateFilesystem(path string) error {
	return checkLocal(path, filesystemType)
}

func checkLocal(path string, typeOf fsTyper) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("history database path is empty")
	}

	dir, err := existingAncestor(path)
	if err != nil {
		return err
	}
	kind, err := typeOf(dir)
	if err != nil {
		return fmt.Errorf("detect filesystem of %s: %w", dir, err)
	}
	if slices.Contains(networkFS, strings.ToLower(strings.TrimSpace(kind))) {
		return &NetworkFSError{Path: path, FSType: kind}
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("stat %s: %w", dir, err)
		case filepath.Dir(dir) == dir:
			return "", fmt.Errorf("no existing ancestor of %s", abs)
		}
	}
}
