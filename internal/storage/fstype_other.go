//go:build !darwin && !linux

package storage

// Network mounts are not detected on this platform.
func filesystemType(string) (string, error) { return "", nil }
