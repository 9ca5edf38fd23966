// Package fsprobe defines the filesystem operations vmsnap's decision logic
// depends on, and an implementation backed by the local OS filesystem.
package fsprobe

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Entry is a single directory entry returned by ListDir.
type Entry struct {
	Name  string
	IsDir bool
}

// FileInfo is the subset of stat information vmsnap uses.
type FileInfo struct {
	Size  int64
	IsDir bool
}

// FS is the filesystem probe used by the lifecycle engine and the
// directory stats collector.
type FS interface {
	Exists(path string) (bool, error)
	RemoveTree(path string) error
	ListDir(path string) ([]Entry, error)
	Stat(path string) (FileInfo, error)
}

// OS implements FS on the local filesystem.
type OS struct{}

// New returns the OS-backed probe.
func New() *OS {
	return &OS{}
}

// Exists reports whether path exists. A missing path is not an error.
func (OS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// RemoveTree removes path and everything below it.
func (OS) RemoveTree(path string) error {
	return os.RemoveAll(path)
}

// ListDir returns the entries of a directory in name order.
// Symlinks are reported by what they point at.
func (OS) ListDir(path string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		isDir := de.IsDir()
		if de.Type()&fs.ModeSymlink != 0 {
			if st, err := os.Stat(filepath.Join(path, de.Name())); err == nil {
				isDir = st.IsDir()
			}
		}
		entries = append(entries, Entry{Name: de.Name(), IsDir: isDir})
	}
	return entries, nil
}

// Stat follows symlinks.
func (OS) Stat(path string) (FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Size: st.Size(), IsDir: st.IsDir()}, nil
}
