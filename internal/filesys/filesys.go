// Package filesys provides file system abstractions and utilities for dnscacher.
// It defines interfaces for file operations and provides implementations that
// delegate to the standard library, making it easier to test code that interacts
// with the file system.
package filesys

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

// ReadWriteFS is the tiny surface the *config loader* needs.
// It is intentionally **smaller** than os.File because callers
// never need random-access writes or directory iteration.
type ReadWriteFS interface {
	Stat(string) (fs.FileInfo, error)
	MkdirAll(string, os.FileMode) error
	Open(string) (*os.File, error)
	WriteFile(string, []byte, os.FileMode) error
}

// FileOps is what the mapping store needs for loading, atomic saves and
// its lock file.
type FileOps interface {
	Open(string) (*os.File, error)
	OpenFile(string, int, os.FileMode) (*os.File, error)
	ReadFile(string) ([]byte, error)
	MkdirAll(string, os.FileMode) error
	CreateTemp(string, string) (*os.File, error)
	Rename(string, string) error
	Remove(string) error
	Chmod(string, os.FileMode) error
}

// OS returns a file system implementation that delegates to the standard library.
// The returned implementation satisfies both ReadWriteFS and FileOps interfaces.
func OS() OsFS {
	return OsFS{}
}

// OsFS implements both ReadWriteFS and FileOps against the local disk.
// All methods delegate to the standard library.
type OsFS struct{}

func (OsFS) Stat(p string) (fs.FileInfo, error)     { return os.Stat(p) }
func (OsFS) MkdirAll(p string, m os.FileMode) error { return os.MkdirAll(p, m) }
func (OsFS) Open(p string) (*os.File, error)        { return os.Open(p) }
func (OsFS) OpenFile(p string, flag int, m os.FileMode) (*os.File, error) {
	return os.OpenFile(p, flag, m)
}
func (OsFS) ReadFile(p string) ([]byte, error) {
	return os.ReadFile(p)
}
func (OsFS) WriteFile(p string, b []byte, m os.FileMode) error { return os.WriteFile(p, b, m) }
func (OsFS) CreateTemp(dir, pat string) (*os.File, error)      { return os.CreateTemp(dir, pat) }
func (OsFS) Rename(old, newName string) error                  { return os.Rename(old, newName) }
func (OsFS) Remove(p string) error                             { return os.Remove(p) }
func (OsFS) Chmod(p string, m os.FileMode) error               { return os.Chmod(p, m) }

var (
	_ ReadWriteFS = OsFS{}
	_ FileOps     = OsFS{}
)

// AtomicWrite atomically persists data to dst with the provided file mode.
// The write is crash-safe on local filesystems:
//
//  1. mkdir -p dir(dst)
//  2. temp file in the same dir
//  3. fsync(temp) + close
//  4. chmod(temp, perm)  (so rename doesn’t carry 0600 default)
//  5. rename(temp, dst)
//  6. fsync(dir)
//
// On failure the temp file is removed and dst is left untouched. Cleanup
// failures are appended to the returned error.
func AtomicWrite(fs FileOps, dst string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(dst)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := fs.CreateTemp(dir, ".dnscacher-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	name := tmp.Name()

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	err = multierr.Append(err, tmp.Close())
	if err == nil {
		err = fs.Chmod(name, perm)
	}
	if err == nil {
		err = fs.Rename(name, dst)
	}
	if err != nil {
		if rmErr := fs.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, fmt.Errorf("removing temp file %s: %w", name, rmErr))
		}
		return err
	}

	// Directory fsync is best effort; not every filesystem supports it.
	if d, err := fs.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
