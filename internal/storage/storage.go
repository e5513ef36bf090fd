// Package storage writes archive artifacts to the local filesystem using
// temp-file-then-rename semantics and symlink-resistant opens, per
// spec.md §4.2.
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/spec-kit/ticket-archiver/internal/retryclass"
)

// DefaultFileMode is the permission bits applied to every written
// artifact and sidecar (§4.2).
const DefaultFileMode = 0o640

// DefaultDirMode is the permission bits applied to directories created
// on the way to a target path.
const DefaultDirMode = 0o750

func storageErr(code retryclass.Code, message string, err error) error {
	class := retryclass.Classify(err)
	if classified, ok := class.(*retryclass.Error); ok {
		return classified
	}
	return retryclass.NewPermanent(code, message, err)
}

// EnsureWithinRoot verifies that target, once resolved to an absolute
// path, is a descendant of root. It does not touch the filesystem.
func EnsureWithinRoot(root, target string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return storageErr(retryclass.CodeStorage, "cannot resolve storage root", err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return storageErr(retryclass.CodeStorage, "cannot resolve target path", err)
	}
	rel, err := filepath.Rel(filepath.Clean(absRoot), filepath.Clean(absTarget))
	if err != nil {
		return storageErr(retryclass.CodeStorage, "cannot relate target path to storage root", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == "." {
		return storageErr(retryclass.CodePathPolicy, "target path escapes storage root", nil)
	}
	return nil
}

// rejectSymlinksUnderRoot walks from root down to dir, failing closed if
// any intermediate component is a symlink. This is a best-effort, TOCTOU-
// prone check mirrored from the original implementation; it narrows the
// race window rather than eliminating it.
func rejectSymlinksUnderRoot(root, dir string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return storageErr(retryclass.CodeStorage, "cannot resolve storage root", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return storageErr(retryclass.CodeStorage, "cannot resolve target directory", err)
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil {
		return storageErr(retryclass.CodeStorage, "cannot relate directory to storage root", err)
	}
	if rel == "." {
		return nil
	}
	if err := EnsureWithinRoot(absRoot, absDir); err != nil {
		return err
	}
	current := absRoot
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "" {
			continue
		}
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return storageErr(retryclass.CodeStorage, "could not inspect path component while checking for symlinks", err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return storageErr(retryclass.CodePathPolicy, "target path traverses a symlink under the storage root", nil)
		}
	}
	return nil
}

// EnsureDir creates dir and all missing parents with DefaultDirMode.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DefaultDirMode); err != nil {
		return storageErr(retryclass.CodeStorage, "could not create storage directory", err)
	}
	return nil
}

func fsyncDirBestEffort(dir string) {
	fd, err := os.Open(dir)
	if err != nil {
		return
	}
	defer fd.Close()
	_ = fd.Sync()
}

// openNoFollow opens path for writing, refusing to follow a trailing
// symlink when the platform exposes O_NOFOLLOW. On platforms where the
// flag has no effect this degrades to a plain open; rejectSymlinksUnderRoot
// is what actually protects the directory walk.
func openNoFollow(path string, flags int, mode os.FileMode) (*os.File, error) {
	nofollow := flags | unix.O_NOFOLLOW
	fd, err := os.OpenFile(path, nofollow, mode)
	if err != nil {
		return nil, err
	}
	return fd, nil
}

// WriteAtomic writes data to target via a temp file in the same
// directory followed by an atomic rename, fsyncing the file and (best
// effort) its parent directory. target must lie within root.
func WriteAtomic(root, target string, data []byte) error {
	if err := EnsureWithinRoot(root, target); err != nil {
		return err
	}
	parent := filepath.Dir(target)
	if err := rejectSymlinksUnderRoot(root, parent); err != nil {
		return err
	}
	if err := EnsureDir(parent); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(parent, ".tmp-*")
	if err != nil {
		return storageErr(retryclass.CodeStorage, "could not create temp file for atomic write", err)
	}
	tmpPath := tmp.Name()
	cleanupTmp := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanupTmp()
		return storageErr(retryclass.CodeStorage, "could not write temp file", err)
	}
	if err := tmp.Chmod(DefaultFileMode); err != nil {
		tmp.Close()
		cleanupTmp()
		return storageErr(retryclass.CodeStorage, "could not set temp file mode", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanupTmp()
		return storageErr(retryclass.CodeStorage, "could not fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		cleanupTmp()
		return storageErr(retryclass.CodeStorage, "could not close temp file", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		cleanupTmp()
		return storageErr(retryclass.CodeStorage, "could not rename temp file onto target", err)
	}
	fsyncDirBestEffort(parent)
	return nil
}

// WriteDirect writes data to target in place (no rename), used for
// artifacts where an atomic swap is unnecessary, e.g. first-time sidecar
// creation immediately after WriteAtomic populates the directory.
func WriteDirect(root, target string, data []byte) error {
	if err := EnsureWithinRoot(root, target); err != nil {
		return err
	}
	parent := filepath.Dir(target)
	if err := rejectSymlinksUnderRoot(root, parent); err != nil {
		return err
	}
	if err := EnsureDir(parent); err != nil {
		return err
	}

	f, err := openNoFollow(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, DefaultFileMode)
	if err != nil {
		return storageErr(retryclass.CodeStorage, "could not open target for direct write", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return storageErr(retryclass.CodeStorage, "could not write target file", err)
	}
	if err := f.Chmod(DefaultFileMode); err != nil {
		return storageErr(retryclass.CodeStorage, "could not set target file mode", err)
	}
	if err := f.Sync(); err != nil {
		return storageErr(retryclass.CodeStorage, "could not fsync target file", err)
	}
	fsyncDirBestEffort(parent)
	return nil
}

// MoveWithinRoot relocates src to dst, validating both endpoints lie
// within root and that dst's parent does not traverse a symlink.
func MoveWithinRoot(root, src, dst string) error {
	if err := EnsureWithinRoot(root, src); err != nil {
		return err
	}
	if err := EnsureWithinRoot(root, dst); err != nil {
		return err
	}
	parent := filepath.Dir(dst)
	if err := rejectSymlinksUnderRoot(root, parent); err != nil {
		return err
	}
	if err := EnsureDir(parent); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return storageErr(retryclass.CodeStorage, "could not move file within storage root", err)
	}
	fsyncDirBestEffort(parent)
	return nil
}
