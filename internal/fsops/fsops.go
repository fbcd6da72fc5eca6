// Package fsops holds the file operations used to avoid spurious rebuilds:
// copy-if-different, atomic replace, and timestamp save/restore.
package fsops

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"buildnative/internal/digest"
)

// ErrCrossDevice is returned when a rename would have to cross volumes and
// therefore cannot be atomic.
var ErrCrossDevice = errors.New("rename crosses filesystem boundary")

// CopyOptions controls CopyIfDifferent.
type CopyOptions struct {
	// PreserveTimes copies the source access/modify times onto the
	// destination after a copy.
	PreserveTimes bool
}

// CopyIfDifferent copies src over dst unless dst already holds the same
// bytes. It reports whether a copy happened. When nothing is copied dst is
// not opened for writing, so its mtime is left alone.
func CopyIfDifferent(src, dst string, opts CopyOptions) (bool, error) {
	same, err := SameContent(src, dst)
	if err != nil {
		return false, err
	}
	if same {
		return false, nil
	}
	if err := CopyFile(src, dst); err != nil {
		return false, err
	}
	if opts.PreserveTimes {
		if err := CopyTimes(src, dst); err != nil {
			return true, err
		}
	}
	return true, nil
}

// SameContent reports whether both files exist with identical content. A
// missing b is not an error.
func SameContent(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !ai.Mode().IsRegular() || !bi.Mode().IsRegular() || ai.Size() != bi.Size() {
		return false, nil
	}
	da, err := digest.File(a)
	if err != nil {
		return false, err
	}
	db, err := digest.File(b)
	if err != nil {
		return false, err
	}
	return da.Equal(db), nil
}

// CopyFile replaces dst with a copy of src, keeping the source permission
// bits. Readers of dst see either the old or the new content.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("copy %s: not a regular file", src)
	}
	return WriteAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// WriteFileAtomic writes data to a sibling temporary file and renames it
// over path.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	return WriteAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomic streams fill into a sibling temporary file, syncs it and
// renames it over path. On any failure the temporary file is removed and
// path is left untouched.
func WriteAtomic(path string, perm fs.FileMode, fill func(w io.Writer) error) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err = fill(tmp); err != nil {
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return AtomicRename(tmpName, path)
}

// AtomicRename moves src over dst in one step. An existing dst is replaced
// without ever being absent.
func AtomicRename(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("%w: %s -> %s", ErrCrossDevice, src, dst)
	}
	return err
}
