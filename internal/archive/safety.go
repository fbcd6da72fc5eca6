package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"buildnative/internal/pathutil"
)

// cleanName validates an archive member name and returns it cleaned,
// relative and slash separated, after dropping strip leading elements.
// skip is true when nothing is left after stripping.
func cleanName(name string, strip int) (clean string, skip bool, err error) {
	if name == "" {
		return "", false, fmt.Errorf("%w: empty name", ErrUnsafePath)
	}
	if strings.HasPrefix(name, "/") || pathutil.IsAbs(name) {
		return "", false, fmt.Errorf("%w: absolute name %q", ErrUnsafePath, name)
	}
	clean = path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false, fmt.Errorf("%w: %q escapes the destination", ErrUnsafePath, name)
	}
	if strip > 0 {
		parts := strings.Split(clean, "/")
		if clean == "." || len(parts) <= strip {
			return "", true, nil
		}
		clean = path.Join(parts[strip:]...)
	}
	return clean, false, nil
}

// checkLink rejects relative symlink targets that leave the root when
// resolved from the link's own directory. Absolute targets point at the
// installed system and pass unless rejectAbs is set; writes through them
// are stopped by checkParents.
func checkLink(clean, target string, rejectAbs bool) error {
	if target == "" {
		return fmt.Errorf("%w: empty link target for %q", ErrUnsafePath, clean)
	}
	if strings.HasPrefix(target, "/") || pathutil.IsAbs(target) {
		if !rejectAbs {
			return nil
		}
		return fmt.Errorf("%w: absolute link target %q for %q", ErrUnsafePath, target, clean)
	}
	resolved := path.Join(path.Dir(clean), target)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("%w: link %q -> %q escapes the destination", ErrUnsafePath, clean, target)
	}
	return nil
}

// checkParents refuses to write through a symlinked directory that an
// earlier entry created.
func checkParents(root, clean string) error {
	dir := root
	parts := strings.Split(clean, "/")
	for _, p := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, p)
		info, err := os.Lstat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %q passes through symlink %q", ErrUnsafePath, clean, dir)
		}
	}
	return nil
}
