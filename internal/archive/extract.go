package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// member is the format-neutral view of one entry being unpacked.
type member struct {
	name    string
	kind    Kind
	mode    fs.FileMode
	link    string
	modTime time.Time
	body    io.Reader
}

type dirStamp struct {
	path    string
	mode    fs.FileMode
	modTime time.Time
}

// extractor writes members below root. Directory modes and times are
// applied at the end so that later entries can still be written into them.
type extractor struct {
	root string
	opts Options
	dirs []dirStamp
}

func newExtractor(destRoot string, opts Options) (*extractor, error) {
	root, err := filepath.Abs(destRoot)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &extractor{root: root, opts: opts}, nil
}

func (x *extractor) put(m member) error {
	clean, skip, err := cleanName(m.name, x.opts.StripComponents)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}
	if clean == "." {
		if m.kind == Dir {
			x.dirs = append(x.dirs, dirStamp{x.root, m.mode, m.modTime})
		}
		return nil
	}
	if err := checkParents(x.root, clean); err != nil {
		return err
	}
	target := filepath.Join(x.root, filepath.FromSlash(clean))

	if m.kind != Dir {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", target, err)
		}
		if err := removeExisting(target); err != nil {
			return err
		}
	}

	switch m.kind {
	case Dir:
		if info, err := os.Lstat(target); err == nil && info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: directory %q is a symlink", ErrUnsafePath, clean)
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", target, err)
		}
		x.dirs = append(x.dirs, dirStamp{target, m.mode, m.modTime})

	case File:
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("create file %s: %w", target, err)
		}
		_, err = io.Copy(out, integrityReader{m.body})
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write file %s: %w", target, err)
		}
		if err := os.Chmod(target, m.mode); err != nil {
			return err
		}
		if err := os.Chtimes(target, m.modTime, m.modTime); err != nil {
			return fmt.Errorf("set times for file %s: %w", target, err)
		}

	case Symlink:
		if err := checkLink(clean, m.link, x.opts.RejectAbsoluteLinks); err != nil {
			return err
		}
		if err := os.Symlink(m.link, target); err != nil {
			return fmt.Errorf("create symlink %s -> %s: %w", target, m.link, err)
		}
		if err := setLinkTimes(target, m.modTime); err != nil {
			x.opts.debugf("failed to set times for symlink %s: %v (continuing)", target, err)
		}

	case Hardlink:
		src, skip, err := cleanName(m.link, x.opts.StripComponents)
		if err != nil {
			return err
		}
		if skip || src == "." {
			return fmt.Errorf("%w: hard link %q has no usable target", ErrUnsafePath, m.name)
		}
		if err := checkParents(x.root, src); err != nil {
			return err
		}
		if err := os.Link(filepath.Join(x.root, filepath.FromSlash(src)), target); err != nil {
			return fmt.Errorf("create hard link %s: %w", target, err)
		}
	}
	return nil
}

// finish applies directory modes and times deepest first.
func (x *extractor) finish() error {
	sort.SliceStable(x.dirs, func(i, j int) bool {
		return len(x.dirs[i].path) > len(x.dirs[j].path)
	})
	for _, d := range x.dirs {
		if err := os.Chmod(d.path, d.mode); err != nil {
			return err
		}
		if !d.modTime.IsZero() {
			if err := os.Chtimes(d.path, d.modTime, d.modTime); err != nil {
				return fmt.Errorf("set times for dir %s: %w", d.path, err)
			}
		}
	}
	return nil
}

func removeExisting(target string) error {
	info, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: a directory is in the way", target)
	}
	return os.Remove(target)
}
