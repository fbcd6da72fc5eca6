// Package archive creates and unpacks tar archives (plain, gzip, bzip2, xz
// or zstd compressed) and zip files. Extraction never writes outside the
// destination root.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrIntegrity is the parent of every archive content failure.
	ErrIntegrity = errors.New("archive integrity failure")
	// ErrUnsafePath marks an entry that would land outside the destination.
	ErrUnsafePath = fmt.Errorf("%w: unsafe path", ErrIntegrity)
	// ErrCorrupt marks a truncated or undecodable stream.
	ErrCorrupt = fmt.Errorf("%w: corrupt stream", ErrIntegrity)
)

// Compression is the filter applied around the tar stream.
type Compression int

const (
	None Compression = iota
	Gzip
	Bzip2
	Xz
	Zstd
)

var compressionNames = map[Compression]string{
	None:  "none",
	Gzip:  "gzip",
	Bzip2: "bzip2",
	Xz:    "xz",
	Zstd:  "zstd",
}

func (c Compression) String() string {
	if n, ok := compressionNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

// ParseCompression accepts the names printed by String plus common aliases.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none", "tar":
		return None, nil
	case "gzip", "gz", "tgz":
		return Gzip, nil
	case "bzip2", "bz2":
		return Bzip2, nil
	case "xz":
		return Xz, nil
	case "zstd", "zst":
		return Zstd, nil
	}
	return None, fmt.Errorf("unknown compression %q", name)
}

// CompressionFromName picks the filter from an archive file name.
func CompressionFromName(name string) (Compression, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return Gzip, nil
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return Bzip2, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return Xz, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return Zstd, nil
	case strings.HasSuffix(lower, ".tar"):
		return None, nil
	}
	return None, fmt.Errorf("unsupported archive format: %s", name)
}

// Kind is the type of an archive entry.
type Kind int

const (
	File Kind = iota
	Dir
	Symlink
	Hardlink // read only; Create never emits hard links
)

func (k Kind) String() string {
	switch k {
	case Dir:
		return "dir"
	case Symlink:
		return "symlink"
	case Hardlink:
		return "hardlink"
	}
	return "file"
}

// Entry is one archive member. Path is relative and slash separated.
// A File takes its bytes from Source when set, otherwise from Content.
type Entry struct {
	Path    string
	Kind    Kind
	Mode    fs.FileMode
	Content []byte
	Source  string
	Link    string
	ModTime time.Time
	Size    int64 // filled in by List
}

// Logger receives debug messages about skipped entries.
type Logger interface {
	Debugf(format string, a ...any)
}

// Options tunes Create and Extract.
type Options struct {
	// Progress receives a progress bar when it is a terminal.
	Progress io.Writer
	// StripComponents drops that many leading path elements on extraction.
	StripComponents int
	// RejectAbsoluteLinks makes extraction fail on symlinks with an
	// absolute target.
	RejectAbsoluteLinks bool
	Logger              Logger
}

func (o Options) debugf(format string, a ...any) {
	if o.Logger != nil {
		o.Logger.Debugf(format, a...)
	}
}

// Collect describes the tree under root as entries, in lexical order.
// The root directory itself is not included.
func Collect(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		e := Entry{
			Path:    filepath.ToSlash(rel),
			Mode:    info.Mode() &^ fs.ModeType,
			ModTime: info.ModTime(),
		}
		switch {
		case info.IsDir():
			e.Kind = Dir
		case info.Mode()&fs.ModeSymlink != 0:
			e.Kind = Symlink
			if e.Link, err = os.Readlink(path); err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
		case info.Mode().IsRegular():
			e.Kind = File
			e.Source = path
			e.Size = info.Size()
		default:
			// sockets, fifos and devices are not archived
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
