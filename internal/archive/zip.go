package archive

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"buildnative/internal/fsops"
)

// CreateZip writes entries as a deflated zip file at destPath. Symlinks are
// stored the Info-ZIP way, with the target as content.
func CreateZip(entries []Entry, destPath string, opts Options) error {
	return fsops.WriteAtomic(destPath, 0o644, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		for _, e := range entries {
			if err := writeZipEntry(zw, e); err != nil {
				zw.Close()
				return fmt.Errorf("%s: %w", e.Path, err)
			}
		}
		return zw.Close()
	})
}

func writeZipEntry(zw *zip.Writer, e Entry) error {
	name, _, err := cleanName(e.Path, 0)
	if err != nil {
		return err
	}
	mtime := e.ModTime
	if mtime.IsZero() {
		mtime = time.Now()
	}
	fh := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: mtime}

	var body io.Reader
	switch e.Kind {
	case Dir:
		fh.Name += "/"
		fh.Method = zip.Store
		fh.SetMode(fs.ModeDir | e.Mode)
	case Symlink:
		fh.SetMode(fs.ModeSymlink | e.Mode.Perm())
		body = strings.NewReader(e.Link)
	case File:
		fh.SetMode(e.Mode)
		if e.Source != "" {
			f, err := os.Open(e.Source)
			if err != nil {
				return err
			}
			defer f.Close()
			body = f
		} else {
			body = bytes.NewReader(e.Content)
		}
	default:
		return fmt.Errorf("cannot archive %s entries", e.Kind)
	}

	w, err := zw.CreateHeader(fh)
	if err != nil {
		return err
	}
	if body != nil {
		_, err = io.Copy(w, body)
	}
	return err
}

// ExtractZip unpacks a zip file below destRoot with the same path checks
// as Extract.
func ExtractZip(archivePath, destRoot string, opts Options) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%s: %w", archivePath, corrupt(err))
	}
	defer zr.Close()

	x, err := newExtractor(destRoot, opts)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		if err := extractZipFile(x, f); err != nil {
			return fmt.Errorf("%s: %w", archivePath, err)
		}
	}
	return x.finish()
}

func extractZipFile(x *extractor, f *zip.File) error {
	mode := f.Mode()
	m := member{
		name:    f.Name,
		mode:    mode &^ fs.ModeType,
		modTime: f.Modified,
	}
	switch {
	case mode.IsDir():
		m.kind = Dir
		return x.put(m)
	case mode&fs.ModeSymlink != 0:
		m.kind = Symlink
		rc, err := f.Open()
		if err != nil {
			return corrupt(err)
		}
		target, err := io.ReadAll(integrityReader{rc})
		rc.Close()
		if err != nil {
			return err
		}
		m.link = string(target)
		return x.put(m)
	case mode.IsRegular():
		m.kind = File
		rc, err := f.Open()
		if err != nil {
			return corrupt(err)
		}
		defer rc.Close()
		m.body = rc
		return x.put(m)
	}
	x.opts.debugf("skipping unsupported zip entry %s (%v)", f.Name, mode)
	return nil
}
