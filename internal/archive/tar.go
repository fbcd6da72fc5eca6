package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"buildnative/internal/fsops"
)

// Create writes entries, in order, as a tar stream filtered through c.
// The archive appears at destPath only once it is complete. Ownership is
// always recorded as root.
func Create(entries []Entry, destPath string, c Compression, opts Options) error {
	var total int64
	for i := range entries {
		if entries[i].Kind != File {
			continue
		}
		if entries[i].Source != "" {
			info, err := os.Stat(entries[i].Source)
			if err != nil {
				return err
			}
			total += info.Size()
		} else {
			total += int64(len(entries[i].Content))
		}
	}
	bar := newBar(opts.Progress, total, "packing")
	defer finishBar(bar)

	return fsops.WriteAtomic(destPath, 0o644, func(w io.Writer) error {
		cw, err := compressor(w, c)
		if err != nil {
			return err
		}
		tw := tar.NewWriter(cw)
		for _, e := range entries {
			if err := writeTarEntry(tw, e, bar); err != nil {
				cw.Close()
				return fmt.Errorf("%s: %w", e.Path, err)
			}
		}
		if err := tw.Close(); err != nil {
			cw.Close()
			return err
		}
		return cw.Close()
	})
}

func writeTarEntry(tw *tar.Writer, e Entry, bar *progressbar.ProgressBar) error {
	name, _, err := cleanName(e.Path, 0)
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    tarMode(e.Mode),
		ModTime: e.ModTime,
		Uname:   "root",
		Gname:   "root",
		Format:  tar.FormatPAX,
	}

	var body io.Reader
	switch e.Kind {
	case Dir:
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
	case Symlink:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = e.Link
	case File:
		hdr.Typeflag = tar.TypeReg
		if e.Source != "" {
			f, err := os.Open(e.Source)
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			hdr.Size = info.Size()
			if hdr.ModTime.IsZero() {
				hdr.ModTime = info.ModTime()
			}
			body = f
		} else {
			hdr.Size = int64(len(e.Content))
			body = bytes.NewReader(e.Content)
		}
	default:
		return fmt.Errorf("cannot archive %s entries", e.Kind)
	}
	if hdr.ModTime.IsZero() {
		hdr.ModTime = time.Now()
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if body == nil {
		return nil
	}
	_, err = io.Copy(tw, track(body, bar))
	return err
}

// tarMode converts permission and special bits to their tar encoding.
func tarMode(m fs.FileMode) int64 {
	mode := int64(m.Perm())
	if m&fs.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		mode |= 0o1000
	}
	return mode
}

func kindOf(flag byte) (Kind, bool) {
	switch flag {
	case tar.TypeReg, '\x00':
		return File, true
	case tar.TypeDir:
		return Dir, true
	case tar.TypeSymlink:
		return Symlink, true
	case tar.TypeLink:
		return Hardlink, true
	}
	return File, false
}

// openTar opens archivePath and returns a tar reader over the decoded
// stream, whatever its compression.
func openTar(archivePath string, progress io.Writer) (*tar.Reader, func(), error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	bar := newBar(progress, info.Size(), "unpacking")
	r, _, release, err := decompressor(track(f, bar))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", archivePath, err)
	}
	done := func() {
		release()
		finishBar(bar)
		f.Close()
	}
	return tar.NewReader(integrityReader{r}), done, nil
}

// Extract unpacks the tar archive at archivePath below destRoot. The
// compression is recognised from the stream itself.
func Extract(archivePath, destRoot string, opts Options) error {
	tr, done, err := openTar(archivePath, opts.Progress)
	if err != nil {
		return err
	}
	defer done()

	x, err := newExtractor(destRoot, opts)
	if err != nil {
		return err
	}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", archivePath, corrupt(err))
		}
		kind, ok := kindOf(hdr.Typeflag)
		if !ok {
			opts.debugf("skipping unsupported tar entry type %c: %s", hdr.Typeflag, hdr.Name)
			continue
		}
		m := member{
			name:    hdr.Name,
			kind:    kind,
			mode:    hdr.FileInfo().Mode() &^ fs.ModeType,
			link:    hdr.Linkname,
			modTime: hdr.ModTime,
			body:    tr,
		}
		if err := x.put(m); err != nil {
			return fmt.Errorf("%s: %w", archivePath, err)
		}
	}
	return x.finish()
}

// List returns the entries of the tar archive at archivePath without
// extracting anything. Content is not loaded.
func List(archivePath string) ([]Entry, error) {
	tr, done, err := openTar(archivePath, nil)
	if err != nil {
		return nil, err
	}
	defer done()

	var entries []Entry
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", archivePath, corrupt(err))
		}
		kind, ok := kindOf(hdr.Typeflag)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Path:    hdr.Name,
			Kind:    kind,
			Mode:    hdr.FileInfo().Mode() &^ fs.ModeType,
			Link:    hdr.Linkname,
			ModTime: hdr.ModTime,
			Size:    hdr.Size,
		})
	}
}
