package archive

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	dsbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

var magics = []struct {
	c     Compression
	magic []byte
}{
	{Gzip, []byte{0x1f, 0x8b}},
	{Bzip2, []byte("BZh")},
	{Xz, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{Zstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
}

// detect peeks at the first bytes of r. Anything without a known magic is
// treated as an uncompressed tar stream.
func detect(r *bufio.Reader) Compression {
	head, _ := r.Peek(262)
	if len(head) == 262 && string(head[257:262]) == "ustar" {
		return None
	}
	for _, m := range magics {
		if bytes.HasPrefix(head, m.magic) {
			return m.c
		}
	}
	return None
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressor wraps w with the filter for c. Closing the result flushes the
// filter but leaves w open.
func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return pgzip.NewWriter(w), nil
	case Bzip2:
		return dsbzip2.NewWriter(w, &dsbzip2.WriterConfig{Level: dsbzip2.BestCompression})
	case Xz:
		return xz.NewWriter(w)
	case Zstd:
		return zstd.NewWriter(w)
	}
	return nil, fmt.Errorf("unknown compression %v", c)
}

// decompressor returns a reader for the decoded stream and a function that
// releases decoder resources.
func decompressor(r io.Reader) (io.Reader, Compression, func(), error) {
	br := bufio.NewReader(r)
	c := detect(br)
	nop := func() {}
	switch c {
	case Gzip:
		gz, err := pgzip.NewReader(br)
		if err != nil {
			return nil, c, nop, corrupt(err)
		}
		return gz, c, func() { gz.Close() }, nil
	case Bzip2:
		return bzip2.NewReader(br), c, nop, nil
	case Xz:
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, c, nop, corrupt(err)
		}
		return xr, c, nop, nil
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, c, nop, corrupt(err)
		}
		return zr, c, zr.Close, nil
	}
	return br, None, nop, nil
}

func corrupt(err error) error {
	if err == nil || errors.Is(err, ErrIntegrity) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}

// integrityReader reports every read failure of the archive stream as
// ErrCorrupt, keeping write-side errors distinguishable.
type integrityReader struct {
	r io.Reader
}

func (ir integrityReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if err != nil && err != io.EOF {
		err = corrupt(err)
	}
	return n, err
}
