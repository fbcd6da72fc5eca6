// Package digest computes 128-bit BLAKE3 content digests used for change
// detection.
package digest

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"lukechampine.com/blake3"
)

// Size is the digest length in bytes.
const Size = 16

// Digest is a 128-bit content hash.
type Digest [Size]byte

// Hex returns the lowercase hexadecimal form of d.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// Equal reports whether d and other hash the same content.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d[:], other[:])
}

// Parse decodes a hex digest as produced by Hex.
func Parse(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse digest %q: %w", s, err)
	}
	if len(raw) != Size {
		return d, fmt.Errorf("parse digest %q: want %d bytes, got %d", s, Size, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

func sum(h *blake3.Hasher) Digest {
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// String hashes s.
func String(s string) Digest {
	h := blake3.New(Size, nil)
	h.Write([]byte(s))
	return sum(h)
}

// Bytes hashes b.
func Bytes(b []byte) Digest {
	h := blake3.New(Size, nil)
	h.Write(b)
	return sum(h)
}

// Reader hashes everything read from r.
func Reader(r io.Reader) (Digest, error) {
	return readerBuf(r, make([]byte, 64*1024))
}

func readerBuf(r io.Reader, buf []byte) (Digest, error) {
	h := blake3.New(Size, nil)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return Digest{}, err
	}
	return sum(h), nil
}

// File hashes the contents of the file at path.
func File(path string) (Digest, error) {
	return fileBuf(path, make([]byte, 64*1024))
}

func fileBuf(path string, buf []byte) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()
	d, err := readerBuf(f, buf)
	if err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}

// Files hashes paths with up to workers goroutines (0 picks twice the CPU
// count). Digests for files that hashed successfully are returned alongside
// the first error encountered.
func Files(paths []string, workers int) (map[string]Digest, error) {
	results := make(map[string]Digest, len(paths))
	if len(paths) == 0 {
		return results, nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	jobs := make(chan string, len(paths))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 64*1024)
			for path := range jobs {
				d, err := fileBuf(path, buf)
				mu.Lock()
				if err != nil {
					errOnce.Do(func() { firstErr = err })
				} else {
					results[path] = d
				}
				mu.Unlock()
			}
		}()
	}
	for _, p := range paths {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	return results, firstErr
}
