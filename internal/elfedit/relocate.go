package elfedit

import (
	"context"
	"debug/elf"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"buildnative/internal/fsops"
)

// Logger receives per-file debug messages.
type Logger interface {
	Debugf(format string, a ...any)
}

// RelocateOptions tunes RelocateTree.
type RelocateOptions struct {
	Jobs      int  // concurrent edits; 0 means GOMAXPROCS
	KeepTimes bool // restore each patched file's timestamps
	Logger    Logger
}

// FileResult is the outcome for one ELF file.
type FileResult struct {
	Path    string
	Outcome Outcome
	Err     error
}

// Skipped reports results for objects that simply carry no run path, such
// as static executables or relocatable objects.
func (r FileResult) Skipped() bool {
	return errors.Is(r.Err, ErrNoRPath) || errors.Is(r.Err, ErrNotDynamic)
}

// Report collects the results of RelocateTree in walk order.
type Report struct {
	Files []FileResult
}

// Count returns how many files ended in o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, f := range r.Files {
		if f.Outcome == o {
			n++
		}
	}
	return n
}

// Failed returns the results that are real errors.
func (r Report) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil && !f.Skipped() {
			out = append(out, f)
		}
	}
	return out
}

// RelocateTree applies Change(oldPath, newPath) to every ELF file below
// root. Non-ELF files and symlinks are ignored. Per-file failures are
// recorded in the report; the returned error is for walk failures and
// cancellation only.
func RelocateTree(ctx context.Context, root, oldPath, newPath string, opts RelocateOptions) (Report, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if isELF(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	report := Report{Files: make([]FileResult, len(files))}
	limit := make(chan struct{}, jobs)
	var wg sync.WaitGroup

	for i, path := range files {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		limit <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-limit }()

			res := FileResult{Path: path}
			edit := func() error {
				res.Outcome, res.Err = Change(path, oldPath, newPath)
				return res.Err
			}
			if opts.KeepTimes {
				err := fsops.WithTimesPreserved(path, edit)
				if res.Err == nil {
					res.Err = err
				}
			} else {
				edit()
			}
			if opts.Logger != nil {
				opts.Logger.Debugf("%s: %s", path, res.Outcome)
			}
			report.Files[i] = res
		}(i, path)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		done := report.Files[:0]
		for _, f := range report.Files {
			if f.Path != "" {
				done = append(done, f)
			}
		}
		report.Files = done
		return report, err
	}
	return report, nil
}

func isELF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	magic := make([]byte, len(elf.ELFMAG))
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return string(magic) == elf.ELFMAG
}
