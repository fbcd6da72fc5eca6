// Package elfedit reads and rewrites the run path (DT_RPATH / DT_RUNPATH)
// embedded in ELF binaries. Edits are done in place inside the existing
// dynamic string table and never grow it.
package elfedit

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"strings"

	"buildnative/internal/fsops"
)

var (
	// ErrRejected is the parent of every refused edit. The file is left
	// untouched.
	ErrRejected = errors.New("rpath edit rejected")

	ErrNoRoom       = fmt.Errorf("%w: new rpath does not fit", ErrRejected)
	ErrOldMismatch  = fmt.Errorf("%w: current rpath does not contain the old value", ErrRejected)
	ErrNoRPath      = fmt.Errorf("%w: no RPATH or RUNPATH entry", ErrRejected)
	ErrInconsistent = fmt.Errorf("%w: RPATH and RUNPATH differ", ErrRejected)
	ErrBadValue     = fmt.Errorf("%w: value contains a NUL byte", ErrRejected)

	// ErrNoSOName is returned by SOName for objects without DT_SONAME.
	ErrNoSOName = errors.New("no DT_SONAME entry")
)

// CheckResult classifies a run path against an expected value.
type CheckResult int

const (
	Found CheckResult = iota
	Missing
	Mismatch
	Malformed
)

func (r CheckResult) String() string {
	switch r {
	case Found:
		return "found"
	case Missing:
		return "missing"
	case Mismatch:
		return "mismatch"
	case Malformed:
		return "malformed"
	}
	return fmt.Sprintf("CheckResult(%d)", int(r))
}

// Outcome is the terminal state of Change or Remove.
type Outcome int

const (
	Unchanged Outcome = iota
	Patched
	Removed
	NotPresent // Remove found nothing to remove
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Patched:
		return "patched"
	case Removed:
		return "removed"
	case NotPresent:
		return "missing"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Entry describes one run path entry of a binary.
type Entry struct {
	Tag      string // "RPATH" or "RUNPATH"
	Value    string
	Capacity int // bytes available for a replacement, terminator excluded
}

type rpathSlot struct {
	tag elf.DynTag
	str
}

func (im *image) rpaths() ([]rpathSlot, error) {
	var slots []rpathSlot
	for _, e := range im.dyn {
		if e.tag != elf.DT_RPATH && e.tag != elf.DT_RUNPATH {
			continue
		}
		s, err := im.stringAt(e.val)
		if err != nil {
			return nil, err
		}
		slots = append(slots, rpathSlot{tag: e.tag, str: s})
	}
	return slots, nil
}

func tagName(t elf.DynTag) string {
	if t == elf.DT_RUNPATH {
		return "RUNPATH"
	}
	return "RPATH"
}

func load(path string) (*image, os.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	im, err := parse(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return im, info.Mode() &^ os.ModeType, nil
}

// findAligned returns the index of sub in list where it starts and ends
// on ':' boundaries, or -1.
func findAligned(list, sub string) int {
	for from := 0; from <= len(list)-len(sub); {
		i := strings.Index(list[from:], sub)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(sub)
		if (i == 0 || list[i-1] == ':') && (end == len(list) || list[end] == ':') {
			return i
		}
		from = i + 1
	}
	return -1
}

// Entries returns every RPATH and RUNPATH entry of the binary.
func Entries(path string) ([]Entry, error) {
	im, _, err := load(path)
	if err != nil {
		return nil, err
	}
	slots, err := im.rpaths()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make([]Entry, len(slots))
	for i, s := range slots {
		out[i] = Entry{Tag: tagName(s.tag), Value: s.value, Capacity: len(s.value)}
	}
	return out, nil
}

// RPath returns the run path the loader would use: RUNPATH when present,
// otherwise RPATH, otherwise "".
func RPath(path string) (string, error) {
	entries, err := Entries(path)
	if err != nil {
		return "", err
	}
	value := ""
	for _, e := range entries {
		if e.Tag == "RUNPATH" {
			return e.Value, nil
		}
		value = e.Value
	}
	return value, nil
}

// SOName returns the DT_SONAME of a shared object.
func SOName(path string) (string, error) {
	im, _, err := load(path)
	if err != nil {
		return "", err
	}
	idx, ok := im.lookup(elf.DT_SONAME)
	if !ok {
		return "", fmt.Errorf("%s: %w", path, ErrNoSOName)
	}
	s, err := im.stringAt(idx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return s.value, nil
}

// Check reports whether expected is part of the binary's run path. It
// matches when it equals a ':'-aligned run of elements, order included.
// An empty expected value is Found only when the binary has no non-empty
// run path. When both RPATH and RUNPATH are present every entry must
// match. Check never writes.
func Check(path, expected string) (CheckResult, error) {
	im, _, err := load(path)
	if err != nil {
		return Malformed, err
	}
	slots, err := im.rpaths()
	if err != nil {
		return Malformed, fmt.Errorf("%s: %w", path, err)
	}

	var present []rpathSlot
	for _, s := range slots {
		if s.value != "" {
			present = append(present, s)
		}
	}
	if len(present) == 0 {
		if expected == "" {
			return Found, nil
		}
		return Missing, nil
	}
	if expected == "" {
		return Mismatch, nil
	}
	for _, s := range present {
		if findAligned(s.value, expected) < 0 {
			return Mismatch, nil
		}
	}
	return Found, nil
}

// Change replaces oldPath with newPath inside the run path. A non-empty
// oldPath must appear ':'-aligned in the current value and only that part
// is replaced; an empty oldPath replaces the whole value. The result must
// fit in the bytes the current string occupies; the rest is NUL filled.
// A binary whose run path already contains newPath instead of oldPath is
// reported Unchanged.
func Change(path, oldPath, newPath string) (Outcome, error) {
	if strings.IndexByte(newPath, 0) >= 0 {
		return Rejected, ErrBadValue
	}
	im, mode, err := load(path)
	if err != nil {
		return Rejected, err
	}
	slots, err := im.rpaths()
	if err != nil {
		return Rejected, fmt.Errorf("%s: %w", path, err)
	}
	if len(slots) == 0 {
		return Rejected, fmt.Errorf("%s: %w", path, ErrNoRPath)
	}
	current := slots[0].value
	for _, s := range slots[1:] {
		if s.value != current {
			return Rejected, fmt.Errorf("%s: %w: %q vs %q", path, ErrInconsistent, current, s.value)
		}
	}

	result := newPath
	if oldPath != "" {
		pos := findAligned(current, oldPath)
		if pos < 0 {
			if newPath != "" && findAligned(current, newPath) >= 0 {
				return Unchanged, nil
			}
			return Rejected, fmt.Errorf("%s: %w: current %q, expected %q", path, ErrOldMismatch, current, oldPath)
		}
		result = current[:pos] + newPath + current[pos+len(oldPath):]
	}
	if result == current {
		return Unchanged, nil
	}
	if len(result) > len(current) {
		return Rejected, fmt.Errorf("%s: %w: %q needs %d bytes, slot has %d",
			path, ErrNoRoom, result, len(result), len(current))
	}

	im.overwrite(slots, result)
	if err := fsops.WriteFileAtomic(path, im.data, mode); err != nil {
		return Rejected, err
	}
	return Patched, nil
}

// Remove blanks the run path. The dynamic entries stay and reference an
// empty string; every byte of the old value is zeroed.
func Remove(path string) (Outcome, error) {
	im, mode, err := load(path)
	if err != nil {
		return Rejected, err
	}
	slots, err := im.rpaths()
	if err != nil {
		return Rejected, fmt.Errorf("%s: %w", path, err)
	}
	empty := true
	for _, s := range slots {
		if s.value != "" {
			empty = false
		}
	}
	if empty {
		return NotPresent, nil
	}

	im.overwrite(slots, "")
	if err := fsops.WriteFileAtomic(path, im.data, mode); err != nil {
		return Rejected, err
	}
	return Removed, nil
}

// overwrite writes value into every slot and NUL pads the remainder.
// Slots sharing one string are written once.
func (im *image) overwrite(slots []rpathSlot, value string) {
	done := make(map[uint64]bool, len(slots))
	for _, s := range slots {
		if done[s.off] {
			continue
		}
		done[s.off] = true
		buf := im.data[s.off : s.off+uint64(len(s.value))]
		n := copy(buf, value)
		clear(buf[n:])
	}
}
