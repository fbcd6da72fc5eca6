// Package pathutil does lexical path work for generated build files: slash
// conversion, cleanup without touching the filesystem, and relative routes
// between two absolute paths. Paths are handled in forward-slash form so
// Windows-style input can be processed on any host.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrNotAbsolute is returned when a relative path is given where an
	// absolute one is required.
	ErrNotAbsolute = errors.New("path is not absolute")
	// ErrNotComparable is returned for paths on different volumes.
	ErrNotComparable = errors.New("paths have no common root")
)

// OutputOptions controls ToOutput.
type OutputOptions struct {
	// Windows emits backslash separators.
	Windows bool
	// ForceUnixPaths keeps forward slashes even when Windows is set.
	ForceUnixPaths bool
}

// ToSlash converts every backslash to a forward slash.
func ToSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// ToBackslash converts every forward slash to a backslash.
func ToBackslash(p string) string {
	return strings.ReplaceAll(p, "/", `\`)
}

// ToOutput converts p to the separator style a generated file expects.
func ToOutput(p string, opts OutputOptions) string {
	if opts.Windows && !opts.ForceUnixPaths {
		return ToBackslash(p)
	}
	return ToSlash(p)
}

// volume splits a slash-form path into its volume ("C:" or "//host/share")
// and the remainder.
func volume(p string) (string, string) {
	if len(p) >= 2 && p[1] == ':' && isLetter(p[0]) {
		return p[:2], p[2:]
	}
	if strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "///") {
		rest := p[2:]
		host, after, ok := strings.Cut(rest, "/")
		if !ok {
			return p, ""
		}
		share, tail, _ := strings.Cut(after, "/")
		return "//" + host + "/" + share, "/" + tail
	}
	return "", p
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsAbs reports whether p is absolute in either POSIX or Windows form.
func IsAbs(p string) bool {
	p = ToSlash(p)
	vol, rest := volume(p)
	if strings.HasPrefix(vol, "//") {
		return true
	}
	return strings.HasPrefix(rest, "/")
}

// Collapse cleans p lexically: redundant separators, "." and ".." are
// removed and the result uses forward slashes. Volumes are kept as given,
// except that drive letters are upper-cased.
func Collapse(p string) string {
	if p == "" {
		return "."
	}
	vol, rest := volume(ToSlash(p))
	if len(vol) == 2 {
		vol = strings.ToUpper(vol[:1]) + ":"
	}
	if rest == "" {
		if vol != "" && !strings.HasPrefix(vol, "//") {
			return vol + "."
		}
		return vol
	}
	return vol + path.Clean(rest)
}

// Relative returns the shortest route from the directory from to the file
// or directory to. Both must be absolute. Equal paths yield ".".
func Relative(from, to string) (string, error) {
	if !IsAbs(from) {
		return "", fmt.Errorf("%w: %s", ErrNotAbsolute, from)
	}
	if !IsAbs(to) {
		return "", fmt.Errorf("%w: %s", ErrNotAbsolute, to)
	}
	fromVol, fromRest := volume(Collapse(from))
	toVol, toRest := volume(Collapse(to))
	if !strings.EqualFold(fromVol, toVol) {
		return "", fmt.Errorf("%w: %s and %s", ErrNotComparable, from, to)
	}

	fromParts := components(fromRest)
	toParts := components(toRest)
	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}

	var out []string
	for range fromParts[common:] {
		out = append(out, "..")
	}
	out = append(out, toParts[common:]...)
	if len(out) == 0 {
		return ".", nil
	}
	return strings.Join(out, "/"), nil
}

func components(rest string) []string {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// SplitList splits a colon-separated search path. Empty elements are kept
// because the loader treats them as the current directory.
func SplitList(list string) []string {
	if list == "" {
		return nil
	}
	return strings.Split(list, ":")
}

// JoinList is the inverse of SplitList.
func JoinList(elems []string) string {
	return strings.Join(elems, ":")
}

// FindInParents looks for name in dir and each of its parents, stopping
// after top. It returns the full path of the first match or "".
func FindInParents(name, dir, top string) string {
	dir = filepath.Clean(dir)
	top = filepath.Clean(top)
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		if dir == top {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
