// Package shellquote splits command lines into arguments and quotes arguments
// back into command-line form, following either POSIX shell or Windows
// (CommandLineToArgvW) rules.
package shellquote

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Platform selects the quoting rules.
type Platform int

const (
	POSIX Platform = iota
	Windows
)

// ErrUnterminated is returned when a POSIX line ends inside a quote or after
// a lone backslash.
var ErrUnterminated = errors.New("unterminated quote or escape")

func (p Platform) String() string {
	if p == Windows {
		return "windows"
	}
	return "posix"
}

// Host returns the platform the process is running on.
func Host() Platform {
	if runtime.GOOS == "windows" {
		return Windows
	}
	return POSIX
}

// Split breaks line into arguments using the rules of platform.
func Split(line string, platform Platform) ([]string, error) {
	if platform == Windows {
		return splitWindows(line), nil
	}
	return splitPOSIX(line)
}

// Quote returns arg in a form that Split turns back into exactly arg.
func Quote(arg string, platform Platform) string {
	if platform == Windows {
		return quoteWindows(arg)
	}
	return quotePOSIX(arg)
}

// Join quotes every argument and joins them with single spaces.
func Join(args []string, platform Platform) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a, platform)
	}
	return strings.Join(quoted, " ")
}

// EscapeSpaces protects embedded spaces: POSIX prefixes each space with a
// backslash unless an odd run of backslashes already escapes it, Windows
// wraps the whole string in double quotes.
func EscapeSpaces(s string, platform Platform) string {
	if !strings.Contains(s, " ") {
		return s
	}
	if platform == Windows {
		if strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) > 1 {
			return s
		}
		return `"` + s + `"`
	}
	var b strings.Builder
	slashes := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' && slashes%2 == 0 {
			b.WriteByte('\\')
		}
		if s[i] == '\\' {
			slashes++
		} else {
			slashes = 0
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// EscapeQuotes prefixes every double quote with a backslash.
func EscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func isPOSIXSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func splitPOSIX(line string) ([]string, error) {
	var (
		args    []string
		buf     strings.Builder
		inToken bool
	)
	flush := func() {
		if inToken {
			args = append(args, buf.String())
			buf.Reset()
			inToken = false
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case isPOSIXSpace(c):
			flush()

		case c == '\\':
			if i+1 >= len(line) {
				return nil, fmt.Errorf("%w: trailing backslash", ErrUnterminated)
			}
			i++
			if line[i] == '\n' {
				// line continuation
				continue
			}
			buf.WriteByte(line[i])
			inToken = true

		case c == '\'':
			end := strings.IndexByte(line[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("%w: single quote at offset %d", ErrUnterminated, i)
			}
			buf.WriteString(line[i+1 : i+1+end])
			i += end + 1
			inToken = true

		case c == '"':
			start := i
			closed := false
			for i++; i < len(line); i++ {
				d := line[i]
				if d == '"' {
					closed = true
					break
				}
				if d == '\\' && i+1 < len(line) {
					switch line[i+1] {
					case '"', '\\', '$', '`':
						buf.WriteByte(line[i+1])
						i++
						continue
					case '\n':
						i++
						continue
					}
				}
				buf.WriteByte(d)
			}
			if !closed {
				return nil, fmt.Errorf("%w: double quote at offset %d", ErrUnterminated, start)
			}
			inToken = true

		default:
			buf.WriteByte(c)
			inToken = true
		}
	}
	flush()
	return args, nil
}

// posixSafe reports whether every byte of s survives the shell unquoted.
func posixSafe(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("-_./=:,+@%", c) >= 0:
		default:
			return false
		}
	}
	return true
}

func quotePOSIX(arg string) string {
	if arg == "" {
		return "''"
	}
	if posixSafe(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

func splitWindows(line string) []string {
	var args []string
	i := 0
	for {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= len(line) {
			return args
		}

		var buf strings.Builder
		inQuote := false
		for i < len(line) {
			c := line[i]
			if (c == ' ' || c == '\t') && !inQuote {
				break
			}
			switch c {
			case '\\':
				n := 0
				for i < len(line) && line[i] == '\\' {
					n++
					i++
				}
				if i < len(line) && line[i] == '"' {
					buf.WriteString(strings.Repeat(`\`, n/2))
					if n%2 == 1 {
						buf.WriteByte('"')
						i++
					}
					// even count: the quote toggles on the next iteration
				} else {
					buf.WriteString(strings.Repeat(`\`, n))
				}
			case '"':
				inQuote = !inQuote
				i++
			default:
				buf.WriteByte(c)
				i++
			}
		}
		args = append(args, buf.String())
	}
}

func quoteWindows(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\n\v\"") {
		return arg
	}

	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(arg); {
		n := 0
		for i < len(arg) && arg[i] == '\\' {
			n++
			i++
		}
		switch {
		case i == len(arg):
			// double them so the closing quote stays a delimiter
			b.WriteString(strings.Repeat(`\`, 2*n))
		case arg[i] == '"':
			b.WriteString(strings.Repeat(`\`, 2*n+1))
			b.WriteByte('"')
			i++
		default:
			b.WriteString(strings.Repeat(`\`, n))
			b.WriteByte(arg[i])
			i++
		}
	}
	b.WriteByte('"')
	return b.String()
}
