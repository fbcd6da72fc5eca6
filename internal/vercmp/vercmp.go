// Package vercmp compares dotted numeric version strings.
package vercmp

import "fmt"

// Op is a comparison operator.
type Op int

const (
	Less Op = iota
	Greater
	Equal
)

var opNames = map[string]Op{
	"less":    Less,
	"greater": Greater,
	"equal":   Equal,
}

func (o Op) String() string {
	for name, op := range opNames {
		if op == o {
			return name
		}
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp maps "less", "greater" or "equal" to an Op.
func ParseOp(s string) (Op, error) {
	op, ok := opNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown comparison %q", s)
	}
	return op, nil
}

// Compare returns -1, 0 or 1 as a is older than, equal to or newer than b.
// Components are compared numerically; a missing component counts as 0, so
// "1.2" equals "1.2.0". Comparison stops at the first character that is
// neither a digit nor a separating dot.
func Compare(a, b string) int {
	i, j := 0, 0
	for isDigit(a, i) || isDigit(b, j) {
		var x, y uint64
		x, i = number(a, i)
		y, j = number(b, j)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		if i < len(a) && a[i] == '.' {
			i++
		}
		if j < len(b) && b[j] == '.' {
			j++
		}
	}
	return 0
}

// Check reports whether a op b holds.
func Check(op Op, a, b string) bool {
	c := Compare(a, b)
	switch op {
	case Less:
		return c < 0
	case Greater:
		return c > 0
	case Equal:
		return c == 0
	}
	return false
}

func isDigit(s string, i int) bool {
	return i < len(s) && s[i] >= '0' && s[i] <= '9'
}

// number parses the digits at s[i:] and returns the value and the index
// after them. Overflow saturates.
func number(s string, i int) (uint64, int) {
	var n uint64
	for isDigit(s, i) {
		d := uint64(s[i] - '0')
		if n > (^uint64(0)-d)/10 {
			n = ^uint64(0)
		} else {
			n = n*10 + d
		}
		i++
	}
	return n, i
}
