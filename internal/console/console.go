// Package console prints the "-> message" status lines used across the
// tool. A Printer is created once in main and passed down; nothing here is
// package-level state.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// color helpers
var (
	styleArrow   = color.HEX("#FFEB3B")
	styleSuccess = color.HEX("#1976D2")
	styleWarn    = color.Warn
	styleError   = color.Error
	styleNote    = color.Tag("notice")
)

// Printer writes coloured status lines. The zero value is not usable; use
// New.
type Printer struct {
	out   io.Writer
	err   io.Writer
	mu    sync.Mutex
	color bool

	Debug bool // Debugf output enabled
	Quiet bool // suppress Info/Success/Note

	errorOccurred atomic.Bool
}

// New returns a Printer writing to out and errOut. Colour is enabled only
// when out is a terminal.
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut, color: isTerminal(out)}
}

// Stdio returns a Printer on the process's stdout and stderr.
func Stdio() *Printer {
	return New(os.Stdout, os.Stderr)
}

// Discard returns a Printer that drops everything. Useful in tests.
func Discard() *Printer {
	return New(io.Discard, io.Discard)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// IsTerminal reports whether w is attached to a terminal.
func IsTerminal(w io.Writer) bool {
	return isTerminal(w)
}

func (p *Printer) paint(style interface{ Sprint(a ...any) string }, s string) string {
	if !p.color {
		return s
	}
	return style.Sprint(s)
}

func (p *Printer) line(w io.Writer, style interface{ Sprint(a ...any) string }, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(w, p.paint(styleArrow, "-> "))
	fmt.Fprintln(w, p.paint(style, msg))
}

// Success prints a highlighted progress message.
func (p *Printer) Success(format string, a ...any) {
	if p.Quiet {
		return
	}
	p.line(p.out, styleSuccess, format, a...)
}

// Note prints a neutral informational message.
func (p *Printer) Note(format string, a ...any) {
	if p.Quiet {
		return
	}
	p.line(p.out, styleNote, format, a...)
}

// Warn prints a warning to the error stream.
func (p *Printer) Warn(format string, a ...any) {
	p.line(p.err, styleWarn, format, a...)
}

// Error prints an error to the error stream and marks the printer as having
// seen an error.
func (p *Printer) Error(format string, a ...any) {
	p.errorOccurred.Store(true)
	p.line(p.err, styleError, format, a...)
}

// Debugf prints only when Debug is set.
func (p *Printer) Debugf(format string, a ...any) {
	if !p.Debug {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.err, format, a...)
	if n := len(format); n == 0 || format[n-1] != '\n' {
		fmt.Fprintln(p.err)
	}
}

// Raw writes text unchanged to the output stream. Used to relay child
// process output.
func (p *Printer) Raw(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, s)
}

// Out returns the output stream.
func (p *Printer) Out() io.Writer {
	return p.out
}

// ErrOut returns the error stream.
func (p *Printer) ErrOut() io.Writer {
	return p.err
}

// ErrorOccurred reports whether Error was called on this printer.
func (p *Printer) ErrorOccurred() bool {
	return p.errorOccurred.Load()
}

// ResetError clears the error flag.
func (p *Printer) ResetError() {
	p.errorOccurred.Store(false)
}
