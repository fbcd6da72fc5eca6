package console

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrinterPlainWhenNotTerminal(t *testing.T) {
	var out, errOut bytes.Buffer
	p := New(&out, &errOut)

	p.Success("built %s", "libfoo.so")
	p.Warn("careful")
	if got := out.String(); got != "-> built libfoo.so\n" {
		t.Fatalf("out = %q", got)
	}
	if got := errOut.String(); got != "-> careful\n" {
		t.Fatalf("err = %q", got)
	}
}

func TestPrinterQuietAndDebug(t *testing.T) {
	var out, errOut bytes.Buffer
	p := New(&out, &errOut)
	p.Quiet = true
	p.Success("hidden")
	p.Note("hidden")
	p.Debugf("hidden %d", 1)
	if out.Len() != 0 || errOut.Len() != 0 {
		t.Fatalf("quiet printer wrote: %q %q", out.String(), errOut.String())
	}

	p.Debug = true
	p.Debugf("poll %d", 2)
	if !strings.Contains(errOut.String(), "poll 2\n") {
		t.Fatalf("debug output = %q", errOut.String())
	}
}

func TestPrinterErrorFlag(t *testing.T) {
	p := Discard()
	if p.ErrorOccurred() {
		t.Fatal("fresh printer has error flag set")
	}
	p.Error("bad %s", "thing")
	if !p.ErrorOccurred() {
		t.Fatal("error flag not set")
	}
	p.ResetError()
	if p.ErrorOccurred() {
		t.Fatal("error flag not reset")
	}

	other := Discard()
	if other.ErrorOccurred() {
		t.Fatal("error flag leaked between printers")
	}
}
