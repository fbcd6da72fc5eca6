//go:build unix

package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSRunExitCodeAndStreams(t *testing.T) {
	res, err := New().Run(Command{Args: []string{"sh", "-c", "echo out; echo err 1>&2; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, Exited, res.Status)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Output())
	assert.Equal(t, "err\n", string(res.Stderr))
}

func TestOSRunTimeoutBound(t *testing.T) {
	start := time.Now()
	res, err := New().Run(Command{Args: []string{"sleep", "10"}, Timeout: time.Second})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, TimedOut, res.Status)
	assert.Equal(t, ExitKilled, res.ExitCode)
}

func TestOSRunTimeoutReachesGrandchildren(t *testing.T) {
	// the background sleep keeps stdout open; only a group kill ends the run
	start := time.Now()
	res, err := New().Run(Command{
		Args:    []string{"sh", "-c", "sleep 10 & sleep 10"},
		Timeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, TimedOut, res.Status)
}

func TestOSRunTimeoutWithDetachedGrandchild(t *testing.T) {
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not installed")
	}
	// the setsid child escapes the group kill and keeps stdout open
	start := time.Now()
	res, err := New().Run(Command{
		Args:    []string{"sh", "-c", "setsid sleep 6 & sleep 10"},
		Timeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, TimedOut, res.Status)
}

func TestOSRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	res, err := New().Run(Command{Args: []string{"sleep", "10"}, Cancel: ContextCanceller{Ctx: ctx}})
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res.Status)
}

func TestOSRunSignaled(t *testing.T) {
	res, err := New().Run(Command{Args: []string{"sh", "-c", "kill -KILL $$"}})
	require.NoError(t, err)
	assert.Equal(t, Signaled, res.Status)
	assert.Equal(t, "SIGKILL", res.Signal)
	assert.Equal(t, ExitKilled, res.ExitCode)
}

func TestOSRunNotFound(t *testing.T) {
	_, err := New().Run(Command{Args: []string{"buildnative-no-such-program"}})
	require.ErrorIs(t, err, ErrNotFound)

	dir := t.TempDir()
	plain := filepath.Join(dir, "script")
	require.NoError(t, os.WriteFile(plain, []byte("#!/bin/sh\n"), 0o644))
	_, err = New().Run(Command{Args: []string{plain}})
	assert.ErrorIs(t, err, ErrNotFound, "non-executable file")
}

func TestOSRunDirAndRelativeProgram(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "hello.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\npwd\n"), 0o755))

	res, err := New().Run(Command{Args: []string{"./hello.sh"}, Dir: dir})
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Output()))
	assert.Equal(t, want, got)
}

func TestOSRunStdinAndLines(t *testing.T) {
	var lines []string
	res, err := New().Run(Command{
		Args:   []string{"cat"},
		Stdin:  strings.NewReader("one\ntwo\nthree"),
		OnLine: func(_ Stream, l string) { lines = append(lines, l) },
	})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", res.Output())
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}
