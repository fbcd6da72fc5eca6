package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Signal is a stop request sent to a running child.
type Signal int

const (
	Terminate Signal = iota
	Kill
)

// Spec is what a Spawner needs to start a process.
type Spec struct {
	Path  string   // resolved executable
	Args  []string // argv, Args[0] as the caller wrote it
	Dir   string
	Env   []string
	Stdin io.Reader
}

// ExitState is how a child ended. Signal is empty for a normal exit.
type ExitState struct {
	Code   int
	Signal string
}

// Process is a started child.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the child exits. It must not wait for the output
	// streams to be drained.
	Wait() (ExitState, error)
	// Signal delivers sig to the child and everything in its process group.
	Signal(sig Signal) error
	// Close releases the read ends of both output streams. Pending reads
	// return an error.
	Close() error
}

// Spawner resolves and starts processes.
type Spawner interface {
	LookPath(name, dir string) (string, error)
	Start(spec Spec) (Process, error)
}

// OSSpawner starts real processes.
type OSSpawner struct{}

// LookPath resolves name the way the child will see it: names containing a
// separator are taken relative to dir, others are searched in PATH.
func (OSSpawner) LookPath(name, dir string) (string, error) {
	if !strings.ContainsAny(name, `/`+string(os.PathSeparator)) {
		return exec.LookPath(name)
	}
	p := name
	if !filepath.IsAbs(p) && dir != "" {
		p = filepath.Join(dir, p)
	}
	p, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if !isExecutable(info) {
		return "", fmt.Errorf("%s: not an executable file", p)
	}
	return p, nil
}

// Start launches the child with both output streams on fresh pipes.
func (OSSpawner) Start(spec Spec) (Process, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, err
	}

	cmd := exec.Command(spec.Path)
	cmd.Args = spec.Args
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = spec.Stdin
	cmd.Stdout = outW
	cmd.Stderr = errW
	setProcessGroup(cmd)

	err = cmd.Start()
	// the child holds its own copies of the write ends
	outW.Close()
	errW.Close()
	if err != nil {
		outR.Close()
		errR.Close()
		return nil, err
	}
	return &osProcess{cmd: cmd, stdout: outR, stderr: errR}, nil
}

type osProcess struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File
}

func (p *osProcess) Stdout() io.Reader { return p.stdout }
func (p *osProcess) Stderr() io.Reader { return p.stderr }

func (p *osProcess) Wait() (ExitState, error) {
	err := p.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return ExitState{}, err
		}
	}
	return exitState(p.cmd.ProcessState), nil
}

func (p *osProcess) Signal(sig Signal) error {
	return signalGroup(p.cmd.Process, sig)
}

func (p *osProcess) Close() error {
	var errs []error
	for _, f := range []*os.File{p.stdout, p.stderr} {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
