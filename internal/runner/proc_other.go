//go:build !unix

package runner

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// No process groups or SIGTERM here; both requests kill the child.
func signalGroup(p *os.Process, sig Signal) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func exitState(ps *os.ProcessState) ExitState {
	return ExitState{Code: ps.ExitCode()}
}

func isExecutable(info fs.FileInfo) bool {
	return info.Mode().IsRegular()
}
