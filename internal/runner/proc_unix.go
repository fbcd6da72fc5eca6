//go:build unix

package runner

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(p *os.Process, sig Signal) error {
	s := unix.SIGTERM
	if sig == Kill {
		s = unix.SIGKILL
	}
	err := unix.Kill(-p.Pid, s)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func exitState(ps *os.ProcessState) ExitState {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitState{Code: ExitKilled, Signal: unix.SignalName(ws.Signal())}
	}
	return ExitState{Code: ps.ExitCode()}
}

func isExecutable(info fs.FileInfo) bool {
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
