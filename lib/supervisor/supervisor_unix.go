// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureCommand puts the core in its own process group so the
// termination signal also reaches anything it spawned.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(process *os.Process) error {
	return signalGroup(process.Pid, unix.SIGTERM)
}

func forceKill(process *os.Process) {
	_ = signalGroup(process.Pid, unix.SIGKILL)
}

// signalGroup signals the process group led by pid. ESRCH means the
// group is already gone.
func signalGroup(pid int, signal unix.Signal) error {
	err := unix.Kill(-pid, signal)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
