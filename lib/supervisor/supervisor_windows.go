// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// configureCommand starts the core without a console window.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}

// terminate has no polite form for a windowless process on Windows.
func terminate(process *os.Process) error {
	return process.Kill()
}

func forceKill(process *os.Process) {
	_ = process.Kill()
}
