//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// detachedProcess is DETACHED_PROCESS from the Win32 process creation flags.
const detachedProcess = 0x00000008

// setDaemonAttrs detaches the background server from the launching console.
func setDaemonAttrs(cmd *exec.Cmd) {
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | detachedProcess,
	}
}

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// os.Process.Signal on Windows only supports Kill, so stop terminates directly.
func sigTERM() syscall.Signal { return syscall.SIGKILL }

func sigKILL() syscall.Signal { return syscall.SIGKILL }
