//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs is a no-op on Windows (no Setsid equivalent).
func setDaemonAttrs(_ *exec.Cmd) {}

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// Windows has no graceful termination signal for another process, so both
// stop paths end in os.Kill.
func sigTERM() syscall.Signal { return syscall.SIGKILL }

func sigKILL() syscall.Signal { return syscall.SIGKILL }
