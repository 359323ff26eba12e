//go:build !windows

package sandbox

import (
	"os"
	"syscall"
)

// terminationSignal returns the name of the signal that killed the
// process, or "" if it exited normally.
func terminationSignal(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return ws.Signal().String()
}
