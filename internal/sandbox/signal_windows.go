//go:build windows

package sandbox

import "os"

// terminationSignal is not meaningful on Windows.
func terminationSignal(_ *os.ProcessState) string {
	return ""
}
