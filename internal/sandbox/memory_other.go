//go:build !linux

package sandbox

import "errors"

var errMemoryUnsupported = errors.New("resident memory sampling not supported on this platform")

// residentMemory is best-effort; on platforms without /proc the monitor
// simply records nothing.
func residentMemory(_ int) (int64, error) {
	return 0, errMemoryUnsupported
}
