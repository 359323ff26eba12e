//go:build windows

package cache

import (
	"fmt"
	"os"
	"time"
)

const (
	lockRetryInterval = 100 * time.Millisecond
	lockWaitCeiling   = 2 * time.Minute
)

// acquireLock emulates an exclusive lock with O_EXCL creation, since
// flock is unavailable. Waits for a holder to release, up to a ceiling.
func acquireLock(path string) (*os.File, error) {
	deadline := time.Now().Add(lockWaitCeiling)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("waiting for lock %s: timed out", path)
		}
		time.Sleep(lockRetryInterval)
	}
}

func releaseLock(f *os.File) error {
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
