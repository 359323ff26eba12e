//go:build !windows

package cache

import (
	"os"

	"golang.org/x/sys/unix"
)

// acquireLock opens the lock file and takes an exclusive flock, blocking
// until any concurrent install of the same (slug, version) releases it.
// If the file was unlinked while we blocked (the entry was evicted), the
// lock covers an orphaned inode that excludes nobody, so re-open and try
// again against whatever now lives at the path.
func acquireLock(path string) (*os.File, error) {
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, err
		}
		if err := flock(f, unix.LOCK_EX); err != nil {
			f.Close()
			return nil, err
		}
		held, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		current, err := os.Stat(path)
		if err == nil && os.SameFile(held, current) {
			return f, nil
		}
		f.Close()
	}
}

func releaseLock(f *os.File) error {
	defer f.Close()
	return flock(f, unix.LOCK_UN)
}

// flock retries on EINTR.
func flock(f *os.File, flags int) error {
	fd := int(f.Fd())
	for {
		err := unix.Flock(fd, flags)
		if err == nil || err != unix.EINTR {
			return err
		}
	}
}
