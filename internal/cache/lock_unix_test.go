//go:build !windows

package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// The lock file stays with the entry so that every transaction for a
// (slug, version) pair contends on the same inode.
func TestAdd_LockFilePersists(t *testing.T) {
	m := testManager(t)
	addEntry(t, m, "fetch-server", "1.0.0", map[string]string{"index.js": "ok"})

	loc := m.Locate("fetch-server", "1.0.0")
	if _, err := os.Stat(loc.LockFile); err != nil {
		t.Fatalf("lock file should persist after Add: %v", err)
	}
	if !m.IsCached("fetch-server", "1.0.0") {
		t.Fatal("persisted lock file must not disturb checksum verification")
	}
}

// A waiter blocked on a lock file that gets unlinked underneath it (the
// entry was evicted) must not end up holding an orphaned inode while a
// newcomer locks a fresh file at the same path. Both must contend on
// whatever currently lives at the path.
func TestAcquireLock_ExcludesAfterUnlink(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFileName)

	first, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}

	second := make(chan *os.File, 1)
	go func() {
		f, err := acquireLock(path)
		if err != nil {
			t.Errorf("waiter acquireLock: %v", err)
			close(second)
			return
		}
		second <- f
	}()

	// Let the waiter block on the original inode, then release and
	// unlink it, as evicting the entry would.
	time.Sleep(50 * time.Millisecond)
	if err := releaseLock(first); err != nil {
		t.Fatalf("releaseLock: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("removing lock file: %v", err)
	}

	waiter, ok := <-second
	if !ok {
		t.Fatal("waiter never acquired")
	}

	third := make(chan *os.File, 1)
	go func() {
		f, err := acquireLock(path)
		if err != nil {
			t.Errorf("third acquireLock: %v", err)
			close(third)
			return
		}
		third <- f
	}()

	select {
	case <-third:
		t.Fatal("two goroutines hold the same lock path concurrently")
	case <-time.After(100 * time.Millisecond):
	}

	if err := releaseLock(waiter); err != nil {
		t.Fatalf("releasing waiter lock: %v", err)
	}

	select {
	case f, ok := <-third:
		if ok {
			releaseLock(f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lock never handed over after release")
	}
}
