package recovery

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// OpType identifies the kind of side effect an operation recorded.
type OpType string

// Operation types with rollback behavior.
const (
	OpCreateDir  OpType = "create_dir"  // undo: remove the directory tree
	OpCreateFile OpType = "create_file" // undo: remove the file
	OpCacheEntry OpType = "cache_entry" // undo: evict the cache entry
	OpCommand    OpType = "command"     // no filesystem undo; recorded for the audit trail
)

// Operation is one recorded side effect.
type Operation struct {
	Type   OpType
	Path   string
	Slug   string
	Ver    string
	Detail string
}

// Evictor removes a cache entry as a unit. Satisfied by *cache.Manager.
type Evictor interface {
	Remove(slug, version string) error
}

// Transaction records the side effects of a single install attempt so
// they can be undone if the attempt fails. A transaction is owned by
// exactly one install flow and discarded after Commit or Rollback.
type Transaction struct {
	mu         sync.Mutex
	operations []Operation
	tempFiles  []string
	completed  bool
	rolledBack bool

	evictor Evictor
	log     *logrus.Entry
}

// NewTransaction returns an empty transaction. evictor may be nil when no
// cache entry can be created by the flow (tests, dry runs).
func NewTransaction(evictor Evictor, log *logrus.Entry) *Transaction {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transaction{evictor: evictor, log: log}
}

// Record appends one operation to the transaction journal.
func (t *Transaction) Record(op Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.operations = append(t.operations, op)
}

// AddTemp registers a temporary file or directory for unconditional
// removal at rollback time.
func (t *Transaction) AddTemp(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tempFiles = append(t.tempFiles, path)
}

// Commit marks the transaction as completed, making Rollback a no-op.
// Temp files are removed on the happy path too.
func (t *Transaction) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = true
	t.removeTempsLocked()
}

// Completed reports whether Commit has been called.
func (t *Transaction) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// RolledBack reports whether Rollback has run.
func (t *Transaction) RolledBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolledBack
}

// Rollback undoes recorded operations in reverse order, evicts any cache
// entry the transaction touched, and removes temp files. It is idempotent
// and a no-op after Commit. Individual undo failures are logged and do not
// stop the remaining undos; the first failure is returned.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completed || t.rolledBack {
		return nil
	}
	t.rolledBack = true

	var firstErr error
	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		if err := t.undoLocked(op); err != nil {
			t.log.WithError(err).WithFields(logrus.Fields{
				"op":   op.Type,
				"path": op.Path,
			}).Warn("rollback step failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("undoing %s %s: %w", op.Type, op.Path, err)
			}
		}
	}

	t.removeTempsLocked()
	t.operations = nil
	return firstErr
}

func (t *Transaction) undoLocked(op Operation) error {
	switch op.Type {
	case OpCreateDir:
		return os.RemoveAll(op.Path)
	case OpCreateFile:
		err := os.Remove(op.Path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	case OpCacheEntry:
		if t.evictor == nil {
			return nil
		}
		return t.evictor.Remove(op.Slug, op.Ver)
	case OpCommand:
		// Commands have no filesystem undo; any files they created must
		// have been recorded separately.
		return nil
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func (t *Transaction) removeTempsLocked() {
	for _, path := range t.tempFiles {
		if err := os.RemoveAll(path); err != nil {
			t.log.WithError(err).WithField("path", path).Warn("removing temp file failed")
		}
	}
	t.tempFiles = nil
}
