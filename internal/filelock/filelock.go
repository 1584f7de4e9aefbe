// Package filelock provides advisory file locking for coordinating
// independent OS processes sharing the bank's resource files.
//
// Locks are named after a sidecar lock file, never the resource file itself:
// writers replace resource files via rename, which would silently detach a
// lock held on the old inode. Lock acquisition blocks until granted; critical
// sections are bounded by I/O time, so no timeout is layered on top.
package filelock

import (
	"sync"

	"github.com/gofrs/flock"
)

// Lock is an advisory lock on a single path, shared by every process that
// names the same file.
//
// A process-local mutex serializes goroutines sharing one Lock instance: a
// flock handle treats a second acquisition by the same process as a no-op,
// which would let two goroutines into the critical section.
type Lock struct {
	mu sync.Mutex
	fl *flock.Flock
}

// New returns a lock for path. The file is created on first acquisition.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// Shared runs fn while holding the lock in shared (read) mode against other
// processes.
func (l *Lock) Shared(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fl.RLock(); err != nil {
		return err
	}
	defer l.fl.Unlock()
	return fn()
}

// Exclusive runs fn while holding the lock in exclusive (write) mode.
func (l *Lock) Exclusive(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fl.Lock(); err != nil {
		return err
	}
	defer l.fl.Unlock()
	return fn()
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}
