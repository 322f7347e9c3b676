package core

import (
	"fmt"
	"os"
	"strings"
)

// RunLock is the exclusive lock that serializes mutating runs against
// the storage roots. Read-only audits never take it. Acquisition is
// all-or-nothing: a held lock means exit immediately, not queue.
type RunLock struct {
	path string
	held bool
}

// AcquireLock creates the lock file exclusively, writing the holder pid
// for the operator. Contention maps to ErrAlreadyRunning.
func AcquireLock(path string) (*RunLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			holder := "unknown pid"
			if data, rerr := os.ReadFile(path); rerr == nil && len(data) > 0 {
				holder = "pid " + strings.TrimSpace(string(data))
			}
			return nil, fmt.Errorf("%w (lock %s held by %s)", ErrAlreadyRunning, path, holder)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &RunLock{path: path, held: true}, nil
}

// Release removes the lock file. Safe to call more than once; release
// happens on all exit paths of a run.
func (l *RunLock) Release() error {
	if l == nil || !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
