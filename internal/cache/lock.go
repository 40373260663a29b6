// Package cache implements the content-addressed package store (part of
// C1) and its file-locking discipline (spec.md §5): a worker must acquire
// the appropriate lock before mutating the cache directory, scoped to the
// operation.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// LockMode selects the flock discipline used for one cache operation.
type LockMode int

const (
	// Shared allows concurrent readers, excludes any exclusive holder.
	Shared LockMode = iota
	// DownloadExclusive excludes other downloaders of the same package but
	// not readers of unrelated entries (scoped per-key by the caller).
	DownloadExclusive
	// MutateExclusive excludes all other lock holders on the same key
	// (used when garbage-collecting or rewriting an entry in place).
	MutateExclusive
)

// FileLock wraps a flock(2) advisory lock on a dedicated lock file,
// grounded on x/sys already being a teacher dependency (it has no
// file-locking code of its own — this is new, built directly from
// spec.md §5's Shared/DownloadExclusive/MutateExclusive vocabulary).
type FileLock struct {
	f    *os.File
	mode LockMode
}

// Acquire locks keyPath+".lock" in the requested mode, creating parent
// directories as needed. The lock is released by calling Close.
func Acquire(keyPath string, mode LockMode) (*FileLock, error) {
	lockPath := keyPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", lockPath, err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", lockPath, err)
	}

	how := unix.LOCK_EX
	if mode == Shared {
		how = unix.LOCK_SH
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", lockPath, err)
	}
	return &FileLock{f: f, mode: mode}, nil
}

// Close releases the lock.
func (l *FileLock) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
