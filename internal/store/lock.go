package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/noot-app/foods-cleanup/internal/types"
)

// ErrLocked is returned when another run already owns the database
var ErrLocked = errors.New("database is locked by another run")

// LockPath returns the run lock file used for the database at path
func LockPath(path string) string {
	return path + ".lock"
}

// Lock takes exclusive ownership of the database for one run.
// With force an existing lock file is removed first (stale lock after a crash).
// The returned function releases the lock.
func (s *SQLite) Lock(force bool) (func(), error) {
	lockPath := LockPath(s.path)

	if force {
		if _, err := os.Stat(lockPath); err == nil {
			s.log.Warn("Removing existing lock file", "lock_path", lockPath)
			if err := os.Remove(lockPath); err != nil {
				return nil, types.NewStoreIOError("lock", fmt.Errorf("failed to remove lock file: %w", err))
			}
		}
	}

	f, err := acquireLock(lockPath)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		return nil, types.NewStoreIOError("lock", err)
	}

	fmt.Fprintf(f, "%d\n", os.Getpid())
	s.log.Debug("Lock acquired", "lock_path", lockPath)

	return func() { releaseLock(f, lockPath) }, nil
}

// acquireLock attempts to acquire an exclusive lock
func acquireLock(lockPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	// O_CREATE|O_EXCL will fail if file exists
	return os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
}

// releaseLock releases the lock file
func releaseLock(f *os.File, lockPath string) {
	f.Close()
	os.Remove(lockPath)
}
