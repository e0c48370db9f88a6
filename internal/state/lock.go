package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// staleLockAge is how old a lock file must be before it is considered
// abandoned and taken over.
const staleLockAge = 10 * time.Minute

// LockHeldError reports that another run holds the state lock. The run is
// aborted; the caller may retry later.
type LockHeldError struct {
	Path string
	Info string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("state is locked by another process (%s, lock file: %s); "+
		"if this is an error, remove the lock file manually", e.Info, e.Path)
}

// Lock acquires an exclusive lock over the whole state to prevent
// concurrent writers. The lock is coarse-grained: one token per state
// file, held for the duration of a plan+apply cycle.
func (m *Manager) Lock() error {
	lockPath := m.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil {
		if time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
		} else {
			held, _ := os.ReadFile(lockPath)
			return &LockHeldError{Path: lockPath, Info: string(held)}
		}
	}

	content := fmt.Sprintf("id=%s pid=%d time=%s",
		uuid.NewString(), os.Getpid(), time.Now().UTC().Format(time.RFC3339))

	// O_EXCL makes acquisition atomic between concurrent invocations.
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			held, _ := os.ReadFile(lockPath)
			return &LockHeldError{Path: lockPath, Info: string(held)}
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		os.Remove(lockPath)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// Unlock releases the state lock. Safe to call when not held.
func (m *Manager) Unlock() error {
	if err := os.Remove(m.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (m *Manager) lockPath() string {
	return m.path + ".lock"
}
