package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another pipeline holds the lock file
var ErrLocked = errors.New("another pipeline instance is already running")

// Lock guarantees a single pipeline process per output root
type Lock struct {
	path string
	fl   *flock.Flock
}

// AcquireLock takes the lock at path without waiting
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lock{path: path, fl: fl}, nil
}

// Path returns the lock file location
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks the file
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
