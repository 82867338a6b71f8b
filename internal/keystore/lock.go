// ABOUTME: Advisory cross-process write lock for one keystore directory.
// ABOUTME: Fail-fast: contention surfaces as ErrKeystoreBusy, never a hang.

package keystore

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrKeystoreBusy is returned when another process holds the write lock.
// Callers should surface it as "busy, retry" rather than waiting.
var ErrKeystoreBusy = errors.New("keystore is busy (another process holds the write lock)")

// Lock represents exclusive ownership of the keystore's write path. Not
// reentrant: a handler needing several mutating calls acquires once and passes
// the handle through.
type Lock struct {
	fl *flock.Flock
}

// AcquireWriteLock takes the advisory lock at path without blocking.
func AcquireWriteLock(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring keystore lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrKeystoreBusy
	}
	return &Lock{fl: fl}, nil
}

// Release gives up the lock. Must be called on every exit path, including
// error returns; a leaked handle blocks every later writer.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing keystore lock: %w", err)
	}
	return nil
}
