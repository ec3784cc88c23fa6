//go:build !unix

package session

import (
	"os"
	"sync"
	"time"
)

// Non-unix builds fall back to process-local locking. Cross-process
// exclusion is not provided on these platforms.
var fallbackLocks sync.Map

type fileLock struct {
	mu *sync.RWMutex
	ex bool
}

func acquireLock(path string, exclusive bool, timeout time.Duration) (*fileLock, error) {
	if _, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644); err != nil {
		return nil, err
	}
	v, _ := fallbackLocks.LoadOrStore(path, &sync.RWMutex{})
	mu := v.(*sync.RWMutex)

	deadline := time.Now().Add(timeout)
	for {
		if exclusive {
			if mu.TryLock() {
				return &fileLock{mu: mu, ex: true}, nil
			}
		} else {
			if mu.TryRLock() {
				return &fileLock{mu: mu}, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func (l *fileLock) release() error {
	if l.ex {
		l.mu.Unlock()
	} else {
		l.mu.RUnlock()
	}
	return nil
}
