//go:build unix

package session

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const lockPollInterval = 25 * time.Millisecond

// fileLock holds an advisory flock on a sidecar lock file. The sidecar is
// never renamed or removed while locked, so the lock always covers the same
// inode regardless of pop rewrites of the data file.
type fileLock struct {
	f *os.File
}

// acquireLock opens (creating if needed) the lock file at path and acquires
// an advisory lock, polling until timeout. exclusive selects LOCK_EX over
// LOCK_SH.
func acquireLock(path string, exclusive bool, timeout time.Duration) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return &fileLock{f: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			f.Close()
			return nil, err
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}

func (l *fileLock) release() error {
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	if err != nil {
		return err
	}
	return closeErr
}
