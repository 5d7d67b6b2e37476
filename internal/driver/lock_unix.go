//go:build unix

package driver

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

const lockingSupported = true

// tryLockFile takes an exclusive advisory lock without blocking.
func tryLockFile(f *os.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	return err == nil, err
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
