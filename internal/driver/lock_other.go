//go:build !unix

package driver

import "os"

// Advisory locking is unix-only; elsewhere the cache is used unlocked.
const lockingSupported = false

func tryLockFile(*os.File) (bool, error) { return true, nil }

func unlockFile(*os.File) error { return nil }
