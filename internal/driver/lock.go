package driver

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

const lockPollInterval = 25 * time.Millisecond

// Lock takes the process-level lock of the cache directory, waiting until it
// is free or ctx is done. The returned function releases it.
func (c *DiskCache) Lock(ctx context.Context) (func() error, error) {
	if c == nil {
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(filepath.Join(c.dir, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	for {
		ok, err := tryLockFile(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
	return func() error {
		err := unlockFile(f)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		return err
	}, nil
}
