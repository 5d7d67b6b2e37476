package resolve

import (
	"errors"
	"io/fs"
	"os"
	"syscall"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FileKind is what the file-existence oracle knows about a path.
type FileKind uint8

const (
	Missing FileKind = iota
	File
	Dir
)

// FS is the file-existence oracle used by the resolver. Implementations must
// be safe for concurrent use.
type FS interface {
	Stat(path string) (FileKind, error)
	ReadFile(path string) ([]byte, error)
}

// OSFS answers from the real file system.
type OSFS struct{}

// Stat reports the kind of path; a missing path is not an error.
func (OSFS) Stat(path string) (FileKind, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) || errors.Is(err, syscall.ENOTDIR) {
			return Missing, nil
		}
		return Missing, err
	}
	if info.IsDir() {
		return Dir, nil
	}
	return File, nil
}

// ReadFile reads path from disk.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// CachedFS memoises Stat answers of another FS in a bounded LRU. A CachedFS
// lives for one build; file changes between builds need a fresh instance.
type CachedFS struct {
	base  FS
	stats *lru.Cache[string, FileKind]
}

// NewCachedFS wraps base with an LRU of the given size.
func NewCachedFS(base FS, size int) (*CachedFS, error) {
	if size <= 0 {
		size = 4096
	}
	stats, err := lru.New[string, FileKind](size)
	if err != nil {
		return nil, err
	}
	return &CachedFS{base: base, stats: stats}, nil
}

// Stat returns the cached kind or asks the underlying FS.
func (c *CachedFS) Stat(path string) (FileKind, error) {
	if kind, ok := c.stats.Get(path); ok {
		return kind, nil
	}
	kind, err := c.base.Stat(path)
	if err != nil {
		return Missing, err
	}
	c.stats.Add(path, kind)
	return kind, nil
}

// ReadFile is not cached.
func (c *CachedFS) ReadFile(path string) ([]byte, error) {
	return c.base.ReadFile(path)
}
