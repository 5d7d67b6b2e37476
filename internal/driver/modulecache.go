package driver

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"quire/internal/project"
	"quire/internal/project/dag"
	"quire/internal/scan"
)

// DefaultModuleCacheSize bounds the in-memory module cache.
const DefaultModuleCacheSize = 4096

// CachedModule is the part of a module that survives between builds: the
// result of its loader chain and scan. It is valid only for the raw content
// and chain it was produced from.
type CachedModule struct {
	Content project.Digest
	Chain   string
	Code    []byte
	Imports []scan.Import
	Exports []string
	Assets  []dag.Asset
}

// ModuleCache is a cross-build in-memory cache of transformed modules,
// keyed by module id. Safe for concurrent use.
type ModuleCache struct {
	byMod *lru.Cache[string, *CachedModule]
}

// NewModuleCache creates a ModuleCache holding at most size modules.
func NewModuleCache(size int) *ModuleCache {
	if size <= 0 {
		size = DefaultModuleCacheSize
	}
	c, err := lru.New[string, *CachedModule](size)
	if err != nil {
		// lru.New fails only for a non-positive size
		panic(err)
	}
	return &ModuleCache{byMod: c}
}

// Get returns the cached module for id if it was produced from the same
// content by the same chain.
func (c *ModuleCache) Get(id string, content project.Digest, chain string) (*CachedModule, bool) {
	if c == nil {
		return nil, false
	}
	rec, ok := c.byMod.Get(id)
	if !ok || rec.Content != content || rec.Chain != chain {
		return nil, false
	}
	return rec, true
}

// Put stores m under id, replacing any older version.
func (c *ModuleCache) Put(id string, m *CachedModule) {
	if c == nil || m == nil {
		return
	}
	c.byMod.Add(id, m)
}

// Len returns the number of cached modules.
func (c *ModuleCache) Len() int {
	if c == nil {
		return 0
	}
	return c.byMod.Len()
}
