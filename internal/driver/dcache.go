package driver

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"

	"quire/internal/project"
	"quire/internal/project/dag"
	"quire/internal/scan"
)

// Current schema version - increment when DiskPayload format changes
const diskCacheSchemaVersion uint16 = 1

// DiskCache хранит трансформированные модули на диске между запусками.
// Thread-safe for concurrent access.
type DiskCache struct {
	mu          sync.RWMutex
	dir         string
	compression Compression
	keyKey      [32]byte
}

// DiskPayload is the on-disk form of a CachedModule.
type DiskPayload struct {
	// Schema version for safe invalidation when format changes
	Schema uint16

	ID          string
	ContentHash project.Digest
	Chain       string

	Code    []byte
	Imports []DiskImport
	Exports []string

	AssetNames []string
	AssetData  [][]byte
}

// DiskImport is a scan.Import as stored on disk.
type DiskImport struct {
	Specifier string
	Kind      uint8
	Start     int
	End       int
}

// OpenDiskCache opens (creating if needed) a disk cache rooted at dir.
func OpenDiskCache(dir string, compression Compression) (*DiskCache, error) {
	if dir == "" {
		return nil, errors.New("disk cache: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{
		dir:         dir,
		compression: compression,
		keyKey:      blake3.Sum256([]byte(fmt.Sprintf("quire module cache v%d", diskCacheSchemaVersion))),
	}, nil
}

// Dir returns the cache directory.
func (c *DiskCache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

// Key derives the record key of a module from its id, raw content hash and
// loader chain identity.
func (c *DiskCache) Key(id string, content project.Digest, chain string) project.Digest {
	h, err := blake3.NewKeyed(c.keyKey[:])
	if err != nil {
		// keyKey всегда 32 байта
		panic(err)
	}
	_, _ = h.Write([]byte(id))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(content[:])
	_, _ = h.Write([]byte(chain))
	var out project.Digest
	copy(out[:], h.Sum(nil))
	return out
}

func (c *DiskCache) pathFor(key project.Digest) string {
	hexKey := hex.EncodeToString(key[:])
	// Подкаталог "mods" с веером по первому байту ключа.
	return filepath.Join(c.dir, "mods", hexKey[:2], hexKey+".mp")
}

// Put serializes and writes a payload to the disk cache.
func (c *DiskCache) Put(key project.Digest, payload *DiskPayload) (err error) {
	if c == nil {
		return nil
	}
	payload.Schema = diskCacheSchemaVersion
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return err
	}
	record, err := encodeRecord(data, c.compression)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(record); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	// Атомарная замена
	return os.Rename(f.Name(), p)
}

// Get reads and deserializes a payload from the disk cache. A record written
// under another schema version is a miss.
func (c *DiskCache) Get(key project.Digest, out *DiskPayload) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	record, err := os.ReadFile(c.pathFor(key))
	c.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	data, err := decodeRecord(record)
	if err != nil {
		return false, err
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		return false, err
	}
	if out.Schema != diskCacheSchemaVersion {
		return false, nil
	}
	return true, nil
}

// DropAll invalidates the cache, useful after format changes.
func (c *DiskCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// переименуем каталог и удалим, затем создадим заново
	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(c.dir, 0o755)
		}
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.MkdirAll(c.dir, 0o755)
}

func moduleToDiskPayload(id string, m *CachedModule) *DiskPayload {
	payload := &DiskPayload{
		Schema:      diskCacheSchemaVersion,
		ID:          id,
		ContentHash: m.Content,
		Chain:       m.Chain,
		Code:        m.Code,
		Exports:     m.Exports,
	}
	payload.Imports = make([]DiskImport, len(m.Imports))
	for i, imp := range m.Imports {
		payload.Imports[i] = DiskImport{Specifier: imp.Specifier, Kind: uint8(imp.Kind), Start: imp.Start, End: imp.End}
	}
	for _, a := range m.Assets {
		payload.AssetNames = append(payload.AssetNames, a.Name)
		payload.AssetData = append(payload.AssetData, a.Data)
	}
	return payload
}

// diskPayloadToModule converts a payload back; nil when it does not belong to
// the requested module (a key collision or a stale record).
func diskPayloadToModule(payload *DiskPayload, id string, content project.Digest, chain string) *CachedModule {
	if payload == nil || payload.Schema != diskCacheSchemaVersion {
		return nil
	}
	if payload.ID != id || payload.ContentHash != content || payload.Chain != chain {
		return nil
	}
	if len(payload.AssetNames) != len(payload.AssetData) {
		return nil
	}
	m := &CachedModule{
		Content: payload.ContentHash,
		Chain:   payload.Chain,
		Code:    payload.Code,
		Exports: payload.Exports,
	}
	m.Imports = make([]scan.Import, len(payload.Imports))
	for i, imp := range payload.Imports {
		m.Imports[i] = scan.Import{Specifier: imp.Specifier, Kind: scan.Kind(imp.Kind), Start: imp.Start, End: imp.End}
	}
	for i := range payload.AssetNames {
		m.Assets = append(m.Assets, dag.Asset{Name: payload.AssetNames[i], Data: payload.AssetData[i]})
	}
	return m
}
