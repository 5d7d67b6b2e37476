package driver

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"quire/internal/project"
	"quire/internal/project/dag"
	"quire/internal/scan"
)

func TestRecordRoundTrip(t *testing.T) {
	compressible := []byte(strings.Repeat("module.exports = require('./x');\n", 64))
	tiny := []byte("x")
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		for _, data := range [][]byte{compressible, tiny} {
			rec, err := encodeRecord(data, c)
			if err != nil {
				t.Fatalf("encodeRecord(%s): %v", c, err)
			}
			if c != CompressionNone && len(data) > 100 && len(rec) >= len(data) {
				t.Fatalf("%s record of %d bytes did not shrink: %d", c, len(data), len(rec))
			}
			got, err := decodeRecord(rec)
			if err != nil {
				t.Fatalf("decodeRecord(%s): %v", c, err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("%s round trip changed %d bytes", c, len(data))
			}
		}
	}
}

func TestIncompressibleRecordFallsBackToNone(t *testing.T) {
	rec, err := encodeRecord([]byte("ab"), CompressionZstd)
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}
	if Compression(rec[0]) != CompressionNone {
		t.Fatalf("tag = %s, want none", Compression(rec[0]))
	}
}

func TestDecodeRecordRejectsCorruption(t *testing.T) {
	if _, err := decodeRecord([]byte{byte(CompressionNone)}); err == nil {
		t.Fatalf("short record accepted")
	}
	rec, _ := encodeRecord([]byte("hello"), CompressionNone)
	if _, err := decodeRecord(rec[:len(rec)-1]); err == nil {
		t.Fatalf("truncated record accepted")
	}
	rec[0] = 7
	if _, err := decodeRecord(rec); err == nil {
		t.Fatalf("unknown compression accepted")
	}
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "lz4": CompressionLZ4, "zstd": CompressionZstd} {
		got, err := ParseCompression(name)
		if err != nil || got != want {
			t.Fatalf("ParseCompression(%q) = %s, %v", name, got, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Fatalf("gzip accepted")
	}
}

func sampleModule() *CachedModule {
	return &CachedModule{
		Content: project.HashBytes([]byte("raw")),
		Chain:   "babel@abc",
		Code:    []byte(strings.Repeat("require('./dep');\n", 20)),
		Imports: []scan.Import{{Specifier: "./dep", Kind: scan.Require, Start: 0, End: 7}},
		Exports: []string{"default"},
		Assets:  []dag.Asset{{Name: "assets/0123abcd.png", Data: []byte{0x89, 'P', 'N', 'G'}}},
	}
}

func TestDiskCacheRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			dc, err := OpenDiskCache(t.TempDir(), c)
			if err != nil {
				t.Fatalf("OpenDiskCache: %v", err)
			}
			m := sampleModule()
			key := dc.Key("/src/a.js", m.Content, m.Chain)
			if err := dc.Put(key, moduleToDiskPayload("/src/a.js", m)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			var payload DiskPayload
			ok, err := dc.Get(key, &payload)
			if err != nil || !ok {
				t.Fatalf("Get = %v, %v", ok, err)
			}
			got := diskPayloadToModule(&payload, "/src/a.js", m.Content, m.Chain)
			if got == nil {
				t.Fatalf("payload rejected")
			}
			if !bytes.Equal(got.Code, m.Code) || got.Imports[0] != m.Imports[0] || got.Exports[0] != "default" {
				t.Fatalf("module changed: %+v", got)
			}
			if len(got.Assets) != 1 || got.Assets[0].Name != m.Assets[0].Name || !bytes.Equal(got.Assets[0].Data, m.Assets[0].Data) {
				t.Fatalf("assets changed: %+v", got.Assets)
			}
			if diskPayloadToModule(&payload, "/src/a.js", m.Content, "other") != nil {
				t.Fatalf("payload accepted for a different chain")
			}
		})
	}
}

func TestDiskCacheKeyDependsOnEveryPart(t *testing.T) {
	dc, err := OpenDiskCache(t.TempDir(), CompressionNone)
	if err != nil {
		t.Fatalf("OpenDiskCache: %v", err)
	}
	content := project.HashBytes([]byte("x"))
	base := dc.Key("/a.js", content, "babel")
	if base != dc.Key("/a.js", content, "babel") {
		t.Fatalf("Key is not deterministic")
	}
	for name, other := range map[string]project.Digest{
		"id":      dc.Key("/b.js", content, "babel"),
		"content": dc.Key("/a.js", project.HashBytes([]byte("y")), "babel"),
		"chain":   dc.Key("/a.js", content, "babel>css"),
	} {
		if other == base {
			t.Fatalf("key ignores the %s", name)
		}
	}
}

func TestDiskCacheMissesAndSchema(t *testing.T) {
	dc, err := OpenDiskCache(t.TempDir(), CompressionZstd)
	if err != nil {
		t.Fatalf("OpenDiskCache: %v", err)
	}
	key := dc.Key("/a.js", project.Digest{}, "none")
	var payload DiskPayload
	if ok, err := dc.Get(key, &payload); ok || err != nil {
		t.Fatalf("empty cache Get = %v, %v", ok, err)
	}

	stale, err := msgpack.Marshal(&DiskPayload{Schema: diskCacheSchemaVersion + 1, ID: "/a.js"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec, err := encodeRecord(stale, CompressionNone)
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}
	path := dc.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, rec, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ok, err := dc.Get(key, &payload); ok || err != nil {
		t.Fatalf("stale schema Get = %v, %v, want a miss", ok, err)
	}

	if err := dc.DropAll(); err != nil {
		t.Fatalf("DropAll: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("record survived DropAll: %v", err)
	}
	if _, err := os.Stat(dc.Dir()); err != nil {
		t.Fatalf("cache dir not recreated: %v", err)
	}
}

func TestDiskCacheLockIsExclusive(t *testing.T) {
	dc, err := OpenDiskCache(t.TempDir(), CompressionNone)
	if err != nil {
		t.Fatalf("OpenDiskCache: %v", err)
	}
	unlock, err := dc.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !lockingSupported {
		_ = unlock()
		t.Skip("file locks are not enforced on this platform")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := dc.Lock(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Lock = %v, want deadline exceeded", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	again, err := dc.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	_ = again()
}

func TestModuleCacheMatchesContentAndChain(t *testing.T) {
	mc := NewModuleCache(2)
	m := sampleModule()
	mc.Put("/a.js", m)
	if got, ok := mc.Get("/a.js", m.Content, m.Chain); !ok || got != m {
		t.Fatalf("hit expected")
	}
	if _, ok := mc.Get("/a.js", project.HashBytes([]byte("changed")), m.Chain); ok {
		t.Fatalf("hit on changed content")
	}
	if _, ok := mc.Get("/a.js", m.Content, "babel@other"); ok {
		t.Fatalf("hit on changed chain")
	}
	mc.Put("/b.js", m)
	mc.Put("/c.js", m)
	if mc.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (bounded)", mc.Len())
	}
	if _, ok := mc.Get("/a.js", m.Content, m.Chain); ok {
		t.Fatalf("least recently used entry not evicted")
	}

	var nilCache *ModuleCache
	nilCache.Put("/a.js", m)
	if _, ok := nilCache.Get("/a.js", m.Content, m.Chain); ok || nilCache.Len() != 0 {
		t.Fatalf("nil cache must behave as empty")
	}
}
