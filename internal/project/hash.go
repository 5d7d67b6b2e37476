package project

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest - фиксированный 256 битный хеш содержимого (BLAKE3).
type Digest [32]byte

// HashBytes returns the content digest of data.
func HashBytes(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// Combine строит составной хеш: H( content || part1 || part2 ... ).
// Порядок parts должен быть детерминированным.
func Combine(content Digest, parts ...Digest) Digest {
	h := blake3.New()
	_, _ = h.Write(content[:])
	for _, p := range parts {
		_, _ = h.Write(p[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// String returns the lowercase hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first n hex characters, used in file name templates.
func (d Digest) Short(n int) string {
	s := d.String()
	if n <= 0 || n > len(s) {
		return s
	}
	return s[:n]
}

// IsZero reports whether the digest was never computed.
func (d Digest) IsZero() bool {
	return d == Digest{}
}
