package driver

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a cache record body is stored. The tag is the
// first byte of every record, followed by the uncompressed length as a
// uvarint.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the cache.compression configuration value.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown cache compression %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("driver: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("driver: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeRecord frames data with its compression tag and length. Data that
// does not shrink is stored uncompressed.
func encodeRecord(data []byte, c Compression) ([]byte, error) {
	body, err := compress(data, c)
	if errors.Is(err, errIncompressible) {
		body, c = data, CompressionNone
	} else if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(body))
	out = append(out, byte(c))
	out = binary.AppendUvarint(out, uint64(len(data)))
	return append(out, body...), nil
}

func decodeRecord(record []byte) ([]byte, error) {
	if len(record) < 2 {
		return nil, errors.New("cache record too short")
	}
	c := Compression(record[0])
	size, n := binary.Uvarint(record[1:])
	if n <= 0 || size > 1<<31 {
		return nil, errors.New("corrupt cache record header")
	}
	return decompress(record[1+n:], c, int(size))
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return dst[:written], nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

func decompress(body []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(body) != size {
			return nil, fmt.Errorf("uncompressed record: size %d does not match expected %d", len(body), size)
		}
		return body, nil
	case CompressionLZ4:
		dst := make([]byte, size)
		read, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return dst, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}
