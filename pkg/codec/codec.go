// Package codec implements the per-chunk block codecs used by the pack
// and unpack pipelines. Chunks are either raw, ZSTD with an 8-byte
// marker prefix, or an unframed LZHAM-class stream; decode-side codec
// detection is a pure function of the stored bytes and the size
// relation recorded in the chunk descriptor.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
	"github.com/ulikunitz/xz/lzma"
)

// Marker is the value prefixed to ZSTD-compressed chunks, stored
// little-endian. A stored chunk is ZSTD-encoded iff its first 8 bytes
// equal MarkerBytes.
const Marker uint64 = 0x5244315F5F4D4150

// MarkerSize is the byte length of the stored marker.
const MarkerSize = 8

// MarkerBytes returns the on-disk encoding of the marker.
func MarkerBytes() []byte {
	b := make([]byte, MarkerSize)
	binary.LittleEndian.PutUint64(b, Marker)
	return b
}

// HasMarker reports whether data begins with the ZSTD chunk marker.
func HasMarker(data []byte) bool {
	return len(data) >= MarkerSize && binary.LittleEndian.Uint64(data) == Marker
}

// Method selects the block codec used when compressing.
type Method int

const (
	MethodLZHAM Method = iota
	MethodZSTD
)

func (m Method) String() string {
	switch m {
	case MethodLZHAM:
		return "lzham"
	case MethodZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Level is a compression effort tier for the LZHAM-class codec.
type Level int

const (
	LevelFastest Level = iota
	LevelFaster
	LevelDefault
	LevelBetter
	LevelUber
)

// zstdLevel is the fixed level used whenever the ZSTD method is
// selected.
const zstdLevel = 6

// Config selects the codec applied to chunks during packing.
type Config struct {
	Method Method
	Level  Level
}

// ParseLevel maps a command-line level token to a codec configuration.
// The literal token "zstd" selects the ZSTD method; every other token is
// an LZHAM-class effort tier.
func ParseLevel(token string) (Config, error) {
	switch token {
	case "zstd":
		return Config{Method: MethodZSTD}, nil
	case "fastest":
		return Config{Method: MethodLZHAM, Level: LevelFastest}, nil
	case "faster":
		return Config{Method: MethodLZHAM, Level: LevelFaster}, nil
	case "default":
		return Config{Method: MethodLZHAM, Level: LevelDefault}, nil
	case "better":
		return Config{Method: MethodLZHAM, Level: LevelBetter}, nil
	case "uber":
		return Config{Method: MethodLZHAM, Level: LevelUber}, nil
	default:
		return Config{}, fmt.Errorf("unknown compression level %q", token)
	}
}

// dictCap maps an effort tier to an LZHAM-class dictionary capacity.
// Chunks never exceed 1 MiB, so larger dictionaries buy nothing.
func dictCap(level Level) int {
	switch level {
	case LevelFastest:
		return 1 << 16
	case LevelFaster:
		return 1 << 18
	default:
		return 1 << 20
	}
}

// Compress encodes src with the configured method and returns the bytes
// exactly as they would be stored, marker included for ZSTD. Callers
// decide whether the result is worth keeping over the raw chunk.
func Compress(src []byte, cfg Config) ([]byte, error) {
	switch cfg.Method {
	case MethodZSTD:
		payload, err := zstd.CompressLevel(nil, src, zstdLevel)
		if err != nil {
			return nil, fmt.Errorf("zstd compress: %w", err)
		}
		out := make([]byte, 0, MarkerSize+len(payload))
		out = append(out, MarkerBytes()...)
		return append(out, payload...), nil
	case MethodLZHAM:
		return lzhamCompress(src, cfg.Level)
	default:
		return nil, fmt.Errorf("unknown codec method %v", cfg.Method)
	}
}

// Decompress decodes a stored chunk, detecting its codec from the first
// eight bytes. Chunks known to be raw (equal stored and uncompressed
// sizes) must not be passed here.
func Decompress(src []byte) ([]byte, error) {
	if HasMarker(src) {
		out, err := zstd.Decompress(nil, src[MarkerSize:])
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	}
	return lzhamDecompress(src)
}

func lzhamCompress(src []byte, level Level) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{DictCap: dictCap(level)}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("lzham writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lzham compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lzham finish: %w", err)
	}
	return buf.Bytes(), nil
}

func lzhamDecompress(src []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("lzham reader: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lzham decompress: %w", err)
	}
	return out, nil
}
