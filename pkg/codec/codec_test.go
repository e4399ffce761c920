package codec

import (
	"bytes"
	"testing"
)

func compressible(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 13)
	}
	return data
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		token  string
		method Method
		level  Level
	}{
		{"fastest", MethodLZHAM, LevelFastest},
		{"faster", MethodLZHAM, LevelFaster},
		{"default", MethodLZHAM, LevelDefault},
		{"better", MethodLZHAM, LevelBetter},
		{"uber", MethodLZHAM, LevelUber},
		{"zstd", MethodZSTD, LevelFastest},
	}
	for _, c := range cases {
		cfg, err := ParseLevel(c.token)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", c.token, err)
		}
		if cfg.Method != c.method {
			t.Errorf("ParseLevel(%q): method %v, want %v", c.token, cfg.Method, c.method)
		}
	}

	if _, err := ParseLevel("turbo"); err == nil {
		t.Error("expected error for unknown token")
	}
}

func TestMarker(t *testing.T) {
	b := MarkerBytes()
	if len(b) != MarkerSize {
		t.Fatalf("marker size %d, want %d", len(b), MarkerSize)
	}
	if string(b) != "PAM__1DR" {
		t.Errorf("marker bytes %q, want %q", b, "PAM__1DR")
	}
	if !HasMarker(b) {
		t.Error("HasMarker rejects its own marker")
	}
	if HasMarker(b[:7]) {
		t.Error("HasMarker accepts a short prefix")
	}
	if HasMarker([]byte("12345678")) {
		t.Error("HasMarker accepts arbitrary bytes")
	}
}

func TestZstdRoundTrip(t *testing.T) {
	src := compressible(200000)

	stored, err := Compress(src, Config{Method: MethodZSTD})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if !HasMarker(stored) {
		t.Fatal("zstd output is not marker-prefixed")
	}
	if len(stored) >= len(src) {
		t.Fatalf("compressible data grew: %d >= %d", len(stored), len(src))
	}

	decoded, err := Decompress(stored)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(decoded, src) {
		t.Error("round trip mismatch")
	}
}

func TestLzhamRoundTrip(t *testing.T) {
	for _, level := range []Level{LevelFastest, LevelDefault, LevelUber} {
		src := compressible(100000)

		stored, err := Compress(src, Config{Method: MethodLZHAM, Level: level})
		if err != nil {
			t.Fatalf("level %d: compress: %v", level, err)
		}
		if HasMarker(stored) {
			t.Fatalf("level %d: lzham output carries the zstd marker", level)
		}

		decoded, err := Decompress(stored)
		if err != nil {
			t.Fatalf("level %d: decompress: %v", level, err)
		}
		if !bytes.Equal(decoded, src) {
			t.Errorf("level %d: round trip mismatch", level)
		}
	}
}

func TestDecompressDetection(t *testing.T) {
	src := compressible(50000)

	zstdStored, err := Compress(src, Config{Method: MethodZSTD})
	if err != nil {
		t.Fatalf("zstd compress: %v", err)
	}
	lzhamStored, err := Compress(src, Config{Method: MethodLZHAM, Level: LevelDefault})
	if err != nil {
		t.Fatalf("lzham compress: %v", err)
	}

	for name, stored := range map[string][]byte{"zstd": zstdStored, "lzham": lzhamStored} {
		decoded, err := Decompress(stored)
		if err != nil {
			t.Fatalf("%s: decompress: %v", name, err)
		}
		if !bytes.Equal(decoded, src) {
			t.Errorf("%s: round trip mismatch", name)
		}
	}
}
