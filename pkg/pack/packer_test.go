package pack

import (
	"bytes"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/goopsie/revpk/pkg/codec"
	"github.com/goopsie/revpk/pkg/manifest"
	"github.com/goopsie/revpk/pkg/vpk"
)

// writeSource places a source file under the workspace content tree.
func writeSource(t *testing.T, workspace, locale, entryPath string, data []byte) {
	t.Helper()
	path := filepath.Join(workspace, "content", locale, filepath.FromSlash(entryPath))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
}

// writeBuildManifest stores a single-locale manifest for a target and
// level.
func writeBuildManifest(t *testing.T, workspace, target, level string, b manifest.Build) {
	t.Helper()
	dir := filepath.Join(workspace, "manifest")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := manifest.WriteBuild(filepath.Join(dir, vpk.ManifestFileName(target, level)), b); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func packOne(t *testing.T, workspace, buildPath string, level codec.Config) (*Summary, *vpk.Directory) {
	t.Helper()
	summary, err := Pack("english", "client", "mp_test", Options{
		Workspace: workspace,
		BuildPath: buildPath,
		Threads:   2,
		Codec:     level,
	})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	dir, err := vpk.ReadFile(filepath.Join(buildPath, vpk.DirFileName("english", "client", "mp_test")))
	if err != nil {
		t.Fatalf("read directory: %v", err)
	}
	return summary, dir
}

func dataFile(t *testing.T, buildPath string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(buildPath, vpk.PackFileName("client", "mp_test", 0)))
	if err != nil {
		t.Fatalf("read data file: %v", err)
	}
	return data
}

func patterned(n int) []byte {
	data := make([]byte, n)
	seed := uint32(0x9e3779b9)
	for i := range data {
		seed = seed*1664525 + 1013904223
		data[i] = byte(seed >> 24)
	}
	return data
}

func TestPackTinyFile(t *testing.T) {
	workspace, buildPath := t.TempDir(), t.TempDir()
	writeSource(t, workspace, "english", "a/b.txt", []byte("hello"))
	writeBuildManifest(t, workspace, "client", "mp_test", manifest.Build{
		"a/b.txt": {DeDuplicate: true},
	})

	summary, dir := packOne(t, workspace, buildPath, codec.Config{})
	if summary.Files != 1 {
		t.Fatalf("files: %d", summary.Files)
	}
	if len(dir.Entries) != 1 {
		t.Fatalf("entries: %d", len(dir.Entries))
	}
	e := dir.Entries[0]
	if len(e.Fragments) != 1 {
		t.Fatalf("fragments: %d", len(e.Fragments))
	}
	f := e.Fragments[0]
	if f.PackOffset != 0 || f.CompressedSize != 5 || f.UncompressedSize != 5 {
		t.Errorf("descriptor: %+v", f)
	}
	if e.CRC != crc32.ChecksumIEEE([]byte("hello")) {
		t.Errorf("crc: %#x", e.CRC)
	}
	if got := dataFile(t, buildPath); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("data file: %q", got)
	}
}

func TestPackChunkBoundary(t *testing.T) {
	t.Run("ExactChunk", func(t *testing.T) {
		workspace, buildPath := t.TempDir(), t.TempDir()
		data := patterned(vpk.ChunkMax)
		writeSource(t, workspace, "english", "big.bin", data)
		writeBuildManifest(t, workspace, "client", "mp_test", manifest.Build{"big.bin": {}})

		_, dir := packOne(t, workspace, buildPath, codec.Config{})
		e := dir.Entries[0]
		if len(e.Fragments) != 1 {
			t.Fatalf("fragments: %d", len(e.Fragments))
		}
		if e.Fragments[0].UncompressedSize != vpk.ChunkMax {
			t.Errorf("uncompressed size: %d", e.Fragments[0].UncompressedSize)
		}
	})

	t.Run("OneByteOver", func(t *testing.T) {
		workspace, buildPath := t.TempDir(), t.TempDir()
		data := patterned(vpk.ChunkMax + 1)
		writeSource(t, workspace, "english", "big.bin", data)
		writeBuildManifest(t, workspace, "client", "mp_test", manifest.Build{"big.bin": {}})

		_, dir := packOne(t, workspace, buildPath, codec.Config{})
		e := dir.Entries[0]
		if len(e.Fragments) != 2 {
			t.Fatalf("fragments: %d", len(e.Fragments))
		}
		if e.Fragments[0].UncompressedSize != vpk.ChunkMax || e.Fragments[1].UncompressedSize != 1 {
			t.Errorf("fragment sizes: %d, %d",
				e.Fragments[0].UncompressedSize, e.Fragments[1].UncompressedSize)
		}
		if e.CRC != crc32.ChecksumIEEE(data) {
			t.Errorf("crc mismatch")
		}
	})
}

func TestPackBoundaryLoadFlags(t *testing.T) {
	workspace, buildPath := t.TempDir(), t.TempDir()
	writeSource(t, workspace, "english", "flags.txt", []byte("payload"))
	writeBuildManifest(t, workspace, "client", "mp_test", manifest.Build{
		"flags.txt": {LoadFlags: 0xFFFF, TextureFlags: 0xFFFF},
	})

	_, dir := packOne(t, workspace, buildPath, codec.Config{})
	if len(dir.Entries) != 1 {
		t.Fatalf("entries: %d", len(dir.Entries))
	}
	e := dir.Entries[0]
	if len(e.Fragments) != 1 {
		t.Fatalf("fragments: %d", len(e.Fragments))
	}
	f := e.Fragments[0]
	if f.LoadFlags != 0xFFFF || f.TextureFlags != 0xFFFF {
		t.Errorf("flags not preserved: %+v", f)
	}
	if f.CompressedSize != 7 || f.UncompressedSize != 7 {
		t.Errorf("descriptor: %+v", f)
	}

	// The re-exported manifest carries the same flags back.
	exported := manifest.FromDirectory(dir)
	if exported["flags.txt"].LoadFlags != 0xFFFF {
		t.Errorf("re-exported record: %+v", exported["flags.txt"])
	}
}

func TestPackDedupAcrossFiles(t *testing.T) {
	workspace, buildPath := t.TempDir(), t.TempDir()
	content := []byte("identical file contents")
	writeSource(t, workspace, "english", "one.txt", content)
	writeSource(t, workspace, "english", "two.txt", content)
	writeBuildManifest(t, workspace, "client", "mp_test", manifest.Build{
		"one.txt": {},
		"two.txt": {},
	})

	summary, dir := packOne(t, workspace, buildPath, codec.Config{})
	if len(dir.Entries) != 2 {
		t.Fatalf("entries: %d", len(dir.Entries))
	}
	a, b := dir.Entries[0].Fragments[0], dir.Entries[1].Fragments[0]
	if a.PackOffset != b.PackOffset || a.CompressedSize != b.CompressedSize {
		t.Errorf("dedup mismatch: %+v vs %+v", a, b)
	}
	if got := dataFile(t, buildPath); len(got) != len(content) {
		t.Errorf("data file length %d, want %d", len(got), len(content))
	}
	if summary.Stats.ReusedChunks != 1 {
		t.Errorf("reused chunks: %d", summary.Stats.ReusedChunks)
	}
}

func TestPackZstd(t *testing.T) {
	workspace, buildPath := t.TempDir(), t.TempDir()
	data := make([]byte, 200000)
	for i := range data {
		data[i] = byte(i % 7)
	}
	writeSource(t, workspace, "english", "tex.vtf", data)
	writeBuildManifest(t, workspace, "client", "mp_test", manifest.Build{
		"tex.vtf": {UseCompression: true},
	})

	cfg, err := codec.ParseLevel("zstd")
	if err != nil {
		t.Fatalf("parse level: %v", err)
	}
	_, dir := packOne(t, workspace, buildPath, cfg)
	e := dir.Entries[0]
	if len(e.Fragments) != 1 {
		t.Fatalf("fragments: %d", len(e.Fragments))
	}
	f := e.Fragments[0]
	if f.CompressedSize >= f.UncompressedSize {
		t.Fatalf("not compressed: %+v", f)
	}

	stored := dataFile(t, buildPath)
	if !codec.HasMarker(stored[f.PackOffset:]) {
		t.Error("stored chunk is not marker-prefixed")
	}
	decoded, err := codec.Decompress(stored[f.PackOffset : f.PackOffset+f.CompressedSize])
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Error("round trip mismatch")
	}
}

func TestPackPreload(t *testing.T) {
	workspace, buildPath := t.TempDir(), t.TempDir()
	data := []byte("0123456789")
	writeSource(t, workspace, "english", "p.txt", data)
	writeBuildManifest(t, workspace, "client", "mp_test", manifest.Build{
		"p.txt": {PreloadSize: 4},
	})

	_, dir := packOne(t, workspace, buildPath, codec.Config{})
	e := dir.Entries[0]
	if !bytes.Equal(e.Preload, []byte("0123")) {
		t.Errorf("preload: %q", e.Preload)
	}
	if len(e.Fragments) != 1 || e.Fragments[0].UncompressedSize != 6 {
		t.Errorf("fragments: %+v", e.Fragments)
	}
	if e.CRC != crc32.ChecksumIEEE(data) {
		t.Error("crc must cover preload and fragments")
	}
}

func TestPackEmptyFile(t *testing.T) {
	workspace, buildPath := t.TempDir(), t.TempDir()
	writeSource(t, workspace, "english", "empty.txt", nil)
	writeBuildManifest(t, workspace, "client", "mp_test", manifest.Build{"empty.txt": {}})

	summary, dir := packOne(t, workspace, buildPath, codec.Config{})
	if summary.Files != 1 {
		t.Fatalf("files: %d", summary.Files)
	}
	e := dir.Entries[0]
	if len(e.Fragments) != 0 {
		t.Errorf("fragments: %+v", e.Fragments)
	}
	if e.CRC != 0 {
		t.Errorf("crc of empty file: %#x", e.CRC)
	}
}

func TestPackMissingSource(t *testing.T) {
	workspace, buildPath := t.TempDir(), t.TempDir()
	writeSource(t, workspace, "english", "here.txt", []byte("x"))
	writeBuildManifest(t, workspace, "client", "mp_test", manifest.Build{
		"here.txt": {},
		"gone.txt": {},
	})

	summary, dir := packOne(t, workspace, buildPath, codec.Config{})
	if summary.Files != 1 || summary.Skipped != 1 {
		t.Errorf("summary: %+v", summary)
	}
	if len(dir.Entries) != 1 || dir.Entries[0].Path != "here.txt" {
		t.Errorf("entries: %+v", dir.Entries)
	}
}

func TestPackStableOutput(t *testing.T) {
	build := manifest.Build{
		"a.txt": {},
		"b.txt": {},
		"c.txt": {},
	}

	var first []byte
	for run := 0; run < 2; run++ {
		workspace, buildPath := t.TempDir(), t.TempDir()
		writeSource(t, workspace, "english", "a.txt", []byte("aaa"))
		writeSource(t, workspace, "english", "b.txt", []byte("bbb"))
		writeSource(t, workspace, "english", "c.txt", []byte("ccc"))
		writeBuildManifest(t, workspace, "client", "mp_test", build)

		// One worker makes chunk offsets deterministic, so the
		// directory file must be byte-identical across runs.
		if _, err := Pack("english", "client", "mp_test", Options{
			Workspace: workspace,
			BuildPath: buildPath,
			Threads:   1,
		}); err != nil {
			t.Fatalf("pack: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(buildPath, vpk.DirFileName("english", "client", "mp_test")))
		if err != nil {
			t.Fatalf("read directory: %v", err)
		}
		if run == 0 {
			first = data
		} else if !bytes.Equal(first, data) {
			t.Error("directory files differ between identical runs")
		}
	}
}
