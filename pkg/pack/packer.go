package pack

import (
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/goopsie/revpk/pkg/codec"
	"github.com/goopsie/revpk/pkg/manifest"
	"github.com/goopsie/revpk/pkg/vpk"
)

// Options configures a pack operation.
type Options struct {
	Workspace string // Source root holding content/ and manifest/
	BuildPath string // Output directory for pack and directory files
	Threads   int    // Worker count; <=0 selects hardware concurrency - 1
	Codec     codec.Config
}

// ResolveThreads maps the thread-count option to an effective worker
// count.
func ResolveThreads(n int) int {
	if n <= 0 {
		n = runtime.NumCPU() - 1
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Summary reports the outcome of a pack operation.
type Summary struct {
	Files   int
	Skipped int
	Stats   Stats
	Elapsed time.Duration
}

// Packer runs the per-file pipeline: read source, split into chunks,
// compress, dedupe-or-append, and collect descriptors into an entry
// block.
type Packer struct {
	Workspace string
	Store     *ChunkStore
	Codec     codec.Config
}

// resolveSource finds the source file for an entry path, preferring the
// locale's own content tree and falling back to english.
func (p *Packer) resolveSource(locale, entryPath string) (string, error) {
	candidate := filepath.Join(p.Workspace, "content", locale, filepath.FromSlash(entryPath))
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	if locale != vpk.DefaultLocale {
		candidate = filepath.Join(p.Workspace, "content", vpk.DefaultLocale, filepath.FromSlash(entryPath))
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", vpk.ErrMissingSource, locale, entryPath)
}

// PackFile packs one source file and returns its entry block. A missing
// source returns ErrMissingSource; an empty source returns a
// zero-fragment entry block.
func (p *Packer) PackFile(locale, entryPath string, opts manifest.FileOptions, packIndex uint16) (vpk.EntryBlock, error) {
	entry := vpk.EntryBlock{Path: entryPath, PackIndex: packIndex}

	src, err := p.resolveSource(locale, entryPath)
	if err != nil {
		return entry, err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return entry, fmt.Errorf("read source %s: %w", src, err)
	}

	entry.CRC = crc32.ChecksumIEEE(data)
	if len(data) == 0 {
		log.Warnf("%v: %s", vpk.ErrEmptySource, src)
		return entry, nil
	}

	rest := data
	if opts.PreloadSize > 0 && int(opts.PreloadSize) <= len(data) {
		entry.Preload = append([]byte(nil), data[:opts.PreloadSize]...)
		rest = data[opts.PreloadSize:]
	}

	for len(rest) > 0 {
		n := len(rest)
		if n > vpk.ChunkMax {
			n = vpk.ChunkMax
		}
		raw := rest[:n]
		rest = rest[n:]

		final := raw
		if opts.UseCompression {
			compressed, err := codec.Compress(raw, p.Codec)
			switch {
			case err != nil:
				log.Warnf("compress chunk of %s: %v; storing raw", entryPath, err)
			case len(compressed) < len(raw):
				final = compressed
			}
		}

		template := vpk.ChunkDescriptor{
			LoadFlags:        opts.LoadFlags,
			TextureFlags:     opts.TextureFlags,
			UncompressedSize: uint64(n),
		}
		desc, err := p.Store.Put(Fingerprint(raw), final, template)
		if err != nil {
			return entry, err
		}
		entry.Fragments = append(entry.Fragments, desc)
	}
	return entry, nil
}

// Pack runs a single-locale pack: one directory file, one data file.
func Pack(locale, target, level string, opts Options) (*Summary, error) {
	start := time.Now()
	if locale == "" {
		locale = vpk.DefaultLocale
	}

	build, err := manifest.ReadBuild(filepath.Join(opts.Workspace, "manifest", vpk.ManifestFileName(target, level)))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.BuildPath, 0755); err != nil {
		return nil, fmt.Errorf("create build path: %w", err)
	}

	store, err := CreateChunkStore(filepath.Join(opts.BuildPath, vpk.PackFileName(target, level, 0)))
	if err != nil {
		return nil, err
	}
	defer store.Close()

	packer := &Packer{Workspace: opts.Workspace, Store: store, Codec: opts.Codec}

	var (
		mu      sync.Mutex
		entries []vpk.EntryBlock
		skipped int
	)

	g := new(errgroup.Group)
	g.SetLimit(ResolveThreads(opts.Threads))
	for _, path := range build.Paths() {
		path := path
		fileOpts := build[path]
		g.Go(func() error {
			entry, err := packer.PackFile(locale, path, fileOpts, 0)
			if errors.Is(err, vpk.ErrMissingSource) {
				log.Warnf("skipping %s: %v", path, err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			entries = append(entries, entry)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortEntries(entries)
	dir := &vpk.Directory{Header: *vpk.NewHeader(), Entries: entries}
	if err := vpk.WriteFile(filepath.Join(opts.BuildPath, vpk.DirFileName(locale, target, level)), dir); err != nil {
		return nil, err
	}

	return &Summary{
		Files:   len(entries),
		Skipped: skipped,
		Stats:   store.Stats(),
		Elapsed: time.Since(start),
	}, nil
}

// sortEntries fixes the order of entries inside a directory so repeated
// runs over the same inputs produce byte-identical directory files.
func sortEntries(entries []vpk.EntryBlock) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}
