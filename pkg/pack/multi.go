package pack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/goopsie/revpk/pkg/manifest"
	"github.com/goopsie/revpk/pkg/vpk"
)

// PackMulti packs every locale of the multi-locale manifest into one
// shared data file, then writes one directory file per locale.
// Deduplication in the shared chunk store makes identical bytes across
// locales free.
func PackMulti(target, level string, opts Options) (*Summary, error) {
	start := time.Now()

	multi, err := manifest.ReadMulti(filepath.Join(opts.Workspace, "manifest", vpk.MultiManifestFileName))
	if err != nil {
		return nil, err
	}
	multi.Complete()

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
		mu       sync.Mutex
		byLocale = make(map[string][]vpk.EntryBlock)
		files    int
		skipped  int
	)

	g := new(errgroup.Group)
	g.SetLimit(ResolveThreads(opts.Threads))
	for _, locale := range multi.Locales() {
		build := multi[locale]
		for _, path := range build.Paths() {
			locale, path := locale, path
			fileOpts := build[path]
			g.Go(func() error {
				entry, err := packer.PackFile(locale, path, fileOpts, 0)
				if errors.Is(err, vpk.ErrMissingSource) {
					log.Warnf("skipping %s/%s: %v", locale, path, err)
					mu.Lock()
					skipped++
					mu.Unlock()
					return nil
				}
				if err != nil {
					return err
				}
				mu.Lock()
				byLocale[locale] = append(byLocale[locale], entry)
				files++
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for locale, entries := range byLocale {
		sortEntries(entries)
		dir := &vpk.Directory{Header: *vpk.NewHeader(), Entries: entries}
		if err := vpk.WriteFile(filepath.Join(opts.BuildPath, vpk.DirFileName(locale, target, level)), dir); err != nil {
			return nil, err
		}
	}

	return &Summary{
		Files:   files,
		Skipped: skipped,
		Stats:   store.Stats(),
		Elapsed: time.Since(start),
	}, nil
}
