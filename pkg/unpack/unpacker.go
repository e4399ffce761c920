// Package unpack implements the inverse pipeline: parse a directory
// file, locate each entry's fragments in the data files, detect the
// codec per fragment, decompress, and write the reconstructed tree.
package unpack

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/goopsie/revpk/pkg/codec"
	"github.com/goopsie/revpk/pkg/manifest"
	"github.com/goopsie/revpk/pkg/pack"
	"github.com/goopsie/revpk/pkg/vpk"
)

// Summary reports the outcome of an unpack operation.
type Summary struct {
	Files   int
	Failed  int
	Elapsed time.Duration
}

// extractEntry reconstructs one entry block under destRoot. The pack
// file is resolved relative to the directory file the entry came from;
// each call owns its own file handles.
func extractEntry(dirFile string, e *vpk.EntryBlock, destRoot string) error {
	outPath := filepath.Join(destRoot, filepath.FromSlash(e.Path))
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	if len(e.Preload) > 0 {
		if _, err := out.Write(e.Preload); err != nil {
			return fmt.Errorf("write preload: %w", err)
		}
	}
	if len(e.Fragments) == 0 {
		return nil
	}

	packPath, err := vpk.PackFileForIndex(dirFile, e.PackIndex)
	if err != nil {
		return err
	}
	pf, err := os.Open(packPath)
	if err != nil {
		return fmt.Errorf("open pack file: %w", err)
	}
	defer pf.Close()

	for i := range e.Fragments {
		f := &e.Fragments[i]
		if f.PackOffset == 0 && f.CompressedSize == 0 {
			// Placeholder dedup reference with no primary data
			// in this pack file.
			continue
		}
		stored := make([]byte, f.CompressedSize)
		if _, err := pf.ReadAt(stored, int64(f.PackOffset)); err != nil {
			return fmt.Errorf("read fragment %d of %s: %w", i, e.Path, err)
		}

		raw := stored
		if f.CompressedSize != f.UncompressedSize {
			raw, err = codec.Decompress(stored)
			if err != nil {
				return fmt.Errorf("%w: fragment %d of %s: %v", vpk.ErrCodec, i, e.Path, err)
			}
			if uint64(len(raw)) != f.UncompressedSize {
				return fmt.Errorf("%w: fragment %d of %s: got %d bytes, want %d",
					vpk.ErrCodec, i, e.Path, len(raw), f.UncompressedSize)
			}
		}
		if _, err := out.Write(raw); err != nil {
			return fmt.Errorf("write fragment %d of %s: %w", i, e.Path, err)
		}
	}
	return nil
}

// extractAll runs entry extraction tasks for every entry of a
// directory. Entry failures are logged and counted; peers continue.
func extractAll(d *vpk.Directory, destRoot string, threads int) (files, failed int) {
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(pack.ResolveThreads(threads))

	for i := range d.Entries {
		e := &d.Entries[i]
		g.Go(func() error {
			if err := extractEntry(d.Path, e, destRoot); err != nil {
				log.Warnf("extract %s: %v", e.Path, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			files++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return files, failed
}

// Unpack extracts a single-locale archive into the workspace layout
// under outRoot and re-exports its build manifest.
func Unpack(dirFile, outRoot string, threads int) (*Summary, error) {
	start := time.Now()

	d, err := vpk.ReadFile(dirFile)
	if err != nil {
		return nil, err
	}
	locale, target, level, err := vpk.ParseDirName(filepath.Base(dirFile))
	if err != nil {
		return nil, err
	}

	files, failed := extractAll(d, filepath.Join(outRoot, "content", locale), threads)

	manifestDir := filepath.Join(outRoot, "manifest")
	if err := os.MkdirAll(manifestDir, 0755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	name := vpk.ManifestFileName(target, level)
	if err := manifest.WriteBuild(filepath.Join(manifestDir, name), manifest.FromDirectory(d)); err != nil {
		return nil, err
	}

	summary := &Summary{Files: files, Failed: failed, Elapsed: time.Since(start)}
	if failed > 0 {
		return summary, fmt.Errorf("%d entries failed to extract", failed)
	}
	return summary, nil
}
