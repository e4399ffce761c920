package pack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/goopsie/revpk/pkg/manifest"
	"github.com/goopsie/revpk/pkg/vpk"
)

// serverExcludedExts are file extensions never shipped to the server
// stream.
var serverExcludedExts = map[string]bool{
	".raw": true, ".vcs": true, ".vtf": true, ".vfont": true,
	".vbf": true, ".bsp_lump": true, ".vvd": true, ".vtx": true,
}

// serverExcludedDirs are top-level directories never shipped to the
// server stream.
var serverExcludedDirs = map[string]bool{
	"depot": true, "media": true, "shaders": true, "sound": true,
}

// serverExcluded reports whether a file stays out of the server stream.
func serverExcluded(entryPath, srcMap string) bool {
	if srcMap == "mp_npe" {
		return true
	}
	if serverExcludedExts[strings.ToLower(filepath.Ext(entryPath))] {
		return true
	}
	top := entryPath
	if i := strings.IndexByte(top, '/'); i >= 0 {
		top = top[:i]
	} else {
		return false
	}
	return serverExcludedDirs[strings.ToLower(top)]
}

// effectiveMap rehomes .bsp files into the synthetic mp_common map; all
// other files keep their source map.
func effectiveMap(entryPath, srcMap string) string {
	if strings.EqualFold(filepath.Ext(entryPath), ".bsp") {
		return "mp_common"
	}
	return srcMap
}

// mapNameFromManifest derives the map name from a per-map manifest file
// name. Directory-shaped names contribute their level segment; anything
// else contributes its stem.
func mapNameFromManifest(name string) string {
	stem := strings.TrimSuffix(name, ".vdf")
	const dirShape = ".bsp.pak000_dir"
	if strings.HasSuffix(stem, dirShape) {
		stem = strings.TrimSuffix(stem, dirShape)
		if i := strings.IndexByte(stem, '_'); i >= 0 {
			return stem[i+1:]
		}
	}
	return stem
}

type deltaKey struct {
	srcMap string
	path   string
}

// mapManifest pairs a per-map manifest with the map it was read for.
type mapManifest struct {
	srcMap string
	multi  manifest.Multi
}

// deltaStreams holds the two shared stores, the english fallback
// records, and the per-directory entry lists.
type deltaStreams struct {
	client *ChunkStore
	server *ChunkStore

	mu            sync.Mutex
	englishClient map[deltaKey]vpk.EntryBlock
	clientDirs    map[string]map[string][]vpk.EntryBlock // locale -> effective map
	serverDirs    map[string][]vpk.EntryBlock            // effective map
	files         int
	skipped       int
}

// PackDeltaCommon batch-packs every per-map multi-locale manifest under
// the workspace into two shared data files, the client stream named by
// target and the server stream named by the server context. English
// entries pack first so every later locale has fallback descriptors.
func PackDeltaCommon(target string, opts Options) (*Summary, error) {
	start := time.Now()

	manifestDir := filepath.Join(opts.Workspace, "manifest")
	names, err := os.ReadDir(manifestDir)
	if err != nil {
		return nil, fmt.Errorf("read manifest dir: %w", err)
	}

	var manifests []mapManifest
	for _, de := range names {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".vdf") || name == vpk.MultiManifestFileName {
			continue
		}
		multi, err := manifest.ReadMulti(filepath.Join(manifestDir, name))
		if err != nil {
			return nil, err
		}
		multi.Complete()
		manifests = append(manifests, mapManifest{srcMap: mapNameFromManifest(name), multi: multi})
	}
	if len(manifests) == 0 {
		return nil, fmt.Errorf("no per-map manifests under %s", manifestDir)
	}

	if err := os.MkdirAll(opts.BuildPath, 0755); err != nil {
		return nil, fmt.Errorf("create build path: %w", err)
	}
	clientStore, err := CreateChunkStore(filepath.Join(opts.BuildPath, vpk.DeltaCommonFileName(target)))
	if err != nil {
		return nil, err
	}
	defer clientStore.Close()
	serverStore, err := CreateChunkStore(filepath.Join(opts.BuildPath, vpk.DeltaCommonFileName("server")))
	if err != nil {
		return nil, err
	}
	defer serverStore.Close()

	streams := &deltaStreams{
		client:        clientStore,
		server:        serverStore,
		englishClient: make(map[deltaKey]vpk.EntryBlock),
		clientDirs:    make(map[string]map[string][]vpk.EntryBlock),
		serverDirs:    make(map[string][]vpk.EntryBlock),
	}
	clientPacker := &Packer{Workspace: opts.Workspace, Store: clientStore, Codec: opts.Codec}
	serverPacker := &Packer{Workspace: opts.Workspace, Store: serverStore, Codec: opts.Codec}
	threads := ResolveThreads(opts.Threads)

	// English pass first: later locales fall back to these records.
	for _, locale := range localeOrder(manifests) {
		g := new(errgroup.Group)
		g.SetLimit(threads)
		for _, mm := range manifests {
			build, ok := mm.multi[locale]
			if !ok {
				continue
			}
			for _, path := range build.Paths() {
				mm, locale, path := mm, locale, path
				fileOpts := build[path]
				g.Go(func() error {
					return streams.packOne(clientPacker, serverPacker, locale, mm.srcMap, path, fileOpts)
				})
			}
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	if err := streams.writeDirs(target, opts.BuildPath); err != nil {
		return nil, err
	}

	stats := clientStore.Stats()
	serverStats := serverStore.Stats()
	stats.Chunks += serverStats.Chunks
	stats.ReusedChunks += serverStats.ReusedChunks
	stats.WrittenBytes += serverStats.WrittenBytes
	stats.ReusedBytes += serverStats.ReusedBytes

	return &Summary{
		Files:   streams.files,
		Skipped: streams.skipped,
		Stats:   stats,
		Elapsed: time.Since(start),
	}, nil
}

// localeOrder returns every locale appearing in the manifests, english
// first, the rest sorted.
func localeOrder(manifests []mapManifest) []string {
	seen := make(map[string]bool)
	var locales []string
	hasEnglish := false
	for _, mm := range manifests {
		for l := range mm.multi {
			if l == vpk.DefaultLocale {
				hasEnglish = true
				continue
			}
			if !seen[l] {
				seen[l] = true
				locales = append(locales, l)
			}
		}
	}
	sort.Strings(locales)
	if hasEnglish {
		locales = append([]string{vpk.DefaultLocale}, locales...)
	}
	return locales
}

// packOne packs a single (locale, map, path) job into the client stream
// and, when not excluded, the server stream. A missing non-english
// source reuses the recorded english entry.
func (s *deltaStreams) packOne(clientPacker, serverPacker *Packer, locale, srcMap, path string, fileOpts manifest.FileOptions) error {
	key := deltaKey{srcMap: srcMap, path: path}
	effMap := effectiveMap(path, srcMap)
	toServer := !serverExcluded(path, srcMap)

	clientEntry, err := clientPacker.PackFile(locale, path, fileOpts, vpk.DeltaCommonIndex)
	if errors.Is(err, vpk.ErrMissingSource) {
		s.mu.Lock()
		fallback, ok := s.englishClient[key]
		s.mu.Unlock()
		if !ok {
			log.Warnf("skipping %s/%s/%s: %v", locale, srcMap, path, err)
			s.mu.Lock()
			s.skipped++
			s.mu.Unlock()
			return nil
		}
		clientEntry = fallback
	} else if err != nil {
		return err
	}

	var serverEntry vpk.EntryBlock
	if toServer && locale == vpk.DefaultLocale {
		serverEntry, err = serverPacker.PackFile(locale, path, fileOpts, vpk.DeltaCommonIndex)
		if errors.Is(err, vpk.ErrMissingSource) {
			toServer = false
			err = nil
		}
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if locale == vpk.DefaultLocale {
		s.englishClient[key] = clientEntry
		if toServer {
			s.serverDirs[effMap] = append(s.serverDirs[effMap], serverEntry)
		}
	}
	if s.clientDirs[locale] == nil {
		s.clientDirs[locale] = make(map[string][]vpk.EntryBlock)
	}
	s.clientDirs[locale][effMap] = append(s.clientDirs[locale][effMap], clientEntry)
	s.files++
	return nil
}

// writeDirs emits one client directory file per (locale, map) and one
// server directory file per map.
func (s *deltaStreams) writeDirs(target, buildPath string) error {
	for locale, byMap := range s.clientDirs {
		for effMap, entries := range byMap {
			sortEntries(entries)
			dir := &vpk.Directory{Header: *vpk.NewHeader(), Entries: entries}
			name := vpk.DirFileName(locale, target, effMap)
			if err := vpk.WriteFile(filepath.Join(buildPath, name), dir); err != nil {
				return err
			}
		}
	}
	for effMap, entries := range s.serverDirs {
		sortEntries(entries)
		dir := &vpk.Directory{Header: *vpk.NewHeader(), Entries: entries}
		name := vpk.DirFileName("", "server", effMap)
		if err := vpk.WriteFile(filepath.Join(buildPath, name), dir); err != nil {
			return err
		}
	}
	return nil
}
