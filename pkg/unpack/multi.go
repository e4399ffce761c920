package unpack

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/goopsie/revpk/pkg/manifest"
	"github.com/goopsie/revpk/pkg/vpk"
)

// siblingDirectories finds every locale's directory file sharing the
// base name of the given directory file, in known-locale order.
func siblingDirectories(anyDirFile string) (locales []string, dirs map[string]*vpk.Directory, err error) {
	parent := filepath.Dir(anyDirFile)
	_, base := vpk.StripLocale(filepath.Base(anyDirFile))

	dirs = make(map[string]*vpk.Directory)
	for _, locale := range vpk.Locales {
		path := filepath.Join(parent, locale+base)
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		d, err := vpk.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		locales = append(locales, locale)
		dirs[locale] = d
	}
	if len(locales) == 0 {
		return nil, nil, fmt.Errorf("no locale directory files match %s", base)
	}
	return locales, dirs, nil
}

// UnpackMulti extracts a multi-locale archive set. The fallback locale
// (english when present) is extracted in full; every other locale emits
// only the files whose CRC differs from the fallback. A multi-locale
// manifest covering the union of all locales is written last.
func UnpackMulti(anyDirFile, outRoot string, threads int) (*Summary, error) {
	start := time.Now()

	locales, dirs, err := siblingDirectories(anyDirFile)
	if err != nil {
		return nil, err
	}

	fallbackLocale := locales[0]
	for _, l := range locales {
		if l == vpk.DefaultLocale {
			fallbackLocale = l
			break
		}
	}
	fallback := dirs[fallbackLocale]

	files, failed := extractAll(fallback, filepath.Join(outRoot, "content", fallbackLocale), threads)

	fallbackCRC := make(map[string]uint32, len(fallback.Entries))
	for i := range fallback.Entries {
		fallbackCRC[fallback.Entries[i].Path] = fallback.Entries[i].CRC
	}

	for _, locale := range locales {
		if locale == fallbackLocale {
			continue
		}
		d := dirs[locale]
		diff := &vpk.Directory{Header: d.Header, Path: d.Path}
		for i := range d.Entries {
			e := &d.Entries[i]
			if crc, ok := fallbackCRC[e.Path]; ok && crc == e.CRC {
				continue
			}
			diff.Entries = append(diff.Entries, *e)
		}
		log.Infof("%s: %d of %d entries differ from %s", locale, len(diff.Entries), len(d.Entries), fallbackLocale)

		f, x := extractAll(diff, filepath.Join(outRoot, "content", locale), threads)
		files += f
		failed += x
	}

	multi := make(manifest.Multi, len(locales))
	for _, locale := range locales {
		multi[locale] = manifest.FromDirectory(dirs[locale])
	}
	multi.Complete()

	manifestDir := filepath.Join(outRoot, "manifest")
	if err := os.MkdirAll(manifestDir, 0755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	if err := manifest.WriteMulti(filepath.Join(manifestDir, vpk.MultiManifestFileName), multi); err != nil {
		return nil, err
	}

	summary := &Summary{Files: files, Failed: failed, Elapsed: time.Since(start)}
	if failed > 0 {
		return summary, fmt.Errorf("%d entries failed to extract", failed)
	}
	return summary, nil
}
