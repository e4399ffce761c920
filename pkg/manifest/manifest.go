// Package manifest reads and writes the textual build manifests that
// drive packing: one keyed record per file, either for a single locale
// or keyed by locale for the multi-locale workflow.
package manifest

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/goopsie/revpk/pkg/vpk"
)

// FileOptions is the per-file build record.
type FileOptions struct {
	PreloadSize    uint16 `yaml:"preloadSize"`
	LoadFlags      uint32 `yaml:"loadFlags"`
	TextureFlags   uint16 `yaml:"textureFlags"`
	UseCompression bool   `yaml:"useCompression"`
	DeDuplicate    bool   `yaml:"deDuplicate"`
}

// Build maps entry paths to their build records for one locale.
type Build map[string]FileOptions

// Multi maps locales to their per-file build records.
type Multi map[string]Build

// Paths returns the entry paths of a build manifest in sorted order.
func (b Build) Paths() []string {
	paths := make([]string, 0, len(b))
	for p := range b {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Locales returns the locales of a multi-locale manifest with english
// first, the rest sorted. English entries must be packed before the
// locales that fall back to them.
func (m Multi) Locales() []string {
	locales := make([]string, 0, len(m))
	for l := range m {
		if l != vpk.DefaultLocale {
			locales = append(locales, l)
		}
	}
	sort.Strings(locales)
	if _, ok := m[vpk.DefaultLocale]; ok {
		locales = append([]string{vpk.DefaultLocale}, locales...)
	}
	return locales
}

// Complete fills every locale with records for files it lacks, copying
// the english record, so each locale holds a complete view.
func (m Multi) Complete() {
	english, ok := m[vpk.DefaultLocale]
	if !ok {
		return
	}
	for locale, build := range m {
		if locale == vpk.DefaultLocale {
			continue
		}
		for path, opts := range english {
			if _, ok := build[path]; !ok {
				build[path] = opts
			}
		}
	}
}

// FromDirectory derives a build manifest from an existing directory.
// Compression is recorded when any fragment of the entry is stored
// compressed; flags come from the first fragment.
func FromDirectory(d *vpk.Directory) Build {
	b := make(Build, len(d.Entries))
	for i := range d.Entries {
		e := &d.Entries[i]
		opts := FileOptions{
			PreloadSize: uint16(len(e.Preload)),
			DeDuplicate: true,
		}
		if len(e.Fragments) > 0 {
			opts.LoadFlags = e.Fragments[0].LoadFlags
			opts.TextureFlags = e.Fragments[0].TextureFlags
		}
		opts.UseCompression = e.Compressed()
		b[e.Path] = opts
	}
	return b
}

// ReadBuild reads a single-locale build manifest.
func ReadBuild(path string) (Build, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	b := make(Build)
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", vpk.ErrManifestParse, path, err)
	}
	return b, nil
}

// WriteBuild writes a single-locale build manifest.
func WriteBuild(path string, b Build) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadMulti reads a multi-locale build manifest.
func ReadMulti(path string) (Multi, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m := make(Multi)
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", vpk.ErrManifestParse, path, err)
	}
	return m, nil
}

// WriteMulti writes a multi-locale build manifest.
func WriteMulti(path string, m Multi) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
