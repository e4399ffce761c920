package vpk

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Locales is the closed set of known locales. Order matters: prefix
// stripping tries them in this order.
var Locales = []string{
	"english",
	"french",
	"german",
	"italian",
	"spanish",
	"russian",
	"polish",
	"japanese",
	"korean",
	"tchinese",
	"portuguese",
}

// DefaultLocale is used when an empty locale is given.
const DefaultLocale = "english"

const (
	dirSuffix  = "_dir.vpk"
	vpkSuffix  = ".vpk"
	packInfix  = ".bsp.pak000_"
	deltaLevel = "mp_delta_common"
)

// KnownLocale reports whether locale is one of the known locales.
func KnownLocale(locale string) bool {
	for _, l := range Locales {
		if l == locale {
			return true
		}
	}
	return false
}

// PackFileName returns the data file name for a numbered patch index.
func PackFileName(target, level string, patch int) string {
	return fmt.Sprintf("%s_%s%s%03d%s", target, level, packInfix, patch, vpkSuffix)
}

// DirFileName returns the directory file name for a locale. The empty
// locale names as english.
func DirFileName(locale, target, level string) string {
	if locale == "" {
		locale = DefaultLocale
	}
	return fmt.Sprintf("%s%s_%s%sdir%s", locale, target, level, packInfix, vpkSuffix)
}

// DeltaCommonFileName returns the shared multi-locale data file name for
// a target context.
func DeltaCommonFileName(target string) string {
	return fmt.Sprintf("%s_%s%s000%s", target, deltaLevel, packInfix, vpkSuffix)
}

// ManifestFileName returns the build-manifest file name for a target and
// level: the locale-stripped directory name with a .vdf extension.
func ManifestFileName(target, level string) string {
	return fmt.Sprintf("%s_%s%sdir.vdf", target, level, packInfix)
}

// MultiManifestFileName is the file name of the multi-locale manifest.
const MultiManifestFileName = "multiLangManifest.vdf"

// StripLocale removes a leading known-locale prefix from a directory
// file base name. When no prefix matches, the locale is empty and the
// name is returned unchanged.
func StripLocale(name string) (locale, base string) {
	for _, l := range Locales {
		if strings.HasPrefix(name, l) {
			return l, strings.TrimPrefix(name, l)
		}
	}
	return "", name
}

// ParseDirName splits a directory file base name (with or without a
// locale prefix) into its locale, target and level. An absent locale
// reports as english.
func ParseDirName(name string) (locale, target, level string, err error) {
	locale, base := StripLocale(name)
	if locale == "" {
		locale = DefaultLocale
	}
	if !strings.HasSuffix(base, packInfix+"dir"+vpkSuffix) {
		return "", "", "", fmt.Errorf("not a directory file name: %s", name)
	}
	base = strings.TrimSuffix(base, packInfix+"dir"+vpkSuffix)
	i := strings.IndexByte(base, '_')
	if i < 0 {
		return "", "", "", fmt.Errorf("no target prefix in name: %s", name)
	}
	return locale, base[:i], base[i+1:], nil
}

// PackFileForIndex resolves the data file referenced by a pack index,
// relative to the directory file it came from. The reserved delta-common
// index resolves through the directory's own target context; any other
// index substitutes the numbered patch suffix for the locale-stripped
// directory name.
func PackFileForIndex(dirFile string, index uint16) (string, error) {
	dir := filepath.Dir(dirFile)
	name := filepath.Base(dirFile)

	_, target, level, err := ParseDirName(name)
	if err != nil {
		return "", err
	}
	if index == DeltaCommonIndex {
		return filepath.Join(dir, DeltaCommonFileName(target)), nil
	}
	return filepath.Join(dir, PackFileName(target, level, int(index))), nil
}

// Sanitize rewrites a data file path into the matching directory file
// path. A path that already names a directory file is returned
// unchanged.
func Sanitize(path string) string {
	name := filepath.Base(path)
	if strings.HasSuffix(name, dirSuffix) {
		return path
	}
	i := strings.LastIndex(name, packInfix)
	if i < 0 || !strings.HasSuffix(name, vpkSuffix) {
		return path
	}
	patch := strings.TrimSuffix(name[i+len(packInfix):], vpkSuffix)
	if len(patch) != 3 {
		return path
	}
	for _, c := range patch {
		if c < '0' || c > '9' {
			return path
		}
	}
	return filepath.Join(filepath.Dir(path), name[:i+len(packInfix)]+"dir"+vpkSuffix)
}
