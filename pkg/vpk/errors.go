package vpk

import "errors"

// Sentinel errors returned by directory parsing and the pack/unpack
// pipelines. Callers match them with errors.Is.
var (
	// ErrBadHeader indicates a directory file whose marker or version
	// fields do not match the supported format.
	ErrBadHeader = errors.New("bad directory header")

	// ErrTruncated indicates a directory file that ended before a
	// declared field could be read.
	ErrTruncated = errors.New("truncated directory")

	// ErrMissingSource indicates a manifest entry whose source file
	// does not exist under any content root.
	ErrMissingSource = errors.New("missing source file")

	// ErrEmptySource indicates a zero-length source file.
	ErrEmptySource = errors.New("empty source file")

	// ErrCodec indicates a compression or decompression failure.
	ErrCodec = errors.New("codec failure")

	// ErrManifestParse indicates an unreadable build manifest.
	ErrManifestParse = errors.New("manifest parse failure")
)
