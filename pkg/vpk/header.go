// Package vpk implements the binary directory format of VPK archives:
// the 16-byte header, the extension/path/filename tree with embedded
// chunk descriptors, and the file naming rules shared by the pack and
// unpack pipelines.
package vpk

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Format constants for the directory header.
const (
	Marker       uint32 = 0x55AA1234
	VersionMajor uint16 = 2
	VersionMinor uint16 = 3

	// HeaderSize is the binary size of the header.
	HeaderSize = 16

	// ChunkMax is the maximum uncompressed size of a single chunk.
	ChunkMax = 1024 * 1024
)

// Header represents the fixed-size header of a directory file.
type Header struct {
	Marker        uint32
	VersionMajor  uint16
	VersionMinor  uint16
	TreeSize      uint32 // Byte length of the tree section following the header
	SignatureSize uint32 // Always zero on write
}

// NewHeader creates a header with the supported marker and version.
// TreeSize starts at zero and is patched after the tree is serialized.
func NewHeader() *Header {
	return &Header{
		Marker:       Marker,
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
	}
}

// Validate checks the header against the supported format.
func (h *Header) Validate() error {
	if h.Marker != Marker {
		return fmt.Errorf("%w: marker %#08x", ErrBadHeader, h.Marker)
	}
	if h.VersionMajor != VersionMajor || h.VersionMinor != VersionMinor {
		return fmt.Errorf("%w: version %d.%d", ErrBadHeader, h.VersionMajor, h.VersionMinor)
	}
	return nil
}

// MarshalBinary encodes the header to binary format.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes the header from binary format and validates it.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(data))
	}
	buf := bytes.NewReader(data[:HeaderSize])
	if err := binary.Read(buf, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("unmarshal header: %w", err)
	}
	return h.Validate()
}
