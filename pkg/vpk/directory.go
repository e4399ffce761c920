package vpk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Fragment list markers. Each chunk descriptor is followed by a 16-bit
// marker: more fragments follow, or the list is finished.
const (
	fragmentMore uint16 = 0x0000
	fragmentLast uint16 = 0xFFFF
)

// DeltaCommonIndex is the reserved pack index referencing the shared
// multi-locale data file instead of a numbered pack file.
const DeltaCommonIndex uint16 = 0x1337

// ChunkDescriptor locates one fragment of a logical file inside a data
// file. A chunk is stored uncompressed when CompressedSize equals
// UncompressedSize.
type ChunkDescriptor struct {
	LoadFlags        uint32
	TextureFlags     uint16
	PackOffset       uint64
	CompressedSize   uint64
	UncompressedSize uint64
}

// EntryBlock describes one logical file: its CRC, preload bytes, the
// index of the data file holding its fragments, and the ordered fragment
// list.
type EntryBlock struct {
	Path      string // Full entry path, forward slashes
	CRC       uint32 // Zlib CRC-32 of the reconstructed file
	PackIndex uint16
	Preload   []byte
	Fragments []ChunkDescriptor
}

// ReconstructedSize returns the byte length of the file this entry
// describes.
func (e *EntryBlock) ReconstructedSize() uint64 {
	size := uint64(len(e.Preload))
	for _, f := range e.Fragments {
		size += f.UncompressedSize
	}
	return size
}

// Compressed reports whether any fragment of this entry is stored
// compressed.
func (e *EntryBlock) Compressed() bool {
	for _, f := range e.Fragments {
		if f.CompressedSize < f.UncompressedSize {
			return true
		}
	}
	return false
}

// Directory is the parsed or under-construction index of an archive.
type Directory struct {
	Header  Header
	Path    string // Path of the directory file, when known
	Entries []EntryBlock
}

// PackIndices returns the distinct pack indices referenced by the
// entries, in ascending order.
func (d *Directory) PackIndices() []uint16 {
	seen := make(map[uint16]bool)
	for i := range d.Entries {
		seen[d.Entries[i].PackIndex] = true
	}
	indices := make([]uint16, 0, len(seen))
	for idx := range seen {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// splitEntryPath splits a full entry path into extension, path and
// filename. The extension is everything after the last dot; the path is
// everything before the last slash of the remainder. A file with no dot
// has an empty extension; a file at the root gets the " " path sentinel.
func splitEntryPath(full string) (ext, dir, name string) {
	rest := full
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		ext = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		dir = rest[:i]
		name = rest[i+1:]
	} else {
		name = rest
	}
	if dir == "" {
		dir = " "
	}
	return ext, dir, name
}

// joinEntryPath is the inverse of splitEntryPath. The " " sentinel at
// any level means empty: the root for paths, no extension, a bare dot
// name.
func joinEntryPath(ext, dir, name string) string {
	if ext == " " {
		ext = ""
	}
	if name == " " {
		name = ""
	}
	full := name
	if dir != " " && dir != "" {
		full = dir + "/" + name
	}
	if ext != "" {
		full += "." + ext
	}
	return full
}

// tree groups entries by extension, then path, preserving first-appearance
// order at every level so a rebuilt directory serializes identically
// within a run.
type treeGroup struct {
	key  string
	subs []string
}

func groupEntries(entries []EntryBlock) (exts []treeGroup, byExtPath map[string]map[string][]*EntryBlock) {
	byExtPath = make(map[string]map[string][]*EntryBlock)
	var order []treeGroup
	extPos := make(map[string]int)

	for i := range entries {
		e := &entries[i]
		ext, dir, _ := splitEntryPath(e.Path)
		paths, ok := byExtPath[ext]
		if !ok {
			paths = make(map[string][]*EntryBlock)
			byExtPath[ext] = paths
			extPos[ext] = len(order)
			order = append(order, treeGroup{key: ext})
		}
		if _, ok := paths[dir]; !ok {
			g := &order[extPos[ext]]
			g.subs = append(g.subs, dir)
		}
		paths[dir] = append(paths[dir], e)
	}
	return order, byExtPath
}

// MarshalTree serializes the extension/path/filename tree section that
// follows the header.
func (d *Directory) MarshalTree() ([]byte, error) {
	buf := new(bytes.Buffer)
	exts, byExtPath := groupEntries(d.Entries)

	// An empty string at any level would collide with the level
	// terminator, so empty keys are stored as the " " sentinel.
	writeString := func(s string) {
		if s == "" {
			s = " "
		}
		buf.WriteString(s)
		buf.WriteByte(0)
	}

	for _, extGroup := range exts {
		writeString(extGroup.key)
		for _, dir := range extGroup.subs {
			writeString(dir)
			for _, e := range byExtPath[extGroup.key][dir] {
				_, _, name := splitEntryPath(e.Path)
				writeString(name)

				if len(e.Preload) > int(^uint16(0)) {
					return nil, fmt.Errorf("entry %s: preload too large", e.Path)
				}
				binary.Write(buf, binary.LittleEndian, e.CRC)
				binary.Write(buf, binary.LittleEndian, uint16(len(e.Preload)))
				binary.Write(buf, binary.LittleEndian, e.PackIndex)
				buf.Write(e.Preload)

				// The fragment list is never empty on the wire: a
				// zero-fragment entry stores one all-zero
				// placeholder descriptor, a shape no real chunk
				// can take.
				fragments := e.Fragments
				if len(fragments) == 0 {
					fragments = []ChunkDescriptor{{}}
				}
				for i := range fragments {
					f := &fragments[i]
					binary.Write(buf, binary.LittleEndian, f.LoadFlags)
					binary.Write(buf, binary.LittleEndian, f.TextureFlags)
					binary.Write(buf, binary.LittleEndian, f.PackOffset)
					binary.Write(buf, binary.LittleEndian, f.CompressedSize)
					binary.Write(buf, binary.LittleEndian, f.UncompressedSize)
					if i == len(fragments)-1 {
						binary.Write(buf, binary.LittleEndian, fragmentLast)
					} else {
						binary.Write(buf, binary.LittleEndian, fragmentMore)
					}
				}
			}
			buf.WriteByte(0) // end of filenames under this path
		}
		buf.WriteByte(0) // end of paths under this extension
	}
	buf.WriteByte(0) // end of extensions

	return buf.Bytes(), nil
}

// MarshalBinary serializes the full directory file: header followed by
// the tree, with TreeSize patched to the serialized tree length.
func (d *Directory) MarshalBinary() ([]byte, error) {
	tree, err := d.MarshalTree()
	if err != nil {
		return nil, err
	}
	d.Header.TreeSize = uint32(len(tree))
	d.Header.SignatureSize = 0

	head, err := d.Header.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(head, tree...), nil
}

// treeReader is a cursor over the tree section with truncation checks.
type treeReader struct {
	data []byte
	pos  int
}

func (r *treeReader) readString() (string, error) {
	i := bytes.IndexByte(r.data[r.pos:], 0)
	if i < 0 {
		return "", fmt.Errorf("%w: unterminated string at offset %d", ErrTruncated, r.pos)
	}
	s := string(r.data[r.pos : r.pos+i])
	r.pos += i + 1
	return s, nil
}

func (r *treeReader) readBytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d", ErrTruncated, n, r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *treeReader) readU16() (uint16, error) {
	b, err := r.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *treeReader) readU32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *treeReader) readU64() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *treeReader) readEntry(ext, dir, name string) (EntryBlock, error) {
	e := EntryBlock{Path: joinEntryPath(ext, dir, name)}

	crc, err := r.readU32()
	if err != nil {
		return e, err
	}
	preloadSize, err := r.readU16()
	if err != nil {
		return e, err
	}
	packIndex, err := r.readU16()
	if err != nil {
		return e, err
	}
	e.CRC = crc
	e.PackIndex = packIndex

	if preloadSize > 0 {
		preload, err := r.readBytes(int(preloadSize))
		if err != nil {
			return e, err
		}
		e.Preload = append([]byte(nil), preload...)
	}

	for {
		var f ChunkDescriptor
		if f.LoadFlags, err = r.readU32(); err != nil {
			return e, err
		}
		if f.TextureFlags, err = r.readU16(); err != nil {
			return e, err
		}
		if f.PackOffset, err = r.readU64(); err != nil {
			return e, err
		}
		if f.CompressedSize, err = r.readU64(); err != nil {
			return e, err
		}
		if f.UncompressedSize, err = r.readU64(); err != nil {
			return e, err
		}
		e.Fragments = append(e.Fragments, f)

		marker, err := r.readU16()
		if err != nil {
			return e, err
		}
		if marker == fragmentLast {
			break
		}
		if marker != fragmentMore {
			return e, fmt.Errorf("%w: unexpected fragment marker %#04x at offset %d", ErrTruncated, marker, r.pos-2)
		}
	}

	// A lone all-zero descriptor is the placeholder for an empty
	// fragment list.
	if len(e.Fragments) == 1 && e.Fragments[0] == (ChunkDescriptor{}) {
		e.Fragments = nil
	}
	return e, nil
}

// UnmarshalBinary parses a full directory file.
func (d *Directory) UnmarshalBinary(data []byte) error {
	if err := d.Header.UnmarshalBinary(data); err != nil {
		return err
	}

	end := HeaderSize + int(d.Header.TreeSize)
	if end > len(data) {
		return fmt.Errorf("%w: tree declares %d bytes, file has %d after header",
			ErrTruncated, d.Header.TreeSize, len(data)-HeaderSize)
	}

	r := &treeReader{data: data[:end], pos: HeaderSize}
	d.Entries = d.Entries[:0]

	for {
		ext, err := r.readString()
		if err != nil {
			return err
		}
		if ext == "" {
			break
		}
		for {
			dir, err := r.readString()
			if err != nil {
				return err
			}
			if dir == "" {
				break
			}
			for {
				name, err := r.readString()
				if err != nil {
					return err
				}
				if name == "" {
					break
				}
				e, err := r.readEntry(ext, dir, name)
				if err != nil {
					return err
				}
				d.Entries = append(d.Entries, e)
			}
		}
	}
	return nil
}

// ReadFile reads and parses a directory file.
func ReadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	d := &Directory{Path: path}
	if err := d.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return d, nil
}

// WriteFile serializes the directory and writes it to path.
func WriteFile(path string, d *Directory) error {
	data, err := d.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write directory file: %w", err)
	}
	d.Path = path
	return nil
}
