// Package pack implements the chunked content-addressed packing
// pipeline: splitting source files into chunks, compressing them,
// deduplicating by fingerprint, and appending to a shared data file.
package pack

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/goopsie/revpk/pkg/vpk"
)

// Fingerprint returns the content-addressed fingerprint of a chunk: a
// stable 16-character lowercase hex encoding of its 64-bit hash.
// Fingerprints are computed over the raw chunk bytes, before any codec
// runs, so identical source chunks deduplicate regardless of codec
// settings.
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Stats counts the work a chunk store has done.
type Stats struct {
	Chunks       uint64 // Chunks offered to the store
	ReusedChunks uint64 // Chunks satisfied from the index
	WrittenBytes uint64 // Bytes appended to the data file
	ReusedBytes  uint64 // Stored bytes saved by deduplication
}

// ChunkStore is an append-only writer over a single data file combined
// with a fingerprint index. It is shared by all concurrent pack tasks:
// the index is mutex-guarded, and the write position is an atomic
// counter so the file writes themselves never serialize.
type ChunkStore struct {
	file   *os.File
	offset atomic.Int64

	mu    sync.Mutex
	index map[string]vpk.ChunkDescriptor
	stats Stats
}

// CreateChunkStore creates (or truncates) the data file at path and
// returns a store appending to it.
func CreateChunkStore(path string) (*ChunkStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create data file: %w", err)
	}
	return &ChunkStore{
		file:  f,
		index: make(map[string]vpk.ChunkDescriptor),
	}, nil
}

// Put stores a chunk unless an identical one is already present. The
// template carries LoadFlags, TextureFlags and UncompressedSize from
// the caller; PackOffset and CompressedSize are filled in by the store.
// On a fingerprint hit the first writer's descriptor is returned
// unchanged.
//
// The critical section covers only the index lookup and the offset
// reservation; the file write happens outside it at the reserved
// position.
func (s *ChunkStore) Put(fingerprint string, data []byte, template vpk.ChunkDescriptor) (vpk.ChunkDescriptor, error) {
	size := int64(len(data))

	s.mu.Lock()
	s.stats.Chunks++
	if desc, ok := s.index[fingerprint]; ok {
		s.stats.ReusedChunks++
		s.stats.ReusedBytes += uint64(desc.CompressedSize)
		s.mu.Unlock()
		return desc, nil
	}
	offset := s.offset.Add(size) - size
	desc := template
	desc.PackOffset = uint64(offset)
	desc.CompressedSize = uint64(size)
	s.index[fingerprint] = desc
	s.stats.WrittenBytes += uint64(size)
	s.mu.Unlock()

	if _, err := s.file.WriteAt(data, offset); err != nil {
		return desc, fmt.Errorf("write chunk at %d: %w", offset, err)
	}
	return desc, nil
}

// Size returns the number of bytes reserved in the data file so far.
func (s *ChunkStore) Size() int64 {
	return s.offset.Load()
}

// Stats returns a snapshot of the store's counters.
func (s *ChunkStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close closes the underlying data file.
func (s *ChunkStore) Close() error {
	return s.file.Close()
}
