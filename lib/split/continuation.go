// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package split

import (
	"fmt"
	"strings"
)

// ContinuationRecord is the metadata emitted at the start of every
// chunk that continues an entry whose payload was cut by a chunk
// boundary. It is stored as the JSON payload of a synthesized tar
// entry named by [MetadataName], immediately followed by a
// synthesized header for the resumed payload.
//
// Invariant: concatenating the payload bytes of all chunks that
// reference the same entry, in chunk order, reproduces the entry's
// payload exactly. StartOffset makes violations detectable: each
// segment's offset must equal the sum of all prior segment sizes.
type ContinuationRecord struct {
	// Path is the entry's effective path (after any PAX or GNU
	// long-name override).
	Path string `json:"path"`

	// StartOffset is the number of payload bytes already emitted in
	// prior chunks. Always greater than zero: the first segment of a
	// split entry keeps its original header and needs no record.
	StartOffset int64 `json:"start_offset"`

	// ChunkSize is the number of payload bytes this chunk carries.
	ChunkSize int64 `json:"chunk_size"`

	// TotalSize is the entry's full payload size.
	TotalSize int64 `json:"total_size"`
}

// Validate checks a record against the entry it claims to continue.
func (r *ContinuationRecord) Validate(path string, consumed, total int64) error {
	if r.Path != path {
		return fmt.Errorf("continuation names entry %q, expected %q", r.Path, path)
	}
	if r.StartOffset != consumed {
		return fmt.Errorf("continuation of %q starts at offset %d, expected %d", r.Path, r.StartOffset, consumed)
	}
	if r.TotalSize != total {
		return fmt.Errorf("continuation of %q declares total size %d, expected %d", r.Path, r.TotalSize, total)
	}
	if r.ChunkSize <= 0 || r.ChunkSize > total-consumed {
		return fmt.Errorf("continuation of %q carries %d bytes, expected between 1 and %d",
			r.Path, r.ChunkSize, total-consumed)
	}
	return nil
}

// MetadataName returns the synthesized entry name for a continuation
// record: the entry's own path plus a recognizable suffix, so a
// chunk listed with stock tar tools shows which entry it resumes and
// which segment it holds. Segments count from 1 (segment 0 is the
// original-headed first part).
func MetadataName(path string, segment int) string {
	return fmt.Sprintf("%s.split-metadata.%d.json", path, segment)
}

// IsMetadataName reports whether a name follows the continuation
// metadata naming scheme.
func IsMetadataName(name string) bool {
	rest, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return false
	}
	dot := strings.LastIndexByte(rest, '.')
	if dot < 0 || dot == len(rest)-1 {
		return false
	}
	for _, r := range rest[dot+1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return strings.HasSuffix(rest[:dot], ".split-metadata")
}
