// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunkfile

import (
	"fmt"

	"github.com/bureau-foundation/tarshard/lib/codec"
)

// Digest is a 32-byte BLAKE3 digest.
type Digest [32]byte

// DigestRecord is the content of a chunk's ".digest" sidecar file,
// stored as CBOR using Core Deterministic Encoding. Sidecars are
// auxiliary integrity data: sequence ordering and completeness derive
// from the chunk filenames alone, and unpack verifies sidecars only
// when they are present.
type DigestRecord struct {
	// Version is the record format version. Currently 1.
	Version int `json:"version"`

	// Codec is the wire name of the compression codec the chunk was
	// stored with.
	Codec string `json:"codec"`

	// CompressedSize and CompressedDigest cover the chunk file's
	// bytes as stored on disk.
	CompressedSize   int64  `json:"compressed_size"`
	CompressedDigest Digest `json:"compressed_digest"`

	// UncompressedSize and UncompressedDigest cover the chunk's
	// decoded bytes — the block-aligned slice of the split stream.
	UncompressedSize   int64  `json:"uncompressed_size"`
	UncompressedDigest Digest `json:"uncompressed_digest"`
}

// DigestRecordVersion is the current record format version.
const DigestRecordVersion = 1

// sidecarPath returns the digest sidecar path for a chunk file.
func sidecarPath(chunkPath string) string {
	return chunkPath + ".digest"
}

// MarshalDigest encodes a DigestRecord to deterministic CBOR.
func MarshalDigest(record *DigestRecord) ([]byte, error) {
	data, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding digest record: %w", err)
	}
	return data, nil
}

// UnmarshalDigest decodes a CBOR-encoded DigestRecord. Unknown
// fields from future versions are ignored.
func UnmarshalDigest(data []byte) (*DigestRecord, error) {
	var record DigestRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding digest record: %w", err)
	}
	if record.Version < 1 {
		return nil, fmt.Errorf("digest record version %d is invalid (minimum 1)", record.Version)
	}
	return &record, nil
}
