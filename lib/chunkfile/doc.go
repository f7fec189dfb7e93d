// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkfile persists and rediscovers chunk sequences.
//
// [Sink] writes chunks to "<prefix>.NNN" files with zero-padded
// numeric suffixes assigned strictly in emission order, compressing
// each chunk independently and optionally recording BLAKE3 digests in
// a CBOR sidecar per chunk.
//
// [Discover] inverts this: it scans a directory, orders the files by
// parsed numeric suffix (never by listing order, which is neither
// stable nor numeric), and rejects the sequence if the suffixes are
// not contiguous from zero — a gap, including the missing final
// chunks of an aborted split run, makes the whole sequence unusable.
//
// There is no manifest file. Ordering and completeness derive
// entirely from the filenames; sidecars add integrity checking but
// carry no sequencing information.
package chunkfile
