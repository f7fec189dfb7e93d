// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package unpack reconstructs the original tar stream from a chunk
// sequence and optionally extracts it to a directory tree.
//
// Reassembly is strictly sequential: each chunk after the first may
// open with a continuation prologue describing the entry that was cut
// at the previous chunk boundary. The prologue is validated against
// the reassembler's own accounting and stripped; every other block
// passes through verbatim, so the reassembled stream is byte-identical
// to the splitter's input.
package unpack
