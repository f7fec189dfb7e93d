// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tarblock reads tar streams at block granularity.
//
// The tar format aligns everything to 512-byte blocks, and that
// alignment is what makes size-bounded splitting possible at all: a
// cut placed on a block boundary at an entry boundary (real or
// synthesized) leaves both sides independently parseable. This
// package provides the two lowest pipeline stages:
//
// [Cursor] reads exactly one block per call and is the single point
// of alignment enforcement. [Tracker] classifies each block as
// header, payload, or trailer, maintains the open entry's remaining
// payload, applies PAX size/path overrides and GNU long-name
// overrides so that framing stays correct for entries whose fixed
// header fields lie, and detects the two-zero-block terminator.
//
// Neither type writes output. Splitting decisions belong to
// lib/split; this package only answers "what is this block, and
// where may a cut go".
package tarblock
