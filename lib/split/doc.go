// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package split cuts a tar stream into bounded, individually
// meaningful chunks. Chunks are cut only at block boundaries, header
// groups are never separated from their first payload block, and an
// entry whose payload spans a cut resumes in the next chunk behind a
// continuation prologue: a metadata tar entry carrying a JSON
// continuation record, followed by the entry's original header with
// the size field patched to the segment length. Each chunk is
// therefore a valid tar fragment that standard tools can list.
package split
