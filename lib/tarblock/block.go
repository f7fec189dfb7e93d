// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tarblock

import (
	"errors"
	"fmt"
	"io"
)

// BlockSize is the tar block size. Every structural decision in the
// splitter and reassembler is made at this granularity — headers,
// payload runs, and chunk boundaries are all whole blocks.
const BlockSize = 512

// Block is one fixed-size unit of a tar stream.
type Block [BlockSize]byte

// IsZero reports whether every byte of the block is zero. Two
// consecutive zero blocks form the archive terminator.
func (b *Block) IsZero() bool {
	for _, value := range b {
		if value != 0 {
			return false
		}
	}
	return true
}

// ErrTruncated indicates that the input stream ended partway through
// a block or partway through an entry's payload. The stream cannot be
// trusted past this point; there is no recovery.
var ErrTruncated = errors.New("truncated tar stream")

// ErrMalformedHeader indicates a header block that fails structural
// checks (bad checksum, unparsable size field, data where the archive
// terminator should be). Fatal for the run: every downstream offset
// depends on correct header framing.
var ErrMalformedHeader = errors.New("malformed tar header")

// Cursor reads a stream one block at a time. It is the single point
// of block-alignment enforcement: everything downstream consumes
// whole blocks or nothing.
type Cursor struct {
	reader io.Reader
	offset int64
}

// NewCursor returns a cursor reading blocks from r.
func NewCursor(r io.Reader) *Cursor {
	return &Cursor{reader: r}
}

// Next reads exactly one block into block. Returns io.EOF when the
// stream is cleanly exhausted. A stream that ends with a partial
// block of zero bytes is treated as clean EOF (padding cut short by
// the producer); a partial block containing non-zero bytes is a
// structural error and fails with ErrTruncated.
func (c *Cursor) Next(block *Block) error {
	n, err := io.ReadFull(c.reader, block[:])
	c.offset += int64(n)
	switch err {
	case nil:
		return nil
	case io.EOF:
		return io.EOF
	case io.ErrUnexpectedEOF:
		for _, value := range block[:n] {
			if value != 0 {
				return fmt.Errorf("%w: input ended %d bytes into the block at offset %d",
					ErrTruncated, n, c.offset-int64(n))
			}
		}
		return io.EOF
	default:
		return fmt.Errorf("reading block at offset %d: %w", c.offset-int64(n), err)
	}
}

// Offset returns the number of bytes consumed from the stream.
func (c *Cursor) Offset() int64 {
	return c.offset
}
