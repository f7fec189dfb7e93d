// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package unpack

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/bureau-foundation/tarshard/lib/chunkfile"
	"github.com/bureau-foundation/tarshard/lib/split"
	"github.com/bureau-foundation/tarshard/lib/tarblock"
)

// ChunkSource yields an ordered, contiguity-checked chunk sequence.
// Implemented by chunkfile.Source.
type ChunkSource interface {
	Count() int
	Path(i int) string
	Open(i int) (io.ReadCloser, error)
}

// recordLimit bounds continuation record and extension payloads the
// reassembler will buffer.
const recordLimit = 1 << 20

// Reassemble consumes the chunk sequence strictly in order and
// writes the byte-identical original tar stream to output:
// continuation prologues are stripped and validated against the open
// entry, everything else — headers, payload, padding, terminator —
// passes through verbatim.
func Reassemble(source ChunkSource, output io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	r := &reassembler{output: output, logger: logger}

	count := source.Count()
	for i := 0; i < count; i++ {
		chunk, err := source.Open(i)
		if err != nil {
			return err
		}
		err = r.chunk(i, source.Path(i), chunk)
		closeErr := chunk.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}

	if r.open != nil {
		return fmt.Errorf("%w: entry %q is incomplete after the final chunk (%d of %d bytes)",
			tarblock.ErrTruncated, r.open.name, r.open.consumed, r.open.size)
	}
	if !r.trailer {
		return fmt.Errorf("%w: chunk sequence ends without the archive terminator", tarblock.ErrTruncated)
	}
	return nil
}

// openEntry is an entry whose payload was cut by the previous chunk
// boundary. The next chunk must open with a continuation prologue
// that matches it.
type openEntry struct {
	name     string
	size     int64
	consumed int64
}

// reassembler carries the cross-chunk state of one unpack run.
type reassembler struct {
	output  io.Writer
	logger  *slog.Logger
	open    *openEntry
	trailer bool

	// Extension overrides, mirrored from the split-side tracker so
	// that framing matches the splitter's block accounting exactly.
	nameOverride    string
	hasNameOverride bool
	sizeOverride    int64
	hasSizeOverride bool
	capture         []byte
}

func (r *reassembler) chunk(index int, path string, reader io.Reader) error {
	name := filepath.Base(path)
	cursor := tarblock.NewCursor(bufio.NewReaderSize(reader, 256<<10))
	r.logger.Debug("reassembling chunk", "index", index, "path", path)

	if r.open != nil {
		if err := r.continuation(name, cursor); err != nil {
			return err
		}
		if r.open != nil {
			// The segment did not finish the entry, so it must have
			// run to the very end of the chunk.
			var block tarblock.Block
			if err := cursor.Next(&block); err != io.EOF {
				return fmt.Errorf("%w %s: data after an unfinished continuation segment",
					chunkfile.ErrCorruptChunk, name)
			}
			return nil
		}
	}

	for {
		var block tarblock.Block
		err := cursor.Next(&block)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("chunk %s: %w", name, err)
		}

		if r.trailer || block.IsZero() {
			if !block.IsZero() {
				return fmt.Errorf("chunk %s: %w: non-zero data after archive terminator",
					name, tarblock.ErrMalformedHeader)
			}
			r.trailer = true
			if err := r.emit(&block); err != nil {
				return err
			}
			continue
		}

		if err := r.entry(name, cursor, &block); err != nil {
			return err
		}
		if r.open != nil {
			if err := cursor.Next(&block); err != io.EOF {
				return fmt.Errorf("%w %s: data after a cut payload segment",
					chunkfile.ErrCorruptChunk, name)
			}
			return nil
		}
	}
}

// entry emits one entry's header block and payload, leaving r.open
// set if the chunk ends mid-payload.
func (r *reassembler) entry(chunkName string, cursor *tarblock.Cursor, headerBlock *tarblock.Block) error {
	header, err := tarblock.ParseHeader(headerBlock)
	if err != nil {
		return fmt.Errorf("chunk %s: block at offset %d: %w", chunkName, cursor.Offset()-tarblock.BlockSize, err)
	}
	if err := r.emit(headerBlock); err != nil {
		return err
	}

	name := header.Name
	size := tarblock.DataSize(header.Typeflag, header.Size)
	if !header.IsExtension() {
		if r.hasNameOverride {
			name = r.nameOverride
		}
		if r.hasSizeOverride {
			size = tarblock.DataSize(header.Typeflag, r.sizeOverride)
		}
		r.nameOverride, r.hasNameOverride = "", false
		r.sizeOverride, r.hasSizeOverride = 0, false
	}
	r.capture = r.capture[:0]

	blocks := tarblock.PayloadBlocks(size)
	for copied := int64(0); copied < blocks; copied++ {
		var block tarblock.Block
		err := cursor.Next(&block)
		if err == io.EOF {
			// Chunk boundary inside the payload: the next chunk
			// opens with a continuation prologue.
			r.open = &openEntry{name: name, size: size, consumed: copied * tarblock.BlockSize}
			return nil
		}
		if err != nil {
			return fmt.Errorf("chunk %s: %w", chunkName, err)
		}
		if header.IsExtension() {
			semantic := min(size-copied*tarblock.BlockSize, tarblock.BlockSize)
			if int64(len(r.capture))+semantic > recordLimit {
				return fmt.Errorf("chunk %s: %w: extension entry %q payload exceeds %d bytes",
					chunkName, tarblock.ErrMalformedHeader, name, recordLimit)
			}
			r.capture = append(r.capture, block[:semantic]...)
		}
		if err := r.emit(&block); err != nil {
			return err
		}
	}

	if header.IsExtension() {
		return r.applyExtension(chunkName, header, name)
	}
	return nil
}

// applyExtension mirrors the tracker's override handling so the
// reassembler frames upcoming entries the same way the splitter did.
func (r *reassembler) applyExtension(chunkName string, header *tarblock.Header, name string) error {
	switch header.Typeflag {
	case tarblock.TypePaxLocal:
		records, err := tarblock.ParsePaxRecords(r.capture)
		if err != nil {
			return fmt.Errorf("chunk %s: %w: pax entry %q: %v",
				chunkName, tarblock.ErrMalformedHeader, name, err)
		}
		if path, ok := records["path"]; ok {
			r.nameOverride, r.hasNameOverride = path, true
		}
		if text, ok := records["size"]; ok {
			size, err := strconv.ParseInt(text, 10, 64)
			if err != nil || size < 0 {
				return fmt.Errorf("chunk %s: %w: pax entry %q: invalid size record %q",
					chunkName, tarblock.ErrMalformedHeader, name, text)
			}
			r.sizeOverride, r.hasSizeOverride = size, true
		}
	case tarblock.TypeGNULongName:
		r.nameOverride, r.hasNameOverride = trimNul(r.capture), true
	}
	r.capture = r.capture[:0]
	return nil
}

// continuation consumes and validates a continuation prologue, then
// emits the segment's payload blocks.
func (r *reassembler) continuation(chunkName string, cursor *tarblock.Cursor) error {
	record, err := r.readRecord(cursor)
	if err != nil {
		return fmt.Errorf("%w %s: continuation record: %v", chunkfile.ErrCorruptChunk, chunkName, err)
	}
	if err := record.Validate(r.open.name, r.open.consumed, r.open.size); err != nil {
		return fmt.Errorf("%w %s: %v", chunkfile.ErrCorruptChunk, chunkName, err)
	}

	// The synthesized resumed header: the original header patched to
	// the segment size. Stripped from the output.
	var block tarblock.Block
	if err := cursor.Next(&block); err != nil {
		return fmt.Errorf("%w %s: continuation header: %v", chunkfile.ErrCorruptChunk, chunkName, err)
	}
	resumed, err := tarblock.ParseHeader(&block)
	if err != nil {
		return fmt.Errorf("%w %s: continuation header: %v", chunkfile.ErrCorruptChunk, chunkName, err)
	}
	if resumed.Size != record.ChunkSize {
		return fmt.Errorf("%w %s: continuation header size %d does not match record %d",
			chunkfile.ErrCorruptChunk, chunkName, resumed.Size, record.ChunkSize)
	}

	r.logger.Debug("resuming split entry",
		"name", r.open.name,
		"offset", record.StartOffset,
		"segment_bytes", record.ChunkSize)

	for copied := int64(0); copied < tarblock.PayloadBlocks(record.ChunkSize); copied++ {
		var payload tarblock.Block
		if err := cursor.Next(&payload); err != nil {
			return fmt.Errorf("%w %s: continuation segment: %v", chunkfile.ErrCorruptChunk, chunkName, err)
		}
		if err := r.emit(&payload); err != nil {
			return err
		}
	}

	r.open.consumed += record.ChunkSize
	if r.open.consumed == r.open.size {
		r.open = nil
	}
	return nil
}

// readRecord reads the metadata entry at the start of a continuation
// chunk and decodes its JSON payload.
func (r *reassembler) readRecord(cursor *tarblock.Cursor) (*split.ContinuationRecord, error) {
	var block tarblock.Block
	if err := cursor.Next(&block); err != nil {
		return nil, err
	}
	header, err := tarblock.ParseHeader(&block)
	if err != nil {
		return nil, err
	}
	if header.Size <= 0 || header.Size > recordLimit {
		return nil, fmt.Errorf("metadata entry %q has implausible size %d", header.Name, header.Size)
	}

	payload := make([]byte, 0, header.Size)
	for copied := int64(0); copied < tarblock.PayloadBlocks(header.Size); copied++ {
		if err := cursor.Next(&block); err != nil {
			return nil, err
		}
		payload = append(payload, block[:min(header.Size-copied*tarblock.BlockSize, tarblock.BlockSize)]...)
	}

	var record split.ContinuationRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("metadata entry %q: %w", header.Name, err)
	}
	return &record, nil
}

func (r *reassembler) emit(block *tarblock.Block) error {
	if _, err := r.output.Write(block[:]); err != nil {
		return fmt.Errorf("writing reassembled stream: %w", err)
	}
	return nil
}

// trimNul cuts a GNU long-name payload at its NUL terminator.
func trimNul(payload []byte) string {
	for i, b := range payload {
		if b == 0 {
			return string(payload[:i])
		}
	}
	return string(payload)
}
