// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package split

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/tarshard/lib/tarblock"
)

// MinChunkSize is the smallest accepted chunk budget: a continuation
// prologue (metadata entry plus synthesized header, three blocks for
// ordinary paths) must always leave room for at least one payload
// block within budget.
const MinChunkSize = 4 * tarblock.BlockSize

// Sink receives finished chunks in emission order.
type Sink interface {
	Create() (io.WriteCloser, error)
}

// Config configures one split run.
type Config struct {
	// ChunkSize is the maximum chunk size in bytes, rounded down to
	// a whole number of blocks. Minimum MinChunkSize.
	ChunkSize int64

	// Sink persists finished chunks.
	Sink Sink

	// Logger receives progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// Split reads a tar stream from r and cuts it into chunks. Returns
// the number of chunks written.
//
// Cut policy: boundaries fall only on block boundaries, preferably
// before a header group — an entry is never opened in one chunk only
// to be split at its very first payload block. When an entry's
// payload must span chunks, each following chunk opens with a
// continuation prologue; the entry's original header bytes are kept
// verbatim in the first chunk so reassembly is byte-faithful.
func Split(r io.Reader, config Config) (int, error) {
	if config.ChunkSize < MinChunkSize {
		return 0, fmt.Errorf("chunk size %d is below the minimum %d", config.ChunkSize, MinChunkSize)
	}
	if config.Sink == nil {
		return 0, fmt.Errorf("chunk sink is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &splitter{
		tracker:   tarblock.NewTracker(bufio.NewReaderSize(r, 256<<10)),
		sink:      config.Sink,
		logger:    logger,
		maxBlocks: config.ChunkSize / tarblock.BlockSize,
	}
	return s.run()
}

// splitter is the state for one run. Owned exclusively by that run:
// concurrent splits over different inputs share nothing.
type splitter struct {
	tracker   *tarblock.Tracker
	sink      Sink
	logger    *slog.Logger
	maxBlocks int64

	chunk       io.WriteCloser
	chunkIndex  int
	chunkBlocks int64

	// Header groups are buffered until their real header arrives so
	// the whole group (plus the first payload block) can be placed
	// on one side of a chunk boundary.
	group      []tarblock.Event
	collecting bool

	// Continuation bookkeeping for the entry currently streaming
	// payload.
	active   *tarblock.Entry
	segments int
}

func (s *splitter) run() (int, error) {
	for {
		event, err := s.tracker.Next()
		if err == io.EOF {
			break
		}
		if err == nil {
			err = s.handle(event)
		}
		if err != nil {
			if s.chunk != nil {
				s.chunk.Close()
			}
			return s.chunkIndex, err
		}
	}

	// A stream that ends right after extension entries has no real
	// header to close the group; write what was buffered so the
	// chunks still account for every input byte.
	for _, event := range s.group {
		if err := s.writeBlock(&event.Block); err != nil {
			return s.chunkIndex, err
		}
	}

	if s.chunk != nil {
		if err := s.chunk.Close(); err != nil {
			return s.chunkIndex, err
		}
		s.chunk = nil
	}
	return s.chunkIndex, nil
}

func (s *splitter) handle(event tarblock.Event) error {
	switch event.Kind {
	case tarblock.EventHeader:
		if event.GroupStart {
			s.group = s.group[:0]
			s.collecting = true
		}
		if !s.collecting {
			// A glued header whose group start was never seen; only
			// reachable on malformed glue chains. Pass it through.
			return s.writeBlock(&event.Block)
		}
		s.group = append(s.group, event)
		if event.Entry.Extension {
			return nil
		}
		return s.flushGroup(event.Entry)

	case tarblock.EventPayload:
		if s.collecting {
			s.group = append(s.group, event)
			return nil
		}
		return s.writePayload(event)

	case tarblock.EventTrailer:
		if s.chunkBlocks >= s.maxBlocks {
			if err := s.rotate(); err != nil {
				return err
			}
		}
		return s.writeBlock(&event.Block)
	}
	return fmt.Errorf("unhandled event kind %d", event.Kind)
}

// flushGroup places a completed header group. The group and, when
// the entry has a payload, its first payload block must land in the
// same chunk: the boundary moves before the group rather than ever
// splitting an entry at its opening block.
func (s *splitter) flushGroup(entry *tarblock.Entry) error {
	needed := int64(len(s.group))
	if entry.PayloadBlocks() > 0 {
		needed++
	}
	if needed > s.maxBlocks {
		return fmt.Errorf("chunk size %d blocks cannot hold the header records of entry %q (%d blocks)",
			s.maxBlocks, entry.Name, needed)
	}
	if s.chunkBlocks > 0 && s.chunkBlocks+needed > s.maxBlocks {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	for i := range s.group {
		if err := s.writeBlock(&s.group[i].Block); err != nil {
			return err
		}
	}
	s.group = s.group[:0]
	s.collecting = false

	s.active = entry
	s.segments = 0
	return nil
}

// writePayload streams one payload block, cutting to a new chunk
// with a continuation prologue when the budget is exhausted.
func (s *splitter) writePayload(event tarblock.Event) error {
	if s.chunkBlocks >= s.maxBlocks {
		if err := s.rotate(); err != nil {
			return err
		}
		if err := s.writeContinuation(event.Entry, event.PayloadOffset); err != nil {
			return err
		}
	}
	return s.writeBlock(&event.Block)
}

// writeContinuation opens a freshly rotated chunk with the prologue
// for a split entry: the metadata entry carrying the JSON record,
// then the entry's original header patched to this segment's size.
func (s *splitter) writeContinuation(entry *tarblock.Entry, offset int64) error {
	if entry != s.active {
		return fmt.Errorf("continuation for entry %q, but %q is active", entry.Name, s.active.Name)
	}
	s.segments++
	remaining := entry.Size - offset

	// Plan the prologue with the record at its maximum width
	// (ChunkSize: remaining has the most digits this segment can
	// need), then pad the final encoding back to the planned length
	// so the block math stays exact. JSON decoders ignore trailing
	// whitespace.
	record := ContinuationRecord{
		Path:        entry.Name,
		StartOffset: offset,
		ChunkSize:   remaining,
		TotalSize:   entry.Size,
	}
	widest, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding continuation record: %w", err)
	}

	prologueBlocks := 2 + tarblock.PayloadBlocks(int64(len(widest)))
	available := (s.maxBlocks - prologueBlocks) * tarblock.BlockSize
	if available <= 0 {
		return fmt.Errorf("chunk size %d blocks cannot hold a continuation record for entry %q",
			s.maxBlocks, entry.Name)
	}
	record.ChunkSize = min(remaining, available)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding continuation record: %w", err)
	}
	data = append(data, bytes.Repeat([]byte(" "), len(widest)-len(data))...)

	metaHeader, err := tarblock.FormatMetadataHeader(MetadataName(entry.Name, s.segments), int64(len(data)))
	if err != nil {
		return fmt.Errorf("continuation metadata header for %q: %w", entry.Name, err)
	}
	if err := s.writeBlock(&metaHeader); err != nil {
		return err
	}
	if err := s.writeData(data); err != nil {
		return err
	}

	resumed, err := tarblock.PatchSize(entry.RawHeader, record.ChunkSize)
	if err != nil {
		return fmt.Errorf("continuation header for %q: %w", entry.Name, err)
	}
	if err := s.writeBlock(&resumed); err != nil {
		return err
	}

	s.logger.Info("continuing split entry",
		"name", entry.Name,
		"offset", offset,
		"segment_bytes", record.ChunkSize,
		"total_bytes", entry.Size,
		"chunk", s.chunkIndex-1)
	return nil
}

// writeData writes arbitrary bytes padded out to whole blocks.
func (s *splitter) writeData(data []byte) error {
	for len(data) > 0 {
		var block tarblock.Block
		n := copy(block[:], data)
		data = data[n:]
		if err := s.writeBlock(&block); err != nil {
			return err
		}
	}
	return nil
}

func (s *splitter) writeBlock(block *tarblock.Block) error {
	if s.chunk == nil {
		chunk, err := s.sink.Create()
		if err != nil {
			return err
		}
		s.chunk = chunk
		s.logger.Debug("starting chunk", "index", s.chunkIndex)
		s.chunkIndex++
	}
	if _, err := s.chunk.Write(block[:]); err != nil {
		return fmt.Errorf("writing chunk %d: %w", s.chunkIndex-1, err)
	}
	s.chunkBlocks++
	return nil
}

func (s *splitter) rotate() error {
	if s.chunk == nil {
		return nil
	}
	if err := s.chunk.Close(); err != nil {
		return fmt.Errorf("closing chunk %d: %w", s.chunkIndex-1, err)
	}
	s.chunk = nil
	s.chunkBlocks = 0
	return nil
}
