// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tarblock

import (
	"fmt"
	"io"
	"strconv"
)

// EventKind classifies one block pulled through the tracker.
type EventKind int

const (
	// EventHeader is a block that starts an entry (including
	// extension entries such as PAX records and GNU long names).
	EventHeader EventKind = iota

	// EventPayload is a block belonging to the open entry's payload,
	// including the final block's zero padding.
	EventPayload

	// EventTrailer is a zero block at end-of-archive: the two
	// terminator blocks and any trailing padding the producer wrote
	// after them.
	EventTrailer
)

// Event is one block together with its structural classification.
type Event struct {
	Block Block
	Kind  EventKind

	// Entry is the entry this block belongs to. Set for header and
	// payload events, nil for trailer events.
	Entry *Entry

	// GroupStart is true for a header event that begins a new header
	// group — a safe cut point. Headers glued to a preceding
	// extension entry have it false.
	GroupStart bool

	// PayloadOffset is the offset of this block's first byte within
	// the entry's payload. Valid for payload events only.
	PayloadOffset int64
}

// Entry is one logical archive member as seen by the tracker. Name
// and Size are the effective values after PAX and GNU long-name
// overrides; RawHeader is the entry's header block exactly as it
// appeared in the stream.
type Entry struct {
	Header    *Header
	RawHeader Block

	// Name is the entry path, with any long-name override applied.
	Name string

	// Size is the on-stream payload length in bytes, with any PAX
	// size override applied and typeflag rules accounted for.
	Size int64

	// Extension is true for metadata entries glued to their
	// successor (PAX records, GNU long name/link).
	Extension bool

	blocksTotal int64
	blocksRead  int64
}

// PayloadBlocks returns the total number of payload blocks, padding
// included.
func (e *Entry) PayloadBlocks() int64 {
	return e.blocksTotal
}

// paxCaptureLimit bounds how much extension payload the tracker will
// buffer while scanning for overrides. Real-world PAX records are a
// few hundred bytes; anything past this limit is hostile or corrupt.
const paxCaptureLimit = 1 << 20

// Tracker classifies blocks from a cursor into header, payload, and
// trailer events, maintaining the open entry's remaining payload and
// detecting the archive terminator. One tracker owns one split run's
// bookkeeping; concurrent runs use separate trackers.
type Tracker struct {
	cursor  *Cursor
	current *Entry
	queued  []Event
	trailer bool

	// glueNext is set after an extension entry completes: the next
	// header continues the same atomic group.
	glueNext bool

	// Overrides accumulated from extension entries, applied to the
	// next real header.
	nameOverride    string
	hasNameOverride bool
	sizeOverride    int64
	hasSizeOverride bool

	capture []byte
}

// NewTracker returns a tracker reading blocks from r.
func NewTracker(r io.Reader) *Tracker {
	return &Tracker{cursor: NewCursor(r)}
}

// Offset returns the number of input bytes consumed so far.
func (t *Tracker) Offset() int64 {
	return t.cursor.Offset()
}

// Next returns the next classified block. Returns io.EOF after the
// final block; fails with ErrTruncated if the stream ends inside an
// entry's payload and ErrMalformedHeader on unparsable structure.
func (t *Tracker) Next() (Event, error) {
	if len(t.queued) > 0 {
		event := t.queued[0]
		t.queued = t.queued[1:]
		return event, nil
	}

	if t.current != nil {
		return t.nextPayload()
	}

	var block Block
	err := t.cursor.Next(&block)
	if err == io.EOF {
		return Event{}, io.EOF
	}
	if err != nil {
		return Event{}, err
	}

	if t.trailer {
		if !block.IsZero() {
			return Event{}, fmt.Errorf("%w: non-zero data after archive terminator at offset %d",
				ErrMalformedHeader, t.cursor.Offset()-BlockSize)
		}
		return Event{Block: block, Kind: EventTrailer}, nil
	}

	if block.IsZero() {
		return t.nextTerminator(block)
	}

	return t.nextHeader(block)
}

// nextPayload reads one payload block of the open entry. The stream
// ending mid-payload is a truncation error even when the missing
// bytes would have been padding.
func (t *Tracker) nextPayload() (Event, error) {
	entry := t.current

	var block Block
	err := t.cursor.Next(&block)
	if err == io.EOF {
		return Event{}, fmt.Errorf("%w: entry %q ended with %d payload blocks missing",
			ErrTruncated, entry.Name, entry.blocksTotal-entry.blocksRead)
	}
	if err != nil {
		return Event{}, err
	}

	offset := entry.blocksRead * BlockSize
	entry.blocksRead++

	if entry.Extension {
		semantic := min(entry.Size-offset, BlockSize)
		if int64(len(t.capture))+semantic <= paxCaptureLimit {
			t.capture = append(t.capture, block[:semantic]...)
		} else {
			return Event{}, fmt.Errorf("%w: extension entry %q payload exceeds %d bytes",
				ErrMalformedHeader, entry.Name, paxCaptureLimit)
		}
	}

	if entry.blocksRead == entry.blocksTotal {
		if err := t.finishEntry(entry); err != nil {
			return Event{}, err
		}
	}

	return Event{Block: block, Kind: EventPayload, Entry: entry, PayloadOffset: offset}, nil
}

// nextHeader parses a header block and opens the entry it describes.
func (t *Tracker) nextHeader(block Block) (Event, error) {
	header, err := ParseHeader(&block)
	if err != nil {
		return Event{}, fmt.Errorf("block at offset %d: %w", t.cursor.Offset()-BlockSize, err)
	}

	entry := &Entry{
		Header:    header,
		RawHeader: block,
		Name:      header.Name,
		Size:      DataSize(header.Typeflag, header.Size),
		Extension: header.IsExtension(),
	}

	if !entry.Extension {
		if t.hasNameOverride {
			entry.Name = t.nameOverride
		}
		if t.hasSizeOverride {
			entry.Size = DataSize(header.Typeflag, t.sizeOverride)
		}
		t.nameOverride, t.hasNameOverride = "", false
		t.sizeOverride, t.hasSizeOverride = 0, false
	}
	entry.blocksTotal = PayloadBlocks(entry.Size)

	groupStart := !t.glueNext
	t.capture = t.capture[:0]

	if entry.blocksTotal > 0 {
		t.current = entry
	} else if err := t.finishEntry(entry); err != nil {
		return Event{}, err
	}

	return Event{Block: block, Kind: EventHeader, Entry: entry, GroupStart: groupStart}, nil
}

// finishEntry runs when an entry's last block has been consumed (or
// immediately for payload-less entries): extension entries have their
// captured payload applied as overrides for the next header.
func (t *Tracker) finishEntry(entry *Entry) error {
	t.current = nil
	t.glueNext = entry.Extension
	if !entry.Extension {
		return nil
	}

	switch entry.Header.Typeflag {
	case TypePaxLocal:
		records, err := ParsePaxRecords(t.capture)
		if err != nil {
			return fmt.Errorf("%w: pax entry %q: %v", ErrMalformedHeader, entry.Name, err)
		}
		if path, ok := records["path"]; ok {
			t.nameOverride, t.hasNameOverride = path, true
		}
		if text, ok := records["size"]; ok {
			size, err := strconv.ParseInt(text, 10, 64)
			if err != nil || size < 0 {
				return fmt.Errorf("%w: pax entry %q: invalid size record %q",
					ErrMalformedHeader, entry.Name, text)
			}
			t.sizeOverride, t.hasSizeOverride = size, true
		}

	case TypeGNULongName:
		t.nameOverride, t.hasNameOverride = parseString(t.capture), true

	case TypePaxGlobal, TypeGNULongLink:
		// Glued for atomicity, but neither carries overrides the
		// tracker needs: global records do not affect framing, and
		// link targets play no part in payload accounting.
	}

	t.capture = t.capture[:0]
	return nil
}

// nextTerminator handles the first zero block seen where a header was
// expected. A second zero block (or immediate EOF) confirms the
// archive terminator; anything else is malformed.
func (t *Tracker) nextTerminator(first Block) (Event, error) {
	t.trailer = true

	var second Block
	err := t.cursor.Next(&second)
	if err == io.EOF {
		return Event{Block: first, Kind: EventTrailer}, nil
	}
	if err != nil {
		return Event{}, err
	}
	if !second.IsZero() {
		return Event{}, fmt.Errorf("%w: lone zero block at offset %d followed by data",
			ErrMalformedHeader, t.cursor.Offset()-2*BlockSize)
	}

	t.queued = append(t.queued, Event{Block: second, Kind: EventTrailer})
	return Event{Block: first, Kind: EventTrailer}, nil
}
