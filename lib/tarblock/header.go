// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tarblock

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Field offsets within a tar header block. These are shared by the
// v7, ustar, and GNU layouts for every field used here; the prefix
// field exists only in ustar.
const (
	fieldName     = 0
	fieldMode     = 100
	fieldUID      = 108
	fieldGID      = 116
	fieldSize     = 124
	fieldMtime    = 136
	fieldChecksum = 148
	fieldTypeflag = 156
	fieldLinkname = 157
	fieldMagic    = 257
	fieldPrefix   = 345

	lenName     = 100
	lenNumeric8 = 8
	lenSize     = 12
	lenMtime    = 12
	lenChecksum = 8
	lenLinkname = 100
	lenPrefix   = 155
)

// Entry type flags. Only the flags the splitter must distinguish are
// named; everything else passes through untouched.
const (
	TypeRegular       = '0'
	TypeRegularLegacy = 0 // old v7 archives use NUL for regular files
	TypeHardLink      = '1'
	TypeSymlink       = '2'
	TypeChar          = '3'
	TypeBlock         = '4'
	TypeDir           = '5'
	TypeFifo          = '6'
	TypePaxLocal      = 'x'
	TypePaxGlobal     = 'g'
	TypeGNULongName   = 'L'
	TypeGNULongLink   = 'K'
)

// Header holds the fields parsed from one tar header block. Size is
// the raw size field; callers that need the on-stream payload length
// must go through DataSize, which accounts for typeflags that carry
// no data regardless of their size field.
type Header struct {
	Name     string
	Mode     int64
	UID      int64
	GID      int64
	Size     int64
	ModTime  int64
	Typeflag byte
	Linkname string
}

// IsExtension reports whether the header is a metadata record that
// modifies the entry following it (PAX records, GNU long name/link).
// Extension entries and their successor form an atomic header group:
// a chunk boundary never falls between them.
func (h *Header) IsExtension() bool {
	switch h.Typeflag {
	case TypePaxLocal, TypePaxGlobal, TypeGNULongName, TypeGNULongLink:
		return true
	}
	return false
}

// DataSize returns the number of payload bytes stored in the stream
// for an entry with the given typeflag and size field. Link, device,
// directory, and fifo entries carry no payload even when a writer
// filled in their size field.
func DataSize(typeflag byte, size int64) int64 {
	switch typeflag {
	case TypeHardLink, TypeSymlink, TypeChar, TypeBlock, TypeDir, TypeFifo:
		return 0
	}
	return size
}

// PayloadBlocks returns the number of blocks occupied by size bytes
// of payload, including the final block's zero padding.
func PayloadBlocks(size int64) int64 {
	return (size + BlockSize - 1) / BlockSize
}

// ParseHeader parses a header block. Fails with ErrMalformedHeader
// when the checksum does not verify or a numeric field is unreadable.
func ParseHeader(block *Block) (*Header, error) {
	if err := verifyChecksum(block); err != nil {
		return nil, err
	}

	header := &Header{
		Name:     parseString(block[fieldName : fieldName+lenName]),
		Typeflag: block[fieldTypeflag],
		Linkname: parseString(block[fieldLinkname : fieldLinkname+lenLinkname]),
	}

	var err error
	if header.Size, err = parseNumeric(block[fieldSize : fieldSize+lenSize]); err != nil {
		return nil, fmt.Errorf("%w: size field: %v", ErrMalformedHeader, err)
	}
	if header.Mode, err = parseNumeric(block[fieldMode : fieldMode+lenNumeric8]); err != nil {
		return nil, fmt.Errorf("%w: mode field: %v", ErrMalformedHeader, err)
	}
	if header.UID, err = parseNumeric(block[fieldUID : fieldUID+lenNumeric8]); err != nil {
		return nil, fmt.Errorf("%w: uid field: %v", ErrMalformedHeader, err)
	}
	if header.GID, err = parseNumeric(block[fieldGID : fieldGID+lenNumeric8]); err != nil {
		return nil, fmt.Errorf("%w: gid field: %v", ErrMalformedHeader, err)
	}
	if header.ModTime, err = parseNumeric(block[fieldMtime : fieldMtime+lenMtime]); err != nil {
		return nil, fmt.Errorf("%w: mtime field: %v", ErrMalformedHeader, err)
	}
	if header.Size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrMalformedHeader, header.Size)
	}

	// POSIX ustar splits long paths across the prefix and name
	// fields. The GNU magic ("ustar  ") reuses those bytes for other
	// purposes, so the prefix only applies to the POSIX magic.
	if bytes.HasPrefix(block[fieldMagic:], []byte("ustar\x00")) {
		if prefix := parseString(block[fieldPrefix : fieldPrefix+lenPrefix]); prefix != "" {
			header.Name = prefix + "/" + header.Name
		}
	}

	return header, nil
}

// verifyChecksum checks the header checksum field against both the
// unsigned and signed byte sums (pre-POSIX writers summed signed
// bytes; both conventions survive in the wild).
func verifyChecksum(block *Block) error {
	recorded, err := parseNumeric(block[fieldChecksum : fieldChecksum+lenChecksum])
	if err != nil {
		return fmt.Errorf("%w: checksum field: %v", ErrMalformedHeader, err)
	}

	var unsigned int64
	var signed int64
	for i, value := range block {
		if i >= fieldChecksum && i < fieldChecksum+lenChecksum {
			value = ' '
		}
		unsigned += int64(value)
		signed += int64(int8(value))
	}

	if recorded != unsigned && recorded != signed {
		return fmt.Errorf("%w: checksum %d does not match computed %d", ErrMalformedHeader, recorded, unsigned)
	}
	return nil
}

// parseString reads a NUL-terminated string field.
func parseString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

// parseNumeric reads a tar numeric field: either NUL/space-terminated
// octal, or GNU base-256 (binary big-endian, flagged by the high bit
// of the first byte) for values that do not fit in octal.
func parseNumeric(field []byte) (int64, error) {
	if len(field) > 0 && field[0]&0x80 != 0 {
		// Base-256. The first byte contributes its low 7 bits; tar
		// fields are at most 12 bytes, so 7+11*8 = 95 bits of
		// magnitude must be range-checked against int64.
		var value int64
		for i, b := range field {
			if i == 0 {
				b &= 0x7f
			}
			if value >= 1<<55 {
				return 0, fmt.Errorf("base-256 value overflows int64")
			}
			value = value<<8 | int64(b)
		}
		return value, nil
	}

	trimmed := strings.Trim(parseString(field), " ")
	if trimmed == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(trimmed, 8, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid octal %q", trimmed)
	}
	return value, nil
}

// ParsePaxRecords parses the payload of a PAX extended header entry:
// a sequence of "<decimal length> <key>=<value>\n" records, where the
// length counts the entire record including itself and the newline.
func ParsePaxRecords(payload []byte) (map[string]string, error) {
	records := make(map[string]string)
	for len(payload) > 0 {
		space := bytes.IndexByte(payload, ' ')
		if space <= 0 {
			return nil, fmt.Errorf("pax record has no length prefix")
		}
		length, err := strconv.Atoi(string(payload[:space]))
		if err != nil || length <= space || length > len(payload) {
			return nil, fmt.Errorf("pax record has invalid length %q", payload[:space])
		}
		record := payload[space+1 : length]
		payload = payload[length:]

		if len(record) == 0 || record[len(record)-1] != '\n' {
			return nil, fmt.Errorf("pax record is not newline-terminated")
		}
		record = record[:len(record)-1]

		equals := bytes.IndexByte(record, '=')
		if equals < 0 {
			return nil, fmt.Errorf("pax record has no '=' separator")
		}
		records[string(record[:equals])] = string(record[equals+1:])
	}
	return records, nil
}
