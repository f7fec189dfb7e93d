// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tarblock

import (
	"fmt"
)

// gnuMagic is the magic+version written into synthesized headers
// ("ustar  \x00", the GNU convention, matching the headers the
// original splitter emitted).
var gnuMagic = []byte("ustar  \x00")

// FormatMetadataHeader builds a header block for a synthesized
// regular-file entry carrying continuation metadata. The name is
// truncated to the name field width if necessary — consumers locate
// metadata entries by position, not by name, so truncation only
// affects human inspection of a chunk.
func FormatMetadataHeader(name string, size int64) (Block, error) {
	var block Block

	nameBytes := []byte(name)
	if len(nameBytes) > lenName {
		nameBytes = nameBytes[:lenName]
	}
	copy(block[fieldName:], nameBytes)

	formatOctal(block[fieldMode:fieldMode+lenNumeric8], 0o644)
	formatOctal(block[fieldUID:fieldUID+lenNumeric8], 0)
	formatOctal(block[fieldGID:fieldGID+lenNumeric8], 0)
	formatOctal(block[fieldMtime:fieldMtime+lenMtime], 0)
	if err := formatSize(block[fieldSize:fieldSize+lenSize], size); err != nil {
		return Block{}, err
	}
	block[fieldTypeflag] = TypeRegular
	copy(block[fieldMagic:], gnuMagic)

	setChecksum(&block)
	return block, nil
}

// PatchSize returns a copy of a header block with the size field
// rewritten and the checksum recomputed. Every other byte is
// preserved, so a continuation header keeps the original entry's
// name, mode, ownership, and timestamps.
func PatchSize(block Block, size int64) (Block, error) {
	for i := 0; i < lenSize; i++ {
		block[fieldSize+i] = 0
	}
	if err := formatSize(block[fieldSize:fieldSize+lenSize], size); err != nil {
		return Block{}, err
	}
	setChecksum(&block)
	return block, nil
}

// formatOctal writes value as zero-padded octal with a trailing NUL.
func formatOctal(field []byte, value int64) {
	digits := len(field) - 1
	text := fmt.Sprintf("%0*o", digits, value)
	copy(field, text)
	field[digits] = 0
}

// formatSize writes a size field: octal when it fits, GNU base-256
// otherwise.
func formatSize(field []byte, value int64) error {
	if value < 0 {
		return fmt.Errorf("negative size %d", value)
	}
	if value < 1<<33 { // 11 octal digits
		formatOctal(field, value)
		return nil
	}
	field[0] = 0x80
	for i := len(field) - 1; i >= 1; i-- {
		field[i] = byte(value)
		value >>= 8
	}
	if value != 0 {
		return fmt.Errorf("size does not fit in a base-256 field")
	}
	return nil
}

// setChecksum computes and writes the header checksum (unsigned sum
// with the checksum field counted as spaces, formatted as six octal
// digits, NUL, space).
func setChecksum(block *Block) {
	for i := 0; i < lenChecksum; i++ {
		block[fieldChecksum+i] = ' '
	}
	var sum int64
	for _, value := range block {
		sum += int64(value)
	}
	copy(block[fieldChecksum:], fmt.Sprintf("%06o", sum))
	block[fieldChecksum+6] = 0
	block[fieldChecksum+7] = ' '
}
