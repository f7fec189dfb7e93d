// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseSize parses a byte count with an optional binary-unit suffix:
// "4096", "64K", "5M", "2G", "1T". "Ki"/"KiB" style spellings are
// accepted too; all suffixes are 1024-based.
func parseSize(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("empty size")
	}

	cut := len(text)
	for cut > 0 {
		c := text[cut-1]
		if c >= '0' && c <= '9' {
			break
		}
		cut--
	}
	digits, suffix := text[:cut], strings.ToUpper(strings.TrimSpace(text[cut:]))

	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid size %q", text)
	}

	var shift uint
	switch strings.TrimSuffix(strings.TrimSuffix(suffix, "B"), "I") {
	case "":
		shift = 0
	case "K":
		shift = 10
	case "M":
		shift = 20
	case "G":
		shift = 30
	case "T":
		shift = 40
	default:
		return 0, fmt.Errorf("invalid size suffix %q", text)
	}
	if shift > 0 && value > (1<<62)>>shift {
		return 0, fmt.Errorf("size %q overflows", text)
	}
	return value << shift, nil
}
