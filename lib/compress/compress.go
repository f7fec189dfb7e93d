// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress provides the per-chunk compression codecs.
//
// Compression is applied to each chunk independently — never across
// chunk boundaries — so any single chunk is decodable without its
// neighbors. The codec set is closed: none, gzip, zstd, lz4. Adding a
// codec means adding a variant here; the splitter and reassembler
// never look inside one.
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec wraps a chunk's byte stream with a compression algorithm.
// Implementations must be stateless and safe for concurrent use: a
// fresh writer/reader is constructed per chunk.
type Codec interface {
	// Name is the codec's wire name, as accepted by Parse and
	// recorded in digest sidecars.
	Name() string

	// Compress returns a writer that compresses into w. Closing the
	// returned writer flushes the codec; it does not close w.
	Compress(w io.Writer) (io.WriteCloser, error)

	// Decompress returns a reader that decompresses from r. Closing
	// the returned reader releases codec resources; it does not
	// close r.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// Parse returns the codec with the given name.
func Parse(name string) (Codec, error) {
	switch name {
	case "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return nil, fmt.Errorf("unknown compression codec: %q (want none, gzip, zstd, or lz4)", name)
	}
}

// The codec variants.
var (
	None Codec = noneCodec{}
	Gzip Codec = gzipCodec{}
	Zstd Codec = zstdCodec{}
	LZ4  Codec = lz4Codec{}
)

// noneCodec passes bytes through unchanged.
type noneCodec struct{}

func (noneCodec) Name() string { return "none" }

func (noneCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// gzipCodec uses gzip at the fastest level. Chunk-level splitting
// already bounds output sizes; the fast level matches the original
// tool's choice for gzip and keeps split throughput I/O-bound.
type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	writer, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	return writer, nil
}

func (gzipCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	return reader, nil
}

// zstdCodec uses zstd at SpeedDefault (level 3 — good ratio without
// excessive CPU). This is the default codec.
type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	writer, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return writer, nil
}

func (zstdCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	reader, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return reader.IOReadCloser(), nil
}

// lz4Codec uses lz4 frame compression. Lower ratio than zstd but
// very fast decode; useful when unpack speed dominates.
type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lz4Codec) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// nopWriteCloser adapts a plain writer for the none codec.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
