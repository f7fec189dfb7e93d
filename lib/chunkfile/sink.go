// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunkfile

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/tarshard/lib/compress"
)

// SinkConfig configures a chunk sink.
type SinkConfig struct {
	// Prefix is the base path for chunk files. Chunk i is written to
	// "<Prefix>.NNN" with a zero-padded numeric suffix assigned in
	// emission order starting at 000. The parent directory is
	// created if it does not exist.
	Prefix string

	// Codec compresses each chunk independently.
	Codec compress.Codec

	// Digest enables a CBOR ".digest" sidecar per chunk carrying
	// BLAKE3 digests of the stored and decoded bytes.
	Digest bool

	// Logger receives per-chunk progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// Sink persists finished chunks under the deterministic naming
// scheme. One sink owns one split run's suffix counter.
type Sink struct {
	config SinkConfig
	logger *slog.Logger
	index  int
}

// NewSink validates the configuration and creates the target
// directory.
func NewSink(config SinkConfig) (*Sink, error) {
	if config.Prefix == "" {
		return nil, fmt.Errorf("chunk prefix is required")
	}
	if config.Codec == nil {
		return nil, fmt.Errorf("compression codec is required")
	}
	if directory := filepath.Dir(config.Prefix); directory != "." {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return nil, fmt.Errorf("creating chunk directory: %w", err)
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{config: config, logger: logger}, nil
}

// ChunkPath returns the file path for the chunk with the given
// index: zero-padded to three digits, growing naturally past 999 so
// the suffix stays numerically parseable.
func ChunkPath(prefix string, index int) string {
	return fmt.Sprintf("%s.%03d", prefix, index)
}

// Create opens the next chunk file in the sequence. The returned
// writer compresses through the configured codec; Close finalizes
// the codec stream, the file, and the digest sidecar.
func (s *Sink) Create() (io.WriteCloser, error) {
	path := ChunkPath(s.config.Prefix, s.index)
	s.index++

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating chunk file: %w", err)
	}

	writer := &chunkWriter{
		path:   path,
		file:   file,
		stored: &meter{writer: file},
		logger: s.logger,
	}
	if s.config.Digest {
		writer.codecName = s.config.Codec.Name()
		writer.stored.hash = blake3.New()
		writer.decodedHash = blake3.New()
	}

	writer.encoder, err = s.config.Codec.Compress(writer.stored)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("chunk %s: %w", filepath.Base(path), err)
	}
	return writer, nil
}

// meter counts (and optionally hashes) bytes on their way to the
// underlying writer.
type meter struct {
	writer io.Writer
	count  int64
	hash   *blake3.Hasher
}

func (m *meter) Write(p []byte) (int, error) {
	n, err := m.writer.Write(p)
	m.count += int64(n)
	if m.hash != nil {
		m.hash.Write(p[:n])
	}
	return n, err
}

// chunkWriter is the write side of one chunk: caller bytes are
// hashed, compressed, and counted on both sides of the codec.
type chunkWriter struct {
	path        string
	file        *os.File
	encoder     io.WriteCloser
	stored      *meter
	decodedSize int64
	decodedHash *blake3.Hasher
	codecName   string
	logger      *slog.Logger
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	n, err := w.encoder.Write(p)
	w.decodedSize += int64(n)
	if w.decodedHash != nil {
		w.decodedHash.Write(p[:n])
	}
	return n, err
}

func (w *chunkWriter) Close() error {
	if err := w.encoder.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("chunk %s: finalizing codec: %w", filepath.Base(w.path), err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("chunk %s: %w", filepath.Base(w.path), err)
	}

	if w.decodedHash != nil {
		record := &DigestRecord{
			Version:          DigestRecordVersion,
			Codec:            w.codecName,
			CompressedSize:   w.stored.count,
			UncompressedSize: w.decodedSize,
		}
		w.stored.hash.Sum(record.CompressedDigest[:0])
		w.decodedHash.Sum(record.UncompressedDigest[:0])

		data, err := MarshalDigest(record)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", filepath.Base(w.path), err)
		}
		if err := os.WriteFile(sidecarPath(w.path), data, 0o644); err != nil {
			return fmt.Errorf("chunk %s: writing digest sidecar: %w", filepath.Base(w.path), err)
		}
	}

	w.logger.Debug("chunk written",
		"path", w.path,
		"stored_bytes", w.stored.count,
		"chunk_bytes", w.decodedSize)
	return nil
}
