// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunkfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/tarshard/lib/compress"
)

// ErrMissingChunk indicates a gap in a chunk sequence's numeric
// suffixes. A gap means the sequence is unusable: either the split
// run was aborted or a file was lost.
var ErrMissingChunk = errors.New("missing chunk")

// ErrCorruptChunk indicates that a chunk's stored bytes do not
// validate: codec decode failure, digest mismatch, or an unreadable
// sidecar. Fatal — skipping a chunk would silently truncate
// reconstructed files.
var ErrCorruptChunk = errors.New("corrupt chunk")

// chunkNamePattern matches "<base>.<numeric suffix>" with at least
// three digits (the sink's zero-padded naming).
var chunkNamePattern = regexp.MustCompile(`^(.+)\.([0-9]{3,})$`)

// SourceConfig configures chunk sequence discovery.
type SourceConfig struct {
	// Dir is the directory holding exactly one chunk sequence.
	Dir string

	// Codec decodes each chunk. Must match the codec used at split
	// time; sidecars, when present, cross-check it.
	Codec compress.Codec

	// Logger receives per-chunk progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// Source is a discovered, validated chunk sequence: ordered by
// parsed numeric suffix (directory listing order is never trusted)
// and contiguous from index zero.
type Source struct {
	codec  compress.Codec
	logger *slog.Logger
	base   string
	paths  []string
}

// Discover scans the directory for a chunk sequence and validates
// its contiguity. Fails with ErrMissingChunk (naming the first
// missing index) when suffixes have a gap.
func Discover(config SourceConfig) (*Source, error) {
	if config.Codec == nil {
		return nil, fmt.Errorf("compression codec is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading chunk directory: %w", err)
	}

	byIndex := make(map[int]string)
	var base string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".digest") {
			continue
		}
		match := chunkNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		index, err := strconv.Atoi(match[2])
		if err != nil {
			continue
		}
		if base == "" {
			base = match[1]
		} else if base != match[1] {
			return nil, fmt.Errorf("directory %s holds multiple chunk sequences (%q and %q)",
				config.Dir, base, match[1])
		}
		if previous, ok := byIndex[index]; ok {
			return nil, fmt.Errorf("duplicate chunk index %d (%s and %s)", index, previous, entry.Name())
		}
		byIndex[index] = entry.Name()
	}

	if len(byIndex) == 0 {
		return nil, fmt.Errorf("no chunk sequence found in %s", config.Dir)
	}

	indexes := make([]int, 0, len(byIndex))
	for index := range byIndex {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	paths := make([]string, 0, len(byIndex))
	for expected, index := range indexes {
		if index != expected {
			return nil, fmt.Errorf("%w: sequence %s is missing index %d (found %d chunk files)",
				ErrMissingChunk, base, expected, len(byIndex))
		}
		paths = append(paths, filepath.Join(config.Dir, byIndex[index]))
	}

	logger.Debug("chunk sequence discovered", "dir", config.Dir, "base", base, "chunks", len(paths))
	return &Source{codec: config.Codec, logger: logger, base: base, paths: paths}, nil
}

// Count returns the number of chunks in the sequence.
func (s *Source) Count() int {
	return len(s.paths)
}

// Path returns the file path of chunk i.
func (s *Source) Path(i int) string {
	return s.paths[i]
}

// Open returns a reader over chunk i's decoded bytes. When a digest
// sidecar exists, both the stored and decoded bytes are verified as
// they stream past; a mismatch surfaces as ErrCorruptChunk at the
// point of detection.
func (s *Source) Open(i int) (io.ReadCloser, error) {
	path := s.paths[i]
	name := filepath.Base(path)

	record, err := s.loadSidecar(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening chunk: %w", err)
	}

	stored := io.Reader(file)
	if record != nil {
		stored = &verifier{
			reader: file,
			name:   name,
			layer:  "stored",
			want:   record.CompressedDigest,
			size:   record.CompressedSize,
			hash:   blake3.New(),
		}
	}

	decoder, err := s.codec.Decompress(stored)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptChunk, name, err)
	}

	decoded := io.Reader(decoder)
	if record != nil {
		decoded = &verifier{
			reader: decoder,
			name:   name,
			layer:  "decoded",
			want:   record.UncompressedDigest,
			size:   record.UncompressedSize,
			hash:   blake3.New(),
		}
	}

	return &chunkReader{reader: decoded, name: name, decoder: decoder, file: file}, nil
}

// loadSidecar reads and validates a chunk's digest sidecar, if one
// exists. A missing sidecar is not an error; a malformed one, or one
// recorded for a different codec, is.
func (s *Source) loadSidecar(path string) (*DigestRecord, error) {
	data, err := os.ReadFile(sidecarPath(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading digest sidecar: %w", err)
	}

	record, err := UnmarshalDigest(data)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptChunk, filepath.Base(path), err)
	}
	if record.Codec != s.codec.Name() {
		return nil, fmt.Errorf("%w %s: sidecar records codec %q, but %q was requested",
			ErrCorruptChunk, filepath.Base(path), record.Codec, s.codec.Name())
	}
	return record, nil
}

// verifier hashes bytes as they stream past and checks size and
// digest when the layer is exhausted.
type verifier struct {
	reader io.Reader
	name   string
	layer  string
	want   Digest
	size   int64
	count  int64
	hash   *blake3.Hasher
}

func (v *verifier) Read(p []byte) (int, error) {
	n, err := v.reader.Read(p)
	v.count += int64(n)
	v.hash.Write(p[:n])
	if err == io.EOF {
		if v.count != v.size {
			return n, fmt.Errorf("%w %s: %s size %d does not match recorded %d",
				ErrCorruptChunk, v.name, v.layer, v.count, v.size)
		}
		var got Digest
		v.hash.Sum(got[:0])
		if !bytes.Equal(got[:], v.want[:]) {
			return n, fmt.Errorf("%w %s: %s digest mismatch", ErrCorruptChunk, v.name, v.layer)
		}
	}
	return n, err
}

// chunkReader is the read side of one chunk: decode errors surface
// as ErrCorruptChunk carrying the chunk's identity.
type chunkReader struct {
	reader  io.Reader
	name    string
	decoder io.ReadCloser
	file    *os.File
}

func (r *chunkReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if err != nil && err != io.EOF && !errors.Is(err, ErrCorruptChunk) {
		return n, fmt.Errorf("%w %s: %v", ErrCorruptChunk, r.name, err)
	}
	return n, err
}

func (r *chunkReader) Close() error {
	if err := r.decoder.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("chunk %s: %w", r.name, err)
	}
	return r.file.Close()
}
