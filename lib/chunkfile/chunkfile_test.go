// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunkfile

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/tarshard/lib/compress"
)

func writeChunks(t *testing.T, config SinkConfig, chunks [][]byte) *Sink {
	t.Helper()
	sink, err := NewSink(config)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	for i, chunk := range chunks {
		writer, err := sink.Create()
		if err != nil {
			t.Fatalf("Create chunk %d: %v", i, err)
		}
		if _, err := writer.Write(chunk); err != nil {
			t.Fatalf("Write chunk %d: %v", i, err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("Close chunk %d: %v", i, err)
		}
	}
	return sink
}

func TestSinkNaming(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "out", "layer")
	writeChunks(t, SinkConfig{Prefix: prefix, Codec: compress.None},
		[][]byte{[]byte("first"), []byte("second")})

	for i, want := range []string{"first", "second"} {
		path := ChunkPath(prefix, i)
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if string(data) != want {
			t.Errorf("chunk %d = %q, want %q", i, data, want)
		}
	}
	if ChunkPath("p", 7) != "p.007" {
		t.Errorf("ChunkPath = %q", ChunkPath("p", 7))
	}
	if ChunkPath("p", 1234) != "p.1234" {
		t.Errorf("ChunkPath past three digits = %q", ChunkPath("p", 1234))
	}
}

func TestSinkDigestSidecar(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "layer")
	payload := bytes.Repeat([]byte("sidecar payload "), 100)
	writeChunks(t, SinkConfig{Prefix: prefix, Codec: compress.Zstd, Digest: true},
		[][]byte{payload})

	chunkPath := ChunkPath(prefix, 0)
	data, err := os.ReadFile(sidecarPath(chunkPath))
	if err != nil {
		t.Fatalf("reading sidecar: %v", err)
	}
	record, err := UnmarshalDigest(data)
	if err != nil {
		t.Fatalf("UnmarshalDigest: %v", err)
	}

	if record.Version != DigestRecordVersion {
		t.Errorf("Version = %d", record.Version)
	}
	if record.Codec != "zstd" {
		t.Errorf("Codec = %q", record.Codec)
	}
	if record.UncompressedSize != int64(len(payload)) {
		t.Errorf("UncompressedSize = %d, want %d", record.UncompressedSize, len(payload))
	}
	if got := Digest(blake3.Sum256(payload)); record.UncompressedDigest != got {
		t.Error("UncompressedDigest does not match payload")
	}

	stored, err := os.ReadFile(chunkPath)
	if err != nil {
		t.Fatalf("reading chunk: %v", err)
	}
	if record.CompressedSize != int64(len(stored)) {
		t.Errorf("CompressedSize = %d, want %d", record.CompressedSize, len(stored))
	}
	if got := Digest(blake3.Sum256(stored)); record.CompressedDigest != got {
		t.Error("CompressedDigest does not match stored bytes")
	}
}

func TestRoundTripThroughCodec(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte("chunk bytes "), 512)
	writeChunks(t, SinkConfig{Prefix: filepath.Join(dir, "layer"), Codec: compress.Gzip, Digest: true},
		[][]byte{payload})

	source, err := Discover(SourceConfig{Dir: dir, Codec: compress.Gzip})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if source.Count() != 1 {
		t.Fatalf("Count = %d", source.Count())
	}

	reader, err := source.Open(0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if err := reader.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatal("decoded chunk differs from written payload")
	}
}

func TestDiscoverOrdering(t *testing.T) {
	dir := t.TempDir()
	// Written out of lexical order on purpose; discovery must order
	// by parsed suffix value.
	for _, name := range []string{"layer.002", "layer.000", "layer.001", "layer.000.digest", "README"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	source, err := Discover(SourceConfig{Dir: dir, Codec: compress.None})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if source.Count() != 3 {
		t.Fatalf("Count = %d, want 3", source.Count())
	}
	for i := 0; i < 3; i++ {
		want := filepath.Join(dir, ChunkPath("layer", i))
		if source.Path(i) != want {
			t.Errorf("Path(%d) = %q, want %q", i, source.Path(i), want)
		}
	}
}

func TestDiscoverMissingChunk(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"layer.000", "layer.002"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := Discover(SourceConfig{Dir: dir, Codec: compress.None})
	if !errors.Is(err, ErrMissingChunk) {
		t.Fatalf("Discover = %v, want ErrMissingChunk", err)
	}
}

func TestDiscoverDuplicateIndex(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"layer.000", "layer.0000"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := Discover(SourceConfig{Dir: dir, Codec: compress.None}); err == nil {
		t.Fatal("Discover accepted duplicate index 0")
	}
}

func TestDiscoverMultipleSequences(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"alpha.000", "beta.000"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := Discover(SourceConfig{Dir: dir, Codec: compress.None}); err == nil {
		t.Fatal("Discover accepted two sequences in one directory")
	}
}

func TestDiscoverEmptyDir(t *testing.T) {
	if _, err := Discover(SourceConfig{Dir: t.TempDir(), Codec: compress.None}); err == nil {
		t.Fatal("Discover of empty directory succeeded")
	}
}

func TestOpenDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte("integrity "), 1000)
	writeChunks(t, SinkConfig{Prefix: filepath.Join(dir, "layer"), Codec: compress.Zstd, Digest: true},
		[][]byte{payload})

	chunkPath := filepath.Join(dir, "layer.000")
	stored, err := os.ReadFile(chunkPath)
	if err != nil {
		t.Fatal(err)
	}
	stored[len(stored)/2] ^= 0xff
	if err := os.WriteFile(chunkPath, stored, 0o644); err != nil {
		t.Fatal(err)
	}

	source, err := Discover(SourceConfig{Dir: dir, Codec: compress.Zstd})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	reader, err := source.Open(0)
	if err != nil {
		if !errors.Is(err, ErrCorruptChunk) {
			t.Fatalf("Open = %v, want ErrCorruptChunk", err)
		}
		return
	}
	_, err = io.ReadAll(reader)
	reader.Close()
	if !errors.Is(err, ErrCorruptChunk) {
		t.Fatalf("reading corrupted chunk = %v, want ErrCorruptChunk", err)
	}
}

func TestOpenRejectsGarbageStream(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "layer.000"), []byte("definitely not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}

	source, err := Discover(SourceConfig{Dir: dir, Codec: compress.Zstd})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	reader, err := source.Open(0)
	if err != nil {
		if !errors.Is(err, ErrCorruptChunk) {
			t.Fatalf("Open = %v, want ErrCorruptChunk", err)
		}
		return
	}
	_, err = io.ReadAll(reader)
	reader.Close()
	if !errors.Is(err, ErrCorruptChunk) {
		t.Fatalf("reading garbage chunk = %v, want ErrCorruptChunk", err)
	}
}

func TestSidecarCodecMismatch(t *testing.T) {
	dir := t.TempDir()
	writeChunks(t, SinkConfig{Prefix: filepath.Join(dir, "layer"), Codec: compress.None, Digest: true},
		[][]byte{[]byte("payload")})

	source, err := Discover(SourceConfig{Dir: dir, Codec: compress.None})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	// Reopen the same sequence claiming a different codec: the
	// sidecar's recorded codec must win over the caller's claim.
	source.codec = compress.Gzip
	if _, err := source.Open(0); !errors.Is(err, ErrCorruptChunk) {
		t.Fatalf("Open with mismatched codec = %v, want ErrCorruptChunk", err)
	}
}
