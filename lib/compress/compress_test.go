// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"io"
	"testing"
)

func TestParse(t *testing.T) {
	for name, want := range map[string]Codec{
		"none": None,
		"gzip": Gzip,
		"zstd": Zstd,
		"lz4":  LZ4,
	} {
		codec, err := Parse(name)
		if err != nil {
			t.Errorf("Parse(%q): %v", name, err)
			continue
		}
		if codec != want {
			t.Errorf("Parse(%q) = %v", name, codec)
		}
		if codec.Name() != name {
			t.Errorf("Parse(%q).Name() = %q", name, codec.Name())
		}
	}

	if _, err := Parse("brotli"); err == nil {
		t.Error("Parse of unknown codec succeeded")
	}
}

func roundTrip(t *testing.T, codec Codec, payload []byte) {
	t.Helper()

	var stored bytes.Buffer
	writer, err := codec.Compress(&stored)
	if err != nil {
		t.Fatalf("%s: Compress: %v", codec.Name(), err)
	}
	if _, err := writer.Write(payload); err != nil {
		t.Fatalf("%s: Write: %v", codec.Name(), err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("%s: Close: %v", codec.Name(), err)
	}

	reader, err := codec.Decompress(bytes.NewReader(stored.Bytes()))
	if err != nil {
		t.Fatalf("%s: Decompress: %v", codec.Name(), err)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("%s: ReadAll: %v", codec.Name(), err)
	}
	if err := reader.Close(); err != nil {
		t.Fatalf("%s: reader Close: %v", codec.Name(), err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("%s: round trip changed %d bytes into %d", codec.Name(), len(payload), len(decoded))
	}
}

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("tar block data "), 4096)
	for _, codec := range []Codec{None, Gzip, Zstd, LZ4} {
		roundTrip(t, codec, payload)
		roundTrip(t, codec, nil)
	}
}

func TestNonePassesBytesThrough(t *testing.T) {
	payload := []byte("verbatim")

	var stored bytes.Buffer
	writer, err := None.Compress(&stored)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	writer.Write(payload)
	writer.Close()

	if !bytes.Equal(stored.Bytes(), payload) {
		t.Fatalf("stored bytes = %q", stored.Bytes())
	}
}

func TestGarbageFailsDecode(t *testing.T) {
	garbage := []byte("this is not a compressed stream, not even slightly")
	for _, codec := range []Codec{Gzip, Zstd, LZ4} {
		reader, err := codec.Decompress(bytes.NewReader(garbage))
		if err != nil {
			continue // rejected at open, fine
		}
		if _, err := io.ReadAll(reader); err == nil {
			t.Errorf("%s: decoding garbage succeeded", codec.Name())
		}
		reader.Close()
	}
}
