// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tarshard/lib/chunkfile"
	"github.com/bureau-foundation/tarshard/lib/compress"
	"github.com/bureau-foundation/tarshard/lib/split"
	"github.com/bureau-foundation/tarshard/lib/unpack"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		compression = pflag.String("compression", "zstd", "per-chunk codec: none, gzip, zstd, lz4")
		splitTo     = pflag.String("split-to", "", "split mode: path prefix for chunk output files")
		splitSize   = pflag.String("split-size", "512M", "maximum bytes per chunk (K/M/G/T suffixes, 1024 base)")
		unpackFrom  = pflag.String("unpack-from", "", "unpack mode: directory holding one chunk sequence")
		unpackTo    = pflag.String("unpack-to", "", "destination root for extraction; omit to emit the raw tar stream on stdout")
		digest      = pflag.Bool("digest", false, "write a digest sidecar next to each chunk")
		verbose     = pflag.Bool("verbose", false, "enable debug logging")
	)
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	codec, err := compress.Parse(*compression)
	if err != nil {
		return err
	}

	switch {
	case *splitTo != "" && *unpackFrom != "":
		return fmt.Errorf("--split-to and --unpack-from are mutually exclusive")
	case *splitTo != "":
		return runSplit(*splitTo, *splitSize, codec, *digest, logger)
	case *unpackFrom != "":
		return runUnpack(*unpackFrom, *unpackTo, codec, logger)
	default:
		return fmt.Errorf("one of --split-to or --unpack-from is required")
	}
}

func runSplit(prefix, sizeText string, codec compress.Codec, digest bool, logger *slog.Logger) error {
	size, err := parseSize(sizeText)
	if err != nil {
		return fmt.Errorf("--split-size: %w", err)
	}

	sink, err := chunkfile.NewSink(chunkfile.SinkConfig{
		Prefix: prefix,
		Codec:  codec,
		Digest: digest,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	chunks, err := split.Split(os.Stdin, split.Config{
		ChunkSize: size,
		Sink:      sink,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	logger.Info("split complete", "prefix", prefix, "chunks", chunks, "codec", codec.Name())
	return nil
}

func runUnpack(dir, dest string, codec compress.Codec, logger *slog.Logger) error {
	source, err := chunkfile.Discover(chunkfile.SourceConfig{
		Dir:    dir,
		Codec:  codec,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if dest != "" {
		return unpack.Extract(source, dest, logger)
	}

	output := bufio.NewWriterSize(os.Stdout, 256<<10)
	if err := unpack.Reassemble(source, output, logger); err != nil {
		return err
	}
	return output.Flush()
}
