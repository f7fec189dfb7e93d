// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package unpack

import (
	"archive/tar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Extract reassembles the chunk sequence and unpacks the resulting
// tar stream under dest. Entry paths are confined to dest; entries
// that would escape it fail the whole run. Symlink targets are
// created verbatim and never followed.
func Extract(source ChunkSource, dest string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating destination %s: %w", dest, err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(Reassemble(source, pw, logger))
	}()
	defer pr.Close()

	reader := tar.NewReader(pr)
	entries := 0
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading reassembled archive: %w", err)
		}
		if err := extractEntry(reader, header, dest, logger); err != nil {
			return err
		}
		entries++
	}

	// Drain the trailing terminator blocks so the reassembler
	// goroutine runs to completion and its verdict surfaces.
	if _, err := io.Copy(io.Discard, pr); err != nil {
		return err
	}

	logger.Info("extraction complete", "dest", dest, "entries", entries)
	return nil
}

func extractEntry(reader *tar.Reader, header *tar.Header, dest string, logger *slog.Logger) error {
	if header.Typeflag == tar.TypeXGlobalHeader {
		return nil
	}

	rel := filepath.Clean(filepath.FromSlash(strings.TrimSuffix(header.Name, "/")))
	if rel == "." {
		return nil
	}
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("entry %q escapes the destination root", header.Name)
	}
	path := filepath.Join(dest, rel)

	switch header.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(path, header.FileInfo().Mode().Perm()); err != nil {
			return fmt.Errorf("creating directory %s: %w", rel, err)
		}
		logger.Debug("created directory", "path", rel)
		return nil

	case tar.TypeSymlink:
		if err := ensureParent(path); err != nil {
			return err
		}
		if err := os.Symlink(header.Linkname, path); err != nil {
			return fmt.Errorf("creating symlink %s: %w", rel, err)
		}
		logger.Debug("created symlink", "path", rel, "target", header.Linkname)
		return nil

	case tar.TypeLink:
		target := filepath.Clean(filepath.FromSlash(header.Linkname))
		if !filepath.IsLocal(target) {
			return fmt.Errorf("hard link %q targets %q outside the destination root", header.Name, header.Linkname)
		}
		if err := ensureParent(path); err != nil {
			return err
		}
		if err := os.Link(filepath.Join(dest, target), path); err != nil {
			return fmt.Errorf("creating hard link %s: %w", rel, err)
		}
		logger.Debug("created hard link", "path", rel, "target", target)
		return nil

	case tar.TypeReg:
		if err := ensureParent(path); err != nil {
			return err
		}
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, header.FileInfo().Mode().Perm())
		if err != nil {
			return fmt.Errorf("creating file %s: %w", rel, err)
		}
		written, err := io.Copy(file, reader)
		if err != nil {
			file.Close()
			return fmt.Errorf("writing file %s: %w", rel, err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("closing file %s: %w", rel, err)
		}
		if written != header.Size {
			return fmt.Errorf("file %s: wrote %d bytes, header declares %d", rel, written, header.Size)
		}
		if !header.ModTime.IsZero() {
			if err := os.Chtimes(path, header.ModTime, header.ModTime); err != nil {
				return fmt.Errorf("setting times on %s: %w", rel, err)
			}
		}
		logger.Debug("extracted file", "path", rel, "bytes", written)
		return nil

	default:
		logger.Warn("skipping unsupported entry type",
			"path", rel, "typeflag", string(header.Typeflag))
		return nil
	}
}

func ensureParent(path string) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", parent, err)
	}
	return nil
}
