// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// tarshard splits a tar stream read from stdin into size-bounded,
// optionally compressed chunk files, and reconstructs or extracts a
// previously split sequence.
//
//	tar -c src | tarshard --split-to out/layer --split-size 64M --compression zstd
//	tarshard --unpack-from out --unpack-to restored
//	tarshard --unpack-from out > original.tar
package main
