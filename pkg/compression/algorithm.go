// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression wraps directory snapshot streams in LZ4, ZSTD or S2
// framing. The algorithm is chosen by file extension.
package compression

import (
	"path/filepath"
	"strings"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	// None indicates no compression
	None Algorithm = "none"
	// LZ4 uses the LZ4 frame format (fast, moderate ratio)
	LZ4 Algorithm = "lz4"
	// ZSTD uses the Zstandard frame format (balanced speed/ratio)
	ZSTD Algorithm = "zstd"
	// S2 uses klauspost's S2 stream format (faster than Snappy, better ratio)
	S2 Algorithm = "s2"
)

var extensions = map[string]Algorithm{
	".lz4":  LZ4,
	".zst":  ZSTD,
	".zstd": ZSTD,
	".s2":   S2,
}

// IsValid returns true if the algorithm is recognized
func (a Algorithm) IsValid() bool {
	switch a {
	case None, LZ4, ZSTD, S2:
		return true
	default:
		return false
	}
}

func (a Algorithm) String() string {
	return string(a)
}

// ParseAlgorithm parses a string into an Algorithm.
// Returns None for empty or unrecognized strings.
func ParseAlgorithm(s string) Algorithm {
	algo := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if algo.IsValid() {
		return algo
	}
	return None
}

// FromPath returns the algorithm implied by the file extension, so
// "people.json.zst" is ZSTD and "people.json" is None.
func FromPath(path string) Algorithm {
	if algo, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return algo
	}
	return None
}
