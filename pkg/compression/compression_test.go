// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		input    string
		expected Algorithm
	}{
		{"none", None},
		{"lz4", LZ4},
		{"zstd", ZSTD},
		{" ZSTD ", ZSTD},
		{"s2", S2},
		{"", None},
		{"snappy", None},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseAlgorithm(tt.input))
		})
	}
}

func TestFromPath(t *testing.T) {
	assert.Equal(t, None, FromPath("/var/lib/dirsync/people.json"))
	assert.Equal(t, ZSTD, FromPath("people.json.zst"))
	assert.Equal(t, ZSTD, FromPath("people.json.ZSTD"))
	assert.Equal(t, LZ4, FromPath("people.json.lz4"))
	assert.Equal(t, S2, FromPath("people.s2"))
	assert.Equal(t, None, FromPath("people.json.gz"))
}

func TestStreamRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"key":"alice","uid_number":1001},`, 2000))

	for _, algo := range []Algorithm{None, LZ4, ZSTD, S2} {
		t.Run(algo.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(algo, &buf)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			if algo != None {
				assert.Less(t, buf.Len(), len(payload))
			}

			// Twice, so a pooled reader is reused.
			encoded := buf.Bytes()
			for range 2 {
				r, err := NewReader(algo, bytes.NewReader(encoded))
				require.NoError(t, err)
				got, err := io.ReadAll(r)
				require.NoError(t, err)
				require.NoError(t, r.Close())
				assert.Equal(t, payload, got)
			}
		})
	}
}

func TestNewReader_Corrupt(t *testing.T) {
	r, err := NewReader(ZSTD, strings.NewReader("not a zstd frame"))
	if err == nil {
		_, err = io.ReadAll(r)
		r.Close()
	}
	assert.Error(t, err)
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := NewReader("gzip", strings.NewReader(""))
	assert.Error(t, err)
	_, err = NewWriter("gzip", io.Discard)
	assert.Error(t, err)
}
