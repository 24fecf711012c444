// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitter(t *testing.T) {
	base := time.Hour
	for range 100 {
		d := Jitter(base, 0.1)
		assert.GreaterOrEqual(t, d, 54*time.Minute)
		assert.LessOrEqual(t, d, 66*time.Minute)
	}
	assert.Equal(t, base, Jitter(base, 0))
	assert.Equal(t, base, Jitter(base, -1))
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/var/lib/dirsync", ResolvePath("/var/lib/dirsync"))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got := ResolvePath("~/data")
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "data", filepath.Base(got))
	_ = home
}

func TestEnsureWritableDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureWritableDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.Error(t, EnsureWritableDir(file))
}
