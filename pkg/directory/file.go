// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/LeeDigitalWorks/dirsync/pkg/compression"
	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
)

// FileReader serves a snapshot from a JSON file holding an array of
// directory records. The file is re-read on every call. Files ending in
// .zst, .lz4 or .s2 are decompressed on the fly.
type FileReader struct {
	Path string
}

var _ Reader = (*FileReader)(nil)

// NewFileReader returns a reader for the snapshot at path.
func NewFileReader(path string) *FileReader {
	return &FileReader{Path: path}
}

func (r *FileReader) FetchAll(ctx context.Context) ([]identity.DirectoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(r.Path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", r.Path, err)
	}
	defer f.Close()

	src, err := compression.NewReader(compression.FromPath(r.Path), f)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", r.Path, err)
	}
	defer src.Close()

	var entries []fileRecord
	if err := json.NewDecoder(src).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", r.Path, err)
	}

	records := make([]identity.DirectoryRecord, len(entries))
	for i, e := range entries {
		records[i] = e.record()
	}
	return records, nil
}

// WriteSnapshot stores records at path in the format FileReader reads,
// compressed according to the file extension. The file is replaced
// atomically.
func WriteSnapshot(path string, records []identity.DirectoryRecord) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w, err := compression.NewWriter(compression.FromPath(path), tmp)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	entries := make([]fileRecord, len(records))
	for i, rec := range records {
		entries[i] = toFileRecord(rec)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err = enc.Encode(entries); err != nil {
		return fmt.Errorf("encode snapshot %s: %w", path, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// fileRecord tells an omitted uid/gid apart from zero.
type fileRecord struct {
	Key               string                    `json:"key"`
	DistinguishedName string                    `json:"distinguished_name"`
	UIDNumber         *int                      `json:"uid_number"`
	GIDNumber         *int                      `json:"gid_number"`
	HomeDirectory     string                    `json:"home_directory"`
	LoginShell        string                    `json:"login_shell"`
	Seed              *identity.ProtectedFields `json:"seed,omitempty"`
}

func (f fileRecord) record() identity.DirectoryRecord {
	id := func(v *int) int {
		if v == nil {
			return identity.AbsentID
		}
		return *v
	}
	return identity.DirectoryRecord{
		Key:               NormalizeKey(f.Key),
		DistinguishedName: f.DistinguishedName,
		UIDNumber:         id(f.UIDNumber),
		GIDNumber:         id(f.GIDNumber),
		HomeDirectory:     f.HomeDirectory,
		LoginShell:        f.LoginShell,
		Seed:              f.Seed,
	}
}

func toFileRecord(r identity.DirectoryRecord) fileRecord {
	id := func(v int) *int {
		if v == identity.AbsentID {
			return nil
		}
		return &v
	}
	return fileRecord{
		Key:               r.Key,
		DistinguishedName: r.DistinguishedName,
		UIDNumber:         id(r.UIDNumber),
		GIDNumber:         id(r.GIDNumber),
		HomeDirectory:     r.HomeDirectory,
		LoginShell:        r.LoginShell,
		Seed:              r.Seed,
	}
}
