// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory reads identity snapshots from the authoritative
// directory.
package directory

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
)

// Reader produces the full identity set of the directory. Each call returns
// a fresh snapshot; pagination and retries stay behind this interface.
type Reader interface {
	FetchAll(ctx context.Context) ([]identity.DirectoryRecord, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context) ([]identity.DirectoryRecord, error)

func (f ReaderFunc) FetchAll(ctx context.Context) ([]identity.DirectoryRecord, error) {
	return f(ctx)
}

// NormalizeKey trims a directory key and puts it in Unicode NFC form, so
// the same login composed differently by two directory servers maps to one
// local identity.
func NormalizeKey(key string) string {
	return norm.NFC.String(strings.TrimSpace(key))
}
