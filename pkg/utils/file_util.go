// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// EnsureWritableDir creates dir if needed and checks that it is a writable
// directory. Embedded stores call it before opening their data path.
func EnsureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", dir, os.ErrInvalid)
	}
	if info.Mode().Perm()&0o200 == 0 {
		return fmt.Errorf("%s: %w", dir, os.ErrPermission)
	}
	return nil
}

// ResolvePath expands a leading ~ and environment variables and makes the
// path absolute. Paths without ~ are returned unchanged.
func ResolvePath(path string) string {
	if !strings.Contains(path, "~") {
		return path
	}

	if path == "~" {
		if usr, err := user.Current(); err == nil {
			path = usr.HomeDir
		}
	} else if strings.HasPrefix(path, "~/") {
		if usr, err := user.Current(); err == nil {
			path = filepath.Join(usr.HomeDir, path[2:])
		}
	}

	path = os.ExpandEnv(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
