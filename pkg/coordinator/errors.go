// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import "fmt"

// AlreadyRunningError is returned when a run is requested while another is
// active. Nothing was read or written.
type AlreadyRunningError struct {
	// Holder is "local" for an in-process run or "redis" for a run held by
	// another replica.
	Holder string
	// RunID is the active run, when known.
	RunID string
}

func (e *AlreadyRunningError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("reconciliation already running (%s lock, run %s)", e.Holder, e.RunID)
	}
	return fmt.Sprintf("reconciliation already running (%s lock)", e.Holder)
}

// DirectoryUnavailableError is returned when the directory snapshot could
// not be fetched. No local state was touched.
type DirectoryUnavailableError struct {
	Err error
}

func (e *DirectoryUnavailableError) Error() string {
	return fmt.Sprintf("directory unavailable: %v", e.Err)
}

func (e *DirectoryUnavailableError) Unwrap() error {
	return e.Err
}

// StorageUnavailableError is returned when the local store failed as a
// whole rather than for a single record.
type StorageUnavailableError struct {
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("identity store unavailable: %v", e.Err)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Err
}
