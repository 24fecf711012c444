// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a record-level error.
type ErrorKind string

const (
	KindDuplicateKey    ErrorKind = "duplicate_key"
	KindMalformedRecord ErrorKind = "malformed_record"
	KindApply           ErrorKind = "apply"
)

// Op names the storage operation a record error happened in.
type Op string

const (
	OpCreate      Op = "create"
	OpUpdate      Op = "update"
	OpMarkMissing Op = "mark_missing"
	OpDelete      Op = "delete"
)

// DuplicateKeyError reports a key that appeared more than once in a single
// directory snapshot. The key is left out of the plan.
type DuplicateKeyError struct {
	Key         string
	Occurrences int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate directory key %q (%d occurrences)", e.Key, e.Occurrences)
}

// MalformedRecordError reports a directory record missing a required
// authoritative value. The record is left out of the plan.
type MalformedRecordError struct {
	Key    string
	Index  int // position in the snapshot
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("malformed directory record at index %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("malformed directory record %q: %s", e.Key, e.Reason)
}

// RecordApplyError reports a storage failure for a single record. The record
// is skipped and retried on the next run.
type RecordApplyError struct {
	Key string
	Op  Op
	Err error
}

func (e *RecordApplyError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *RecordApplyError) Unwrap() error {
	return e.Err
}

// RecordError is the serialisable form of a record-level error kept in a
// RunSummary.
type RecordError struct {
	Key     string    `json:"key"`
	Kind    ErrorKind `json:"kind"`
	Op      Op        `json:"op,omitempty"`
	Message string    `json:"message"`

	err error
}

// NewRecordError wraps one of the record-level error types.
func NewRecordError(err error) RecordError {
	re := RecordError{Message: err.Error(), err: err}

	var dup *DuplicateKeyError
	var bad *MalformedRecordError
	var apply *RecordApplyError
	switch {
	case errors.As(err, &dup):
		re.Key, re.Kind = dup.Key, KindDuplicateKey
	case errors.As(err, &bad):
		re.Key, re.Kind = bad.Key, KindMalformedRecord
	case errors.As(err, &apply):
		re.Key, re.Kind, re.Op = apply.Key, KindApply, apply.Op
	default:
		re.Kind = KindApply
	}
	return re
}

func (e RecordError) Error() string {
	return e.Message
}

// Unwrap returns the original typed error. It is nil for records decoded
// from an audit trail.
func (e RecordError) Unwrap() error {
	return e.err
}
