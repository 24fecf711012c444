// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity defines the identity records exchanged between the
// directory, the reconciler and the local identity store, together with the
// policy that decides which of their attributes reconciliation may write.
package identity

import (
	"sort"
	"time"
)

// Field names an identity attribute.
type Field string

const (
	FieldDistinguishedName Field = "distinguished_name"
	FieldUIDNumber         Field = "uid_number"
	FieldGIDNumber         Field = "gid_number"
	FieldHomeDirectory     Field = "home_directory"
	FieldLoginShell        Field = "login_shell"

	FieldDisplayName  Field = "display_name"
	FieldEmail        Field = "email"
	FieldPhone        Field = "phone"
	FieldAssignedRole Field = "assigned_role"
)

// directoryFields are the attributes a directory record can supply.
// Only these may ever be classified as authoritative.
var directoryFields = []Field{
	FieldDistinguishedName,
	FieldUIDNumber,
	FieldGIDNumber,
	FieldHomeDirectory,
	FieldLoginShell,
}

// localFields are the attributes owned by the local CRUD layer.
var localFields = []Field{
	FieldDisplayName,
	FieldEmail,
	FieldPhone,
	FieldAssignedRole,
}

// AbsentID marks a numeric uid/gid the directory did not supply or that
// could not be parsed.
const AbsentID = -1

// DirectoryRecord is one identity as the directory reports it for a single run.
type DirectoryRecord struct {
	Key               string `json:"key"`
	DistinguishedName string `json:"distinguished_name"`
	UIDNumber         int    `json:"uid_number"`
	GIDNumber         int    `json:"gid_number"`
	HomeDirectory     string `json:"home_directory"`
	LoginShell        string `json:"login_shell"`

	// Seed holds directory-supplied name/email values. It is only ever
	// applied when an identity is first created.
	Seed *ProtectedFields `json:"seed,omitempty"`
}

// AuthoritativeFields is the directory-owned part of a local identity.
type AuthoritativeFields struct {
	DistinguishedName string `json:"distinguished_name"`
	UIDNumber         int    `json:"uid_number"`
	GIDNumber         int    `json:"gid_number"`
	HomeDirectory     string `json:"home_directory"`
	LoginShell        string `json:"login_shell"`
}

// Get returns the value of an authoritative field.
func (a AuthoritativeFields) Get(f Field) (any, bool) {
	switch f {
	case FieldDistinguishedName:
		return a.DistinguishedName, true
	case FieldUIDNumber:
		return a.UIDNumber, true
	case FieldGIDNumber:
		return a.GIDNumber, true
	case FieldHomeDirectory:
		return a.HomeDirectory, true
	case FieldLoginShell:
		return a.LoginShell, true
	}
	return nil, false
}

// Apply returns a copy of a with the patch written over it.
// Fields that are not authoritative attributes are ignored.
func (a AuthoritativeFields) Apply(p Patch) AuthoritativeFields {
	for f, v := range p {
		switch f {
		case FieldDistinguishedName:
			a.DistinguishedName, _ = v.(string)
		case FieldUIDNumber:
			a.UIDNumber, _ = v.(int)
		case FieldGIDNumber:
			a.GIDNumber, _ = v.(int)
		case FieldHomeDirectory:
			a.HomeDirectory, _ = v.(string)
		case FieldLoginShell:
			a.LoginShell, _ = v.(string)
		}
	}
	return a
}

// ProtectedFields is the locally-owned part of a local identity.
// Reconciliation never writes it after creation.
type ProtectedFields struct {
	DisplayName  string `json:"display_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	AssignedRole string `json:"assigned_role"`
}

// Lifecycle tracks whether an identity is in use and whether the directory
// still reports it.
type Lifecycle struct {
	IsActive             bool `json:"is_active"`
	MissingFromDirectory bool `json:"missing_from_directory"`
	// MissingCount is the number of consecutive runs the identity was absent.
	MissingCount int `json:"missing_count"`
}

// LocalIdentity is a row of the local identity store.
type LocalIdentity struct {
	Key              string              `json:"key"`
	Authoritative    AuthoritativeFields `json:"authoritative"`
	Protected        ProtectedFields     `json:"protected"`
	Lifecycle        Lifecycle           `json:"lifecycle"`
	LastReconciledAt time.Time           `json:"last_reconciled_at"`
}

// Clone returns a deep copy.
func (l *LocalIdentity) Clone() *LocalIdentity {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// Patch is a set of authoritative field updates keyed by field name.
// Values are string or int according to the field.
type Patch map[Field]any

// Fields returns the patched field names in a stable order.
func (p Patch) Fields() []Field {
	fields := make([]Field, 0, len(p))
	for _, f := range directoryFields {
		if _, ok := p[f]; ok {
			fields = append(fields, f)
		}
	}
	var extra []Field
	for f := range p {
		if !isDirectoryField(f) {
			extra = append(extra, f)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(fields, extra...)
}

func isDirectoryField(f Field) bool {
	for _, d := range directoryFields {
		if d == f {
			return true
		}
	}
	return false
}
