// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the local identity store the reconciler writes to.
// Backends live in subpackages: memory, sql and leveldb.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
)

// Common errors
var (
	ErrNotFound      = errors.New("identity not found")
	ErrAlreadyExists = errors.New("identity already exists")

	// ErrUnavailable marks a storage fault no single record can recover from,
	// such as a lost connection. It escalates a run to failure.
	ErrUnavailable = errors.New("identity store unavailable")

	// ErrFieldNotAuthoritative is returned when a patch names a field that
	// reconciliation is not allowed to write.
	ErrFieldNotAuthoritative = errors.New("field is not authoritative")
)

// Driver identifies a store backend
type Driver string

const (
	DriverMemory    Driver = "memory"
	DriverPostgres  Driver = "postgres"
	DriverCockroach Driver = "cockroachdb"
	DriverMySQL     Driver = "mysql"
	DriverLevelDB   Driver = "leveldb"
)

// Default pool settings shared by the SQL backends.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 300 // seconds
	DefaultConnMaxIdleTime = 60  // seconds
)

// Store is the local identity store.
//
// Every mutating call is its own transaction: it either fully applies or
// leaves the identity untouched.
type Store interface {
	// FindAll returns every identity, or only active ones, ordered by key.
	FindAll(ctx context.Context, activeOnly bool) ([]*identity.LocalIdentity, error)

	// Create inserts a new active identity from a directory record. Protected
	// fields are empty unless the record carries a seed.
	Create(ctx context.Context, rec identity.DirectoryRecord) (*identity.LocalIdentity, error)

	// PatchAuthoritative writes exactly the fields named in the patch,
	// clears the identity's missing-from-directory state and marks it
	// active again. Any field that is
	// not authoritative fails the call with ErrFieldNotAuthoritative before
	// storage is touched.
	PatchAuthoritative(ctx context.Context, key string, patch identity.Patch) (*identity.LocalIdentity, error)

	// MarkMissing flags an identity as absent from the directory and bumps
	// its missing count.
	MarkMissing(ctx context.Context, key string) error

	// CascadeDelete removes an identity together with its role assignments
	// and memberships. A failure leaves all of them in place.
	CascadeDelete(ctx context.Context, key string) error

	// Capacity is the number of concurrent operations the store can serve
	// without starving other users of its connection pool.
	Capacity() int

	Close() error
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Column maps an authoritative field to its storage column.
type Column struct {
	Field identity.Field
	Name  string
}

// authoritativeColumns is the fixed table of writable columns. A field
// missing from here can never reach an update statement.
var authoritativeColumns = map[identity.Field]string{
	identity.FieldDistinguishedName: "distinguished_name",
	identity.FieldUIDNumber:         "uid_number",
	identity.FieldGIDNumber:         "gid_number",
	identity.FieldHomeDirectory:     "home_directory",
	identity.FieldLoginShell:        "login_shell",
}

// PatchColumns resolves a patch into the columns to write, in a stable
// order. It fails if any field is outside the fixed column table or not
// authoritative under the policy.
func PatchColumns(policy *identity.Policy, patch identity.Patch) ([]Column, error) {
	cols := make([]Column, 0, len(patch))
	for _, f := range patch.Fields() {
		name, ok := authoritativeColumns[f]
		if !ok || (policy != nil && !policy.IsAuthoritative(f)) {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotAuthoritative, f)
		}
		if !validValue(f, patch[f]) {
			return nil, fmt.Errorf("invalid value %v (%T) for %s", patch[f], patch[f], f)
		}
		cols = append(cols, Column{Field: f, Name: name})
	}
	return cols, nil
}

func validValue(f identity.Field, v any) bool {
	switch f {
	case identity.FieldUIDNumber, identity.FieldGIDNumber:
		_, ok := v.(int)
		return ok
	default:
		_, ok := v.(string)
		return ok
	}
}

// CheckPatch validates a patch without resolving columns.
func CheckPatch(policy *identity.Policy, patch identity.Patch) error {
	_, err := PatchColumns(policy, patch)
	return err
}

// NewIdentity builds the row a Create call inserts.
func NewIdentity(rec identity.DirectoryRecord) *identity.LocalIdentity {
	l := &identity.LocalIdentity{
		Key: rec.Key,
		Authoritative: identity.AuthoritativeFields{
			DistinguishedName: rec.DistinguishedName,
			UIDNumber:         rec.UIDNumber,
			GIDNumber:         rec.GIDNumber,
			HomeDirectory:     rec.HomeDirectory,
			LoginShell:        rec.LoginShell,
		},
		Lifecycle: identity.Lifecycle{IsActive: true},
	}
	if rec.Seed != nil {
		l.Protected = *rec.Seed
	}
	return l
}

// ApplyPatch writes a checked patch into an identity and clears its
// missing state.
func ApplyPatch(l *identity.LocalIdentity, patch identity.Patch) {
	l.Authoritative = l.Authoritative.Apply(patch)
	l.Lifecycle.IsActive = true
	l.Lifecycle.MissingFromDirectory = false
	l.Lifecycle.MissingCount = 0
}

// Admin is the local CRUD surface for data reconciliation never writes:
// protected fields, role assignments and memberships. All backends
// implement it.
type Admin interface {
	SetProtected(ctx context.Context, key string, p identity.ProtectedFields) error
	SetActive(ctx context.Context, key string, active bool) error
	AssignRole(ctx context.Context, key, role string) error
	AddMembership(ctx context.Context, key, group string) error

	// Dependents lists the role assignments and memberships of an identity.
	Dependents(ctx context.Context, key string) (roles, groups []string, err error)
}
