// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"fmt"
)

// ErrInvalidPolicy is returned when a field ownership override is inconsistent.
var ErrInvalidPolicy = errors.New("invalid field ownership policy")

// Policy classifies identity attributes into authoritative (written by
// reconciliation from the directory) and protected (owned by the local CRUD
// layer). Fields in neither set are ignored by reconciliation.
//
// A Policy is immutable once built and safe for concurrent use.
type Policy struct {
	authoritative map[Field]bool
	protected     map[Field]bool
	order         []Field
}

// DefaultPolicy returns the standard ownership table: every directory
// attribute is authoritative, every local business attribute is protected.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(directoryFields, localFields)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPolicy builds a policy from explicit field lists.
//
// Only directory attributes may be authoritative; a field may not appear in
// both lists; unknown field names are rejected.
func NewPolicy(authoritative, protected []Field) (*Policy, error) {
	p := &Policy{
		authoritative: make(map[Field]bool, len(authoritative)),
		protected:     make(map[Field]bool, len(protected)),
	}
	for _, f := range authoritative {
		if !isDirectoryField(f) {
			return nil, fmt.Errorf("%w: %q cannot be authoritative", ErrInvalidPolicy, f)
		}
		p.authoritative[f] = true
	}
	for _, f := range protected {
		if !isDirectoryField(f) && !isLocalField(f) {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidPolicy, f)
		}
		if p.authoritative[f] {
			return nil, fmt.Errorf("%w: %q is both authoritative and protected", ErrInvalidPolicy, f)
		}
		p.protected[f] = true
	}
	for _, f := range directoryFields {
		if p.authoritative[f] {
			p.order = append(p.order, f)
		}
	}
	return p, nil
}

// ParseFields converts configuration strings into field names.
func ParseFields(names []string) ([]Field, error) {
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		f := Field(n)
		if !isDirectoryField(f) && !isLocalField(f) {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidPolicy, n)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// IsAuthoritative reports whether reconciliation may write f.
func (p *Policy) IsAuthoritative(f Field) bool {
	return p.authoritative[f]
}

// IsProtected reports whether f is owned by the local CRUD layer.
func (p *Policy) IsProtected(f Field) bool {
	return p.protected[f]
}

// AuthoritativeFields lists the authoritative fields in canonical order.
func (p *Policy) AuthoritativeFields() []Field {
	out := make([]Field, len(p.order))
	copy(out, p.order)
	return out
}

// ProjectAuthoritative extracts the authoritative attributes of a directory
// record. Attributes the policy does not own are left at their zero value.
func (p *Policy) ProjectAuthoritative(rec DirectoryRecord) AuthoritativeFields {
	var a AuthoritativeFields
	if p.authoritative[FieldDistinguishedName] {
		a.DistinguishedName = rec.DistinguishedName
	}
	if p.authoritative[FieldUIDNumber] {
		a.UIDNumber = rec.UIDNumber
	}
	if p.authoritative[FieldGIDNumber] {
		a.GIDNumber = rec.GIDNumber
	}
	if p.authoritative[FieldHomeDirectory] {
		a.HomeDirectory = rec.HomeDirectory
	}
	if p.authoritative[FieldLoginShell] {
		a.LoginShell = rec.LoginShell
	}
	return a
}

// ProjectRecord returns rec with every non-authoritative attribute cleared
// and the seed removed.
func (p *Policy) ProjectRecord(rec DirectoryRecord) DirectoryRecord {
	a := p.ProjectAuthoritative(rec)
	return DirectoryRecord{
		Key:               rec.Key,
		DistinguishedName: a.DistinguishedName,
		UIDNumber:         a.UIDNumber,
		GIDNumber:         a.GIDNumber,
		HomeDirectory:     a.HomeDirectory,
		LoginShell:        a.LoginShell,
	}
}

// Diff compares the authoritative fields of a local identity with the
// desired values and returns a patch of the fields that differ. The patch
// is nil when nothing differs.
func (p *Policy) Diff(local, want AuthoritativeFields) Patch {
	var patch Patch
	for _, f := range p.order {
		have, _ := local.Get(f)
		next, _ := want.Get(f)
		if have == next {
			continue
		}
		if patch == nil {
			patch = make(Patch)
		}
		patch[f] = next
	}
	return patch
}

// Validate checks that every field of a patch is authoritative.
func (p *Policy) Validate(patch Patch) error {
	for _, f := range patch.Fields() {
		if !p.authoritative[f] {
			return fmt.Errorf("field %q is not authoritative", f)
		}
	}
	return nil
}

func isLocalField(f Field) bool {
	for _, l := range localFields {
		if l == f {
			return true
		}
	}
	return false
}
