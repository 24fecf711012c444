// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Classification(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()

	for _, f := range []Field{FieldDistinguishedName, FieldUIDNumber, FieldGIDNumber, FieldHomeDirectory, FieldLoginShell} {
		assert.True(t, p.IsAuthoritative(f), "%s should be authoritative", f)
		assert.False(t, p.IsProtected(f), "%s should not be protected", f)
	}
	for _, f := range []Field{FieldDisplayName, FieldEmail, FieldPhone, FieldAssignedRole} {
		assert.True(t, p.IsProtected(f), "%s should be protected", f)
		assert.False(t, p.IsAuthoritative(f), "%s should not be authoritative", f)
	}
	assert.False(t, p.IsAuthoritative("favourite_colour"))
}

func TestNewPolicy_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		authoritative []Field
		protected     []Field
		wantErr       bool
	}{
		{"default lists", directoryFields, localFields, false},
		{"drop login shell", []Field{FieldDistinguishedName, FieldUIDNumber}, append([]Field{FieldLoginShell}, localFields...), false},
		{"email cannot be authoritative", []Field{FieldEmail}, nil, true},
		{"field in both lists", []Field{FieldUIDNumber}, []Field{FieldUIDNumber}, true},
		{"unknown protected field", directoryFields, []Field{"nickname"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPolicy(tt.authoritative, tt.protected)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPolicy)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseFields(t *testing.T) {
	t.Parallel()

	fields, err := ParseFields([]string{"uid_number", "email"})
	require.NoError(t, err)
	assert.Equal(t, []Field{FieldUIDNumber, FieldEmail}, fields)

	_, err = ParseFields([]string{"shoe_size"})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestPolicy_ProjectAuthoritative(t *testing.T) {
	t.Parallel()

	rec := DirectoryRecord{
		Key:               "alice",
		DistinguishedName: "uid=alice,ou=people,dc=example,dc=edu",
		UIDNumber:         1001,
		GIDNumber:         2000,
		HomeDirectory:     "/home/alice",
		LoginShell:        "/bin/bash",
		Seed:              &ProtectedFields{Email: "alice@example.edu"},
	}

	got := DefaultPolicy().ProjectAuthoritative(rec)
	assert.Equal(t, AuthoritativeFields{
		DistinguishedName: rec.DistinguishedName,
		UIDNumber:         1001,
		GIDNumber:         2000,
		HomeDirectory:     "/home/alice",
		LoginShell:        "/bin/bash",
	}, got)

	narrow, err := NewPolicy([]Field{FieldUIDNumber}, nil)
	require.NoError(t, err)
	projected := narrow.ProjectRecord(rec)
	assert.Equal(t, DirectoryRecord{Key: "alice", UIDNumber: 1001}, projected)
	assert.Nil(t, projected.Seed)
}

func TestPolicy_Diff(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	local := AuthoritativeFields{DistinguishedName: "uid=bob", UIDNumber: 1, GIDNumber: 2, HomeDirectory: "/home/bob", LoginShell: "/bin/sh"}

	assert.Nil(t, p.Diff(local, local))

	want := local
	want.HomeDirectory = "/srv/home/bob"
	want.GIDNumber = 3
	patch := p.Diff(local, want)
	assert.Equal(t, Patch{FieldHomeDirectory: "/srv/home/bob", FieldGIDNumber: 3}, patch)
	assert.Equal(t, []Field{FieldGIDNumber, FieldHomeDirectory}, patch.Fields())
	assert.Equal(t, want, local.Apply(patch))
}

func TestPolicy_DiffIgnoresUnownedFields(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy([]Field{FieldUIDNumber}, localFields)
	require.NoError(t, err)

	local := AuthoritativeFields{UIDNumber: 10, LoginShell: "/bin/sh"}
	want := AuthoritativeFields{UIDNumber: 10, LoginShell: "/bin/zsh"}
	assert.Nil(t, p.Diff(local, want))
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	assert.NoError(t, p.Validate(Patch{FieldLoginShell: "/bin/zsh"}))
	assert.Error(t, p.Validate(Patch{FieldLoginShell: "/bin/zsh", FieldEmail: "x@y"}))
}
