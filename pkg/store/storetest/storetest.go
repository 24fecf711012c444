// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest holds the behaviour every store backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
	"github.com/LeeDigitalWorks/dirsync/pkg/store"
)

// Backend is a store together with its local CRUD surface.
type Backend interface {
	store.Store
	store.Admin
}

// Factory returns a fresh, empty backend. It should register its own
// cleanup with t.
type Factory func(t *testing.T) Backend

// Record builds a valid directory record for key.
func Record(key string, uid int) identity.DirectoryRecord {
	return identity.DirectoryRecord{
		Key:               key,
		DistinguishedName: "uid=" + key + ",ou=people,dc=example,dc=edu",
		UIDNumber:         uid,
		GIDNumber:         2000,
		HomeDirectory:     "/home/" + key,
		LoginShell:        "/bin/bash",
	}
}

// Run executes the shared backend tests.
func Run(t *testing.T, newBackend Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newBackend(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newBackend(t)) })
	t.Run("CreateWithSeed", func(t *testing.T) { testCreateWithSeed(t, newBackend(t)) })
	t.Run("PatchPreservesProtected", func(t *testing.T) { testPatchPreservesProtected(t, newBackend(t)) })
	t.Run("PatchRejectsProtectedField", func(t *testing.T) { testPatchRejectsProtectedField(t, newBackend(t)) })
	t.Run("PatchNotFound", func(t *testing.T) { testPatchNotFound(t, newBackend(t)) })
	t.Run("MarkMissingThenPatchClears", func(t *testing.T) { testMarkMissing(t, newBackend(t)) })
	t.Run("PatchReactivates", func(t *testing.T) { testPatchReactivates(t, newBackend(t)) })
	t.Run("CascadeDelete", func(t *testing.T) { testCascadeDelete(t, newBackend(t)) })
	t.Run("DeleteNotFound", func(t *testing.T) { testDeleteNotFound(t, newBackend(t)) })
	t.Run("FindAllActiveOnly", func(t *testing.T) { testFindAllActiveOnly(t, newBackend(t)) })
	t.Run("Capacity", func(t *testing.T) { assert.GreaterOrEqual(t, newBackend(t).Capacity(), 1) })
}

func testCreateAndFind(t *testing.T, s Backend) {
	ctx := context.Background()

	for _, key := range []string{"carol", "alice", "bob"} {
		created, err := s.Create(ctx, Record(key, 1000))
		require.NoError(t, err)
		assert.Equal(t, key, created.Key)
		assert.True(t, created.Lifecycle.IsActive)
		assert.Equal(t, identity.ProtectedFields{}, created.Protected)
	}

	all, err := s.FindAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].Key)
	assert.Equal(t, "bob", all[1].Key)
	assert.Equal(t, "carol", all[2].Key)
	assert.Equal(t, "/home/alice", all[0].Authoritative.HomeDirectory)
	assert.Equal(t, 1000, all[0].Authoritative.UIDNumber)
	assert.False(t, all[0].LastReconciledAt.IsZero())
}

func testCreateDuplicate(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.Create(ctx, Record("alice", 1001))
	require.NoError(t, err)
	_, err = s.Create(ctx, Record("alice", 1001))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func testCreateWithSeed(t *testing.T, s Backend) {
	ctx := context.Background()

	rec := Record("alice", 1001)
	rec.Seed = &identity.ProtectedFields{DisplayName: "Alice", Email: "alice@example.edu"}
	_, err := s.Create(ctx, rec)
	require.NoError(t, err)

	all, err := s.FindAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Alice", all[0].Protected.DisplayName)
	assert.Equal(t, "alice@example.edu", all[0].Protected.Email)
}

func testPatchPreservesProtected(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.Create(ctx, Record("alice", 1001))
	require.NoError(t, err)
	protected := identity.ProtectedFields{DisplayName: "Al", Email: "a@x.edu", Phone: "555-0100", AssignedRole: "admin"}
	require.NoError(t, s.SetProtected(ctx, "alice", protected))

	patched, err := s.PatchAuthoritative(ctx, "alice", identity.Patch{
		identity.FieldHomeDirectory: "/srv/home/alice",
		identity.FieldUIDNumber:     1501,
	})
	require.NoError(t, err)
	assert.Equal(t, "/srv/home/alice", patched.Authoritative.HomeDirectory)
	assert.Equal(t, 1501, patched.Authoritative.UIDNumber)
	assert.Equal(t, "/bin/bash", patched.Authoritative.LoginShell)
	assert.Equal(t, protected, patched.Protected)

	all, err := s.FindAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, protected, all[0].Protected)
	assert.Equal(t, "/srv/home/alice", all[0].Authoritative.HomeDirectory)
}

func testPatchRejectsProtectedField(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.Create(ctx, Record("alice", 1001))
	require.NoError(t, err)
	require.NoError(t, s.SetProtected(ctx, "alice", identity.ProtectedFields{Email: "a@x.edu"}))

	_, err = s.PatchAuthoritative(ctx, "alice", identity.Patch{
		identity.FieldLoginShell: "/bin/zsh",
		identity.FieldEmail:      "leak@dir.example.edu",
	})
	require.ErrorIs(t, err, store.ErrFieldNotAuthoritative)

	all, err := s.FindAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a@x.edu", all[0].Protected.Email)
	assert.Equal(t, "/bin/bash", all[0].Authoritative.LoginShell, "a rejected patch must not be partially applied")
}

func testPatchNotFound(t *testing.T, s Backend) {
	_, err := s.PatchAuthoritative(context.Background(), "ghost", identity.Patch{identity.FieldLoginShell: "/bin/sh"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMarkMissing(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.Create(ctx, Record("bob", 1002))
	require.NoError(t, err)
	require.NoError(t, s.MarkMissing(ctx, "bob"))
	require.NoError(t, s.MarkMissing(ctx, "bob"))

	all, err := s.FindAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Lifecycle.MissingFromDirectory)
	assert.Equal(t, 2, all[0].Lifecycle.MissingCount)

	patched, err := s.PatchAuthoritative(ctx, "bob", nil)
	require.NoError(t, err)
	assert.False(t, patched.Lifecycle.MissingFromDirectory)
	assert.Zero(t, patched.Lifecycle.MissingCount)

	assert.ErrorIs(t, s.MarkMissing(ctx, "ghost"), store.ErrNotFound)
}

func testPatchReactivates(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.Create(ctx, Record("alice", 1001))
	require.NoError(t, err)
	require.NoError(t, s.SetProtected(ctx, "alice", identity.ProtectedFields{DisplayName: "Alice"}))
	require.NoError(t, s.SetActive(ctx, "alice", false))

	active, err := s.FindAll(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	patched, err := s.PatchAuthoritative(ctx, "alice", nil)
	require.NoError(t, err)
	assert.True(t, patched.Lifecycle.IsActive)
	assert.Equal(t, "Alice", patched.Protected.DisplayName)

	active, err = s.FindAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].Key)
}

func testCascadeDelete(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.Create(ctx, Record("bob", 1002))
	require.NoError(t, err)
	_, err = s.Create(ctx, Record("carol", 1003))
	require.NoError(t, err)
	require.NoError(t, s.AssignRole(ctx, "bob", "editor"))
	require.NoError(t, s.AssignRole(ctx, "bob", "viewer"))
	require.NoError(t, s.AddMembership(ctx, "bob", "staff"))
	require.NoError(t, s.AssignRole(ctx, "carol", "viewer"))

	roles, groups, err := s.Dependents(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"editor", "viewer"}, roles)
	assert.Equal(t, []string{"staff"}, groups)

	require.NoError(t, s.CascadeDelete(ctx, "bob"))

	roles, groups, err = s.Dependents(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Empty(t, groups)

	all, err := s.FindAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "carol", all[0].Key)

	roles, _, err = s.Dependents(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"viewer"}, roles)
}

func testDeleteNotFound(t *testing.T, s Backend) {
	assert.ErrorIs(t, s.CascadeDelete(context.Background(), "ghost"), store.ErrNotFound)
}

func testFindAllActiveOnly(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.Create(ctx, Record("alice", 1001))
	require.NoError(t, err)
	_, err = s.Create(ctx, Record("zed", 1009))
	require.NoError(t, err)
	require.NoError(t, s.SetActive(ctx, "zed", false))

	active, err := s.FindAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].Key)

	all, err := s.FindAll(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
