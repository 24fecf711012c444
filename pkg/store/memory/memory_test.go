// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
	"github.com/LeeDigitalWorks/dirsync/pkg/store"
	"github.com/LeeDigitalWorks/dirsync/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return New()
	})
}

func TestCascadeDelete_RollsBackOnFailure(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("constraint violation")
	s := New(WithFaultHook(func(_ context.Context, step Step, key string) error {
		if key == "bob" && step == StepDeleteIdentity {
			return errBoom
		}
		return nil
	}))
	ctx := context.Background()

	_, err := s.Create(ctx, storetest.Record("bob", 1002))
	require.NoError(t, err)
	require.NoError(t, s.AssignRole(ctx, "bob", "editor"))
	require.NoError(t, s.AddMembership(ctx, "bob", "staff"))

	err = s.CascadeDelete(ctx, "bob")
	require.ErrorIs(t, err, errBoom)

	_, err = s.Get(ctx, "bob")
	require.NoError(t, err, "identity must survive a failed cascade")
	roles, groups, err := s.Dependents(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"editor"}, roles)
	assert.Equal(t, []string{"staff"}, groups)
}

func TestPatch_PolicyNarrowsWritableFields(t *testing.T) {
	t.Parallel()

	policy, err := identity.NewPolicy([]identity.Field{identity.FieldUIDNumber}, nil)
	require.NoError(t, err)
	s := New(WithPolicy(policy))
	ctx := context.Background()

	_, err = s.Create(ctx, storetest.Record("alice", 1001))
	require.NoError(t, err)

	_, err = s.PatchAuthoritative(ctx, "alice", identity.Patch{identity.FieldLoginShell: "/bin/zsh"})
	assert.ErrorIs(t, err, store.ErrFieldNotAuthoritative)

	_, err = s.PatchAuthoritative(ctx, "alice", identity.Patch{identity.FieldUIDNumber: 2001})
	assert.NoError(t, err)
}

func TestPatch_RejectsWrongValueType(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, err := s.Create(ctx, storetest.Record("alice", 1001))
	require.NoError(t, err)

	_, err = s.PatchAuthoritative(ctx, "alice", identity.Patch{identity.FieldUIDNumber: "1001"})
	assert.Error(t, err)
}

func TestCapacity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultCapacity, New().Capacity())
	assert.Equal(t, 3, New(WithCapacity(3)).Capacity())
	assert.Equal(t, 1, New(WithCapacity(0)).Capacity())
}
