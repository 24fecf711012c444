// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
)

func record(key string, uid, gid int) identity.DirectoryRecord {
	return identity.DirectoryRecord{
		Key:               key,
		DistinguishedName: "uid=" + key + ",ou=people,dc=example,dc=edu",
		UIDNumber:         uid,
		GIDNumber:         gid,
		HomeDirectory:     "/home/" + key,
		LoginShell:        "/bin/bash",
	}
}

func localFrom(rec identity.DirectoryRecord) *identity.LocalIdentity {
	return &identity.LocalIdentity{
		Key:           rec.Key,
		Authoritative: identity.DefaultPolicy().ProjectAuthoritative(rec),
		Lifecycle:     identity.Lifecycle{IsActive: true},
	}
}

var planOpts = cmp.Options{
	cmpopts.EquateEmpty(),
	cmpopts.IgnoreUnexported(RecordError{}),
}

func TestDiff_CreateNewRecord(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	plan := r.Diff([]identity.DirectoryRecord{record("alice", 1001, 2000)}, nil)

	want := &Plan{
		Creates: []identity.DirectoryRecord{record("alice", 1001, 2000)},
	}
	if diff := cmp.Diff(want, plan, planOpts); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_UpdateOnlyChangedField(t *testing.T) {
	t.Parallel()

	existing := localFrom(record("alice", 1001, 2000))
	existing.Protected.Email = "a@x.edu"

	moved := record("alice", 1001, 2000)
	moved.HomeDirectory = "/srv/home/alice"

	plan := New(Config{}).Diff([]identity.DirectoryRecord{moved}, []*identity.LocalIdentity{existing})

	want := &Plan{
		Updates: []Update{{Key: "alice", Patch: identity.Patch{identity.FieldHomeDirectory: "/srv/home/alice"}}},
	}
	if diff := cmp.Diff(want, plan, planOpts); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_DeleteMissingActive(t *testing.T) {
	t.Parallel()

	bob := localFrom(record("bob", 1002, 2000))
	retired := localFrom(record("zed", 1003, 2000))
	retired.Lifecycle.IsActive = false

	plan := New(Config{}).Diff(nil, []*identity.LocalIdentity{bob, retired})

	assert.Equal(t, []string{"bob"}, plan.Deletes)
	assert.Empty(t, plan.Creates)
	assert.Empty(t, plan.Updates)
	assert.Empty(t, plan.Marks)
}

func TestDiff_DuplicateKeyExcluded(t *testing.T) {
	t.Parallel()

	carol := localFrom(record("carol", 1004, 2000))
	snapshot := []identity.DirectoryRecord{
		record("carol", 1004, 2000),
		record("dave", 1005, 2000),
		record("carol", 9999, 2000),
	}

	plan := New(Config{}).Diff(snapshot, []*identity.LocalIdentity{carol})

	require.Len(t, plan.Errors, 1)
	assert.Equal(t, "carol", plan.Errors[0].Key)
	assert.Equal(t, KindDuplicateKey, plan.Errors[0].Kind)

	var dup *DuplicateKeyError
	require.True(t, errors.As(plan.Errors[0], &dup))
	assert.Equal(t, 2, dup.Occurrences)

	assert.Equal(t, []identity.DirectoryRecord{record("dave", 1005, 2000)}, plan.Creates)
	assert.Empty(t, plan.Updates)
	assert.Empty(t, plan.Deletes, "a duplicated key is still present in the directory")
}

func TestDiff_MalformedRecords(t *testing.T) {
	t.Parallel()

	noDN := record("erin", 1006, 2000)
	noDN.DistinguishedName = ""
	badUID := record("frank", identity.AbsentID, 2000)
	badGID := record("gina", 1008, identity.AbsentID)
	noKey := record("", 1009, 2000)

	local := []*identity.LocalIdentity{localFrom(record("frank", 1007, 2000))}
	plan := New(Config{}).Diff([]identity.DirectoryRecord{noDN, badUID, badGID, noKey}, local)

	assert.True(t, plan.Empty(), "malformed records must not enter the plan")
	require.Len(t, plan.Errors, 4)

	keys := make([]string, 0, len(plan.Errors))
	for _, e := range plan.Errors {
		assert.Equal(t, KindMalformedRecord, e.Kind)
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"", "erin", "frank", "gina"}, keys)

	var bad *MalformedRecordError
	require.True(t, errors.As(plan.Errors[0], &bad))
	assert.Equal(t, 3, bad.Index)
}

func TestDiff_NoOpIsExcluded(t *testing.T) {
	t.Parallel()

	snapshot := []identity.DirectoryRecord{record("alice", 1001, 2000), record("bob", 1002, 2000)}
	local := []*identity.LocalIdentity{localFrom(snapshot[0]), localFrom(snapshot[1])}

	plan := New(Config{}).Diff(snapshot, local)
	assert.True(t, plan.Empty())
	assert.Empty(t, plan.Errors)
}

func TestDiff_ProtectedFieldsNeverInPatch(t *testing.T) {
	t.Parallel()

	existing := localFrom(record("alice", 1001, 2000))
	existing.Protected = identity.ProtectedFields{DisplayName: "Al", Email: "a@x.edu", Phone: "555", AssignedRole: "admin"}

	rec := record("alice", 1001, 2001)
	rec.Seed = &identity.ProtectedFields{DisplayName: "Alice Directory", Email: "alice@dir.example.edu"}

	plan := New(Config{SeedProtected: true}).Diff([]identity.DirectoryRecord{rec}, []*identity.LocalIdentity{existing})
	require.Len(t, plan.Updates, 1)

	policy := identity.DefaultPolicy()
	for _, f := range plan.Updates[0].Patch.Fields() {
		assert.True(t, policy.IsAuthoritative(f), "patch contains %s", f)
	}
	assert.Equal(t, identity.Patch{identity.FieldGIDNumber: 2001}, plan.Updates[0].Patch)
}

func TestDiff_SeedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	rec := record("alice", 1001, 2000)
	rec.Seed = &identity.ProtectedFields{Email: "alice@dir.example.edu"}

	plan := New(Config{}).Diff([]identity.DirectoryRecord{rec}, nil)
	require.Len(t, plan.Creates, 1)
	assert.Nil(t, plan.Creates[0].Seed)

	plan = New(Config{SeedProtected: true}).Diff([]identity.DirectoryRecord{rec}, nil)
	require.Len(t, plan.Creates, 1)
	require.NotNil(t, plan.Creates[0].Seed)
	assert.Equal(t, "alice@dir.example.edu", plan.Creates[0].Seed.Email)
}

func TestDiff_ReappearingClearsMissingFlag(t *testing.T) {
	t.Parallel()

	rec := record("bob", 1002, 2000)
	existing := localFrom(rec)
	existing.Lifecycle.MissingFromDirectory = true
	existing.Lifecycle.MissingCount = 1

	plan := New(Config{MissingGraceCycles: 3}).Diff([]identity.DirectoryRecord{rec}, []*identity.LocalIdentity{existing})
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, "bob", plan.Updates[0].Key)
	assert.Empty(t, plan.Updates[0].Patch)
}

func TestDiff_ReactivatesInactivePresent(t *testing.T) {
	t.Parallel()

	rec := record("alice", 1001, 2000)
	existing := localFrom(rec)
	existing.Lifecycle.IsActive = false

	r := New(Config{})
	plan := r.Diff([]identity.DirectoryRecord{rec}, []*identity.LocalIdentity{existing})
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, "alice", plan.Updates[0].Key)
	assert.Empty(t, plan.Updates[0].Patch)
	assert.Empty(t, plan.Creates)
	assert.Empty(t, plan.Deletes)

	existing.Lifecycle.IsActive = true
	assert.True(t, r.Diff([]identity.DirectoryRecord{rec}, []*identity.LocalIdentity{existing}).Empty())
}

func TestDiff_GracePolicy(t *testing.T) {
	t.Parallel()

	fresh := localFrom(record("bob", 1002, 2000))
	lingering := localFrom(record("carl", 1003, 2000))
	lingering.Lifecycle.MissingFromDirectory = true
	lingering.Lifecycle.MissingCount = 2

	r := New(Config{MissingGraceCycles: 3})
	plan := r.Diff(nil, []*identity.LocalIdentity{fresh, lingering})

	assert.Equal(t, []string{"bob"}, plan.Marks)
	assert.Equal(t, []string{"carl"}, plan.Deletes)

	// Immediate policy deletes both.
	plan = New(Config{MissingGraceCycles: 1}).Diff(nil, []*identity.LocalIdentity{fresh, lingering})
	assert.Equal(t, []string{"bob", "carl"}, plan.Deletes)
	assert.Empty(t, plan.Marks)
}

func TestDiff_PolicyOverride(t *testing.T) {
	t.Parallel()

	policy, err := identity.NewPolicy(
		[]identity.Field{identity.FieldDistinguishedName, identity.FieldUIDNumber, identity.FieldGIDNumber},
		[]identity.Field{identity.FieldLoginShell, identity.FieldEmail},
	)
	require.NoError(t, err)

	existing := localFrom(record("alice", 1001, 2000))
	rec := record("alice", 1001, 2000)
	rec.LoginShell = "/bin/zsh"
	rec.HomeDirectory = "/elsewhere"

	plan := New(Config{Policy: policy}).Diff([]identity.DirectoryRecord{rec}, []*identity.LocalIdentity{existing})
	assert.True(t, plan.Empty())
}

func TestDiff_DeterministicOrdering(t *testing.T) {
	t.Parallel()

	snapshot := []identity.DirectoryRecord{
		record("zoe", 1, 1), record("mia", 2, 1), record("ann", 3, 1),
		record("dup", 4, 1), record("dup", 5, 1), record("eve", 6, 1),
	}
	local := []*identity.LocalIdentity{
		localFrom(record("eve", 60, 1)),
		localFrom(record("old2", 7, 1)),
		localFrom(record("ann", 30, 1)),
		localFrom(record("old1", 8, 1)),
	}

	r := New(Config{})
	first := r.Diff(snapshot, local)
	second := r.Diff(snapshot, local)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	assert.Equal(t, []string{"mia", "zoe"}, keysOf(first.Creates))
	assert.Equal(t, []string{"ann", "eve"}, []string{first.Updates[0].Key, first.Updates[1].Key})
	assert.Equal(t, []string{"old1", "old2"}, first.Deletes)
}

func TestDiff_Completeness(t *testing.T) {
	t.Parallel()

	snapshot := []identity.DirectoryRecord{record("a", 1, 1), record("b", 2, 1), record("c", 3, 1)}
	local := []*identity.LocalIdentity{localFrom(record("b", 2, 9)), localFrom(record("d", 4, 1))}

	plan := New(Config{}).Diff(snapshot, local)

	// creates ∪ updates ∪ untouched covers the snapshot; deletes cover the rest.
	covered := map[string]bool{}
	for _, c := range plan.Creates {
		covered[c.Key] = true
	}
	for _, u := range plan.Updates {
		covered[u.Key] = true
	}
	for _, rec := range snapshot {
		assert.True(t, covered[rec.Key], "%s not covered", rec.Key)
	}
	assert.Equal(t, []string{"d"}, plan.Deletes)
}

func keysOf(recs []identity.DirectoryRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key
	}
	return out
}
