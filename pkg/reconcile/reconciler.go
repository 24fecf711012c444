// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile computes the create, update and delete decisions that
// bring the local identity store in line with a directory snapshot.
package reconcile

import (
	"sort"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
)

// Config configures a Reconciler.
type Config struct {
	// Policy decides which fields reconciliation may write. Nil means
	// identity.DefaultPolicy().
	Policy *identity.Policy

	// MissingGraceCycles is the number of consecutive runs a local identity
	// may be absent from the directory before it is deleted. Values below 2
	// delete on the first absence.
	MissingGraceCycles int

	// SeedProtected copies directory-supplied protected values into newly
	// created identities. Existing identities are never seeded.
	SeedProtected bool
}

// Reconciler diffs a directory snapshot against local state. It holds no
// mutable state and is safe for concurrent use.
type Reconciler struct {
	policy        *identity.Policy
	graceCycles   int
	seedProtected bool
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	policy := cfg.Policy
	if policy == nil {
		policy = identity.DefaultPolicy()
	}
	return &Reconciler{
		policy:        policy,
		graceCycles:   cfg.MissingGraceCycles,
		seedProtected: cfg.SeedProtected,
	}
}

// Policy returns the field ownership policy in use.
func (r *Reconciler) Policy() *identity.Policy {
	return r.policy
}

// Diff computes the plan for one run. It performs no I/O; bad snapshot
// records are reported in Plan.Errors and left out of the plan.
//
// Every list in the returned plan is sorted by key, so identical inputs
// always produce identical plans.
func (r *Reconciler) Diff(snapshot []identity.DirectoryRecord, local []*identity.LocalIdentity) *Plan {
	plan := &Plan{
		Creates: []identity.DirectoryRecord{},
		Updates: []Update{},
		Deletes: []string{},
	}

	// Keys the directory reported, valid or not. A key in here is never
	// deleted or marked.
	present := make(map[string]struct{}, len(snapshot))
	// First valid occurrence of each key.
	byKey := make(map[string]identity.DirectoryRecord, len(snapshot))
	occurrences := make(map[string]int)
	var order []string

	for i, rec := range snapshot {
		if rec.Key != "" {
			present[rec.Key] = struct{}{}
			occurrences[rec.Key]++
			if occurrences[rec.Key] > 1 {
				continue
			}
		}
		if reason := malformed(rec); reason != "" {
			plan.Errors = append(plan.Errors, NewRecordError(&MalformedRecordError{
				Key:    rec.Key,
				Index:  i,
				Reason: reason,
			}))
			continue
		}
		byKey[rec.Key] = rec
		order = append(order, rec.Key)
	}

	for key, n := range occurrences {
		if n < 2 {
			continue
		}
		delete(byKey, key)
		plan.Errors = append(plan.Errors, NewRecordError(&DuplicateKeyError{Key: key, Occurrences: n}))
	}

	localByKey := make(map[string]*identity.LocalIdentity, len(local))
	for _, l := range local {
		if l != nil {
			localByKey[l.Key] = l
		}
	}

	for _, key := range order {
		rec, ok := byKey[key]
		if !ok {
			continue
		}
		existing, found := localByKey[key]
		if !found {
			plan.Creates = append(plan.Creates, r.createRecord(rec))
			continue
		}
		patch := r.policy.Diff(existing.Authoritative, r.policy.ProjectAuthoritative(rec))
		// Applying any patch, even an empty one, clears the missing flag
		// and reactivates the row.
		if patch == nil && !existing.Lifecycle.MissingFromDirectory && existing.Lifecycle.IsActive {
			continue
		}
		plan.Updates = append(plan.Updates, Update{Key: key, Patch: patch})
	}

	for _, l := range local {
		if l == nil || !l.Lifecycle.IsActive {
			continue
		}
		if _, ok := present[l.Key]; ok {
			continue
		}
		if r.graceExhausted(l) {
			plan.Deletes = append(plan.Deletes, l.Key)
		} else {
			plan.Marks = append(plan.Marks, l.Key)
		}
	}

	sort.Slice(plan.Creates, func(i, j int) bool { return plan.Creates[i].Key < plan.Creates[j].Key })
	sort.Slice(plan.Updates, func(i, j int) bool { return plan.Updates[i].Key < plan.Updates[j].Key })
	sort.Strings(plan.Marks)
	sort.Strings(plan.Deletes)
	sortErrors(plan.Errors)

	return plan
}

func (r *Reconciler) createRecord(rec identity.DirectoryRecord) identity.DirectoryRecord {
	out := r.policy.ProjectRecord(rec)
	if r.seedProtected && rec.Seed != nil {
		seed := *rec.Seed
		out.Seed = &seed
	}
	return out
}

func (r *Reconciler) graceExhausted(l *identity.LocalIdentity) bool {
	if r.graceCycles < 2 {
		return true
	}
	return l.Lifecycle.MissingCount+1 >= r.graceCycles
}

func malformed(rec identity.DirectoryRecord) string {
	switch {
	case rec.Key == "":
		return "empty key"
	case rec.DistinguishedName == "":
		return "missing distinguished name"
	case rec.UIDNumber < 0:
		return "missing or invalid uid number"
	case rec.GIDNumber < 0:
		return "missing or invalid gid number"
	}
	return ""
}

// sortErrors orders errors by key, then kind. Errors without a key keep
// their snapshot order at the front.
func sortErrors(errs []RecordError) {
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Key != errs[j].Key {
			return errs[i].Key < errs[j].Key
		}
		return errs[i].Kind < errs[j].Kind
	})
}
