// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory implementation of store.Store.
// Identities are kept in a btree ordered by key. It backs tests and
// single-process dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
	"github.com/LeeDigitalWorks/dirsync/pkg/store"
)

const backendName = "memory"

// DefaultCapacity is the concurrency the memory store advertises.
const DefaultCapacity = 8

// Step names a point inside a store operation where a fault hook runs.
type Step string

const (
	StepCreate         Step = "create"
	StepPatch          Step = "patch"
	StepMark           Step = "mark"
	StepDeleteRoles    Step = "delete_roles"
	StepDeleteMembers  Step = "delete_memberships"
	StepDeleteIdentity Step = "delete_identity"
	StepCommitCascade  Step = "commit_cascade"
)

// FaultHook is called at each step of a mutating operation. A non-nil error
// aborts the operation and rolls it back.
type FaultHook func(ctx context.Context, step Step, key string) error

// identityItem implements btree.Item for key-ordered indexing
type identityItem struct {
	key string
	id  *identity.LocalIdentity
}

// Less implements btree.Item interface
func (a *identityItem) Less(b btree.Item) bool {
	return a.key < b.(*identityItem).key
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the concurrency the store reports.
func WithCapacity(n int) Option {
	return func(s *Store) { s.capacity = n }
}

// WithPolicy restricts patches to the policy's authoritative fields.
func WithPolicy(p *identity.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithFaultHook installs a hook run at every mutation step.
func WithFaultHook(h FaultHook) Option {
	return func(s *Store) { s.hook = h }
}

// WithClock overrides the time source used for reconciliation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is an in-memory identity store.
type Store struct {
	mu sync.RWMutex

	identities *btree.BTree
	roles      map[string]map[string]struct{} // key -> roles
	members    map[string]map[string]struct{} // key -> groups

	capacity int
	policy   *identity.Policy
	hook     FaultHook
	now      func() time.Time
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		identities: btree.New(2),
		roles:      make(map[string]map[string]struct{}),
		members:    make(map[string]map[string]struct{}),
		capacity:   DefaultCapacity,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.capacity < 1 {
		s.capacity = 1
	}
	return s
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Admin = (*Store)(nil)
)

func (s *Store) fault(ctx context.Context, step Step, key string) error {
	if s.hook == nil {
		return nil
	}
	return s.hook(ctx, step, key)
}

func (s *Store) get(key string) (*identity.LocalIdentity, bool) {
	item := s.identities.Get(&identityItem{key: key})
	if item == nil {
		return nil, false
	}
	return item.(*identityItem).id, true
}

// FindAll returns identities ordered by key.
func (s *Store) FindAll(ctx context.Context, activeOnly bool) (out []*identity.LocalIdentity, err error) {
	start := time.Now()
	defer func() { store.Observe(backendName, "find_all", start, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out = make([]*identity.LocalIdentity, 0, s.identities.Len())
	s.identities.Ascend(func(item btree.Item) bool {
		id := item.(*identityItem).id
		if !activeOnly || id.Lifecycle.IsActive {
			out = append(out, id.Clone())
		}
		return true
	})
	return out, nil
}

// Get returns a copy of one identity.
func (s *Store) Get(ctx context.Context, key string) (*identity.LocalIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.get(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return id.Clone(), nil
}

// Len returns the number of identities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identities.Len()
}

func (s *Store) Create(ctx context.Context, rec identity.DirectoryRecord) (_ *identity.LocalIdentity, err error) {
	start := time.Now()
	defer func() { store.Observe(backendName, "create", start, err) }()

	// Hooks run outside the lock so concurrent operations stay concurrent.
	if err := s.fault(ctx, StepCreate, rec.Key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(rec.Key); ok {
		return nil, fmt.Errorf("create %q: %w", rec.Key, store.ErrAlreadyExists)
	}

	id := store.NewIdentity(rec)
	id.LastReconciledAt = s.now().UTC()
	s.identities.ReplaceOrInsert(&identityItem{key: rec.Key, id: id})
	return id.Clone(), nil
}

func (s *Store) PatchAuthoritative(ctx context.Context, key string, patch identity.Patch) (_ *identity.LocalIdentity, err error) {
	start := time.Now()
	defer func() { store.Observe(backendName, "patch", start, err) }()

	if err := store.CheckPatch(s.policy, patch); err != nil {
		return nil, err
	}
	if err := s.fault(ctx, StepPatch, key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.get(key)
	if !ok {
		return nil, fmt.Errorf("patch %q: %w", key, store.ErrNotFound)
	}

	next := existing.Clone()
	store.ApplyPatch(next, patch)
	next.LastReconciledAt = s.now().UTC()
	s.identities.ReplaceOrInsert(&identityItem{key: key, id: next})
	return next.Clone(), nil
}

func (s *Store) MarkMissing(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { store.Observe(backendName, "mark_missing", start, err) }()

	if err := s.fault(ctx, StepMark, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.get(key)
	if !ok {
		return fmt.Errorf("mark %q: %w", key, store.ErrNotFound)
	}

	next := existing.Clone()
	next.Lifecycle.MissingFromDirectory = true
	next.Lifecycle.MissingCount++
	s.identities.ReplaceOrInsert(&identityItem{key: key, id: next})
	return nil
}

// CascadeDelete removes role assignments, then memberships, then the
// identity. Each step is staged and nothing is removed until all of them
// have succeeded.
func (s *Store) CascadeDelete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { store.Observe(backendName, "cascade_delete", start, err) }()

	s.mu.RLock()
	_, ok := s.get(key)
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("delete %q: %w", key, store.ErrNotFound)
	}

	for _, step := range []Step{StepDeleteRoles, StepDeleteMembers, StepDeleteIdentity, StepCommitCascade} {
		if err := s.fault(ctx, step, key); err != nil {
			return fmt.Errorf("cascade delete %q at %s: %w", key, step, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identities.Delete(&identityItem{key: key}) == nil {
		return fmt.Errorf("delete %q: %w", key, store.ErrNotFound)
	}
	delete(s.roles, key)
	delete(s.members, key)
	return nil
}

// Capacity returns the configured concurrency.
func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) Close() error {
	return nil
}

// ============================================================================
// Local CRUD operations
// ============================================================================

// Put inserts or replaces an identity as the local CRUD layer would.
func (s *Store) Put(id *identity.LocalIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities.ReplaceOrInsert(&identityItem{key: id.Key, id: id.Clone()})
}

func (s *Store) SetProtected(ctx context.Context, key string, p identity.ProtectedFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.get(key)
	if !ok {
		return store.ErrNotFound
	}
	next := existing.Clone()
	next.Protected = p
	s.identities.ReplaceOrInsert(&identityItem{key: key, id: next})
	return nil
}

func (s *Store) SetActive(ctx context.Context, key string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.get(key)
	if !ok {
		return store.ErrNotFound
	}
	next := existing.Clone()
	next.Lifecycle.IsActive = active
	s.identities.ReplaceOrInsert(&identityItem{key: key, id: next})
	return nil
}

func (s *Store) AssignRole(ctx context.Context, key, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(key); !ok {
		return store.ErrNotFound
	}
	addTo(s.roles, key, role)
	return nil
}

func (s *Store) AddMembership(ctx context.Context, key, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(key); !ok {
		return store.ErrNotFound
	}
	addTo(s.members, key, group)
	return nil
}

func (s *Store) Dependents(ctx context.Context, key string) (roles, groups []string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedSet(s.roles[key]), sortedSet(s.members[key]), nil
}

func addTo(m map[string]map[string]struct{}, key, v string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[v] = struct{}{}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
