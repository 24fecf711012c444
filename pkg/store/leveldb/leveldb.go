// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package leveldb provides an embedded store.Store on top of goleveldb for
// single-node deployments without a database server.
//
// Key layout:
//
//	i\x00<key>             -> gob(identity.LocalIdentity)
//	r\x00<key>\x00<role>   -> empty
//	m\x00<key>\x00<group>  -> empty
package leveldb

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/store"
	"github.com/LeeDigitalWorks/dirsync/pkg/utils"
)

const (
	backendName = "leveldb"
	sep         = "\x00"

	// DefaultCapacity is the concurrency the store advertises. LevelDB
	// serialises writes internally so a large pool buys nothing.
	DefaultCapacity = 4
)

var (
	identityPrefix = []byte("i" + sep)
	rolePrefix     = []byte("r" + sep)
	memberPrefix   = []byte("m" + sep)
)

// Config holds LevelDB store configuration
type Config struct {
	// Path is the database directory. It is created if missing.
	Path string

	// Capacity overrides DefaultCapacity when positive.
	Capacity int

	// Policy restricts patches. Nil allows every directory field.
	Policy *identity.Policy

	// BeforeCommit, when set, runs before each write batch is committed.
	// An error discards the batch.
	BeforeCommit func(op, key string) error
}

// Store implements store.Store using LevelDB.
type Store struct {
	db       *leveldb.DB
	cfg      Config
	capacity int

	// mu serialises read-modify-write cycles.
	mu sync.Mutex

	writeOpts *opt.WriteOptions
	now       func() time.Time
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Admin = (*Store)(nil)
)

// Open opens or creates a LevelDB store, recovering a corrupted manifest
// when possible.
func Open(cfg Config) (*Store, error) {
	cfg.Path = utils.ResolvePath(cfg.Path)
	if err := utils.EnsureWritableDir(cfg.Path); err != nil {
		return nil, fmt.Errorf("leveldb data dir: %w", err)
	}

	db, err := leveldb.OpenFile(cfg.Path, nil)
	if lerrors.IsCorrupted(err) {
		logger.Warn().Str("path", cfg.Path).Msg("leveldb store corrupted, recovering")
		db, err = leveldb.RecoverFile(cfg.Path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		db:        db,
		cfg:       cfg,
		capacity:  capacity,
		writeOpts: &opt.WriteOptions{Sync: true},
		now:       time.Now,
	}, nil
}

func identityKey(key string) []byte {
	return append(append([]byte{}, identityPrefix...), key...)
}

func dependentPrefix(prefix []byte, key string) []byte {
	out := append(append([]byte{}, prefix...), key...)
	return append(out, sep...)
}

func encode(l *identity.LocalIdentity) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(l); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*identity.LocalIdentity, error) {
	var l identity.LocalIdentity
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&l); err != nil {
		return nil, err
	}
	return &l, nil
}

// wrap maps goleveldb errors onto store errors.
func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leveldb.ErrNotFound):
		return store.ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

func (s *Store) load(key string) (*identity.LocalIdentity, error) {
	data, err := s.db.Get(identityKey(key), nil)
	if err != nil {
		return nil, wrap(err)
	}
	return decode(data)
}

func (s *Store) commit(op, key string, batch *leveldb.Batch) error {
	if s.cfg.BeforeCommit != nil {
		if err := s.cfg.BeforeCommit(op, key); err != nil {
			return err
		}
	}
	return wrap(s.db.Write(batch, s.writeOpts))
}

func (s *Store) put(op string, l *identity.LocalIdentity) error {
	data, err := encode(l)
	if err != nil {
		return fmt.Errorf("encode %q: %w", l.Key, err)
	}
	batch := new(leveldb.Batch)
	batch.Put(identityKey(l.Key), data)
	return s.commit(op, l.Key, batch)
}

func (s *Store) FindAll(ctx context.Context, activeOnly bool) (out []*identity.LocalIdentity, err error) {
	start := time.Now()
	defer func() { store.Observe(backendName, "find_all", start, err) }()

	iter := s.db.NewIterator(util.BytesPrefix(identityPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		l, err := decode(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", iter.Key(), err)
		}
		if activeOnly && !l.Lifecycle.IsActive {
			continue
		}
		out = append(out, l)
	}
	if err := iter.Error(); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, rec identity.DirectoryRecord) (_ *identity.LocalIdentity, err error) {
	start := time.Now()
	defer func() { store.Observe(backendName, "create", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(identityKey(rec.Key), nil)
	if err != nil {
		return nil, wrap(err)
	}
	if ok {
		return nil, fmt.Errorf("create %q: %w", rec.Key, store.ErrAlreadyExists)
	}

	l := store.NewIdentity(rec)
	l.LastReconciledAt = s.now().UTC()
	if err := s.put("create", l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Store) PatchAuthoritative(ctx context.Context, key string, patch identity.Patch) (_ *identity.LocalIdentity, err error) {
	start := time.Now()
	defer func() { store.Observe(backendName, "patch", start, err) }()

	if err := store.CheckPatch(s.cfg.Policy, patch); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load(key)
	if err != nil {
		return nil, fmt.Errorf("patch %q: %w", key, err)
	}
	store.ApplyPatch(l, patch)
	l.LastReconciledAt = s.now().UTC()
	if err := s.put("patch", l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Store) MarkMissing(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { store.Observe(backendName, "mark_missing", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load(key)
	if err != nil {
		return fmt.Errorf("mark %q: %w", key, err)
	}
	l.Lifecycle.MissingFromDirectory = true
	l.Lifecycle.MissingCount++
	return s.put("mark_missing", l)
}

// CascadeDelete removes the identity and every dependent row in a single
// atomic batch.
func (s *Store) CascadeDelete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { store.Observe(backendName, "cascade_delete", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(identityKey(key), nil)
	if err != nil {
		return wrap(err)
	}
	if !ok {
		return fmt.Errorf("delete %q: %w", key, store.ErrNotFound)
	}

	batch := new(leveldb.Batch)
	for _, prefix := range [][]byte{rolePrefix, memberPrefix} {
		iter := s.db.NewIterator(util.BytesPrefix(dependentPrefix(prefix, key)), nil)
		for iter.Next() {
			batch.Delete(append([]byte{}, iter.Key()...))
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return wrap(err)
		}
	}
	batch.Delete(identityKey(key))

	if err := s.commit("cascade_delete", key, batch); err != nil {
		return fmt.Errorf("cascade delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// Local CRUD operations
// ============================================================================

func (s *Store) update(key string, fn func(l *identity.LocalIdentity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load(key)
	if err != nil {
		return err
	}
	fn(l)
	return s.put("admin", l)
}

func (s *Store) SetProtected(ctx context.Context, key string, p identity.ProtectedFields) error {
	return s.update(key, func(l *identity.LocalIdentity) { l.Protected = p })
}

func (s *Store) SetActive(ctx context.Context, key string, active bool) error {
	return s.update(key, func(l *identity.LocalIdentity) { l.Lifecycle.IsActive = active })
}

func (s *Store) addDependent(prefix []byte, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(identityKey(key), nil)
	if err != nil {
		return wrap(err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return wrap(s.db.Put(append(dependentPrefix(prefix, key), value...), nil, s.writeOpts))
}

func (s *Store) AssignRole(ctx context.Context, key, role string) error {
	return s.addDependent(rolePrefix, key, role)
}

func (s *Store) AddMembership(ctx context.Context, key, group string) error {
	return s.addDependent(memberPrefix, key, group)
}

func (s *Store) Dependents(ctx context.Context, key string) (roles, groups []string, err error) {
	if roles, err = s.listDependents(rolePrefix, key); err != nil {
		return nil, nil, err
	}
	if groups, err = s.listDependents(memberPrefix, key); err != nil {
		return nil, nil, err
	}
	return roles, groups, nil
}

func (s *Store) listDependents(prefix []byte, key string) ([]string, error) {
	p := dependentPrefix(prefix, key)
	iter := s.db.NewIterator(util.BytesPrefix(p), nil)
	defer iter.Release()

	var out []string
	for iter.Next() {
		out = append(out, string(iter.Key()[len(p):]))
	}
	if err := iter.Error(); err != nil {
		return nil, wrap(err)
	}
	sort.Strings(out)
	return out, nil
}
