// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/dirsync/pkg/audit"
	"github.com/LeeDigitalWorks/dirsync/pkg/coordinator"
	"github.com/LeeDigitalWorks/dirsync/pkg/directory"
	"github.com/LeeDigitalWorks/dirsync/pkg/env"
	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/store"
	"github.com/LeeDigitalWorks/dirsync/pkg/store/leveldb"
	"github.com/LeeDigitalWorks/dirsync/pkg/store/memory"
	storesql "github.com/LeeDigitalWorks/dirsync/pkg/store/sql"
)

// syncDeps are the collaborators a coordinator is built from.
type syncDeps struct {
	policy *identity.Policy
	store  store.Store
	reader directory.Reader
	audit  audit.Sink
	locker *coordinator.RedisLocker
}

// newCoordinator builds a coordinator over the collaborators.
func (d *syncDeps) newCoordinator(opts SyncOpts) *coordinator.Coordinator {
	cfg := opts.coordinatorConfig()
	cfg.Reconciler.Policy = d.policy

	coordOpts := []coordinator.Option{coordinator.WithAudit(d.audit)}
	if d.locker != nil {
		coordOpts = append(coordOpts, coordinator.WithLocker(d.locker))
	}
	return coordinator.New(d.reader, d.store, cfg, coordOpts...)
}

// Close releases everything the deps opened, in reverse order.
func (d *syncDeps) Close() {
	if d.locker != nil {
		if err := d.locker.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close run lock")
		}
	}
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close audit sinks")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close identity store")
		}
	}
}

// buildSyncDeps opens the store, directory reader, audit sinks and lock.
// withAudit and withLock are false for read-only commands.
func buildSyncDeps(ctx context.Context, opts SyncOpts, withAudit, withLock bool) (_ *syncDeps, err error) {
	d := &syncDeps{}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	if d.policy, err = buildPolicy(opts.Authoritative, opts.Protected); err != nil {
		return nil, err
	}
	if d.store, err = openStore(ctx, opts, d.policy); err != nil {
		return nil, err
	}
	if d.reader, err = buildReader(opts); err != nil {
		return nil, err
	}
	if withAudit {
		if d.audit, err = buildAudit(opts, d.store); err != nil {
			return nil, err
		}
	} else {
		d.audit = audit.LogSink{}
	}
	if withLock && opts.LockRedisAddr != "" {
		cfg := coordinator.DefaultRedisLockConfig(opts.LockRedisAddr)
		if opts.LockTTL > 0 {
			cfg.TTL = opts.LockTTL
		}
		if d.locker, err = coordinator.NewRedisLocker(cfg); err != nil {
			return nil, fmt.Errorf("run lock: %w", err)
		}
		logger.Info().Str("addr", cfg.Addr).Str("key", cfg.Key).Dur("ttl", cfg.TTL).Msg("cluster-wide run lock enabled")
	}
	return d, nil
}

// buildPolicy returns the default ownership table unless either list is
// configured. A list left empty keeps its default.
func buildPolicy(authoritative, protected []string) (*identity.Policy, error) {
	if len(authoritative) == 0 && len(protected) == 0 {
		return identity.DefaultPolicy(), nil
	}

	def := identity.DefaultPolicy()
	auth := def.AuthoritativeFields()
	prot := []identity.Field{
		identity.FieldDisplayName,
		identity.FieldEmail,
		identity.FieldPhone,
		identity.FieldAssignedRole,
	}

	var err error
	if len(authoritative) > 0 {
		if auth, err = identity.ParseFields(authoritative); err != nil {
			return nil, err
		}
	}
	if len(protected) > 0 {
		if prot, err = identity.ParseFields(protected); err != nil {
			return nil, err
		}
	}
	return identity.NewPolicy(auth, prot)
}

func openStore(ctx context.Context, opts SyncOpts, policy *identity.Policy) (store.Store, error) {
	switch opts.StoreDriver {
	case store.DriverMemory, "":
		if env.IsProduction() {
			return nil, errors.New("the memory store driver is not allowed in production")
		}
		logger.Warn().Msg("using in-memory identity store, nothing is persisted")
		return memory.New(memory.WithPolicy(policy)), nil

	case store.DriverPostgres, store.DriverCockroach, store.DriverMySQL:
		if opts.StoreDSN == "" {
			return nil, fmt.Errorf("store_dsn is required for driver %s", opts.StoreDriver)
		}
		cfg := storesql.DefaultConfig(opts.StoreDSN, opts.StoreDriver)
		cfg.Policy = policy
		if opts.MaxOpenConns > 0 {
			cfg.MaxOpenConns = opts.MaxOpenConns
			cfg.MaxIdleConns = min(cfg.MaxIdleConns, opts.MaxOpenConns)
		}
		return storesql.Open(ctx, cfg)

	case store.DriverLevelDB:
		if opts.StorePath == "" {
			return nil, errors.New("store_path is required for the leveldb driver")
		}
		return leveldb.Open(leveldb.Config{Path: opts.StorePath, Policy: policy})

	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.StoreDriver)
	}
}

func buildReader(opts SyncOpts) (directory.Reader, error) {
	if opts.SnapshotFile != "" {
		logger.Info().Str("path", opts.SnapshotFile).Msg("reading directory from snapshot file")
		return directory.NewFileReader(opts.SnapshotFile), nil
	}
	if opts.LDAP.URL == "" {
		return nil, errors.New("either ldap_url or snapshot_file is required")
	}
	return directory.NewLDAPReader(opts.LDAP)
}

// buildAudit opens every configured sink. The sql sink writes to the same
// database as the identity store.
func buildAudit(opts SyncOpts, s store.Store) (audit.Sink, error) {
	var sinks audit.MultiSink
	closeAll := func() { sinks.Close() }

	for _, name := range opts.AuditSinks {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "":
			continue
		case "log":
			sinks = append(sinks, audit.LogSink{})
		case "sql":
			sqlStore, ok := s.(*storesql.Store)
			if !ok {
				closeAll()
				return nil, fmt.Errorf("sql audit sink requires a sql store driver, have %s", opts.StoreDriver)
			}
			sinks = append(sinks, audit.NewSQLSink(sqlStore))
		case "redis":
			cfg := audit.DefaultRedisConfig(opts.AuditRedisAddr)
			if opts.AuditRedisStream != "" {
				cfg.Stream = opts.AuditRedisStream
			}
			sink, err := audit.NewRedisSink(cfg)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("redis audit sink: %w", err)
			}
			sinks = append(sinks, sink)
		case "kafka":
			cfg := audit.DefaultKafkaConfig(opts.AuditKafkaBrokers)
			if opts.AuditKafkaTopic != "" {
				cfg.Topic = opts.AuditKafkaTopic
			}
			sink, err := audit.NewKafkaSink(cfg)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("kafka audit sink: %w", err)
			}
			sinks = append(sinks, sink)
		case "clickhouse":
			sink, err := audit.NewClickHouseSink(opts.AuditClickHouseDSN, 0)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("clickhouse audit sink: %w", err)
			}
			sinks = append(sinks, sink)
		default:
			closeAll()
			return nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}

	switch len(sinks) {
	case 0:
		return audit.LogSink{}, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}
