// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/LeeDigitalWorks/dirsync/pkg/coordinator"
	"github.com/LeeDigitalWorks/dirsync/pkg/directory"
	"github.com/LeeDigitalWorks/dirsync/pkg/executor"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
	"github.com/LeeDigitalWorks/dirsync/pkg/store"
)

// SyncOpts holds configuration shared by every command that reconciles.
//
// # Configuration sources
//
// Each value is resolved as: explicit CLI flag, then the nested key from
// dirsync.toml or DIRSYNC_* env ([ldap] url, DIRSYNC_LDAP_URL), then the
// flat key (ldap_url), then the flag default.
type SyncOpts struct {
	// Reconciliation
	FetchTimeout       time.Duration
	Concurrency        int
	RateLimit          float64
	MissingGraceCycles int
	SeedProtected      bool
	Authoritative      []string
	Protected          []string

	// Local identity store
	StoreDriver  store.Driver
	StoreDSN     string
	StorePath    string
	MaxOpenConns int

	// Directory
	SnapshotFile string
	LDAP         directory.LDAPConfig

	// Audit sinks: log, sql, redis, kafka, clickhouse
	AuditSinks         []string
	AuditRedisAddr     string
	AuditRedisStream   string
	AuditKafkaBrokers  []string
	AuditKafkaTopic    string
	AuditClickHouseDSN string

	// Distributed run lock
	LockRedisAddr string
	LockTTL       time.Duration
}

// addSyncFlags registers the flags read by loadSyncOpts.
func addSyncFlags(f *pflag.FlagSet) {
	f.Duration("fetch_timeout", coordinator.DefaultFetchTimeout, "Hard limit for fetching the directory snapshot")
	f.Int("concurrency", 0, "Records applied at once per phase (0 = half the store's capacity)")
	f.Float64("rate_limit", 0, "Maximum storage operations per second (0 = unlimited)")
	f.Int("missing_grace_cycles", 0, "Runs an identity may be missing before it is deleted (0 or 1 = delete immediately)")
	f.Bool("seed_protected", false, "Seed display name and email from the directory when creating identities")
	f.StringSlice("policy_authoritative", nil, "Fields written from the directory (default: all directory fields)")
	f.StringSlice("policy_protected", nil, "Fields owned by the local database (default: all local fields)")

	f.String("store_driver", string(store.DriverMemory), "Identity store backend (memory, postgres, cockroachdb, mysql, leveldb)")
	f.String("store_dsn", "", "Identity store DSN for SQL backends")
	f.String("store_path", "/var/lib/dirsync/identities", "Data directory for the leveldb backend")
	f.Int("store_max_open_conns", store.DefaultMaxOpenConns, "Maximum open SQL connections")

	def := directory.DefaultLDAPConfig()
	f.String("snapshot_file", "", "Read the directory from a JSON snapshot file instead of LDAP")
	f.String("ldap_url", "", "LDAP server URL (ldap://host:389 or ldaps://host:636)")
	f.String("ldap_bind_dn", "", "LDAP bind DN (cn=reader,dc=example,dc=com)")
	f.String("ldap_bind_pass", "", "LDAP bind password")
	f.String("ldap_base_dn", "", "LDAP base DN for the identity search (ou=people,dc=example,dc=com)")
	f.String("ldap_filter", def.Filter, "LDAP search filter")
	f.Bool("ldap_start_tls", false, "Use StartTLS for LDAP connection")
	f.Duration("ldap_timeout", def.Timeout, "LDAP connection timeout")
	f.Uint32("ldap_page_size", def.PageSize, "LDAP paged search size")
	f.String("ldap_key_attr", def.KeyAttr, "LDAP attribute used as identity key")
	f.String("ldap_uid_attr", def.UIDAttr, "LDAP uid number attribute")
	f.String("ldap_gid_attr", def.GIDAttr, "LDAP gid number attribute")
	f.String("ldap_home_attr", def.HomeAttr, "LDAP home directory attribute")
	f.String("ldap_shell_attr", def.ShellAttr, "LDAP login shell attribute")
	f.String("ldap_name_attr", def.NameAttr, "LDAP display name attribute (seed only)")
	f.String("ldap_email_attr", def.EmailAttr, "LDAP email attribute (seed only)")

	f.StringSlice("audit_sinks", []string{"log"}, "Run summary sinks (log, sql, redis, kafka, clickhouse)")
	f.String("audit_redis_addr", "", "Redis address for the redis audit sink")
	f.String("audit_redis_stream", "dirsync:runs", "Redis stream for run summaries")
	f.StringSlice("audit_kafka_brokers", nil, "Kafka brokers for the kafka audit sink")
	f.String("audit_kafka_topic", "dirsync-runs", "Kafka topic for run summaries")
	f.String("audit_clickhouse_dsn", "", "ClickHouse DSN for the clickhouse audit sink")

	f.String("lock_redis_addr", "", "Redis address for the cluster-wide run lock (empty = in-process lock only)")
	f.Duration("lock_ttl", 30*time.Second, "Run lock TTL; a live holder extends it every TTL/3")
}

func loadSyncOpts(cmd *cobra.Command) SyncOpts {
	f := NewFlagLoader(cmd)
	opts := SyncOpts{
		FetchTimeout:       f.Duration("fetch_timeout"),
		Concurrency:        f.Int("concurrency"),
		RateLimit:          f.Float64("rate_limit"),
		MissingGraceCycles: f.Int("missing_grace_cycles"),
		SeedProtected:      f.Bool("seed_protected"),
		Authoritative:      f.NestedStringSlice("policy_authoritative", "policy.authoritative"),
		Protected:          f.NestedStringSlice("policy_protected", "policy.protected"),

		StoreDriver:  store.Driver(f.NestedString("store_driver", "store.driver")),
		StoreDSN:     f.NestedString("store_dsn", "store.dsn"),
		StorePath:    f.NestedString("store_path", "store.path"),
		MaxOpenConns: f.NestedInt("store_max_open_conns", "store.max_open_conns"),

		SnapshotFile: f.String("snapshot_file"),

		AuditSinks:         f.NestedStringSlice("audit_sinks", "audit.sinks"),
		AuditRedisAddr:     f.NestedString("audit_redis_addr", "audit.redis_addr"),
		AuditRedisStream:   f.NestedString("audit_redis_stream", "audit.redis_stream"),
		AuditKafkaBrokers:  f.NestedStringSlice("audit_kafka_brokers", "audit.kafka_brokers"),
		AuditKafkaTopic:    f.NestedString("audit_kafka_topic", "audit.kafka_topic"),
		AuditClickHouseDSN: f.NestedString("audit_clickhouse_dsn", "audit.clickhouse_dsn"),

		LockRedisAddr: f.NestedString("lock_redis_addr", "lock.redis_addr"),
		LockTTL:       f.NestedDuration("lock_ttl", "lock.ttl"),
	}

	opts.LDAP = directory.LDAPConfig{
		URL:       f.NestedString("ldap_url", "ldap.url"),
		BindDN:    f.NestedString("ldap_bind_dn", "ldap.bind_dn"),
		BindPass:  f.NestedString("ldap_bind_pass", "ldap.bind_pass"),
		BaseDN:    f.NestedString("ldap_base_dn", "ldap.base_dn"),
		Filter:    f.NestedString("ldap_filter", "ldap.filter"),
		StartTLS:  f.NestedBool("ldap_start_tls", "ldap.start_tls"),
		Timeout:   f.NestedDuration("ldap_timeout", "ldap.timeout"),
		PageSize:  uint32(f.NestedInt("ldap_page_size", "ldap.page_size")),
		KeyAttr:   f.NestedString("ldap_key_attr", "ldap.key_attr"),
		UIDAttr:   f.NestedString("ldap_uid_attr", "ldap.uid_attr"),
		GIDAttr:   f.NestedString("ldap_gid_attr", "ldap.gid_attr"),
		HomeAttr:  f.NestedString("ldap_home_attr", "ldap.home_attr"),
		ShellAttr: f.NestedString("ldap_shell_attr", "ldap.shell_attr"),
		NameAttr:  f.NestedString("ldap_name_attr", "ldap.name_attr"),
		EmailAttr: f.NestedString("ldap_email_attr", "ldap.email_attr"),
	}
	return opts
}

// coordinatorConfig maps the options onto the run pipeline.
func (o SyncOpts) coordinatorConfig() coordinator.Config {
	return coordinator.Config{
		FetchTimeout: o.FetchTimeout,
		Reconciler: reconcile.Config{
			MissingGraceCycles: o.MissingGraceCycles,
			SeedProtected:      o.SeedProtected,
		},
		Executor: executor.Config{
			Concurrency: o.Concurrency,
			RateLimit:   o.RateLimit,
		},
	}
}
