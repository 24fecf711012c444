// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
)

// LDAPConfig holds LDAP connection and attribute configuration
type LDAPConfig struct {
	// Server settings
	URL      string        // ldap://localhost:389 or ldaps://localhost:636
	BindDN   string        // cn=reader,dc=example,dc=com
	BindPass string        // service account password
	BaseDN   string        // ou=people,dc=example,dc=com
	Filter   string        // (objectClass=posixAccount)
	TLS      *tls.Config   // Optional TLS config
	Timeout  time.Duration // Dial and per-request time limit
	StartTLS bool          // Use StartTLS for connection upgrade
	PageSize uint32        // Simple paged results size

	// Attribute mapping
	KeyAttr   string // uid, sAMAccountName
	UIDAttr   string // uidNumber
	GIDAttr   string // gidNumber
	HomeAttr  string // homeDirectory
	ShellAttr string // loginShell

	// Seed attributes, applied only to newly created identities
	NameAttr  string // displayName
	EmailAttr string // mail
}

// DefaultLDAPConfig returns the posixAccount attribute mapping.
func DefaultLDAPConfig() LDAPConfig {
	return LDAPConfig{
		Filter:    "(objectClass=posixAccount)",
		Timeout:   10 * time.Second,
		PageSize:  500,
		KeyAttr:   "uid",
		UIDAttr:   "uidNumber",
		GIDAttr:   "gidNumber",
		HomeAttr:  "homeDirectory",
		ShellAttr: "loginShell",
		NameAttr:  "displayName",
		EmailAttr: "mail",
	}
}

// withDefaults fills every empty setting from DefaultLDAPConfig.
func (c LDAPConfig) withDefaults() LDAPConfig {
	d := DefaultLDAPConfig()
	set := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	set(&c.Filter, d.Filter)
	set(&c.KeyAttr, d.KeyAttr)
	set(&c.UIDAttr, d.UIDAttr)
	set(&c.GIDAttr, d.GIDAttr)
	set(&c.HomeAttr, d.HomeAttr)
	set(&c.ShellAttr, d.ShellAttr)
	set(&c.NameAttr, d.NameAttr)
	set(&c.EmailAttr, d.EmailAttr)
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.PageSize == 0 {
		c.PageSize = d.PageSize
	}
	return c
}

// LDAPReader fetches posix accounts with a paged subtree search.
type LDAPReader struct {
	config LDAPConfig
}

var _ Reader = (*LDAPReader)(nil)

// NewLDAPReader validates config and returns a reader. No connection is
// made until FetchAll.
func NewLDAPReader(config LDAPConfig) (*LDAPReader, error) {
	if config.URL == "" {
		return nil, errors.New("LDAP server URL is required")
	}
	if config.BaseDN == "" {
		return nil, errors.New("LDAP base DN is required")
	}
	return &LDAPReader{config: config.withDefaults()}, nil
}

// dial creates a new LDAP connection with proper TLS/StartTLS handling
func (r *LDAPReader) dial() (*ldap.Conn, error) {
	conn, err := ldap.DialURL(r.config.URL, ldap.DialWithDialer(&net.Dialer{Timeout: r.config.Timeout}))
	if err != nil {
		return nil, fmt.Errorf("connect to LDAP server: %w", err)
	}

	// Apply StartTLS if configured and not already using ldaps://
	if r.config.StartTLS && !strings.HasPrefix(r.config.URL, "ldaps://") {
		tlsConfig := r.config.TLS
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}

	if r.config.BindDN != "" {
		if err := conn.Bind(r.config.BindDN, r.config.BindPass); err != nil {
			conn.Close()
			return nil, fmt.Errorf("LDAP bind failed: %w", err)
		}
	}
	return conn, nil
}

// FetchAll runs one paged search and maps every entry to a record.
// Cancelling ctx closes the connection, which aborts the search.
func (r *LDAPReader) FetchAll(ctx context.Context) ([]identity.DirectoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := r.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := ldap.NewSearchRequest(
		r.config.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,                                 // SizeLimit: the whole directory
		int(r.config.Timeout/time.Second), // TimeLimit
		false,                             // TypesOnly
		r.config.Filter,
		r.attributes(),
		nil,
	)

	start := time.Now()
	result, err := conn.SearchWithPaging(req, r.config.PageSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("LDAP search aborted: %w", ctxErr)
		}
		return nil, fmt.Errorf("LDAP search failed: %w", err)
	}

	records := make([]identity.DirectoryRecord, 0, len(result.Entries))
	for _, entry := range result.Entries {
		records = append(records, r.recordFromEntry(entry))
	}

	logger.Ctx(ctx).Debug().
		Str("base_dn", r.config.BaseDN).
		Int("entries", len(records)).
		Dur("duration", time.Since(start)).
		Msg("fetched directory snapshot")
	return records, nil
}

func (r *LDAPReader) attributes() []string {
	return []string{
		r.config.KeyAttr,
		r.config.UIDAttr,
		r.config.GIDAttr,
		r.config.HomeAttr,
		r.config.ShellAttr,
		r.config.NameAttr,
		r.config.EmailAttr,
	}
}

// recordFromEntry maps one entry. Validation is left to the reconciler so
// that a malformed entry is reported, not silently dropped.
func (r *LDAPReader) recordFromEntry(entry *ldap.Entry) identity.DirectoryRecord {
	rec := identity.DirectoryRecord{
		Key:               NormalizeKey(entry.GetAttributeValue(r.config.KeyAttr)),
		DistinguishedName: entry.DN,
		UIDNumber:         parseID(entry.GetAttributeValue(r.config.UIDAttr)),
		GIDNumber:         parseID(entry.GetAttributeValue(r.config.GIDAttr)),
		HomeDirectory:     entry.GetAttributeValue(r.config.HomeAttr),
		LoginShell:        entry.GetAttributeValue(r.config.ShellAttr),
	}

	name := entry.GetAttributeValue(r.config.NameAttr)
	email := entry.GetAttributeValue(r.config.EmailAttr)
	if name != "" || email != "" {
		rec.Seed = &identity.ProtectedFields{DisplayName: name, Email: email}
	}
	return rec
}

func parseID(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return identity.AbsentID
	}
	return n
}
