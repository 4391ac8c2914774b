// Package database issues dynamic database credentials and keeps them
// alive. Every credential read produces a server-side lease; the record
// registered here renews through sys/leases/renew and falls back to issuing
// a fresh credential pair when renewal is exhausted.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL
	_ "github.com/lib/pq"              // PostgreSQL

	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/pkg/api"
	"github.com/systmms/vaultlease/pkg/flow"
	"github.com/systmms/vaultlease/pkg/lease"
)

// Engine is a handle on one database secrets mount.
type Engine struct {
	client   api.Sender
	strategy flow.Strategy
	cache    *lease.Cache
	logger   *logging.Logger
	mount    string

	// renewalWindow is stamped onto issued credential records; zero means
	// the scheduler default applies.
	renewalWindow time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithRenewalWindow sets how far ahead of expiry issued credentials start
// renewing.
func WithRenewalWindow(d time.Duration) Option {
	return func(e *Engine) { e.renewalWindow = d }
}

func New(client api.Sender, strategy flow.Strategy, cache *lease.Cache, logger *logging.Logger, mount string, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.New(false, true)
	}
	e := &Engine{
		client:   client,
		strategy: strategy,
		cache:    cache,
		logger:   logger,
		mount:    strings.Trim(mount, "/"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Credentials generates a username/password pair for the role. The lease is
// registered for background renewal before the handle resolves.
func (e *Engine) Credentials(ctx context.Context, role string, callbacks lease.Callbacks) *flow.Handle {
	path := fmt.Sprintf("%s/creds/%s", e.mount, role)

	return e.strategy.Invoke(ctx, flow.Descriptor{Operation: "database.credentials", Path: path},
		func(ctx context.Context) (*api.Secret, error) {
			secret, err := e.client.Send(ctx, http.MethodGet, path, nil)
			if err != nil {
				return nil, err
			}
			if secret == nil || secret.Data == nil {
				return nil, &api.ResponseError{StatusCode: 404, Method: http.MethodGet, Path: path}
			}
			if secret.LeaseID != "" && e.cache != nil {
				e.register(secret, role, callbacks)
			}
			return secret, nil
		})
}

// register builds the lease record for an issued credential pair.
func (e *Engine) register(secret *api.Secret, role string, callbacks lease.Callbacks) {
	leaseID := secret.LeaseID
	rec := &lease.Record{
		Key:           leaseID,
		LeaseID:       leaseID,
		Data:          secret.Data,
		IssuedAt:      time.Now(),
		Duration:      secret.TTL(),
		Renewable:     secret.IsRenewable(),
		RenewalWindow: e.renewalWindow,
		State:         lease.StateActive,
		Callbacks:     callbacks,
		Renew: func(ctx context.Context) (*api.Secret, error) {
			return e.renewLease(ctx, leaseID)
		},
		Rotate: func(ctx context.Context) (*lease.Record, error) {
			return e.reissue(ctx, role, callbacks)
		},
	}
	e.cache.Put(rec)
	e.logger.Debug("registered database lease %s (role %s, ttl %v)", logging.Secret(leaseID), role, rec.Duration)
}

// renewLease extends a lease through the sys backend. A response without a
// fresh TTL means the lease hit its max and cannot be extended.
func (e *Engine) renewLease(ctx context.Context, leaseID string) (*api.Secret, error) {
	secret, err := e.client.Send(ctx, http.MethodPut, "sys/leases/renew", map[string]interface{}{
		"lease_id": leaseID,
	})
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.LeaseDuration <= 0 {
		return nil, api.ErrLeaseNotRenewable
	}
	if !secret.Renewable {
		return nil, api.ErrLeaseNotRenewable
	}
	return secret, nil
}

// reissue generates a replacement credential pair when the old lease is
// exhausted. The old server-side lease is revoked on a best-effort basis.
func (e *Engine) reissue(ctx context.Context, role string, callbacks lease.Callbacks) (*lease.Record, error) {
	path := fmt.Sprintf("%s/creds/%s", e.mount, role)
	secret, err := e.client.Send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.LeaseID == "" {
		return nil, fmt.Errorf("credential reissue for role %s returned no lease", role)
	}

	leaseID := secret.LeaseID
	return &lease.Record{
		Key:           leaseID,
		LeaseID:       leaseID,
		Data:          secret.Data,
		IssuedAt:      time.Now(),
		Duration:      secret.TTL(),
		Renewable:     secret.IsRenewable(),
		RenewalWindow: e.renewalWindow,
		Callbacks:     callbacks,
		Renew: func(ctx context.Context) (*api.Secret, error) {
			return e.renewLease(ctx, leaseID)
		},
		Rotate: func(ctx context.Context) (*lease.Record, error) {
			return e.reissue(ctx, role, callbacks)
		},
	}, nil
}

// Revoke drops a lease server-side and forgets the local record.
func (e *Engine) Revoke(ctx context.Context, leaseID string) error {
	_, err := e.client.Send(ctx, http.MethodPut, "sys/leases/revoke", map[string]interface{}{
		"lease_id": leaseID,
	})
	if err != nil {
		return fmt.Errorf("revoke lease %s: %w", leaseID, err)
	}
	if e.cache != nil {
		e.cache.Remove(leaseID)
	}
	return nil
}

// Verify opens a live connection with the issued credentials and pings it.
// Supported drivers are postgres and mysql.
func (e *Engine) Verify(ctx context.Context, driver, dsn string) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open %s connection: %w", driver, err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("verify %s credentials: %w", driver, err)
	}
	return nil
}

// PostgresDSN builds a connection string for Verify from an issued
// credential pair.
func PostgresDSN(host, port, dbname, username, password, sslmode string) string {
	if sslmode == "" {
		sslmode = "require"
	}
	parts := []string{
		"host=" + host,
		"port=" + port,
		"dbname=" + dbname,
		"user=" + username,
	}
	if password != "" {
		parts = append(parts, "password="+password)
	}
	parts = append(parts, "sslmode="+sslmode)
	return strings.Join(parts, " ")
}

// MySQLDSN builds a connection string for Verify from an issued credential
// pair.
func MySQLDSN(host, port, dbname, username, password string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", username, password, host, port, dbname)
}
