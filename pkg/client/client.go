// Package client is the top-level entry point: one Client owns the
// transport, the token guard, the lease cache, the execution strategy, and
// the maintenance scheduler that keeps held leases alive.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/systmms/vaultlease/internal/auth"
	"github.com/systmms/vaultlease/internal/dispatch"
	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/internal/maintenance"
	"github.com/systmms/vaultlease/internal/secure"
	"github.com/systmms/vaultlease/pkg/api"
	"github.com/systmms/vaultlease/pkg/engine/database"
	"github.com/systmms/vaultlease/pkg/engine/kv"
	"github.com/systmms/vaultlease/pkg/engine/transit"
	"github.com/systmms/vaultlease/pkg/flow"
	"github.com/systmms/vaultlease/pkg/lease"
)

// Config assembles the tunables for a Client. The zero value works against
// a local dev server once Address is set; every duration falls back to its
// documented default.
type Config struct {
	// Address is the server URL, e.g. "https://vault.example.com:8200".
	Address string

	// Namespace is sent as X-Vault-Namespace on every request.
	Namespace string

	// CACert is a path to a PEM CA bundle for the server certificate.
	CACert string

	// TLSSkipVerify disables certificate verification. Test servers only.
	TLSSkipVerify bool

	// Timeout bounds a single HTTP exchange (default 30s).
	Timeout time.Duration

	// ExecutionStrategy selects how handles resolve: "blocking",
	// "deferred", or "channel" (default blocking).
	ExecutionStrategy string

	// MaxRetryDuration bounds the whole retry sequence of one logical call
	// (default 30s).
	MaxRetryDuration time.Duration

	// RetryInterval is the pause between attempts (default 1s).
	RetryInterval time.Duration

	// RetryStatusCodes extends the retryable set beyond 429 and 5xx.
	RetryStatusCodes []int

	// RenewalWindow is how far ahead of expiry renewal starts (default
	// 600s).
	RenewalWindow time.Duration

	// CheckPeriod is the maintenance tick interval (default 60s).
	CheckPeriod time.Duration

	// CheckJitter bounds the per-lease due-time spread (default 20s).
	CheckJitter time.Duration

	// MaintenanceWorkers and CallbackWorkers size the two dispatch pools
	// (defaults 4 and 2).
	MaintenanceWorkers int
	CallbackWorkers    int

	// EnableMetrics registers the Prometheus maintenance metrics on the
	// default registry. Without it every Record* call is a no-op.
	EnableMetrics bool

	// Logger receives diagnostics; a stderr logger is created when nil.
	Logger *logging.Logger

	// Debug enables debug-level logging on the default logger.
	Debug bool
}

// Client is the runtime. Construct with New, authenticate with Login or
// SetToken, then Start to begin lease maintenance.
type Client struct {
	api      *api.Client
	guard    *secure.TokenGuard
	cache    *lease.Cache
	strategy flow.Strategy
	auth     *auth.Authenticator

	scheduler *maintenance.Scheduler
	jobs      *dispatch.Pool
	callbacks *dispatch.Pool

	logger *logging.Logger
	cfg    Config

	mu      sync.Mutex
	started bool
}

func New(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("server address is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New(cfg.Debug, false)
	}

	if cfg.EnableMetrics {
		maintenance.InitMetrics()
	}

	guard := secure.NewTokenGuard()
	apiClient, err := api.NewClient(api.Config{
		Address:          cfg.Address,
		Namespace:        cfg.Namespace,
		Timeout:          cfg.Timeout,
		CACert:           cfg.CACert,
		TLSSkipVerify:    cfg.TLSSkipVerify,
		RetryStatusCodes: cfg.RetryStatusCodes,
	}, guard, logger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	flavor, err := flow.ParseFlavor(cfg.ExecutionStrategy)
	if err != nil {
		return nil, err
	}
	policy := flow.RetryPolicy{
		MaxRetryDuration: cfg.MaxRetryDuration,
		RetryInterval:    cfg.RetryInterval,
		Classify: func(err error) bool {
			return api.Retryable(err, cfg.RetryStatusCodes)
		},
	}
	strategy, err := flow.New(flavor, policy, logger)
	if err != nil {
		return nil, err
	}

	// Maintenance always uses the blocking flavor: each job already runs on
	// its own pool worker, and the scheduler awaits the result in place.
	maintStrategy, err := flow.New(flow.FlavorBlocking, policy, logger)
	if err != nil {
		return nil, err
	}

	maintWorkers := cfg.MaintenanceWorkers
	if maintWorkers <= 0 {
		maintWorkers = 4
	}
	callbackWorkers := cfg.CallbackWorkers
	if callbackWorkers <= 0 {
		callbackWorkers = 2
	}

	cache := lease.NewCache()
	jobs := dispatch.NewPool("maintenance", maintWorkers, 256, logger)
	callbacks := dispatch.NewPool("callbacks", callbackWorkers, 256, logger)

	scheduler := maintenance.NewScheduler(cache, maintStrategy, jobs, callbacks, logger, maintenance.Config{
		CheckPeriod:   cfg.CheckPeriod,
		CheckJitter:   cfg.CheckJitter,
		RenewalWindow: cfg.RenewalWindow,
	})

	return &Client{
		api:       apiClient,
		guard:     guard,
		cache:     cache,
		strategy:  strategy,
		auth:      auth.NewAuthenticator(apiClient, guard, cache, logger),
		scheduler: scheduler,
		jobs:      jobs,
		callbacks: callbacks,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// Start launches background lease maintenance.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("client already started")
	}
	if err := c.scheduler.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop halts maintenance and drains both pools. The cache survives Stop, so
// a restarted client picks up its leases where it left them.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	if err := c.scheduler.Stop(); err != nil {
		return err
	}
	c.jobs.Shutdown()
	c.callbacks.Shutdown()
	c.started = false
	return nil
}

// Login authenticates with the given method and puts the resulting token
// under management.
func (c *Client) Login(ctx context.Context, method auth.Method) (*api.Secret, error) {
	return c.auth.Login(ctx, method)
}

// Logout drops the token and its lease record.
func (c *Client) Logout() {
	c.auth.Logout()
}

// SetToken installs a token directly, bypassing login.
func (c *Client) SetToken(token string) {
	c.guard.Set(token)
}

// Token returns the current client token, empty when unauthenticated.
func (c *Client) Token() string {
	return c.guard.Token()
}

// Address returns the configured server URL.
func (c *Client) Address() string {
	return c.api.Address()
}

// Read fetches the secret at a raw API path through the execution strategy.
func (c *Client) Read(ctx context.Context, path string) *flow.Handle {
	return c.strategy.Invoke(ctx, flow.Descriptor{Operation: "read", Path: path},
		func(ctx context.Context) (*api.Secret, error) {
			secret, err := c.api.Send(ctx, http.MethodGet, path, nil)
			if err != nil {
				return nil, err
			}
			if secret == nil {
				return nil, &api.ResponseError{StatusCode: 404, Method: http.MethodGet, Path: path}
			}
			return secret, nil
		})
}

// Write posts data to a raw API path.
func (c *Client) Write(ctx context.Context, path string, data map[string]interface{}) *flow.Handle {
	return c.strategy.Invoke(ctx, flow.Descriptor{Operation: "write", Path: path},
		func(ctx context.Context) (*api.Secret, error) {
			secret, err := c.api.Send(ctx, http.MethodPost, path, data)
			if err != nil {
				return nil, err
			}
			if secret == nil {
				secret = &api.Secret{}
			}
			return secret, nil
		})
}

// Delete removes the entity at a raw API path.
func (c *Client) Delete(ctx context.Context, path string) *flow.Handle {
	return c.strategy.Invoke(ctx, flow.Descriptor{Operation: "delete", Path: path},
		func(ctx context.Context) (*api.Secret, error) {
			if _, err := c.api.Send(ctx, http.MethodDelete, path, nil); err != nil {
				return nil, err
			}
			return &api.Secret{}, nil
		})
}

// List enumerates keys under a raw API path.
func (c *Client) List(ctx context.Context, path string) *flow.Handle {
	return c.strategy.Invoke(ctx, flow.Descriptor{Operation: "list", Path: path},
		func(ctx context.Context) (*api.Secret, error) {
			secret, err := c.api.Send(ctx, "LIST", path, nil)
			if err != nil {
				return nil, err
			}
			if secret == nil {
				return nil, &api.ResponseError{StatusCode: 404, Method: "LIST", Path: path}
			}
			return secret, nil
		})
}

// KV returns a key/value engine handle for a mount.
func (c *Client) KV(mount string, opts ...kv.Option) *kv.Engine {
	return kv.New(c.api, c.strategy, c.cache, c.logger, mount, opts...)
}

// Database returns a dynamic-credentials engine handle for a mount. Issued
// leases inherit the client's renewal window.
func (c *Client) Database(mount string, opts ...database.Option) *database.Engine {
	if c.cfg.RenewalWindow > 0 {
		opts = append([]database.Option{database.WithRenewalWindow(c.cfg.RenewalWindow)}, opts...)
	}
	return database.New(c.api, c.strategy, c.cache, c.logger, mount, opts...)
}

// Transit returns an encryption engine handle for a mount.
func (c *Client) Transit(mount string) *transit.Engine {
	return transit.New(c.api, c.strategy, mount)
}

// Health checks server liveness. Standby and performance-standby responses
// count as healthy.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.api.Send(ctx, http.MethodGet, "sys/health", nil)
	if err == nil {
		return nil
	}
	if api.IsStandby(err) {
		return nil
	}
	return fmt.Errorf("health check: %w", err)
}

// RenewLease extends an arbitrary lease by id.
func (c *Client) RenewLease(ctx context.Context, leaseID string, increment time.Duration) *flow.Handle {
	body := map[string]interface{}{"lease_id": leaseID}
	if increment > 0 {
		body["increment"] = int(increment.Seconds())
	}
	return c.strategy.Invoke(ctx, flow.Descriptor{Operation: "lease.renew", Path: leaseID},
		func(ctx context.Context) (*api.Secret, error) {
			return c.api.Send(ctx, http.MethodPut, "sys/leases/renew", body)
		})
}

// RevokeLease revokes a lease by id and drops any local record for it.
func (c *Client) RevokeLease(ctx context.Context, leaseID string) error {
	if _, err := c.api.Send(ctx, http.MethodPut, "sys/leases/revoke", map[string]interface{}{
		"lease_id": leaseID,
	}); err != nil {
		return fmt.Errorf("revoke lease %s: %w", leaseID, err)
	}
	c.cache.Remove(leaseID)
	return nil
}

// Leases is a point-in-time snapshot of every record under management.
func (c *Client) Leases() []*lease.Record {
	return c.cache.Snapshot()
}

// Cache exposes the lease cache for advanced callers that register their
// own records.
func (c *Client) Cache() *lease.Cache {
	return c.cache
}
