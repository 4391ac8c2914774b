// Package kv reads and writes key/value secrets. Both engine versions are
// supported; v2 path rewriting and envelope unwrapping happen here so
// callers only ever see the logical path and the flat data map.
package kv

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/pkg/api"
	"github.com/systmms/vaultlease/pkg/flow"
	"github.com/systmms/vaultlease/pkg/lease"
)

// DefaultMount is the conventional key/value mount path.
const DefaultMount = "secret"

// Engine is a handle on one key/value mount.
type Engine struct {
	client   api.Sender
	strategy flow.Strategy
	cache    *lease.Cache
	logger   *logging.Logger

	mount   string
	version int

	// cacheTTL, when positive, caches leaseless reads under a pseudo-TTL.
	// Re-reads on expiry go through the rotation path.
	cacheTTL time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithVersion selects the engine version (1 or 2, default 2).
func WithVersion(v int) Option {
	return func(e *Engine) { e.version = v }
}

// WithCacheTTL enables pseudo-TTL caching of leaseless secrets.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.cacheTTL = ttl }
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
		version:  2,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Get reads a secret. A cached unexpired copy short-circuits the request.
func (e *Engine) Get(ctx context.Context, path string) *flow.Handle {
	key := e.cacheKey(path)

	return e.strategy.Invoke(ctx, flow.Descriptor{Operation: "kv.get", Path: key},
		func(ctx context.Context) (*api.Secret, error) {
			if cached := e.cachedSecret(key); cached != nil {
				return cached, nil
			}

			secret, err := e.client.Send(ctx, http.MethodGet, e.dataPath(path), nil)
			if err != nil {
				return nil, err
			}
			if secret == nil {
				return nil, &api.ResponseError{StatusCode: 404, Method: http.MethodGet, Path: e.dataPath(path)}
			}

			secret = e.unwrap(secret)
			e.maybeCache(key, path, secret)
			return secret, nil
		})
}

// Put writes a secret. The previous payload at the path is replaced whole.
func (e *Engine) Put(ctx context.Context, path string, data map[string]interface{}) *flow.Handle {
	body := data
	if e.version == 2 {
		body = map[string]interface{}{"data": data}
	}

	return e.strategy.Invoke(ctx, flow.Descriptor{Operation: "kv.put", Path: e.cacheKey(path)},
		func(ctx context.Context) (*api.Secret, error) {
			secret, err := e.client.Send(ctx, http.MethodPost, e.dataPath(path), body)
			if err != nil {
				return nil, err
			}
			// A write invalidates whatever was cached for the path.
			if e.cache != nil {
				e.cache.Remove(e.cacheKey(path))
			}
			if secret == nil {
				secret = &api.Secret{}
			}
			return secret, nil
		})
}

// Delete removes the secret (latest version only under v2).
func (e *Engine) Delete(ctx context.Context, path string) *flow.Handle {
	return e.strategy.Invoke(ctx, flow.Descriptor{Operation: "kv.delete", Path: e.cacheKey(path)},
		func(ctx context.Context) (*api.Secret, error) {
			_, err := e.client.Send(ctx, http.MethodDelete, e.dataPath(path), nil)
			if err != nil {
				return nil, err
			}
			if e.cache != nil {
				e.cache.Remove(e.cacheKey(path))
			}
			return &api.Secret{}, nil
		})
}

// List enumerates keys under a path prefix.
func (e *Engine) List(ctx context.Context, path string) *flow.Handle {
	return e.strategy.Invoke(ctx, flow.Descriptor{Operation: "kv.list", Path: e.cacheKey(path)},
		func(ctx context.Context) (*api.Secret, error) {
			secret, err := e.client.Send(ctx, "LIST", e.listPath(path), nil)
			if err != nil {
				return nil, err
			}
			if secret == nil {
				return nil, &api.ResponseError{StatusCode: 404, Method: "LIST", Path: e.listPath(path)}
			}
			return secret, nil
		})
}

// Keys extracts the key names from a List response.
func Keys(secret *api.Secret) []string {
	if secret == nil || secret.Data == nil {
		return nil
	}
	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}

func (e *Engine) cacheKey(path string) string {
	return e.mount + "/" + strings.Trim(path, "/")
}

func (e *Engine) dataPath(path string) string {
	path = strings.Trim(path, "/")
	if e.version == 2 {
		return fmt.Sprintf("%s/data/%s", e.mount, path)
	}
	return fmt.Sprintf("%s/%s", e.mount, path)
}

func (e *Engine) listPath(path string) string {
	path = strings.Trim(path, "/")
	if e.version == 2 {
		return fmt.Sprintf("%s/metadata/%s", e.mount, path)
	}
	return fmt.Sprintf("%s/%s", e.mount, path)
}

// unwrap flattens the v2 data/metadata envelope.
func (e *Engine) unwrap(secret *api.Secret) *api.Secret {
	if e.version != 2 || secret.Data == nil {
		return secret
	}
	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return secret
	}
	out := *secret
	out.Data = inner
	return &out
}

// cachedSecret returns the cached payload when it hasn't passed its
// pseudo-TTL yet.
func (e *Engine) cachedSecret(key string) *api.Secret {
	if e.cache == nil || e.cacheTTL <= 0 {
		return nil
	}
	rec, ok := e.cache.Get(key)
	if !ok || rec.Data == nil || time.Now().After(rec.ExpiresAt()) {
		return nil
	}
	return &api.Secret{Data: rec.Data}
}

// maybeCache stores a leaseless read under a pseudo-TTL record whose
// rotation is a fresh read.
func (e *Engine) maybeCache(key, path string, secret *api.Secret) {
	if e.cache == nil || e.cacheTTL <= 0 || secret.LeaseID != "" || secret.Data == nil {
		return
	}

	e.cache.Put(&lease.Record{
		Key:      key,
		Data:     secret.Data,
		IssuedAt: time.Now(),
		Duration: e.cacheTTL,
		State:    lease.StateActive,
		Rotate: func(ctx context.Context) (*lease.Record, error) {
			return e.reread(ctx, key, path)
		},
	})
	e.logger.Debug("cached leaseless secret %s for %v", logging.Secret(key), e.cacheTTL)
}

func (e *Engine) reread(ctx context.Context, key, path string) (*lease.Record, error) {
	secret, err := e.client.Send(ctx, http.MethodGet, e.dataPath(path), nil)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, &api.ResponseError{StatusCode: 404, Method: http.MethodGet, Path: e.dataPath(path)}
	}
	secret = e.unwrap(secret)

	return &lease.Record{
		Key:      key,
		Data:     secret.Data,
		IssuedAt: time.Now(),
		Duration: e.cacheTTL,
		Rotate: func(ctx context.Context) (*lease.Record, error) {
			return e.reread(ctx, key, path)
		},
	}, nil
}
