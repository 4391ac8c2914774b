// Package auth implements login flows for the supported authentication
// methods. A successful login installs the client token into the secure
// guard and, when the token is renewable, registers it with the lease cache
// so the maintenance scheduler keeps it alive.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/internal/secure"
	"github.com/systmms/vaultlease/pkg/api"
	"github.com/systmms/vaultlease/pkg/lease"
)

// Method performs a login against an auth mount and returns the server's
// auth response. Implementations must not require an existing token.
type Method interface {
	Name() string
	Login(ctx context.Context, client api.Sender) (*api.Secret, error)
}

// Authenticator orchestrates login: run the method, guard the token, and
// register the token lease for background renewal.
type Authenticator struct {
	client api.Sender
	guard  *secure.TokenGuard
	cache  *lease.Cache
	logger *logging.Logger
}

func NewAuthenticator(client api.Sender, guard *secure.TokenGuard, cache *lease.Cache, logger *logging.Logger) *Authenticator {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Authenticator{client: client, guard: guard, cache: cache, logger: logger}
}

// Login runs the method and installs the resulting token. The returned
// secret carries the full auth block (accessor, policies, TTL).
func (a *Authenticator) Login(ctx context.Context, method Method) (*api.Secret, error) {
	secret, err := method.Login(ctx, a.client)
	if err != nil {
		return nil, fmt.Errorf("%s login: %w", method.Name(), err)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return nil, fmt.Errorf("%s login: no client token in response", method.Name())
	}

	a.guard.Set(secret.Auth.ClientToken)

	// Direct token auth yields no accessor or TTL; fill them in from the
	// token's own metadata.
	if secret.Auth.Accessor == "" {
		if enriched, err := a.lookupSelf(ctx); err == nil {
			secret = enriched
		} else {
			a.logger.Debug("token lookup-self failed: %v", err)
		}
	}

	a.logger.Debug("authenticated via %s (policies: %v)", method.Name(), secret.Auth.Policies)

	if a.cache != nil && secret.Auth.Renewable && secret.Auth.LeaseDuration > 0 {
		a.registerTokenLease(method, secret.Auth)
	}
	return secret, nil
}

// Logout drops the guarded token and its lease record.
func (a *Authenticator) Logout() {
	if a.cache != nil {
		for _, rec := range a.cache.Snapshot() {
			if strings.HasPrefix(rec.Key, tokenLeasePrefix) {
				a.cache.Remove(rec.Key)
			}
		}
	}
	a.guard.Clear()
}

const tokenLeasePrefix = "auth/token/"

// registerTokenLease puts the token itself under lease management: renewal
// goes through renew-self, and a refused renewal falls back to a fresh
// login with the original method.
func (a *Authenticator) registerTokenLease(method Method, auth *api.AuthInfo) {
	key := tokenLeasePrefix + auth.Accessor

	rec := &lease.Record{
		Key:       key,
		LeaseID:   key,
		IssuedAt:  time.Now(),
		Duration:  time.Duration(auth.LeaseDuration) * time.Second,
		Renewable: true,
		State:     lease.StateActive,
		Renew: func(ctx context.Context) (*api.Secret, error) {
			return a.renewSelf(ctx)
		},
		Rotate: func(ctx context.Context) (*lease.Record, error) {
			return a.relogin(ctx, method)
		},
	}
	a.cache.Put(rec)
	a.logger.Debug("token lease registered (accessor %s, ttl %ds)", auth.Accessor, auth.LeaseDuration)
}

func (a *Authenticator) renewSelf(ctx context.Context) (*api.Secret, error) {
	secret, err := a.client.Send(ctx, http.MethodPost, "auth/token/renew-self", nil)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Auth == nil || !secret.Auth.Renewable {
		return nil, api.ErrLeaseNotRenewable
	}
	return secret, nil
}

// relogin re-authenticates from scratch and returns the replacement token
// lease. The new token overwrites the guard.
func (a *Authenticator) relogin(ctx context.Context, method Method) (*lease.Record, error) {
	secret, err := method.Login(ctx, a.client)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return nil, fmt.Errorf("%s re-login: no client token in response", method.Name())
	}

	a.guard.Set(secret.Auth.ClientToken)
	auth := secret.Auth

	return &lease.Record{
		Key:       tokenLeasePrefix + auth.Accessor,
		LeaseID:   tokenLeasePrefix + auth.Accessor,
		IssuedAt:  time.Now(),
		Duration:  time.Duration(auth.LeaseDuration) * time.Second,
		Renewable: auth.Renewable,
		Renew: func(ctx context.Context) (*api.Secret, error) {
			return a.renewSelf(ctx)
		},
		Rotate: func(ctx context.Context) (*lease.Record, error) {
			return a.relogin(ctx, method)
		},
	}, nil
}

// lookupSelf reads the current token's metadata and shapes it as an auth
// response.
func (a *Authenticator) lookupSelf(ctx context.Context) (*api.Secret, error) {
	secret, err := a.client.Send(ctx, http.MethodGet, "auth/token/lookup-self", nil)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("empty lookup-self response")
	}

	auth := &api.AuthInfo{ClientToken: a.guard.Token()}
	if accessor, ok := secret.Data["accessor"].(string); ok {
		auth.Accessor = accessor
	}
	if ttl, ok := secret.Data["ttl"].(float64); ok {
		auth.LeaseDuration = int(ttl)
	}
	if renewable, ok := secret.Data["renewable"].(bool); ok {
		auth.Renewable = renewable
	}
	if policies, ok := secret.Data["policies"].([]interface{}); ok {
		for _, p := range policies {
			if s, ok := p.(string); ok {
				auth.Policies = append(auth.Policies, s)
			}
		}
	}

	return &api.Secret{RequestID: secret.RequestID, Data: secret.Data, Auth: auth}, nil
}
