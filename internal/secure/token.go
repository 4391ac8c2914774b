package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// TokenGuard stores the client auth token in a memguard enclave. It
// implements the transport's TokenSource.
//
// Tokens are never persisted to disk by this type; the optional keyring
// token helper is a separate, explicit opt-in.
type TokenGuard struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewTokenGuard creates an empty guard.
func NewTokenGuard() *TokenGuard {
	return &TokenGuard{}
}

// Set replaces the stored token. An empty token clears the guard.
func (g *TokenGuard) Set(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if token == "" {
		g.enclave = nil
		return
	}
	// NewEnclave wipes the input buffer, so hand it a copy.
	g.enclave = memguard.NewEnclave([]byte(token))
}

// Token decrypts and returns the stored token, or "" when unset. The
// returned string is an unavoidable plaintext copy for the request header;
// callers must not retain it.
func (g *TokenGuard) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.enclave == nil {
		return ""
	}

	locked, err := g.enclave.Open()
	if err != nil {
		return ""
	}
	defer locked.Destroy()
	return string(locked.Bytes())
}

// Has reports whether a token is stored.
func (g *TokenGuard) Has() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enclave != nil
}

// Clear wipes the stored token.
func (g *TokenGuard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enclave = nil
}
