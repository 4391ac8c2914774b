// Package tokenhelper persists the client auth token in the OS keyring,
// keyed by server address so tokens for different servers never collide.
// Only the auth token ever goes through here; secret payloads stay in
// memory.
package tokenhelper

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const service = "vaultlease"

// ErrNoToken means no token has been stored for the address.
var ErrNoToken = errors.New("no stored token for this server")

// Store is the persistence interface; swapped for a map in tests.
type Store interface {
	Get(address string) (string, error)
	Put(address, token string) error
	Erase(address string) error
}

// Keyring stores tokens in the OS credential store (Secret Service on
// Linux, Keychain on macOS, Credential Manager on Windows).
type Keyring struct{}

func NewKeyring() *Keyring {
	return &Keyring{}
}

func (k *Keyring) Get(address string) (string, error) {
	token, err := keyring.Get(service, address)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return token, nil
}

func (k *Keyring) Put(address, token string) error {
	if token == "" {
		return k.Erase(address)
	}
	if err := keyring.Set(service, address, token); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (k *Keyring) Erase(address string) error {
	if err := keyring.Delete(service, address); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

var _ Store = (*Keyring)(nil)

// Memory is a process-local store for tests and headless environments
// without a credential service.
type Memory struct {
	tokens map[string]string
}

func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]string)}
}

func (m *Memory) Get(address string) (string, error) {
	token, ok := m.tokens[address]
	if !ok {
		return "", ErrNoToken
	}
	return token, nil
}

func (m *Memory) Put(address, token string) error {
	if token == "" {
		delete(m.tokens, address)
		return nil
	}
	m.tokens[address] = token
	return nil
}

func (m *Memory) Erase(address string) error {
	delete(m.tokens, address)
	return nil
}

var _ Store = (*Memory)(nil)
