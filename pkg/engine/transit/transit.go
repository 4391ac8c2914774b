// Package transit wraps the encryption-as-a-service endpoints. Transit
// responses carry no lease metadata, so nothing here touches the cache.
package transit

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/systmms/vaultlease/pkg/api"
	"github.com/systmms/vaultlease/pkg/flow"
)

// Engine is a handle on one transit mount.
type Engine struct {
	client   api.Sender
	strategy flow.Strategy
	mount    string
}

func New(client api.Sender, strategy flow.Strategy, mount string) *Engine {
	return &Engine{
		client:   client,
		strategy: strategy,
		mount:    strings.Trim(mount, "/"),
	}
}

// Encrypt encrypts plaintext with the named key. The result carries the
// ciphertext under Data["ciphertext"].
func (e *Engine) Encrypt(ctx context.Context, key string, plaintext []byte) *flow.Handle {
	path := fmt.Sprintf("%s/encrypt/%s", e.mount, key)
	return e.strategy.Invoke(ctx, flow.Descriptor{Operation: "transit.encrypt", Path: path},
		func(ctx context.Context) (*api.Secret, error) {
			return e.client.Send(ctx, http.MethodPost, path, map[string]interface{}{
				"plaintext": base64.StdEncoding.EncodeToString(plaintext),
			})
		})
}

// Decrypt recovers the plaintext for a ciphertext produced by Encrypt.
func (e *Engine) Decrypt(ctx context.Context, key, ciphertext string) *flow.Handle {
	path := fmt.Sprintf("%s/decrypt/%s", e.mount, key)
	return e.strategy.Invoke(ctx, flow.Descriptor{Operation: "transit.decrypt", Path: path},
		func(ctx context.Context) (*api.Secret, error) {
			return e.client.Send(ctx, http.MethodPost, path, map[string]interface{}{
				"ciphertext": ciphertext,
			})
		})
}

// Rewrap re-encrypts a ciphertext under the key's newest version without
// exposing the plaintext to the caller.
func (e *Engine) Rewrap(ctx context.Context, key, ciphertext string) *flow.Handle {
	path := fmt.Sprintf("%s/rewrap/%s", e.mount, key)
	return e.strategy.Invoke(ctx, flow.Descriptor{Operation: "transit.rewrap", Path: path},
		func(ctx context.Context) (*api.Secret, error) {
			return e.client.Send(ctx, http.MethodPost, path, map[string]interface{}{
				"ciphertext": ciphertext,
			})
		})
}

// DataKey generates a high-entropy key for local encryption. With plaintext
// true the response carries both the wrapped and the unwrapped key.
func (e *Engine) DataKey(ctx context.Context, key string, plaintext bool) *flow.Handle {
	kind := "wrapped"
	if plaintext {
		kind = "plaintext"
	}
	path := fmt.Sprintf("%s/datakey/%s/%s", e.mount, kind, key)
	return e.strategy.Invoke(ctx, flow.Descriptor{Operation: "transit.datakey", Path: path},
		func(ctx context.Context) (*api.Secret, error) {
			return e.client.Send(ctx, http.MethodPost, path, nil)
		})
}

// Plaintext decodes the base64 plaintext field of a decrypt or datakey
// response.
func Plaintext(secret *api.Secret) ([]byte, error) {
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("empty transit response")
	}
	encoded, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("transit response has no plaintext field")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode transit plaintext: %w", err)
	}
	return raw, nil
}

// Ciphertext extracts the ciphertext field of an encrypt or rewrap
// response.
func Ciphertext(secret *api.Secret) (string, error) {
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("empty transit response")
	}
	ct, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return "", fmt.Errorf("transit response has no ciphertext field")
	}
	return ct, nil
}
