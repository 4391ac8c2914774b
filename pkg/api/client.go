package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/systmms/vaultlease/internal/logging"
)

const (
	// DefaultTimeout bounds a single request/response round trip.
	DefaultTimeout = 30 * time.Second
)

// TokenSource supplies the client token attached to each request. The secure
// token guard implements it; StaticToken covers tests and one-off scripts.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed TokenSource.
type StaticToken string

// Token returns the static token value.
func (t StaticToken) Token() string { return string(t) }

// Sender issues one HTTP round trip against the secret-management service and
// classifies the outcome. Everything above the transport (engines, the
// maintenance scheduler) talks to this interface.
type Sender interface {
	Send(ctx context.Context, method, path string, body map[string]interface{}) (*Secret, error)
}

// Config holds transport configuration.
type Config struct {
	Address       string
	Namespace     string
	Timeout       time.Duration
	CACert        string // Path to CA certificate
	TLSSkipVerify bool   // Skip TLS verification (not recommended)

	// RetryStatusCodes extends the retryable set beyond 429/5xx.
	RetryStatusCodes []int
}

// Client implements Sender over the service's HTTP API.
type Client struct {
	addr       string
	namespace  string
	httpClient *http.Client
	tokens     TokenSource
	logger     *logging.Logger
	retryAllow []int
}

// NewClient creates a transport client. The token source may be nil for
// unauthenticated endpoints (health, login).
func NewClient(cfg Config, tokens TokenSource, logger *logging.Logger) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if logger == nil {
		logger = logging.New(false, true)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.TLSSkipVerify || cfg.CACert != "" {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}
		if cfg.CACert != "" {
			pem, err := os.ReadFile(cfg.CACert)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", cfg.CACert)
			}
			tlsConfig.RootCAs = pool
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	return &Client{
		addr:       strings.TrimSuffix(cfg.Address, "/"),
		namespace:  cfg.Namespace,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		retryAllow: cfg.RetryStatusCodes,
	}, nil
}

// Address returns the configured server address.
func (c *Client) Address() string { return c.addr }

// SetTokenSource replaces the token source. Used after login.
func (c *Client) SetTokenSource(tokens TokenSource) { c.tokens = tokens }

// Retryable classifies an error per this client's retry allow-list.
func (c *Client) Retryable(err error) bool {
	return Retryable(err, c.retryAllow)
}

// Send performs one request/response round trip. Any 2xx is a success; a 204
// yields a nil Secret. Non-2xx statuses and transport failures come back as
// the typed errors in this package.
func (c *Client) Send(ctx context.Context, method, path string, body map[string]interface{}) (*Secret, error) {
	url := c.addr + "/v1/" + strings.TrimPrefix(path, "/")

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("X-Vault-Token", token)
		}
	}
	if c.namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.namespace)
	}

	c.logger.Debug("sending %s %s", method, logging.Secret(path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ResponseError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Errors:     parseErrorBody(resp.Body),
		}
	}

	return ParseSecret(resp.Body)
}

var _ Sender = (*Client)(nil)
