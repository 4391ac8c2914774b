package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Secret is the generic response envelope returned by the service. Every
// endpoint that returns data uses this shape; lease metadata is present only
// for lease-producing reads.
type Secret struct {
	RequestID     string                 `json:"request_id"`
	LeaseID       string                 `json:"lease_id"`
	LeaseDuration int                    `json:"lease_duration"`
	Renewable     bool                   `json:"renewable"`
	Data          map[string]interface{} `json:"data"`
	Warnings      []string               `json:"warnings"`
	Auth          *AuthInfo              `json:"auth"`
}

// AuthInfo is the authentication block returned by login and token endpoints.
type AuthInfo struct {
	ClientToken   string            `json:"client_token"`
	Accessor      string            `json:"accessor"`
	Policies      []string          `json:"policies"`
	Metadata      map[string]string `json:"metadata"`
	LeaseDuration int               `json:"lease_duration"`
	Renewable     bool              `json:"renewable"`
	EntityID      string            `json:"entity_id"`
}

// TTL returns the lease duration as a time.Duration. For login responses the
// auth block's duration wins.
func (s *Secret) TTL() time.Duration {
	if s.Auth != nil && s.Auth.LeaseDuration > 0 {
		return time.Duration(s.Auth.LeaseDuration) * time.Second
	}
	return time.Duration(s.LeaseDuration) * time.Second
}

// IsRenewable reports whether the response carries a renewable lease.
func (s *Secret) IsRenewable() bool {
	if s.Auth != nil {
		return s.Auth.Renewable
	}
	return s.Renewable
}

// ParseSecret decodes a response body into a Secret.
func ParseSecret(r io.Reader) (*Secret, error) {
	var secret Secret
	if err := json.NewDecoder(r).Decode(&secret); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &secret, nil
}

// errorBody is the shape of non-2xx response bodies.
type errorBody struct {
	Errors []string `json:"errors"`
}

func parseErrorBody(r io.Reader) []string {
	var body errorBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil
	}
	return body.Errors
}
