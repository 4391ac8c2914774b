// Package errors carries the user-facing error types the CLI prints.
// Classification for retry purposes lives in pkg/api; this package only
// shapes messages and suggestions for humans.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/vaultlease/pkg/api"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ServerError wraps a failed server call with a suggestion for the user.
func ServerError(operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("Server error during %s", operation),
		Suggestion: getServerSuggestion(err),
		Err:        err,
	}
}

// getServerSuggestion returns helpful suggestions based on the error
func getServerSuggestion(err error) string {
	switch {
	case api.IsPermissionDenied(err):
		return "Check your token's policies for this path"
	case api.IsNotFound(err):
		return "Check that the path exists and the mount is enabled"
	case api.IsRateLimited(err):
		return "The server is rate limiting requests. Wait a moment and try again"
	}

	var netErr *api.NetworkError
	if errors.As(err, &netErr) {
		return "Check that the server is running and reachable at the configured address"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "invalid token") || strings.Contains(errStr, "missing client token"):
		return "Your token may be expired or invalid. Run 'vaultlease login' to refresh"
	case strings.Contains(errStr, "namespace"):
		return "Check your namespace configuration"
	case strings.Contains(errStr, "tls") || strings.Contains(errStr, "certificate"):
		return "Check TLS configuration, or set VAULT_CACERT to the server's CA bundle"
	case strings.Contains(errStr, "timeout"):
		return "The operation timed out. Check your network connection and try again"
	default:
		return "Run 'vaultlease doctor' for connectivity diagnostics"
	}
}

// Simplify simplifies complex error messages for users
func Simplify(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		return UserError{
			Message:    fmt.Sprintf("Server rejected %s %s (status %d)", respErr.Method, respErr.Path, respErr.StatusCode),
			Details:    strings.Join(respErr.Errors, "; "),
			Suggestion: getServerSuggestion(err),
			Err:        err,
		}
	}

	var netErr *api.NetworkError
	if errors.As(err, &netErr) {
		return UserError{
			Message:    "Unable to reach the server",
			Details:    netErr.Err.Error(),
			Suggestion: getServerSuggestion(err),
			Err:        err,
		}
	}

	errStr := err.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
