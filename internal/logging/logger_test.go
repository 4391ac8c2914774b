package logging

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "secret is redacted",
			input:    "my-secret-password",
			expected: "[REDACTED]",
		},
		{
			name:     "empty secret is still redacted",
			input:    "",
			expected: "[REDACTED]",
		},
		{
			name:     "complex secret is redacted",
			input:    "password123!@#",
			expected: "[REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Secret(tt.input).String()
			if result != tt.expected {
				t.Errorf("Secret(%q).String() = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSecretInFormattedOutput(t *testing.T) {
	secret := Secret("super-secret-password")

	formatted := fmt.Sprintf("token is %s", secret)
	if strings.Contains(formatted, "super-secret-password") {
		t.Errorf("formatted output leaked the secret: %s", formatted)
	}

	goFormatted := fmt.Sprintf("%#v", secret)
	if strings.Contains(goFormatted, "super-secret-password") {
		t.Errorf("%%#v output leaked the secret: %s", goFormatted)
	}
}

func TestRedact(t *testing.T) {
	input := "connecting with token hvs.abc123xyz to server"
	result := Redact(input, []string{"hvs.abc123xyz"})

	if strings.Contains(result, "hvs.abc123xyz") {
		t.Errorf("Redact left secret in output: %s", result)
	}
	if !strings.Contains(result, "[REDACTED]") {
		t.Errorf("Redact did not insert placeholder: %s", result)
	}
}

func TestRedactSkipsTrivialSecrets(t *testing.T) {
	// Short strings would redact too aggressively (e.g. "a" appears everywhere).
	input := "a short message"
	result := Redact(input, []string{"a", ""})
	if result != input {
		t.Errorf("Redact modified input for trivial secret: %s", result)
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)

	logger.Info("hello %s", "world")
	logger.Warn("careful")
	logger.Error("boom")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "[INFO] hello world") {
		t.Errorf("missing info line: %s", out)
	}
	if !strings.Contains(out, "[WARN] careful") {
		t.Errorf("missing warn line: %s", out)
	}
	if !strings.Contains(out, "[ERROR] boom") {
		t.Errorf("missing error line: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line emitted with debug disabled: %s", out)
	}
}

func TestLoggerDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true, true)

	logger.Debug("visible %d", 42)
	if !strings.Contains(buf.String(), "[DEBUG] visible 42") {
		t.Errorf("missing debug line: %s", buf.String())
	}
}
