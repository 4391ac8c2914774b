// Package config loads the CLI configuration file. The file is YAML,
// validated against an embedded JSON schema before use; VAULT_* environment
// variables override the file on load.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/pkg/client"
)

// DefaultFileName is looked up in the working directory when no explicit
// path is given.
const DefaultFileName = "vaultlease.yaml"

// File is the on-disk configuration.
type File struct {
	Address   string `yaml:"address" json:"address"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	Auth struct {
		Method    string `yaml:"method,omitempty" json:"method,omitempty"`
		Username  string `yaml:"username,omitempty" json:"username,omitempty"`
		Mount     string `yaml:"mount,omitempty" json:"mount,omitempty"`
		Role      string `yaml:"role,omitempty" json:"role,omitempty"`
		RoleID    string `yaml:"role_id,omitempty" json:"role_id,omitempty"`
		Region    string `yaml:"region,omitempty" json:"region,omitempty"`
		TokenPath string `yaml:"token_path,omitempty" json:"token_path,omitempty"`
	} `yaml:"auth,omitempty" json:"auth,omitempty"`

	TLS struct {
		CACert     string `yaml:"ca_cert,omitempty" json:"ca_cert,omitempty"`
		SkipVerify bool   `yaml:"skip_verify,omitempty" json:"skip_verify,omitempty"`
	} `yaml:"tls,omitempty" json:"tls,omitempty"`

	Tuning struct {
		ExecutionStrategy string `yaml:"execution_strategy,omitempty" json:"execution_strategy,omitempty"`
		RenewalWindow     string `yaml:"renewal_window,omitempty" json:"renewal_window,omitempty"`
		CheckPeriod       string `yaml:"check_period,omitempty" json:"check_period,omitempty"`
		CheckJitter       string `yaml:"check_jitter,omitempty" json:"check_jitter,omitempty"`
		MaxRetryDuration  string `yaml:"max_retry_duration,omitempty" json:"max_retry_duration,omitempty"`
		RetryInterval     string `yaml:"retry_interval,omitempty" json:"retry_interval,omitempty"`
	} `yaml:"tuning,omitempty" json:"tuning,omitempty"`

	RetryStatusCodes []int `yaml:"retry_status_codes,omitempty" json:"retry_status_codes,omitempty"`
}

// schema validates the shape of the file before any field is interpreted.
const schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["address"],
  "additionalProperties": false,
  "properties": {
    "address": {"type": "string", "minLength": 1},
    "namespace": {"type": "string"},
    "auth": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "method": {"enum": ["token", "userpass", "ldap", "approle", "kubernetes", "aws-iam"]},
        "username": {"type": "string"},
        "mount": {"type": "string"},
        "role": {"type": "string"},
        "role_id": {"type": "string"},
        "region": {"type": "string"},
        "token_path": {"type": "string"}
      }
    },
    "tls": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "ca_cert": {"type": "string"},
        "skip_verify": {"type": "boolean"}
      }
    },
    "tuning": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "execution_strategy": {"enum": ["blocking", "deferred", "channel"]},
        "renewal_window": {"type": "string", "pattern": "^[0-9]+(ns|us|ms|s|m|h)$"},
        "check_period": {"type": "string", "pattern": "^[0-9]+(ns|us|ms|s|m|h)$"},
        "check_jitter": {"type": "string", "pattern": "^[0-9]+(ns|us|ms|s|m|h)$"},
        "max_retry_duration": {"type": "string", "pattern": "^[0-9]+(ns|us|ms|s|m|h)$"},
        "retry_interval": {"type": "string", "pattern": "^[0-9]+(ns|us|ms|s|m|h)$"}
      }
    },
    "retry_status_codes": {
      "type": "array",
      "items": {"type": "integer", "minimum": 100, "maximum": 599}
    }
  }
}`

// Load reads, validates, and env-overrides a configuration file. The raw
// document is validated before it is decoded into the typed struct, so
// unknown keys are a validation error rather than a silent no-op.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := validate(doc); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&f)
	return &f, nil
}

// LoadOrDefault loads the default file when it exists, or returns an
// env-only configuration when it doesn't.
func LoadOrDefault() (*File, error) {
	if _, err := os.Stat(DefaultFileName); err == nil {
		return Load(DefaultFileName)
	}
	f := &File{}
	applyEnvOverrides(f)
	if f.Address == "" {
		return nil, fmt.Errorf("no %s found and VAULT_ADDR is unset", DefaultFileName)
	}
	return f, nil
}

func validate(doc map[string]interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("schema validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return nil
}

// applyEnvOverrides lets the standard environment variables win over the
// file, matching the server CLI's conventions.
func applyEnvOverrides(f *File) {
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		f.Address = addr
	}
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		f.Namespace = ns
	}
	if caCert := os.Getenv("VAULT_CACERT"); caCert != "" {
		f.TLS.CACert = caCert
	}
	if skip := os.Getenv("VAULT_SKIP_VERIFY"); skip == "1" || strings.EqualFold(skip, "true") {
		f.TLS.SkipVerify = true
	}
}

// ClientConfig translates the file into the library's configuration.
func (f *File) ClientConfig(logger *logging.Logger) (client.Config, error) {
	cfg := client.Config{
		Address:           f.Address,
		Namespace:         f.Namespace,
		CACert:            f.TLS.CACert,
		TLSSkipVerify:     f.TLS.SkipVerify,
		ExecutionStrategy: f.Tuning.ExecutionStrategy,
		RetryStatusCodes:  f.RetryStatusCodes,
		Logger:            logger,
	}

	var err error
	if cfg.RenewalWindow, err = parseDuration(f.Tuning.RenewalWindow, "renewal_window"); err != nil {
		return client.Config{}, err
	}
	if cfg.CheckPeriod, err = parseDuration(f.Tuning.CheckPeriod, "check_period"); err != nil {
		return client.Config{}, err
	}
	if cfg.CheckJitter, err = parseDuration(f.Tuning.CheckJitter, "check_jitter"); err != nil {
		return client.Config{}, err
	}
	if cfg.MaxRetryDuration, err = parseDuration(f.Tuning.MaxRetryDuration, "max_retry_duration"); err != nil {
		return client.Config{}, err
	}
	if cfg.RetryInterval, err = parseDuration(f.Tuning.RetryInterval, "retry_interval"); err != nil {
		return client.Config{}, err
	}
	return cfg, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("tuning.%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("tuning.%s: must not be negative", field)
	}
	return d, nil
}
