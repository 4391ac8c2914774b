package commands

import (
	"errors"
	"os"

	"github.com/systmms/vaultlease/internal/config"
	"github.com/systmms/vaultlease/internal/logging"
	"github.com/systmms/vaultlease/internal/tokenhelper"
	"github.com/systmms/vaultlease/pkg/client"
)

// Options carries the state shared by all commands, populated from the
// root command's persistent flags.
type Options struct {
	ConfigFile string
	Logger     *logging.Logger

	// Tokens is swapped for an in-memory store in tests.
	Tokens tokenhelper.Store
}

func (o *Options) tokenStore() tokenhelper.Store {
	if o.Tokens == nil {
		o.Tokens = tokenhelper.NewKeyring()
	}
	return o.Tokens
}

// loadConfig reads the config file named by --config, or falls back to the
// default lookup.
func (o *Options) loadConfig() (*config.File, error) {
	if o.ConfigFile != "" {
		return config.Load(o.ConfigFile)
	}
	return config.LoadOrDefault()
}

// newClient builds a client from the file config and installs a token from
// VAULT_TOKEN or the OS keyring when one is available.
func (o *Options) newClient(f *config.File) (*client.Client, error) {
	cfg, err := f.ClientConfig(o.Logger)
	if err != nil {
		return nil, err
	}

	c, err := client.New(cfg)
	if err != nil {
		return nil, err
	}

	if token := os.Getenv("VAULT_TOKEN"); token != "" {
		c.SetToken(token)
		return c, nil
	}
	if token, err := o.tokenStore().Get(f.Address); err == nil {
		c.SetToken(token)
	} else if !errors.Is(err, tokenhelper.ErrNoToken) {
		o.Logger.Debug("keyring lookup failed: %v", err)
	}
	return c, nil
}
