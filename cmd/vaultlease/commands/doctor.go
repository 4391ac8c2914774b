package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	vlerrors "github.com/systmms/vaultlease/internal/errors"
	"github.com/systmms/vaultlease/internal/tokenhelper"
)

func NewDoctorCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and server connectivity",
		Long: `Verify that the client is properly configured and can reach the server.

This command checks:
- Configuration file validity
- Server reachability and health
- Stored token presence and validity`,
		RunE: func(cmd *cobra.Command, args []string) error {
			failures := 0

			opts.Logger.Info("Checking vaultlease configuration...")
			f, err := opts.loadConfig()
			if err != nil {
				opts.Logger.Error("Configuration error: %v", err)
				return vlerrors.Simplify(err)
			}
			opts.Logger.Info("✓ Configuration loaded (server: %s)", f.Address)

			c, err := opts.newClient(f)
			if err != nil {
				opts.Logger.Error("Client setup error: %v", err)
				return vlerrors.Simplify(err)
			}

			if err := c.Health(cmd.Context()); err != nil {
				opts.Logger.Error("✗ Server not reachable: %v", vlerrors.ServerError("health check", err))
				failures++
			} else {
				opts.Logger.Info("✓ Server is reachable and healthy")
			}

			switch {
			case os.Getenv("VAULT_TOKEN") != "":
				opts.Logger.Info("✓ Token present (VAULT_TOKEN)")
			case c.Token() != "":
				opts.Logger.Info("✓ Token present (OS keyring)")
			default:
				if _, err := opts.tokenStore().Get(f.Address); errors.Is(err, tokenhelper.ErrNoToken) {
					opts.Logger.Warn("✗ No token stored for %s", f.Address)
					opts.Logger.Info("  💡 Run 'vaultlease login' to authenticate")
				} else if err != nil {
					opts.Logger.Warn("✗ Keyring not accessible: %v", err)
				}
				failures++
			}

			if c.Token() != "" {
				if _, err := c.Read(cmd.Context(), "auth/token/lookup-self").Await(cmd.Context()); err != nil {
					opts.Logger.Warn("✗ Stored token rejected by server: %v", vlerrors.Simplify(err))
					opts.Logger.Info("  💡 Run 'vaultlease login' to refresh it")
					failures++
				} else {
					opts.Logger.Info("✓ Token is valid")
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d check(s) failed", failures)
			}
			opts.Logger.Info("✓ All systems operational!")
			return nil
		},
	}

	return cmd
}
