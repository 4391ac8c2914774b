package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	vlerrors "github.com/systmms/vaultlease/internal/errors"
	"github.com/systmms/vaultlease/pkg/engine/kv"
)

func NewGetCommand(opts *Options) *cobra.Command {
	var (
		field      string
		mount      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Read a secret and print its value",
		Long: `Read a secret from the key/value engine and print it to stdout.

By default all fields are printed as key=value lines. With --field only
that field's raw value is printed, making it suitable for scripting.

Examples:
  # Print all fields of a secret
  vaultlease get app/config

  # Print a single field, for use in scripts
  export DB_URL=$(vaultlease get app/config --field database_url)

  # Full secret with lease metadata as JSON
  vaultlease get app/config --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			f, err := opts.loadConfig()
			if err != nil {
				return err
			}

			c, err := opts.newClient(f)
			if err != nil {
				return err
			}
			if c.Token() == "" {
				return vlerrors.UserError{
					Message:    "No client token available",
					Suggestion: "Run 'vaultlease login' or set VAULT_TOKEN",
				}
			}

			engine := c.KV(mount)
			secret, err := engine.Get(cmd.Context(), path).Await(cmd.Context())
			if err != nil {
				return vlerrors.Simplify(err)
			}
			if secret == nil || len(secret.Data) == 0 {
				return vlerrors.UserError{
					Message:    fmt.Sprintf("No data at '%s'", path),
					Suggestion: "Check the path and the engine mount (--mount)",
				}
			}

			if jsonOutput {
				output := map[string]interface{}{
					"path": path,
					"data": secret.Data,
				}
				if secret.LeaseID != "" {
					output["lease_id"] = secret.LeaseID
					output["lease_duration"] = secret.LeaseDuration
					output["renewable"] = secret.Renewable
				}
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(output); err != nil {
					return fmt.Errorf("failed to encode JSON: %w", err)
				}
				return nil
			}

			if field != "" {
				value, exists := secret.Data[field]
				if !exists {
					var available []string
					for name := range secret.Data {
						available = append(available, name)
					}
					return vlerrors.UserError{
						Message:    fmt.Sprintf("Field '%s' not present at '%s'", field, path),
						Suggestion: fmt.Sprintf("Available fields: %v", available),
					}
				}
				fmt.Print(value)
				return nil
			}

			for name, value := range secret.Data {
				fmt.Printf("%s=%v\n", name, value)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "Print only this field's raw value")
	cmd.Flags().StringVar(&mount, "mount", kv.DefaultMount, "Key/value engine mount path")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format with lease metadata")

	return cmd
}
