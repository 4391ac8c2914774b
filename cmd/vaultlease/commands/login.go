package commands

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/systmms/vaultlease/internal/auth"
	"github.com/systmms/vaultlease/internal/config"
	vlerrors "github.com/systmms/vaultlease/internal/errors"
)

func NewLoginCommand(opts *Options) *cobra.Command {
	var (
		method   string
		username string
		mount    string
		role     string
		roleID   string
		region   string
		token    string
		noStore  bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store the client token",
		Long: `Authenticate against the configured server and store the resulting
token in the OS keyring, keyed by server address.

The method and its parameters come from the config file's auth section;
flags override the file.

Examples:
  vaultlease login                                # method from config file
  vaultlease login --method userpass --username alice
  vaultlease login --method approle --role-id my-role-id
  vaultlease login --method token --token s.xyz   # store an existing token
  vaultlease login --method aws-iam --role my-iam-role`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := opts.loadConfig()
			if err != nil {
				return err
			}

			if method == "" {
				method = f.Auth.Method
			}
			if method == "" {
				return vlerrors.ConfigError{
					Field:      "auth.method",
					Message:    "no auth method configured",
					Suggestion: "Set auth.method in the config file or pass --method",
				}
			}

			m, err := buildMethod(method, f, username, mount, role, roleID, region, token)
			if err != nil {
				return err
			}

			c, err := opts.newClient(f)
			if err != nil {
				return err
			}

			secret, err := c.Login(cmd.Context(), m)
			if err != nil {
				return vlerrors.Simplify(err)
			}

			opts.Logger.Info("Authenticated via %s", m.Name())
			if secret.Auth != nil && secret.Auth.LeaseDuration > 0 {
				opts.Logger.Info("Token TTL: %ds (renewable: %v)", secret.Auth.LeaseDuration, secret.Auth.Renewable)
			}

			if noStore {
				return nil
			}
			if err := opts.tokenStore().Put(f.Address, c.Token()); err != nil {
				opts.Logger.Warn("Token not stored in keyring: %v", err)
				return nil
			}
			opts.Logger.Info("Token stored for %s", f.Address)
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "", "Auth method: token, userpass, ldap, approle, kubernetes, aws-iam")
	cmd.Flags().StringVar(&username, "username", "", "Username for userpass/ldap")
	cmd.Flags().StringVar(&mount, "mount", "", "Auth mount path override")
	cmd.Flags().StringVar(&role, "role", "", "Role for kubernetes/aws-iam")
	cmd.Flags().StringVar(&roleID, "role-id", "", "Role id for approle")
	cmd.Flags().StringVar(&region, "region", "", "AWS region for aws-iam")
	cmd.Flags().StringVar(&token, "token", "", "Existing token for the token method")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not persist the token in the OS keyring")

	return cmd
}

func buildMethod(name string, f *config.File, username, mount, role, roleID, region, token string) (auth.Method, error) {
	if username == "" {
		username = f.Auth.Username
	}
	if mount == "" {
		mount = f.Auth.Mount
	}
	if role == "" {
		role = f.Auth.Role
	}
	if roleID == "" {
		roleID = f.Auth.RoleID
	}
	if region == "" {
		region = f.Auth.Region
	}

	switch name {
	case "token":
		return auth.Token{Value: token}, nil
	case "userpass":
		password, err := promptPassword(username)
		if err != nil {
			return nil, err
		}
		return auth.Userpass{Username: username, Password: password, Mount: mount}, nil
	case "ldap":
		password, err := promptPassword(username)
		if err != nil {
			return nil, err
		}
		return auth.LDAP{Username: username, Password: password, Mount: mount}, nil
	case "approle":
		return auth.AppRole{RoleID: roleID, Mount: mount}, nil
	case "kubernetes":
		return auth.Kubernetes{Role: role, TokenPath: f.Auth.TokenPath, Mount: mount}, nil
	case "aws-iam":
		return auth.AWSIAM{Role: role, Region: region, Mount: mount}, nil
	default:
		return nil, vlerrors.ConfigError{
			Field:      "auth.method",
			Value:      name,
			Message:    "unsupported auth method",
			Suggestion: "Supported methods: token, userpass, ldap, approle, kubernetes, aws-iam",
		}
	}
}

// promptPassword reads a password from the terminal, falling back to env
// vars in non-interactive sessions (the auth method checks those itself).
func promptPassword(username string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", nil
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", username)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}
