package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultlease/cmd/vaultlease/commands"
	"github.com/systmms/vaultlease/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	opts := &commands.Options{}

	rootCmd := &cobra.Command{
		Use:   "vaultlease",
		Short: "Client runtime for leased secrets",
		Long: `vaultlease talks to your secret-management server, keeps issued leases
renewed in the background, and rotates credentials when renewal runs out.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.ConfigFile = configFile
			opts.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default vaultlease.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewLoginCommand(opts),
		commands.NewGetCommand(opts),
		commands.NewDoctorCommand(opts),
	)

	return rootCmd.Execute()
}
