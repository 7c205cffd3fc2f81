package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"appupdate/internal/config"
	"appupdate/internal/server"
	"appupdate/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// envFile is loaded into the environment before configuration.
	envFile string
	// examplePath is where example-config writes.
	examplePath string

	rootCmd = &cobra.Command{
		Use:   "appupdate",
		Short: "APK distribution service: ingest packages, pick releases, answer update checks.",
		Long: `appupdate stores uploaded Android packages, keeps a registry of their versions,
lets an operator mark one version per application as released, and tells
devices whether a newer released version is available and where to get it.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve [listen-address]",
		Short: "Run the HTTP API.",
		Long: `Serves the management and update-check API.

Settings come from the configuration file, then APPUPDATE_* environment
variables. A listen address argument (e.g. :9090) overrides server.host and
server.port.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runServe,
	}

	exampleConfigCmd = &cobra.Command{
		Use:   "example-config",
		Short: "Write an example configuration file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.SaveExample(examplePath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "example configuration written to %s\n", examplePath)
			return nil
		},
	}
)

// runServe backs both `appupdate` and `appupdate serve`.
func runServe(_ *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	opts := &server.Options{
		ConfigPath: configPath,
		EnvFile:    envFile,
	}
	if len(args) > 0 {
		opts.ListenAddress = args[0]
	}

	return server.Run(ctx, opts)
}

// Execute runs the CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra commands are registered at package init.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file loaded before configuration")

	exampleConfigCmd.Flags().StringVarP(&examplePath, "output", "o", "config.example.yaml", "where to write the example")

	rootCmd.AddCommand(serveCmd, exampleConfigCmd)
}
