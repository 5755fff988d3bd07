// Package cmd provides the CLI commands for bundle-pricing.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bundle-pricing/internal/config"
	"bundle-pricing/internal/logging"
)

// Version is set at build time with -ldflags "-X bundle-pricing/cmd/cli/cmd.Version=..."
var Version = "dev"

var (
	cfgFile string
	verbose bool
	noColor bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bundle-pricing",
	Short: "Price eSIM bundles with rule-based strategies",
	Long: `bundle-pricing runs the bundle pricing engine from the command line.

It evaluates a pricing strategy against one request and prints an
auditable breakdown of every rule that fired, or serves the same engine
over HTTP and websockets.

Examples:
  bundle-pricing calculate --country IL --days 7 --payment ISRAELI_CARD
  bundle-pricing calculate --region europe --days 30 --format json
  bundle-pricing strategy validate ./config/strategies
  bundle-pricing serve --config pricing.json`,
	SilenceUsage: true,
}

// Execute runs the CLI. Commands stop when ctx is cancelled.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "pricing.json", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	config.Set(cfg)

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bundle-pricing version %s\n", Version)
	},
}
