package cmd

import (
	"github.com/spf13/cobra"

	"bundle-pricing/internal/app"
	"bundle-pricing/internal/config"
	"bundle-pricing/internal/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pricing HTTP and websocket server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		a, err := app.Build(cmd.Context(), cfg, logging.Logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Serve(cmd.Context(), Version)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
