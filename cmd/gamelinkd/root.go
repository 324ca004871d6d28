package main

import (
	"fmt"

	"github.com/opd-ai/gamelink/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	simulate bool
	logLevel string

	// Loaded in PersistentPreRunE.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "gamelinkd",
	Short: "Deliver game moves and invitations over Bluetooth, SMS, MQTT and WiFi-Direct",
	Long: `gamelinkd runs the game link transports described by a configuration
file. "serve" keeps them running and prints every event; the one-shot
commands start a single transport, queue one request and wait for its
outcome.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
			if err := loaded.Validate(); err != nil {
				return err
			}
		}
		loaded.ConfigureLogging()
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML configuration file (defaults plus GAMELINK_* environment when empty)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "route SMS through an in-process simulated radio")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
}
