package main

import (
	"fmt"

	"github.com/opd-ai/gamelink/protocol"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=x.y.z".
var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show gamelinkd and protocol versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "gamelinkd version %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "protocol version %d (configured %d)\n", protocol.DefaultVersion, cfg.Protocol.Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
