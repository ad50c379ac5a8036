package config

import "github.com/spf13/cobra"

// RegisterFlags registers common CLI flags on the provided root command
func RegisterFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors")
	cmd.PersistentFlags().Bool("json", false, "Emit logs as JSON")
	cmd.PersistentFlags().String("proxy", "", "HTTP proxy, or a comma-separated list rotated per request")
	cmd.PersistentFlags().String("timeout", "30s", "Hard timeout for a single HTTP request")
	cmd.PersistentFlags().String("session-file", DefaultSessionFile, "Path of the persisted session cookies")
	cmd.PersistentFlags().String("config", "", "Path to configuration file (optional)")
}
