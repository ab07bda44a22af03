package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/hypermark/cmd/hypermark/commands"
	"github.com/teranos/hypermark/logger"
)

var rootCmd = &cobra.Command{
	Use:   "hypermark",
	Short: "hypermark - encrypted bookmark sync over Nostr relays",
	Long: `hypermark keeps a bookmark collection in sync across devices that share a
secret. Bookmarks are encrypted, signed and exchanged through untrusted Nostr
relays; every device holding the same secret derives the same identity.

Available commands:
  am       - Show and validate configuration ("I am")
  identity - Show the identity derived from HYPERMARK_SYNC_SECRET
  relay    - Run a local development relay
  sync     - Connect to relays and stream bookmark changes
  publish  - Publish a bookmark
  delete   - Delete a bookmark
  status   - Show relay connection status
  version  - Show build information

Examples:
  hypermark am show --format yaml
  hypermark relay --addr 127.0.0.1:7447
  hypermark publish bm-1 --url https://example.com --title Example
  hypermark sync -v`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if err := logger.Initialize(jsonOutput, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Machine-readable JSON output and logs")
	rootCmd.PersistentFlags().String("config", "", "Use this am.toml instead of the config cascade")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.IdentityCmd)
	rootCmd.AddCommand(commands.RelayCmd)
	rootCmd.AddCommand(commands.SyncCmd)
	rootCmd.AddCommand(commands.PublishCmd)
	rootCmd.AddCommand(commands.DeleteCmd)
	rootCmd.AddCommand(commands.DocCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
