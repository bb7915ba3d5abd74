// Command wardenctl issues moderation commands directly against a
// warden database. It is meant for operators on the proxy host; online
// players are only reachable through the daemon's admin API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/warden/pkg/command"
	"github.com/NicolasHaas/warden/pkg/datastore"
	"github.com/NicolasHaas/warden/pkg/logging"
	"github.com/NicolasHaas/warden/pkg/version"
)

var (
	dbPath   string
	issuer   string
	logLevel string
	timeout  = datastore.DefaultStatementTimeout
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wardenctl",
		Short:         "Ban, mute and kick players in a warden database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return logging.Setup(logging.Options{Service: "wardenctl", Level: logLevel, Output: cmd.ErrOrStderr()})
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", envOr("WARDEN_DB_PATH", "warden.db"), "SQLite database file path")
	root.PersistentFlags().StringVar(&issuer, "as", command.DefaultConsoleIssuer, "issuer recorded on new punishments")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: "+logging.LevelNames())
	root.PersistentFlags().DurationVar(&timeout, "timeout", timeout, "bound on every database call")

	root.AddCommand(
		issueCmd("ban", "Ban a player", true),
		issueCmd("mute", "Mute a player", true),
		issueCmd("kick", "Record a kick", false),
		revokeCmd("unban", "Lift a player's ban"),
		revokeCmd("unmute", "Lift a player's mute"),
		statusCmd(),
		historyCmd(),
		lookupCmd(),
		sweepCmd(),
		tokenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "wardenctl", version.Full())
			},
		},
	)
	return root
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
