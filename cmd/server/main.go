// Package main runs the review bot webhook server.
//
// Settings come from environment variables (see config.LoadServerConfig)
// and may be overridden by flags:
//
//	reviewbot serve --port 9000
//	reviewbot migrate
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var flags struct {
	port        string
	databaseURL string
	sqlitePath  string
	logLevel    string
	logFormat   string
}

var rootCmd = &cobra.Command{
	Use:           "reviewbot",
	Short:         "AI code review for GitHub and GitLab webhooks",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context())
	},
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.port, "port", "", "HTTP port (overrides PORT)")
	pf.StringVar(&flags.databaseURL, "database-url", "", "PostgreSQL DSN (overrides DATABASE_URL)")
	pf.StringVar(&flags.sqlitePath, "sqlite-path", "", "SQLite file used without a PostgreSQL DSN (overrides SQLITE_PATH)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	pf.StringVar(&flags.logFormat, "log-format", "", "json or text (overrides LOG_FORMAT)")

	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		newLogger("info", "json").Error("command failed", "error", err)
		os.Exit(1)
	}
}
