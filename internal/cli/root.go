package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/leash/internal/audit"
	"github.com/ppiankov/leash/internal/logging"
	"github.com/ppiankov/leash/internal/session"
)

// alertFlushTimeout bounds how long exit waits for webhook deliveries.
const alertFlushTimeout = 15 * time.Second

var (
	logLevel  string
	auditPath string
)

var rootCmd = &cobra.Command{
	Use:   "leash",
	Short: "Governance layer for autonomous browser agents",
	Long: "Every task an agent submits is checked against a deny-first policy,\n" +
		"an action budget and a session TTL before it reaches the executor.\n" +
		"Every decision lands in an append-only audit log.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LEASH_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&auditPath, "audit", envOr("LEASH_AUDIT", audit.DefaultPath), "Audit log path (.jsonl, or .db/.sqlite for SQLite)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// flushAlerts waits for pending webhook deliveries before the process exits.
func flushAlerts(ctl *session.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), alertFlushTimeout)
	defer cancel()
	if err := ctl.Flush(ctx); err != nil {
		slog.Warn("alerts still pending at exit", "error", err)
	}
}
