package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/leash/internal/audit"
	leashmcp "github.com/ppiankov/leash/internal/mcp"
	"github.com/ppiankov/leash/internal/policy"
	"github.com/ppiankov/leash/internal/session"
)

var mcpPolicy string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpPolicy, "policy", "", "Path to policy YAML (required)")
	mcpCmd.MarkFlagRequired("policy")
	addBackendFlags(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs a governed session as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: leash_task, leash_check, leash_status, leash_kill, leash_audit.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	p, err := policy.Load(mcpPolicy)
	if err != nil {
		return err
	}

	store, err := audit.OpenStore(auditPath)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer store.Close()

	exec, closeExec, err := newExecutor("")
	if err != nil {
		return err
	}
	defer closeExec()

	ctl, err := session.New(*p, exec, store)
	if err != nil {
		return err
	}

	var rec sessionRecorder
	srv, err := leashmcp.New(leashmcp.Config{
		Controller: ctl,
		Policy:     p,
		Store:      store,
		Version:    version,
		OnSession:  rec.observe,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "leash MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "Agent: %s\n\n", p.AgentName())

	err = srv.Run(ctx)

	if termErr := ctl.Terminate(context.Background()); termErr != nil && err == nil {
		err = termErr
	}
	flushAlerts(ctl)
	if rmErr := removeSessionFile(); rmErr != nil {
		slog.Warn("session file not removed", "error", rmErr)
	}
	st := ctl.Status()
	fmt.Fprintf(os.Stderr, "\nSession ended: %d allowed, %d blocked, uptime %s\n", st.Allowed, st.Blocked, st.Uptime)
	return err
}
