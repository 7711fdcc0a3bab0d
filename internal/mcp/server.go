package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/leash/internal/audit"
	"github.com/ppiankov/leash/internal/policy"
	"github.com/ppiankov/leash/internal/session"
)

// Config holds MCP server configuration.
type Config struct {
	Controller *session.Controller
	Policy     *policy.Policy
	Store      audit.Store
	Version    string

	// OnSession, if set, receives the executor session ID after every
	// task and kill ("" once the session is gone). Calls may be concurrent.
	OnSession func(id string)
}

// Server exposes a governed session as MCP tools.
type Server struct {
	mcpServer *mcpsdk.Server
	ctl       *session.Controller
	policy    *policy.Policy
	store     audit.Store
	onSession func(string)
}

// New creates an MCP server around an existing governed session.
func New(cfg Config) (*Server, error) {
	if cfg.Controller == nil || cfg.Policy == nil || cfg.Store == nil {
		return nil, errors.New("mcp: controller, policy and store are required")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		ctl:       cfg.Controller,
		policy:    cfg.Policy,
		store:     cfg.Store,
		onSession: cfg.OnSession,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "leash",
			Version: version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled
// or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all leash tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "leash_task",
		Description: "Submit a natural-language task to the governed agent session. Blocked tasks return an error result with the reason.",
	}, s.handleTask)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "leash_check",
		Description: "Check whether a task would be allowed by the session policy without running it (dry-run).",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "leash_status",
		Description: "Show whether the session is active, its uptime and allowed/blocked counts.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "leash_kill",
		Description: "Terminate the governed session. No further tasks will run.",
	}, s.handleKill)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "leash_audit",
		Description: "Query the audit log, optionally filtered by action, agent or time.",
	}, s.handleAudit)
}
