package mcp

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/leash/internal/audit"
	"github.com/ppiankov/leash/internal/model"
	"github.com/ppiankov/leash/internal/policy"
)

// --- Input/Output types ---

// TaskInput defines parameters for the leash_task tool.
type TaskInput struct {
	Task string `json:"task" jsonschema:"natural-language task for the agent"`
}

// TaskOutput contains the task result or block details.
type TaskOutput struct {
	Allowed bool               `json:"allowed"`
	Output  string             `json:"output,omitempty"`
	Reason  string             `json:"reason,omitempty"`
	AuditID string             `json:"audit_id"`
	Flags   []model.OutputFlag `json:"flags,omitempty"`
}

// CheckInput defines parameters for the leash_check tool.
type CheckInput struct {
	Task string `json:"task" jsonschema:"task to evaluate against the policy"`
}

// CheckOutput contains the policy decision.
type CheckOutput struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// StatusInput is empty: no parameters needed.
type StatusInput struct{}

// KillInput is empty: no parameters needed.
type KillInput struct{}

// KillOutput confirms termination.
type KillOutput struct {
	Active bool   `json:"active"`
	Agent  string `json:"agent"`
}

// AuditInput defines filters for the leash_audit tool.
type AuditInput struct {
	Action string `json:"action,omitempty" jsonschema:"allowed, blocked, error or killed"`
	Agent  string `json:"agent,omitempty" jsonschema:"agent name"`
	Since  string `json:"since,omitempty" jsonschema:"RFC 3339 time or duration such as 1h"`
}

// AuditOutput lists matching audit events.
type AuditOutput struct {
	Events  []audit.Event `json:"events"`
	Summary audit.Summary `json:"summary"`
}

// --- Handlers ---

func (s *Server) handleTask(ctx context.Context, req *mcpsdk.CallToolRequest, input TaskInput) (*mcpsdk.CallToolResult, TaskOutput, error) {
	res, err := s.ctl.Task(ctx, input.Task)
	s.reportSession()
	if err != nil {
		return nil, TaskOutput{}, err
	}

	out := TaskOutput{
		Allowed: res.Allowed,
		Output:  res.Output,
		Reason:  res.Reason,
		AuditID: res.AuditID,
		Flags:   res.Flags,
	}
	if !res.Allowed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	d := policy.Evaluate(input.Task, s.policy)
	return nil, CheckOutput{Allowed: d.Allowed, Reason: d.Reason}, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, model.Status, error) {
	return nil, s.ctl.Status(), nil
}

func (s *Server) handleKill(ctx context.Context, req *mcpsdk.CallToolRequest, input KillInput) (*mcpsdk.CallToolResult, KillOutput, error) {
	err := s.ctl.Terminate(ctx)
	s.reportSession()
	if err != nil {
		return nil, KillOutput{}, err
	}
	st := s.ctl.Status()
	return nil, KillOutput{Active: st.Active, Agent: st.Agent}, nil
}

func (s *Server) handleAudit(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditInput) (*mcpsdk.CallToolResult, AuditOutput, error) {
	action, err := audit.ParseAction(input.Action)
	if err != nil {
		return nil, AuditOutput{}, err
	}
	filter := audit.Filter{Action: action, Agent: input.Agent}

	since, err := audit.ParseSince(input.Since, time.Now())
	if err != nil {
		return nil, AuditOutput{}, err
	}
	filter.Since = since

	events, err := s.store.Query(filter)
	if err != nil {
		return nil, AuditOutput{}, err
	}
	if events == nil {
		events = []audit.Event{}
	}
	return nil, AuditOutput{Events: events, Summary: audit.Summarize(events)}, nil
}

func (s *Server) reportSession() {
	if s.onSession != nil {
		s.onSession(s.ctl.Status().ExecutorSessionID)
	}
}
