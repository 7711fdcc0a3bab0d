package model

// Verdict is the outcome a policy rule set produces for a task.
type Verdict string

const (
	Allow Verdict = "allow"
	Deny  Verdict = "deny"
)

// ParseVerdict maps a policy string to a Verdict. Empty means Deny.
// Returns false for anything other than "allow", "deny" or "".
func ParseVerdict(s string) (Verdict, bool) {
	switch s {
	case "", string(Deny):
		return Deny, true
	case string(Allow):
		return Allow, true
	default:
		return "", false
	}
}

// Decision is the result of evaluating one task against a policy.
// Reason is set iff Allowed is false.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// OutputFlag marks a deny keyword found in executor output.
type OutputFlag struct {
	Pattern string `json:"pattern"`
	Keyword string `json:"keyword"`
	Snippet string `json:"snippet"`
}

// Result is returned to the caller for every submitted task.
// Output is set only when the task was allowed and the executor succeeded.
type Result struct {
	Allowed bool         `json:"allowed"`
	Output  string       `json:"output,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	AuditID string       `json:"audit_id"`
	Flags   []OutputFlag `json:"flags,omitempty"`
}

// SessionState is the lifecycle state of a governed session.
// Active moves to Terminated exactly once and never back.
type SessionState int

const (
	Active SessionState = iota
	Terminated
)

func (s SessionState) String() string {
	if s == Terminated {
		return "terminated"
	}
	return "active"
}

// Status is a read-only snapshot of a governed session.
type Status struct {
	Active            bool   `json:"active"`
	Agent             string `json:"agent"`
	Uptime            string `json:"uptime"`
	Allowed           int    `json:"allowed"`
	Blocked           int    `json:"blocked"`
	ExecutorSessionID string `json:"executor_session_id,omitempty"`
}
