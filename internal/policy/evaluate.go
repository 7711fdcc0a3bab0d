package policy

import (
	"github.com/ppiankov/leash/internal/model"
)

// Reason strings produced by Evaluate.
const (
	reasonDenyPattern = "blocked by deny pattern: "
	reasonDefaultDeny = "no matching allow rule (default: deny)"
)

// ruleSet is one phase of evaluation: a verdict and the patterns that yield it.
type ruleSet struct {
	verdict  model.Verdict
	patterns []string
}

// Evaluate decides whether a task may be submitted under the given policy.
//
// Evaluation order (must not be changed):
//  1. Sanitize the task (strip invisible Unicode)
//  2. Deny patterns, declared order, first match wins
//  3. Allow patterns, declared order, first match wins
//  4. Default action
//
// Evaluate is pure: no session, clock or I/O is involved.
func Evaluate(task string, p *Policy) model.Decision {
	clean := Sanitize(task)

	phases := []ruleSet{
		{verdict: model.Deny, patterns: p.Deny},
		{verdict: model.Allow, patterns: p.Allow},
	}
	for _, phase := range phases {
		for _, pattern := range phase.patterns {
			if !Match(clean, pattern) {
				continue
			}
			if phase.verdict == model.Deny {
				return model.Decision{Allowed: false, Reason: reasonDenyPattern + pattern}
			}
			return model.Decision{Allowed: true}
		}
	}

	if p.DefaultVerdict() == model.Allow {
		return model.Decision{Allowed: true}
	}
	return model.Decision{Allowed: false, Reason: reasonDefaultDeny}
}
