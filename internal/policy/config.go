package policy

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/leash/internal/alert"
	"github.com/ppiankov/leash/internal/model"
)

// DefaultAgent is the agent name used when a policy does not set one.
const DefaultAgent = "leash-agent"

// Policy is the governance configuration for one session.
// It must not be modified after a session has been created from it.
type Policy struct {
	Agent      string
	Allow      []string
	Deny       []string
	Default    model.Verdict // empty means deny
	Expire     string        // "60min", "8h", "30d"; empty means no TTL
	MaxActions *int          // nil means unlimited
	Domains    []string
	Alerts     []alert.AlertConfig
}

// AgentName returns the configured agent name or DefaultAgent.
func (p *Policy) AgentName() string {
	if p.Agent == "" {
		return DefaultAgent
	}
	return p.Agent
}

// DefaultVerdict returns the fallthrough verdict. Fail-closed: unset → Deny.
func (p *Policy) DefaultVerdict() model.Verdict {
	if p.Default == model.Allow {
		return model.Allow
	}
	return model.Deny
}

// ConfigError reports a policy that cannot be used to start a session.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid policy %s %q: %s", e.Field, e.Value, e.Reason)
}

// Validate checks the policy and returns the parsed TTL (zero when no
// expiry is configured). Nothing is defaulted silently.
func (p *Policy) Validate() (time.Duration, error) {
	if _, ok := model.ParseVerdict(string(p.Default)); !ok {
		return 0, &ConfigError{Field: "default", Value: string(p.Default), Reason: `must be "allow" or "deny"`}
	}
	if p.MaxActions != nil && *p.MaxActions < 0 {
		return 0, &ConfigError{
			Field:  "max_actions",
			Value:  strconv.Itoa(*p.MaxActions),
			Reason: "must be a non-negative number",
		}
	}
	for i, a := range p.Alerts {
		if err := a.Validate(); err != nil {
			return 0, &ConfigError{Field: fmt.Sprintf("alerts[%d]", i), Value: a.URL, Reason: err.Error()}
		}
	}
	if p.Expire == "" {
		return 0, nil
	}
	return ParseDuration(p.Expire)
}

var durationRe = regexp.MustCompile(`^(\d+)(min|h|d)$`)

// ParseDuration parses policy durations of the form <n>min, <n>h or <n>d.
// The result must be positive.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, &ConfigError{Field: "expire_after", Value: s, Reason: "expected <n>min, <n>h or <n>d"}
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &ConfigError{Field: "expire_after", Value: s, Reason: "number out of range"}
	}
	if n <= 0 {
		return 0, &ConfigError{Field: "expire_after", Value: s, Reason: "must be a positive duration"}
	}

	var unit time.Duration
	switch m[2] {
	case "min":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, &ConfigError{Field: "expire_after", Value: s, Reason: "number out of range"}
	}
	return time.Duration(n) * unit, nil
}

// filePolicy is the on-disk YAML shape. Patterns are decoded as nodes so
// that YAML-coerced scalars (yes, 42, null) can be rejected explicitly.
type filePolicy struct {
	Agent string `yaml:"agent"`
	Rules struct {
		Allow []yaml.Node `yaml:"allow"`
		Deny  []yaml.Node `yaml:"deny"`
	} `yaml:"rules"`
	Default     string              `yaml:"default"`
	ExpireAfter string              `yaml:"expire_after"`
	MaxActions  *int                `yaml:"max_actions"`
	Domains     []string            `yaml:"domains"`
	Alerts      []alert.AlertConfig `yaml:"alerts"`
}

// Load reads a policy YAML file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return Parse(data)
}

// Parse decodes a policy YAML document. The result is not validated;
// call Validate (session construction does).
func Parse(data []byte) (*Policy, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, &ConfigError{Field: "document", Value: "", Reason: "expected a mapping"}
	}

	var fp filePolicy
	if err := doc.Content[0].Decode(&fp); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	allow, err := stringPatterns(fp.Rules.Allow, "allow")
	if err != nil {
		return nil, err
	}
	deny, err := stringPatterns(fp.Rules.Deny, "deny")
	if err != nil {
		return nil, err
	}

	return &Policy{
		Agent:      fp.Agent,
		Allow:      allow,
		Deny:       deny,
		Default:    model.Verdict(fp.Default),
		Expire:     fp.ExpireAfter,
		MaxActions: fp.MaxActions,
		Domains:    fp.Domains,
		Alerts:     fp.Alerts,
	}, nil
}

func stringPatterns(nodes []yaml.Node, label string) ([]string, error) {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!str" {
			return nil, &ConfigError{
				Field:  label,
				Value:  n.Value,
				Reason: fmt.Sprintf("pattern must be a string, got %s", n.ShortTag()),
			}
		}
		out = append(out, n.Value)
	}
	return out, nil
}

// DefaultPolicyYAML returns a commented starter policy for init-policy.
func DefaultPolicyYAML() string {
	return `# leash policy
# Generated by: leash init-policy
#
# Evaluation order (cannot be changed):
#   1. Invisible Unicode is stripped from the task
#   2. Deny rules, in order -> blocked
#   3. Allow rules, in order -> allowed
#   4. default
#
# Patterns are case-insensitive globs; * matches any run of characters.

agent: inbox-agent

rules:
  allow:
    - "read*"
    - "summarize*"
    - "search*"
  deny:
    - "*send*"
    - "*delete*"
    - "*export*"
    - "*password*"

# allow | deny (default: deny)
default: deny

# Session TTL: <n>min, <n>h or <n>d
expire_after: 60min

# Maximum number of allowed tasks per session
max_actions: 50

# Informational, copied into audit records
domains:
  - mail.example.com

# Webhook alerts. events: blocked, error, killed, flagged
# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack
#     events: [flagged, killed]
`
}
