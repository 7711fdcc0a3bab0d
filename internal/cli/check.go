package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/leash/internal/policy"
)

// exitBlocked is returned by check when the task would be blocked.
const exitBlocked = 77

var (
	checkPolicy string
	checkFormat string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkPolicy, "policy", "", "Path to policy YAML (required)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.MarkFlagRequired("policy")
}

var checkCmd = &cobra.Command{
	Use:   "check <task>",
	Short: "Dry-run a task against a policy",
	Long: "Evaluates a task against the policy without running it or writing\n" +
		"to the audit log. Exit code 0 if allowed, 77 if blocked.",
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	p, err := policy.Load(checkPolicy)
	if err != nil {
		return err
	}
	if _, err := p.Validate(); err != nil {
		return err
	}

	allowed, err := checkTask(os.Stdout, p, strings.Join(args, " "), checkFormat)
	if err != nil {
		return err
	}
	if !allowed {
		os.Exit(exitBlocked)
	}
	return nil
}

// checkTask evaluates task and writes the decision to w.
func checkTask(w io.Writer, p *policy.Policy, task, format string) (bool, error) {
	d := policy.Evaluate(task, p)

	switch format {
	case "json":
		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return false, err
		}
		fmt.Fprintln(w, string(out))
	default:
		if d.Allowed {
			fmt.Fprintln(w, "ALLOWED")
		} else {
			fmt.Fprintf(w, "BLOCKED: %s\n", d.Reason)
		}
	}
	return d.Allowed, nil
}
