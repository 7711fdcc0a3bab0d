package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/leash/internal/audit"
)

var (
	auditAction string
	auditAgent  string
	auditSince  string
	auditFormat string
	tailLines   int
	tailFollow  bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action (allowed|blocked|error|killed)")
	auditCmd.Flags().StringVar(&auditAgent, "agent", "", "Filter by agent name")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "Only events since an RFC 3339 time or a duration ago (e.g. 1h)")
	auditCmd.Flags().StringVarP(&auditFormat, "format", "f", "text", "Output format (text|json)")
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "Keep printing entries as they are appended")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit log",
	Long:  "Prints audit events as a timeline, optionally filtered.\nSubcommands verify the hash chain and tail the log.",
	RunE:  runAudit,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long: "Walks the JSONL audit log and validates that every entry's prev_hash\n" +
		"matches the SHA-256 of the previous valid entry. Partial lines are\n" +
		"skipped. Exits 0 if valid, 1 if tampered.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Long:  "Prints the last N entries from the JSONL audit log. With --follow,\nkeeps printing new entries as they are written.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return auditPath
}

func runAudit(cmd *cobra.Command, args []string) error {
	filter, err := auditFilter(auditAction, auditAgent, auditSince, time.Now())
	if err != nil {
		return err
	}

	events, err := readAudit(auditPath, filter)
	if err != nil {
		return err
	}

	switch auditFormat {
	case "json":
		out, err := audit.FormatJSON(events)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(audit.FormatTimeline(events))
	}
	return nil
}

// auditFilter builds a query filter from flag values, rejecting unknown
// actions and malformed --since values.
func auditFilter(action, agent, since string, now time.Time) (audit.Filter, error) {
	a, err := audit.ParseAction(action)
	if err != nil {
		return audit.Filter{}, err
	}
	t, err := audit.ParseSince(since, now)
	if err != nil {
		return audit.Filter{}, err
	}
	return audit.Filter{Action: a, Agent: agent, Since: t}, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path := pathArg(args)
	if audit.IsSQLitePath(path) {
		return fmt.Errorf("hash chain verification applies to JSONL logs only")
	}

	result := audit.Verify(path)
	if result.Valid {
		if result.Skipped > 0 {
			fmt.Printf("OK: %d entries verified (%d partial lines skipped)\n", result.Lines, result.Skipped)
		} else {
			fmt.Printf("OK: %d entries verified\n", result.Lines)
		}
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path := pathArg(args)
	if tailLines < 0 {
		return fmt.Errorf("--lines must be non-negative, got %d", tailLines)
	}

	events, err := readAudit(path, audit.Filter{})
	if err != nil {
		return err
	}
	for _, e := range lastEvents(events, tailLines) {
		printEvent(e)
	}

	if !tailFollow {
		return nil
	}
	if audit.IsSQLitePath(path) {
		return fmt.Errorf("--follow applies to JSONL logs only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return audit.Follow(ctx, path, printEvent)
}

// lastEvents returns the final n events. n must not be negative.
func lastEvents(events []audit.Event, n int) []audit.Event {
	if n >= len(events) {
		return events
	}
	return events[len(events)-n:]
}

func printEvent(e audit.Event) {
	out, _ := json.MarshalIndent(e, "", "  ")
	fmt.Println(string(out))
}
