package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/leash/internal/audit"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session stats from the audit log",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	events, err := readAudit(auditPath, audit.Filter{})
	if err != nil {
		return err
	}
	sessionID, err := readSessionFile()
	if err != nil {
		return err
	}
	printStatus(os.Stdout, events, sessionID)
	return nil
}

func printStatus(w io.Writer, events []audit.Event, sessionID string) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No audit events found.")
		return
	}

	s := audit.Summarize(events)
	state := "active"
	if s.KilledCount > 0 {
		state = "killed"
	}

	fmt.Fprintf(w, "Agent:   %s\n", events[0].Agent)
	fmt.Fprintf(w, "Status:  %s\n", state)
	if sessionID != "" {
		fmt.Fprintf(w, "Session: %s\n", sessionID)
	}
	fmt.Fprintf(w, "Allowed: %d\n", s.AllowedCount)
	fmt.Fprintf(w, "Blocked: %d\n", s.BlockedCount)
	fmt.Fprintf(w, "Errors:  %d\n", s.ErrorCount)
	fmt.Fprintf(w, "Flagged: %d\n", s.FlaggedCount)
	fmt.Fprintf(w, "Total:   %d\n", s.Total)
}

// readAudit reads events without creating the audit file.
func readAudit(path string, filter audit.Filter) ([]audit.Event, error) {
	if !audit.IsSQLitePath(path) {
		return audit.ReadFile(path, filter)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	store, err := audit.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Query(filter)
}
