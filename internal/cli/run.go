package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/leash/internal/audit"
	"github.com/ppiankov/leash/internal/policy"
	"github.com/ppiankov/leash/internal/session"
)

var runPolicy string

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runPolicy, "policy", "", "Path to policy YAML (required)")
	runCmd.MarkFlagRequired("policy")
	addBackendFlags(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a governed session fed from stdin",
	Long: "Reads one task per line from stdin and submits each to a governed\n" +
		"session. Results are printed as JSON lines. The session is terminated\n" +
		"on EOF, SIGINT or SIGTERM.",
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := policy.Load(runPolicy)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "leash: session started for %s (audit: %s)\n", p.AgentName(), auditPath)
	var rec sessionRecorder
	runErr := runTasks(ctx, ctl, os.Stdin, os.Stdout, rec.observe)

	if err := ctl.Terminate(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	flushAlerts(ctl)
	if err := removeSessionFile(); err != nil {
		slog.Warn("session file not removed", "error", err)
	}

	st := ctl.Status()
	fmt.Fprintf(os.Stderr, "leash: session ended: %d allowed, %d blocked, uptime %s\n", st.Allowed, st.Blocked, st.Uptime)
	return runErr
}

// runTasks submits each non-blank line of r to ctl and writes one JSON
// result per line to w. onSession is called whenever the executor session
// ID changes. Returns on EOF, context cancellation or audit failure.
func runTasks(ctx context.Context, ctl *session.Controller, r io.Reader, w io.Writer, onSession func(string)) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	enc := json.NewEncoder(w)
	lastSession := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read tasks: %w", err)
					}
				default:
				}
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}

			res, err := ctl.Task(ctx, line)
			if encErr := enc.Encode(res); encErr != nil {
				return fmt.Errorf("write result: %w", encErr)
			}
			if err != nil {
				return err
			}

			if id := ctl.Status().ExecutorSessionID; id != "" && id != lastSession {
				lastSession = id
				if onSession != nil {
					onSession(id)
				}
			}
		}
	}
}
