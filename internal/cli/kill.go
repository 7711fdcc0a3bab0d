package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(killCmd)
	addBackendFlags(killCmd)
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Kill the active session out of band",
	Long: "Reads the executor session ID recorded by a running 'leash run' and\n" +
		"terminates it at the executor. A session that already expired is not\n" +
		"an error.",
	RunE: runKill,
}

func runKill(cmd *cobra.Command, args []string) error {
	id, err := readSessionFile()
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Println("No active session found.")
		return nil
	}

	exec, closeExec, err := newExecutor(id)
	if err != nil {
		return err
	}
	defer closeExec()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := exec.Kill(ctx); err != nil {
		return fmt.Errorf("kill session %s: %w", id, err)
	}
	fmt.Printf("Session %s killed.\n", id)
	return removeSessionFile()
}
