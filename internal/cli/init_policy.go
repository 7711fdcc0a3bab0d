package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/leash/internal/policy"
)

var initForce bool

func init() {
	rootCmd.AddCommand(initPolicyCmd)
	initPolicyCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy [path]",
	Short: "Generate a starter policy with comments",
	Long:  "Writes a commented starter policy (default ./leash.yaml).\nEdit the allow and deny rules for your agent.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	path := "leash.yaml"
	if len(args) > 0 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(policy.DefaultPolicyYAML()), 0644); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	return nil
}
