package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/leash/internal/executor"
)

// Executor backends selectable with --backend.
const (
	backendBrowser = "browser"
	backendGRPC    = "grpc"
)

var (
	backendName     string
	backendEndpoint string
	backendAPIKey   string
)

// addBackendFlags registers executor selection flags on cmd.
func addBackendFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&backendName, "backend", envOr("LEASH_BACKEND", backendBrowser), "Executor backend (browser|grpc)")
	cmd.Flags().StringVar(&backendEndpoint, "endpoint", os.Getenv("LEASH_ENDPOINT"), "Executor endpoint (browser API base URL or gRPC address)")
	cmd.Flags().StringVar(&backendAPIKey, "api-key", "", "Browser API key (default $LEASH_API_KEY or $ANCHOR_API_KEY)")
}

// apiKey returns flagValue, falling back to the environment.
func apiKey(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if k := os.Getenv("LEASH_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("ANCHOR_API_KEY")
}

// newExecutor builds the configured executor, attached to sessionID when
// it is non-empty. The returned close func releases transport resources.
func newExecutor(sessionID string) (executor.Executor, func() error, error) {
	switch backendName {
	case backendBrowser, "":
		b, err := executor.NewBrowser(executor.BrowserConfig{
			BaseURL:   backendEndpoint,
			APIKey:    apiKey(backendAPIKey),
			SessionID: sessionID,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, func() error { return nil }, nil

	case backendGRPC:
		if backendEndpoint == "" {
			return nil, nil, fmt.Errorf("--endpoint is required for the %s backend", backendGRPC)
		}
		g, err := executor.DialGRPC(backendEndpoint)
		if err != nil {
			return nil, nil, err
		}
		g.Attach(sessionID)
		return g, g.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want %s or %s)", backendName, backendBrowser, backendGRPC)
	}
}
