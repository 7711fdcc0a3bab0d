package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/ppiankov/leash/internal/executor"
)

var (
	servePort     int
	serveEndpoint string
	serveAPIKey   string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 50051, "gRPC listen port")
	serveCmd.Flags().StringVar(&serveEndpoint, "browser-url", executor.DefaultBrowserURL, "Browser API base URL")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "Browser API key (default $LEASH_API_KEY or $ANCHOR_API_KEY)")
}

var serveCmd = &cobra.Command{
	Use:   "serve-executor",
	Short: "Serve the browser executor over gRPC",
	Long: "Runs the cloud browser executor behind the leash executor gRPC service,\n" +
		"so governed sessions on other hosts can use '--backend grpc' without\n" +
		"holding the browser API key.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	backend, err := executor.NewBrowserBackend(executor.BrowserConfig{BaseURL: serveEndpoint, APIKey: apiKey(serveAPIKey)})
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", servePort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", servePort, err)
	}

	srv := grpc.NewServer()
	executor.RegisterBackend(srv, backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down executor server...")
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "leash executor server listening on :%d\n", servePort)
	return srv.Serve(lis)
}
