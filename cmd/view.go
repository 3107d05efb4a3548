package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/virtcam/virtcamd/internal/logging"
	"github.com/virtcam/virtcamd/internal/viewer"
)

// CreateViewCmd creates the view command.
func CreateViewCmd() *cobra.Command {
	var serverURL string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Watch a running camera from the terminal",
		Long: `Attaches to a camera server over websocket, fetches the frames it ` +
			`announces, and prints a live status line with the frame rate, the ` +
			`camera mode, and shutter notices.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			loggingConfig := logging.Config{
				Level:  "warn",
				Format: "text",
			}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("viewer")

			consumer, err := viewer.New(viewer.Options{
				ServerURL: serverURL,
				Display:   viewer.NewTerminalDisplay(os.Stdout),
				Logger:    logger,
			})
			if err != nil {
				logger.Error("Viewer setup failed", "error", err)
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Viewer stopped", "error", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8889", "Camera server base URL")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")

	return cmd
}
