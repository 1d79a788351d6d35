package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/api"
)

// newServeCmd creates the 'serve' subcommand: the long-running HTTP service
// accepting run submissions and serving status and result polling.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline HTTP service",
		Long: `Starts the HTTP server. Runs are submitted with POST /v1/runs and
observed through the /v1/runs/{id}/status and /v1/runs/{id}/result endpoints.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger

			apiServer := api.NewServer(
				appInstance.Launcher,
				appInstance.Store,
				appInstance.Clock,
				logger.Named("api"),
			)

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", appInstance.Config.Server.Port),
				Handler:           apiServer.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				logger.Info("dispatcher started")
				appInstance.Dispatcher.Run(cmd.Context())
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.Int("port", appInstance.Config.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			case <-cmd.Context().Done():
			}

			logger.Info("shutdown initiated")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	return cmd
}
