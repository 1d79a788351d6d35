package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates the 'run' subcommand: a one-shot pipeline execution for
// a single track and date, printing the reconciled result as JSON.
func newRunCmd() *cobra.Command {
	var (
		trackID string
		dateKey string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a single pipeline run and print the result",
		Long: `Acquires the race card, per-horse profiles, and SmartPick data for
one track and date, reconciles them, and writes the merged result to stdout.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger

			if dateKey == "" {
				dateKey = appInstance.Clock.Now().Format("2006-01-02")
			}

			session, err := appInstance.Orchestrator.CreateRun(cmd.Context(), trackID, dateKey)
			if err != nil {
				return fmt.Errorf("create run: %w", err)
			}
			logger.Info("run created",
				zap.String("run_id", session.ID),
				zap.String("track_id", session.TrackID),
				zap.String("date_key", session.DateKey),
			)

			result, err := appInstance.Orchestrator.Execute(cmd.Context(), session.ID)
			if err != nil {
				return fmt.Errorf("execute run: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&trackID, "track", "", "track identifier, e.g. DMR")
	cmd.Flags().StringVar(&dateKey, "date", "", "race date as YYYY-MM-DD (default today)")
	_ = cmd.MarkFlagRequired("track")

	return cmd
}
