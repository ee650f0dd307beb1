package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates the 'run' subcommand, which executes exactly one
// pipeline run and prints the response.
func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the pipeline once",
		Long: `Fetches the rounds page, transforms it and loads the configured sink,
then prints the response as JSON. Exits non-zero when the run fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := loadApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			resp := a.Pipeline().Invoke(cmd.Context())

			if err := a.PushMetrics(cmd.Context()); err != nil {
				a.Logger().Warn("metrics push failed", zap.Error(err))
			}

			out, err := json.Marshal(resp)
			if err != nil {
				return fmt.Errorf("encode response: %w", err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(out)); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("run failed with status %d: %s", resp.StatusCode, resp.Body)
			}
			return nil
		},
	}
}
