package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type crawlOutput struct {
	SessionID  string  `json:"session_id"`
	Outcome    string  `json:"outcome"`
	Processed  int64   `json:"processed"`
	Results    int64   `json:"results"`
	DurationMS float64 `json:"duration_ms"`
}

func newCrawlCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Run one crawl session",
		Long: `Runs a session from the given seed URLs, or from crawler.seeds when none are
given, and prints a JSON summary once the frontier is exhausted, the access
budget is spent or the process is interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := appInstance.Crawl(ctx, args, sessionID)
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(crawlOutput{
				SessionID:  summary.SessionID,
				Outcome:    summary.Outcome,
				Processed:  summary.Processed,
				Results:    summary.Results,
				DurationMS: float64(summary.Duration.Microseconds()) / 1000,
			}); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "reuse this session ID instead of generating one")
	return cmd
}
