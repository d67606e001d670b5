package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	var (
		sessionID string
		all       bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete stored session data",
		Long:  `Removes the frontier, filter patterns and access results of one session, or of every session with --all.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" && !all {
				return errors.New("either --session or --all is required")
			}
			if sessionID != "" && all {
				return errors.New("--session and --all are mutually exclusive")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Reset(cmd.Context(), sessionID); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			target := sessionID
			if all {
				target = "all sessions"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID to delete")
	cmd.Flags().BoolVar(&all, "all", false, "delete every session")
	return cmd
}
