package cli

import (
	"fmt"

	"github.com/love2wisdom/kim-team-leader/internal/review"
	"github.com/spf13/cobra"
)

func newResultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "result",
		Short: "Inspect and review task results",
	}
	cmd.AddCommand(newResultListCmd())
	cmd.AddCommand(newResultShowCmd())
	cmd.AddCommand(newResultReviewCmd())
	return cmd
}

func newResultListCmd() *cobra.Command {
	var (
		team   string
		taskID int64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List results in a team (optionally for one task)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" {
				return fmt.Errorf("--team is required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			results, err := st.ListResults(cmd.Context(), team, taskID)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No results.")
				return nil
			}
			for _, r := range results {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s  task=%d  %s [%s]\n", r.ResultID, r.TaskID, r.Title, r.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().Int64Var(&taskID, "task", 0, "Only results of this task")
	return cmd
}

func newResultShowCmd() *cobra.Command {
	var (
		team     string
		resultID string
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a result's content",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" || resultID == "" {
				return fmt.Errorf("--team and --id are required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			r, err := st.GetResult(cmd.Context(), team, resultID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (task %d, %s)\n\n%s\n", r.Title, r.TaskID, r.Status, r.Content)
			if r.Feedback != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nFeedback: %s\n", *r.Feedback)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().StringVar(&resultID, "id", "", "Result ID")
	return cmd
}

func newResultReviewCmd() *cobra.Command {
	var (
		team     string
		resultID string
		status   string
		feedback string
	)
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review a result (approve, reject, or request revision)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" || resultID == "" || status == "" {
				return fmt.Errorf("--team, --id, and --status are required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var fb *string
			if cmd.Flags().Changed("feedback") {
				fb = &feedback
			}
			svc := &review.Service{Store: st}
			r, err := svc.Review(cmd.Context(), team, resultID, "", status, fb)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Result %s is now %s\n", r.ResultID, r.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().StringVar(&resultID, "id", "", "Result ID")
	cmd.Flags().StringVar(&status, "status", "", "Review status: approved, rejected, or revision_requested")
	cmd.Flags().StringVar(&feedback, "feedback", "", "Reviewer feedback (empty clears existing feedback)")
	return cmd
}
