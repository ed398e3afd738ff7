package cli

import (
	"fmt"

	"github.com/love2wisdom/kim-team-leader/internal/config"
	"github.com/love2wisdom/kim-team-leader/internal/executor"
	"github.com/love2wisdom/kim-team-leader/internal/genai"
	"github.com/love2wisdom/kim-team-leader/internal/notify"
	"github.com/love2wisdom/kim-team-leader/internal/store"
	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage and execute tasks",
	}
	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskExecuteCmd())
	cmd.AddCommand(newTaskStatusCmd())
	cmd.AddCommand(newTaskHistoryCmd())
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var (
		team        string
		title       string
		description string
		instruction string
		priority    string
		workflow    string
		agents      []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task with ordered agent assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" || title == "" {
				return fmt.Errorf("--team and --title are required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			params := store.CreateTaskParams{
				Creator:      "user",
				Title:        title,
				Priority:     priority,
				WorkflowType: workflow,
				AgentIDs:     agents,
			}
			if description != "" {
				params.Description = &description
			}
			if instruction != "" {
				params.Instruction = &instruction
			}
			id, err := st.CreateTask(cmd.Context(), team, params)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %d in %q\n", id, team)
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&description, "description", "", "Task description")
	cmd.Flags().StringVar(&instruction, "instruction", "", "Extra instruction for the agents")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority: low, medium, high, or urgent")
	cmd.Flags().StringVar(&workflow, "workflow", "", "Workflow: single, sequential, parallel, or collaborative")
	cmd.Flags().StringSliceVar(&agents, "agents", nil, "Agent IDs in assignment order (first is primary)")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		team   string
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" {
				return fmt.Errorf("--team is required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			tasks, err := st.ListTasks(cmd.Context(), team, store.TaskFilter{Status: status})
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}
			for _, t := range tasks {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- #%d %s [%s, %s, agents=%d results=%d]\n",
					t.TaskID, t.Title, t.Status, t.WorkflowType, len(t.Assignments), t.ResultCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	return cmd
}

func newTaskExecuteCmd() *cobra.Command {
	var (
		team   string
		taskID int64
	)
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a task with its assigned agents and store the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" || taskID <= 0 {
				return fmt.Errorf("--team and --id are required")
			}
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			settings, err := config.LoadSettings(home)
			if err != nil {
				return err
			}
			reg := notify.NewRegistry()
			if settings.Slack.WebhookURL != "" {
				reg.Register(notify.SlackWebhook{WebhookURL: settings.Slack.WebhookURL, Username: "teamleader"})
			}
			runner := &executor.Runner{
				Store:  st,
				Client: genai.NewGemini(settings.Generation.APIKey, settings.Generation.Model, settings.Generation.BaseURL),
				Notify: reg,
			}
			result, err := runner.Execute(ctx, team, taskID, "")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d completed; result %s awaiting review.\n\n%s\n", taskID, result.ResultID, result.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	return cmd
}

func newTaskStatusCmd() *cobra.Command {
	var (
		team   string
		taskID int64
		status string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Set task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" || taskID <= 0 || status == "" {
				return fmt.Errorf("--team, --id, and --status are required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.UpdateTask(cmd.Context(), team, taskID, store.UpdateTaskParams{Status: &status}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d status set to %q\n", taskID, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&status, "status", "", "New status (pending, in_progress, awaiting_review, completed, failed, cancelled)")
	return cmd
}

func newTaskHistoryCmd() *cobra.Command {
	var (
		team   string
		taskID int64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a task's history, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" || taskID <= 0 {
				return fmt.Errorf("--team and --id are required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			entries, err := st.ListTaskHistory(cmd.Context(), taskID, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No history.")
				return nil
			}
			for _, h := range entries {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s  %s: %s\n", h.CreatedAt.Format("2006-01-02 15:04:05"), h.Action, h.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max entries (0 = default)")
	return cmd
}
