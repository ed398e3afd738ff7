package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/love2wisdom/kim-team-leader/internal/genai"
	"github.com/love2wisdom/kim-team-leader/internal/otel"
	"github.com/love2wisdom/kim-team-leader/internal/store"
	"github.com/love2wisdom/kim-team-leader/pkg/models"
)

var (
	// ErrAccessDenied means the requester is neither owner nor member of the team.
	ErrAccessDenied = errors.New("access denied")
	// ErrNoAssignments means the task has no assigned agents.
	ErrNoAssignments = errors.New("task has no assigned agents")
	// ErrNotPending means the task is already running or finished.
	ErrNotPending = errors.New("task is not pending")
)

// Publisher pushes live events to connected clients (the SSE hub).
type Publisher interface {
	PublishJSON(v any)
}

// Notifier announces noteworthy events to an external channel, best-effort.
type Notifier interface {
	Announce(ctx context.Context, text string)
}

// Runner drives the full task execution lifecycle: status transitions,
// history entries, the workflow strategies, and result persistence.
type Runner struct {
	Store  store.Store
	Client genai.Client
	Events Publisher // optional
	Notify Notifier  // optional
}

// Execute runs the task and returns the persisted result. On strategy failure
// the task reverts to pending so it can be retried.
func (r *Runner) Execute(ctx context.Context, teamName string, taskID int64, requester string) (*store.Result, error) {
	if requester != "" {
		ok, err := r.Store.UserHasAccess(ctx, teamName, requester)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrAccessDenied
		}
	}

	task, err := r.Store.GetTaskExecution(ctx, teamName, taskID)
	if err != nil {
		return nil, err
	}
	if len(task.Agents) == 0 {
		return nil, ErrNoAssignments
	}

	started := time.Now()
	ok, err := r.Store.BeginTaskExecution(ctx, taskID, started)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrNotPending)
	}

	who := requester
	if who == "" {
		who = "user"
	}
	agentNames := make([]string, len(task.Agents))
	agentIDs := make([]string, len(task.Agents))
	for i, aa := range task.Agents {
		agentNames[i] = aa.Agent.Name
		agentIDs[i] = aa.Agent.AgentID
	}
	if _, err := r.Store.AppendHistory(ctx, taskID, "started", who+" started the task.", map[string]any{
		"workflow_type":   task.WorkflowType,
		"assigned_agents": agentNames,
	}); err != nil {
		slog.Warn("append started history failed", "task_id", taskID, "err", err)
	}
	r.publish(map[string]any{"type": "task_update", "team": teamName, "task_id": taskID, "status": models.StatusInProgress})

	exec := &Executor{Client: r.Client, TeamName: teamName}
	content, err := exec.Run(ctx, task)
	if err != nil {
		// Revert even when ctx was canceled mid-run.
		revertCtx := context.WithoutCancel(ctx)
		if rerr := r.Store.RevertTask(revertCtx, taskID); rerr != nil {
			slog.Error("revert task failed", "task_id", taskID, "err", rerr)
		}
		otel.RecordTaskExecution(ctx, teamName, task.WorkflowType, "failure", time.Since(started))
		r.publish(map[string]any{"type": "task_update", "team": teamName, "task_id": taskID, "status": models.StatusPending})
		return nil, fmt.Errorf("execute task %d: %w", taskID, err)
	}

	result, err := r.Store.CreateResult(ctx, store.CreateResultParams{
		TaskID:      taskID,
		TeamID:      task.TeamID,
		Title:       task.Title + " result",
		ContentType: "text",
		Content:     content,
	})
	if err != nil {
		if rerr := r.Store.RevertTask(context.WithoutCancel(ctx), taskID); rerr != nil {
			slog.Error("revert task failed", "task_id", taskID, "err", rerr)
		}
		return nil, fmt.Errorf("save result for task %d: %w", taskID, err)
	}

	if err := r.Store.CompleteTask(ctx, taskID, time.Now()); err != nil {
		if rerr := r.Store.RevertTask(context.WithoutCancel(ctx), taskID); rerr != nil {
			slog.Error("revert task failed", "task_id", taskID, "err", rerr)
		}
		return nil, fmt.Errorf("complete task %d: %w", taskID, err)
	}
	if _, err := r.Store.AppendHistory(ctx, taskID, "completed", "Task completed. The result is awaiting review.", map[string]any{
		"result_id": result.ResultID,
	}); err != nil {
		slog.Warn("append completed history failed", "task_id", taskID, "err", err)
	}
	if err := r.Store.SetAgentsStatus(ctx, agentIDs, models.AgentActive); err != nil {
		slog.Warn("set agents active failed", "task_id", taskID, "err", err)
	}

	otel.RecordTaskExecution(ctx, teamName, task.WorkflowType, "success", time.Since(started))
	r.publish(map[string]any{"type": "task_update", "team": teamName, "task_id": taskID, "status": models.StatusCompleted, "result_id": result.ResultID})
	if r.Notify != nil {
		r.Notify.Announce(ctx, fmt.Sprintf("Task %q completed in team %s; result awaiting review.", task.Title, teamName))
	}
	return &result, nil
}

func (r *Runner) publish(v any) {
	if r.Events != nil {
		r.Events.PublishJSON(v)
	}
}
