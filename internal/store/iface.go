package store

import (
	"context"
	"time"
)

// Store is the persistence interface for teams, agents, tasks, results, and
// history. Implementations: the SQLite store in this package and
// *postgres.Store (PostgreSQL).
type Store interface {
	// Teams
	ListTeams(ctx context.Context, user string) ([]Team, error)
	GetTeamByName(ctx context.Context, name string) (Team, error)
	CreateTeam(ctx context.Context, p CreateTeamParams) (Team, error)
	DeleteTeam(ctx context.Context, name string) error
	ListTeamMembers(ctx context.Context, teamName string) ([]TeamMember, error)
	AddTeamMember(ctx context.Context, teamName, user, role string) error
	// UserHasAccess reports whether user owns or is a member of the team.
	UserHasAccess(ctx context.Context, teamName, user string) (bool, error)
	// UserCanManage reports whether user owns the team or holds the owner/admin role.
	UserCanManage(ctx context.Context, teamName, user string) (bool, error)

	// Agents
	ListAgents(ctx context.Context, teamName string) ([]Agent, error)
	GetAgent(ctx context.Context, teamName, agentID string) (*Agent, error)
	CreateAgent(ctx context.Context, teamName string, p CreateAgentParams) (Agent, error)
	UpdateAgent(ctx context.Context, teamName, agentID string, p UpdateAgentParams) (*Agent, error)
	DeleteAgent(ctx context.Context, teamName, agentID string) error
	// SetAgentsStatus bulk-updates agent status (best-effort after execution).
	SetAgentsStatus(ctx context.Context, agentIDs []string, status string) error

	// Tasks
	ListTasks(ctx context.Context, teamName string, f TaskFilter) ([]Task, error)
	CreateTask(ctx context.Context, teamName string, p CreateTaskParams) (int64, error)
	GetTask(ctx context.Context, teamName string, taskID int64) (*Task, error)
	// GetTaskExecution resolves the full assignment→agent→persona graph in
	// assignment order.
	GetTaskExecution(ctx context.Context, teamName string, taskID int64) (*TaskExecution, error)
	UpdateTask(ctx context.Context, teamName string, taskID int64, p UpdateTaskParams) error
	DeleteTask(ctx context.Context, teamName string, taskID int64) error
	// BeginTaskExecution transitions pending→in_progress and stamps started_at.
	// Returns false when the task is no longer pending (already running or done),
	// which guards concurrent duplicate executions.
	BeginTaskExecution(ctx context.Context, taskID int64, startedAt time.Time) (bool, error)
	// CompleteTask transitions to completed and stamps completed_at.
	CompleteTask(ctx context.Context, taskID int64, completedAt time.Time) error
	// RevertTask returns a task to pending after a failed execution. Timestamps
	// from the failed attempt are intentionally left in place.
	RevertTask(ctx context.Context, taskID int64) error

	// Results
	CreateResult(ctx context.Context, p CreateResultParams) (Result, error)
	GetResult(ctx context.Context, teamName, resultID string) (*Result, error)
	ListResults(ctx context.Context, teamName string, taskID int64) ([]Result, error)
	UpdateResultReview(ctx context.Context, resultID, status string, feedback *string, approvedAt *time.Time) error
	DeleteResult(ctx context.Context, teamName, resultID string) error

	// History (append-only)
	AppendHistory(ctx context.Context, taskID int64, action, description string, metadata map[string]any) (int64, error)
	ListTaskHistory(ctx context.Context, taskID int64, limit int) ([]History, error)
	ListTeamHistory(ctx context.Context, teamName string, limit int) ([]History, error)

	// CountTasksByStatus supports the /metrics task gauges.
	CountTasksByStatus(ctx context.Context) (map[string]int64, error)

	Close() error
}
