// Package store defines the persistence interface and shared models for teams,
// agents, tasks, results, and history.
package store

import "time"

// Team is a named group of agents and tasks owned by a user.
type Team struct {
	TeamID      string
	Name        string
	Description string
	Purpose     string
	Type        string
	Owner       string
	CreatedAt   time.Time
	AgentCount  int
	TaskCount   int
	MemberCount int
}

// TeamMember is a user's membership in a team (owner, admin, or member).
type TeamMember struct {
	TeamID    string
	User      string
	Role      string
	CreatedAt time.Time
}

// Persona is an agent's descriptive profile. SystemPrompt, when set, is the
// precomputed prompt persisted at create/update time.
type Persona struct {
	Personality        string
	Expertise          []string
	CommunicationStyle string
	Background         *string
	SystemPrompt       *string
}

// Agent is an AI persona belonging to a team.
type Agent struct {
	AgentID   string
	TeamID    string
	Name      string
	Role      string
	Skills    []string
	Status    string
	Persona   *Persona
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assignment ties an agent to a task at an order index; index 0 is primary.
type Assignment struct {
	TaskID  int64
	AgentID string
	Role    string
	Order   int
}

// AssignedAgent is an assignment with its agent (and persona) resolved.
type AssignedAgent struct {
	Assignment
	Agent Agent
}

// Task is a unit of work assigned to one or more agents.
type Task struct {
	TaskID           int64
	TeamID           string
	Creator          string
	Title            string
	Description      *string
	Instruction      *string
	Priority         string
	WorkflowType     string
	SupervisionLevel string
	Status           string
	Progress         int
	DueDate          *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Assignments      []Assignment
	ResultCount      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TaskExecution is a task with its ordered assignment→agent→persona graph
// resolved, as required by the workflow executor.
type TaskExecution struct {
	Task
	Agents []AssignedAgent
}

// Result is a generated task output pending human review.
type Result struct {
	ResultID    string
	TaskID      int64
	TeamID      string
	Title       string
	ContentType string
	Content     string
	Status      string
	Feedback    *string
	ApprovedAt  *time.Time
	CreatedAt   time.Time
}

// History is an append-only audit record tied to a task.
type History struct {
	HistoryID   int64
	TaskID      int64
	Action      string
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// CreateTeamParams carries the fields for CreateTeam. Owner is also recorded
// as a team member with the owner role.
type CreateTeamParams struct {
	Name        string
	Description string
	Purpose     string
	Type        string
	Owner       string
}

// PersonaParams carries persona fields for agent create/update. The caller
// supplies the rendered SystemPrompt (see internal/persona).
type PersonaParams struct {
	Personality        string
	Expertise          []string
	CommunicationStyle string
	Background         *string
	SystemPrompt       *string
}

// CreateAgentParams carries the fields for CreateAgent.
type CreateAgentParams struct {
	Name    string
	Role    string
	Skills  []string
	Persona *PersonaParams
}

// UpdateAgentParams carries partial-update fields for UpdateAgent; nil fields
// are left unchanged. A non-nil Persona replaces (or creates) the persona row.
type UpdateAgentParams struct {
	Name    *string
	Role    *string
	Skills  []string
	Status  *string
	Persona *PersonaParams
}

// CreateTaskParams carries the fields for CreateTask. AgentIDs become ordered
// assignments: index 0 primary, the rest support.
type CreateTaskParams struct {
	Creator          string
	Title            string
	Description      *string
	Instruction      *string
	Priority         string
	WorkflowType     string
	SupervisionLevel string
	DueDate          *time.Time
	AgentIDs         []string
}

// UpdateTaskParams carries partial-update fields for UpdateTask.
type UpdateTaskParams struct {
	Title       *string
	Description *string
	Instruction *string
	Priority    *string
	Status      *string
	Progress    *int
	DueDate     *time.Time
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	Status  string
	AgentID string
	Limit   int
}

// CreateResultParams carries the fields for CreateResult. Review status is
// always initialized to pending.
type CreateResultParams struct {
	TaskID      int64
	TeamID      string
	Title       string
	ContentType string
	Content     string
}
