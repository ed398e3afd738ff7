// Package models provides shared types for the team-leader HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Team is a named group of agents and tasks owned by a user.
type Team struct {
	TeamID      string    `json:"team_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Purpose     string    `json:"purpose,omitempty"`
	Type        string    `json:"type,omitempty"`
	Owner       string    `json:"owner,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	AgentCount  int       `json:"agent_count,omitempty"`
	TaskCount   int       `json:"task_count,omitempty"`
	MemberCount int       `json:"member_count,omitempty"`
}

// TeamMember is a user's membership in a team (role: owner, admin, or member).
type TeamMember struct {
	User      string    `json:"user"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Persona is the descriptive profile rendered into an agent's system prompt.
type Persona struct {
	Personality        string   `json:"personality,omitempty"`
	Expertise          []string `json:"expertise,omitempty"`
	CommunicationStyle string   `json:"communication_style,omitempty"`
	Background         *string  `json:"background,omitempty"`
	SystemPrompt       *string  `json:"system_prompt,omitempty"`
}

// Agent is an AI persona belonging to a team, invoked to perform task work.
type Agent struct {
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Skills    []string  `json:"skills,omitempty"`
	Status    string    `json:"status,omitempty"`
	Persona   *Persona  `json:"persona,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Assignment ties an agent to a task with an order index; index 0 is primary.
type Assignment struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`
	AgentRole string `json:"agent_role,omitempty"`
	Role      string `json:"role"` // primary or support
	Order     int    `json:"order"`
}

// Task is a unit of work assigned to one or more agents under a workflow strategy.
type Task struct {
	TaskID           int64        `json:"task_id"`
	Title            string       `json:"title"`
	Description      *string      `json:"description,omitempty"`
	Instruction      *string      `json:"instruction,omitempty"`
	Priority         string       `json:"priority"`
	WorkflowType     string       `json:"workflow_type"`
	SupervisionLevel string       `json:"supervision_level"`
	Status           string       `json:"status"`
	Creator          string       `json:"creator,omitempty"`
	Progress         int          `json:"progress"`
	DueDate          *time.Time   `json:"due_date,omitempty"`
	StartedAt        *time.Time   `json:"started_at,omitempty"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	Assignments      []Assignment `json:"assignments,omitempty"`
	ResultCount      int          `json:"result_count,omitempty"`
	CreatedAt        time.Time    `json:"created_at,omitempty"`
	UpdatedAt        time.Time    `json:"updated_at,omitempty"`
}

// Result is the generated output of a task execution, subject to human review.
type Result struct {
	ResultID    string     `json:"result_id"`
	TaskID      int64      `json:"task_id"`
	Title       string     `json:"title,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	Feedback    *string    `json:"feedback,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
}

// History is an append-only audit record of a state-changing action on a task.
type History struct {
	HistoryID   int64          `json:"history_id"`
	TaskID      int64          `json:"task_id"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
}

// AgentTemplate is a built-in starting point for creating an agent.
type AgentTemplate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Persona     Persona  `json:"default_persona"`
	Skills      []string `json:"default_skills"`
}

// ChatTurn is one prior exchange in an agent chat.
type ChatTurn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Config is the /config API response.
type Config struct {
	Home            string `json:"home,omitempty"`
	GenerationModel string `json:"generation_model,omitempty"`
}

// Bootstrap is the /bootstrap API response: everything a fresh UI session needs.
type Bootstrap struct {
	Config      Config  `json:"config"`
	Teams       []Team  `json:"teams"`
	InitialTeam *string `json:"initial_team,omitempty"`
	Agents      []Agent `json:"agents,omitempty"`
	Tasks       []Task  `json:"tasks,omitempty"`
}
