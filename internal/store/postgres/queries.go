package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/love2wisdom/kim-team-leader/internal/store"
	"github.com/love2wisdom/kim-team-leader/pkg/models"
)

const taskSelect = `SELECT task_id, team_id, creator, title, description, instruction,
  priority, workflow_type, supervision_level, status, progress,
  due_date, started_at, completed_at, created_at, updated_at,
  (SELECT COUNT(*) FROM results r WHERE r.task_id = tasks.task_id) AS result_count
FROM tasks`

// ---- Teams ----

func (s *Store) ListTeams(ctx context.Context, user string) ([]store.Team, error) {
	q := `SELECT t.team_id, t.name, t.description, t.purpose, t.type, t.owner, t.created_at,
  (SELECT COUNT(*) FROM agents a WHERE a.team_id = t.team_id),
  (SELECT COUNT(*) FROM tasks k WHERE k.team_id = t.team_id),
  (SELECT COUNT(*) FROM team_members m WHERE m.team_id = t.team_id)
FROM teams t`
	var args []any
	if user != "" {
		q += ` WHERE t.owner = $1 OR EXISTS (SELECT 1 FROM team_members m WHERE m.team_id = t.team_id AND m."user" = $1)`
		args = append(args, user)
	}
	q += ` ORDER BY t.created_at DESC, t.name`

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Team
	for rows.Next() {
		var t store.Team
		var created int64
		if err := rows.Scan(&t.TeamID, &t.Name, &t.Description, &t.Purpose, &t.Type, &t.Owner,
			&created, &t.AgentCount, &t.TaskCount, &t.MemberCount); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTeamByName(ctx context.Context, name string) (store.Team, error) {
	var t store.Team
	var created int64
	err := s.Pool.QueryRow(ctx,
		`SELECT team_id, name, description, purpose, type, owner, created_at FROM teams WHERE name = $1`, name).Scan(
		&t.TeamID, &t.Name, &t.Description, &t.Purpose, &t.Type, &t.Owner, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Team{}, fmt.Errorf("team %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return store.Team{}, err
	}
	t.CreatedAt = time.Unix(created, 0).UTC()
	return t, nil
}

func (s *Store) CreateTeam(ctx context.Context, p store.CreateTeamParams) (store.Team, error) {
	if strings.TrimSpace(p.Name) == "" {
		return store.Team{}, errors.New("team name required")
	}
	now := time.Now()
	t := store.Team{
		TeamID:      uuid.NewString(),
		Name:        p.Name,
		Description: p.Description,
		Purpose:     p.Purpose,
		Type:        p.Type,
		Owner:       p.Owner,
		CreatedAt:   now.UTC().Truncate(time.Second),
		MemberCount: 1,
	}
	if t.Type == "" {
		t.Type = "general"
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return store.Team{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO teams(team_id, name, description, purpose, type, owner, created_at) VALUES($1, $2, $3, $4, $5, $6, $7)`,
		t.TeamID, t.Name, t.Description, t.Purpose, t.Type, t.Owner, now.Unix()); err != nil {
		return store.Team{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO team_members(team_id, "user", role, created_at) VALUES($1, $2, 'owner', $3)`,
		t.TeamID, t.Owner, now.Unix()); err != nil {
		return store.Team{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return store.Team{}, err
	}
	return t, nil
}

func (s *Store) DeleteTeam(ctx context.Context, name string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM teams WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("team %q: %w", name, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListTeamMembers(ctx context.Context, teamName string) ([]store.TeamMember, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT team_id, "user", role, created_at FROM team_members WHERE team_id = $1 ORDER BY created_at, "user"`,
		team.TeamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TeamMember
	for rows.Next() {
		var m store.TeamMember
		var created int64
		if err := rows.Scan(&m.TeamID, &m.User, &m.Role, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AddTeamMember(ctx context.Context, teamName, user, role string) error {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return err
	}
	if role == "" {
		role = models.MemberMember
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO team_members(team_id, "user", role, created_at) VALUES($1, $2, $3, $4)
ON CONFLICT (team_id, "user") DO UPDATE SET role = EXCLUDED.role`,
		team.TeamID, user, role, time.Now().Unix())
	return err
}

func (s *Store) UserHasAccess(ctx context.Context, teamName, user string) (bool, error) {
	var n int
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM teams t
LEFT JOIN team_members m ON m.team_id = t.team_id AND m."user" = $1
WHERE t.name = $2 AND (t.owner = $1 OR m."user" IS NOT NULL)`,
		user, teamName).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) UserCanManage(ctx context.Context, teamName, user string) (bool, error) {
	var n int
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM teams t
LEFT JOIN team_members m ON m.team_id = t.team_id AND m."user" = $1
WHERE t.name = $2 AND (t.owner = $1 OR m.role IN ('owner', 'admin'))`,
		user, teamName).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- Agents ----

const agentSelect = `SELECT a.agent_id, a.team_id, a.name, a.role, a.skills, a.status, a.created_at, a.updated_at,
  p.personality, p.expertise, p.communication_style, p.background, p.system_prompt
FROM agents a
LEFT JOIN personas p ON p.agent_id = a.agent_id`

func scanAgent(sc interface{ Scan(...any) error }) (store.Agent, error) {
	var a store.Agent
	var skills string
	var created, updated int64
	var personality, expertise, commStyle, background, systemPrompt *string
	if err := sc.Scan(&a.AgentID, &a.TeamID, &a.Name, &a.Role, &skills, &a.Status, &created, &updated,
		&personality, &expertise, &commStyle, &background, &systemPrompt); err != nil {
		return store.Agent{}, err
	}
	if err := json.Unmarshal([]byte(skills), &a.Skills); err != nil {
		return store.Agent{}, fmt.Errorf("agent %s: decode skills: %w", a.AgentID, err)
	}
	a.CreatedAt = time.Unix(created, 0).UTC()
	a.UpdatedAt = time.Unix(updated, 0).UTC()
	if personality != nil || expertise != nil || commStyle != nil {
		p := &store.Persona{Background: background, SystemPrompt: systemPrompt}
		if personality != nil {
			p.Personality = *personality
		}
		if commStyle != nil {
			p.CommunicationStyle = *commStyle
		}
		if expertise != nil && *expertise != "" {
			if err := json.Unmarshal([]byte(*expertise), &p.Expertise); err != nil {
				return store.Agent{}, fmt.Errorf("agent %s: decode expertise: %w", a.AgentID, err)
			}
		}
		a.Persona = p
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context, teamName string) ([]store.Agent, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, agentSelect+` WHERE a.team_id = $1 ORDER BY a.created_at, a.name`, team.TeamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, teamName, agentID string) (*store.Agent, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	row := s.Pool.QueryRow(ctx, agentSelect+` WHERE a.team_id = $1 AND a.agent_id = $2`, team.TeamID, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateAgent(ctx context.Context, teamName string, p store.CreateAgentParams) (store.Agent, error) {
	if strings.TrimSpace(p.Name) == "" {
		return store.Agent{}, errors.New("agent name required")
	}
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return store.Agent{}, err
	}
	now := time.Now()
	skills := p.Skills
	if skills == nil {
		skills = []string{}
	}
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return store.Agent{}, err
	}
	a := store.Agent{
		AgentID:   uuid.NewString(),
		TeamID:    team.TeamID,
		Name:      p.Name,
		Role:      p.Role,
		Skills:    skills,
		Status:    models.AgentIdle,
		CreatedAt: now.UTC().Truncate(time.Second),
		UpdatedAt: now.UTC().Truncate(time.Second),
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return store.Agent{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO agents(agent_id, team_id, name, role, skills, status, created_at, updated_at) VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.AgentID, a.TeamID, a.Name, a.Role, string(skillsJSON), a.Status, now.Unix(), now.Unix()); err != nil {
		return store.Agent{}, err
	}
	if p.Persona != nil {
		if err := upsertPersona(ctx, tx, a.AgentID, *p.Persona); err != nil {
			return store.Agent{}, err
		}
		expertise := p.Persona.Expertise
		if expertise == nil {
			expertise = []string{}
		}
		a.Persona = &store.Persona{
			Personality:        p.Persona.Personality,
			Expertise:          expertise,
			CommunicationStyle: p.Persona.CommunicationStyle,
			Background:         p.Persona.Background,
			SystemPrompt:       p.Persona.SystemPrompt,
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return store.Agent{}, err
	}
	return a, nil
}

func upsertPersona(ctx context.Context, tx pgx.Tx, agentID string, p store.PersonaParams) error {
	expertise := p.Expertise
	if expertise == nil {
		expertise = []string{}
	}
	expJSON, err := json.Marshal(expertise)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO personas(agent_id, personality, expertise, communication_style, background, system_prompt)
VALUES($1, $2, $3, $4, $5, $6)
ON CONFLICT (agent_id) DO UPDATE SET
  personality = EXCLUDED.personality,
  expertise = EXCLUDED.expertise,
  communication_style = EXCLUDED.communication_style,
  background = EXCLUDED.background,
  system_prompt = EXCLUDED.system_prompt`,
		agentID, p.Personality, string(expJSON), p.CommunicationStyle, p.Background, p.SystemPrompt)
	return err
}

func (s *Store) UpdateAgent(ctx context.Context, teamName, agentID string, p store.UpdateAgentParams) (*store.Agent, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sets []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if p.Name != nil {
		sets = append(sets, "name = "+arg(*p.Name))
	}
	if p.Role != nil {
		sets = append(sets, "role = "+arg(*p.Role))
	}
	if p.Skills != nil {
		skillsJSON, err := json.Marshal(p.Skills)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "skills = "+arg(string(skillsJSON)))
	}
	if p.Status != nil {
		if !models.ValidAgentStatus(*p.Status) {
			return nil, fmt.Errorf("invalid agent status %q", *p.Status)
		}
		sets = append(sets, "status = "+arg(*p.Status))
	}
	sets = append(sets, "updated_at = "+arg(time.Now().Unix()))
	where := fmt.Sprintf(" WHERE team_id = %s AND agent_id = %s", arg(team.TeamID), arg(agentID))

	tag, err := tx.Exec(ctx, `UPDATE agents SET `+strings.Join(sets, ", ")+where, args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
	}
	if p.Persona != nil {
		if err := upsertPersona(ctx, tx, agentID, *p.Persona); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, teamName, agentID)
}

func (s *Store) DeleteAgent(ctx context.Context, teamName, agentID string) error {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `DELETE FROM agents WHERE team_id = $1 AND agent_id = $2`, team.TeamID, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) SetAgentsStatus(ctx context.Context, agentIDs []string, status string) error {
	if len(agentIDs) == 0 {
		return nil
	}
	if !models.ValidAgentStatus(status) {
		return fmt.Errorf("invalid agent status %q", status)
	}
	_, err := s.Pool.Exec(ctx,
		`UPDATE agents SET status = $1, updated_at = $2 WHERE agent_id = ANY($3)`,
		status, time.Now().Unix(), agentIDs)
	return err
}

// ---- Tasks ----

func scanTaskRow(sc interface{ Scan(...any) error }) (store.Task, error) {
	var t store.Task
	var dueDate, startedAt, completedAt *int64
	var created, updated int64
	if err := sc.Scan(&t.TaskID, &t.TeamID, &t.Creator, &t.Title, &t.Description, &t.Instruction,
		&t.Priority, &t.WorkflowType, &t.SupervisionLevel, &t.Status, &t.Progress,
		&dueDate, &startedAt, &completedAt, &created, &updated, &t.ResultCount); err != nil {
		return store.Task{}, err
	}
	t.DueDate = unixPtr(dueDate)
	t.StartedAt = unixPtr(startedAt)
	t.CompletedAt = unixPtr(completedAt)
	t.CreatedAt = time.Unix(created, 0).UTC()
	t.UpdatedAt = time.Unix(updated, 0).UTC()
	return t, nil
}

func unixPtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

func (s *Store) ListTasks(ctx context.Context, teamName string, f store.TaskFilter) ([]store.Task, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}

	q := taskSelect + ` WHERE team_id = $1`
	args := []any{team.TeamID}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		q += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM assignments s WHERE s.task_id = tasks.task_id AND s.agent_id = $%d)`, len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at DESC, task_id DESC LIMIT $%d`, len(args))

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		asn, err := s.taskAssignments(ctx, out[i].TaskID)
		if err != nil {
			return nil, err
		}
		out[i].Assignments = asn
	}
	return out, nil
}

func (s *Store) taskAssignments(ctx context.Context, taskID int64) ([]store.Assignment, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT task_id, agent_id, role, ord FROM assignments WHERE task_id = $1 ORDER BY ord`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Assignment
	for rows.Next() {
		var a store.Assignment
		if err := rows.Scan(&a.TaskID, &a.AgentID, &a.Role, &a.Order); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CreateTask(ctx context.Context, teamName string, p store.CreateTaskParams) (int64, error) {
	if strings.TrimSpace(p.Title) == "" {
		return 0, errors.New("task title required")
	}
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return 0, err
	}
	priority := p.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return 0, fmt.Errorf("invalid priority %q", priority)
	}
	workflow := p.WorkflowType
	if workflow == "" {
		workflow = models.WorkflowSingle
	}
	if !models.ValidWorkflowType(workflow) {
		return 0, fmt.Errorf("invalid workflow type %q", workflow)
	}
	supervision := p.SupervisionLevel
	if supervision == "" {
		supervision = models.SupervisionModerate
	}
	if !models.ValidSupervisionLevel(supervision) {
		return 0, fmt.Errorf("invalid supervision level %q", supervision)
	}

	for _, id := range p.AgentIDs {
		var n int
		if err := s.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM agents WHERE agent_id = $1 AND team_id = $2`, id, team.TeamID).Scan(&n); err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("agent %s: %w", id, store.ErrNotFound)
		}
	}

	now := time.Now()
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var due *int64
	if p.DueDate != nil {
		v := p.DueDate.Unix()
		due = &v
	}
	var taskID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO tasks(team_id, creator, title, description, instruction, priority, workflow_type, supervision_level, status, progress, due_date, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 0, $9, $10, $11)
RETURNING task_id`,
		team.TeamID, p.Creator, p.Title, p.Description, p.Instruction,
		priority, workflow, supervision, due, now.Unix(), now.Unix()).Scan(&taskID)
	if err != nil {
		return 0, err
	}
	for i, agentID := range p.AgentIDs {
		role := models.AssignmentSupport
		if i == 0 {
			role = models.AssignmentPrimary
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO assignments(task_id, agent_id, role, ord) VALUES($1, $2, $3, $4)`,
			taskID, agentID, role, i); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return taskID, nil
}

func (s *Store) GetTask(ctx context.Context, teamName string, taskID int64) (*store.Task, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	row := s.Pool.QueryRow(ctx, taskSelect+` WHERE task_id = $1 AND team_id = $2`, taskID, team.TeamID)
	t, err := scanTaskRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", taskID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	t.Assignments, err = s.taskAssignments(ctx, t.TaskID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTaskExecution(ctx context.Context, teamName string, taskID int64) (*store.TaskExecution, error) {
	task, err := s.GetTask(ctx, teamName, taskID)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT n.task_id, n.agent_id, n.role, n.ord,
  a.agent_id, a.team_id, a.name, a.role, a.skills, a.status, a.created_at, a.updated_at,
  p.personality, p.expertise, p.communication_style, p.background, p.system_prompt
FROM assignments n
JOIN agents a ON a.agent_id = n.agent_id
LEFT JOIN personas p ON p.agent_id = a.agent_id
WHERE n.task_id = $1
ORDER BY n.ord`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exec := &store.TaskExecution{Task: *task}
	for rows.Next() {
		var aa store.AssignedAgent
		var skills string
		var created, updated int64
		var personality, expertise, commStyle, background, systemPrompt *string
		if err := rows.Scan(&aa.TaskID, &aa.Assignment.AgentID, &aa.Assignment.Role, &aa.Order,
			&aa.Agent.AgentID, &aa.Agent.TeamID, &aa.Agent.Name, &aa.Agent.Role, &skills, &aa.Agent.Status, &created, &updated,
			&personality, &expertise, &commStyle, &background, &systemPrompt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(skills), &aa.Agent.Skills); err != nil {
			return nil, fmt.Errorf("agent %s: decode skills: %w", aa.Agent.AgentID, err)
		}
		aa.Agent.CreatedAt = time.Unix(created, 0).UTC()
		aa.Agent.UpdatedAt = time.Unix(updated, 0).UTC()
		if personality != nil || expertise != nil || commStyle != nil {
			p := &store.Persona{Background: background, SystemPrompt: systemPrompt}
			if personality != nil {
				p.Personality = *personality
			}
			if commStyle != nil {
				p.CommunicationStyle = *commStyle
			}
			if expertise != nil && *expertise != "" {
				if err := json.Unmarshal([]byte(*expertise), &p.Expertise); err != nil {
					return nil, fmt.Errorf("agent %s: decode expertise: %w", aa.Agent.AgentID, err)
				}
			}
			aa.Agent.Persona = p
		}
		exec.Agents = append(exec.Agents, aa)
	}
	return exec, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, teamName string, taskID int64, p store.UpdateTaskParams) error {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return err
	}

	var sets []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if p.Title != nil {
		sets = append(sets, "title = "+arg(*p.Title))
	}
	if p.Description != nil {
		sets = append(sets, "description = "+arg(*p.Description))
	}
	if p.Instruction != nil {
		sets = append(sets, "instruction = "+arg(*p.Instruction))
	}
	if p.Priority != nil {
		if !models.ValidPriority(*p.Priority) {
			return fmt.Errorf("invalid priority %q", *p.Priority)
		}
		sets = append(sets, "priority = "+arg(*p.Priority))
	}
	if p.Status != nil {
		if !models.ValidTaskStatus(*p.Status) {
			return fmt.Errorf("invalid task status %q", *p.Status)
		}
		sets = append(sets, "status = "+arg(*p.Status))
	}
	if p.Progress != nil {
		if *p.Progress < 0 || *p.Progress > 100 {
			return fmt.Errorf("progress out of range: %d", *p.Progress)
		}
		sets = append(sets, "progress = "+arg(*p.Progress))
	}
	if p.DueDate != nil {
		sets = append(sets, "due_date = "+arg(p.DueDate.Unix()))
	}
	sets = append(sets, "updated_at = "+arg(time.Now().Unix()))
	where := fmt.Sprintf(" WHERE team_id = %s AND task_id = %s", arg(team.TeamID), arg(taskID))

	tag, err := s.Pool.Exec(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+where, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %d: %w", taskID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, teamName string, taskID int64) error {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `DELETE FROM tasks WHERE team_id = $1 AND task_id = $2`, team.TeamID, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %d: %w", taskID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) BeginTaskExecution(ctx context.Context, taskID int64, startedAt time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE tasks SET status='in_progress', started_at=$1, updated_at=$2 WHERE task_id=$3 AND status='pending'`,
		startedAt.Unix(), time.Now().Unix(), taskID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CompleteTask(ctx context.Context, taskID int64, completedAt time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE tasks SET status='completed', completed_at=$1, updated_at=$2 WHERE task_id=$3`,
		completedAt.Unix(), time.Now().Unix(), taskID)
	return err
}

func (s *Store) RevertTask(ctx context.Context, taskID int64) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE tasks SET status='pending', updated_at=$1 WHERE task_id=$2`,
		time.Now().Unix(), taskID)
	return err
}

// ---- Results ----

const resultSelect = `SELECT result_id, task_id, team_id, title, content_type, content, status, feedback, approved_at, created_at FROM results`

func scanResult(sc interface{ Scan(...any) error }) (store.Result, error) {
	var r store.Result
	var approvedAt *int64
	var created int64
	if err := sc.Scan(&r.ResultID, &r.TaskID, &r.TeamID, &r.Title, &r.ContentType, &r.Content,
		&r.Status, &r.Feedback, &approvedAt, &created); err != nil {
		return store.Result{}, err
	}
	r.ApprovedAt = unixPtr(approvedAt)
	r.CreatedAt = time.Unix(created, 0).UTC()
	return r, nil
}

func (s *Store) CreateResult(ctx context.Context, p store.CreateResultParams) (store.Result, error) {
	now := time.Now()
	r := store.Result{
		ResultID:    uuid.NewString(),
		TaskID:      p.TaskID,
		TeamID:      p.TeamID,
		Title:       p.Title,
		ContentType: p.ContentType,
		Content:     p.Content,
		Status:      models.ReviewPending,
		CreatedAt:   now.UTC().Truncate(time.Second),
	}
	if r.ContentType == "" {
		r.ContentType = "text"
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO results(result_id, task_id, team_id, title, content_type, content, status, created_at) VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ResultID, r.TaskID, r.TeamID, r.Title, r.ContentType, r.Content, r.Status, now.Unix())
	if err != nil {
		return store.Result{}, err
	}
	return r, nil
}

func (s *Store) GetResult(ctx context.Context, teamName, resultID string) (*store.Result, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	row := s.Pool.QueryRow(ctx, resultSelect+` WHERE team_id = $1 AND result_id = $2`, team.TeamID, resultID)
	r, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", resultID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListResults(ctx context.Context, teamName string, taskID int64) ([]store.Result, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	q := resultSelect + ` WHERE team_id = $1`
	args := []any{team.TeamID}
	if taskID != 0 {
		args = append(args, taskID)
		q += fmt.Sprintf(` AND task_id = $%d`, len(args))
	}
	q += ` ORDER BY created_at DESC, result_id`

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateResultReview(ctx context.Context, resultID, status string, feedback *string, approvedAt *time.Time) error {
	if !models.ValidReviewStatus(status) {
		return fmt.Errorf("invalid review status %q", status)
	}
	var approved *int64
	if approvedAt != nil {
		v := approvedAt.Unix()
		approved = &v
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE results SET status = $1, feedback = $2, approved_at = $3 WHERE result_id = $4`,
		status, feedback, approved, resultID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("result %s: %w", resultID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteResult(ctx context.Context, teamName, resultID string) error {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `DELETE FROM results WHERE team_id = $1 AND result_id = $2`, team.TeamID, resultID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("result %s: %w", resultID, store.ErrNotFound)
	}
	return nil
}

// ---- History ----

func (s *Store) AppendHistory(ctx context.Context, taskID int64, action, description string, metadata map[string]any) (int64, error) {
	var meta *string
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return 0, err
		}
		v := string(b)
		meta = &v
	}
	var id int64
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO history(task_id, action, description, metadata, created_at) VALUES($1, $2, $3, $4, $5) RETURNING history_id`,
		taskID, action, description, meta, time.Now().Unix()).Scan(&id)
	return id, err
}

func scanHistory(sc interface{ Scan(...any) error }) (store.History, error) {
	var h store.History
	var meta *string
	var created int64
	if err := sc.Scan(&h.HistoryID, &h.TaskID, &h.Action, &h.Description, &meta, &created); err != nil {
		return store.History{}, err
	}
	if meta != nil && *meta != "" {
		if err := json.Unmarshal([]byte(*meta), &h.Metadata); err != nil {
			return store.History{}, fmt.Errorf("history %d: decode metadata: %w", h.HistoryID, err)
		}
	}
	h.CreatedAt = time.Unix(created, 0).UTC()
	return h, nil
}

func (s *Store) ListTaskHistory(ctx context.Context, taskID int64, limit int) ([]store.History, error) {
	if limit <= 0 {
		limit = models.DefaultHistoryListLimit
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT history_id, task_id, action, description, metadata, created_at FROM history
WHERE task_id = $1 ORDER BY created_at DESC, history_id DESC LIMIT $2`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) ListTeamHistory(ctx context.Context, teamName string, limit int) ([]store.History, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = models.DefaultHistoryListLimit
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT h.history_id, h.task_id, h.action, h.description, h.metadata, h.created_at FROM history h
JOIN tasks t ON t.task_id = h.task_id
WHERE t.team_id = $1 ORDER BY h.created_at DESC, h.history_id DESC LIMIT $2`, team.TeamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ---- Metrics ----

func (s *Store) CountTasksByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.Pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
