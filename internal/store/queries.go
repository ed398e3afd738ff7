package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/love2wisdom/kim-team-leader/pkg/models"
)

// ErrNotFound is returned when a team, agent, task, or result does not exist.
var ErrNotFound = errors.New("not found")

const taskSelect = `SELECT task_id, team_id, creator, title, description, instruction,
  priority, workflow_type, supervision_level, status, progress,
  due_date, started_at, completed_at, created_at, updated_at,
  (SELECT COUNT(*) FROM results r WHERE r.task_id = tasks.task_id) AS result_count
FROM tasks`

// ---- Teams ----

func (s *sqliteStore) ListTeams(ctx context.Context, user string) ([]Team, error) {
	q := `SELECT t.team_id, t.name, t.description, t.purpose, t.type, t.owner, t.created_at,
  (SELECT COUNT(*) FROM agents a WHERE a.team_id = t.team_id),
  (SELECT COUNT(*) FROM tasks k WHERE k.team_id = t.team_id),
  (SELECT COUNT(*) FROM team_members m WHERE m.team_id = t.team_id)
FROM teams t`
	var args []any
	if user != "" {
		q += ` WHERE t.owner = ? OR EXISTS (SELECT 1 FROM team_members m WHERE m.team_id = t.team_id AND m.user = ?)`
		args = append(args, user, user)
	}
	q += ` ORDER BY t.created_at DESC, t.name`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Team
	for rows.Next() {
		var t Team
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

func (s *sqliteStore) GetTeamByName(ctx context.Context, name string) (Team, error) {
	var t Team
	var created int64
	err := s.stmtGetTeamByName.QueryRowContext(ctx, name).Scan(
		&t.TeamID, &t.Name, &t.Description, &t.Purpose, &t.Type, &t.Owner, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Team{}, fmt.Errorf("team %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Team{}, err
	}
	t.CreatedAt = time.Unix(created, 0).UTC()
	return t, nil
}

func (s *sqliteStore) CreateTeam(ctx context.Context, p CreateTeamParams) (Team, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Team{}, errors.New("team name required")
	}
	now := time.Now()
	t := Team{
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

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Team{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO teams(team_id, name, description, purpose, type, owner, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		t.TeamID, t.Name, t.Description, t.Purpose, t.Type, t.Owner, now.Unix()); err != nil {
		return Team{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO team_members(team_id, user, role, created_at) VALUES(?, ?, 'owner', ?)`,
		t.TeamID, t.Owner, now.Unix()); err != nil {
		return Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return Team{}, err
	}
	return t, nil
}

func (s *sqliteStore) DeleteTeam(ctx context.Context, name string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM teams WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("team %q: %w", name, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListTeamMembers(ctx context.Context, teamName string) ([]TeamMember, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT team_id, user, role, created_at FROM team_members WHERE team_id = ? ORDER BY created_at, user`,
		team.TeamID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TeamMember
	for rows.Next() {
		var m TeamMember
		var created int64
		if err := rows.Scan(&m.TeamID, &m.User, &m.Role, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddTeamMember(ctx context.Context, teamName, user, role string) error {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return err
	}
	if role == "" {
		role = models.MemberMember
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO team_members(team_id, user, role, created_at) VALUES(?, ?, ?, ?)
ON CONFLICT(team_id, user) DO UPDATE SET role = excluded.role`,
		team.TeamID, user, role, time.Now().Unix())
	return err
}

func (s *sqliteStore) UserHasAccess(ctx context.Context, teamName, user string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM teams t
LEFT JOIN team_members m ON m.team_id = t.team_id AND m.user = ?
WHERE t.name = ? AND (t.owner = ? OR m.user IS NOT NULL)`,
		user, teamName, user).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) UserCanManage(ctx context.Context, teamName, user string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM teams t
LEFT JOIN team_members m ON m.team_id = t.team_id AND m.user = ?
WHERE t.name = ? AND (t.owner = ? OR m.role IN ('owner', 'admin'))`,
		user, teamName, user).Scan(&n)
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

func scanAgent(sc interface{ Scan(...any) error }) (Agent, error) {
	var a Agent
	var skills string
	var created, updated int64
	var personality, expertise, commStyle sql.NullString
	var background, systemPrompt sql.NullString
	if err := sc.Scan(&a.AgentID, &a.TeamID, &a.Name, &a.Role, &skills, &a.Status, &created, &updated,
		&personality, &expertise, &commStyle, &background, &systemPrompt); err != nil {
		return Agent{}, err
	}
	if err := json.Unmarshal([]byte(skills), &a.Skills); err != nil {
		return Agent{}, fmt.Errorf("agent %s: decode skills: %w", a.AgentID, err)
	}
	a.CreatedAt = time.Unix(created, 0).UTC()
	a.UpdatedAt = time.Unix(updated, 0).UTC()
	if personality.Valid || expertise.Valid || commStyle.Valid {
		p := &Persona{
			Personality:        personality.String,
			CommunicationStyle: commStyle.String,
		}
		if expertise.Valid && expertise.String != "" {
			if err := json.Unmarshal([]byte(expertise.String), &p.Expertise); err != nil {
				return Agent{}, fmt.Errorf("agent %s: decode expertise: %w", a.AgentID, err)
			}
		}
		if background.Valid {
			p.Background = &background.String
		}
		if systemPrompt.Valid {
			p.SystemPrompt = &systemPrompt.String
		}
		a.Persona = p
	}
	return a, nil
}

func (s *sqliteStore) ListAgents(ctx context.Context, teamName string) ([]Agent, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, agentSelect+` WHERE a.team_id = ? ORDER BY a.created_at, a.name`, team.TeamID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetAgent(ctx context.Context, teamName, agentID string) (*Agent, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	row := s.DB.QueryRowContext(ctx, agentSelect+` WHERE a.team_id = ? AND a.agent_id = ?`, team.TeamID, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *sqliteStore) CreateAgent(ctx context.Context, teamName string, p CreateAgentParams) (Agent, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Agent{}, errors.New("agent name required")
	}
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return Agent{}, err
	}
	now := time.Now()
	skills := p.Skills
	if skills == nil {
		skills = []string{}
	}
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return Agent{}, err
	}
	a := Agent{
		AgentID:   uuid.NewString(),
		TeamID:    team.TeamID,
		Name:      p.Name,
		Role:      p.Role,
		Skills:    skills,
		Status:    models.AgentIdle,
		CreatedAt: now.UTC().Truncate(time.Second),
		UpdatedAt: now.UTC().Truncate(time.Second),
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Agent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO agents(agent_id, team_id, name, role, skills, status, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AgentID, a.TeamID, a.Name, a.Role, string(skillsJSON), a.Status, now.Unix(), now.Unix()); err != nil {
		return Agent{}, err
	}
	if p.Persona != nil {
		if err := upsertPersona(ctx, tx, a.AgentID, *p.Persona); err != nil {
			return Agent{}, err
		}
		a.Persona = personaFromParams(*p.Persona)
	}
	if err := tx.Commit(); err != nil {
		return Agent{}, err
	}
	return a, nil
}

func personaFromParams(p PersonaParams) *Persona {
	expertise := p.Expertise
	if expertise == nil {
		expertise = []string{}
	}
	return &Persona{
		Personality:        p.Personality,
		Expertise:          expertise,
		CommunicationStyle: p.CommunicationStyle,
		Background:         p.Background,
		SystemPrompt:       p.SystemPrompt,
	}
}

func upsertPersona(ctx context.Context, tx *sql.Tx, agentID string, p PersonaParams) error {
	expertise := p.Expertise
	if expertise == nil {
		expertise = []string{}
	}
	expJSON, err := json.Marshal(expertise)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO personas(agent_id, personality, expertise, communication_style, background, system_prompt)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(agent_id) DO UPDATE SET
  personality = excluded.personality,
  expertise = excluded.expertise,
  communication_style = excluded.communication_style,
  background = excluded.background,
  system_prompt = excluded.system_prompt`,
		agentID, p.Personality, string(expJSON), p.CommunicationStyle, nullString(p.Background), nullString(p.SystemPrompt))
	return err
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (s *sqliteStore) UpdateAgent(ctx context.Context, teamName, agentID string, p UpdateAgentParams) (*Agent, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var sets []string
	var args []any
	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, *p.Role)
	}
	if p.Skills != nil {
		skillsJSON, err := json.Marshal(p.Skills)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "skills = ?")
		args = append(args, string(skillsJSON))
	}
	if p.Status != nil {
		if !models.ValidAgentStatus(*p.Status) {
			return nil, fmt.Errorf("invalid agent status %q", *p.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, *p.Status)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().Unix(), team.TeamID, agentID)

	res, err := tx.ExecContext(ctx,
		`UPDATE agents SET `+strings.Join(sets, ", ")+` WHERE team_id = ? AND agent_id = ?`, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	if p.Persona != nil {
		if err := upsertPersona(ctx, tx, agentID, *p.Persona); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, teamName, agentID)
}

func (s *sqliteStore) DeleteAgent(ctx context.Context, teamName, agentID string) error {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM agents WHERE team_id = ? AND agent_id = ?`, team.TeamID, agentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) SetAgentsStatus(ctx context.Context, agentIDs []string, status string) error {
	if len(agentIDs) == 0 {
		return nil
	}
	if !models.ValidAgentStatus(status) {
		return fmt.Errorf("invalid agent status %q", status)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(agentIDs)), ",")
	args := make([]any, 0, len(agentIDs)+2)
	args = append(args, status, time.Now().Unix())
	for _, id := range agentIDs {
		args = append(args, id)
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE agents SET status = ?, updated_at = ? WHERE agent_id IN (`+placeholders+`)`, args...)
	return err
}

// ---- Tasks ----

func scanTaskRow(sc interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var description, instruction sql.NullString
	var dueDate, startedAt, completedAt sql.NullInt64
	var created, updated int64
	if err := sc.Scan(&t.TaskID, &t.TeamID, &t.Creator, &t.Title, &description, &instruction,
		&t.Priority, &t.WorkflowType, &t.SupervisionLevel, &t.Status, &t.Progress,
		&dueDate, &startedAt, &completedAt, &created, &updated, &t.ResultCount); err != nil {
		return Task{}, err
	}
	if description.Valid {
		t.Description = &description.String
	}
	if instruction.Valid {
		t.Instruction = &instruction.String
	}
	t.DueDate = unixPtr(dueDate)
	t.StartedAt = unixPtr(startedAt)
	t.CompletedAt = unixPtr(completedAt)
	t.CreatedAt = time.Unix(created, 0).UTC()
	t.UpdatedAt = time.Unix(updated, 0).UTC()
	return t, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func (s *sqliteStore) ListTasks(ctx context.Context, teamName string, f TaskFilter) ([]Task, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}

	q := taskSelect + ` WHERE team_id = ?`
	args := []any{team.TeamID}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.AgentID != "" {
		q += ` AND EXISTS (SELECT 1 FROM assignments s WHERE s.task_id = tasks.task_id AND s.agent_id = ?)`
		args = append(args, f.AgentID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	q += ` ORDER BY created_at DESC, task_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Task
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

func (s *sqliteStore) taskAssignments(ctx context.Context, taskID int64) ([]Assignment, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT task_id, agent_id, role, ord FROM assignments WHERE task_id = ? ORDER BY ord`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.TaskID, &a.AgentID, &a.Role, &a.Order); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateTask(ctx context.Context, teamName string, p CreateTaskParams) (int64, error) {
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

	// Validate assignees before writing anything.
	for _, id := range p.AgentIDs {
		var n int
		if err := s.DB.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM agents WHERE agent_id = ? AND team_id = ?`, id, team.TeamID).Scan(&n); err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
	}

	now := time.Now()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var due any
	if p.DueDate != nil {
		due = p.DueDate.Unix()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO tasks(team_id, creator, title, description, instruction, priority, workflow_type, supervision_level, status, progress, due_date, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?)`,
		team.TeamID, p.Creator, p.Title, nullString(p.Description), nullString(p.Instruction),
		priority, workflow, supervision, due, now.Unix(), now.Unix())
	if err != nil {
		return 0, err
	}
	taskID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for i, agentID := range p.AgentIDs {
		role := models.AssignmentSupport
		if i == 0 {
			role = models.AssignmentPrimary
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assignments(task_id, agent_id, role, ord) VALUES(?, ?, ?, ?)`,
			taskID, agentID, role, i); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return taskID, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, teamName string, taskID int64) (*Task, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	row := s.stmtGetTask.QueryRowContext(ctx, taskID, team.TeamID)
	t, err := scanTaskRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
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

func (s *sqliteStore) GetTaskExecution(ctx context.Context, teamName string, taskID int64) (*TaskExecution, error) {
	task, err := s.GetTask(ctx, teamName, taskID)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT n.task_id, n.agent_id, n.role, n.ord,
  a.agent_id, a.team_id, a.name, a.role, a.skills, a.status, a.created_at, a.updated_at,
  p.personality, p.expertise, p.communication_style, p.background, p.system_prompt
FROM assignments n
JOIN agents a ON a.agent_id = n.agent_id
LEFT JOIN personas p ON p.agent_id = a.agent_id
WHERE n.task_id = ?
ORDER BY n.ord`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	exec := &TaskExecution{Task: *task}
	for rows.Next() {
		var aa AssignedAgent
		var skills string
		var created, updated int64
		var personality, expertise, commStyle, background, systemPrompt sql.NullString
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
		if personality.Valid || expertise.Valid || commStyle.Valid {
			p := &Persona{
				Personality:        personality.String,
				CommunicationStyle: commStyle.String,
			}
			if expertise.Valid && expertise.String != "" {
				if err := json.Unmarshal([]byte(expertise.String), &p.Expertise); err != nil {
					return nil, fmt.Errorf("agent %s: decode expertise: %w", aa.Agent.AgentID, err)
				}
			}
			if background.Valid {
				p.Background = &background.String
			}
			if systemPrompt.Valid {
				p.SystemPrompt = &systemPrompt.String
			}
			aa.Agent.Persona = p
		}
		exec.Agents = append(exec.Agents, aa)
	}
	return exec, rows.Err()
}

func (s *sqliteStore) UpdateTask(ctx context.Context, teamName string, taskID int64, p UpdateTaskParams) error {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return err
	}

	var sets []string
	var args []any
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Instruction != nil {
		sets = append(sets, "instruction = ?")
		args = append(args, *p.Instruction)
	}
	if p.Priority != nil {
		if !models.ValidPriority(*p.Priority) {
			return fmt.Errorf("invalid priority %q", *p.Priority)
		}
		sets = append(sets, "priority = ?")
		args = append(args, *p.Priority)
	}
	if p.Status != nil {
		if !models.ValidTaskStatus(*p.Status) {
			return fmt.Errorf("invalid task status %q", *p.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, *p.Status)
	}
	if p.Progress != nil {
		if *p.Progress < 0 || *p.Progress > 100 {
			return fmt.Errorf("progress out of range: %d", *p.Progress)
		}
		sets = append(sets, "progress = ?")
		args = append(args, *p.Progress)
	}
	if p.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, p.DueDate.Unix())
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().Unix(), team.TeamID, taskID)

	res, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE team_id = ? AND task_id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) DeleteTask(ctx context.Context, teamName string, taskID int64) error {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE team_id = ? AND task_id = ?`, team.TeamID, taskID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) BeginTaskExecution(ctx context.Context, taskID int64, startedAt time.Time) (bool, error) {
	res, err := s.stmtBeginExec.ExecContext(ctx, startedAt.Unix(), time.Now().Unix(), taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) CompleteTask(ctx context.Context, taskID int64, completedAt time.Time) error {
	_, err := s.stmtCompleteTask.ExecContext(ctx, completedAt.Unix(), time.Now().Unix(), taskID)
	return err
}

func (s *sqliteStore) RevertTask(ctx context.Context, taskID int64) error {
	_, err := s.stmtRevertTask.ExecContext(ctx, time.Now().Unix(), taskID)
	return err
}

// ---- Results ----

const resultSelect = `SELECT result_id, task_id, team_id, title, content_type, content, status, feedback, approved_at, created_at FROM results`

func scanResult(sc interface{ Scan(...any) error }) (Result, error) {
	var r Result
	var feedback sql.NullString
	var approvedAt sql.NullInt64
	var created int64
	if err := sc.Scan(&r.ResultID, &r.TaskID, &r.TeamID, &r.Title, &r.ContentType, &r.Content,
		&r.Status, &feedback, &approvedAt, &created); err != nil {
		return Result{}, err
	}
	if feedback.Valid {
		r.Feedback = &feedback.String
	}
	r.ApprovedAt = unixPtr(approvedAt)
	r.CreatedAt = time.Unix(created, 0).UTC()
	return r, nil
}

func (s *sqliteStore) CreateResult(ctx context.Context, p CreateResultParams) (Result, error) {
	now := time.Now()
	r := Result{
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
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO results(result_id, task_id, team_id, title, content_type, content, status, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ResultID, r.TaskID, r.TeamID, r.Title, r.ContentType, r.Content, r.Status, now.Unix())
	if err != nil {
		return Result{}, err
	}
	return r, nil
}

func (s *sqliteStore) GetResult(ctx context.Context, teamName, resultID string) (*Result, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	row := s.DB.QueryRowContext(ctx, resultSelect+` WHERE team_id = ? AND result_id = ?`, team.TeamID, resultID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", resultID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqliteStore) ListResults(ctx context.Context, teamName string, taskID int64) ([]Result, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	q := resultSelect + ` WHERE team_id = ?`
	args := []any{team.TeamID}
	if taskID != 0 {
		q += ` AND task_id = ?`
		args = append(args, taskID)
	}
	q += ` ORDER BY created_at DESC, result_id`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateResultReview(ctx context.Context, resultID, status string, feedback *string, approvedAt *time.Time) error {
	if !models.ValidReviewStatus(status) {
		return fmt.Errorf("invalid review status %q", status)
	}
	var approved any
	if approvedAt != nil {
		approved = approvedAt.Unix()
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE results SET status = ?, feedback = ?, approved_at = ? WHERE result_id = ?`,
		status, nullString(feedback), approved, resultID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("result %s: %w", resultID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) DeleteResult(ctx context.Context, teamName, resultID string) error {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM results WHERE team_id = ? AND result_id = ?`, team.TeamID, resultID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("result %s: %w", resultID, ErrNotFound)
	}
	return nil
}

// ---- History ----

func (s *sqliteStore) AppendHistory(ctx context.Context, taskID int64, action, description string, metadata map[string]any) (int64, error) {
	var meta any
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return 0, err
		}
		meta = string(b)
	}
	res, err := s.stmtAppendHistory.ExecContext(ctx, taskID, action, description, meta, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanHistory(sc interface{ Scan(...any) error }) (History, error) {
	var h History
	var meta sql.NullString
	var created int64
	if err := sc.Scan(&h.HistoryID, &h.TaskID, &h.Action, &h.Description, &meta, &created); err != nil {
		return History{}, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &h.Metadata); err != nil {
			return History{}, fmt.Errorf("history %d: decode metadata: %w", h.HistoryID, err)
		}
	}
	h.CreatedAt = time.Unix(created, 0).UTC()
	return h, nil
}

func (s *sqliteStore) ListTaskHistory(ctx context.Context, taskID int64, limit int) ([]History, error) {
	if limit <= 0 {
		limit = models.DefaultHistoryListLimit
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT history_id, task_id, action, description, metadata, created_at FROM history
WHERE task_id = ? ORDER BY created_at DESC, history_id DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListTeamHistory(ctx context.Context, teamName string, limit int) ([]History, error) {
	team, err := s.GetTeamByName(ctx, teamName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = models.DefaultHistoryListLimit
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT h.history_id, h.task_id, h.action, h.description, h.metadata, h.created_at FROM history h
JOIN tasks t ON t.task_id = h.task_id
WHERE t.team_id = ? ORDER BY h.created_at DESC, h.history_id DESC LIMIT ?`, team.TeamID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []History
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

func (s *sqliteStore) CountTasksByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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
