package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/love2wisdom/kim-team-leader/pkg/models"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreateTeam(t *testing.T, s Store, name, owner string) Team {
	t.Helper()
	team, err := s.CreateTeam(context.Background(), CreateTeamParams{Name: name, Owner: owner})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	return team
}

func mustCreateAgent(t *testing.T, s Store, teamName string, p CreateAgentParams) Agent {
	t.Helper()
	a, err := s.CreateAgent(context.Background(), teamName, p)
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return a
}

func TestCreateAndGetTeam(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	created := mustCreateTeam(t, s, "growth", "alice")
	got, err := s.GetTeamByName(ctx, "growth")
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if got.TeamID != created.TeamID {
		t.Errorf("team_id = %q, want %q", got.TeamID, created.TeamID)
	}
	if got.Owner != "alice" {
		t.Errorf("owner = %q, want alice", got.Owner)
	}
	if got.Type != "general" {
		t.Errorf("type = %q, want general default", got.Type)
	}

	members, err := s.ListTeamMembers(ctx, "growth")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 || members[0].User != "alice" || members[0].Role != models.MemberOwner {
		t.Errorf("members = %+v, want single owner row for alice", members)
	}
}

func TestGetTeamNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.GetTeamByName(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDuplicateTeamNameRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	mustCreateTeam(t, s, "growth", "alice")
	if _, err := s.CreateTeam(context.Background(), CreateTeamParams{Name: "growth", Owner: "bob"}); err == nil {
		t.Fatal("expected error for duplicate team name")
	}
}

func TestListTeamsScopedToUser(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "alpha", "alice")
	mustCreateTeam(t, s, "beta", "bob")
	if err := s.AddTeamMember(ctx, "beta", "alice", models.MemberMember); err != nil {
		t.Fatalf("add member: %v", err)
	}

	teams, err := s.ListTeams(ctx, "alice")
	if err != nil {
		t.Fatalf("list teams: %v", err)
	}
	if len(teams) != 2 {
		t.Fatalf("alice sees %d teams, want 2", len(teams))
	}

	teams, err = s.ListTeams(ctx, "carol")
	if err != nil {
		t.Fatalf("list teams: %v", err)
	}
	if len(teams) != 0 {
		t.Fatalf("carol sees %d teams, want 0", len(teams))
	}
}

func TestUserAccessAndManage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	if err := s.AddTeamMember(ctx, "growth", "bob", models.MemberMember); err != nil {
		t.Fatalf("add member: %v", err)
	}

	cases := []struct {
		user              string
		access, canManage bool
	}{
		{"alice", true, true},
		{"bob", true, false},
		{"carol", false, false},
	}
	for _, c := range cases {
		ok, err := s.UserHasAccess(ctx, "growth", c.user)
		if err != nil {
			t.Fatalf("UserHasAccess(%s): %v", c.user, err)
		}
		if ok != c.access {
			t.Errorf("UserHasAccess(%s) = %v, want %v", c.user, ok, c.access)
		}
		ok, err = s.UserCanManage(ctx, "growth", c.user)
		if err != nil {
			t.Fatalf("UserCanManage(%s): %v", c.user, err)
		}
		if ok != c.canManage {
			t.Errorf("UserCanManage(%s) = %v, want %v", c.user, ok, c.canManage)
		}
	}
}

func TestDeleteTeamCascades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	a := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "Planner", Role: "Strategist"})
	if _, err := s.CreateTask(ctx, "growth", CreateTaskParams{Creator: "alice", Title: "plan", AgentIDs: []string{a.AgentID}}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := s.DeleteTeam(ctx, "growth"); err != nil {
		t.Fatalf("delete team: %v", err)
	}
	if _, err := s.GetTeamByName(ctx, "growth"); !errors.Is(err, ErrNotFound) {
		t.Errorf("team still present after delete: %v", err)
	}
}

func TestAgentPersonaRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	background := "Ten years in B2B marketing."
	prompt := "You are June."
	a := mustCreateAgent(t, s, "growth", CreateAgentParams{
		Name:   "June",
		Role:   "Marketer",
		Skills: []string{"copywriting", "seo"},
		Persona: &PersonaParams{
			Personality:        "upbeat and direct",
			Expertise:          []string{"content strategy", "analytics"},
			CommunicationStyle: "short actionable bullets",
			Background:         &background,
			SystemPrompt:       &prompt,
		},
	})

	got, err := s.GetAgent(ctx, "growth", a.AgentID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Status != models.AgentIdle {
		t.Errorf("status = %q, want idle", got.Status)
	}
	if len(got.Skills) != 2 || got.Skills[0] != "copywriting" {
		t.Errorf("skills = %v", got.Skills)
	}
	if got.Persona == nil {
		t.Fatal("persona missing")
	}
	if got.Persona.Personality != "upbeat and direct" {
		t.Errorf("personality = %q", got.Persona.Personality)
	}
	if len(got.Persona.Expertise) != 2 || got.Persona.Expertise[1] != "analytics" {
		t.Errorf("expertise = %v", got.Persona.Expertise)
	}
	if got.Persona.Background == nil || *got.Persona.Background != background {
		t.Errorf("background = %v", got.Persona.Background)
	}
	if got.Persona.SystemPrompt == nil || *got.Persona.SystemPrompt != prompt {
		t.Errorf("system prompt = %v", got.Persona.SystemPrompt)
	}
}

func TestUpdateAgentPartial(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	a := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "June", Role: "Marketer"})

	newRole := "Lead Marketer"
	got, err := s.UpdateAgent(ctx, "growth", a.AgentID, UpdateAgentParams{Role: &newRole})
	if err != nil {
		t.Fatalf("update agent: %v", err)
	}
	if got.Role != newRole {
		t.Errorf("role = %q, want %q", got.Role, newRole)
	}
	if got.Name != "June" {
		t.Errorf("name changed unexpectedly: %q", got.Name)
	}

	bad := "sleeping"
	if _, err := s.UpdateAgent(ctx, "growth", a.AgentID, UpdateAgentParams{Status: &bad}); err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestSetAgentsStatus(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	a1 := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "A", Role: "r"})
	a2 := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "B", Role: "r"})

	if err := s.SetAgentsStatus(ctx, []string{a1.AgentID, a2.AgentID}, models.AgentActive); err != nil {
		t.Fatalf("set status: %v", err)
	}
	for _, id := range []string{a1.AgentID, a2.AgentID} {
		got, err := s.GetAgent(ctx, "growth", id)
		if err != nil {
			t.Fatalf("get agent: %v", err)
		}
		if got.Status != models.AgentActive {
			t.Errorf("agent %s status = %q, want active", id, got.Status)
		}
	}

	if err := s.SetAgentsStatus(ctx, nil, models.AgentActive); err != nil {
		t.Errorf("empty id list should be a no-op, got %v", err)
	}
}

func TestCreateTaskWithAssignments(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	a1 := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "Planner", Role: "Strategist"})
	a2 := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "Writer", Role: "Copywriter"})

	id, err := s.CreateTask(ctx, "growth", CreateTaskParams{
		Creator:      "alice",
		Title:        "Q3 launch plan",
		WorkflowType: models.WorkflowSequential,
		AgentIDs:     []string{a1.AgentID, a2.AgentID},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	task, err := s.GetTask(ctx, "growth", id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != models.StatusPending {
		t.Errorf("status = %q, want pending", task.Status)
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("priority = %q, want medium default", task.Priority)
	}
	if len(task.Assignments) != 2 {
		t.Fatalf("assignments = %d, want 2", len(task.Assignments))
	}
	if task.Assignments[0].AgentID != a1.AgentID || task.Assignments[0].Role != models.AssignmentPrimary {
		t.Errorf("first assignment = %+v, want primary %s", task.Assignments[0], a1.AgentID)
	}
	if task.Assignments[1].AgentID != a2.AgentID || task.Assignments[1].Role != models.AssignmentSupport {
		t.Errorf("second assignment = %+v, want support %s", task.Assignments[1], a2.AgentID)
	}
}

func TestCreateTaskUnknownAgentRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	mustCreateTeam(t, s, "growth", "alice")
	_, err := s.CreateTask(context.Background(), "growth", CreateTaskParams{
		Creator:  "alice",
		Title:    "t",
		AgentIDs: []string{"missing"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetTaskExecutionOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	a1 := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "First", Role: "r", Persona: &PersonaParams{Personality: "calm"}})
	a2 := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "Second", Role: "r"})
	a3 := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "Third", Role: "r"})

	id, err := s.CreateTask(ctx, "growth", CreateTaskParams{
		Creator:  "alice",
		Title:    "t",
		AgentIDs: []string{a2.AgentID, a3.AgentID, a1.AgentID},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	exec, err := s.GetTaskExecution(ctx, "growth", id)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	wantOrder := []string{"Second", "Third", "First"}
	if len(exec.Agents) != len(wantOrder) {
		t.Fatalf("agents = %d, want %d", len(exec.Agents), len(wantOrder))
	}
	for i, want := range wantOrder {
		if exec.Agents[i].Agent.Name != want {
			t.Errorf("agent[%d] = %q, want %q", i, exec.Agents[i].Agent.Name, want)
		}
	}
	if exec.Agents[2].Agent.Persona == nil || exec.Agents[2].Agent.Persona.Personality != "calm" {
		t.Errorf("persona not resolved on assigned agent: %+v", exec.Agents[2].Agent.Persona)
	}
}

func TestListTasksFilter(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	a1 := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "A", Role: "r"})
	a2 := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "B", Role: "r"})

	t1, err := s.CreateTask(ctx, "growth", CreateTaskParams{Creator: "alice", Title: "one", AgentIDs: []string{a1.AgentID}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := s.CreateTask(ctx, "growth", CreateTaskParams{Creator: "alice", Title: "two", AgentIDs: []string{a2.AgentID}}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if ok, err := s.BeginTaskExecution(ctx, t1, time.Now()); err != nil || !ok {
		t.Fatalf("begin execution: ok=%v err=%v", ok, err)
	}

	tasks, err := s.ListTasks(ctx, "growth", TaskFilter{Status: models.StatusInProgress})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].TaskID != t1 {
		t.Errorf("status filter returned %+v", tasks)
	}

	tasks, err = s.ListTasks(ctx, "growth", TaskFilter{AgentID: a2.AgentID})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "two" {
		t.Errorf("agent filter returned %+v", tasks)
	}
}

func TestBeginTaskExecutionGuard(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	a := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "A", Role: "r"})
	id, err := s.CreateTask(ctx, "growth", CreateTaskParams{Creator: "alice", Title: "t", AgentIDs: []string{a.AgentID}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	started := time.Now()
	ok, err := s.BeginTaskExecution(ctx, id, started)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !ok {
		t.Fatal("first begin should succeed")
	}

	// Second begin must be refused while in_progress.
	ok, err = s.BeginTaskExecution(ctx, id, time.Now())
	if err != nil {
		t.Fatalf("begin again: %v", err)
	}
	if ok {
		t.Fatal("second begin should be refused")
	}

	task, err := s.GetTask(ctx, "growth", id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != models.StatusInProgress {
		t.Errorf("status = %q, want in_progress", task.Status)
	}
	if task.StartedAt == nil {
		t.Error("started_at not stamped")
	}
}

func TestCompleteAndRevertTask(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	a := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "A", Role: "r"})
	id, err := s.CreateTask(ctx, "growth", CreateTaskParams{Creator: "alice", Title: "t", AgentIDs: []string{a.AgentID}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if ok, err := s.BeginTaskExecution(ctx, id, time.Now()); err != nil || !ok {
		t.Fatalf("begin: ok=%v err=%v", ok, err)
	}
	if err := s.RevertTask(ctx, id); err != nil {
		t.Fatalf("revert: %v", err)
	}
	task, err := s.GetTask(ctx, "growth", id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != models.StatusPending {
		t.Errorf("status after revert = %q, want pending", task.Status)
	}
	if task.StartedAt == nil {
		t.Error("revert should leave started_at from the failed attempt")
	}

	if ok, err := s.BeginTaskExecution(ctx, id, time.Now()); err != nil || !ok {
		t.Fatalf("begin after revert: ok=%v err=%v", ok, err)
	}
	if err := s.CompleteTask(ctx, id, time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	task, err = s.GetTask(ctx, "growth", id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", task.Status)
	}
	if task.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}
}

func TestResultLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	team := mustCreateTeam(t, s, "growth", "alice")
	a := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "A", Role: "r"})
	id, err := s.CreateTask(ctx, "growth", CreateTaskParams{Creator: "alice", Title: "plan", AgentIDs: []string{a.AgentID}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	r, err := s.CreateResult(ctx, CreateResultParams{TaskID: id, TeamID: team.TeamID, Title: "plan result", Content: "the plan"})
	if err != nil {
		t.Fatalf("create result: %v", err)
	}
	if r.Status != models.ReviewPending {
		t.Errorf("new result status = %q, want pending", r.Status)
	}
	if r.ContentType != "text" {
		t.Errorf("content type = %q, want text default", r.ContentType)
	}

	feedback := "looks good"
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.UpdateResultReview(ctx, r.ResultID, models.ReviewApproved, &feedback, &now); err != nil {
		t.Fatalf("review: %v", err)
	}
	got, err := s.GetResult(ctx, "growth", r.ResultID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if got.Status != models.ReviewApproved {
		t.Errorf("status = %q, want approved", got.Status)
	}
	if got.Feedback == nil || *got.Feedback != feedback {
		t.Errorf("feedback = %v", got.Feedback)
	}
	if got.ApprovedAt == nil || !got.ApprovedAt.Equal(now) {
		t.Errorf("approved_at = %v, want %v", got.ApprovedAt, now)
	}

	results, err := s.ListResults(ctx, "growth", id)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}

	if err := s.DeleteResult(ctx, "growth", r.ResultID); err != nil {
		t.Fatalf("delete result: %v", err)
	}
	if _, err := s.GetResult(ctx, "growth", r.ResultID); !errors.Is(err, ErrNotFound) {
		t.Errorf("result still present: %v", err)
	}
}

func TestHistoryAppendAndList(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	a := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "A", Role: "r"})
	id, err := s.CreateTask(ctx, "growth", CreateTaskParams{Creator: "alice", Title: "t", AgentIDs: []string{a.AgentID}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if _, err := s.AppendHistory(ctx, id, "started", "execution started", map[string]any{"workflow_type": "single"}); err != nil {
		t.Fatalf("append history: %v", err)
	}
	if _, err := s.AppendHistory(ctx, id, "completed", "execution completed", nil); err != nil {
		t.Fatalf("append history: %v", err)
	}

	entries, err := s.ListTaskHistory(ctx, id, 0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Action != "completed" || entries[1].Action != "started" {
		t.Errorf("order = %q, %q", entries[0].Action, entries[1].Action)
	}
	if entries[1].Metadata["workflow_type"] != "single" {
		t.Errorf("metadata = %v", entries[1].Metadata)
	}

	teamEntries, err := s.ListTeamHistory(ctx, "growth", 0)
	if err != nil {
		t.Fatalf("list team history: %v", err)
	}
	if len(teamEntries) != 2 {
		t.Errorf("team entries = %d, want 2", len(teamEntries))
	}
}

func TestCountTasksByStatus(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateTeam(t, s, "growth", "alice")
	a := mustCreateAgent(t, s, "growth", CreateAgentParams{Name: "A", Role: "r"})
	t1, err := s.CreateTask(ctx, "growth", CreateTaskParams{Creator: "alice", Title: "one", AgentIDs: []string{a.AgentID}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := s.CreateTask(ctx, "growth", CreateTaskParams{Creator: "alice", Title: "two"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if ok, err := s.BeginTaskExecution(ctx, t1, time.Now()); err != nil || !ok {
		t.Fatalf("begin: ok=%v err=%v", ok, err)
	}

	counts, err := s.CountTasksByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[models.StatusPending] != 1 || counts[models.StatusInProgress] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustCreateTeam(t, s, "growth", "alice")
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen runs Migrate again over the same file.
	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	if _, err := s2.GetTeamByName(context.Background(), "growth"); err != nil {
		t.Fatalf("data lost across reopen: %v", err)
	}
}
