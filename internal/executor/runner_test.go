package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/love2wisdom/kim-team-leader/internal/genai"
	"github.com/love2wisdom/kim-team-leader/internal/store"
	"github.com/love2wisdom/kim-team-leader/pkg/models"
)

type runnerFixture struct {
	store store.Store
	team  store.Team
	a1    store.Agent
	a2    store.Agent
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	team, err := s.CreateTeam(ctx, store.CreateTeamParams{Name: "growth", Owner: "alice"})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	a1, err := s.CreateAgent(ctx, "growth", store.CreateAgentParams{
		Name: "Planner", Role: "Strategist",
		Persona: &store.PersonaParams{Personality: "structured"},
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	a2, err := s.CreateAgent(ctx, "growth", store.CreateAgentParams{Name: "Writer", Role: "Copywriter"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return &runnerFixture{store: s, team: team, a1: a1, a2: a2}
}

func (f *runnerFixture) createTask(t *testing.T, workflow string, agentIDs ...string) int64 {
	t.Helper()
	id, err := f.store.CreateTask(context.Background(), "growth", store.CreateTaskParams{
		Creator:      "alice",
		Title:        "Q3 launch plan",
		WorkflowType: workflow,
		AgentIDs:     agentIDs,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return id
}

func historyActions(t *testing.T, s store.Store, taskID int64) []string {
	t.Helper()
	entries, err := s.ListTaskHistory(context.Background(), taskID, 0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func TestExecuteSuccessLifecycle(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t)
	ctx := context.Background()
	taskID := f.createTask(t, models.WorkflowSequential, f.a1.AgentID, f.a2.AgentID)

	r := &Runner{Store: f.store, Client: &genai.Stub{Responses: []string{"plan", "copy"}}}
	result, err := r.Execute(ctx, "growth", taskID, "alice")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Status != models.ReviewPending {
		t.Errorf("result status = %q, want pending review", result.Status)
	}
	if result.Title != "Q3 launch plan result" {
		t.Errorf("result title = %q", result.Title)
	}
	if !strings.Contains(result.Content, "plan") || !strings.Contains(result.Content, "copy") {
		t.Errorf("result content = %q", result.Content)
	}

	task, err := f.store.GetTask(ctx, "growth", taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != models.StatusCompleted {
		t.Errorf("task status = %q, want completed", task.Status)
	}
	if task.StartedAt == nil || task.CompletedAt == nil {
		t.Error("timestamps not stamped")
	}

	actions := historyActions(t, f.store, taskID)
	if len(actions) != 2 || actions[0] != "completed" || actions[1] != "started" {
		t.Errorf("history actions = %v", actions)
	}
	entries, _ := f.store.ListTaskHistory(ctx, taskID, 0)
	if entries[0].Metadata["result_id"] != result.ResultID {
		t.Errorf("completed metadata = %v", entries[0].Metadata)
	}
	if entries[1].Metadata["workflow_type"] != models.WorkflowSequential {
		t.Errorf("started metadata = %v", entries[1].Metadata)
	}

	for _, id := range []string{f.a1.AgentID, f.a2.AgentID} {
		a, err := f.store.GetAgent(ctx, "growth", id)
		if err != nil {
			t.Fatalf("get agent: %v", err)
		}
		if a.Status != models.AgentActive {
			t.Errorf("agent %s status = %q, want active", a.Name, a.Status)
		}
	}
}

func TestExecuteFailureRevertsToPending(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t)
	ctx := context.Background()
	taskID := f.createTask(t, models.WorkflowSingle, f.a1.AgentID)

	genErr := errors.New("backend down")
	r := &Runner{Store: f.store, Client: &genai.Stub{Err: genErr}}
	_, err := r.Execute(ctx, "growth", taskID, "alice")
	if !errors.Is(err, genErr) {
		t.Fatalf("err = %v, want wrapped backend error", err)
	}

	task, err := f.store.GetTask(ctx, "growth", taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != models.StatusPending {
		t.Errorf("task status = %q, want pending after failure", task.Status)
	}
	if task.StartedAt == nil {
		t.Error("started_at from the failed attempt should remain")
	}
	results, err := f.store.ListResults(ctx, "growth", taskID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want none after failure", len(results))
	}

	// The task can be retried after revert.
	r2 := &Runner{Store: f.store, Client: &genai.Stub{Responses: []string{"second try"}}}
	if _, err := r2.Execute(ctx, "growth", taskID, "alice"); err != nil {
		t.Fatalf("retry after revert: %v", err)
	}
}

// failingCompleteStore errors the completed-status update after the result
// row has already been written.
type failingCompleteStore struct {
	store.Store
	err error
}

func (s *failingCompleteStore) CompleteTask(ctx context.Context, taskID int64, completedAt time.Time) error {
	return s.err
}

func TestExecuteCompleteFailureRevertsToPending(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t)
	ctx := context.Background()
	taskID := f.createTask(t, models.WorkflowSingle, f.a1.AgentID)

	dbErr := errors.New("disk full")
	broken := &failingCompleteStore{Store: f.store, err: dbErr}
	r := &Runner{Store: broken, Client: &genai.Stub{Responses: []string{"done"}}}
	_, err := r.Execute(ctx, "growth", taskID, "alice")
	if !errors.Is(err, dbErr) {
		t.Fatalf("err = %v, want wrapped store error", err)
	}

	task, err := f.store.GetTask(ctx, "growth", taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != models.StatusPending {
		t.Errorf("task status = %q, want pending so it can be retried", task.Status)
	}

	// A retry against a healthy store succeeds.
	r2 := &Runner{Store: f.store, Client: &genai.Stub{Responses: []string{"second try"}}}
	if _, err := r2.Execute(ctx, "growth", taskID, "alice"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestExecuteNoAssignments(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t)
	ctx := context.Background()
	taskID := f.createTask(t, models.WorkflowSingle)

	r := &Runner{Store: f.store, Client: &genai.Stub{}}
	_, err := r.Execute(ctx, "growth", taskID, "alice")
	if !errors.Is(err, ErrNoAssignments) {
		t.Fatalf("err = %v, want ErrNoAssignments", err)
	}

	task, err := f.store.GetTask(ctx, "growth", taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != models.StatusPending {
		t.Errorf("task status = %q, want untouched pending", task.Status)
	}
	if len(historyActions(t, f.store, taskID)) != 0 {
		t.Error("no history should be written for a refused execution")
	}
}

func TestExecuteAccessDenied(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t)
	taskID := f.createTask(t, models.WorkflowSingle, f.a1.AgentID)

	r := &Runner{Store: f.store, Client: &genai.Stub{}}
	_, err := r.Execute(context.Background(), "growth", taskID, "mallory")
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestExecuteRefusesNonPending(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t)
	ctx := context.Background()
	taskID := f.createTask(t, models.WorkflowSingle, f.a1.AgentID)

	r := &Runner{Store: f.store, Client: &genai.Stub{Responses: []string{"done"}}}
	if _, err := r.Execute(ctx, "growth", taskID, "alice"); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	_, err := r.Execute(ctx, "growth", taskID, "alice")
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("err = %v, want ErrNotPending", err)
	}
}

type capturePublisher struct {
	events []any
}

func (p *capturePublisher) PublishJSON(v any) { p.events = append(p.events, v) }

func TestExecutePublishesEvents(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t)
	taskID := f.createTask(t, models.WorkflowSingle, f.a1.AgentID)

	pub := &capturePublisher{}
	r := &Runner{Store: f.store, Client: &genai.Stub{Responses: []string{"done"}}, Events: pub}
	if _, err := r.Execute(context.Background(), "growth", taskID, "alice"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(pub.events) != 2 {
		t.Fatalf("events = %d, want start and completion", len(pub.events))
	}
	first, ok := pub.events[0].(map[string]any)
	if !ok || first["status"] != models.StatusInProgress {
		t.Errorf("first event = %+v", pub.events[0])
	}
	last, ok := pub.events[1].(map[string]any)
	if !ok || last["status"] != models.StatusCompleted {
		t.Errorf("last event = %+v", pub.events[1])
	}
}

func TestExecutePlannerWriterScenario(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t)
	ctx := context.Background()
	taskID := f.createTask(t, models.WorkflowSequential, f.a1.AgentID, f.a2.AgentID)

	stub := &genai.Stub{Responses: []string{"1. outline the launch", "Launch copy based on the outline"}}
	r := &Runner{Store: f.store, Client: stub}
	result, err := r.Execute(ctx, "growth", taskID, "alice")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	calls := stub.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	// Writer must see the planner's output.
	if !strings.Contains(calls[1].UserPrompt, "1. outline the launch") {
		t.Errorf("writer prompt missing planner output:\n%s", calls[1].UserPrompt)
	}
	// Writer runs under its own persona, not the planner's.
	if !strings.Contains(calls[1].SystemPrompt, "You are Writer.") {
		t.Errorf("writer system prompt = %q", calls[1].SystemPrompt)
	}
	iPlanner := strings.Index(result.Content, "### Planner")
	iWriter := strings.Index(result.Content, "### Writer")
	if iPlanner < 0 || iWriter < 0 || iPlanner > iWriter {
		t.Errorf("result sections out of order:\n%s", result.Content)
	}
}
