package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/love2wisdom/kim-team-leader/internal/genai"
	"github.com/love2wisdom/kim-team-leader/pkg/models"
)

func newTestServer(t *testing.T, stub *genai.Stub) (*httptest.Server, *App) {
	t.Helper()
	app, err := NewApp(ServerOptions{Home: t.TempDir(), Addr: "127.0.0.1:0", Generation: stub})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(ts.Close)
	return ts, app
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// TestHandlers exercises the CRUD surface end to end against a real store.
func TestHandlers(t *testing.T) {
	t.Parallel()
	stub := &genai.Stub{Responses: []string{"generated result"}}
	ts, _ := newTestServer(t, stub)

	// POST team with empty name
	if resp := postJSON(t, ts.URL+"/teams", `{"name":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /teams empty name: status=%d", resp.StatusCode)
	}

	// Create team
	resp := postJSON(t, ts.URL+"/teams", `{"name":"growth","description":"marketing team"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /teams: %d", resp.StatusCode)
	}
	team := decode[models.Team](t, resp)
	if team.Name != "growth" || team.Owner != "user" {
		t.Fatalf("team = %+v", team)
	}

	// GET team detail and list
	if resp, _ := http.Get(ts.URL + "/teams/growth"); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /teams/growth: %d", resp.StatusCode)
	}
	if resp, _ := http.Get(ts.URL + "/teams"); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /teams: %d", resp.StatusCode)
	}
	if resp, _ := http.Get(ts.URL + "/teams/nope"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /teams/nope: %d", resp.StatusCode)
	}

	// Templates catalog
	tplResp, _ := http.Get(ts.URL + "/agents/templates")
	if tplResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /agents/templates: %d", tplResp.StatusCode)
	}
	tpls := decode[[]models.AgentTemplate](t, tplResp)
	if len(tpls) != 6 {
		t.Fatalf("templates = %d, want 6", len(tpls))
	}

	// Create agent from a template
	resp = postJSON(t, ts.URL+"/teams/growth/agents", `{"template_id":"marketer"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST agents from template: %d", resp.StatusCode)
	}
	agent := decode[models.Agent](t, resp)
	if agent.Name != "Marketer" || agent.Persona == nil || agent.Persona.SystemPrompt == nil {
		t.Fatalf("agent = %+v", agent)
	}

	// Create agent with explicit persona
	resp = postJSON(t, ts.URL+"/teams/growth/agents",
		`{"name":"Ann","role":"Copywriter","skills":["writing"],"persona":{"personality":"warm","expertise":["ads"],"communication_style":"direct"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST agents: %d", resp.StatusCode)
	}
	ann := decode[models.Agent](t, resp)
	if ann.Persona == nil || ann.Persona.SystemPrompt == nil || !strings.Contains(*ann.Persona.SystemPrompt, "Ann") {
		t.Fatalf("ann persona = %+v", ann.Persona)
	}

	// Agent requires name and role
	if resp := postJSON(t, ts.URL+"/teams/growth/agents", `{"name":"x"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST agents without role: %d", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/teams/growth/agents", `{"template_id":"chef"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST agents unknown template: %d", resp.StatusCode)
	}

	// PATCH agent: rename regenerates the persona prompt
	resp = doJSON(t, http.MethodPatch, ts.URL+"/teams/growth/agents/"+ann.AgentID,
		`{"name":"Anna","persona":{"personality":"warm","expertise":["ads"],"communication_style":"direct"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH agent: %d", resp.StatusCode)
	}
	anna := decode[models.Agent](t, resp)
	if anna.Name != "Anna" || anna.Persona.SystemPrompt == nil || !strings.Contains(*anna.Persona.SystemPrompt, "Anna") {
		t.Fatalf("anna = %+v", anna)
	}

	// Create task with ordered assignments
	resp = postJSON(t, ts.URL+"/teams/growth/tasks",
		fmt.Sprintf(`{"title":"launch plan","workflow_type":"single","agent_ids":[%q]}`, agent.AgentID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST tasks: %d", resp.StatusCode)
	}
	created := decode[struct {
		TaskID int64 `json:"task_id"`
	}](t, resp)
	if created.TaskID == 0 {
		t.Fatal("expected non-zero task_id")
	}
	taskID := created.TaskID

	// Validation failures
	if resp := postJSON(t, ts.URL+"/teams/growth/tasks", `{"title":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST tasks empty title: %d", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/teams/growth/tasks", `{"title":"x","due_date":"tomorrow"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST tasks bad due_date: %d", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/teams/growth/tasks", `{"title":"x","agent_ids":["ghost"]}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("POST tasks unknown agent: %d", resp.StatusCode)
	}

	// GET task and list with filter
	getTask, _ := http.Get(fmt.Sprintf("%s/teams/growth/tasks/%d", ts.URL, taskID))
	if getTask.StatusCode != http.StatusOK {
		t.Fatalf("GET task: %d", getTask.StatusCode)
	}
	task := decode[models.Task](t, getTask)
	if task.Status != models.StatusPending || len(task.Assignments) != 1 {
		t.Fatalf("task = %+v", task)
	}
	listResp, _ := http.Get(ts.URL + "/teams/growth/tasks?status=pending")
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("GET tasks: %d", listResp.StatusCode)
	}

	// PATCH task invalid status
	if resp := doJSON(t, http.MethodPatch, fmt.Sprintf("%s/teams/growth/tasks/%d", ts.URL, taskID), `{"status":"done"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("PATCH invalid status: %d", resp.StatusCode)
	}
	// PATCH task progress
	resp = doJSON(t, http.MethodPatch, fmt.Sprintf("%s/teams/growth/tasks/%d", ts.URL, taskID), `{"progress":40}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH progress: %d", resp.StatusCode)
	}
	if got := decode[models.Task](t, resp); got.Progress != 40 {
		t.Fatalf("progress = %d", got.Progress)
	}

	// Execute the task
	resp = postJSON(t, fmt.Sprintf("%s/teams/growth/tasks/%d/execute", ts.URL, taskID), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST execute: %d", resp.StatusCode)
	}
	result := decode[models.Result](t, resp)
	if result.Content != "generated result" || result.Status != models.ReviewPending {
		t.Fatalf("result = %+v", result)
	}
	// Second execute conflicts: the task is no longer pending.
	if resp := postJSON(t, fmt.Sprintf("%s/teams/growth/tasks/%d/execute", ts.URL, taskID), ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-execute: %d", resp.StatusCode)
	}

	// Task history records started and completed
	histResp, _ := http.Get(fmt.Sprintf("%s/teams/growth/tasks/%d/history", ts.URL, taskID))
	if histResp.StatusCode != http.StatusOK {
		t.Fatalf("GET task history: %d", histResp.StatusCode)
	}
	hist := decode[[]models.History](t, histResp)
	if len(hist) != 2 || hist[0].Action != "completed" || hist[1].Action != "started" {
		t.Fatalf("history = %+v", hist)
	}
	teamHistResp, _ := http.Get(ts.URL + "/teams/growth/history")
	if teamHistResp.StatusCode != http.StatusOK {
		t.Fatalf("GET team history: %d", teamHistResp.StatusCode)
	}

	// Results: list, get, review
	resultsResp, _ := http.Get(fmt.Sprintf("%s/teams/growth/results?task_id=%d", ts.URL, taskID))
	if resultsResp.StatusCode != http.StatusOK {
		t.Fatalf("GET results: %d", resultsResp.StatusCode)
	}
	if results := decode[[]models.Result](t, resultsResp); len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	resp = doJSON(t, http.MethodPatch, ts.URL+"/teams/growth/results/"+result.ResultID,
		`{"status":"approved","feedback":"looks good"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH result: %d", resp.StatusCode)
	}
	reviewed := decode[models.Result](t, resp)
	if reviewed.Status != models.ReviewApproved || reviewed.ApprovedAt == nil {
		t.Fatalf("reviewed = %+v", reviewed)
	}
	if resp := doJSON(t, http.MethodPatch, ts.URL+"/teams/growth/results/"+result.ResultID, `{"status":"shipped"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("PATCH result invalid status: %d", resp.StatusCode)
	}
	if resp, _ := http.Get(ts.URL + "/teams/growth/results/missing"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET missing result: %d", resp.StatusCode)
	}

	// Approval completed the task.
	getTask2, _ := http.Get(fmt.Sprintf("%s/teams/growth/tasks/%d", ts.URL, taskID))
	if got := decode[models.Task](t, getTask2); got.Status != models.StatusCompleted {
		t.Fatalf("task after approval = %q", got.Status)
	}

	// Members
	if resp := postJSON(t, ts.URL+"/teams/growth/members", `{"user":"bob"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("POST members: %d", resp.StatusCode)
	}
	membersResp, _ := http.Get(ts.URL + "/teams/growth/members")
	if members := decode[[]models.TeamMember](t, membersResp); len(members) != 2 {
		t.Fatalf("members = %+v", members)
	}

	// /config, /bootstrap, /metrics, /health
	if resp, _ := http.Get(ts.URL + "/config"); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /config: %d", resp.StatusCode)
	}
	bootResp, _ := http.Get(ts.URL + "/bootstrap")
	if bootResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /bootstrap: %d", bootResp.StatusCode)
	}
	boot := decode[models.Bootstrap](t, bootResp)
	if boot.InitialTeam == nil || *boot.InitialTeam != "growth" || len(boot.Agents) == 0 {
		t.Fatalf("bootstrap = %+v", boot)
	}
	if resp, _ := http.Get(ts.URL + "/metrics"); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics: %d", resp.StatusCode)
	}
	if resp, _ := http.Get(ts.URL + "/health"); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health: %d", resp.StatusCode)
	}

	// DELETE agent, task, team
	if resp := doJSON(t, http.MethodDelete, ts.URL+"/teams/growth/agents/"+anna.AgentID, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE agent: %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodDelete, fmt.Sprintf("%s/teams/growth/tasks/%d", ts.URL, taskID), ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE task: %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodDelete, ts.URL+"/teams/growth", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE team: %d", resp.StatusCode)
	}
	if resp, _ := http.Get(ts.URL + "/teams/growth"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET deleted team: %d", resp.StatusCode)
	}
}

// TestUserScoping verifies X-User identity gates access where it must.
func TestUserScoping(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &genai.Stub{Responses: []string{"out"}})

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/teams", strings.NewReader(`{"name":"alpha"}`))
	req.Header.Set("X-User", "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	_ = resp.Body.Close()

	// Team listing is scoped to the requester.
	listReq, _ := http.NewRequest(http.MethodGet, ts.URL+"/teams", nil)
	listReq.Header.Set("X-User", "mallory")
	listResp, _ := http.DefaultClient.Do(listReq)
	defer func() { _ = listResp.Body.Close() }()
	var teams []models.Team
	_ = json.NewDecoder(listResp.Body).Decode(&teams)
	if len(teams) != 0 {
		t.Fatalf("mallory sees %d teams, want 0", len(teams))
	}

	// An outsider cannot delete the team.
	delReq, _ := http.NewRequest(http.MethodDelete, ts.URL+"/teams/alpha", nil)
	delReq.Header.Set("X-User", "mallory")
	delResp, _ := http.DefaultClient.Do(delReq)
	defer func() { _ = delResp.Body.Close() }()
	if delResp.StatusCode != http.StatusForbidden {
		t.Fatalf("DELETE by outsider: %d", delResp.StatusCode)
	}
}

func TestChat(t *testing.T) {
	t.Parallel()
	stub := &genai.Stub{Responses: []string{"hello from the agent"}}
	ts, _ := newTestServer(t, stub)

	_ = postJSON(t, ts.URL+"/teams", `{"name":"chatteam"}`)
	agentResp := postJSON(t, ts.URL+"/teams/chatteam/agents", `{"name":"Sage","role":"Advisor","persona":{"personality":"calm"}}`)
	agent := decode[models.Agent](t, agentResp)

	body := fmt.Sprintf(`{"team":"chatteam","agent_id":%q,"message":"what next?","history":[{"role":"user","text":"hi"},{"role":"assistant","text":"hello"}]}`, agent.AgentID)
	resp := postJSON(t, ts.URL+"/chat", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /chat: %d", resp.StatusCode)
	}
	reply := decode[struct {
		Reply string `json:"reply"`
	}](t, resp)
	if reply.Reply != "hello from the agent" {
		t.Fatalf("reply = %q", reply.Reply)
	}

	calls := stub.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	if !strings.Contains(calls[0].SystemPrompt, "Sage") {
		t.Errorf("system prompt missing persona: %q", calls[0].SystemPrompt)
	}
	if len(calls[0].History) != 2 || calls[0].History[1].Role != "model" {
		t.Errorf("history = %+v", calls[0].History)
	}

	// Missing fields
	if resp := postJSON(t, ts.URL+"/chat", `{"team":"chatteam"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /chat missing fields: %d", resp.StatusCode)
	}
	// Unknown agent
	if resp := postJSON(t, ts.URL+"/chat", `{"team":"chatteam","agent_id":"ghost","message":"hi"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("POST /chat unknown agent: %d", resp.StatusCode)
	}
}

func TestExecuteErrorsMapToStatusCodes(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &genai.Stub{Responses: []string{"out"}})

	_ = postJSON(t, ts.URL+"/teams", `{"name":"errs"}`)
	taskResp := postJSON(t, ts.URL+"/teams/errs/tasks", `{"title":"orphan"}`)
	created := decode[struct {
		TaskID int64 `json:"task_id"`
	}](t, taskResp)

	// No assignments -> 400
	if resp := postJSON(t, fmt.Sprintf("%s/teams/errs/tasks/%d/execute", ts.URL, created.TaskID), ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("execute without assignments: %d", resp.StatusCode)
	}
	// Unknown task -> 404
	if resp := postJSON(t, ts.URL+"/teams/errs/tasks/99999/execute", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("execute unknown task: %d", resp.StatusCode)
	}
	// Outsider -> 403
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/teams/errs/tasks/%d/execute", ts.URL, created.TaskID), nil)
	req.Header.Set("X-User", "mallory")
	resp, _ := http.DefaultClient.Do(req)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("execute by outsider: %d", resp.StatusCode)
	}
}
