// Package client provides a Go SDK for the teamleader HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/love2wisdom/kim-team-leader/pkg/models"
)

// Client calls the teamleader HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3970"
	APIKey     string       // optional; sent as X-API-Key
	User       string       // optional; sent as X-User requester identity
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:3970").
// APIKey is optional; when set, requests use the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if c.User != "" {
		req.Header.Set("X-User", c.User)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func teamPath(team string) string {
	return "/teams/" + url.PathEscape(team)
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// Config returns the /config response.
func (c *Client) Config(ctx context.Context) (*models.Config, error) {
	var out models.Config
	err := c.doJSON(ctx, http.MethodGet, "/config", nil, &out)
	return &out, err
}

// Bootstrap returns the full /bootstrap payload.
func (c *Client) Bootstrap(ctx context.Context) (*models.Bootstrap, error) {
	var out models.Bootstrap
	err := c.doJSON(ctx, http.MethodGet, "/bootstrap", nil, &out)
	return &out, err
}

// ListTeams returns the requester's teams.
func (c *Client) ListTeams(ctx context.Context) ([]models.Team, error) {
	var out []models.Team
	err := c.doJSON(ctx, http.MethodGet, "/teams", nil, &out)
	return out, err
}

// CreateTeam creates a team and returns it.
func (c *Client) CreateTeam(ctx context.Context, name, description string) (*models.Team, error) {
	var out models.Team
	err := c.doJSON(ctx, http.MethodPost, "/teams", map[string]string{"name": name, "description": description}, &out)
	return &out, err
}

// DeleteTeam deletes a team by name.
func (c *Client) DeleteTeam(ctx context.Context, team string) error {
	return c.doJSON(ctx, http.MethodDelete, teamPath(team), nil, nil)
}

// ListAgents returns agents for a team.
func (c *Client) ListAgents(ctx context.Context, team string) ([]models.Agent, error) {
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, teamPath(team)+"/agents", nil, &out)
	return out, err
}

// CreateAgentParams is the payload for CreateAgent. TemplateID, when set,
// fills any empty fields from the built-in template.
type CreateAgentParams struct {
	TemplateID string          `json:"template_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Role       string          `json:"role,omitempty"`
	Skills     []string        `json:"skills,omitempty"`
	Persona    *models.Persona `json:"persona,omitempty"`
}

// CreateAgent creates an agent and returns it.
func (c *Client) CreateAgent(ctx context.Context, team string, p CreateAgentParams) (*models.Agent, error) {
	var out models.Agent
	err := c.doJSON(ctx, http.MethodPost, teamPath(team)+"/agents", p, &out)
	return &out, err
}

// DeleteAgent removes an agent by id.
func (c *Client) DeleteAgent(ctx context.Context, team, agentID string) error {
	return c.doJSON(ctx, http.MethodDelete, teamPath(team)+"/agents/"+url.PathEscape(agentID), nil, nil)
}

// ListTemplates returns the built-in agent templates (category "" = all).
func (c *Client) ListTemplates(ctx context.Context, category string) ([]models.AgentTemplate, error) {
	path := "/agents/templates"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}
	var out []models.AgentTemplate
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CreateTaskParams is the payload for CreateTask. AgentIDs are assignment order.
type CreateTaskParams struct {
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Instruction      string   `json:"instruction,omitempty"`
	Priority         string   `json:"priority,omitempty"`
	WorkflowType     string   `json:"workflow_type,omitempty"`
	SupervisionLevel string   `json:"supervision_level,omitempty"`
	DueDate          string   `json:"due_date,omitempty"` // RFC 3339
	AgentIDs         []string `json:"agent_ids,omitempty"`
}

// CreateTask creates a task and returns the task_id.
func (c *Client) CreateTask(ctx context.Context, team string, p CreateTaskParams) (taskID int64, err error) {
	var out struct {
		TaskID int64 `json:"task_id"`
	}
	err = c.doJSON(ctx, http.MethodPost, teamPath(team)+"/tasks", p, &out)
	return out.TaskID, err
}

// ListTasks returns tasks for a team, optionally filtered by status (limit 0 = default).
func (c *Client) ListTasks(ctx context.Context, team, status string, limit int) ([]models.Task, error) {
	path := teamPath(team) + "/tasks"
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetTask returns a task by team and ID.
func (c *Client) GetTask(ctx context.Context, team string, taskID int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodGet, teamPath(team)+"/tasks/"+strconv.FormatInt(taskID, 10), nil, &out)
	return &out, err
}

// UpdateTaskStatus patches a task's status.
func (c *Client) UpdateTaskStatus(ctx context.Context, team string, taskID int64, status string) error {
	return c.doJSON(ctx, http.MethodPatch, teamPath(team)+"/tasks/"+strconv.FormatInt(taskID, 10),
		map[string]string{"status": status}, nil)
}

// ExecuteTask runs the task's workflow and returns the stored result.
func (c *Client) ExecuteTask(ctx context.Context, team string, taskID int64) (*models.Result, error) {
	var out models.Result
	err := c.doJSON(ctx, http.MethodPost, teamPath(team)+"/tasks/"+strconv.FormatInt(taskID, 10)+"/execute", nil, &out)
	return &out, err
}

// TaskHistory returns a task's history entries, newest first.
func (c *Client) TaskHistory(ctx context.Context, team string, taskID int64) ([]models.History, error) {
	var out []models.History
	err := c.doJSON(ctx, http.MethodGet, teamPath(team)+"/tasks/"+strconv.FormatInt(taskID, 10)+"/history", nil, &out)
	return out, err
}

// ListResults returns results for a team (taskID 0 = all).
func (c *Client) ListResults(ctx context.Context, team string, taskID int64) ([]models.Result, error) {
	path := teamPath(team) + "/results"
	if taskID > 0 {
		path += "?task_id=" + strconv.FormatInt(taskID, 10)
	}
	var out []models.Result
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ReviewResult sets a result's review status; feedback may be nil to keep the existing text.
func (c *Client) ReviewResult(ctx context.Context, team, resultID, status string, feedback *string) (*models.Result, error) {
	body := map[string]any{"status": status}
	if feedback != nil {
		body["feedback"] = *feedback
	}
	var out models.Result
	err := c.doJSON(ctx, http.MethodPatch, teamPath(team)+"/results/"+url.PathEscape(resultID), body, &out)
	return &out, err
}

// Chat sends a message to an agent and returns its reply. History roles are
// "user" or "assistant".
func (c *Client) Chat(ctx context.Context, team, agentID, message string, history []models.ChatTurn) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/chat", map[string]any{
		"team": team, "agent_id": agentID, "message": message, "history": history,
	}, &out)
	return out.Reply, err
}
