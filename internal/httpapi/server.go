// Package httpapi serves the team-leader HTTP API and SSE event stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/love2wisdom/kim-team-leader/internal/config"
	"github.com/love2wisdom/kim-team-leader/internal/executor"
	"github.com/love2wisdom/kim-team-leader/internal/genai"
	"github.com/love2wisdom/kim-team-leader/internal/notify"
	"github.com/love2wisdom/kim-team-leader/internal/persona"
	"github.com/love2wisdom/kim-team-leader/internal/review"
	"github.com/love2wisdom/kim-team-leader/internal/store"
	"github.com/love2wisdom/kim-team-leader/internal/store/postgres"
	"github.com/love2wisdom/kim-team-leader/internal/templates"
	"github.com/love2wisdom/kim-team-leader/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (web UI on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-User")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server (home dir, listen addr, API key, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	DBDriver       string       // "sqlite" (default) or "postgres"
	DBURL          string       // for postgres: connection string (or set DATABASE_URL env)
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
	Generation     genai.Client // if set, used instead of the Gemini client built from settings
}

// App holds the HTTP server, SSE hub, store, task runner, and notifier registry.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Store  store.Store
	Runner *executor.Runner
	Notify *notify.Registry
	Home   string
}

// NewApp creates the HTTP app (server, hub, store, runner) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	settings, err := config.LoadSettings(opts.Home)
	if err != nil {
		return nil, err
	}
	client := opts.Generation
	if client == nil {
		client = genai.NewGemini(settings.Generation.APIKey, settings.Generation.Model, settings.Generation.BaseURL)
	}
	reg := notify.NewRegistry()
	if settings.Slack.WebhookURL != "" {
		reg.Register(notify.SlackWebhook{WebhookURL: settings.Slack.WebhookURL, Username: "teamleader"})
	}
	runner := &executor.Runner{Store: st, Client: client, Events: hub, Notify: reg}
	reviews := &review.Service{Store: st}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			counts, _ := st.CountTasksByStatus(r.Context())
			_, _ = fmt.Fprintf(w, "# TYPE teamleader_tasks_total gauge\n")
			for _, status := range []string{
				models.StatusPending, models.StatusInProgress, models.StatusAwaitingReview,
				models.StatusCompleted, models.StatusFailed, models.StatusCancelled,
			} {
				_, _ = fmt.Fprintf(w, "teamleader_tasks_total{status=%q} %d\n", status, counts[status])
			}
		})
	}

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.Config{Home: opts.Home, GenerationModel: settings.Generation.Model})
	})

	mux.HandleFunc("/bootstrap", func(w http.ResponseWriter, r *http.Request) {
		handleBootstrap(w, r, st, opts.Home, settings.Generation.Model)
	})

	mux.HandleFunc("/stream", hub.Handler())

	// --- Agent templates catalog ---
	mux.HandleFunc("/agents/templates", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, templates.List(r.URL.Query().Get("category")))
	})

	// --- Chat with an agent (no persistence) ---
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var body struct {
			Team    string `json:"team"`
			AgentID string `json:"agent_id"`
			Message string `json:"message"`
			History []struct {
				Role string `json:"role"`
				Text string `json:"text"`
			} `json:"history"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.Team == "" || body.AgentID == "" || body.Message == "" {
			writeJSONError(w, http.StatusBadRequest, "team, agent_id, and message required")
			return
		}
		if user := requester(r); user != "" {
			ok, err := st.UserHasAccess(r.Context(), body.Team, user)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if !ok {
				writeJSONError(w, http.StatusForbidden, "access denied")
				return
			}
		}
		agent, err := st.GetAgent(r.Context(), body.Team, body.AgentID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		turns := make([]genai.Turn, len(body.History))
		for i, t := range body.History {
			role := "user"
			if t.Role == "assistant" || t.Role == "model" {
				role = "model"
			}
			turns[i] = genai.Turn{Role: role, Text: t.Text}
		}
		reply, err := client.Chat(r.Context(), persona.BuildSystemPrompt(*agent), turns, body.Message)
		if err != nil {
			var genErr *genai.GenerationError
			if errors.As(err, &genErr) {
				writeJSONError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"agent_id": agent.AgentID, "reply": reply})
	})

	// --- Teams ---
	mux.HandleFunc("/teams", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			teams, err := st.ListTeams(r.Context(), requester(r))
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, teamsJSON(teams))
			return
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Purpose     string `json:"purpose"`
				Type        string `json:"type"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			if body.Name == "" {
				writeJSONError(w, http.StatusBadRequest, "name required")
				return
			}
			owner := requester(r)
			if owner == "" {
				owner = "user"
			}
			t, err := st.CreateTeam(r.Context(), store.CreateTeamParams{
				Name:        body.Name,
				Description: body.Description,
				Purpose:     body.Purpose,
				Type:        body.Type,
				Owner:       owner,
			})
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			hub.PublishJSON(map[string]any{"type": "team_update", "team": t.Name})
			writeJSON(w, teamJSON(t))
			return
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
	})

	// --- Team-scoped endpoints ---
	mux.HandleFunc("/teams/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/teams/")
		parts := strings.Split(rest, "/")
		if len(parts) < 1 || parts[0] == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		team := parts[0]

		// /teams/{team}
		if len(parts) == 1 || parts[1] == "" {
			switch r.Method {
			case http.MethodGet:
				t, err := st.GetTeamByName(r.Context(), team)
				if err != nil {
					writeStoreError(w, err)
					return
				}
				writeJSON(w, teamJSON(t))
				return
			case http.MethodDelete:
				if !canManage(w, r, st, team) {
					return
				}
				if err := st.DeleteTeam(r.Context(), team); err != nil {
					writeStoreError(w, err)
					return
				}
				hub.PublishJSON(map[string]any{"type": "team_update", "team": team})
				writeJSON(w, map[string]any{"ok": true})
				return
			default:
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
		}

		switch parts[1] {
		case "members":
			handleMembers(w, r, st, team)
			return

		case "agents":
			// /teams/{team}/agents/{id}
			if len(parts) >= 3 && parts[2] != "" {
				handleAgent(w, r, st, hub, team, parts[2])
				return
			}
			switch r.Method {
			case http.MethodGet:
				agents, err := st.ListAgents(r.Context(), team)
				if err != nil {
					writeStoreError(w, err)
					return
				}
				writeJSON(w, agentsJSON(agents))
				return
			case http.MethodPost:
				handleCreateAgent(w, r, st, hub, team)
				return
			default:
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}

		case "tasks":
			// /teams/{team}/tasks/{id} and sub-routes
			if len(parts) >= 3 && parts[2] != "" {
				var taskID int64
				if _, err := fmt.Sscanf(parts[2], "%d", &taskID); err != nil {
					writeJSONError(w, http.StatusBadRequest, "invalid task id")
					return
				}
				// /teams/{team}/tasks/{id}/execute
				if len(parts) >= 4 && parts[3] == "execute" {
					if r.Method != http.MethodPost {
						writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
						return
					}
					result, err := runner.Execute(r.Context(), team, taskID, requester(r))
					if err != nil {
						writeExecuteError(w, err)
						return
					}
					writeJSON(w, resultJSON(*result))
					return
				}
				// /teams/{team}/tasks/{id}/history
				if len(parts) >= 4 && parts[3] == "history" {
					if r.Method != http.MethodGet {
						writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
						return
					}
					entries, err := st.ListTaskHistory(r.Context(), taskID, parseLimit(r, models.DefaultHistoryListLimit))
					if err != nil {
						writeStoreError(w, err)
						return
					}
					writeJSON(w, historyJSON(entries))
					return
				}
				handleTask(w, r, st, hub, team, taskID)
				return
			}
			// /teams/{team}/tasks
			switch r.Method {
			case http.MethodGet:
				filter := store.TaskFilter{
					Status:  r.URL.Query().Get("status"),
					AgentID: r.URL.Query().Get("agent"),
					Limit:   parseLimit(r, models.DefaultTaskListLimit),
				}
				tasks, err := st.ListTasks(r.Context(), team, filter)
				if err != nil {
					writeStoreError(w, err)
					return
				}
				writeJSON(w, tasksJSON(tasks))
				return
			case http.MethodPost:
				handleCreateTask(w, r, st, hub, team)
				return
			default:
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}

		case "results":
			// /teams/{team}/results/{id}
			if len(parts) >= 3 && parts[2] != "" {
				handleResult(w, r, st, reviews, hub, team, parts[2])
				return
			}
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var taskID int64
			if v := r.URL.Query().Get("task_id"); v != "" {
				if _, err := fmt.Sscanf(v, "%d", &taskID); err != nil {
					writeJSONError(w, http.StatusBadRequest, "invalid task_id")
					return
				}
			}
			results, err := st.ListResults(r.Context(), team, taskID)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, resultsJSON(results))
			return

		case "history":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			entries, err := st.ListTeamHistory(r.Context(), team, parseLimit(r, models.DefaultHistoryListLimit))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, historyJSON(entries))
			return

		default:
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
	})

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "teamleader")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute, // workflow executions answer inline
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})

	return &App{Server: srv, Hub: hub, Store: st, Runner: runner, Notify: reg, Home: opts.Home}, nil
}

// requester returns the caller identity from the X-User header. Authentication
// is handled upstream; the header value is trusted as given.
func requester(r *http.Request) string {
	return r.Header.Get("X-User")
}

// canManage enforces owner/admin permission when a requester is present.
// Writes the error response and returns false on denial.
func canManage(w http.ResponseWriter, r *http.Request, st store.Store, team string) bool {
	user := requester(r)
	if user == "" {
		return true
	}
	ok, err := st.UserCanManage(r.Context(), team, user)
	if err != nil {
		writeStoreError(w, err)
		return false
	}
	if !ok {
		writeJSONError(w, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func handleMembers(w http.ResponseWriter, r *http.Request, st store.Store, team string) {
	switch r.Method {
	case http.MethodGet:
		members, err := st.ListTeamMembers(r.Context(), team)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, membersJSON(members))
	case http.MethodPost:
		if !canManage(w, r, st, team) {
			return
		}
		var body struct {
			User string `json:"user"`
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.User == "" {
			writeJSONError(w, http.StatusBadRequest, "user required")
			return
		}
		if body.Role == "" {
			body.Role = models.MemberMember
		}
		if err := st.AddTeamMember(r.Context(), team, body.User, body.Role); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// agentBody is the JSON payload for agent create and update.
type agentBody struct {
	TemplateID string   `json:"template_id"`
	Name       *string  `json:"name"`
	Role       *string  `json:"role"`
	Skills     []string `json:"skills"`
	Status     *string  `json:"status"`
	Persona    *struct {
		Personality        string   `json:"personality"`
		Expertise          []string `json:"expertise"`
		CommunicationStyle string   `json:"communication_style"`
		Background         *string  `json:"background"`
	} `json:"persona"`
}

// personaParams renders the system prompt for the given profile and returns
// store params carrying it.
func personaParams(name, role string, b *agentBody) *store.PersonaParams {
	if b.Persona == nil {
		return nil
	}
	p := store.Persona{
		Personality:        b.Persona.Personality,
		Expertise:          b.Persona.Expertise,
		CommunicationStyle: b.Persona.CommunicationStyle,
		Background:         b.Persona.Background,
	}
	prompt := persona.Render(name, role, &p)
	return &store.PersonaParams{
		Personality:        p.Personality,
		Expertise:          p.Expertise,
		CommunicationStyle: p.CommunicationStyle,
		Background:         p.Background,
		SystemPrompt:       &prompt,
	}
}

func handleCreateAgent(w http.ResponseWriter, r *http.Request, st store.Store, hub *SSEHub, team string) {
	var body agentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	var name, role string
	if body.Name != nil {
		name = *body.Name
	}
	if body.Role != nil {
		role = *body.Role
	}
	skills := body.Skills
	if body.TemplateID != "" {
		tpl, ok := templates.Get(body.TemplateID)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "unknown template "+body.TemplateID)
			return
		}
		if name == "" {
			name = tpl.Name
		}
		if role == "" {
			role = tpl.Role
		}
		if len(skills) == 0 {
			skills = tpl.Skills
		}
		if body.Persona == nil {
			bg := tpl.Persona.Background
			body.Persona = &struct {
				Personality        string   `json:"personality"`
				Expertise          []string `json:"expertise"`
				CommunicationStyle string   `json:"communication_style"`
				Background         *string  `json:"background"`
			}{
				Personality:        tpl.Persona.Personality,
				Expertise:          tpl.Persona.Expertise,
				CommunicationStyle: tpl.Persona.CommunicationStyle,
				Background:         bg,
			}
		}
	}
	if name == "" || role == "" {
		writeJSONError(w, http.StatusBadRequest, "name and role required")
		return
	}
	agent, err := st.CreateAgent(r.Context(), team, store.CreateAgentParams{
		Name:    name,
		Role:    role,
		Skills:  skills,
		Persona: personaParams(name, role, &body),
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	hub.PublishJSON(map[string]any{"type": "agent_update", "team": team, "agent_id": agent.AgentID})
	writeJSON(w, agentJSON(agent))
}

func handleAgent(w http.ResponseWriter, r *http.Request, st store.Store, hub *SSEHub, team, agentID string) {
	switch r.Method {
	case http.MethodGet:
		agent, err := st.GetAgent(r.Context(), team, agentID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, agentJSON(*agent))
	case http.MethodPatch:
		var body agentBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		var pp *store.PersonaParams
		if body.Persona != nil {
			// Render the prompt against the effective name and role.
			current, err := st.GetAgent(r.Context(), team, agentID)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			name, role := current.Name, current.Role
			if body.Name != nil {
				name = *body.Name
			}
			if body.Role != nil {
				role = *body.Role
			}
			pp = personaParams(name, role, &body)
		}
		agent, err := st.UpdateAgent(r.Context(), team, agentID, store.UpdateAgentParams{
			Name:    body.Name,
			Role:    body.Role,
			Skills:  body.Skills,
			Status:  body.Status,
			Persona: pp,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		hub.PublishJSON(map[string]any{"type": "agent_update", "team": team, "agent_id": agentID})
		writeJSON(w, agentJSON(*agent))
	case http.MethodDelete:
		if !canManage(w, r, st, team) {
			return
		}
		if err := st.DeleteAgent(r.Context(), team, agentID); err != nil {
			writeStoreError(w, err)
			return
		}
		hub.PublishJSON(map[string]any{"type": "agent_update", "team": team, "agent_id": agentID})
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func handleCreateTask(w http.ResponseWriter, r *http.Request, st store.Store, hub *SSEHub, team string) {
	var body struct {
		Title            string   `json:"title"`
		Description      *string  `json:"description"`
		Instruction      *string  `json:"instruction"`
		Priority         string   `json:"priority"`
		WorkflowType     string   `json:"workflow_type"`
		SupervisionLevel string   `json:"supervision_level"`
		DueDate          *string  `json:"due_date"`
		AgentIDs         []string `json:"agent_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Title == "" {
		writeJSONError(w, http.StatusBadRequest, "title required")
		return
	}
	var due *time.Time
	if body.DueDate != nil && *body.DueDate != "" {
		t, err := time.Parse(time.RFC3339, *body.DueDate)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "due_date must be RFC 3339")
			return
		}
		due = &t
	}
	creator := requester(r)
	if creator == "" {
		creator = "user"
	}
	id, err := st.CreateTask(r.Context(), team, store.CreateTaskParams{
		Creator:          creator,
		Title:            body.Title,
		Description:      body.Description,
		Instruction:      body.Instruction,
		Priority:         body.Priority,
		WorkflowType:     body.WorkflowType,
		SupervisionLevel: body.SupervisionLevel,
		DueDate:          due,
		AgentIDs:         body.AgentIDs,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	hub.PublishJSON(map[string]any{"type": "task_update", "team": team, "task_id": id})
	writeJSON(w, map[string]any{"task_id": id})
}

func handleTask(w http.ResponseWriter, r *http.Request, st store.Store, hub *SSEHub, team string, taskID int64) {
	switch r.Method {
	case http.MethodGet:
		task, err := st.GetTask(r.Context(), team, taskID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, taskJSON(*task))
	case http.MethodPatch:
		var body struct {
			Title       *string `json:"title"`
			Description *string `json:"description"`
			Instruction *string `json:"instruction"`
			Priority    *string `json:"priority"`
			Status      *string `json:"status"`
			Progress    *int    `json:"progress"`
			DueDate     *string `json:"due_date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.Status != nil && !models.ValidTaskStatus(*body.Status) {
			writeJSONError(w, http.StatusBadRequest, "status must be pending, in_progress, awaiting_review, completed, failed, or cancelled")
			return
		}
		var due *time.Time
		if body.DueDate != nil && *body.DueDate != "" {
			t, err := time.Parse(time.RFC3339, *body.DueDate)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "due_date must be RFC 3339")
				return
			}
			due = &t
		}
		if err := st.UpdateTask(r.Context(), team, taskID, store.UpdateTaskParams{
			Title:       body.Title,
			Description: body.Description,
			Instruction: body.Instruction,
			Priority:    body.Priority,
			Status:      body.Status,
			Progress:    body.Progress,
			DueDate:     due,
		}); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeJSONError(w, http.StatusNotFound, err.Error())
				return
			}
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		task, err := st.GetTask(r.Context(), team, taskID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		hub.PublishJSON(map[string]any{"type": "task_update", "team": team, "task_id": taskID, "status": task.Status})
		writeJSON(w, taskJSON(*task))
	case http.MethodDelete:
		if !canManage(w, r, st, team) {
			return
		}
		if err := st.DeleteTask(r.Context(), team, taskID); err != nil {
			writeStoreError(w, err)
			return
		}
		hub.PublishJSON(map[string]any{"type": "task_update", "team": team, "task_id": taskID})
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func handleResult(w http.ResponseWriter, r *http.Request, st store.Store, reviews *review.Service, hub *SSEHub, team, resultID string) {
	switch r.Method {
	case http.MethodGet:
		result, err := st.GetResult(r.Context(), team, resultID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, resultJSON(*result))
	case http.MethodPatch:
		var body struct {
			Status   string  `json:"status"`
			Feedback *string `json:"feedback"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		result, err := reviews.Review(r.Context(), team, resultID, requester(r), body.Status, body.Feedback)
		if err != nil {
			switch {
			case errors.Is(err, review.ErrPermissionDenied):
				writeJSONError(w, http.StatusForbidden, err.Error())
			case errors.Is(err, store.ErrNotFound):
				writeJSONError(w, http.StatusNotFound, err.Error())
			default:
				writeJSONError(w, http.StatusBadRequest, err.Error())
			}
			return
		}
		hub.PublishJSON(map[string]any{"type": "result_update", "team": team, "result_id": resultID, "status": result.Status})
		writeJSON(w, resultJSON(*result))
	case http.MethodDelete:
		if !canManage(w, r, st, team) {
			return
		}
		if err := st.DeleteResult(r.Context(), team, resultID); err != nil {
			writeStoreError(w, err)
			return
		}
		hub.PublishJSON(map[string]any{"type": "result_update", "team": team, "result_id": resultID})
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func handleBootstrap(w http.ResponseWriter, r *http.Request, st store.Store, home, model string) {
	teams, err := st.ListTeams(r.Context(), requester(r))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := models.Bootstrap{
		Config: models.Config{Home: home, GenerationModel: model},
		Teams:  teamsJSON(teams),
	}
	if len(teams) > 0 {
		initial := teams[0].Name
		out.InitialTeam = &initial
		if agents, err := st.ListAgents(r.Context(), initial); err == nil {
			out.Agents = agentsJSON(agents)
		}
		if tasks, err := st.ListTasks(r.Context(), initial, store.TaskFilter{}); err == nil {
			out.Tasks = tasksJSON(tasks)
		}
	}
	writeJSON(w, out)
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// parseLimit reads ?limit= and clamps it to max; 0 means the store default.
func parseLimit(r *http.Request, max int) int {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, _ := fmt.Sscanf(l, "%d", &limit); n != 1 || limit < 0 {
			limit = 0
		}
		if limit > max {
			limit = max
		}
	}
	return limit
}

// writeExecuteError maps runner errors onto HTTP status codes.
func writeExecuteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, executor.ErrAccessDenied):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, executor.ErrNoAssignments):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, executor.ErrNotPending):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	default:
		var genErr *genai.GenerationError
		if errors.As(err, &genErr) {
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeStoreError maps store errors: not-found becomes 404, the rest 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
