package httpapi

import (
	"github.com/love2wisdom/kim-team-leader/internal/store"
	"github.com/love2wisdom/kim-team-leader/pkg/models"
)

// Converters from store records to the JSON API types in pkg/models.

func teamJSON(t store.Team) models.Team {
	return models.Team{
		TeamID:      t.TeamID,
		Name:        t.Name,
		Description: t.Description,
		Purpose:     t.Purpose,
		Type:        t.Type,
		Owner:       t.Owner,
		CreatedAt:   t.CreatedAt,
		AgentCount:  t.AgentCount,
		TaskCount:   t.TaskCount,
		MemberCount: t.MemberCount,
	}
}

func teamsJSON(ts []store.Team) []models.Team {
	out := make([]models.Team, len(ts))
	for i, t := range ts {
		out[i] = teamJSON(t)
	}
	return out
}

func memberJSON(m store.TeamMember) models.TeamMember {
	return models.TeamMember{User: m.User, Role: m.Role, CreatedAt: m.CreatedAt}
}

func membersJSON(ms []store.TeamMember) []models.TeamMember {
	out := make([]models.TeamMember, len(ms))
	for i, m := range ms {
		out[i] = memberJSON(m)
	}
	return out
}

func personaJSON(p *store.Persona) *models.Persona {
	if p == nil {
		return nil
	}
	return &models.Persona{
		Personality:        p.Personality,
		Expertise:          p.Expertise,
		CommunicationStyle: p.CommunicationStyle,
		Background:         p.Background,
		SystemPrompt:       p.SystemPrompt,
	}
}

func agentJSON(a store.Agent) models.Agent {
	return models.Agent{
		AgentID:   a.AgentID,
		Name:      a.Name,
		Role:      a.Role,
		Skills:    a.Skills,
		Status:    a.Status,
		Persona:   personaJSON(a.Persona),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func agentsJSON(as []store.Agent) []models.Agent {
	out := make([]models.Agent, len(as))
	for i, a := range as {
		out[i] = agentJSON(a)
	}
	return out
}

func taskJSON(t store.Task) models.Task {
	assignments := make([]models.Assignment, len(t.Assignments))
	for i, a := range t.Assignments {
		assignments[i] = models.Assignment{AgentID: a.AgentID, Role: a.Role, Order: a.Order}
	}
	return models.Task{
		TaskID:           t.TaskID,
		Title:            t.Title,
		Description:      t.Description,
		Instruction:      t.Instruction,
		Priority:         t.Priority,
		WorkflowType:     t.WorkflowType,
		SupervisionLevel: t.SupervisionLevel,
		Status:           t.Status,
		Creator:          t.Creator,
		Progress:         t.Progress,
		DueDate:          t.DueDate,
		StartedAt:        t.StartedAt,
		CompletedAt:      t.CompletedAt,
		Assignments:      assignments,
		ResultCount:      t.ResultCount,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func tasksJSON(ts []store.Task) []models.Task {
	out := make([]models.Task, len(ts))
	for i, t := range ts {
		out[i] = taskJSON(t)
	}
	return out
}

func resultJSON(r store.Result) models.Result {
	return models.Result{
		ResultID:    r.ResultID,
		TaskID:      r.TaskID,
		Title:       r.Title,
		ContentType: r.ContentType,
		Content:     r.Content,
		Status:      r.Status,
		Feedback:    r.Feedback,
		ApprovedAt:  r.ApprovedAt,
		CreatedAt:   r.CreatedAt,
	}
}

func resultsJSON(rs []store.Result) []models.Result {
	out := make([]models.Result, len(rs))
	for i, r := range rs {
		out[i] = resultJSON(r)
	}
	return out
}

func historyJSON(hs []store.History) []models.History {
	out := make([]models.History, len(hs))
	for i, h := range hs {
		out[i] = models.History{
			HistoryID:   h.HistoryID,
			TaskID:      h.TaskID,
			Action:      h.Action,
			Description: h.Description,
			Metadata:    h.Metadata,
			CreatedAt:   h.CreatedAt,
		}
	}
	return out
}
