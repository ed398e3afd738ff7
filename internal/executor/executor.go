// Package executor runs a task's assigned agents under its workflow type and
// produces a single combined result.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/love2wisdom/kim-team-leader/internal/genai"
	"github.com/love2wisdom/kim-team-leader/internal/otel"
	"github.com/love2wisdom/kim-team-leader/internal/persona"
	"github.com/love2wisdom/kim-team-leader/internal/store"
	"github.com/love2wisdom/kim-team-leader/pkg/models"
)

// Executor dispatches a task to its workflow strategy.
type Executor struct {
	Client genai.Client
	// TeamName is used for metrics attribution only.
	TeamName string
}

// Run produces the combined result text for the task. A single assignment
// always runs the single strategy regardless of the declared workflow type,
// and an unknown type falls back to single.
func (e *Executor) Run(ctx context.Context, task *store.TaskExecution) (string, error) {
	if task.WorkflowType == models.WorkflowSingle || len(task.Agents) == 1 {
		return e.runSingle(ctx, task)
	}
	switch task.WorkflowType {
	case models.WorkflowSequential:
		return e.runSequential(ctx, task)
	case models.WorkflowParallel:
		return e.runParallel(ctx, task)
	case models.WorkflowCollaborative:
		return e.runCollaborative(ctx, task)
	default:
		return e.runSingle(ctx, task)
	}
}

// taskBrief renders the task into its prompt section. Empty fields are omitted.
func taskBrief(t *store.TaskExecution) string {
	var sb strings.Builder
	sb.WriteString("## Task briefing\n")
	sb.WriteString("Title: " + t.Title)
	if t.Description != nil && *t.Description != "" {
		sb.WriteString("\nDescription: " + *t.Description)
	}
	if t.Instruction != nil && *t.Instruction != "" {
		sb.WriteString("\nInstruction: " + *t.Instruction)
	}
	return sb.String()
}

func sectionHeader(a store.Agent) string {
	return fmt.Sprintf("### %s (%s) result:", a.Name, a.Role)
}

func (e *Executor) generate(ctx context.Context, agent store.Agent, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	out, err := e.Client.Generate(ctx, systemPrompt, userPrompt)
	otel.RecordGenerationCall(ctx, e.TeamName, agent.Name, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", agent.Name, err)
	}
	return out, nil
}

func (e *Executor) runSingle(ctx context.Context, task *store.TaskExecution) (string, error) {
	agent := task.Agents[0].Agent
	prompt := taskBrief(task) + "\n\nPerform the task above and write up your result."
	return e.generate(ctx, agent, persona.BuildSystemPrompt(agent), prompt)
}

// runSequential runs agents in assignment order. Each agent after the first
// sees everything accumulated so far and builds on it.
func (e *Executor) runSequential(ctx context.Context, task *store.TaskExecution) (string, error) {
	brief := taskBrief(task)
	var accumulated string
	for _, aa := range task.Agents {
		agent := aa.Agent
		prompt := brief + "\n\n"
		if accumulated != "" {
			prompt += "## Previous collaborators' work\n" + accumulated +
				"\n\nUsing the work above, perform your part of the task from your role's perspective and write up your result."
		} else {
			prompt += "Perform the task above and write up your result."
		}
		out, err := e.generate(ctx, agent, persona.BuildSystemPrompt(agent), prompt)
		if err != nil {
			return "", err
		}
		accumulated += "\n\n" + sectionHeader(agent) + "\n" + out
	}
	return accumulated, nil
}

// runParallel fans out one generation per agent and aggregates in assignment
// order, so the output is stable no matter which agent finishes first.
func (e *Executor) runParallel(ctx context.Context, task *store.TaskExecution) (string, error) {
	brief := taskBrief(task)
	outputs := make([]string, len(task.Agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, aa := range task.Agents {
		i, aa := i, aa
		g.Go(func() error {
			agent := aa.Agent
			prompt := brief + "\n\nPerform the task above from your own role and expertise and write up your result."
			out, err := e.generate(gctx, agent, persona.BuildSystemPrompt(agent), prompt)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Parallel work results\n")
	for i, aa := range task.Agents {
		sb.WriteString("\n" + sectionHeader(aa.Agent) + "\n" + outputs[i] + "\n")
	}
	return sb.String(), nil
}

// runCollaborative makes one generation call that role-plays the whole roster
// discussing the task and converging on a deliverable.
func (e *Executor) runCollaborative(ctx context.Context, task *store.TaskExecution) (string, error) {
	var roster strings.Builder
	for _, aa := range task.Agents {
		roster.WriteString("- " + aa.Agent.Name + ": " + aa.Agent.Role + "\n")
	}

	prompt := "You are a team of collaborators, each playing one of the roles below. " +
		"Discuss the task from each role's perspective and work together toward one final deliverable.\n\n" +
		"## Team roster\n" + roster.String() + "\n" +
		taskBrief(task) + "\n\n" +
		"Present each role's viewpoint, then converge. Write your answer in this format:\n\n" +
		"## Discussion\n(each role's input and how the discussion unfolded)\n\n" +
		"## Final deliverable\n(the result the team agreed on)"

	return e.generate(ctx, task.Agents[0].Agent, "", prompt)
}
