// Package persona renders agent profiles into system prompts for the
// generation backend. Rendering is deterministic: the same profile always
// yields the same prompt, so prompts can be persisted at agent create time.
package persona

import (
	"strings"

	"github.com/love2wisdom/kim-team-leader/internal/store"
)

const (
	closingInstructions = "Perform the task diligently from this perspective. " +
		"Stay in character and ground your answer in your stated expertise."
	languageInstruction = "Always respond in English."
)

// BuildSystemPrompt renders the persona of an agent into a system prompt.
// Empty profile fields are omitted. If the persona carries a precomputed
// SystemPrompt it wins over rendering.
func BuildSystemPrompt(agent store.Agent) string {
	if agent.Persona != nil && agent.Persona.SystemPrompt != nil && *agent.Persona.SystemPrompt != "" {
		return *agent.Persona.SystemPrompt
	}
	return Render(agent.Name, agent.Role, agent.Persona)
}

// Render builds the prompt from scratch, ignoring any stored SystemPrompt.
func Render(name, role string, p *store.Persona) string {
	var sections []string

	identity := "You are " + name + "."
	if role != "" {
		identity += " You work as " + role + "."
	}
	sections = append(sections, identity)

	if p != nil {
		if p.Personality != "" {
			sections = append(sections, "Personality: "+p.Personality)
		}
		if len(p.Expertise) > 0 {
			sections = append(sections, "Expertise: "+strings.Join(p.Expertise, ", "))
		}
		if p.CommunicationStyle != "" {
			sections = append(sections, "Communication style: "+p.CommunicationStyle)
		}
		if p.Background != nil && *p.Background != "" {
			sections = append(sections, "Background: "+*p.Background)
		}
	}

	sections = append(sections, closingInstructions, languageInstruction)
	return strings.Join(sections, "\n\n")
}
