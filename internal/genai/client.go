// Package genai wraps the text generation backend used to run agent work.
package genai

import (
	"context"
	"fmt"
)

// Turn is one prior exchange in a chat conversation.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// Client generates text on behalf of an agent persona.
type Client interface {
	// Generate produces a completion for a single prompt under a system prompt.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Chat produces a reply given prior turns and a new user message.
	Chat(ctx context.Context, systemPrompt string, history []Turn, message string) (string, error)
}

// GenerationError wraps a backend failure with the model that produced it.
type GenerationError struct {
	Model  string
	Status int
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generation failed (model %s, status %d): %v", e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("generation failed (model %s): %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
