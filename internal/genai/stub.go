package genai

import (
	"context"
	"sync"
)

// Stub is a scripted Client for tests and offline runs. Responses are returned
// in order; once exhausted, the last one repeats. With no responses configured,
// it echoes a short acknowledgment.
type Stub struct {
	Responses []string
	Err       error

	mu    sync.Mutex
	calls []StubCall
	next  int
}

// StubCall records one invocation for assertions.
type StubCall struct {
	SystemPrompt string
	UserPrompt   string
	History      []Turn
}

func (s *Stub) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.record(StubCall{SystemPrompt: systemPrompt, UserPrompt: userPrompt})
}

func (s *Stub) Chat(ctx context.Context, systemPrompt string, history []Turn, message string) (string, error) {
	return s.record(StubCall{SystemPrompt: systemPrompt, UserPrompt: message, History: history})
}

func (s *Stub) record(c StubCall) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Responses) == 0 {
		return "ok: " + c.UserPrompt, nil
	}
	i := s.next
	if i >= len(s.Responses) {
		i = len(s.Responses) - 1
	}
	s.next++
	return s.Responses[i], nil
}

// Calls returns a copy of the recorded invocations.
func (s *Stub) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubCall, len(s.calls))
	copy(out, s.calls)
	return out
}
