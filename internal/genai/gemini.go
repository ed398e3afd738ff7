package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Gemini calls the Google generative language REST API.
type Gemini struct {
	APIKey  string
	Model   string
	BaseURL string // override for tests; empty means the public endpoint
	HTTP    *http.Client
}

// NewGemini returns a client for the given model. baseURL may be empty.
func NewGemini(apiKey, model, baseURL string) *Gemini {
	return &Gemini{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

func (g *Gemini) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.call(ctx, systemPrompt, []geminiContent{
		{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
	})
}

func (g *Gemini) Chat(ctx context.Context, systemPrompt string, history []Turn, message string) (string, error) {
	contents := make([]geminiContent, 0, len(history)+1)
	for _, t := range history {
		role := t.Role
		if role != "model" {
			role = "user"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: t.Text}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: message}}})
	return g.call(ctx, systemPrompt, contents)
}

func (g *Gemini) call(ctx context.Context, systemPrompt string, contents []geminiContent) (string, error) {
	if g.APIKey == "" {
		return "", &GenerationError{Model: g.Model, Err: errors.New("api key not configured")}
	}
	reqBody := struct {
		SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
		Contents          []geminiContent `json:"contents"`
	}{Contents: contents}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	base := g.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	url := strings.TrimSuffix(base, "/") + "/v1beta/models/" + g.Model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.APIKey)

	client := g.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &GenerationError{Model: g.Model, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &GenerationError{
			Model:  g.Model,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}

	var apiResp struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", &GenerationError{Model: g.Model, Err: err}
	}
	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		return "", &GenerationError{Model: g.Model, Err: errors.New("empty response")}
	}
	var sb strings.Builder
	for _, p := range apiResp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
