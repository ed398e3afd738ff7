// Package notify posts task lifecycle announcements to external channels.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// Notifier is an integration that can deliver a message (e.g. Slack).
type Notifier interface {
	Name() string
	Notify(ctx context.Context, message string) error
}

// Registry holds loaded notifiers by name. Announce fans a message out to all
// of them, best-effort.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

func NewRegistry() *Registry {
	return &Registry{notifiers: make(map[string]Notifier)}
}

func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n.Name()] = n
}

func (r *Registry) Get(name string) Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifiers[name]
}

// Notify delivers to one named notifier.
func (r *Registry) Notify(ctx context.Context, name, message string) error {
	n := r.Get(name)
	if n == nil {
		return fmt.Errorf("notifier %q not found", name)
	}
	return n.Notify(ctx, message)
}

// Announce delivers to every registered notifier. Failures are logged, never
// returned; a broken webhook must not fail a task execution.
func (r *Registry) Announce(ctx context.Context, text string) {
	r.mu.RLock()
	all := make([]Notifier, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		all = append(all, n)
	}
	r.mu.RUnlock()

	for _, n := range all {
		if err := n.Notify(ctx, text); err != nil {
			slog.Warn("notification failed", "notifier", n.Name(), "err", err)
		}
	}
}

// SlackWebhook sends messages to a Slack channel via incoming webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	payload := map[string]any{"text": message}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
