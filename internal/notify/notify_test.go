package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegistry_RegisterGet(t *testing.T) {
	reg := NewRegistry()
	n := SlackWebhook{WebhookURL: "https://example.com"}
	reg.Register(n)
	got := reg.Get("slack")
	if got != n {
		t.Fatalf("Get(slack): got %+v", got)
	}
	if reg.Get("nonexistent") != nil {
		t.Fatal("Get(nonexistent) should be nil")
	}
}

func TestRegistry_NotifyUnknown(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Notify(context.Background(), "slack", "msg"); err == nil {
		t.Fatal("expected error for unknown notifier")
	}
}

type failingNotifier struct{}

func (failingNotifier) Name() string { return "broken" }

func (failingNotifier) Notify(context.Context, string) error { return errors.New("boom") }

func TestRegistry_AnnounceNeverFails(t *testing.T) {
	reg := NewRegistry()
	reg.Register(failingNotifier{})
	// Must not panic or propagate the error.
	reg.Announce(context.Background(), "task done")
}

func TestSlackWebhook_Notify_mockHTTP(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := SlackWebhook{WebhookURL: srv.URL, Username: "teamleader"}
	if err := n.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if payload["text"] != "hello" || payload["username"] != "teamleader" {
		t.Errorf("payload = %v", payload)
	}
}

func TestSlackWebhook_Notify_non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := SlackWebhook{WebhookURL: srv.URL}
	if err := n.Notify(context.Background(), "msg"); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestSlackWebhook_Notify_emptyURL(t *testing.T) {
	n := SlackWebhook{}
	if err := n.Notify(context.Background(), "msg"); err == nil {
		t.Fatal("expected error when webhook URL empty")
	}
}
