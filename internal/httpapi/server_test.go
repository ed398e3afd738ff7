package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/love2wisdom/kim-team-leader/internal/genai"
)

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	app, err := NewApp(ServerOptions{Home: t.TempDir(), Addr: ":0", APIKey: "secret", Generation: &genai.Stub{}})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(ts.Close)

	// /health and /metrics exempt
	healthResp, _ := http.Get(ts.URL + "/health")
	defer func() { _ = healthResp.Body.Close() }()
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health without key: %d", healthResp.StatusCode)
	}
	metricsResp, _ := http.Get(ts.URL + "/metrics")
	defer func() { _ = metricsResp.Body.Close() }()
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics without key: %d", metricsResp.StatusCode)
	}

	// /teams without key -> 401
	teamsResp, _ := http.Get(ts.URL + "/teams")
	defer func() { _ = teamsResp.Body.Close() }()
	if teamsResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /teams without key: %d", teamsResp.StatusCode)
	}

	// /teams with X-API-Key -> 200
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/teams", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, _ := http.DefaultClient.Do(req)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /teams with key: %d", resp.StatusCode)
	}

	// /teams with query api_key -> 200
	resp2, _ := http.Get(ts.URL + "/teams?api_key=secret")
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("GET /teams with api_key query: %d", resp2.StatusCode)
	}

	// invalid key -> 401
	req3, _ := http.NewRequest(http.MethodGet, ts.URL+"/teams", nil)
	req3.Header.Set("X-API-Key", "wrong")
	resp3, _ := http.DefaultClient.Do(req3)
	defer func() { _ = resp3.Body.Close() }()
	if resp3.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /teams with wrong key: %d", resp3.StatusCode)
	}
}

func TestCORSDevMode(t *testing.T) {
	t.Parallel()
	app, err := NewApp(ServerOptions{Home: t.TempDir(), Addr: ":0", Dev: true, Generation: &genai.Stub{}})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/teams", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("OPTIONS /teams: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestMetricsHandlerOverride(t *testing.T) {
	t.Parallel()
	custom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("custom metrics"))
	})
	app, err := NewApp(ServerOptions{Home: t.TempDir(), Addr: ":0", MetricsHandler: custom, Generation: &genai.Stub{}})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(ts.Close)

	resp, _ := http.Get(ts.URL + "/metrics")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics: %d", resp.StatusCode)
	}
}
