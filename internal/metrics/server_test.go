package metrics

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := NewServer(ServerConfig{
		Registry: NewRegistry(),
		Status: func() Status {
			return Status{Provider: "gemini", Servers: 3, PoolWorkers: 2, PoolActive: 1}
		},
		Logger: testLogger(),
	})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_Health(t *testing.T) {
	ts := testServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestServer_Status(t *testing.T) {
	ts := testServer(t)
	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
		Bot    Status `json:"bot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Bot.Provider != "gemini" || body.Bot.Servers != 3 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if CachedGuild.Value() != 3 || PoolActive.Value() != 1 {
		t.Fatal("status request should refresh the gauges")
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := testServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("content type %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(raw), "lurkbot_uptime_seconds") {
		t.Fatalf("unexpected body:\n%s", raw)
	}
}

func TestServer_RejectsOtherMethods(t *testing.T) {
	ts := testServer(t)
	resp, err := http.Post(ts.URL+"/metrics", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
