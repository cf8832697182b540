package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backend-racesync/internal/auth"
	"backend-racesync/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(config.Config{JWTSecret: "secret-secret", ServerPort: ":0"}, nil, nil)
	t.Cleanup(s.Close)
	return s
}

func TestHealthRoute(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestIngestRequiresToken(t *testing.T) {
	s := newTestServer(t)
	body := `{"event":"heartbeat","data":{}}`

	req := httptest.NewRequest(http.MethodPost, "/tracking/races/1/events", strings.NewReader(body))
	resp, err := s.App.Test(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}

	watcher := s.Stream.Register("1")
	defer s.Stream.Unregister(watcher)

	token, err := auth.Sign("secret-secret", "race-engine", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/tracking/races/1/events", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = s.App.Test(req)
	if err != nil || resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected accepted, got %v %v", err, resp.StatusCode)
	}

	select {
	case msg := <-watcher.Send:
		if !strings.Contains(string(msg), `"heartbeat"`) {
			t.Fatalf("unexpected relay %s", msg)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("event was not relayed")
	}
}

func TestStreamRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/stream/ws/1", nil))
	if err != nil {
		t.Fatalf("ws request: %v", err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusOK {
		t.Fatalf("expected upgrade failure, got %d", resp.StatusCode)
	}
}
