package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/HarryR/kitsh/internal/config"
	"github.com/HarryR/kitsh/internal/task"
)

func testServer() *server {
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newServer(cfg, task.NewManager(), logger)
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleIndexListsActiveSessions(t *testing.T) {
	s := testServer()
	s.manager.Spawn(task.RunnableFunc(func(t *task.Task) error {
		sub := t.Input.Watch()
		sub.Recv()
		return nil
	})).SetLabel("demo-session")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	s.handleIndex(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "demo-session") {
		t.Errorf("index page missing session label, got: %s", rec.Body.String())
	}
}

func TestHandleIndexUnknownPathIs404(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()

	s.handleIndex(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestNewSessionRunnableRejectsUnknownMode(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/websocket?mode=bogus", nil)

	if _, err := s.newSessionRunnable(req); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestNewSessionRunnableSSHRequiresAddr(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/websocket?mode=ssh", nil)

	if _, err := s.newSessionRunnable(req); err == nil {
		t.Fatal("expected error when ssh.addr is unconfigured")
	}
}

func TestHandleWebsocketShellRoundTrip(t *testing.T) {
	s := testServer()
	s.cfg.Shell.Command = "/bin/cat"

	ts := httptest.NewServer(http.HandlerFunc(s.handleWebsocket))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/websocket?mode=shell"
	u, err := url.Parse(wsURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"data": "ping\n"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	found := false
	for i := 0; i < 10 && !found; i++ {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if data, ok := msg["data"].(string); ok && strings.Contains(data, "ping") {
			found = true
		}
	}
	if !found {
		t.Fatal("did not see echoed ping from /bin/cat session")
	}
}
