package main

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/HarryR/kitsh/internal/buildinfo"
	"github.com/HarryR/kitsh/internal/config"
	"github.com/HarryR/kitsh/internal/ptyprocess"
	"github.com/HarryR/kitsh/internal/sshtask"
	"github.com/HarryR/kitsh/internal/task"
	"github.com/HarryR/kitsh/internal/wstask"
)

//go:embed index.md
var indexPage []byte

// server holds the collaborators a route handler needs: configuration,
// the process-wide task registry, and a logger.
type server struct {
	cfg      *config.Config
	manager  *task.Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newServer(cfg *config.Config, manager *task.Manager, logger *slog.Logger) *server {
	return &server{
		cfg:     cfg,
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/websocket", s.handleWebsocket)
	return mux
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// handleIndex renders a Markdown operator page listing active
// sessions, matching webui.py's task-list landing route.
func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var md bytes.Buffer
	md.WriteString(strings.Replace(string(indexPage), "%s", buildinfo.Version, 1))
	md.WriteString("\n## Active sessions\n\n")
	tasks := s.manager.List()
	if len(tasks) == 0 {
		md.WriteString("_no active sessions_\n")
	} else {
		for _, t := range tasks {
			fmt.Fprintf(&md, "- `%s` %s (%s)\n", t.ID(), t.Label(), t.State())
		}
	}

	var html bytes.Buffer
	if err := goldmark.Convert(md.Bytes(), &html); err != nil {
		s.logger.Error("failed to render index page", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html.Bytes())
}

// handleWebsocket upgrades the connection and bridges it to a session
// task chosen by ?mode=shell|ssh, mirroring webui.py's /websocket
// route: build the websocket task, build the session task, bridge
// them, wait, then stop both.
func (s *server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	session, err := s.newSessionRunnable(r)
	if err != nil {
		s.logger.Warn("failed to build session", "error", err, "remote", r.RemoteAddr)
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		_ = conn.Close()
		return
	}

	wsTask := s.manager.Spawn(wstask.New(conn).WithLogger(s.logger))
	wsTask.SetLabel(fmt.Sprintf("ws:%s", r.RemoteAddr))

	sessionTask := s.manager.Spawn(session)
	sessionTask.SetLabel(sessionLabel(r))

	s.logger.Info("session started", "remote", r.RemoteAddr, "mode", r.URL.Query().Get("mode"), "ws", wsTask.ID(), "session", sessionTask.ID())

	bridge := wsTask.Bridge(sessionTask)
	bridge.Wait()

	wsTask.Stop()
	sessionTask.Stop()
	wsTask.Wait(5 * time.Second)
	sessionTask.Wait(5 * time.Second)

	s.logger.Info("session ended", "remote", r.RemoteAddr, "ws", wsTask.ID(), "session", sessionTask.ID())
}

func sessionLabel(r *http.Request) string {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "shell"
	}
	return fmt.Sprintf("%s:%s", mode, r.RemoteAddr)
}

// newSessionRunnable builds the Runnable for the requested session
// mode. "shell" (the default) spawns the configured local command in
// a pty; "ssh" dials the configured remote host.
func (s *server) newSessionRunnable(r *http.Request) (task.Runnable, error) {
	mode := r.URL.Query().Get("mode")
	switch mode {
	case "", "shell":
		return ptyprocess.New(s.cfg.Shell.Command).
			WithEnv(append(os.Environ(), "TERM="+s.cfg.Shell.Term)).
			WithLogger(s.logger), nil
	case "ssh":
		return s.newSSHRunnable()
	default:
		return nil, fmt.Errorf("unknown session mode %q", mode)
	}
}

func (s *server) newSSHRunnable() (task.Runnable, error) {
	if s.cfg.SSH.Addr == "" {
		return nil, fmt.Errorf("ssh session requested but ssh.addr is not configured")
	}

	addr := s.cfg.SSH.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	auths, err := sshAuthMethods()
	if err != nil {
		return nil, err
	}

	cfg := sshtask.Config{
		Addr:            addr,
		User:            s.cfg.SSH.User,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Duration(s.cfg.SSH.TimeoutSec) * time.Second,
		Term:            s.cfg.SSH.Term,
		Width:           80,
		Height:          24,
	}
	return sshtask.New(cfg).WithLogger(s.logger), nil
}

// sshAuthMethods authenticates against a running ssh-agent, matching
// the original's allow_agent fallback when no password or key is
// configured.
func sshAuthMethods() ([]ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("ssh session requires SSH_AUTH_SOCK (no agent running)")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connect to ssh-agent: %w", err)
	}
	ag := agent.NewClient(conn)
	return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, nil
}
