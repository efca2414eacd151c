// Package sshtask implements SSHTask, the remote-session Runnable
// named but left unspecified by spec.md §1's component table and
// supplemented here from original_source/kitsh/cmd/ssh.py: a pty-backed
// (or single-command) SSH session bridged to a Task's channels using
// the same writer/reader split as internal/ptyprocess.
package sshtask

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/HarryR/kitsh/internal/message"
	"github.com/HarryR/kitsh/internal/task"
)

const readBufSize = 1024

// Config describes the remote endpoint and session to open. The
// caller is responsible for selecting an authentication method
// (password, private key, agent forwarding) and for HostKeyCallback
// policy — SSHTask performs no credential handling of its own beyond
// what x/crypto/ssh requires to dial.
type Config struct {
	Addr            string // "host:port"
	User            string
	Auth            []ssh.AuthMethod
	HostKeyCallback ssh.HostKeyCallback
	Timeout         time.Duration

	// Term is the terminal type requested via RequestPty, defaulting
	// to "xterm" if empty.
	Term string
	// Width and Height seed the pty's initial size; later resize
	// messages call session.WindowChange.
	Width, Height uint16

	// Command, if non-empty, is exec'd directly instead of invoking
	// an interactive shell (mirrors SSHTask.run's `if self._command`
	// branch in the original).
	Command string
}

// SSHTask is a Runnable that dials cfg.Addr, opens a session, and
// bridges it to a Task's input/output channels.
type SSHTask struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	client   *ssh.Client
	session  *ssh.Session
	stdin    io.WriteCloser
	finished atomic.Bool
}

// New returns an SSHTask for cfg.
func New(cfg Config) *SSHTask {
	if cfg.Term == "" {
		cfg.Term = "xterm"
	}
	return &SSHTask{cfg: cfg, logger: slog.Default()}
}

// WithLogger sets the logger used for reader/writer diagnostics.
func (s *SSHTask) WithLogger(logger *slog.Logger) *SSHTask {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Run implements task.Runnable: dial, open a pty session, run the
// command or shell, and bridge it to t until the remote side exits or
// the task is stopped.
func (s *SSHTask) Run(t *task.Task) error {
	client, err := ssh.Dial("tcp", s.cfg.Addr, &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            s.cfg.Auth,
		HostKeyCallback: s.cfg.HostKeyCallback,
		Timeout:         s.cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("sshtask: dial %s: %w", s.cfg.Addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return fmt.Errorf("sshtask: new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(s.cfg.Term, int(s.cfg.Height), int(s.cfg.Width), modes); err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("sshtask: request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("sshtask: stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("sshtask: stdout pipe: %w", err)
	}
	// A requested pty merges the remote's stdout and stderr into a
	// single stream, same as internal/ptyprocess's local child — see
	// DESIGN.md's Open Question 2. x/crypto/ssh still requires a
	// Stderr writer even when the pty makes it redundant.
	session.Stderr = io.Discard

	s.mu.Lock()
	s.client = client
	s.session = session
	s.stdin = stdin
	s.mu.Unlock()

	if s.cfg.Command != "" {
		if err := session.Start(s.cfg.Command); err != nil {
			s.cleanup()
			return fmt.Errorf("sshtask: start command: %w", err)
		}
	} else {
		if err := session.Shell(); err != nil {
			s.cleanup()
			return fmt.Errorf("sshtask: invoke shell: %w", err)
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writer(t)
	}()

	s.reader(t, stdout)

	<-writerDone
	_ = session.Wait()
	s.finished.Store(true)
	s.cleanup()

	return nil
}

// writer watches task.Input and applies data/resize messages to the
// remote session, mirroring internal/ptyprocess's writer: a partial
// write retries only on the residual buffer.
func (s *SSHTask) writer(t *task.Task) {
	sub := t.Input.Watch()
	defer sub.Close()

	for {
		msg, ok := sub.Recv()
		if !ok || s.finished.Load() {
			return
		}

		if msg.Resize != nil {
			s.mu.Lock()
			session := s.session
			s.mu.Unlock()
			if session != nil {
				_ = session.WindowChange(int(msg.Resize.Height), int(msg.Resize.Width))
			}
			continue
		}

		if msg.Data == nil {
			continue
		}

		s.mu.Lock()
		stdin := s.stdin
		s.mu.Unlock()
		if stdin == nil {
			return
		}

		buf := msg.Data
		for len(buf) > 0 && !s.finished.Load() {
			n, err := stdin.Write(buf)
			if n > 0 {
				buf = buf[n:]
			}
			if err != nil {
				return
			}
		}
	}
}

// reader issues bounded reads from the session's combined output and
// forwards them as {data: …} messages until EOF, a read error, or the
// finished flag is set.
func (s *SSHTask) reader(t *task.Task, stdout io.Reader) {
	buf := make([]byte, readBufSize)
	for {
		if s.finished.Load() {
			return
		}
		n, err := stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if sendErr := t.Output.Send(message.Data(data)); sendErr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("sshtask reader stopped", "error", err)
			}
			s.finished.Store(true)
			return
		}
	}
}

// Stop implements task.Stopper: it marks the session finished (which
// breaks the reader/writer loops out of their next iteration) and
// closes the session and the underlying client.
func (s *SSHTask) Stop() error {
	s.finished.Store(true)
	s.cleanup()
	return nil
}

func (s *SSHTask) cleanup() {
	s.mu.Lock()
	session := s.session
	client := s.client
	s.session = nil
	s.client = nil
	s.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	if client != nil {
		_ = client.Close()
	}
}
