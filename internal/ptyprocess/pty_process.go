// Package ptyprocess implements the child-process/pty adapter
// described in spec.md §4.6: a Runnable that attaches a child process
// to a pseudo-terminal and bridges its byte stream to the Task channel
// model: data and resize messages in, data messages out (the pty
// carries the child's stdout and stderr as one stream, so no error
// messages are emitted).
//
// This package only builds on unix-like platforms — pty allocation has
// no Windows equivalent in this module, matching the original
// Python implementation's termios/fcntl dependence (see
// original_source/kitsh/core/process.py).
//
//go:build !windows

package ptyprocess

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"

	"github.com/HarryR/kitsh/internal/message"
	"github.com/HarryR/kitsh/internal/task"
)

// readBufSize is the bounded read size used by the reader goroutine,
// matching the original's 1024-byte reads.
const readBufSize = 1024

// PtyProcess is a Runnable that spawns a child process attached to a
// pseudo-terminal and bridges it to a Task's input/output channels.
type PtyProcess struct {
	name string
	args []string
	env  []string
	dir  string

	logger *slog.Logger

	mu       sync.Mutex
	ptmx     *os.File
	cmd      *exec.Cmd
	finished atomic.Bool
}

// New returns a PtyProcess that will exec name with args when Run is
// called.
func New(name string, args ...string) *PtyProcess {
	return &PtyProcess{name: name, args: args, logger: slog.Default()}
}

// WithEnv sets the child process's environment (defaults to the
// parent's environment via os/exec's normal behavior if never
// called).
func (p *PtyProcess) WithEnv(env []string) *PtyProcess {
	p.env = env
	return p
}

// WithDir sets the child process's working directory.
func (p *PtyProcess) WithDir(dir string) *PtyProcess {
	p.dir = dir
	return p
}

// WithLogger sets the logger used for reader/writer diagnostics.
func (p *PtyProcess) WithLogger(logger *slog.Logger) *PtyProcess {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Run implements task.Runnable. It starts the child process attached
// to a pty, then runs the reader/writer loop described in spec.md
// §4.6 until the child exits or the task is stopped.
func (p *PtyProcess) Run(t *task.Task) error {
	cmd := exec.Command(p.name, p.args...)
	if p.env != nil {
		cmd.Env = p.env
	}
	if p.dir != "" {
		cmd.Dir = p.dir
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("ptyprocess: start %s: %w", p.name, err)
	}

	p.mu.Lock()
	p.ptmx = ptmx
	p.cmd = cmd
	p.mu.Unlock()

	// writer runs detached: it exits on its own once the pty master
	// closes (write error), the finished flag is set, or Task.run
	// closes t.Input once Run returns — Run does not wait for it.
	go p.writer(t)

	p.reader(t)

	_ = ptmx.Close()

	if cmd.Process != nil {
		if !p.finished.Load() {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}
	_ = cmd.Wait()
	p.finished.Store(true)

	return nil
}

// writer watches task.Input and applies resize/data messages to the
// pty master, per spec.md §4.6's writer protocol. A partial write
// retries only on the residual buffer; out-of-order resize messages
// are legal at any time and unknown tags are ignored.
func (p *PtyProcess) writer(t *task.Task) {
	sub := t.Input.Watch()
	defer sub.Close()

	for {
		msg, ok := sub.Recv()
		if !ok {
			return
		}
		if p.finished.Load() {
			return
		}

		if msg.Resize != nil {
			p.mu.Lock()
			ptmx := p.ptmx
			p.mu.Unlock()
			if ptmx != nil {
				_ = pty.Setsize(ptmx, &pty.Winsize{
					Rows: msg.Resize.Height,
					Cols: msg.Resize.Width,
				})
			}
			continue
		}

		if msg.Data == nil {
			continue
		}

		p.mu.Lock()
		ptmx := p.ptmx
		p.mu.Unlock()
		if ptmx == nil {
			return
		}

		buf := msg.Data
		for len(buf) > 0 && !p.finished.Load() {
			n, err := ptmx.Write(buf)
			if n > 0 {
				buf = buf[n:]
			}
			if err != nil {
				return
			}
		}
	}
}

// reader issues bounded reads from the pty master and sends the
// results as {data: …} messages until EOF, a read error, or the
// finished flag is set.
func (p *PtyProcess) reader(t *task.Task) {
	buf := make([]byte, readBufSize)
	for {
		p.mu.Lock()
		ptmx := p.ptmx
		p.mu.Unlock()
		if ptmx == nil || p.finished.Load() {
			return
		}

		n, err := ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if sendErr := t.Output.Send(message.Data(data)); sendErr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Debug("ptyprocess reader stopped", "error", err)
			}
			p.finished.Store(true)
			return
		}
	}
}

// Stop implements task.Stopper: it marks the process finished (which
// breaks the reader/writer loops out of their next iteration),
// signals the child with SIGTERM if it is still alive, and closes the
// pty master. Task.Stop calls this before closing the task's
// channels.
func (p *PtyProcess) Stop() error {
	p.finished.Store(true)

	p.mu.Lock()
	cmd := p.cmd
	ptmx := p.ptmx
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	if ptmx != nil {
		_ = ptmx.Close()
	}
	return nil
}
