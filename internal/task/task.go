// Package task implements the supervised concurrent activity described
// in spec.md §4.4: Task, its lifecycle state machine, the process-wide
// TaskManager registry, and (in bridge.go) TaskBridge.
package task

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HarryR/kitsh/internal/channel"
)

// State is a Task's position in the NEW → RUNNING → (STOPPED | ERROR)
// lifecycle.
type State int

const (
	// StateNew is the state of a Task before Start is called.
	StateNew State = iota
	// StateRunning is the state while the Runnable's Run method executes.
	StateRunning
	// StateStopped is the state after Run returns without error.
	StateStopped
	// StateError is the state after Run returns a non-nil error or panics.
	StateError
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidState is returned by Start on a Task that is not NEW.
var ErrInvalidState = errors.New("task: invalid state transition")

// Runnable is the capability interface a Task executes. This replaces
// the duck-typed "object exposing run/stop/close by name" of the
// Python source (spec.md §9) with an explicit Go interface.
type Runnable interface {
	Run(t *Task) error
}

// Stopper is an optional capability a Runnable may implement: Task.Stop
// calls it, if present, before closing the task's channels.
type Stopper interface {
	Stop() error
}

// Closer is an optional capability a Runnable may implement, checked
// only if it does not implement Stopper. Mirrors the Python source's
// make_callable(obj, ['stop', 'close']) preference order.
type Closer interface {
	Close() error
}

// RunnableFunc adapts a plain function to the Runnable interface.
type RunnableFunc func(t *Task) error

// Run implements Runnable.
func (f RunnableFunc) Run(t *Task) error { return f(t) }

// Task is a named, supervised concurrent activity with an input
// channel, an output channel, and a lifecycle state machine.
type Task struct {
	id       string
	label    string
	Input    *channel.Channel
	Output   *channel.Channel
	runnable Runnable
	manager  *Manager

	createdAt time.Time
	started   chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once

	mu       sync.Mutex
	state    State
	err      error
	stopping bool
}

// newID returns a random, base32-encoded 10-byte task identifier, per
// spec.md §3.
func newID() string {
	var buf [10]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand.Read on a supported platform does not fail;
		// if it somehow does, a deterministic fallback keeps the
		// process from crashing on task creation.
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
}

// New creates a Task in state NEW wrapping runnable. It does not
// register the task with a Manager or start it — call Manager.Spawn
// for that, or Start directly for an unmanaged task.
func New(runnable Runnable) *Task {
	return &Task{
		id:        newID(),
		Input:     channel.New(),
		Output:    channel.New(),
		runnable:  runnable,
		createdAt: time.Now(),
		started:   make(chan struct{}),
		stopped:   make(chan struct{}),
		state:     StateNew,
	}
}

// ID returns the task's random identifier.
func (t *Task) ID() string { return t.id }

// Label returns a short human-readable description of the task,
// defaulting to its id; SetLabel overrides it. Used by collaborators
// rendering a session list.
func (t *Task) Label() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.label == "" {
		return t.id
	}
	return t.label
}

// SetLabel sets the task's display label.
func (t *Task) SetLabel(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.label = label
}

// CreatedAt returns when the task was constructed.
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// Started returns a channel that closes once Start has begun
// executing the runnable.
func (t *Task) Started() <-chan struct{} { return t.started }

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the fault that moved the task to StateError, or nil.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start transitions the task NEW → RUNNING and schedules its Runnable
// on a new goroutine. Returns ErrInvalidState if the task is not NEW.
func (t *Task) Start() error {
	t.mu.Lock()
	if t.state != StateNew {
		t.mu.Unlock()
		return ErrInvalidState
	}
	t.state = StateRunning
	t.mu.Unlock()

	if t.manager != nil {
		t.manager.register(t)
	}

	go t.run()
	return nil
}

func (t *Task) run() {
	close(t.started)

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("task: runnable panic: %v", r)
			}
		}()
		runErr = t.runnable.Run(t)
	}()

	t.Input.Close()
	t.Output.Close()

	t.mu.Lock()
	if runErr != nil {
		t.state = StateError
		t.err = runErr
	} else {
		t.state = StateStopped
	}
	t.mu.Unlock()

	if t.manager != nil {
		t.manager.unregister(t.id)
	}

	t.stopOnce.Do(func() { close(t.stopped) })
}

// Stop is a no-op unless the task is RUNNING. On a running task it
// calls the runnable's Stop or Close hook (if implemented), then
// closes Input and Output — the close propagates to the runnable via
// Channel.Recv/Watch returning ok=false, which is expected to make
// Run return. Calls after the first one on a running task are no-ops.
func (t *Task) Stop() {
	t.mu.Lock()
	running := t.state == StateRunning && !t.stopping
	if running {
		t.stopping = true
	}
	t.mu.Unlock()
	if !running {
		return
	}

	if s, ok := t.runnable.(Stopper); ok {
		_ = s.Stop()
	} else if c, ok := t.runnable.(Closer); ok {
		_ = c.Close()
	}

	t.Input.Close()
	t.Output.Close()
}

// Wait blocks until the task's Run has returned, or until timeout
// elapses if timeout is non-zero. It returns true if the task
// finished before the deadline. The task is not cancelled by a
// timeout expiring.
func (t *Task) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-t.stopped
		return true
	}
	select {
	case <-t.stopped:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Bridge wires this task's output to other's input and vice versa.
// See bridge.go for TaskBridge's semantics.
func (t *Task) Bridge(other *Task) *Bridge {
	return NewBridge(t, other)
}
