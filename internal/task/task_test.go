package task

import (
	"errors"
	"testing"
	"time"

	"github.com/HarryR/kitsh/internal/message"
)

func TestLifecycleCleanStop(t *testing.T) {
	tk := New(RunnableFunc(func(t *Task) error {
		_, _ = t.Input.Recv()
		return nil
	}))
	if tk.State() != StateNew {
		t.Fatalf("initial state = %v, want NEW", tk.State())
	}
	if err := tk.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-tk.Started()
	if tk.State() != StateRunning && tk.State() != StateStopped {
		t.Fatalf("state after start = %v", tk.State())
	}

	_ = tk.Input.Send(message.DataString("go"))

	if !tk.Wait(time.Second) {
		t.Fatal("Wait() timed out")
	}
	if tk.State() != StateStopped {
		t.Fatalf("final state = %v, want STOPPED", tk.State())
	}
}

func TestStartTwiceFails(t *testing.T) {
	tk := New(RunnableFunc(func(t *Task) error { return nil }))
	if err := tk.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	tk.Wait(time.Second)
	if err := tk.Start(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Start() = %v, want ErrInvalidState", err)
	}
}

func TestRunnableErrorMovesToError(t *testing.T) {
	want := errors.New("boom")
	tk := New(RunnableFunc(func(t *Task) error { return want }))
	_ = tk.Start()
	tk.Wait(time.Second)
	if tk.State() != StateError {
		t.Fatalf("state = %v, want ERROR", tk.State())
	}
	if tk.Err() == nil {
		t.Fatal("Err() is nil after ERROR state")
	}
}

func TestRunnablePanicMovesToError(t *testing.T) {
	tk := New(RunnableFunc(func(t *Task) error { panic("oh no") }))
	_ = tk.Start()
	tk.Wait(time.Second)
	if tk.State() != StateError {
		t.Fatalf("state = %v, want ERROR", tk.State())
	}
}

type stoppableRunnable struct {
	stopCalled chan struct{}
}

func (r *stoppableRunnable) Run(t *Task) error {
	for {
		if _, ok := t.Input.Recv(); !ok {
			return nil
		}
	}
}

func (r *stoppableRunnable) Stop() error {
	close(r.stopCalled)
	return nil
}

func TestStopCallsStopHookAndClosesChannels(t *testing.T) {
	r := &stoppableRunnable{stopCalled: make(chan struct{})}
	tk := New(r)
	_ = tk.Start()
	<-tk.Started()
	// Give the goroutine a moment to reach the RUNNING state before stopping.
	time.Sleep(10 * time.Millisecond)

	tk.Stop()
	tk.Stop() // no-op, already stopped

	select {
	case <-r.stopCalled:
	case <-time.After(time.Second):
		t.Fatal("Stop hook was not called")
	}

	if !tk.Wait(time.Second) {
		t.Fatal("Wait() timed out after Stop")
	}
	if !tk.Input.Closed() || !tk.Output.Closed() {
		t.Fatal("channels not closed after Stop")
	}
}

func TestManagerRegistersAndUnregisters(t *testing.T) {
	m := NewManager()
	tk := m.Spawn(RunnableFunc(func(t *Task) error {
		_, _ = t.Input.Recv()
		return nil
	}))

	if m.Get(tk.ID()) == nil {
		t.Fatal("task not registered after Spawn")
	}
	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}

	_ = tk.Input.Send(message.DataString("x"))
	tk.Wait(time.Second)

	if m.Get(tk.ID()) != nil {
		t.Fatal("task still registered after termination")
	}
	if m.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after termination", m.Count())
	}
}

func TestManagerStopAll(t *testing.T) {
	m := NewManager()
	a := m.Spawn(RunnableFunc(func(t *Task) error {
		_, _ = t.Input.Recv()
		return nil
	}))
	b := m.Spawn(RunnableFunc(func(t *Task) error {
		_, _ = t.Input.Recv()
		return nil
	}))

	time.Sleep(10 * time.Millisecond)
	m.StopAll()

	if !a.Wait(time.Second) || !b.Wait(time.Second) {
		t.Fatal("tasks did not stop after StopAll")
	}
	if m.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", m.Count())
	}
}
