package task

import (
	"log/slog"
	"sync"

	"github.com/HarryR/kitsh/internal/channel"
)

// Bridge cross-wires two tasks' input/output channels: A's output
// forwards into B's input, and B's output forwards into A's input,
// enabling full-duplex conversation between them (spec.md §4.5).
type Bridge struct {
	a, b   *Task
	logger *slog.Logger

	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	closed bool
}

// NewBridge spawns the two forwarders binding a and b and returns the
// Bridge handle.
func NewBridge(a, b *Task) *Bridge {
	return NewBridgeLogger(a, b, slog.Default())
}

// NewBridgeLogger is NewBridge with an explicit logger for forwarder
// fault reporting.
func NewBridgeLogger(a, b *Task, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	br := &Bridge{a: a, b: b, logger: logger, done: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer br.recoverForwarder("a->b")
		forward(a.Output, b.Input)
	}()
	go func() {
		defer wg.Done()
		defer br.recoverForwarder("b->a")
		forward(b.Output, a.Input)
	}()

	go func() {
		wg.Wait()
		br.mu.Lock()
		br.closed = true
		br.mu.Unlock()
		close(br.done)
	}()

	return br
}

// forward copies every message from src's fan-out onto dst until src
// closes or a send to dst (already closed) fails — either case simply
// ends the forwarder; per spec.md §4.5 a send to a closed target
// causes clean exit, not a fault.
func forward(src, dst *channel.Channel) {
	sub := src.Watch()
	defer sub.Close()
	for {
		msg, ok := sub.Recv()
		if !ok {
			return
		}
		if err := dst.Send(msg); err != nil {
			return
		}
	}
}

// recoverForwarder logs and swallows a panic inside a forwarder
// goroutine so one direction's fault never takes down the process;
// the bridge still becomes closed once both goroutines' defers run.
func (br *Bridge) recoverForwarder(direction string) {
	if r := recover(); r != nil {
		br.logger.Error("task bridge forwarder fault", "direction", direction, "panic", r)
	}
}

// Wait blocks until both forwarders have exited.
func (br *Bridge) Wait() {
	<-br.done
}

// Closed reports whether both forwarders have exited.
func (br *Bridge) Closed() bool {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.closed
}

// Close terminates both forwarders (by closing both tasks' channels)
// and waits for them to exit. Idempotent.
func (br *Bridge) Close() {
	br.once.Do(func() {
		br.a.Input.Close()
		br.a.Output.Close()
		br.b.Input.Close()
		br.b.Output.Close()
	})
	br.Wait()
}
