package ptyprocess

import (
	"strings"
	"testing"
	"time"

	"github.com/HarryR/kitsh/internal/message"
	"github.com/HarryR/kitsh/internal/task"
)

// TestRunEchoesOutput is spec.md §8 scenario 6: spawn a trivial shell
// command and observe its output arrive as {data: …} messages on the
// task's output channel.
func TestRunEchoesOutput(t *testing.T) {
	m := task.NewManager()
	tk := m.Spawn(New("/bin/sh", "-c", "echo hello-pty"))
	sub := tk.Output.Watch()
	defer sub.Close()

	var got strings.Builder
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for output, got %q so far", got.String())
		default:
		}
		msg, ok := sub.Recv()
		if !ok {
			break
		}
		if msg.HasData() {
			got.Write(msg.Data)
		}
	}

	if !tk.Wait(5 * time.Second) {
		t.Fatal("task did not finish after child exit")
	}
	if !strings.Contains(got.String(), "hello-pty") {
		t.Fatalf("output = %q, want it to contain %q", got.String(), "hello-pty")
	}
}

// TestStopSignalsChild starts a long-lived process and confirms that
// Task.Stop terminates it and the task reaches a finished state
// promptly, without the reader/writer goroutines hanging.
func TestStopSignalsChild(t *testing.T) {
	m := task.NewManager()
	tk := m.Spawn(New("/bin/sh", "-c", "sleep 30"))

	time.Sleep(100 * time.Millisecond) // let the pty actually spawn
	tk.Stop()

	if !tk.Wait(5 * time.Second) {
		t.Fatal("task did not finish after Stop")
	}
}

// TestResizeBeforeDataIsHarmless exercises the edge case in spec.md
// §4.6 where a resize message arrives before any data has been
// written: the writer must apply it without error and continue
// accepting subsequent data.
func TestResizeBeforeDataIsHarmless(t *testing.T) {
	m := task.NewManager()
	tk := m.Spawn(New("/bin/sh", "-c", "cat"))

	time.Sleep(100 * time.Millisecond)
	if err := tk.Input.Send(message.ResizeMsg(80, 24)); err != nil {
		t.Fatalf("Send(resize): %v", err)
	}
	if err := tk.Input.Send(message.DataString("line1\n")); err != nil {
		t.Fatalf("Send(data): %v", err)
	}

	sub := tk.Output.Watch()
	defer sub.Close()

	var got strings.Builder
	deadline := time.After(3 * time.Second)
readLoop:
	for {
		select {
		case <-deadline:
			break readLoop
		default:
		}
		msg, ok := sub.Recv()
		if !ok {
			break
		}
		if msg.HasData() {
			got.Write(msg.Data)
			if strings.Contains(got.String(), "line1") {
				break
			}
		}
	}

	tk.Stop()
	tk.Wait(5 * time.Second)

	if !strings.Contains(got.String(), "line1") {
		t.Fatalf("output = %q, want it to contain %q", got.String(), "line1")
	}
}
