package channel

import (
	"testing"

	"github.com/HarryR/kitsh/internal/message"
)

func TestDataStreamReadLineSplit(t *testing.T) {
	c := New()
	ds := c.DataStream()

	go func() {
		_, _ = ds.Write([]byte("derp\nmer"))
		_, _ = ds.Write([]byte("p\nyay\n"))
		c.Close()
	}()

	for _, want := range []string{"derp", "merp", "yay"} {
		line, ok := ds.ReadLineDefault()
		if !ok {
			t.Fatalf("ReadLine() not ok before expected %q", want)
		}
		if line != want {
			t.Fatalf("ReadLine() = %q, want %q", line, want)
		}
	}

	line, ok := ds.ReadLineDefault()
	if ok {
		t.Fatalf("ReadLine() after close = %q, ok=true, want ok=false", line)
	}
	if line != "" {
		t.Fatalf("residual after close = %q, want empty", line)
	}
}

func TestDataStreamSkipsNonDataMessages(t *testing.T) {
	c := New()
	_ = c.Send(message.ResizeMsg(80, 24))
	_ = c.Send(message.DataString("hello\n"))
	c.Close()

	ds := c.DataStream()
	line, ok := ds.ReadLineDefault()
	if !ok || line != "hello" {
		t.Fatalf("ReadLine() = %q ok=%v, want %q ok=true", line, ok, "hello")
	}
}

func TestDataStreamReadMaxBytes(t *testing.T) {
	c := New()
	_ = c.Send(message.DataString("abcdef"))
	c.Close()

	ds := c.DataStream()
	got, ok := ds.Read(3)
	if !ok || string(got) != "abc" {
		t.Fatalf("Read(3) = %q ok=%v", got, ok)
	}
	got, ok = ds.Read(3)
	if !ok || string(got) != "def" {
		t.Fatalf("second Read(3) = %q ok=%v", got, ok)
	}
}

func TestDataStreamReadWholeMessage(t *testing.T) {
	c := New()
	_ = c.Send(message.DataString("whole"))
	c.Close()

	ds := c.DataStream()
	got, ok := ds.Read(0)
	if !ok || string(got) != "whole" {
		t.Fatalf("Read(0) = %q ok=%v", got, ok)
	}
}
