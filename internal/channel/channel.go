// Package channel implements the typed, closable message bus described
// in spec.md §4.1–§4.3: Channel, Publisher, Subscriber, and the
// byte-oriented DataStream view over them.
//
// A Channel operates in one of two mutually exclusive modes, chosen by
// whether anything has ever called Watch on it:
//
//   - Buffered mode (no watchers yet): Send appends to an internal
//     FIFO; Recv pops one message at a time, blocking until one is
//     available or the channel closes.
//   - Fan-out mode (at least one watcher has attached): Send delivers
//     directly to every attached Subscriber's queue; the internal FIFO
//     is no longer written to.
//
// The first Watch call drains whatever is sitting in the buffer into
// the new subscriber before switching modes, so a slow first attacher
// never loses messages queued while the channel was idle.
package channel

import (
	"container/list"
	"errors"
	"sync"

	"github.com/HarryR/kitsh/internal/message"
)

// ErrClosed is returned by Send on an already-closed Channel.
var ErrClosed = errors.New("channel: closed")

// Channel is a FIFO of messages with a closed flag and optional
// fan-out, as described in spec.md §4.1.
type Channel struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buffer   list.List
	pub      *Publisher
	watching bool
	closed   bool
}

// New returns a Channel ready for use.
func New() *Channel {
	c := &Channel{pub: NewPublisher()}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Send enqueues msg. It never blocks on buffer capacity — the buffer
// grows with available memory — and fails with ErrClosed once the
// channel has been closed.
func (c *Channel) Send(msg message.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.watching {
		c.mu.Unlock()
		c.pub.Send(msg)
		return nil
	}
	c.buffer.PushBack(msg)
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// Write is shorthand for Send(message.Data(data)).
func (c *Channel) Write(data []byte) error {
	return c.Send(message.Data(data))
}

// Recv removes and returns the next buffered message, blocking until
// one is available, the channel closes, or a Watch call switches the
// channel into fan-out mode (at which point Recv has nothing further
// to pop and returns ok=false — callers that want to keep consuming
// after a Watch call must use the returned Subscriber instead).
func (c *Channel) Recv() (message.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.buffer.Len() == 0 {
		if c.closed || c.watching {
			return message.Message{}, false
		}
		c.cond.Wait()
	}
	front := c.buffer.Front()
	c.buffer.Remove(front)
	return front.Value.(message.Message), true
}

// Len reports the number of messages buffered but not yet delivered
// to watchers (always zero once the channel has switched to fan-out
// mode).
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.Len()
}

// Watch attaches a fan-out observer. On the first call, any messages
// sitting in the buffer are drained and delivered to the new
// subscriber (in send order) before the channel switches permanently
// into fan-out mode.
func (c *Channel) Watch() *Subscriber {
	c.mu.Lock()
	var backlog []message.Message
	if !c.watching {
		c.watching = true
		for e := c.buffer.Front(); e != nil; e = e.Next() {
			backlog = append(backlog, e.Value.(message.Message))
		}
		c.buffer.Init()
	}
	closedNow := c.closed
	c.mu.Unlock()
	c.cond.Broadcast() // wake any Recv callers stranded by the mode switch

	sub := c.pub.Subscribe()
	for _, m := range backlog {
		sub.send(m)
	}
	if closedNow {
		sub.Close()
	}
	return sub
}

// Closed reports whether the channel has been closed.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close marks the channel closed, waking every blocked Recv call and
// every watching Subscriber. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
	c.pub.Close()
}

// DataStream returns a byte-oriented view over this channel.
func (c *Channel) DataStream() *DataStream {
	return NewDataStream(c)
}
