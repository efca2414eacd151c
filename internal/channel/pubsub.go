package channel

import (
	"container/list"
	"sync"

	"github.com/HarryR/kitsh/internal/message"
)

// Subscriber is a per-observer queue attached to a Publisher. It is
// created attached and is released on explicit Close, on the
// publisher's Close, or when the holder drops it without reading
// further (in which case Close must still be called to detach it —
// there is no garbage-collector finalizer equivalent relied upon
// here).
type Subscriber struct {
	pub *Publisher

	mu     sync.Mutex
	cond   *sync.Cond
	queue  list.List
	closed bool
}

func newSubscriber(pub *Publisher) *Subscriber {
	s := &Subscriber{pub: pub}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// send pushes msg onto the subscriber's queue. Called by Publisher
// under the publisher's own lock discipline; never called after the
// subscriber has been detached.
func (s *Subscriber) send(msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue.PushBack(msg)
	s.cond.Signal()
}

// Recv blocks until a message is available or the subscriber closes.
// It returns ok=false once the subscriber is closed and drained.
func (s *Subscriber) Recv() (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.queue.Len() == 0 {
		if s.closed {
			return message.Message{}, false
		}
		s.cond.Wait()
	}
	front := s.queue.Front()
	s.queue.Remove(front)
	return front.Value.(message.Message), true
}

// Closed reports whether the subscriber has been detached.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close detaches the subscriber from its Publisher. A detached
// subscriber never receives further messages; any pending Recv
// returns ok=false once its queue drains. Idempotent.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	if s.pub != nil {
		s.pub.Detach(s)
	}
}

// Watch returns a function that yields messages one at a time until
// the subscriber closes, for use in a `for msg, ok := iter(); ok;
// msg, ok = iter()` style loop. Go has no generator syntax, so this
// stands in for the Python source's `__iter__`.
func (s *Subscriber) Watch() func() (message.Message, bool) {
	return s.Recv
}

// Publisher is an unordered set of subscribers. Send fan-out is O(N)
// over a snapshot of attached subscribers taken at send time; newly
// attached subscribers never see in-flight messages sent before they
// attached.
type Publisher struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// NewPublisher returns a Publisher ready for use.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[*Subscriber]struct{})}
}

// Subscribe creates and attaches a new Subscriber.
func (p *Publisher) Subscribe() *Subscriber {
	s := newSubscriber(p)
	p.Attach(s)
	return s
}

// Attach adds s to the set of subscribers that receive future sends.
func (p *Publisher) Attach(s *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[s] = struct{}{}
}

// Detach removes s from the set of subscribers. Safe to call more
// than once.
func (p *Publisher) Detach(s *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, s)
}

// Len reports the number of currently attached subscribers.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Send delivers msg to a snapshot of attached subscribers.
func (p *Publisher) Send(msg message.Message) {
	p.mu.Lock()
	snapshot := make([]*Subscriber, 0, len(p.subs))
	for s := range p.subs {
		snapshot = append(snapshot, s)
	}
	p.mu.Unlock()

	for _, s := range snapshot {
		s.send(msg)
	}
}

// Close sends a close notification to every attached subscriber and
// clears the subscriber set.
func (p *Publisher) Close() {
	p.mu.Lock()
	snapshot := make([]*Subscriber, 0, len(p.subs))
	for s := range p.subs {
		snapshot = append(snapshot, s)
	}
	p.subs = make(map[*Subscriber]struct{})
	p.mu.Unlock()

	for _, s := range snapshot {
		s.Close()
	}
}
