package channel

import (
	"bytes"
	"sync"

	"github.com/HarryR/kitsh/internal/message"
)

// receiver is satisfied by both *Channel and *Subscriber — anything
// DataStream can pull tagged messages out of, one at a time, blocking
// until one is ready or the source closes.
type receiver interface {
	Recv() (message.Message, bool)
}

// sender is satisfied by anything DataStream can push {data: …}
// messages onto.
type sender interface {
	Send(message.Message) error
}

// DataStream is a byte-oriented view over a Channel or Subscriber
// whose messages are {data: …}. Messages carrying any other tag are
// skipped (forward-compat with resize/error/close).
type DataStream struct {
	src receiver
	dst sender

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// NewDataStream wraps src (used for Read/ReadLine) and, when src also
// implements sender (as *Channel does), the same value is used for
// Write.
func NewDataStream(src receiver) *DataStream {
	ds := &DataStream{src: src}
	if s, ok := src.(sender); ok {
		ds.dst = s
	}
	return ds
}

// NewDataStreamRW builds a DataStream that reads from src and writes
// to dst separately — used when the read and write sides are
// different channels (e.g. a subscriber reading one task's output
// while writing into another task's input).
func NewDataStreamRW(src receiver, dst sender) *DataStream {
	return &DataStream{src: src, dst: dst}
}

// Write sends data as a single {data: …} message.
func (ds *DataStream) Write(data []byte) (int, error) {
	if ds.dst == nil {
		return 0, nil
	}
	if err := ds.dst.Send(message.Data(data)); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close marks the stream closed. The underlying channel/subscriber is
// not closed — DataStream is a view, not an owner.
func (ds *DataStream) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.closed = true
	return nil
}

// next pulls the next {data: …} payload from the source, skipping any
// message lacking a data field. Returns ok=false once the source
// closes with no more data messages pending.
func (ds *DataStream) next() ([]byte, bool) {
	for {
		msg, ok := ds.src.Recv()
		if !ok {
			return nil, false
		}
		if msg.Data != nil {
			return msg.Data, true
		}
	}
}

// Read returns up to maxBytes of accumulated payload. If maxBytes is
// zero, Read returns the next single message's payload whole. Read
// blocks until at least one byte is available or the source closes,
// in which case it returns what remains buffered (possibly empty) and
// ok=false.
func (ds *DataStream) Read(maxBytes int) ([]byte, bool) {
	if maxBytes <= 0 {
		data, ok := ds.next()
		return data, ok
	}

	ds.mu.Lock()
	if ds.buf.Len() > 0 {
		out := make([]byte, min(maxBytes, ds.buf.Len()))
		copy(out, ds.buf.Next(len(out)))
		ds.mu.Unlock()
		return out, true
	}
	ds.mu.Unlock()

	for {
		data, ok := ds.next()
		if !ok {
			ds.mu.Lock()
			rest := ds.buf.Bytes()
			out := make([]byte, len(rest))
			copy(out, rest)
			ds.buf.Reset()
			ds.mu.Unlock()
			return out, false
		}

		ds.mu.Lock()
		ds.buf.Write(data)
		if ds.buf.Len() > 0 {
			out := make([]byte, min(maxBytes, ds.buf.Len()))
			copy(out, ds.buf.Next(len(out)))
			ds.mu.Unlock()
			return out, true
		}
		ds.mu.Unlock()
	}
}

// ReadLine accumulates buffered bytes across messages until newline is
// seen, returning the line with the newline stripped. If the source
// closes before a newline appears, ReadLine returns the residual
// buffer (which may be empty) and ok=false.
func (ds *DataStream) ReadLine(newline byte) (string, bool) {
	ds.mu.Lock()
	if idx := bytes.IndexByte(ds.buf.Bytes(), newline); idx >= 0 {
		line := make([]byte, idx)
		copy(line, ds.buf.Bytes()[:idx])
		ds.buf.Next(idx + 1)
		ds.mu.Unlock()
		return string(line), true
	}
	ds.mu.Unlock()

	for {
		data, ok := ds.next()
		if !ok {
			ds.mu.Lock()
			rest := ds.buf.String()
			ds.buf.Reset()
			ds.mu.Unlock()
			return rest, false
		}

		ds.mu.Lock()
		ds.buf.Write(data)
		if idx := bytes.IndexByte(ds.buf.Bytes(), newline); idx >= 0 {
			line := make([]byte, idx)
			copy(line, ds.buf.Bytes()[:idx])
			ds.buf.Next(idx + 1)
			ds.mu.Unlock()
			return string(line), true
		}
		ds.mu.Unlock()
	}
}

// ReadLineDefault calls ReadLine using "\n" as the delimiter.
func (ds *DataStream) ReadLineDefault() (string, bool) {
	return ds.ReadLine('\n')
}
