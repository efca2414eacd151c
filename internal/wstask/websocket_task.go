// Package wstask implements the WebSocketTask frame-codec adapter
// described in spec.md §4.7: it attaches a live WebSocket connection
// to a Task's input/output channels, translating JSON frames to and
// from message.Message on the wire.
package wstask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HarryR/kitsh/internal/config"
	"github.com/HarryR/kitsh/internal/message"
	"github.com/HarryR/kitsh/internal/task"
)

// ErrTransport wraps a non-graceful WebSocket I/O failure.
var ErrTransport = errors.New("wstask: transport error")

// WebSocketTask is a Runnable that bridges a *websocket.Conn to a
// Task: frames read from the socket are delivered as messages on
// task.Output, and messages sent on task.Input are written as frames
// to the socket. It is also its own Stopper so Task.Stop closes the
// underlying connection.
type WebSocketTask struct {
	conn     *websocket.Conn
	readonly bool
	id       string
	logger   *slog.Logger

	closeOnce sync.Once
}

// New wraps conn. A random id is assigned for log correlation,
// distinct from the Task's own id scheme.
func New(conn *websocket.Conn) *WebSocketTask {
	return &WebSocketTask{
		conn:   conn,
		id:     uuid.NewString(),
		logger: slog.Default(),
	}
}

// WithReadonly disables the send loop: data coming from the remote
// client is still delivered to task.Output, but nothing from
// task.Input is ever written back to the socket.
func (w *WebSocketTask) WithReadonly(readonly bool) *WebSocketTask {
	w.readonly = readonly
	return w
}

// WithLogger sets the logger used for recv/send loop diagnostics.
func (w *WebSocketTask) WithLogger(logger *slog.Logger) *WebSocketTask {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// Run implements task.Runnable. It spawns the recv loop (socket ->
// task.Output) and, unless readonly, the send loop (task.Input ->
// socket), then blocks until the recv loop has finished (the socket
// closed or failed) and closes the socket. The send loop is not
// waited for: it ends once task.Input closes, which the Task does
// after Run returns.
func (w *WebSocketTask) Run(t *task.Task) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.recvLoop(t)
	}()

	if !w.readonly {
		go w.sendLoop(t)
	}

	wg.Wait()
	w.Stop()
	return nil
}

// recvLoop reads frames off the socket and forwards each successfully
// decoded one to task.Output. A frame that fails to decode is logged
// and dropped, not treated as fatal; a transport-level read failure
// (including a normal close) ends the loop.
func (w *WebSocketTask) recvLoop(t *task.Task) {
	for {
		var msg message.Message
		err := w.conn.ReadJSON(&msg)
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			// ReadJSON reports a frame holding truncated or no JSON as
			// io.ErrUnexpectedEOF; the frame is consumed either way.
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
				w.logger.Debug("wstask recv: dropping malformed frame", "id", w.id, "error", err)
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Debug("wstask recv: closed normally", "id", w.id)
			} else if !errors.Is(err, websocket.ErrCloseSent) {
				w.logger.Debug("wstask recv: transport error", "id", w.id, "error", err)
			}
			return
		}
		w.logger.Log(context.Background(), config.LevelTrace, "wstask frame recv", "id", w.id, "msg", msg)
		if err := t.Output.Send(msg); err != nil {
			return
		}
	}
}

// sendLoop watches task.Input and writes each message to the socket as
// a JSON frame until the task closes. A write error is logged and
// dropped rather than ending the loop — only channel closure stops
// sendLoop.
func (w *WebSocketTask) sendLoop(t *task.Task) {
	sub := t.Input.Watch()
	defer sub.Close()

	for {
		msg, ok := sub.Recv()
		if !ok {
			return
		}
		if err := w.conn.WriteJSON(msg); err != nil {
			w.logger.Debug("wstask send: write error", "id", w.id, "error", err)
			continue
		}
		w.logger.Log(context.Background(), config.LevelTrace, "wstask frame send", "id", w.id, "msg", msg)
	}
}

// Stop implements task.Stopper: it closes the underlying connection
// exactly once, which unblocks any pending ReadJSON/WriteJSON call in
// the recv/send loops.
func (w *WebSocketTask) Stop() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.conn.Close()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Communicate starts a WebSocketTask wrapping conn, bridges it to
// other, waits for the bridge to finish, and stops both tasks. This
// is the server's standard `/websocket` route sequence (spec.md §6).
// The WebSocketTask itself is unmanaged — it is a transport adapter,
// not a session the operator page lists — only other need be
// registered with a TaskManager by the caller.
func Communicate(conn *websocket.Conn, other *task.Task) error {
	ws := task.New(New(conn))
	if err := ws.Start(); err != nil {
		return err
	}

	br := ws.Bridge(other)
	br.Wait()

	ws.Stop()
	other.Stop()
	ws.Wait(0)
	other.Wait(0)
	return nil
}
