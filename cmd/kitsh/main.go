// Package main implements the kitsh interactive client: it connects to
// a kitshd /websocket endpoint, puts the local terminal into raw mode,
// and shuttles bytes between stdin/stdout and the session.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/HarryR/kitsh/internal/buildinfo"
	"github.com/HarryR/kitsh/internal/httpkit"
)

// wireMessage mirrors internal/message.Message's wire shape for the
// small set of fields the client needs to send and understand; the
// client has no use for Task/Channel machinery, only the JSON frames.
type wireMessage struct {
	Data   string      `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	Resize *wireResize `json:"resize,omitempty"`
	Close  bool        `json:"close,omitempty"`
}

type wireResize struct {
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
}

func main() {
	host := flag.String("host", "127.0.0.1", "kitshd server host")
	port := flag.Int("port", 8022, "kitshd server port")
	mode := flag.String("mode", "", "session mode: shell or ssh (default: server's default)")
	skipHealthcheck := flag.Bool("skip-healthcheck", false, "skip the GET /healthz pre-flight check")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		os.Exit(0)
	}

	if !*skipHealthcheck {
		if err := checkHealth(*host, *port); err != nil {
			fmt.Fprintf(os.Stderr, "client: %s is not reachable: %v\n", *host, err)
			os.Exit(1)
		}
	}

	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", *host, *port), Path: "/websocket"}
	if *mode != "" {
		q := u.Query()
		q.Set("mode", *mode)
		u.RawQuery = q.Encode()
	}

	started := time.Now()
	if err := runSession(u.String()); err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "client: connection to %s closed. Session started %s.\n", *host, humanize.RelTime(started, time.Now(), "ago", "from now"))
}

func checkHealth(host string, port int) error {
	c := httpkit.NewClient(httpkit.WithTimeout(3 * time.Second))
	resp, err := c.Get(fmt.Sprintf("http://%s:%d/healthz", host, port))
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 256)
	if resp.StatusCode != 200 {
		return fmt.Errorf("healthz returned %s", resp.Status)
	}
	return nil
}

// runSession dials endpoint, raw-modes the terminal if it is one, and
// shuttles bytes until the connection closes, a `{"error":...}` frame
// arrives, or stdin reaches EOF.
func runSession(endpoint string) error {
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", endpoint, err)
	}
	defer conn.Close()

	isTerminal := isatty.IsTerminal(os.Stdin.Fd())

	var restore func()
	if isTerminal {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("setting terminal to raw mode: %w", err)
		}
		restore = func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }
		defer restore()
	}

	sendResize(conn)

	winch := make(chan os.Signal, 1)
	if isTerminal {
		signal.Notify(winch, unix.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				sendResize(conn)
			}
		}()
	}

	errCh := make(chan error, 2)
	go readLoop(conn, errCh)
	go writeLoop(conn, errCh)

	return <-errCh
}

// sendResize reports the controlling terminal's current size, or a
// fixed 80x24 fallback when stdout isn't a terminal (e.g. piped).
func sendResize(conn *websocket.Conn) {
	width, height := 80, 24
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		width, height = w, h
	}
	_ = conn.WriteJSON(wireMessage{Resize: &wireResize{Width: uint16(width), Height: uint16(height)}})
}

// readLoop receives frames from the server, writes data payloads to
// stdout, and treats an error frame as a fatal connection error.
func readLoop(conn *websocket.Conn, errCh chan<- error) {
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			errCh <- nil
			return
		}
		if msg.Error != "" {
			errCh <- fmt.Errorf("%s", msg.Error)
			return
		}
		if msg.Data != "" {
			if _, err := os.Stdout.Write([]byte(msg.Data)); err != nil {
				errCh <- err
				return
			}
		}
		if msg.Close {
			errCh <- nil
			return
		}
	}
}

// writeLoop forwards stdin byte-at-a-time as data frames, matching the
// original client's unbuffered read-one-byte-at-a-time behavior so
// interactive programs (line editors, pagers) see keystrokes promptly.
func writeLoop(conn *websocket.Conn, errCh chan<- error) {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if werr := conn.WriteJSON(wireMessage{Data: string(buf[:n])}); werr != nil {
				errCh <- werr
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				errCh <- err
			} else {
				errCh <- nil
			}
			return
		}
	}
}
