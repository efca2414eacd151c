package sshtask

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/HarryR/kitsh/internal/message"
	"github.com/HarryR/kitsh/internal/task"
)

// startEchoSSHServer runs a minimal in-process SSH server that
// accepts any client, grants every pty/shell/window-change request,
// and echoes whatever it reads on the session channel back as output
// — enough surface to exercise SSHTask's writer/reader split without
// a real remote host.
func startEchoSSHServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromSigner(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveEchoConn(conn, config)
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func serveEchoConn(conn net.Conn, config *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				switch req.Type {
				case "pty-req", "shell", "window-change", "exec":
					if req.WantReply {
						req.Reply(true, nil)
					}
				default:
					if req.WantReply {
						req.Reply(false, nil)
					}
				}
			}
		}()
		go func(ch ssh.Channel) {
			io.Copy(ch, ch)
			ch.Close()
		}(ch)
	}
}

// TestShellEchoesInput drives SSHTask against the echo server in
// interactive-shell mode: data sent on task.Input must reappear on
// task.Output.
func TestShellEchoesInput(t *testing.T) {
	addr, stop := startEchoSSHServer(t)
	defer stop()

	m := task.NewManager()
	tk := m.Spawn(New(Config{
		Addr:            addr,
		User:            "tester",
		Auth:            []ssh.AuthMethod{ssh.Password("unused")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}))

	sub := tk.Output.Watch()
	defer sub.Close()

	if err := tk.Input.Send(message.DataString("ping")); err != nil {
		t.Fatalf("Input.Send: %v", err)
	}

	var got strings.Builder
	deadline := time.After(5 * time.Second)
	for !strings.Contains(got.String(), "ping") {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for echo, got %q", got.String())
		default:
		}
		msg, ok := sub.Recv()
		if !ok {
			t.Fatalf("output channel closed before echo arrived, got %q", got.String())
		}
		if msg.HasData() {
			got.Write(msg.Data)
		}
	}

	tk.Stop()
	if !tk.Wait(5 * time.Second) {
		t.Fatal("task did not finish after Stop")
	}
}

// TestResizeDuringSessionIsAccepted confirms a resize message sent to
// a running session is accepted and the task still stops cleanly.
func TestResizeDuringSessionIsAccepted(t *testing.T) {
	addr, stop := startEchoSSHServer(t)
	defer stop()

	m := task.NewManager()
	tk := m.Spawn(New(Config{
		Addr:            addr,
		User:            "tester",
		Auth:            []ssh.AuthMethod{ssh.Password("unused")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Width:           80,
		Height:          24,
	}))

	if err := tk.Input.Send(message.ResizeMsg(100, 40)); err != nil {
		t.Fatalf("Send(resize): %v", err)
	}

	tk.Stop()
	if !tk.Wait(5 * time.Second) {
		t.Fatal("task did not finish after Stop")
	}
}
