package irc

import (
	"bytes"
	"io"
	"testing"
	"time"
)

// loopback is the server-side end of a pair of pipes standing in for a real
// network connection in tests; client is the other end, handed to
// ChanInOut.
type loopback struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newLoopback() (server *loopback, client io.ReadWriteCloser) {
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	server = &loopback{r: serverIn, w: serverOut}
	client = rwc{clientIn, clientOut}
	return server, client
}

type rwc struct {
	io.Reader
	io.Writer
}

func (rwc) Close() error { return nil }

func TestChanInOutReadsParsedMessages(t *testing.T) {
	server, client := newLoopback()
	in, _ := ChanInOut(client, FloodLimits{})

	go io.WriteString(server.w, "PING :abc\r\n")

	select {
	case msg := <-in:
		if msg.Command != "PING" {
			t.Errorf("Command = %q", msg.Command)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PING")
	}
}

func TestChanInOutAnswersPingWithoutApplication(t *testing.T) {
	server, client := newLoopback()
	_, _ = ChanInOut(client, FloodLimits{})

	go io.WriteString(server.w, "PING :abc\r\n")

	buf := make([]byte, 64)
	n, err := server.r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Contains(buf[:n], []byte("PONG")) {
		t.Errorf("expected a PONG, got %q", buf[:n])
	}
}

func TestChanInOutWritesSerializedMessages(t *testing.T) {
	server, client := newLoopback()
	_, out := ChanInOut(client, FloodLimits{})

	out <- NewMessage("NICK", "tester")

	buf := make([]byte, 64)
	n, err := server.r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "NICK tester\r\n" {
		t.Errorf("wrote %q", buf[:n])
	}
}

func TestSplitLinesAcceptsBareLF(t *testing.T) {
	adv, tok, err := splitLines([]byte("PING abc\ndata"), false)
	if err != nil {
		t.Fatalf("splitLines: %v", err)
	}
	if adv != len("PING abc\n") || string(tok) != "PING abc" {
		t.Errorf("adv=%d tok=%q", adv, tok)
	}
}

func TestSplitLinesAcceptsCRLF(t *testing.T) {
	adv, tok, err := splitLines([]byte("PING abc\r\ndata"), false)
	if err != nil {
		t.Fatalf("splitLines: %v", err)
	}
	if adv != len("PING abc\r\n") || string(tok) != "PING abc" {
		t.Errorf("adv=%d tok=%q", adv, tok)
	}
}

func TestExemptFromFlood(t *testing.T) {
	if !exemptFromFlood("PING") || !exemptFromFlood("PONG") {
		t.Error("PING/PONG should be flood-exempt")
	}
	if exemptFromFlood("PRIVMSG") {
		t.Error("PRIVMSG should not be flood-exempt")
	}
}
