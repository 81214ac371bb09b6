package irc

import (
	"bufio"
	"context"
	"io"
	"strings"

	"golang.org/x/time/rate"
)

const chanCapacity = 64

// FloodLimits parameterizes the writer's token bucket (spec 4.8): burst
// lines available immediately, then refilled at the given rate. Zero values
// select the sensible defaults named in spec 4.8.
type FloodLimits struct {
	Burst       int
	LinesPerSec float64
}

func (f FloodLimits) withDefaults() FloodLimits {
	if f.Burst <= 0 {
		f.Burst = 4
	}
	if f.LinesPerSec <= 0 {
		f.LinesPerSec = 2
	}
	return f
}

// exemptFromFlood reports whether a command bypasses the flood bucket
// entirely (spec 4.8: "PING/PONG exempt").
func exemptFromFlood(command string) bool {
	return command == "PING" || command == "PONG"
}

// splitLines is a bufio.SplitFunc accepting both "\r\n" and bare "\n" as
// line terminators (spec 6: "accept \n alone on receive").
func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := indexByte(data, '\n'); i >= 0 {
		line := data[:i]
		line = []byte(strings.TrimSuffix(string(line), "\r"))
		return i + 1, []byte(line), nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func indexByte(data []byte, b byte) int {
	for i, c := range data {
		if c == b {
			return i
		}
	}
	return -1
}

// ChanInOut wires a byte transport into a pair of Message channels, running
// a reader goroutine and a writer goroutine as the only two execution
// contexts that ever touch the wire (spec 5/C8), grounded on the teacher's
// irc/channel.go. The writer applies flood control per limits and exempts
// PING/PONG; a received PING is answered by the reader without involving the
// application (spec 4.8).
func ChanInOut(conn io.ReadWriteCloser, limits FloodLimits) (in <-chan Message, out chan<- Message) {
	limits = limits.withDefaults()
	in_ := make(chan Message, chanCapacity)
	out_ := make(chan Message, chanCapacity)

	go readLoop(conn, in_, out_)
	go writeLoop(conn, out_, limits)

	return in_, out_
}

func readLoop(conn io.ReadWriteCloser, in chan<- Message, out chan<- Message) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, maxLineLen), maxLineLen*4)
	scanner.Split(splitLines)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		msg, err := Parse(line)
		if err != nil {
			continue
		}
		if msg.Command == "PING" {
			// Blocking send: a dropped PONG risks a ping-timeout disconnect
			// (spec 4.8), so this keepalive reply must reach the writer's
			// queue even if it's momentarily full, never a best-effort drop.
			out <- NewMessage("PONG", msg.Params...)
		}
		in <- msg
	}
	close(in)
}

func writeLoop(conn io.ReadWriteCloser, out <-chan Message, limits FloodLimits) {
	limiter := rate.NewLimiter(rate.Limit(limits.LinesPerSec), limits.Burst)
	defer conn.Close()

	for msg := range out {
		if !exemptFromFlood(msg.Command) {
			// Bounded waits belong at the request-API layer (spec 5); the
			// writer itself always drains, so a background context is
			// correct here.
			_ = limiter.WaitN(context.Background(), 1)
		}
		line := msg.Serialize() + "\r\n"
		if _, err := io.WriteString(conn, line); err != nil {
			return
		}
	}
}
