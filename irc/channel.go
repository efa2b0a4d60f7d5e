package irc

import (
	"bufio"
	"io"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

const chanCapacity = 64

// maxLineLen is the longest line accepted from the server: 8191 bytes of
// tags and 512 bytes for the rest of the message.
const maxLineLen = 8191 + 512

const (
	keepAlive = 30 * time.Second
	maxRTT    = 10 * time.Second
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// ChanInOut frames conn into messages. The in channel is closed when the
// connection ends. Closing out flushes pending messages and closes conn.
func ChanInOut(conn io.ReadWriteCloser) (in <-chan Message, out chan<- Message) {
	in_ := make(chan Message, chanCapacity)
	out_ := make(chan Message, chanCapacity)

	var last atomic.Value
	last.Store(time.Now())

	go func() {
		r := bufio.NewScanner(conn)
		r.Buffer(make([]byte, 4096), maxLineLen+2)
		for r.Scan() {
			line := r.Text()
			line = strings.ToValidUTF8(line, string([]rune{unicode.ReplacementChar}))
			msg, err := ParseMessage(line)
			if err != nil {
				continue
			}
			now := time.Now()
			last.Store(now)
			if d, ok := conn.(readDeadliner); ok {
				d.SetReadDeadline(now.Add(keepAlive + maxRTT))
			}
			in_ <- msg
		}
		close(in_)
	}()

	go func() {
		w := bufio.NewWriter(conn)
		t := time.NewTicker(time.Second)
		defer t.Stop()
	outer:
		for {
			select {
			case msg, ok := <-out_:
				if !ok {
					w.Flush()
					break outer
				}

				last.Store(time.Now())
				if _, err := w.WriteString(msg.String() + "\r\n"); err != nil {
					break outer
				}
				if len(out_) != 0 {
					// more messages are ready, flush them together
					continue
				}
				if err := w.Flush(); err != nil {
					break outer
				}
			case <-t.C:
				now := time.Now()
				if last.Load().(time.Time).Add(keepAlive).After(now) {
					continue
				}
				if last.Load().(time.Time).Add(keepAlive + maxRTT).Before(now) {
					// probably out of sleep, reset connection
					conn.Close()
					continue
				}
				last.Store(now)
				if _, err := w.WriteString("PING _\r\n"); err != nil {
					break outer
				}
				if err := w.Flush(); err != nil {
					break outer
				}
			}
		}
		_ = conn.Close()
		// the session may still be sending until it notices the closure
		for range out_ {
		}
	}()

	return in_, out_
}
