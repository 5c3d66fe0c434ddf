package irc

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"golang.org/x/time/rate"
)

const chanCapacity = 64

// Outbound flood protection: a short burst is allowed through immediately,
// then lines are paced so that typical server flood limits (one line per
// second or so, with a small allowance) never kick in.
const (
	floodBurst = 10
	floodRate  = rate.Limit(2)
)

// ChanInOut bridges a connection to a pair of message channels. Inbound
// bytes are line-buffered so that a line split across reads is only parsed
// once complete; lines that fail to parse are dropped without closing the
// stream. A PING is sent when the connection is quiet for too long, and the
// connection is torn down when the server stops answering. Closing the out
// channel closes the connection.
func ChanInOut(conn net.Conn) (in <-chan Message, out chan<- Message) {
	in_ := make(chan Message, chanCapacity)
	out_ := make(chan Message, chanCapacity)

	const keepAlive = 30 * time.Second
	const maxRTT = 10 * time.Second
	var last atomic.Value
	last.Store(time.Now())

	go func() {
		r := bufio.NewScanner(conn)
		for r.Scan() {
			line := r.Text()
			line = strings.ToValidUTF8(line, string([]rune{unicode.ReplacementChar}))
			msg, err := ParseMessage(line)
			if err != nil {
				continue
			}
			now := time.Now()
			last.Store(now)
			conn.SetReadDeadline(now.Add(keepAlive + maxRTT))
			in_ <- msg
		}
		close(in_)
	}()

	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		limiter := rate.NewLimiter(floodRate, floodBurst)
	outer:
		for {
			select {
			case msg, ok := <-out_:
				if !ok {
					break outer
				}

				if r := limiter.Reserve(); r.Delay() > 0 {
					time.Sleep(r.Delay())
				}
				last.Store(time.Now())
				_, err := fmt.Fprintf(conn, "%s\r\n", msg.String())
				if err != nil {
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
				_, err := fmt.Fprint(conn, "PING _\r\n")
				if err != nil {
					break outer
				}
			}
		}
		_ = conn.Close()
	}()

	return in_, out_
}
