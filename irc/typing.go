package irc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Values taken by the "+typing=" client tag. TypingUnspec means the value or
// tag is absent.
const (
	TypingUnspec = iota
	TypingActive
	TypingPaused
	TypingDone
)

// typingStamp tracks the last outgoing typing notification for one target.
// State is scoped per target so that typing in several conversations at once
// does not share a debounce window.
type typingStamp struct {
	Last  time.Time
	Type  int
	Limit *rate.Limiter
}

// Typings keeps track of incoming typing notifications. A typing
// notification expires 6 seconds after it was last refreshed. Expiry never
// blocks on the Stops channel: a consumer that does not drain it only
// misses notifications, the entries still expire.
type Typings struct {
	l        sync.Mutex
	targets  map[Typing]time.Time
	timeout  time.Duration
	timeouts chan Typing
	stops    chan Typing
	closed   bool
}

func NewTypings() *Typings {
	return newTypings(6 * time.Second)
}

func newTypings(timeout time.Duration) *Typings {
	ts := &Typings{
		targets:  map[Typing]time.Time{},
		timeout:  timeout,
		timeouts: make(chan Typing, 16),
		stops:    make(chan Typing, 16),
	}
	go func() {
		for t := range ts.timeouts {
			now := time.Now()
			ts.l.Lock()
			oldT, ok := ts.targets[t]
			if ok && now.Sub(oldT) > ts.timeout {
				delete(ts.targets, t)
				ts.l.Unlock()
				select {
				case ts.stops <- t:
				default:
				}
			} else {
				ts.l.Unlock()
			}
		}
		close(ts.stops)
	}()
	return ts
}

func (ts *Typings) Close() {
	ts.l.Lock()
	if ts.closed {
		ts.l.Unlock()
		return
	}
	ts.closed = true
	ts.l.Unlock()
	close(ts.timeouts)
}

// Stops is a channel that yields typing notifications that have expired.
func (ts *Typings) Stops() <-chan Typing {
	return ts.stops
}

func (ts *Typings) Active(target, name string) {
	ts.l.Lock()
	if ts.closed {
		ts.l.Unlock()
		return
	}
	t := Typing{target, name}
	ts.targets[t] = time.Now()
	ts.l.Unlock()

	go func() {
		time.Sleep(ts.timeout)
		ts.l.Lock()
		defer ts.l.Unlock()
		if ts.closed {
			return
		}
		ts.timeouts <- t
	}()
}

func (ts *Typings) Done(target, name string) {
	ts.l.Lock()
	delete(ts.targets, Typing{target, name})
	ts.l.Unlock()
}

// List returns the names currently typing in the given target.
func (ts *Typings) List(target string) []string {
	ts.l.Lock()
	defer ts.l.Unlock()
	var res []string
	for t := range ts.targets {
		if t.Target == target {
			res = append(res, t.Name)
		}
	}
	return res
}
