package irc

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Values taken by the "@+typing=" client tag.  TypingUnspec means the value or
// tag is absent.  An incoming TypingPaused removes the indicator like
// TypingDone does.
const (
	TypingUnspec = iota
	TypingActive
	TypingPaused
	TypingDone
)

const (
	// typingTimeout is how long an incoming "active" notification lasts
	// without being refreshed.
	typingTimeout = 6 * time.Second
	// typingInterval is the minimum delay between two outgoing "active"
	// notifications to the same target.
	typingInterval = 3 * time.Second
)

// Typing identifies an incoming typing indicator. Both fields are casemapped.
type Typing struct {
	Target string
	Name   string
}

type typingEntry struct {
	target string // display target
	name   string // display nickname
	at     time.Time
}

// typingExpiry refers to the display names, so that it still matches its
// indicator after the casemapping changes.
type typingExpiry struct {
	target string
	name   string
	at     time.Time
}

// Typings holds the incoming typing indicators. Each "active" indicator is
// expired after a timeout unless it is refreshed or set to done first.
type Typings struct {
	mu      sync.Mutex
	targets map[Typing]typingEntry
	timeout time.Duration

	expiries  chan typingExpiry
	done      chan struct{}
	closeOnce sync.Once
}

func NewTypings() *Typings {
	return &Typings{
		targets:  map[Typing]typingEntry{},
		timeout:  typingTimeout,
		expiries: make(chan typingExpiry, chanCapacity),
		done:     make(chan struct{}),
	}
}

// Close stops delivering expirations.
func (ts *Typings) Close() {
	ts.closeOnce.Do(func() {
		close(ts.done)
	})
}

// Active marks name as typing in target, until the timeout expires.
func (ts *Typings) Active(targetCf, nameCf, target, name string) {
	t := Typing{Target: targetCf, Name: nameCf}
	now := time.Now()

	ts.mu.Lock()
	ts.targets[t] = typingEntry{target: target, name: name, at: now}
	ts.mu.Unlock()

	e := typingExpiry{target: target, name: name, at: now}
	time.AfterFunc(ts.timeout, func() {
		select {
		case ts.expiries <- e:
		case <-ts.done:
		}
	})
}

// Done removes the indicator, and reports whether it was present.
func (ts *Typings) Done(targetCf, nameCf string) bool {
	t := Typing{Target: targetCf, Name: nameCf}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.targets[t]
	delete(ts.targets, t)
	return ok
}

// expire removes the indicator only if it has not been refreshed since the
// expiration was scheduled.
func (ts *Typings) expire(e typingExpiry, casemap func(string) string) (entry typingEntry, ok bool) {
	t := Typing{Target: casemap(e.target), Name: casemap(e.name)}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	entry, ok = ts.targets[t]
	if !ok || !entry.at.Equal(e.at) {
		return typingEntry{}, false
	}
	delete(ts.targets, t)
	return entry, true
}

// rekey recomputes the keys of all indicators with the given casemapping.
// Of two indicators that now share a key, the most recent one is kept.
func (ts *Typings) rekey(casemap func(string) string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	targets := make(map[Typing]typingEntry, len(ts.targets))
	for _, e := range ts.targets {
		t := Typing{Target: casemap(e.target), Name: casemap(e.name)}
		if prev, ok := targets[t]; ok && prev.at.After(e.at) {
			continue
		}
		targets[t] = e
	}
	ts.targets = targets
}

// List returns the sorted display names of the users typing in targetCf.
func (ts *Typings) List(targetCf string) []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var names []string
	for t, e := range ts.targets {
		if t.Target == targetCf {
			names = append(names, e.name)
		}
	}
	sort.Strings(names)
	return names
}

// typingStamp is the debounce state of outgoing notifications for a target.
type typingStamp struct {
	Target string // display target
	Type   int
	Limit  *rate.Limiter
}

func newTypingStamp(target string) *typingStamp {
	return &typingStamp{
		Target: target,
		Limit:  rate.NewLimiter(rate.Every(typingInterval), 1),
	}
}
