package discussions

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/proxy"

	"git.sr.ht/~taiite/discussions/irc"
)

var (
	errOffline = fmt.Errorf("you are disconnected from the server, retry later")
)

// Params is a snapshot of the connection parameters.
type Params struct {
	Addr          string // host[:port]
	TLS           bool
	TLSSkipVerify bool
	Session       irc.SessionParams
	Channels      []string // joined once registered.
	Debug         bool     // log every line.
}

// DialFunc opens the byte stream to the server described by p.
type DialFunc func(ctx context.Context, p Params) (io.ReadWriteCloser, error)

// Supervisor status events, delivered to observers along with the session
// events.
type (
	ConnectingEvent struct {
		Addr string
	}
	ConnectedEvent struct {
		Addr string
	}
	DisconnectedEvent struct {
		Addr string
		Err  error // the connection error, nil if an established session ended.
	}
)

// App keeps one IRC session alive, reconnecting with a backoff.
type App struct {
	// Dial is used to open connections. It defaults to a TCP dialer honoring
	// the proxy environment variables, with optional TLS.
	Dial DialFunc

	logger  *slog.Logger
	metrics *Metrics

	backoffBase time.Duration
	backoffMax  time.Duration
	reset       chan struct{}
	idle        atomic.Bool

	lock         sync.Mutex
	session      *irc.Session
	observers    map[int]func(irc.Event)
	nextObserver int
}

func NewApp(logger *slog.Logger, reg prometheus.Registerer) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		Dial:        tryConnect,
		logger:      logger,
		metrics:     NewMetrics(reg),
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		reset:       make(chan struct{}, 1),
		observers:   map[int]func(irc.Event){},
	}
}

// Run connects with the latest parameters received on params until ctx is
// done. Each new snapshot replaces the current connection.
func (app *App) Run(ctx context.Context, params <-chan Params) {
	var cancel context.CancelFunc
	var done chan struct{}
	stop := func() {
		if cancel == nil {
			return
		}
		cancel()
		<-done
		cancel = nil
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-params:
			if !ok {
				// keep the current connection until ctx is done
				params = nil
				continue
			}
			stop()

			var loopCtx context.Context
			loopCtx, cancel = context.WithCancel(ctx)
			done = make(chan struct{})
			go func(done chan<- struct{}) {
				defer close(done)
				app.ircLoop(loopCtx, p)
			}(done)
		}
	}
}

// Reset cuts the current (or next) wait between connection attempts short,
// and resets the delay. It never blocks.
func (app *App) Reset() {
	select {
	case app.reset <- struct{}{}:
	default:
	}
}

// Idle makes the supervisor ignore Reset and wait the longest delay between
// connection attempts.
func (app *App) Idle() {
	app.idle.Store(true)
}

// Resume leaves idle mode and retries right away.
func (app *App) Resume() {
	app.idle.Store(false)
	app.Reset()
}

// Attach registers fn to be called with every event, from the supervisor
// goroutine. The returned function detaches it.
func (app *App) Attach(fn func(irc.Event)) (detach func()) {
	app.lock.Lock()
	defer app.lock.Unlock()
	id := app.nextObserver
	app.nextObserver++
	app.observers[id] = fn
	return func() {
		app.lock.Lock()
		defer app.lock.Unlock()
		delete(app.observers, id)
	}
}

func (app *App) notify(ev irc.Event) {
	app.lock.Lock()
	observers := make([]func(irc.Event), 0, len(app.observers))
	for _, fn := range app.observers {
		observers = append(observers, fn)
	}
	app.lock.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}

// Session returns the live session, or nil.
func (app *App) Session() *irc.Session {
	app.lock.Lock()
	defer app.lock.Unlock()
	return app.session
}

func (app *App) setSession(s *irc.Session) {
	app.lock.Lock()
	defer app.lock.Unlock()
	app.session = s
}

func (app *App) Join(channel string) error {
	s := app.Session()
	if s == nil {
		return errOffline
	}
	s.Join(channel)
	return nil
}

func (app *App) Part(channel, reason string) error {
	s := app.Session()
	if s == nil {
		return errOffline
	}
	s.Part(channel, reason)
	return nil
}

func (app *App) PrivMsg(target, content string) error {
	s := app.Session()
	if s == nil {
		return errOffline
	}
	s.PrivMsg(target, content)
	return nil
}

func (app *App) Typing(target string) error {
	s := app.Session()
	if s == nil {
		return errOffline
	}
	s.Typing(target)
	return nil
}

func (app *App) RequestHistoryBefore(target string, before time.Time) error {
	s := app.Session()
	if s == nil {
		return errOffline
	}
	s.RequestHistoryBefore(target, before)
	return nil
}

func (app *App) ircLoop(ctx context.Context, p Params) {
	b := newBackoff(app.backoffBase, app.backoffMax)
	for {
		logger := app.logger.With("conn", uuid.NewString(), "addr", p.Addr)

		app.notify(ConnectingEvent{Addr: p.Addr})
		logger.Info("connecting")
		conn, err := app.Dial(ctx, p)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			app.metrics.ConnectAttempts.WithLabelValues("failure").Inc()
			logger.Warn("connection failed", "err", err)
			app.notify(DisconnectedEvent{Addr: p.Addr, Err: err})
		} else {
			app.metrics.ConnectAttempts.WithLabelValues("success").Inc()
			b.Reset()
			app.runSession(ctx, logger, conn, p)
			logger.Info("connection lost")
			app.notify(DisconnectedEvent{Addr: p.Addr})
		}

		if !app.wait(ctx, b) {
			return
		}
	}
}

// wait sleeps before the next connection attempt. It reports false if ctx is
// done first.
func (app *App) wait(ctx context.Context, b *backoff) bool {
	d := b.Next()
	if app.idle.Load() {
		d = app.backoffMax
	}
	app.metrics.BackoffSeconds.Set(d.Seconds())
	defer app.metrics.BackoffSeconds.Set(0)

	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		case <-app.reset:
			if app.idle.Load() {
				continue
			}
			b.Reset()
			return true
		}
	}
}

func (app *App) runSession(ctx context.Context, logger *slog.Logger, conn io.ReadWriteCloser, p Params) {
	in, out := irc.ChanInOut(conn)
	in = app.instrumentIn(logger, in, p.Debug)
	out = app.instrumentOut(logger, out, p.Debug)

	s := irc.NewSession(in, out, p.Session)
	app.setSession(s)
	defer app.setSession(nil)

	app.metrics.Connected.Set(1)
	defer app.metrics.Connected.Set(0)
	app.notify(ConnectedEvent{Addr: p.Addr})

	go s.Run()
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			app.handleIRCEvent(logger, s, p, ev)
		case <-ctx.Done():
			s.Close()
			// unblock the session if it is stuck writing to the server
			conn.Close()
			for range s.Events() {
			}
			return
		}
	}
}

func (app *App) handleIRCEvent(logger *slog.Logger, s *irc.Session, p Params, ev irc.Event) {
	switch ev := ev.(type) {
	case irc.RegisteredEvent:
		logger.Info("registered", "nick", s.State().Nick())
		if len(p.Channels) != 0 {
			go func() {
				for _, channel := range p.Channels {
					s.Join(channel)
				}
			}()
		}
	case irc.ErrorEvent:
		logger.Warn("server error", "severity", ev.Severity, "code", ev.Code, "message", ev.Message)
	case error:
		logger.Error("session error", "err", ev)
	}
	app.notify(ev)
}

func (app *App) instrumentIn(logger *slog.Logger, in <-chan irc.Message, debug bool) <-chan irc.Message {
	lines := app.metrics.Lines.WithLabelValues("in")
	instrumented := make(chan irc.Message, cap(in))
	go func() {
		for msg := range in {
			lines.Inc()
			if debug {
				logger.Debug("IN", "line", msg.String())
			}
			instrumented <- msg
		}
		close(instrumented)
	}()
	return instrumented
}

func (app *App) instrumentOut(logger *slog.Logger, out chan<- irc.Message, debug bool) chan<- irc.Message {
	lines := app.metrics.Lines.WithLabelValues("out")
	instrumented := make(chan irc.Message, cap(out))
	go func() {
		for msg := range instrumented {
			lines.Inc()
			if debug {
				d := redact(msg)
				logger.Debug("OUT", "line", d.String())
			}
			out <- msg
		}
		close(out)
	}()
	return instrumented
}

// redact hides credentials from outgoing messages.
func redact(msg irc.Message) irc.Message {
	const placeholder = "<removed>"
	d := msg
	if msg.Command == "PASS" && len(d.Params) >= 1 {
		d.Params = append([]string{placeholder}, d.Params[1:]...)
	} else if msg.Command == "OPER" && len(d.Params) >= 2 {
		d.Params = append([]string{d.Params[0], placeholder}, d.Params[2:]...)
	} else if msg.Command == "AUTHENTICATE" && len(d.Params) >= 1 {
		switch d.Params[0] {
		case "*", "PLAIN":
		default:
			d.Params = append([]string{placeholder}, d.Params[1:]...)
		}
	}
	return d
}

func tryConnect(ctx context.Context, p Params) (conn io.ReadWriteCloser, err error) {
	addr := p.Addr
	colonIdx := strings.LastIndexByte(addr, ':')
	bracketIdx := strings.LastIndexByte(addr, ']')
	if colonIdx <= bracketIdx {
		// either colonIdx < 0, or the last colon is before a ']' (end
		// of IPv6 address). -> missing port
		if p.TLS {
			addr += ":6697"
		} else {
			addr += ":6667"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
	}
	c, err := proxy.FromEnvironmentUsing(dialer).(proxy.ContextDialer).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect: %v", err)
	}

	if p.TLS {
		host, _, _ := net.SplitHostPort(addr) // should succeed since net.Dial did.
		tlsConn := tls.Client(c, &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: p.TLSSkipVerify,
			NextProtos:         []string{"irc"},
		})
		err = tlsConn.HandshakeContext(ctx)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("tls handshake: %v", err)
		}
		c = tlsConn
	}

	return c, nil
}
