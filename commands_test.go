package discussions

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~taiite/discussions/irc"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input     string
		command   string
		args      string
		isCommand bool
	}{
		{"hello", "", "hello", false},
		{"", "", "", false},
		{"//not a command", "", "/not a command", false},
		{"/join #chan", "JOIN", "#chan", true},
		{"/msg   bob  hi there", "MSG", "bob  hi there", true},
		{"/Quit", "QUIT", "", true},
		{"/", "", "", true},
	}

	for _, tt := range tests {
		command, args, isCommand := parseCommand(tt.input)
		assert.Equal(t, tt.command, command, tt.input)
		assert.Equal(t, tt.args, args, tt.input)
		assert.Equal(t, tt.isCommand, isCommand, tt.input)
	}
}

func TestFieldsN(t *testing.T) {
	tests := []struct {
		s    string
		n    int
		want []string
	}{
		{"", 2, nil},
		{"a b c", 0, nil},
		{"  a b  c ", 1, []string{"a b  c"}},
		{"bob hi there", 2, []string{"bob", "hi there"}},
		{"bob   hi  there", 2, []string{"bob", "hi  there"}},
		{"a b c", maxArgsInfinite, []string{"a", "b", "c"}},
		{"#chan", 2, []string{"#chan"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, fieldsN(tt.s, tt.n), "%q %d", tt.s, tt.n)
	}
}

func TestHandleInputOffline(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompt(newTestApp(backoffBase, backoffMax), &out)

	assert.NoError(t, p.HandleInput(""))
	assert.Equal(t, errOffline, p.HandleInput("/join #chan"))
	assert.EqualError(t, p.HandleInput("hello"), "can't send message to this buffer")
	assert.ErrorContains(t, p.HandleInput("/q"), "ambiguous command")
	assert.ErrorContains(t, p.HandleInput("/n"), "ambiguous command")
	assert.EqualError(t, p.HandleInput("/"), "lone slash at the beginning")
	assert.EqualError(t, p.HandleInput("/msg bob"), "usage: MSG <target> <message>")
	assert.EqualError(t, p.HandleInput("/names"), "command NAMES cannot be executed from a server buffer")

	assert.ErrorContains(t, p.HandleInput("/frobnicate"), "does not exist")
	assert.Equal(t, errOffline, p.HandleInput("/frobnicate"), "entered twice, it is passed to the server")

	assert.ErrorContains(t, p.HandleInput(" /join #chan"), "looks like a command")

	assert.NoError(t, p.HandleInput("/b #chan"))
	assert.Equal(t, "#chan", p.Buffer())

	assert.True(t, errors.Is(p.HandleInput("/quit bye"), ErrQuit))

	assert.NoError(t, p.HandleInput("/help topic"))
	assert.Contains(t, out.String(), "TOPIC [topic]")
}

type promptSession struct {
	*Prompt
	t   *testing.T
	s   *irc.Session
	out chan irc.Message
	buf bytes.Buffer
}

func newPromptSession(t *testing.T) *promptSession {
	app := newTestApp(backoffBase, backoffMax)
	in := make(chan irc.Message)
	out := make(chan irc.Message, 64)
	s := irc.NewSession(in, out, irc.SessionParams{Nickname: "guest"})
	go s.Run()
	app.setSession(s)
	t.Cleanup(func() {
		s.Close()
		close(in)
	})

	ps := &promptSession{t: t, s: s, out: out}
	ps.Prompt = NewPrompt(app, &ps.buf)
	for range 3 {
		ps.next() // registration
	}
	return ps
}

func (ps *promptSession) next() string {
	ps.t.Helper()
	select {
	case msg := <-ps.out:
		return msg.String()
	case <-time.After(time.Second):
		ps.t.Fatal("timeout waiting for an outgoing message")
	}
	return ""
}

func TestHandleInputOnline(t *testing.T) {
	p := newPromptSession(t)

	require.NoError(t, p.HandleInput("/join #chan"))
	assert.Equal(t, "JOIN #chan", p.next())
	assert.Equal(t, "#chan", p.Buffer())

	require.NoError(t, p.HandleInput("hello world"))
	assert.Equal(t, "PRIVMSG #chan :hello world", p.next())
	assert.Contains(t, p.buf.String(), "[#chan] <guest> hello world")

	require.NoError(t, p.HandleInput("/me waves"))
	assert.Equal(t, "PRIVMSG #chan :\x01ACTION waves\x01", p.next())
	assert.Contains(t, p.buf.String(), "* guest waves")

	require.NoError(t, p.HandleInput("/msg bob hi there"))
	assert.Equal(t, "PRIVMSG bob :hi there", p.next())

	require.NoError(t, p.HandleInput("/topic new topic"))
	assert.Equal(t, "TOPIC #chan :new topic", p.next())

	require.NoError(t, p.HandleInput("/whois bob"))
	assert.Equal(t, "WHOIS bob", p.next())

	require.NoError(t, p.HandleInput("/quote MODE #chan +m"))
	assert.Equal(t, "MODE #chan +m", p.next())

	assert.ErrorContains(t, p.HandleInput("/nick a:b"), "illegal char")
	require.NoError(t, p.HandleInput("/nick other"))
	assert.Equal(t, "NICK other", p.next())

	assert.EqualError(t, p.HandleInput("/history"), "the server does not support fetching history")
	assert.EqualError(t, p.HandleInput("/names"), "this is not a joined channel")

	require.NoError(t, p.HandleInput("/part see you"))
	assert.Equal(t, "PART #chan :see you", p.next())
	assert.Equal(t, "", p.Buffer())

	assert.True(t, errors.Is(p.HandleInput("/quit bye"), ErrQuit))
	assert.Equal(t, "QUIT bye", p.next())
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		ev     irc.Event
		buffer string
		line   string
	}{
		{ConnectingEvent{Addr: "irc.example.org"}, "", "-- Connecting to irc.example.org..."},
		{DisconnectedEvent{Addr: "irc.example.org", Err: errRefused}, "", "-- Connection to irc.example.org failed: connection refused"},
		{irc.MessageEvent{User: "bob", Target: "#chan", Command: "PRIVMSG", Content: "hi"}, "#chan", "<bob> hi"},
		{irc.MessageEvent{User: "bob", Target: "#chan", Command: "NOTICE", Content: "hi"}, "#chan", "-bob- hi"},
		{irc.MessageEvent{User: "bob", Target: "#chan", Command: "PRIVMSG", Content: "\x01ACTION waves\x01"}, "#chan", "* bob waves"},
		{irc.UserJoinEvent{User: "bob", Channel: "#chan"}, "#chan", "+ bob"},
		{irc.ErrorEvent{Severity: irc.SeverityFail, Code: "ACCOUNT_REQUIRED", Message: "log in first"}, "", "!! fail ACCOUNT_REQUIRED: log in first"},
		{irc.TypingEvent{User: "bob", Target: "#chan"}, "", ""},
	}

	for _, tt := range tests {
		buffer, line := formatEvent(tt.ev)
		assert.Equal(t, tt.buffer, buffer)
		assert.Equal(t, tt.line, line)
	}
}
