package irc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		line string
		want Message
	}{
		{
			line: "PING :irc.example.org",
			want: Message{Command: "PING", Params: []string{"irc.example.org"}},
		},
		{
			line: "  :nick!user@host PRIVMSG #chan :hello  world\r\n",
			want: Message{
				Prefix:  &Prefix{Name: "nick", User: "user", Host: "host"},
				Command: "PRIVMSG",
				Params:  []string{"#chan", "hello  world"},
			},
		},
		{
			line: "@time=2021-01-01T10:00:00.000Z;+typing=active;;=;+ :nick@host TAGMSG #chan",
			want: Message{
				Tags:    map[string]string{"time": "2021-01-01T10:00:00.000Z", "+typing": "active"},
				Prefix:  &Prefix{Name: "nick", Host: "host"},
				Command: "TAGMSG",
				Params:  []string{"#chan"},
			},
		},
		{
			line: "@a=x\\sy\\:z\\\\\\q;b :srv 005 me CASEMAPPING=ascii :are supported",
			want: Message{
				Tags:    map[string]string{"a": "x y;z\\q", "b": ""},
				Prefix:  &Prefix{Name: "srv"},
				Command: "005",
				Params:  []string{"me", "CASEMAPPING=ascii", "are supported"},
			},
		},
		{
			line: "@k=1;k=2 CMD",
			want: Message{
				Tags:    map[string]string{"k": "2"},
				Command: "CMD",
				Params:  []string{},
			},
		},
	}

	for _, tt := range tests {
		msg, err := ParseMessage(tt.line)
		require.NoError(t, err, tt.line)
		if tt.want.Params == nil {
			tt.want.Params = []string{}
		}
		assert.Equal(t, tt.want.Tags, msg.Tags, tt.line)
		assert.Equal(t, tt.want.Prefix, msg.Prefix, tt.line)
		assert.Equal(t, tt.want.Command, msg.Command, tt.line)
		assert.Equal(t, tt.want.Params, msg.Params, tt.line)
	}
}

func TestParseMessageEmpty(t *testing.T) {
	for _, line := range []string{"", "   ", "\r\n", "@a=b", ":prefix", "@a=b :prefix"} {
		_, err := ParseMessage(line)
		assert.Error(t, err, "%q", line)
	}
}

func TestMessageString(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{NewMessage("NICK", "guest"), "NICK guest"},
		{NewMessage("USER", "guest", "0", "*", "Real Name"), "USER guest 0 * :Real Name"},
		{NewMessage("PRIVMSG", "#chan", ""), "PRIVMSG #chan :"},
		{NewMessage("PRIVMSG", "#chan", ":)"), "PRIVMSG #chan ::)"},
		{NewMessage("QUIT"), "QUIT"},
		{
			NewMessage("TAGMSG", "#chan").WithTag("+typing", "active").WithTag("+draft/x", "a b;c"),
			"@+draft/x=a\\sb\\:c;+typing=active TAGMSG #chan",
		},
		{
			Message{Prefix: &Prefix{Name: "n", Host: "h"}, Command: "JOIN", Params: []string{"#c"}},
			":n@h JOIN #c",
		},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.msg.String())
	}

	assert.Equal(t, "NICK guest", NewMessage("NICK", "guest").String())
	assert.Equal(t, "@label=a AWAY :gone fishing", NewMessage("AWAY", "gone fishing").WithTag("label", "a").String())
}

func TestMessageRoundTrip(t *testing.T) {
	msgs := []Message{
		NewMessage("PRIVMSG", "#chan", "hello world"),
		NewMessage("PRIVMSG", "#chan", ":starts with colon"),
		NewMessage("PRIVMSG", "#chan", ""),
		NewMessage("CAP", "REQ", "message-tags"),
		NewMessage("TAGMSG", "#chan").WithTag("+typing", "done").WithTag("msgid", "a;b c\\d\r\n"),
		{
			Prefix:  &Prefix{Name: "nick", User: "user", Host: "host"},
			Command: "001",
			Params:  []string{"nick", "Welcome to the network"},
		},
	}

	for _, m := range msgs {
		first := m.String()
		parsed, err := ParseMessage(first)
		require.NoError(t, err, first)
		assert.Equal(t, first, parsed.String())
	}
}

func TestTagEscapeRoundTrip(t *testing.T) {
	for _, s := range []string{
		"",
		"plain",
		"semi;colon",
		"with space",
		"cr\rlf\n",
		"back\\slash",
		"\\s\\:;; \\\\",
	} {
		assert.Equal(t, s, unescapeTagValue(escapeTagValue(s)))
	}
}

func TestCasemapIdempotence(t *testing.T) {
	inputs := []string{"Nick[]\\~", "ABC{}|^", "#Chan^Name", "ÉlÈve", ""}
	for _, casemap := range []func(string) string{CasemapASCII, CasemapRFC1459, CasemapRFC1459Strict} {
		for _, s := range inputs {
			once := casemap(s)
			assert.Equal(t, once, casemap(once), "%q", s)
		}
	}
}

func TestCasemap(t *testing.T) {
	assert.Equal(t, "nick[]\\~", CasemapASCII("NICK[]\\~"))
	assert.Equal(t, "nick{}|^", CasemapRFC1459("NICK[]\\~"))
	assert.Equal(t, "nick{}|~", CasemapRFC1459Strict("NICK[]\\~"))
}

func TestArityGate(t *testing.T) {
	prefix := &Prefix{Name: "nick", User: "user", Host: "host"}
	tests := []struct {
		command string
		min     int
		prefix  bool
	}{
		{"AUTHENTICATE", 1, false},
		{"PING", 1, false},
		{"PONG", 2, false},
		{errNicknameinuse, 2, false},
		{rplEndofnames, 2, false},
		{rplLoggedout, 2, false},
		{rplMotd, 2, false},
		{rplNotopic, 2, false},
		{rplWelcome, 2, false},
		{rplYourhost, 2, false},
		{errNicklocked, 2, false},
		{rplSaslsuccess, 2, false},
		{errSaslfail, 2, false},
		{errSasltoolong, 2, false},
		{errSaslaborted, 2, false},
		{errSaslalready, 2, false},
		{rplSaslmechs, 2, false},
		{"FAIL", 3, false},
		{"WARN", 3, false},
		{"NOTE", 3, false},
		{rplIsupport, 3, false},
		{rplLoggedin, 3, false},
		{rplTopic, 3, false},
		{rplNamreply, 4, false},
		{rplWhoreply, 8, false},
		{"JOIN", 1, true},
		{"NICK", 1, true},
		{"PART", 1, true},
		{"TAGMSG", 1, true},
		{"KICK", 2, true},
		{"PRIVMSG", 2, true},
		{"NOTICE", 2, true},
		{"TOPIC", 2, true},
		{"999", 3, false},
	}

	params := func(n int) []string {
		p := make([]string, n)
		for i := range p {
			p[i] = "p"
		}
		return p
	}

	for _, tt := range tests {
		msg := Message{Command: tt.command, Params: params(tt.min)}
		if tt.prefix {
			msg.Prefix = prefix
		}
		assert.True(t, msg.IsValid(), "%s with %d params", tt.command, tt.min)

		msg.Params = params(tt.min - 1)
		assert.False(t, msg.IsValid(), "%s with %d params", tt.command, tt.min-1)

		if tt.prefix {
			msg.Params = params(tt.min)
			msg.Prefix = nil
			assert.False(t, msg.IsValid(), "%s without prefix", tt.command)
		}
	}
}

func TestArityGateSpecial(t *testing.T) {
	prefix := &Prefix{Name: "nick"}
	tests := []struct {
		msg   Message
		valid bool
	}{
		{Message{Command: "QUIT", Prefix: prefix}, true},
		{Message{Command: "QUIT"}, false},
		{Message{Command: "CAP", Params: []string{"*", "LS", "sasl"}}, true},
		{Message{Command: "CAP", Params: []string{"*", "LS"}}, false},
		{Message{Command: "CAP", Params: []string{"*", "FOO", "sasl"}}, false},
		{Message{Command: rplTopicwhotime, Params: []string{"me", "#c", "nick", "1600000000"}}, true},
		{Message{Command: rplTopicwhotime, Params: []string{"me", "#c", "nick", "16e8"}}, false},
		{Message{Command: rplTopicwhotime, Params: []string{"me", "#c", "nick"}}, false},
		{Message{Command: "BATCH", Params: []string{"-42"}}, true},
		{Message{Command: "BATCH", Params: []string{"-"}}, false},
		{Message{Command: "BATCH", Params: []string{"+42", "netsplit"}}, true},
		{Message{Command: "BATCH", Params: []string{"+42"}}, false},
		{Message{Command: "BATCH", Params: []string{"+42", "chathistory"}}, false},
		{Message{Command: "BATCH", Params: []string{"+42", "chathistory", "#c"}}, true},
		{Message{Command: "BATCH", Params: []string{"*42", "chathistory", "#c"}}, false},
		{Message{Command: "12a", Params: []string{"a", "b", "c"}}, false},
		{Message{Command: "UNKNOWN", Params: []string{"a", "b", "c"}}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.msg.IsValid(), "%s", tt.msg.String())
	}
}

func TestMessageTime(t *testing.T) {
	msg, err := ParseMessage("@time=2021-03-04T05:06:07.890Z PING x")
	require.NoError(t, err)
	tm, ok := msg.Time()
	require.True(t, ok)
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 890e6, time.UTC), tm)

	msg, err = ParseMessage("@time=yesterday PING x")
	require.NoError(t, err)
	_, ok = msg.Time()
	assert.False(t, ok)
	assert.WithinDuration(t, time.Now(), msg.TimeOrNow(), time.Minute)
	assert.Equal(t, time.UTC, msg.TimeOrNow().Location())
}

func TestParsePrefix(t *testing.T) {
	assert.Nil(t, ParsePrefix(""))
	assert.Equal(t, &Prefix{Name: "srv.example.org"}, ParsePrefix("srv.example.org"))
	assert.Equal(t, &Prefix{Name: "n", User: "u"}, ParsePrefix("n!u"))
	assert.Equal(t, &Prefix{Name: "n", Host: "h"}, ParsePrefix("n@h"))
	assert.Equal(t, "n!u@h", ParsePrefix("n!u@h").String())
}

func TestParseCaps(t *testing.T) {
	caps := ParseCaps("SASL=PLAIN,EXTERNAL -multi-prefix  - = draft/chathistory")
	assert.Equal(t, []Cap{
		{Name: "sasl", Value: "PLAIN,EXTERNAL", Enable: true},
		{Name: "multi-prefix", Enable: false},
		{Name: "draft/chathistory", Enable: true},
	}, caps)
}

func TestParseNameReply(t *testing.T) {
	names := ParseNameReply("@+alice bob +carol!c@host  ", "@+")
	require.Len(t, names, 3)
	assert.Equal(t, "@+", names[0].PowerLevel)
	assert.Equal(t, "alice", names[0].Name.Name)
	assert.Equal(t, "", names[1].PowerLevel)
	assert.Equal(t, "bob", names[1].Name.Name)
	assert.Equal(t, "+", names[2].PowerLevel)
	assert.Equal(t, &Prefix{Name: "carol", User: "c", Host: "host"}, names[2].Name)
}
