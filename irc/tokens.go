package irc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

func CasemapASCII(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func CasemapRFC1459(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		} else if r == '[' {
			r = '{'
		} else if r == ']' {
			r = '}'
		} else if r == '\\' {
			r = '|'
		} else if r == '~' {
			r = '^'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func CasemapRFC1459Strict(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		} else if r == '[' {
			r = '{'
		} else if r == ']' {
			r = '}'
		} else if r == '\\' {
			r = '|'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// casemapFunc returns the name and function of the casemapping applied for the
// given CASEMAPPING ISUPPORT value. Unknown values map to rfc1459.
func casemapFunc(name string) (applied string, casemap func(string) string) {
	switch name {
	case "ascii":
		return name, CasemapASCII
	case "rfc1459-strict":
		return name, CasemapRFC1459Strict
	default:
		return "rfc1459", CasemapRFC1459
	}
}

func word(s string) (w, rest string) {
	split := strings.SplitN(s, " ", 2)
	if len(split) < 2 {
		rest = ""
	} else {
		rest = split[1]
	}
	w = split[0]
	return
}

func tagEscape(c rune) (escape rune) {
	switch c {
	case ':':
		escape = ';'
	case 's':
		escape = ' '
	case 'r':
		escape = '\r'
	case 'n':
		escape = '\n'
	default:
		escape = c
	}
	return
}

func unescapeTagValue(escaped string) string {
	var builder strings.Builder
	builder.Grow(len(escaped))
	escape := false

	for _, c := range escaped {
		if c == '\\' && !escape {
			escape = true
		} else {
			var cpp rune

			if escape {
				cpp = tagEscape(c)
			} else {
				cpp = c
			}

			builder.WriteRune(cpp)
			escape = false
		}
	}

	return builder.String()
}

func escapeTagValue(unescaped string) string {
	var sb strings.Builder
	sb.Grow(len(unescaped) * 2)

	for _, c := range unescaped {
		switch c {
		case ';':
			sb.WriteString("\\:")
		case ' ':
			sb.WriteString("\\s")
		case '\r':
			sb.WriteString("\\r")
		case '\n':
			sb.WriteString("\\n")
		case '\\':
			sb.WriteString("\\\\")
		default:
			sb.WriteRune(c)
		}
	}

	return sb.String()
}

func parseTags(s string) (tags map[string]string) {
	tags = map[string]string{}

	for _, item := range strings.Split(s, ";") {
		if item == "" || item == "=" || item == "+" || item == "+=" {
			continue
		}

		kv := strings.SplitN(item, "=", 2)
		if len(kv) < 2 {
			tags[kv[0]] = ""
		} else {
			tags[kv[0]] = unescapeTagValue(kv[1])
		}
	}

	return
}

func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(k)
		if v := tags[k]; v != "" {
			sb.WriteByte('=')
			sb.WriteString(escapeTagValue(v))
		}
	}
	return sb.String()
}

var (
	errEmptyMessage = errors.New("empty message")
	errNoCommand    = errors.New("message has no command")
)

type Prefix struct {
	Name string
	User string
	Host string
}

// ParsePrefix parses a "nick!user@host" combination (or a prefix from the
// server) into a Prefix.
func ParsePrefix(s string) (p *Prefix) {
	if s == "" {
		return nil
	}

	p = &Prefix{}

	spl0 := strings.SplitN(s, "@", 2)
	if 1 < len(spl0) {
		p.Host = spl0[1]
	}

	spl1 := strings.SplitN(spl0[0], "!", 2)
	if 1 < len(spl1) {
		p.User = spl1[1]
	}

	p.Name = spl1[0]

	return
}

// Copy makes a copy of the prefix, but doesn't copy the internal strings.
func (p *Prefix) Copy() *Prefix {
	if p == nil {
		return nil
	}
	res := &Prefix{}
	*res = *p
	return res
}

// String returns the "nick!user@host" representation of the prefix.
func (p *Prefix) String() string {
	if p == nil {
		return ""
	}

	if p.User != "" && p.Host != "" {
		return p.Name + "!" + p.User + "@" + p.Host
	} else if p.User != "" {
		return p.Name + "!" + p.User
	} else if p.Host != "" {
		return p.Name + "@" + p.Host
	} else {
		return p.Name
	}
}

// Message is the representation of an IRC message.
type Message struct {
	Tags    map[string]string
	Prefix  *Prefix
	Command string
	Params  []string
}

func NewMessage(command string, params ...string) Message {
	return Message{Command: command, Params: params}
}

// ParseMessage parses the message from the given string, which must be
// trimmed of "\r\n" beforehand.
func ParseMessage(line string) (msg Message, err error) {
	line = strings.TrimLeft(line, " \t")
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		err = errEmptyMessage
		return
	}

	if line[0] == '@' {
		var tags string

		tags, line = word(line)
		msg.Tags = parseTags(tags[1:])
	}

	if line != "" && line[0] == ':' {
		var prefix string

		prefix, line = word(line)
		msg.Prefix = ParsePrefix(prefix[1:])
	}

	msg.Command, line = word(line)
	if msg.Command == "" {
		err = errNoCommand
		return
	}

	msg.Params = make([]string, 0, 15)
	for line != "" {
		if line[0] == ':' {
			msg.Params = append(msg.Params, line[1:])
			break
		}

		var param string
		param, line = word(line)
		msg.Params = append(msg.Params, param)
	}

	return
}

func (msg Message) WithTag(key, value string) Message {
	if msg.Tags == nil {
		msg.Tags = map[string]string{}
	}
	msg.Tags[key] = value
	return msg
}

// IsReply reports whether the message command is a server reply.
func (msg *Message) IsReply() bool {
	if len(msg.Command) != 3 {
		return false
	}
	return isDigits(msg.Command)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || '9' < r {
			return false
		}
	}
	return true
}

// IsValid reports whether the message has enough parameters (and a prefix
// when one is needed) for the session to handle it. Messages that are not
// valid must be dropped.
func (msg *Message) IsValid() bool {
	n := len(msg.Params)
	hasPrefix := msg.Prefix != nil
	switch msg.Command {
	case "AUTHENTICATE", "PING":
		return 1 <= n
	case "PONG", errNicknameinuse, rplEndofnames, rplLoggedout, rplMotd, rplNotopic, rplWelcome, rplYourhost:
		return 2 <= n
	case errNicklocked, rplSaslsuccess, errSaslfail, errSasltoolong, errSaslaborted, errSaslalready, rplSaslmechs:
		return 2 <= n
	case "FAIL", "WARN", "NOTE", rplIsupport, rplLoggedin, rplTopic:
		return 3 <= n
	case rplNamreply:
		return 4 <= n
	case rplWhoreply:
		return 8 <= n
	case "QUIT":
		return hasPrefix
	case "JOIN", "NICK", "PART", "TAGMSG":
		return hasPrefix && 1 <= n
	case "KICK", "PRIVMSG", "NOTICE", "TOPIC":
		return hasPrefix && 2 <= n
	case "CAP":
		if n < 3 {
			return false
		}
		switch msg.Params[1] {
		case "LS", "LIST", "ACK", "NAK", "NEW", "DEL":
			return true
		}
		return false
	case rplTopicwhotime:
		return 4 <= n && msg.Params[3] != "" && isDigits(msg.Params[3])
	case "BATCH":
		if n < 1 || len(msg.Params[0]) < 2 {
			return false
		}
		switch msg.Params[0][0] {
		case '-':
			return true
		case '+':
			if n < 2 {
				return false
			}
			if msg.Params[1] == "chathistory" {
				return 3 <= n
			}
			return true
		}
		return false
	default:
		return 3 <= n && msg.IsReply()
	}
}

func (msg *Message) errNotEnoughParams(expected int) error {
	return fmt.Errorf("expected at least %d params, got %d", expected, len(msg.Params))
}

// ParseParams copies the message params into the given pointers, skipping
// nil ones.
func (msg *Message) ParseParams(out ...*string) error {
	if len(msg.Params) < len(out) {
		return msg.errNotEnoughParams(len(out))
	}
	for i := range out {
		if out[i] != nil {
			*out[i] = msg.Params[i]
		}
	}
	return nil
}

// Time returns the time when the message has been sent, if present.
func (msg *Message) Time() (t time.Time, ok bool) {
	tag, ok := msg.Tags["time"]
	if !ok {
		return
	}
	return parseTimestamp(tag)
}

// TimeOrNow returns the time when the message has been sent, or
// time.Now() if absent.
func (msg *Message) TimeOrNow() time.Time {
	t, ok := msg.Time()
	if ok {
		return t
	}
	return time.Now().UTC()
}

func parseTimestamp(timestamp string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// String returns the wire form of the message, without the trailing CRLF.
func (msg Message) String() string {
	var sb strings.Builder

	if len(msg.Tags) != 0 {
		sb.WriteByte('@')
		sb.WriteString(formatTags(msg.Tags))
		sb.WriteByte(' ')
	}

	if msg.Prefix != nil {
		sb.WriteByte(':')
		sb.WriteString(msg.Prefix.String())
		sb.WriteByte(' ')
	}

	sb.WriteString(msg.Command)

	if len(msg.Params) != 0 {
		for _, p := range msg.Params[:len(msg.Params)-1] {
			sb.WriteByte(' ')
			sb.WriteString(p)
		}
		last := msg.Params[len(msg.Params)-1]
		sb.WriteByte(' ')
		if last == "" || strings.ContainsRune(last, ' ') || last[0] == ':' {
			sb.WriteByte(':')
		}
		sb.WriteString(last)
	}

	return sb.String()
}

// Cap is a capability token in "CAP" commands' arguments.
type Cap struct {
	Name   string
	Value  string
	Enable bool
}

// ParseCaps parses the last argument (capability list) of "CAP LS/LIST/NEW/DEL"
// and "CAP ACK/NAK".
func ParseCaps(caps string) (diff []Cap) {
	for _, c := range strings.Split(caps, " ") {
		if c == "" || c == "-" || c == "=" || c == "-=" {
			continue
		}

		var item Cap

		if strings.HasPrefix(c, "-") {
			item.Enable = false
			c = c[1:]
		} else {
			item.Enable = true
		}

		kv := strings.SplitN(c, "=", 2)
		item.Name = CasemapASCII(kv[0])
		if len(kv) > 1 {
			item.Value = kv[1]
		}

		diff = append(diff, item)
	}

	return
}

// Member is a token in RPL_NAMREPLY's last parameter.
type Member struct {
	PowerLevel string
	Name       *Prefix
}

// ParseNameReply parses the last parameter of RPL_NAMREPLY, according to the
// membership prefixes of the server.
func ParseNameReply(trailing string, prefixes string) (names []Member) {
	for _, word := range strings.Split(trailing, " ") {
		if word == "" {
			continue
		}

		name := strings.TrimLeft(word, prefixes)
		prefix := ParsePrefix(name)
		if prefix == nil {
			continue
		}
		names = append(names, Member{
			PowerLevel: word[:len(word)-len(name)],
			Name:       prefix,
		})
	}

	return
}
