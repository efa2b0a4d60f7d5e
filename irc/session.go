package irc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rivo/uniseg"
)

// SupportedCapabilities is the set of capabilities requested when the server
// advertises them.
var SupportedCapabilities = map[string]struct{}{
	"batch":             {},
	"cap-notify":        {},
	"draft/chathistory": {},
	"echo-message":      {},
	"extended-join":     {},
	"invite-notify":     {},
	"message-tags":      {},
	"multi-prefix":      {},
	"sasl":              {},
	"server-time":       {},
}

// SessionParams defines how to connect to an IRC server.
type SessionParams struct {
	Nickname string
	Username string
	RealName string
	Auth     SASLClient
}

type action interface{}

type (
	actionJoin struct {
		Channel string
	}
	actionPart struct {
		Channel string
		Reason  string
	}
	actionSetTopic struct {
		Channel string
		Topic   string
	}
	actionChangeNick struct {
		Nick string
	}
	actionQuit struct {
		Reason string
	}
	actionPrivMsg struct {
		Target  string
		Content string
	}
	actionTyping struct {
		Target string
	}
	actionTypingStop struct {
		Target string
	}
	actionRequestHistory struct {
		Target string
		Before time.Time
	}
	actionSendRaw struct {
		Raw string
	}
)

// Session is the client side of one IRC connection. It consumes the messages
// of in, sends replies and user commands on out, and keeps State up to date.
// Messages and user commands are handled one at a time by Run.
type Session struct {
	in   <-chan Message
	out  chan<- Message
	acts chan action // user actions.
	evts chan Event  // events sent to the user.

	done      chan struct{}
	closeOnce sync.Once

	state *State
	auth  SASLClient

	typingStamps map[string]*typingStamp  // outgoing typing notifications, by casemapped target.
	chBatches    map[string]*historyBatch // channel history batches being processed.
	capEnded     bool                     // whether CAP END has been sent.
}

// NewSession queues the registration messages on out and returns a session
// ready to Run.
func NewSession(in <-chan Message, out chan<- Message, params SessionParams) *Session {
	if params.Username == "" {
		params.Username = params.Nickname
	}
	if params.RealName == "" {
		params.RealName = params.Nickname
	}

	s := &Session{
		in:           in,
		out:          out,
		acts:         make(chan action, chanCapacity),
		evts:         make(chan Event, chanCapacity),
		done:         make(chan struct{}),
		state:        newState(params),
		auth:         params.Auth,
		typingStamps: map[string]*typingStamp{},
		chBatches:    map[string]*historyBatch{},
	}

	s.out <- NewMessage("CAP", "LS", "302")
	s.out <- NewMessage("NICK", s.state.nick)
	s.out <- NewMessage("USER", s.state.user, "0", "*", s.state.real)

	return s
}

// State returns the live state of the session.
func (s *Session) State() *State {
	return s.state
}

// Events returns the channel where events are reported. It is closed when
// the session ends.
func (s *Session) Events() <-chan Event {
	return s.evts
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends the session. It is safe to call multiple times and from any
// goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Run handles incoming messages, user actions and typing expirations until
// the incoming channel is closed or the session is closed.
func (s *Session) Run() {
	defer s.shutdown()

	for {
		var ev Event
		var err error

		select {
		case msg, ok := <-s.in:
			if !ok {
				return
			}
			ev, err = s.handleMessage(msg)
		case act := <-s.acts:
			err = s.handleAction(act)
		case e := <-s.state.typings.expiries:
			ev = s.expireTyping(e)
		case <-s.done:
			return
		}

		if err != nil {
			ev = err
		}
		if ev == nil {
			continue
		}
		select {
		case s.evts <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Session) shutdown() {
	s.Close()
	s.state.typings.Close()
	close(s.out)
	close(s.evts)
	go func() {
		// unblock the reader until the connection is closed
		for range s.in {
		}
	}()
}

func (s *Session) enqueue(act action) {
	select {
	case s.acts <- act:
	case <-s.done:
	}
}

func (s *Session) SendRaw(raw string) {
	s.enqueue(actionSendRaw{raw})
}

func (s *Session) Join(channel string) {
	s.enqueue(actionJoin{channel})
}

func (s *Session) Part(channel, reason string) {
	s.enqueue(actionPart{channel, reason})
}

func (s *Session) ChangeTopic(channel, topic string) {
	s.enqueue(actionSetTopic{channel, topic})
}

func (s *Session) ChangeNick(nick string) {
	s.enqueue(actionChangeNick{nick})
}

func (s *Session) Quit(reason string) {
	s.enqueue(actionQuit{reason})
}

func (s *Session) PrivMsg(target, content string) {
	s.enqueue(actionPrivMsg{target, content})
}

// Typing sends a +typing=active notification, at most once every few seconds
// per target.
func (s *Session) Typing(target string) {
	s.enqueue(actionTyping{target})
}

// TypingStop sends a +typing=done notification if an active one was sent.
func (s *Session) TypingStop(target string) {
	s.enqueue(actionTypingStop{target})
}

// RequestHistoryBefore asks for the messages of target sent before the given
// time.
func (s *Session) RequestHistoryBefore(target string, before time.Time) {
	s.enqueue(actionRequestHistory{target, before})
}

func (s *Session) handleAction(act action) error {
	switch act := act.(type) {
	case actionSendRaw:
		msg, err := ParseMessage(act.Raw)
		if err != nil {
			return fmt.Errorf("invalid raw message: %v", err)
		}
		s.out <- msg
	case actionJoin:
		s.join(act.Channel)
	case actionPart:
		if act.Reason == "" {
			s.out <- NewMessage("PART", act.Channel)
		} else {
			s.out <- NewMessage("PART", act.Channel, act.Reason)
		}
	case actionSetTopic:
		s.out <- NewMessage("TOPIC", act.Channel, act.Topic)
	case actionChangeNick:
		s.out <- NewMessage("NICK", act.Nick)
	case actionQuit:
		if act.Reason == "" {
			s.out <- NewMessage("QUIT")
		} else {
			s.out <- NewMessage("QUIT", act.Reason)
		}
	case actionPrivMsg:
		s.privMsg(act.Target, act.Content)
	case actionTyping:
		s.typing(act.Target)
	case actionTypingStop:
		s.typingStop(act.Target)
	case actionRequestHistory:
		s.requestHistoryBefore(act.Target, act.Before)
	}
	return nil
}

// join sends a single JOIN, adding the first channel type prefix when the
// name has none.
func (s *Session) join(channel string) {
	if channel == "" {
		return
	}
	if !s.state.isChannel(channel) {
		prefix := "#"
		if s.state.chantypes != "" {
			prefix = s.state.chantypes[:1]
		}
		channel = prefix + channel
	}
	s.out <- NewMessage("JOIN", channel)
}

func splitChunks(s string, chunkLen int) (chunks []string) {
	if chunkLen <= 0 || len(s) <= chunkLen {
		return []string{s}
	}

	b := 0
	n := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		cw := len(gr.Str())
		if n+cw > chunkLen && n > 0 {
			chunks = append(chunks, s[b:b+n])
			b += n
			n = cw
			continue
		}
		n += cw
	}
	if b < len(s) {
		chunks = append(chunks, s[b:])
	}
	return
}

// maxMessageLen is the byte budget left for a PRIVMSG body to target once the
// server prepends our prefix.
func (s *Session) maxMessageLen(target string) int {
	hostLen := len(s.state.host)
	if hostLen == 0 {
		hostLen = len("255.255.255.255")
	}
	return 512 -
		len(":!@ PRIVMSG  :\r\n") -
		len(s.state.nick) -
		len(s.state.user) -
		hostLen -
		len(target)
}

func (s *Session) privMsg(target, content string) {
	maxLen := s.maxMessageLen(target)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, chunk := range splitChunks(line, maxLen) {
			s.out <- NewMessage("PRIVMSG", target, chunk)
		}
	}
	delete(s.typingStamps, s.state.casemap(target))
}

func (s *Session) typing(target string) {
	if !s.state.hasCapability("message-tags") {
		return
	}
	targetCf := s.state.casemap(target)
	t, ok := s.typingStamps[targetCf]
	if !ok || t.Type != TypingActive {
		t = newTypingStamp(target)
		s.typingStamps[targetCf] = t
	}
	if !t.Limit.Allow() {
		return
	}
	t.Type = TypingActive
	s.out <- NewMessage("TAGMSG", target).WithTag("+typing", "active")
}

func (s *Session) typingStop(target string) {
	if !s.state.hasCapability("message-tags") {
		return
	}
	targetCf := s.state.casemap(target)
	t, ok := s.typingStamps[targetCf]
	if !ok || t.Type != TypingActive {
		// don't send a +typing=done again if the last typing we sent was a +typing=done
		return
	}
	t.Type = TypingDone
	s.out <- NewMessage("TAGMSG", target).WithTag("+typing", "done")
}

func (s *Session) expireTyping(e typingExpiry) Event {
	entry, ok := s.state.typings.expire(e, s.state.casemap)
	if !ok {
		return nil
	}
	s.state.mu.Lock()
	s.state.gen++
	s.state.mu.Unlock()
	return TypingEvent{
		User:   entry.name,
		Target: entry.target,
		Typing: TypingDone,
		Time:   time.Now(),
	}
}

func (s *Session) handleMessage(msg Message) (Event, error) {
	if !msg.IsValid() {
		return nil, nil
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.gen++

	if s.state.registered {
		return s.handleRegistered(msg)
	}
	return s.handleUnregistered(msg)
}

func (s *Session) handleUnregistered(msg Message) (Event, error) {
	switch msg.Command {
	case "AUTHENTICATE":
		if s.auth == nil {
			break
		}

		var payload string
		if err := msg.ParseParams(&payload); err != nil {
			return nil, err
		}

		res, err := s.auth.Respond(payload)
		if err != nil {
			s.out <- NewMessage("AUTHENTICATE", "*")
			break
		}
		for _, chunk := range splitAuthenticate(res) {
			s.out <- NewMessage("AUTHENTICATE", chunk)
		}
	case rplLoggedin:
		var nuh string
		if err := msg.ParseParams(nil, &nuh, &s.state.acct); err != nil {
			return nil, err
		}

		if prefix := ParsePrefix(nuh); prefix != nil {
			if prefix.User != "" {
				s.state.user = prefix.User
			}
			s.state.host = prefix.Host
		}
		s.endRegistration()
	case rplSaslsuccess:
		s.endRegistration()
	case errNicklocked, errSaslfail, errSasltoolong, errSaslaborted, errSaslalready, rplSaslmechs:
		s.auth = nil
		s.endRegistration()
		return ErrorEvent{
			Severity: SeverityFail,
			Code:     msg.Command,
			Message:  fmt.Sprintf("SASL authentication failed: %s", strings.Join(msg.Params[1:], " ")),
		}, nil
	case errNicknameinuse:
		s.state.nick += "_"
		s.state.nickCf = s.state.casemap(s.state.nick)
		s.out <- NewMessage("NICK", s.state.nick)
	default:
		return s.handleRegistered(msg)
	}
	return nil, nil
}

func (s *Session) handleRegistered(msg Message) (Event, error) {
	if s.recordBatch(msg) {
		return nil, nil
	}
	return s.handleMessageRegistered(msg)
}

func (s *Session) handleMessageRegistered(msg Message) (Event, error) {
	st := s.state

	switch msg.Command {
	case rplWelcome:
		if st.registered {
			break
		}
		if err := msg.ParseParams(&st.nick); err != nil {
			return nil, err
		}

		st.nickCf = st.casemap(st.nick)
		st.registered = true
		self := st.getUser(&Prefix{
			Name: st.nick, User: st.user, Host: st.host,
		})
		self.Name.Name = st.nick
		if st.host == "" {
			s.out <- NewMessage("WHO", st.nick)
		}
		return RegisteredEvent{}, nil
	case rplIsupport:
		s.updateFeatures(msg.Params[1 : len(msg.Params)-1])
	case rplWhoreply:
		var nick, host, flags, username string
		if err := msg.ParseParams(nil, nil, &username, &host, nil, &nick, &flags); err != nil {
			return nil, err
		}

		nickCf := st.casemap(nick)
		away := strings.ContainsRune(flags, 'G')

		if st.nickCf == nickCf {
			st.user = username
			st.host = host
		}

		if u, ok := st.users[nickCf]; ok {
			u.Away = away
			u.Name.User = username
			u.Name.Host = host
		}
	case rplLoggedout:
		st.acct = ""
	case "CAP":
		return s.handleCap(msg)
	case "JOIN":
		var channel string
		if err := msg.ParseParams(&channel); err != nil {
			return nil, err
		}

		channelCf := st.casemap(channel)

		if st.isMe(msg.Prefix.Name) {
			if _, ok := st.channels[channelCf]; !ok {
				st.channels[channelCf] = &Channel{
					Name:    channel,
					Members: map[*User]string{},
				}
			}
			return SelfJoinEvent{
				Channel: channel,
			}, nil
		}

		c, ok := st.channels[channelCf]
		if !ok {
			break
		}
		st.addMember(c, st.getUser(msg.Prefix), "")
		return UserJoinEvent{
			User:    msg.Prefix.Name,
			Channel: c.Name,
			Time:    msg.TimeOrNow(),
		}, nil
	case "PART":
		var channel string
		if err := msg.ParseParams(&channel); err != nil {
			return nil, err
		}
		return s.removeFromChannel(msg, channel, msg.Prefix.Name, false), nil
	case "KICK":
		var channel, nick string
		if err := msg.ParseParams(&channel, &nick); err != nil {
			return nil, err
		}
		return s.removeFromChannel(msg, channel, nick, true), nil
	case "QUIT":
		nickCf := st.casemap(msg.Prefix.Name)
		u, ok := st.users[nickCf]
		if !ok {
			break
		}

		var channels []string
		for channelCf, c := range st.channels {
			if _, ok := c.Members[u]; ok {
				channels = append(channels, c.Name)
				st.typings.Done(channelCf, nickCf)
				st.removeMember(c, u)
			}
		}
		return UserQuitEvent{
			User:     msg.Prefix.Name,
			Channels: channels,
			Time:     msg.TimeOrNow(),
		}, nil
	case rplNamreply:
		var channel, names string
		if err := msg.ParseParams(nil, nil, &channel, &names); err != nil {
			return nil, err
		}

		c, ok := st.channels[st.casemap(channel)]
		if !ok {
			break
		}

		for _, name := range ParseNameReply(names, st.prefixSymbols) {
			st.addMember(c, st.getUser(name.Name), name.PowerLevel)
		}
	case rplEndofnames:
		var channel string
		if err := msg.ParseParams(nil, &channel); err != nil {
			return nil, err
		}

		c, ok := st.channels[st.casemap(channel)]
		if !ok || c.complete {
			break
		}
		c.complete = true
		s.requestHistoryBefore(c.Name, time.Now())
	case rplTopic:
		var channel, topic string
		if err := msg.ParseParams(nil, &channel, &topic); err != nil {
			return nil, err
		}

		if c, ok := st.channels[st.casemap(channel)]; ok {
			c.Topic = topic
		}
	case rplNotopic:
		var channel string
		if err := msg.ParseParams(nil, &channel); err != nil {
			return nil, err
		}

		if c, ok := st.channels[st.casemap(channel)]; ok {
			c.Topic = ""
		}
	case rplTopicwhotime:
		var channel, nick, timestamp string
		if err := msg.ParseParams(nil, &channel, &nick, &timestamp); err != nil {
			return nil, err
		}

		c, ok := st.channels[st.casemap(channel)]
		if !ok {
			break
		}
		t, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return nil, err
		}
		c.TopicWho = ParsePrefix(nick)
		c.TopicTime = time.Unix(t, 0).UTC()
	case "TOPIC":
		var channel, topic string
		if err := msg.ParseParams(&channel, &topic); err != nil {
			return nil, err
		}

		c, ok := st.channels[st.casemap(channel)]
		if !ok {
			break
		}
		c.Topic = topic
		c.TopicWho = msg.Prefix.Copy()
		c.TopicTime = msg.TimeOrNow()
		return TopicChangeEvent{
			Channel: c.Name,
			Topic:   topic,
			Who:     msg.Prefix.Name,
			Time:    c.TopicTime,
		}, nil
	case "PRIVMSG", "NOTICE":
		var target, content string
		if err := msg.ParseParams(&target, &content); err != nil {
			return nil, err
		}

		targetCf := st.casemap(target)
		st.typings.Done(targetCf, st.casemap(msg.Prefix.Name))

		ev := MessageEvent{
			User:    msg.Prefix.Name,
			Target:  target,
			Command: msg.Command,
			Content: content,
			Time:    msg.TimeOrNow(),
		}
		if c, ok := st.channels[targetCf]; ok {
			c.Log = append(c.Log, newLogMessage(msg))
			ev.Target = c.Name
			ev.TargetIsChannel = true
		}
		return ev, nil
	case "TAGMSG":
		if st.isMe(msg.Prefix.Name) {
			break
		}
		value, ok := msg.Tags["+typing"]
		if !ok {
			break
		}

		var target string
		if err := msg.ParseParams(&target); err != nil {
			return nil, err
		}
		targetCf := st.casemap(target)
		nickCf := st.casemap(msg.Prefix.Name)

		ev := TypingEvent{
			User:   msg.Prefix.Name,
			Target: target,
			Time:   msg.TimeOrNow(),
		}
		switch value {
		case "active":
			st.typings.Active(targetCf, nickCf, target, msg.Prefix.Name)
			ev.Typing = TypingActive
		case "paused":
			st.typings.Done(targetCf, nickCf)
			ev.Typing = TypingPaused
		case "done":
			st.typings.Done(targetCf, nickCf)
			ev.Typing = TypingDone
		default:
			return nil, nil
		}
		return ev, nil
	case "BATCH":
		id := msg.Params[0][1:]
		if msg.Params[0][0] == '+' {
			if msg.Params[1] == "chathistory" {
				s.openBatch(id, msg.Params[2])
			}
			break
		}
		if ev, ok := s.closeBatch(id); ok {
			return ev, nil
		}
	case "NICK":
		var newNick string
		if err := msg.ParseParams(&newNick); err != nil {
			return nil, err
		}

		formerNick := msg.Prefix.Name
		formerNickCf := st.casemap(formerNick)
		newNickCf := st.casemap(newNick)

		if u, ok := st.users[formerNickCf]; ok {
			delete(st.users, formerNickCf)
			u.Name.Name = newNick
			st.users[newNickCf] = u
		}

		if formerNickCf == st.nickCf {
			st.nick = newNick
			st.nickCf = newNickCf
			return SelfNickEvent{
				FormerNick: formerNick,
				Time:       msg.TimeOrNow(),
			}, nil
		}
		return UserNickEvent{
			User:       newNick,
			FormerNick: formerNick,
			Time:       msg.TimeOrNow(),
		}, nil
	case "PING":
		s.out <- NewMessage("PONG", msg.Params[0])
	case "FAIL", "WARN", "NOTE":
		severity := SeverityFail
		if msg.Command == "WARN" {
			severity = SeverityWarn
		} else if msg.Command == "NOTE" {
			severity = SeverityNote
		}
		return ErrorEvent{
			Severity: severity,
			Code:     msg.Params[1],
			Message:  msg.Params[len(msg.Params)-1],
		}, nil
	case errNicknameinuse:
		return ErrorEvent{
			Severity: SeverityFail,
			Code:     msg.Command,
			Message:  fmt.Sprintf("Nickname %s is already in use", msg.Params[1]),
		}, nil
	}
	return nil, nil
}

// removeFromChannel applies a PART or KICK of nick from channel.
func (s *Session) removeFromChannel(msg Message, channel, nick string, kicked bool) Event {
	st := s.state
	channelCf := st.casemap(channel)
	nickCf := st.casemap(nick)

	if nickCf == st.nickCf {
		c, ok := st.dropChannel(channelCf)
		if !ok {
			return nil
		}
		return SelfPartEvent{
			Channel: c.Name,
			Kicked:  kicked,
		}
	}

	c, ok := st.channels[channelCf]
	if !ok {
		return nil
	}
	u, ok := st.users[nickCf]
	if !ok {
		return nil
	}
	st.typings.Done(channelCf, nickCf)
	st.removeMember(c, u)
	return UserPartEvent{
		User:    nick,
		Channel: c.Name,
		Kicked:  kicked,
		Time:    msg.TimeOrNow(),
	}
}

func (s *Session) handleCap(msg Message) (Event, error) {
	st := s.state

	var subcommand, caps string
	if err := msg.ParseParams(nil, &subcommand); err != nil {
		return nil, err
	}
	more := len(msg.Params) > 3 && msg.Params[2] == "*"
	if more {
		if err := msg.ParseParams(nil, nil, nil, &caps); err != nil {
			return nil, err
		}
	} else {
		if err := msg.ParseParams(nil, nil, &caps); err != nil {
			return nil, err
		}
	}

	switch subcommand {
	case "LS", "NEW":
		for _, c := range ParseCaps(caps) {
			st.availableCaps[c.Name] = c.Value
			if _, ok := SupportedCapabilities[c.Name]; !ok {
				continue
			}
			if _, ok := st.enabledCaps[c.Name]; ok {
				continue
			}
			s.out <- NewMessage("CAP", "REQ", c.Name)
		}
		if subcommand == "LS" && !more && !st.registered {
			if _, ok := st.availableCaps["sasl"]; s.auth == nil || !ok {
				s.endRegistration()
			}
		}
	case "ACK":
		for _, c := range ParseCaps(caps) {
			if c.Enable {
				st.enabledCaps[c.Name] = struct{}{}
			} else {
				delete(st.enabledCaps, c.Name)
			}

			if !c.Enable {
				continue
			}
			if s.auth != nil && c.Name == "sasl" && !st.registered {
				h := s.auth.Handshake()
				s.out <- NewMessage("AUTHENTICATE", h)
			} else if c.Name == "multi-prefix" {
				for _, channel := range st.channels {
					s.out <- NewMessage("NAMES", channel.Name)
				}
			}
		}
	case "NAK":
		for _, c := range ParseCaps(caps) {
			if c.Name == "sasl" && !st.registered {
				s.auth = nil
				s.endRegistration()
			}
		}
	case "DEL":
		for _, c := range ParseCaps(caps) {
			delete(st.availableCaps, c.Name)
			delete(st.enabledCaps, c.Name)
		}
	}
	return nil, nil
}

func (s *Session) updateFeatures(features []string) {
	st := s.state

	for _, f := range features {
		if f == "" || f == "-" || f == "=" || f == "-=" {
			continue
		}

		var (
			add   bool
			key   string
			value string
		)

		if strings.HasPrefix(f, "-") {
			add = false
			f = f[1:]
		} else {
			add = true
		}

		kv := strings.SplitN(f, "=", 2)
		key = strings.ToUpper(kv[0])
		if len(kv) > 1 {
			value = kv[1]
		}

		if !add {
			// TODO reset negated features to their defaults
			continue
		}

	Switch:
		switch key {
		case "CASEMAPPING":
			if value == "" {
				break Switch
			}
			st.setCasemap(value)
			stamps := make(map[string]*typingStamp, len(s.typingStamps))
			for _, t := range s.typingStamps {
				stamps[st.casemap(t.Target)] = t
			}
			s.typingStamps = stamps
		case "CHANTYPES":
			st.chantypes = value
		case "PREFIX":
			if len(value)%2 != 0 || len(value) <= 2 || value[0] != '(' {
				break Switch
			}
			numPrefixes := len(value)/2 - 1
			if value[numPrefixes+1] != ')' {
				break Switch
			}
			st.prefixModes = value[1 : numPrefixes+1]
			st.prefixSymbols = value[numPrefixes+2:]
		}
	}
}

// endRegistration sends CAP END, once.
func (s *Session) endRegistration() {
	if s.capEnded {
		return
	}
	s.capEnded = true
	s.out <- NewMessage("CAP", "END")
}
