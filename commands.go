package discussions

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"git.sr.ht/~taiite/discussions/irc"
)

// ErrQuit is returned by HandleInput after /QUIT.
var ErrQuit = errors.New("quit")

const maxArgsInfinite = -1

type command struct {
	AllowHome bool
	MinArgs   int
	MaxArgs   int
	Usage     string
	Desc      string
	Handle    func(p *Prompt, args []string) error // nil = passthrough
}

type commandSet map[string]*command

var commands commandSet

func init() {
	commands = commandSet{
		"HELP": {
			AllowHome: true,
			MaxArgs:   1,
			Usage:     "[command]",
			Desc:      "show the list of commands, or how to use the given one",
			Handle:    commandDoHelp,
		},
		"BUFFER": {
			AllowHome: true,
			MaxArgs:   1,
			Usage:     "[target]",
			Desc:      "switch to the given channel or query, or show the current one",
			Handle:    commandDoBuffer,
		},
		"JOIN": {
			AllowHome: true,
			MinArgs:   1,
			MaxArgs:   1,
			Usage:     "<channel>",
			Desc:      "join a channel",
			Handle:    commandDoJoin,
		},
		"PART": {
			AllowHome: true,
			MaxArgs:   2,
			Usage:     "[channel] [reason]",
			Desc:      "part a channel",
			Handle:    commandDoPart,
		},
		"MSG": {
			AllowHome: true,
			MinArgs:   2,
			MaxArgs:   2,
			Usage:     "<target> <message>",
			Desc:      "send a message to the given target",
			Handle:    commandDoMsg,
		},
		"ME": {
			MinArgs: 1,
			MaxArgs: 1,
			Usage:   "<message>",
			Desc:    "send an action",
			Handle:  commandDoMe,
		},
		"TOPIC": {
			MaxArgs: 1,
			Usage:   "[topic]",
			Desc:    "show or set the topic of the current channel",
			Handle:  commandDoTopic,
		},
		"NAMES": {
			Desc:   "show the member list of the current channel",
			Handle: commandDoNames,
		},
		"NICK": {
			AllowHome: true,
			MinArgs:   1,
			MaxArgs:   1,
			Usage:     "<nickname>",
			Desc:      "change your nickname",
			Handle:    commandDoNick,
		},
		"HISTORY": {
			Desc:   "fetch messages older than the oldest one of the current channel",
			Handle: commandDoHistory,
		},
		"QUOTE": {
			AllowHome: true,
			MinArgs:   1,
			MaxArgs:   1,
			Usage:     "<raw message>",
			Desc:      "send raw protocol data",
			Handle:    commandDoQuote,
		},
		"RECONNECT": {
			AllowHome: true,
			Desc:      "retry connecting now",
			Handle:    commandDoReconnect,
		},
		"QUIT": {
			AllowHome: true,
			MaxArgs:   1,
			Usage:     "[reason]",
			Desc:      "quit the program",
			Handle:    commandDoQuit,
		},
		"MOTD": {
			AllowHome: true,
			MaxArgs:   1,
			Usage:     "[server]",
			Desc:      "show the message of the day (MOTD)",
		},
		"WHOIS": {
			AllowHome: true,
			MinArgs:   1,
			MaxArgs:   1,
			Usage:     "<nick>",
			Desc:      "get information about someone",
		},
		"AWAY": {
			AllowHome: true,
			MaxArgs:   1,
			Usage:     "[message]",
			Desc:      "mark yourself as away, or back without a message",
		},
	}
}

// Prompt reads user input lines and prints events as text lines.
type Prompt struct {
	app *App

	lock        sync.Mutex
	out         io.Writer
	buffer      string // current target, "" for the server buffer.
	lastConfirm string
}

func NewPrompt(app *App, out io.Writer) *Prompt {
	return &Prompt{
		app: app,
		out: out,
	}
}

// Buffer returns the current target.
func (p *Prompt) Buffer() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.buffer
}

func (p *Prompt) setBuffer(buffer string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.buffer = buffer
}

func (p *Prompt) printf(buffer string, format string, a ...interface{}) {
	p.lock.Lock()
	defer p.lock.Unlock()
	head := time.Now().Format("15:04")
	if buffer != "" {
		head += " [" + buffer + "]"
	}
	fmt.Fprintf(p.out, head+" "+format+"\n", a...)
}

// PrintEvent writes a line describing ev, if it deserves one.
func (p *Prompt) PrintEvent(ev irc.Event) {
	buffer, line := formatEvent(ev)
	if line == "" {
		return
	}
	p.printf(buffer, "%s", line)
}

func formatEvent(ev irc.Event) (buffer, line string) {
	switch ev := ev.(type) {
	case ConnectingEvent:
		line = fmt.Sprintf("-- Connecting to %s...", ev.Addr)
	case ConnectedEvent:
		line = fmt.Sprintf("-- Connected to %s", ev.Addr)
	case DisconnectedEvent:
		if ev.Err != nil {
			line = fmt.Sprintf("-- Connection to %s failed: %v", ev.Addr, ev.Err)
		} else {
			line = fmt.Sprintf("-- Disconnected from %s", ev.Addr)
		}
	case irc.RegisteredEvent:
		line = "-- Connected to the server"
	case irc.SelfNickEvent:
		line = fmt.Sprintf("-- Your nickname changed from %s", ev.FormerNick)
	case irc.UserNickEvent:
		line = fmt.Sprintf("-- %s is now known as %s", ev.FormerNick, ev.User)
	case irc.SelfJoinEvent:
		buffer = ev.Channel
		line = "-- You joined the channel"
	case irc.UserJoinEvent:
		buffer = ev.Channel
		line = fmt.Sprintf("+ %s", ev.User)
	case irc.SelfPartEvent:
		buffer = ev.Channel
		if ev.Kicked {
			line = "-- You were kicked from the channel"
		} else {
			line = "-- You left the channel"
		}
	case irc.UserPartEvent:
		buffer = ev.Channel
		line = fmt.Sprintf("- %s", ev.User)
	case irc.UserQuitEvent:
		line = fmt.Sprintf("- %s quit (%s)", ev.User, strings.Join(ev.Channels, ", "))
	case irc.TopicChangeEvent:
		buffer = ev.Channel
		line = fmt.Sprintf("-- %s changed the topic to: %s", ev.Who, ev.Topic)
	case irc.MessageEvent:
		buffer = ev.Target
		line = formatMessage(ev.User, ev.Command, ev.Content)
	case irc.HistoryEvent:
		buffer = ev.Target
		line = fmt.Sprintf("-- Fetched %d older messages", len(ev.Messages))
	case irc.ErrorEvent:
		line = fmt.Sprintf("!! %s %s: %s", ev.Severity, ev.Code, ev.Message)
	case error:
		line = fmt.Sprintf("!! %v", ev)
	}
	return
}

func formatMessage(user, command, content string) string {
	if rest, ok := strings.CutPrefix(content, "\x01ACTION "); ok {
		return fmt.Sprintf("* %s %s", user, strings.TrimSuffix(rest, "\x01"))
	}
	if command == "NOTICE" {
		return fmt.Sprintf("-%s- %s", user, content)
	}
	return fmt.Sprintf("<%s> %s", user, content)
}

func noCommand(p *Prompt, content string) error {
	buffer := p.Buffer()
	if buffer == "" {
		return fmt.Errorf("can't send message to this buffer")
	}
	return commandSendMessage(p, buffer, content)
}

func commandSendMessage(p *Prompt, target string, content string) error {
	s := p.app.Session()
	if s == nil {
		return errOffline
	}
	s.PrivMsg(target, content)
	if !s.State().HasCapability("echo-message") {
		for _, line := range strings.Split(content, "\n") {
			if line == "" {
				continue
			}
			p.printf(target, "%s", formatMessage(s.State().Nick(), "PRIVMSG", line))
		}
	}
	return nil
}

func commandDoHelp(p *Prompt, args []string) (err error) {
	buffer := p.Buffer()

	printCommands := func(names []string) {
		sort.Strings(names)
		for _, name := range names {
			cmd := commands[name]
			p.printf(buffer, "%s %s", name, cmd.Usage)
			p.printf(buffer, "  %s", cmd.Desc)
		}
	}

	if len(args) == 0 {
		p.printf(buffer, "-- Available commands:")

		cmdNames := make([]string, 0, len(commands))
		for cmdName := range commands {
			cmdNames = append(cmdNames, cmdName)
		}
		printCommands(cmdNames)
	} else {
		search := strings.ToUpper(args[0])
		p.printf(buffer, "-- Commands that match \"%s\":", search)

		cmdNames := make([]string, 0, len(commands))
		for cmdName := range commands {
			if !strings.Contains(cmdName, search) {
				continue
			}
			cmdNames = append(cmdNames, cmdName)
		}
		if len(cmdNames) == 0 {
			p.printf(buffer, "  no command matches %q", args[0])
		} else {
			printCommands(cmdNames)
		}
	}
	return nil
}

func commandDoBuffer(p *Prompt, args []string) error {
	if len(args) == 0 {
		if buffer := p.Buffer(); buffer != "" {
			p.printf(buffer, "-- Current buffer")
		} else {
			p.printf("", "-- Server buffer")
		}
		return nil
	}
	p.setBuffer(args[0])
	return nil
}

func commandDoJoin(p *Prompt, args []string) (err error) {
	if err := p.app.Join(args[0]); err != nil {
		return err
	}
	p.setBuffer(args[0])
	return nil
}

func commandDoPart(p *Prompt, args []string) (err error) {
	s := p.app.Session()
	if s == nil {
		return errOffline
	}
	channel := p.Buffer()
	reason := ""
	if 0 < len(args) {
		if s.State().IsChannel(args[0]) {
			channel = args[0]
			if 1 < len(args) {
				reason = args[1]
			}
		} else {
			reason = strings.Join(args, " ")
		}
	}

	if channel == "" || !s.State().IsChannel(channel) {
		return fmt.Errorf("cannot part this buffer")
	}

	s.Part(channel, reason)
	if channel == p.Buffer() {
		p.setBuffer("")
	}
	return nil
}

func commandDoMsg(p *Prompt, args []string) (err error) {
	target := args[0]
	content := args[1]
	return commandSendMessage(p, target, content)
}

func commandDoMe(p *Prompt, args []string) (err error) {
	content := fmt.Sprintf("\x01ACTION %s\x01", args[0])
	return commandSendMessage(p, p.Buffer(), content)
}

func commandDoTopic(p *Prompt, args []string) (err error) {
	buffer := p.Buffer()
	s := p.app.Session()
	if s == nil {
		return errOffline
	}
	if len(args) != 0 {
		s.ChangeTopic(buffer, args[0])
		return nil
	}
	c, ok := s.State().Channel(buffer)
	if !ok {
		return fmt.Errorf("this is not a joined channel")
	}
	if c.Topic == "" {
		p.printf(buffer, "-- No topic set")
	} else if c.TopicWho != "" {
		p.printf(buffer, "-- Topic (set by %s on %s): %s", c.TopicWho, c.TopicTime.Local().Format("January 2 2006 at 15:04"), c.Topic)
	} else {
		p.printf(buffer, "-- Topic: %s", c.Topic)
	}
	return nil
}

func commandDoNames(p *Prompt, args []string) (err error) {
	buffer := p.Buffer()
	s := p.app.Session()
	if s == nil {
		return errOffline
	}
	c, ok := s.State().Channel(buffer)
	if !ok {
		return fmt.Errorf("this is not a joined channel")
	}
	names := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		names = append(names, m.PowerLevel+m.Name)
	}
	p.printf(buffer, "-- Names: %s", strings.Join(names, " "))
	return nil
}

func commandDoNick(p *Prompt, args []string) (err error) {
	nick := args[0]
	if i := strings.IndexAny(nick, " :"); i >= 0 {
		return fmt.Errorf("illegal char %q in nickname", nick[i])
	}
	s := p.app.Session()
	if s == nil {
		return errOffline
	}
	s.ChangeNick(nick)
	return
}

func commandDoHistory(p *Prompt, args []string) (err error) {
	buffer := p.Buffer()
	s := p.app.Session()
	if s == nil {
		return errOffline
	}
	if !s.State().HasCapability("draft/chathistory") {
		return fmt.Errorf("the server does not support fetching history")
	}
	before := time.Now()
	if c, ok := s.State().Channel(buffer); ok && len(c.Log) != 0 {
		before = c.Log[0].Time
	}
	s.RequestHistoryBefore(buffer, before)
	return nil
}

func commandDoQuote(p *Prompt, args []string) (err error) {
	s := p.app.Session()
	if s == nil {
		return errOffline
	}
	s.SendRaw(args[0])
	return nil
}

func commandDoReconnect(p *Prompt, args []string) (err error) {
	p.app.Resume()
	return nil
}

func commandDoQuit(p *Prompt, args []string) (err error) {
	reason := ""
	if 0 < len(args) {
		reason = args[0]
	}
	if s := p.app.Session(); s != nil {
		s.Quit(reason)
	}
	return ErrQuit
}

func fieldsN(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" || n == 0 {
		return nil
	}
	if n == 1 {
		return []string{s}
	}
	var a []string
	na := 0
	fieldStart := 0
	i := 0
	// Skip spaces in front of the input.
	for i < len(s) && s[i] == ' ' {
		i++
	}
	fieldStart = i
	for i < len(s) {
		if s[i] != ' ' {
			i++
			continue
		}
		a = append(a, s[fieldStart:i])
		na++
		i++
		// Skip spaces in between fields.
		for i < len(s) && s[i] == ' ' {
			i++
		}
		fieldStart = i
		if n != maxArgsInfinite && na+1 >= n {
			a = append(a, s[fieldStart:])
			return a
		}
	}
	if fieldStart < len(s) {
		// Last field ends at EOF.
		a = append(a, s[fieldStart:])
	}
	return a
}

func parseCommand(s string) (command, args string, isCommand bool) {
	if len(s) == 0 || s[0] != '/' {
		return "", s, false
	}
	if len(s) > 1 && s[1] == '/' {
		// Input starts with two slashes.
		return "", s[1:], false
	}

	i := strings.IndexByte(s, ' ')
	if i < 0 {
		i = len(s)
	}

	return strings.ToUpper(s[1:i]), strings.TrimLeft(s[i:], " "), true
}

func sendCommand(p *Prompt, name string, args ...string) error {
	s := p.app.Session()
	if s == nil {
		return errOffline
	}
	s.SendRaw(irc.NewMessage(name, args...).String())
	return nil
}

// HandleInput runs a command line, or sends content to the current buffer.
// Commands may be abbreviated to any unambiguous prefix.
func (p *Prompt) HandleInput(content string) error {
	p.lock.Lock()
	confirmed := content == p.lastConfirm
	p.lastConfirm = content
	p.lock.Unlock()

	if content == "" {
		return nil
	}

	cmdName, rawArgs, isCommand := parseCommand(content)
	if !isCommand {
		if _, _, command := parseCommand(strings.TrimSpace(content)); !confirmed && command {
			// " /FOO BAR"
			return fmt.Errorf("this message looks like a command; remove the spaces at the start, or enter it again to send the message as is")
		}
		return noCommand(p, rawArgs)
	}
	if cmdName == "" {
		return fmt.Errorf("lone slash at the beginning")
	}
	if strings.HasPrefix("BUFFER", cmdName) {
		cmdName = "BUFFER"
	}

	chosenCMDName := cmdName
	_, exact := commands[cmdName]
	found := exact
	for key := range commands {
		if exact {
			break
		}
		if !strings.HasPrefix(key, cmdName) {
			continue
		}
		if found {
			return fmt.Errorf("ambiguous command %q (could mean %v or %v)", cmdName, chosenCMDName, key)
		}
		chosenCMDName = key
		found = true
	}
	if !found {
		if confirmed {
			if rawArgs != "" {
				return sendCommand(p, cmdName, fieldsN(rawArgs, maxArgsInfinite)...)
			}
			return sendCommand(p, cmdName)
		}
		return fmt.Errorf("the command %q does not exist; enter it again to pass the command as is to the server", cmdName)
	}

	cmd := commands[chosenCMDName]

	var args []string
	if rawArgs != "" && cmd.MaxArgs != 0 {
		args = fieldsN(rawArgs, cmd.MaxArgs)
	}

	if len(args) < cmd.MinArgs {
		return fmt.Errorf("usage: %s %s", chosenCMDName, cmd.Usage)
	}
	if p.Buffer() == "" && !cmd.AllowHome {
		return fmt.Errorf("command %s cannot be executed from a server buffer", chosenCMDName)
	}

	if cmd.Handle != nil {
		return cmd.Handle(p, args)
	}
	return sendCommand(p, chosenCMDName, args...)
}
