package irc

import "time"

// Event is anything the session reports to its observer. Handler errors are
// reported as plain error values.
type Event interface{}

type RegisteredEvent struct{}

type SelfNickEvent struct {
	FormerNick string
	Time       time.Time
}

type UserNickEvent struct {
	User       string
	FormerNick string
	Time       time.Time
}

type SelfJoinEvent struct {
	Channel string
}

type UserJoinEvent struct {
	User    string
	Channel string
	Time    time.Time
}

type SelfPartEvent struct {
	Channel string
	Kicked  bool
}

type UserPartEvent struct {
	User    string
	Channel string
	Kicked  bool
	Time    time.Time
}

type UserQuitEvent struct {
	User     string
	Channels []string
	Time     time.Time
}

type TopicChangeEvent struct {
	Channel string
	Topic   string
	Who     string
	Time    time.Time
}

type MessageEvent struct {
	User            string
	Target          string
	TargetIsChannel bool
	Command         string
	Content         string
	Time            time.Time
}

// TypingEvent reports a change of the typing indicator of User in Target.
// Typing is one of TypingActive, TypingPaused or TypingDone.
type TypingEvent struct {
	User   string
	Target string
	Typing int
	Time   time.Time
}

// HistoryEvent is emitted once a chathistory batch is closed, after its
// messages were committed to the channel log.
type HistoryEvent struct {
	Target   string
	Messages []LogMessage
}

type Severity int

const (
	SeverityNote Severity = iota
	SeverityWarn
	SeverityFail
)

func (s Severity) String() string {
	switch s {
	case SeverityNote:
		return "note"
	case SeverityWarn:
		return "warn"
	default:
		return "fail"
	}
}

// ErrorEvent carries standard replies (FAIL, WARN, NOTE) and negotiation
// failures. It is informational and never ends the session.
type ErrorEvent struct {
	Severity Severity
	Code     string
	Message  string
}
