package irc

import (
	"fmt"
	"strconv"
	"time"
)

// historyLimit is the number of messages asked for in CHATHISTORY requests.
const historyLimit = 100

// historyBatch accumulates the messages of a chathistory batch until it is
// closed.
type historyBatch struct {
	Target   string
	Messages []LogMessage
}

func formatTimestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("timestamp=%04d-%02d-%02dT%02d:%02d:%02d.%03dZ",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e6)
}

func (s *Session) requestHistoryBefore(target string, before time.Time) {
	if !s.state.hasCapability("draft/chathistory") {
		return
	}
	s.out <- NewMessage("CHATHISTORY", "BEFORE", target, formatTimestamp(before), strconv.Itoa(historyLimit))
}

// openBatch starts accumulating messages for the batch id.
func (s *Session) openBatch(id, target string) {
	s.chBatches[id] = &historyBatch{Target: target}
}

// recordBatch adds a message to the batch it is tagged with. It reports
// whether the message belonged to an open batch.
func (s *Session) recordBatch(msg Message) bool {
	id, ok := msg.Tags["batch"]
	if !ok {
		return false
	}
	b, ok := s.chBatches[id]
	if !ok {
		return false
	}
	switch msg.Command {
	case "PRIVMSG", "NOTICE":
		b.Messages = append(b.Messages, newLogMessage(msg))
	}
	return true
}

// closeBatch commits the messages of the batch in front of the target
// channel log.
func (s *Session) closeBatch(id string) (Event, bool) {
	b, ok := s.chBatches[id]
	if !ok {
		return nil, false
	}
	delete(s.chBatches, id)

	if c, ok := s.state.channels[s.state.casemap(b.Target)]; ok {
		log := make([]LogMessage, 0, len(b.Messages)+len(c.Log))
		log = append(log, b.Messages...)
		log = append(log, c.Log...)
		c.Log = log
	}
	return HistoryEvent{
		Target:   b.Target,
		Messages: b.Messages,
	}, true
}
