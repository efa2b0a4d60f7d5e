package irc

import (
	"sort"
	"sync"
	"time"

	"mvdan.cc/xurls/v2"
)

// User is a known IRC user.
type User struct {
	Name *Prefix // the nick, user and hostname of the user if known.
	Away bool    // whether the user is away or not

	refs int // number of channels listing the user.
}

// Channel is a joined channel.
type Channel struct {
	Name      string           // the name of the channel.
	Members   map[*User]string // the set of members associated with their power level.
	Topic     string           // the topic of the channel, or "" if absent.
	TopicWho  *Prefix          // the name of the last user who set the topic.
	TopicTime time.Time        // the last time the topic has been changed.
	Log       []LogMessage     // messages, oldest first.

	complete bool // whether RPL_ENDOFNAMES has been received.
}

// LogMessage is a PRIVMSG or NOTICE recorded in a channel log.
type LogMessage struct {
	User    string
	Command string
	Content string
	Time    time.Time
	Links   []string // URLs found in Content.
}

var urlRegexp = xurls.Strict()

func newLogMessage(msg Message) LogMessage {
	content := msg.Params[1]
	return LogMessage{
		User:    msg.Prefix.Name,
		Command: msg.Command,
		Content: content,
		Time:    msg.TimeOrNow(),
		Links:   urlRegexp.FindAllString(content, -1),
	}
}

// State is the model of one connected identity. It is written by the
// session goroutine only; every write bumps the generation. Exported methods
// are safe to call from any goroutine.
type State struct {
	mu  sync.RWMutex
	gen uint64

	registered bool
	nick       string
	nickCf     string // casemapped nickname.
	user       string
	real       string
	acct       string
	host       string

	casemapName   string
	casemap       func(string) string
	chantypes     string
	prefixSymbols string
	prefixModes   string

	availableCaps map[string]string
	enabledCaps   map[string]struct{}

	users    map[string]*User    // known users, by casemapped nick.
	channels map[string]*Channel // joined channels, by casemapped name.
	typings  *Typings            // incoming typing notifications.
}

func newState(params SessionParams) *State {
	st := &State{
		nick:          params.Nickname,
		user:          params.Username,
		real:          params.RealName,
		casemapName:   "rfc1459",
		casemap:       CasemapRFC1459,
		chantypes:     "#&+!",
		prefixSymbols: "@+",
		prefixModes:   "ov",
		availableCaps: map[string]string{},
		enabledCaps:   map[string]struct{}{},
		users:         map[string]*User{},
		channels:      map[string]*Channel{},
		typings:       NewTypings(),
	}
	st.nickCf = st.casemap(st.nick)
	return st
}

// Generation is incremented on every mutation. Observers compare it to
// detect changes.
func (st *State) Generation() uint64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.gen
}

func (st *State) Registered() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.registered
}

func (st *State) Nick() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.nick
}

func (st *State) Casemap(name string) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.casemap(name)
}

// HasCapability reports whether the given capability has been negotiated
// successfully.
func (st *State) HasCapability(capability string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.hasCapability(capability)
}

func (st *State) hasCapability(capability string) bool {
	_, ok := st.enabledCaps[capability]
	return ok
}

func (st *State) IsChannel(name string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.isChannel(name)
}

func (st *State) isChannel(name string) bool {
	return name != "" && indexByteIn(st.chantypes, name[0])
}

func indexByteIn(set string, c byte) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == c {
			return true
		}
	}
	return false
}

func (st *State) isMe(nick string) bool {
	return st.casemap(nick) == st.nickCf
}

// Users returns the display names of all known users, sorted.
func (st *State) Users() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	users := make([]string, 0, len(st.users))
	for _, u := range st.users {
		users = append(users, u.Name.Name)
	}
	sort.Strings(users)
	return users
}

// Channels returns the display names of joined channels, sorted.
func (st *State) Channels() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	channels := make([]string, 0, len(st.channels))
	for _, c := range st.channels {
		channels = append(channels, c.Name)
	}
	sort.Strings(channels)
	return channels
}

// Channel returns a copy of the given joined channel.
func (st *State) Channel(name string) (ChannelSnapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	c, ok := st.channels[st.casemap(name)]
	if !ok {
		return ChannelSnapshot{}, false
	}
	return st.snapshotChannel(c), true
}

// Typings returns the users currently typing in target.
func (st *State) Typings(target string) []string {
	return st.typings.List(st.Casemap(target))
}

// Snapshot is a copy of the session state at a given generation.
type Snapshot struct {
	Generation    uint64
	Registered    bool
	Nick          string
	Username      string
	RealName      string
	Hostname      string
	Account       string
	Casemapping   string
	ChanTypes     string
	PrefixModes   string
	PrefixSymbols string
	AvailableCaps map[string]string
	EnabledCaps   []string
	Users         []string
	Channels      []ChannelSnapshot
}

type ChannelSnapshot struct {
	Name          string
	Topic         string
	TopicWho      string
	TopicTime     time.Time
	NamesComplete bool
	Members       []MemberSnapshot
	Log           []LogMessage
	Typing        []string
}

type MemberSnapshot struct {
	Name       string
	PowerLevel string
	Away       bool
}

// Snapshot returns a deep copy of the state.
func (st *State) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()

	snap := Snapshot{
		Generation:    st.gen,
		Registered:    st.registered,
		Nick:          st.nick,
		Username:      st.user,
		RealName:      st.real,
		Hostname:      st.host,
		Account:       st.acct,
		Casemapping:   st.casemapName,
		ChanTypes:     st.chantypes,
		PrefixModes:   st.prefixModes,
		PrefixSymbols: st.prefixSymbols,
		AvailableCaps: make(map[string]string, len(st.availableCaps)),
	}
	for k, v := range st.availableCaps {
		snap.AvailableCaps[k] = v
	}
	for k := range st.enabledCaps {
		snap.EnabledCaps = append(snap.EnabledCaps, k)
	}
	sort.Strings(snap.EnabledCaps)
	for _, u := range st.users {
		snap.Users = append(snap.Users, u.Name.Name)
	}
	sort.Strings(snap.Users)
	for _, c := range st.channels {
		snap.Channels = append(snap.Channels, st.snapshotChannel(c))
	}
	sort.Slice(snap.Channels, func(i, j int) bool {
		return snap.Channels[i].Name < snap.Channels[j].Name
	})
	return snap
}

func (st *State) snapshotChannel(c *Channel) ChannelSnapshot {
	cs := ChannelSnapshot{
		Name:          c.Name,
		Topic:         c.Topic,
		TopicWho:      c.TopicWho.String(),
		TopicTime:     c.TopicTime,
		NamesComplete: c.complete,
		Members:       make([]MemberSnapshot, 0, len(c.Members)),
		Log:           make([]LogMessage, len(c.Log)),
		Typing:        st.typings.List(st.casemap(c.Name)),
	}
	copy(cs.Log, c.Log)
	for u, power := range c.Members {
		cs.Members = append(cs.Members, MemberSnapshot{
			Name:       u.Name.Name,
			PowerLevel: power,
			Away:       u.Away,
		})
	}
	sort.Slice(cs.Members, func(i, j int) bool {
		return cs.Members[i].Name < cs.Members[j].Name
	})
	return cs
}

// The methods below must be called with mu held for writing.

// getUser returns the user with the given prefix, creating it if needed.
func (st *State) getUser(prefix *Prefix) *User {
	nameCf := st.casemap(prefix.Name)
	u, ok := st.users[nameCf]
	if !ok {
		u = &User{Name: prefix.Copy()}
		st.users[nameCf] = u
	} else if u.Name.User == "" && prefix.User != "" {
		u.Name = prefix.Copy()
	}
	return u
}

func (st *State) addMember(c *Channel, u *User, powerLevel string) {
	if _, ok := c.Members[u]; !ok {
		u.refs++
	}
	c.Members[u] = powerLevel
}

func (st *State) removeMember(c *Channel, u *User) {
	if _, ok := c.Members[u]; !ok {
		return
	}
	delete(c.Members, u)
	st.release(u)
}

// release drops one channel reference of u and forgets it once no channel
// lists it. The local user is kept for the whole session.
func (st *State) release(u *User) {
	u.refs--
	if u.refs > 0 {
		return
	}
	u.refs = 0
	nameCf := st.casemap(u.Name.Name)
	if nameCf == st.nickCf {
		return
	}
	if st.users[nameCf] == u {
		delete(st.users, nameCf)
	}
}

// dropChannel forgets the channel and releases all its members.
func (st *State) dropChannel(channelCf string) (c *Channel, ok bool) {
	c, ok = st.channels[channelCf]
	if !ok {
		return nil, false
	}
	delete(st.channels, channelCf)
	for u := range c.Members {
		st.release(u)
	}
	return c, true
}

// setCasemap changes the casemapping and re-keys every casemapped table.
func (st *State) setCasemap(name string) {
	st.casemapName, st.casemap = casemapFunc(name)
	st.nickCf = st.casemap(st.nick)
	st.typings.rekey(st.casemap)

	users := make(map[string]*User, len(st.users))
	for _, u := range st.users {
		users[st.casemap(u.Name.Name)] = u
	}
	st.users = users

	channels := make(map[string]*Channel, len(st.channels))
	for _, c := range st.channels {
		channels[st.casemap(c.Name)] = c
	}
	st.channels = channels
}
