package irc

import (
	"strings"
	"time"
)

// Event is a semantic event produced by the session in response to a server
// message. Consumers switch on the concrete type.
type Event interface{}

type Severity int

const (
	SeverityNote Severity = iota
	SeverityWarn
	SeverityFail
)

// RegisteredEvent is emitted once registration and capability negotiation
// are over and the session is ready for user commands.
type RegisteredEvent struct{}

type SelfNickEvent struct {
	FormerNick string
}

type UserNickEvent struct {
	User       string
	FormerNick string
	Time       time.Time
}

type SelfJoinEvent struct {
	Channel   string
	Topic     string
	Requested bool // whether the join was initiated by the local user.
}

type UserJoinEvent struct {
	User    string
	Channel string
	Time    time.Time
}

type SelfPartEvent struct {
	Channel string
}

type UserPartEvent struct {
	User    string
	Channel string
	Time    time.Time
}

type UserKickEvent struct {
	User    string
	Kicker  string
	Channel string
	Reason  string
	Time    time.Time
}

type UserQuitEvent struct {
	User     string
	Channels []string
	Reason   string
	Time     time.Time
}

type TopicChangeEvent struct {
	Channel string
	Topic   string
	Who     string
	Time    time.Time
}

type ModeChangeEvent struct {
	Channel string
	Mode    string
	Time    time.Time
}

type InviteEvent struct {
	Inviter string
	Invitee string
	Channel string
}

type NamesEvent struct {
	Channel string
	Names   []Member
}

// MessageEvent is a PRIVMSG or NOTICE. TargetIsChannel discriminates
// channel messages from direct messages.
type MessageEvent struct {
	ID              string // server msgid tag, if any.
	User            string
	Target          string
	TargetIsChannel bool
	Command         string
	Content         string
	Action          bool // CTCP ACTION payload.
	ReplyTo         string
	Tags            map[string]string
	Time            time.Time
}

// ReactionEvent is a +draft/react or +draft/unreact TAGMSG against a
// message id.
type ReactionEvent struct {
	User      string
	Target    string
	MessageID string
	Emoji     string
	Removed   bool
	Time      time.Time
}

// RedactEvent asks consumers to soft-delete the message with the given id.
type RedactEvent struct {
	User      string
	Target    string
	MessageID string
	Reason    string
	Time      time.Time
}

// Typing is an incoming typing notification.
type Typing struct {
	Target string
	Name   string
}

type CapEvent struct {
	Name   string
	Enable bool
}

type ISupportEvent struct {
	Key   string
	Value string
}

// NetworkNameEvent is emitted when the server advertises its network name
// through the NETWORK ISUPPORT token.
type NetworkNameEvent struct {
	Name string
}

// MetadataEvent is a metadata key update for a nick or channel, from a
// METADATA line or a RPL_KEYVALUE reply.
type MetadataEvent struct {
	Target string
	Key    string
	Value  string // empty when the key is unset.
}

// MetadataSubsEvent lists keys the client is subscribed to.
type MetadataSubsEvent struct {
	Keys []string
}

// MetadataFailEvent is a FAIL METADATA reply. RetryAfter is non-zero for
// RATE_LIMITED. The session does not retry; that decision is the caller's.
type MetadataFailEvent struct {
	Code       string
	Message    string
	RetryAfter time.Duration
}

// JWTTokenEvent carries the token of an EXTJWT reply, used to authenticate
// against services external to the IRC server such as a file host.
type JWTTokenEvent struct {
	Target string
	Token  string
}

type BatchStartEvent struct {
	ID     string
	Type   string
	Params []string
}

type BatchEndEvent struct {
	ID string
}

// HistoryEvent carries the messages of a closed chathistory batch.
type HistoryEvent struct {
	Target   string
	Messages []Event
}

type ErrorEvent struct {
	Severity Severity
	Code     string
	Message  string
}

type InfoEvent struct {
	Prefix  string
	Message string
}

// Member is a channel member along with its channel-scoped membership
// prefixes.
type Member struct {
	PowerLevel string
	Name       *Prefix
	Away       bool
	Self       bool
}

type members struct {
	m        []Member
	prefixes string
}

func (m members) Len() int      { return len(m.m) }
func (m members) Swap(i, j int) { m.m[i], m.m[j] = m.m[j], m.m[i] }

func (m members) Less(i, j int) bool {
	pi := m.powerLevel(i)
	pj := m.powerLevel(j)
	if pi != pj {
		return pi < pj
	}
	return CasemapASCII(m.m[i].Name.Name) < CasemapASCII(m.m[j].Name.Name)
}

func (m members) powerLevel(i int) int {
	if m.m[i].PowerLevel == "" {
		return len(m.prefixes)
	}
	p := strings.IndexByte(m.prefixes, m.m[i].PowerLevel[0])
	if p < 0 {
		return len(m.prefixes)
	}
	return p
}
