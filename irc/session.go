package irc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type SASLClient interface {
	Handshake() (mech string)
	Respond(challenge string) (res string, err error)
}

type SASLPlain struct {
	Username string
	Password string
}

func (auth *SASLPlain) Handshake() (mech string) {
	return "PLAIN"
}

func (auth *SASLPlain) Respond(challenge string) (res string, err error) {
	if challenge != "+" {
		return "", errors.New("unexpected challenge")
	}

	user := []byte(auth.Username)
	pass := []byte(auth.Password)
	payload := bytes.Join([][]byte{user, user, pass}, []byte{0})

	return base64.StdEncoding.EncodeToString(payload), nil
}

// SupportedCapabilities is the set of capabilities this client understands.
// Anything the server offers outside this set is never requested.
var SupportedCapabilities = map[string]struct{}{
	"batch":             {},
	"cap-notify":        {},
	"echo-message":      {},
	"message-tags":      {},
	"multi-prefix":      {},
	"sasl":              {},
	"server-time":       {},
	"userhost-in-names": {},

	"draft/chathistory":       {},
	"draft/extended-isupport": {},
	"draft/message-redaction": {},
	"draft/multiline":         {},
	"draft/metadata-2":        {},
}

func capSupported(name string) bool {
	if _, ok := SupportedCapabilities[name]; ok {
		return true
	}
	// accept any metadata draft revision the server offers
	return strings.HasPrefix(name, "draft/metadata")
}

// capReqBudget caps the length of a single CAP REQ line, comfortably under
// the 512-byte line limit.
const capReqBudget = 400

// metadataKeys are the metadata keys the client subscribes to for user
// profile data.
var metadataKeys = []string{"avatar", "display-name", "color", "status"}

// MultilineFallback selects how a multi-line message is sent when the
// draft/multiline capability was not negotiated.
type MultilineFallback int

const (
	// MultilineFallbackJoin collapses all lines into one space-joined
	// message.
	MultilineFallbackJoin MultilineFallback = iota
	// MultilineFallbackSplit sends each line as its own message.
	MultilineFallbackSplit
)

// User is a known IRC user.
type User struct {
	Name     *Prefix           // the nick, user and hostname of the user if known.
	Away     bool              // whether the user is away or not.
	Online   bool              // false once the user has quit.
	Metadata map[string]string // metadata keys attached to the user.
}

type ChannelMember struct {
	Membership string
}

// Channel is a joined channel.
type Channel struct {
	Name      string                  // the name of the channel, with its sigil.
	Members   map[*User]ChannelMember // the set of members associated with their membership.
	Topic     string                  // the topic of the channel, or "" if absent.
	TopicWho  *Prefix                 // the name of the last user who set the topic.
	TopicTime time.Time               // the last time the topic has been changed.

	complete bool // whether the first NAMES burst has been received in full.
}

// batch accumulates the lines of an open BATCH until its closing line.
type batch struct {
	typ    string
	target string
	params []string
	events []Event
	concat []bool // whether events[i] continues the previous line without a break.
}

// SessionParams defines how to register against an IRC server.
type SessionParams struct {
	Nickname string
	Username string
	RealName string

	// ServerPassword is sent as PASS before registration, if set.
	ServerPassword string
	// Auth authenticates over SASL after the sasl capability is acked.
	Auth SASLClient

	// Fallback is used to send multi-line messages when draft/multiline
	// was not negotiated.
	Fallback MultilineFallback
}

// Session is the state of one connection to one IRC server: negotiated
// capabilities, known users and channels, open batches, metadata. It
// consumes parsed messages through HandleMessage and produces typed events;
// outbound commands are framed onto the out channel. All methods must be
// called from a single goroutine; one connection is one ordered stream.
type Session struct {
	out        chan<- Message
	outMu      sync.Mutex
	closed     bool
	registered bool

	typings      *Typings
	typingStamps map[string]typingStamp

	nick     string
	nickCf   string
	user     string
	real     string
	acct     string
	host     string
	auth     SASLClient
	fallback MultilineFallback

	availableCaps  map[string]string
	enabledCaps    map[string]struct{}
	capsPending    map[string]struct{}
	capsRequested  bool
	authenticating bool

	metadataSubs map[string]struct{}
	metadata     map[string]map[string]string // target -> key -> value.

	defaultPrefix *Prefix
	networkName   string
	serverName    string

	// ISUPPORT features
	casemap       func(string) string
	chanmodes     [4]string
	chantypes     string
	linelen       int
	historyLimit  int
	prefixSymbols string
	prefixModes   string
	upload        string

	users    map[string]*User
	channels map[string]Channel
	batches  map[string]*batch
	chReqs   map[string]struct{}

	pendingChannels map[string]time.Time

	emittedReady bool
}

func NewSession(out chan<- Message, params SessionParams) *Session {
	s := &Session{
		out:             out,
		typings:         NewTypings(),
		typingStamps:    map[string]typingStamp{},
		nick:            params.Nickname,
		nickCf:          CasemapASCII(params.Nickname),
		user:            params.Username,
		real:            params.RealName,
		auth:            params.Auth,
		fallback:        params.Fallback,
		availableCaps:   map[string]string{},
		enabledCaps:     map[string]struct{}{},
		capsPending:     map[string]struct{}{},
		metadataSubs:    map[string]struct{}{},
		metadata:        map[string]map[string]string{},
		casemap:         CasemapRFC1459,
		chantypes:       "#&",
		linelen:         512,
		historyLimit:    100,
		prefixSymbols:   "@+",
		prefixModes:     "ov",
		users:           map[string]*User{},
		channels:        map[string]Channel{},
		batches:         map[string]*batch{},
		chReqs:          map[string]struct{}{},
		pendingChannels: map[string]time.Time{},
	}

	s.send(NewMessage("CAP", "LS", "302"))
	if params.ServerPassword != "" {
		s.send(NewMessage("PASS", params.ServerPassword))
	}
	s.send(NewMessage("NICK", s.nick))
	s.send(NewMessage("USER", s.user, "0", "*", s.real))

	return s
}

// Close shuts the session down and closes the out channel. It is
// idempotent; outbound operations after Close are dropped.
func (s *Session) Close() {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.typings.Close()
	close(s.out)
}

// send queues an outbound message, dropping it once the session is closed,
// so that a QUIT racing the server's ERROR teardown is a no-op rather than
// a send on a closed channel.
func (s *Session) send(msg Message) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.closed {
		return
	}
	s.out <- msg
}

// HasCapability reports whether the given capability has been negotiated
// successfully.
func (s *Session) HasCapability(capability string) bool {
	_, ok := s.enabledCaps[capability]
	return ok
}

// Registered reports whether initial registration and capability
// negotiation are over.
func (s *Session) Registered() bool {
	return s.registered
}

// NetworkName returns the name the server advertises for its network, or
// the server prefix seen at registration when no NETWORK token was sent.
func (s *Session) NetworkName() string {
	if s.networkName != "" {
		return s.networkName
	}
	if s.defaultPrefix != nil {
		return s.defaultPrefix.Name
	}
	return ""
}

// UploadURL returns the URL to which files can be uploaded according to the
// FILEHOST advertisement, or "" if the server has none.
func (s *Session) UploadURL() string {
	return s.upload
}

func (s *Session) Nick() string {
	return s.nick
}

// NickCf is our casemapped nickname.
func (s *Session) NickCf() string {
	return s.nickCf
}

func (s *Session) IsMe(nick string) bool {
	return s.nickCf == s.casemap(nick)
}

func (s *Session) IsChannel(name string) bool {
	return strings.IndexAny(name, s.chantypes) == 0
}

func (s *Session) Casemap(name string) string {
	return s.casemap(name)
}

// Users returns the list of all known nicknames.
func (s *Session) Users() []string {
	users := make([]string, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.Name.Name)
	}
	return users
}

// UserMetadata returns the metadata value attached to the given target, or
// "" if unset.
func (s *Session) UserMetadata(target, key string) string {
	return s.metadata[s.Casemap(target)][key]
}

// Names returns the list of members in the given channel, sorted by
// membership then name. It returns nil if the channel is not known.
func (s *Session) Names(channel string) []Member {
	var names []Member
	if c, ok := s.channels[s.Casemap(channel)]; ok {
		names = make([]Member, 0, len(c.Members))
		for u, m := range c.Members {
			names = append(names, Member{
				PowerLevel: m.Membership,
				Name:       u.Name.Copy(),
				Away:       u.Away,
				Self:       s.nickCf == s.casemap(u.Name.Name),
			})
		}
	}
	sort.Sort(members{m: names, prefixes: s.prefixSymbols})
	return names
}

// Typings returns the list of nicknames currently typing in target.
func (s *Session) Typings(target string) []string {
	targetCf := s.casemap(target)
	res := s.typings.List(targetCf)
	for i := 0; i < len(res); i++ {
		if s.IsMe(res[i]) {
			res = append(res[:i], res[i+1:]...)
			i--
		} else if u, ok := s.users[res[i]]; ok {
			res[i] = u.Name.Name
		}
	}
	sort.Strings(res)
	return res
}

func (s *Session) TypingStops() <-chan Typing {
	return s.typings.Stops()
}

func (s *Session) Topic(channel string) (topic string, who *Prefix, at time.Time) {
	if c, ok := s.channels[s.Casemap(channel)]; ok {
		topic = c.Topic
		who = c.TopicWho
		at = c.TopicTime
	}
	return
}

func (s *Session) Send(command string, params ...string) {
	s.send(NewMessage(command, params...))
}

func (s *Session) SendRaw(raw string) {
	msg, err := ParseMessage(raw)
	if err != nil {
		return
	}
	s.send(msg)
}

func (s *Session) Join(channel, key string) {
	channelCf := s.Casemap(channel)
	s.pendingChannels[channelCf] = time.Now()
	if key == "" {
		s.send(NewMessage("JOIN", channel))
	} else {
		s.send(NewMessage("JOIN", channel, key))
	}
}

func (s *Session) Part(channel, reason string) {
	s.send(NewMessage("PART", channel, reason))
}

func (s *Session) ChangeTopic(channel, topic string) {
	s.send(NewMessage("TOPIC", channel, topic))
}

func (s *Session) Quit(reason string) {
	s.send(NewMessage("QUIT", reason))
}

func (s *Session) ChangeNick(nick string) {
	s.send(NewMessage("NICK", nick))
}

func (s *Session) ChangeMode(channel, flags string, args []string) {
	if flags != "" {
		args = append([]string{channel, flags}, args...)
	} else {
		args = append([]string{channel}, args...)
	}
	s.send(NewMessage("MODE", args...))
}

// Ban sets a +b mode against the given hostmask.
func (s *Session) Ban(channel, mask string) {
	s.send(NewMessage("MODE", channel, "+b", mask))
}

func (s *Session) Unban(channel, mask string) {
	s.send(NewMessage("MODE", channel, "-b", mask))
}

func (s *Session) Invite(nick, channel string) {
	s.send(NewMessage("INVITE", nick, channel))
}

func (s *Session) Kick(nick, channel, comment string) {
	if comment == "" {
		s.send(NewMessage("KICK", channel, nick))
	} else {
		s.send(NewMessage("KICK", channel, nick, comment))
	}
}

// maxMessageLen is the per-target content budget for one line, recomputed
// per target since target length varies.
func (s *Session) maxMessageLen(target string) int {
	return maxMessageLength(target, s.linelen)
}

// PrivMsg sends content to target, splitting it into as many protocol-legal
// lines as needed. Content may contain newlines; when the peer supports
// draft/multiline the lines are wrapped in a multiline batch, otherwise the
// session's fallback preference applies. replyTo, if not empty, is attached
// as a reply reference on the first framed line only.
func (s *Session) PrivMsg(target, content, replyTo string) {
	maxLen := s.maxMessageLen(target)
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	defer delete(s.typingStamps, s.casemap(target))

	if len(lines) == 1 && len(content) <= maxLen {
		msg := NewMessage("PRIVMSG", target, content)
		if replyTo != "" {
			msg = msg.WithTag("+draft/reply", replyTo)
		}
		s.send(msg)
		return
	}

	if s.HasCapability("draft/multiline") && s.HasCapability("batch") {
		s.privMsgBatched(target, lines, replyTo)
		return
	}

	if s.fallback == MultilineFallbackJoin {
		lines = []string{strings.Join(lines, " ")}
	}
	first := true
	for _, line := range lines {
		for _, chunk := range splitChunks(line, maxLen) {
			msg := NewMessage("PRIVMSG", target, chunk)
			if first && replyTo != "" {
				msg = msg.WithTag("+draft/reply", replyTo)
			}
			first = false
			s.send(msg)
		}
	}
}

// privMsgBatched wraps the lines into a draft/multiline batch. Each literal
// newline becomes its own batched line; over-long lines are further split,
// their continuations tagged draft/multiline-concat so the receiving client
// rejoins them without a line break.
func (s *Session) privMsgBatched(target string, lines []string, replyTo string) {
	id := uuid.NewString()
	maxLen := s.maxMessageLen(target)

	open := NewMessage("BATCH", "+"+id, "draft/multiline", target)
	if replyTo != "" {
		open = open.WithTag("+draft/reply", replyTo)
	}
	s.send(open)
	for _, line := range lines {
		for i, chunk := range splitChunks(line, maxLen) {
			msg := NewMessage("PRIVMSG", target, chunk).WithTag("batch", id)
			if i > 0 {
				msg = msg.WithTag("draft/multiline-concat", "")
			}
			s.send(msg)
		}
	}
	s.send(NewMessage("BATCH", "-"+id))
}

func (s *Session) Notice(target, content string) {
	for _, chunk := range splitChunks(content, s.maxMessageLen(target)) {
		s.send(NewMessage("NOTICE", target, chunk))
	}
}

// Action sends a CTCP ACTION ("/me") message.
func (s *Session) Action(target, content string) {
	s.send(NewMessage("PRIVMSG", target, "\x01ACTION "+content+"\x01"))
}

// React attaches an emoji reaction to the message with the given id.
func (s *Session) React(target, msgID, emoji string) {
	if !s.HasCapability("message-tags") {
		return
	}
	s.send(NewMessage("TAGMSG", target).
		WithTag("+draft/react", emoji).
		WithTag("+draft/reply", msgID))
}

// Unreact removes a previously sent reaction.
func (s *Session) Unreact(target, msgID, emoji string) {
	if !s.HasCapability("message-tags") {
		return
	}
	s.send(NewMessage("TAGMSG", target).
		WithTag("+draft/unreact", emoji).
		WithTag("+draft/reply", msgID))
}

// Redact asks the server to delete the message with the given id.
func (s *Session) Redact(target, msgID, reason string) {
	if reason == "" {
		s.send(NewMessage("REDACT", target, msgID))
	} else {
		s.send(NewMessage("REDACT", target, msgID, reason))
	}
}

// Typing sends a typing notification for target. Notifications are
// debounced per target, so typing in several conversations at once keeps
// independent timers.
func (s *Session) Typing(target string) {
	if !s.HasCapability("message-tags") {
		return
	}
	targetCf := s.casemap(target)
	now := time.Now()
	t, ok := s.typingStamps[targetCf]
	if ok && ((t.Type == TypingActive && now.Sub(t.Last).Seconds() < 3.0) || !t.Limit.Allow()) {
		return
	}
	if !ok {
		t.Limit = rate.NewLimiter(rate.Limit(1.0/3.0), 5)
		t.Limit.Reserve() // will always be OK
	}
	s.typingStamps[targetCf] = typingStamp{
		Last:  now,
		Type:  TypingActive,
		Limit: t.Limit,
	}
	s.send(NewMessage("TAGMSG", target).WithTag("+typing", "active"))
}

// TypingStop signals that the user is done typing in target.
func (s *Session) TypingStop(target string) {
	if !s.HasCapability("message-tags") {
		return
	}
	targetCf := s.casemap(target)
	now := time.Now()
	t, ok := s.typingStamps[targetCf]
	if ok && (t.Type == TypingDone || !t.Limit.Allow()) {
		// don't send +typing=done twice in a row
		return
	}
	if !ok {
		t.Limit = rate.NewLimiter(rate.Limit(1), 5)
		t.Limit.Reserve() // will always be OK
	}
	s.typingStamps[targetCf] = typingStamp{
		Last:  now,
		Type:  TypingDone,
		Limit: t.Limit,
	}
	s.send(NewMessage("TAGMSG", target).WithTag("+typing", "done"))
}

// MetadataGet requests the values of the given keys for target.
func (s *Session) MetadataGet(target string, keys ...string) {
	s.send(NewMessage("METADATA", append([]string{target, "GET"}, keys...)...))
}

// MetadataSet sets a metadata key on target. An empty value clears the key.
func (s *Session) MetadataSet(target, key, value string) {
	if value == "" {
		s.send(NewMessage("METADATA", target, "CLEAR", key))
	} else {
		s.send(NewMessage("METADATA", target, "SET", key, value))
	}
}

func (s *Session) MetadataList(target string) {
	s.send(NewMessage("METADATA", target, "LIST"))
}

func (s *Session) MetadataSub(keys ...string) {
	s.send(NewMessage("METADATA", append([]string{"*", "SUB"}, keys...)...))
}

func (s *Session) MetadataUnsub(keys ...string) {
	s.send(NewMessage("METADATA", append([]string{"*", "UNSUB"}, keys...)...))
}

func (s *Session) MetadataSubs() {
	s.send(NewMessage("METADATA", "*", "SUBS"))
}

func (s *Session) MetadataSync(target string) {
	s.send(NewMessage("METADATA", target, "SYNC"))
}

// RequestJWT asks the server for an upload token over the EXTJWT
// side-channel. The reply surfaces as a JWTTokenEvent; callers must handle
// the token never arriving.
func (s *Session) RequestJWT() {
	s.send(NewMessage("EXTJWT", "*"))
}

type HistoryRequest struct {
	s       *Session
	target  string
	command string
	bounds  []string
	limit   int
}

func (s *Session) NewHistoryRequest(target string) *HistoryRequest {
	return &HistoryRequest{
		s:      s,
		target: target,
		limit:  s.historyLimit,
	}
}

func (r *HistoryRequest) WithLimit(limit int) *HistoryRequest {
	if limit < r.s.historyLimit {
		r.limit = limit
	} else {
		r.limit = r.s.historyLimit
	}
	return r
}

func (r *HistoryRequest) doRequest() {
	if !r.s.HasCapability("draft/chathistory") {
		return
	}

	targetCf := r.s.casemap(r.target)
	if _, ok := r.s.chReqs[targetCf]; ok {
		return
	}
	r.s.chReqs[targetCf] = struct{}{}

	args := make([]string, 0, len(r.bounds)+3)
	args = append(args, r.command, r.target)
	args = append(args, r.bounds...)
	args = append(args, strconv.Itoa(r.limit))
	r.s.send(NewMessage("CHATHISTORY", args...))
}

func (r *HistoryRequest) Latest() {
	r.command = "LATEST"
	r.bounds = []string{"*"}
	r.doRequest()
}

func (r *HistoryRequest) Before(t time.Time) {
	r.command = "BEFORE"
	r.bounds = []string{"timestamp=" + formatTimestamp(t)}
	r.doRequest()
}

// HandleMessage dispatches one parsed server message: session state is
// updated first, then zero or more semantic events are returned for the
// caller to publish. Dispatch errors are contained per line; a malformed
// line must never tear down the session.
func (s *Session) HandleMessage(msg Message) ([]Event, error) {
	if msg.Prefix == nil {
		if s.defaultPrefix != nil {
			msg.Prefix = s.defaultPrefix
		} else {
			msg.Prefix = &Prefix{Name: "*"}
		}
	}
	if s.registered {
		return s.handleRegistered(msg)
	}
	return s.handleUnregistered(msg)
}

func (s *Session) handleUnregistered(msg Message) ([]Event, error) {
	switch msg.Command {
	case errNicknameinuse:
		var nick string
		if err := msg.ParseParams(nil, &nick); err != nil {
			return nil, err
		}
		s.send(NewMessage("NICK", nick+"_"))
		return nil, nil
	default:
		return s.handleRegistered(msg)
	}
}

func (s *Session) handleRegistered(msg Message) ([]Event, error) {
	if id, ok := msg.Tags["batch"]; ok && msg.Command != "BATCH" {
		if b, ok := s.batches[id]; ok {
			return nil, s.collectBatched(b, msg)
		}
	}
	return s.handleMessage(msg, false)
}

// collectBatched stashes a line belonging to an open batch.
func (s *Session) collectBatched(b *batch, msg Message) error {
	evs, err := s.handleMessage(msg, true)
	if err != nil {
		return err
	}
	for _, ev := range evs {
		b.events = append(b.events, ev)
		_, concat := msg.Tags["draft/multiline-concat"]
		b.concat = append(b.concat, concat)
	}
	return nil
}

func (s *Session) handleMessage(msg Message, playback bool) ([]Event, error) {
	switch msg.Command {
	case "PING":
		var payload string
		if err := msg.ParseParams(&payload); err != nil {
			return nil, err
		}
		s.send(NewMessage("PONG", payload))
	case "CAP":
		return s.handleCap(msg)
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
			s.send(NewMessage("AUTHENTICATE", "*"))
		} else {
			s.send(NewMessage("AUTHENTICATE", res))
		}
	case rplLoggedin:
		var nuh string
		if err := msg.ParseParams(nil, &nuh, &s.acct); err != nil {
			return nil, err
		}
		prefix := ParsePrefix(nuh)
		s.user = prefix.User
		s.host = prefix.Host
	case rplSaslsuccess:
		if s.authenticating {
			s.authenticating = false
			s.endRegistration()
		}
	case errNicklocked, errSaslfail, errSasltoolong, errSaslaborted, errSaslalready, rplSaslmechs:
		if s.authenticating {
			s.authenticating = false
			s.endRegistration()
		}
		return []Event{ErrorEvent{
			Severity: SeverityFail,
			Code:     msg.Command,
			Message:  fmt.Sprintf("Authentication failed: %s", strings.Join(msg.Params[1:], " ")),
		}}, nil
	case rplWelcome:
		s.defaultPrefix = msg.Prefix.Copy()
		if err := msg.ParseParams(&s.nick); err != nil {
			return nil, err
		}
		s.nickCf = s.Casemap(s.nick)
		s.registered = true
		s.users[s.nickCf] = &User{
			Name:   &Prefix{Name: s.nick, User: s.user, Host: s.host},
			Online: true,
		}
	case rplMyinfo:
		if err := msg.ParseParams(nil, nil, &s.serverName); err != nil {
			return nil, err
		}
	case rplIsupport:
		if len(msg.Params) < 3 {
			return nil, msg.errNotEnoughParams(3)
		}
		evs := s.updateFeatures(msg.Params[1 : len(msg.Params)-1])
		if !s.emittedReady {
			s.emittedReady = true
			evs = append(evs, RegisteredEvent{})
		}
		return evs, nil
	case rplEndofmotd, errNomotd:
		// the session is usable even if the server never sent ISUPPORT
		if !s.emittedReady {
			s.emittedReady = true
			return []Event{RegisteredEvent{}}, nil
		}
	case "JOIN":
		return s.handleJoin(msg, playback)
	case "PART":
		return s.handlePart(msg, playback)
	case "KICK":
		return s.handleKick(msg, playback)
	case "QUIT":
		return s.handleQuit(msg, playback)
	case "NICK":
		return s.handleNick(msg, playback)
	case rplNamreply:
		var channel, names string
		if err := msg.ParseParams(nil, nil, &channel, &names); err != nil {
			return nil, err
		}
		s.mergeNames(channel, names)
	case rplEndofnames:
		var channel string
		if err := msg.ParseParams(nil, &channel); err != nil {
			return nil, err
		}
		channelCf := s.Casemap(channel)
		c, ok := s.channels[channelCf]
		if !ok {
			break
		}
		evs := []Event{NamesEvent{Channel: c.Name, Names: s.Names(channel)}}
		if !c.complete {
			c.complete = true
			s.channels[channelCf] = c
			ev := SelfJoinEvent{Channel: c.Name, Topic: c.Topic}
			if stamp, ok := s.pendingChannels[channelCf]; ok && time.Since(stamp) < 5*time.Second {
				ev.Requested = true
				delete(s.pendingChannels, channelCf)
			}
			evs = append(evs, ev)
		}
		return evs, nil
	case rplTopic:
		var channel, topic string
		if err := msg.ParseParams(nil, &channel, &topic); err != nil {
			return nil, err
		}
		channelCf := s.Casemap(channel)
		if c, ok := s.channels[channelCf]; ok {
			c.Topic = topic
			s.channels[channelCf] = c
		}
	case rplTopicwhotime:
		var channel, topicWho, topicTime string
		if err := msg.ParseParams(nil, &channel, &topicWho, &topicTime); err != nil {
			return nil, err
		}
		// ignore the error, we still have topicWho
		t, _ := strconv.ParseInt(topicTime, 10, 64)
		channelCf := s.Casemap(channel)
		if c, ok := s.channels[channelCf]; ok {
			c.TopicWho = ParsePrefix(topicWho)
			c.TopicTime = time.Unix(t, 0)
			s.channels[channelCf] = c
		}
	case rplNotopic:
		var channel string
		if err := msg.ParseParams(nil, &channel); err != nil {
			return nil, err
		}
		channelCf := s.Casemap(channel)
		if c, ok := s.channels[channelCf]; ok {
			c.Topic = ""
			s.channels[channelCf] = c
		}
	case "TOPIC":
		var channel, topic string
		if err := msg.ParseParams(&channel, &topic); err != nil {
			return nil, err
		}
		ev := TopicChangeEvent{
			Channel: channel,
			Topic:   topic,
			Who:     msg.Prefix.Name,
			Time:    msg.TimeOrNow(),
		}
		if playback {
			return []Event{ev}, nil
		}
		channelCf := s.Casemap(channel)
		if c, ok := s.channels[channelCf]; ok {
			c.Topic = topic
			c.TopicWho = msg.Prefix.Copy()
			c.TopicTime = ev.Time
			s.channels[channelCf] = c
			ev.Channel = c.Name
			return []Event{ev}, nil
		}
	case "MODE":
		return s.handleMode(msg, playback)
	case "INVITE":
		var nick, channel string
		if err := msg.ParseParams(&nick, &channel); err != nil {
			return nil, err
		}
		return []Event{InviteEvent{
			Inviter: msg.Prefix.Name,
			Invitee: nick,
			Channel: channel,
		}}, nil
	case rplInviting:
		var nick, channel string
		if err := msg.ParseParams(nil, &nick, &channel); err != nil {
			return nil, err
		}
		return []Event{InviteEvent{
			Inviter: s.nick,
			Invitee: nick,
			Channel: channel,
		}}, nil
	case "AWAY":
		if u, ok := s.users[s.Casemap(msg.Prefix.Name)]; ok {
			u.Away = len(msg.Params) == 1
		}
	case "PRIVMSG", "NOTICE":
		if !s.registered && msg.Command == "NOTICE" {
			return nil, nil
		}
		var target string
		if err := msg.ParseParams(&target); err != nil {
			return nil, err
		}
		if !playback {
			s.typings.Done(s.casemap(target), s.casemap(msg.Prefix.Name))
		}
		ev, err := s.newMessageEvent(msg)
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	case "TAGMSG":
		return s.handleTagMsg(msg, playback)
	case "REDACT":
		var target, msgID string
		if err := msg.ParseParams(&target, &msgID); err != nil {
			return nil, err
		}
		var reason string
		if len(msg.Params) > 2 {
			reason = msg.Params[2]
		}
		return []Event{RedactEvent{
			User:      msg.Prefix.Name,
			Target:    target,
			MessageID: msgID,
			Reason:    reason,
			Time:      msg.TimeOrNow(),
		}}, nil
	case "BATCH":
		return s.handleBatch(msg)
	case "METADATA":
		return s.handleMetadata(msg)
	case rplWhoiskeyvalue, rplKeyvalue:
		return s.handleKeyValue(msg)
	case rplMetadatasubok, rplMetadatasubs:
		if len(msg.Params) < 2 {
			break
		}
		keys := msg.Params[1:]
		for _, key := range keys {
			s.metadataSubs[key] = struct{}{}
		}
		return []Event{MetadataSubsEvent{Keys: keys}}, nil
	case rplMetadataunsubok:
		if len(msg.Params) < 2 {
			break
		}
		for _, key := range msg.Params[1:] {
			delete(s.metadataSubs, key)
		}
	case rplMetadataend, rplMetadatasynclater:
		// delimiters; SYNC is retried by the caller if it cares
	case errNomatchingkey, errKeynotset:
		var target, key string
		if err := msg.ParseParams(nil, &target, &key); err != nil {
			return nil, err
		}
		// an absent key is not an error worth surfacing as one
		return []Event{MetadataEvent{Target: target, Key: key}}, nil
	case "EXTJWT":
		var target string
		if err := msg.ParseParams(&target); err != nil {
			return nil, err
		}
		return []Event{JWTTokenEvent{
			Target: target,
			Token:  msg.Params[len(msg.Params)-1],
		}}, nil
	case "ERROR":
		s.Close()
	case "FAIL", "WARN", "NOTE":
		return s.handleStandardReply(msg)
	case rplAway, rplUnaway, rplNowaway, rplYourhost, rplCreated, rplMotdstart, rplLuserclient, rplEndofwho, rplUmodeis:
		// noise around registration and WHO
	case rplMotd:
		return []Event{InfoEvent{Prefix: "MotD", Message: msg.Params[len(msg.Params)-1]}}, nil
	default:
		if msg.IsReply() {
			if len(msg.Params) < 2 {
				return nil, msg.errNotEnoughParams(2)
			}
			if msg.Command == errUnknowncommand {
				switch msg.Params[1] {
				case "METADATA", "EXTJWT", "REDACT", "CHATHISTORY":
					// sent unconditionally, servers without support may complain
					return nil, nil
				}
			}
			return []Event{ErrorEvent{
				Severity: ReplySeverity(msg.Command),
				Code:     msg.Command,
				Message:  strings.Join(msg.Params[1:], " "),
			}}, nil
		}
	}
	return nil, nil
}

// handleCap drives the capability negotiation state machine: filter the
// offered capabilities against SupportedCapabilities, request the
// intersection in REQ lines packed under capReqBudget, then finish
// registration once every request was answered and SASL (if any) is done.
func (s *Session) handleCap(msg Message) ([]Event, error) {
	var subcommand, caps string
	if err := msg.ParseParams(nil, &subcommand); err != nil {
		return nil, err
	}
	lastLine := true
	if len(msg.Params) > 3 && msg.Params[2] == "*" {
		// multi-line LS continuation
		lastLine = false
		if err := msg.ParseParams(nil, nil, nil, &caps); err != nil {
			return nil, err
		}
	} else {
		if err := msg.ParseParams(nil, nil, &caps); err != nil {
			return nil, err
		}
	}

	var evs []Event
	switch subcommand {
	case "LS", "NEW":
		for _, c := range ParseCaps(caps) {
			s.availableCaps[c.Name] = c.Value
		}
		if subcommand == "NEW" || (lastLine && !s.capsRequested) {
			if subcommand == "LS" {
				s.capsRequested = true
			}
			var reqs []string
			for name := range s.availableCaps {
				if !capSupported(name) {
					continue
				}
				if _, ok := s.enabledCaps[name]; ok {
					continue
				}
				if _, ok := s.capsPending[name]; ok {
					continue
				}
				s.capsPending[name] = struct{}{}
				reqs = append(reqs, name)
			}
			sort.Strings(reqs)
			s.sendCapReqs(reqs)
			if len(s.capsPending) == 0 {
				s.endRegistration()
			}
		}
	case "ACK":
		for _, c := range ParseCaps(caps) {
			delete(s.capsPending, c.Name)
			if c.Enable {
				s.enabledCaps[c.Name] = struct{}{}
			} else {
				delete(s.enabledCaps, c.Name)
			}
			evs = append(evs, CapEvent{Name: c.Name, Enable: c.Enable})
			if c.Name == "sasl" && c.Enable && s.auth != nil && !s.registered {
				s.authenticating = true
				s.send(NewMessage("AUTHENTICATE", s.auth.Handshake()))
			}
		}
		s.maybeEndRegistration()
	case "NAK":
		// a refused capability is simply not enabled; no retry
		for _, c := range ParseCaps(caps) {
			delete(s.capsPending, c.Name)
		}
		s.maybeEndRegistration()
	case "DEL":
		for _, c := range ParseCaps(caps) {
			delete(s.availableCaps, c.Name)
			delete(s.enabledCaps, c.Name)
			evs = append(evs, CapEvent{Name: c.Name, Enable: false})
		}
	}
	return evs, nil
}

// sendCapReqs packs the capability names into as few REQ lines as fit the
// budget, splitting into additional lines when needed.
func (s *Session) sendCapReqs(reqs []string) {
	overhead := len("CAP REQ :")
	var line []string
	lineLen := overhead
	for _, name := range reqs {
		add := len(name)
		if len(line) > 0 {
			add++
		}
		if len(line) > 0 && lineLen+add > capReqBudget {
			s.send(NewMessage("CAP", "REQ", strings.Join(line, " ")))
			line = line[:0]
			lineLen = overhead
			add = len(name)
		}
		line = append(line, name)
		lineLen += add
	}
	if len(line) > 0 {
		s.send(NewMessage("CAP", "REQ", strings.Join(line, " ")))
	}
}

func (s *Session) maybeEndRegistration() {
	if !s.registered && len(s.capsPending) == 0 && !s.authenticating {
		s.endRegistration()
	}
}

func (s *Session) endRegistration() {
	if s.registered {
		return
	}
	if s.HasCapability("draft/metadata-2") {
		s.MetadataSub(metadataKeys...)
	}
	s.send(NewMessage("CAP", "END"))
}

func (s *Session) handleJoin(msg Message, playback bool) ([]Event, error) {
	var channel string
	if err := msg.ParseParams(&channel); err != nil {
		return nil, err
	}

	if playback {
		return []Event{UserJoinEvent{
			User:    msg.Prefix.Name,
			Channel: channel,
			Time:    msg.TimeOrNow(),
		}}, nil
	}

	nickCf := s.Casemap(msg.Prefix.Name)
	channelCf := s.Casemap(channel)

	if s.IsMe(msg.Prefix.Name) {
		s.channels[channelCf] = Channel{
			Name:    channel,
			Members: map[*User]ChannelMember{},
		}
		return nil, nil
	}
	if c, ok := s.channels[channelCf]; ok {
		u, ok := s.users[nickCf]
		if !ok {
			u = &User{Name: msg.Prefix.Copy()}
			s.users[nickCf] = u
		}
		u.Online = true
		c.Members[u] = ChannelMember{}
		return []Event{UserJoinEvent{
			User:    msg.Prefix.Name,
			Channel: c.Name,
			Time:    msg.TimeOrNow(),
		}}, nil
	}
	return nil, nil
}

func (s *Session) handlePart(msg Message, playback bool) ([]Event, error) {
	var channel string
	if err := msg.ParseParams(&channel); err != nil {
		return nil, err
	}

	if playback {
		return []Event{UserPartEvent{
			User:    msg.Prefix.Name,
			Channel: channel,
			Time:    msg.TimeOrNow(),
		}}, nil
	}

	nickCf := s.Casemap(msg.Prefix.Name)
	channelCf := s.Casemap(channel)

	if s.IsMe(msg.Prefix.Name) {
		if c, ok := s.channels[channelCf]; ok {
			delete(s.channels, channelCf)
			for u := range c.Members {
				s.cleanUser(u)
			}
			return []Event{SelfPartEvent{Channel: c.Name}}, nil
		}
	} else if c, ok := s.channels[channelCf]; ok {
		if u, ok := s.users[nickCf]; ok {
			delete(c.Members, u)
			s.cleanUser(u)
			s.typings.Done(channelCf, nickCf)
			return []Event{UserPartEvent{
				User:    u.Name.Name,
				Channel: c.Name,
				Time:    msg.TimeOrNow(),
			}}, nil
		}
	}
	return nil, nil
}

func (s *Session) handleKick(msg Message, playback bool) ([]Event, error) {
	var channel, nick string
	if err := msg.ParseParams(&channel, &nick); err != nil {
		return nil, err
	}
	// some servers duplicate the channel before the kicked nick
	params := msg.Params[1:]
	if s.Casemap(nick) == s.Casemap(channel) && len(params) > 1 {
		params = params[1:]
		nick = params[0]
	}
	var reason string
	if len(params) > 1 {
		reason = params[len(params)-1]
	}

	ev := UserKickEvent{
		User:    nick,
		Kicker:  msg.Prefix.Name,
		Channel: channel,
		Reason:  reason,
		Time:    msg.TimeOrNow(),
	}
	if playback {
		return []Event{ev}, nil
	}

	nickCf := s.Casemap(nick)
	channelCf := s.Casemap(channel)

	if s.IsMe(nick) {
		if c, ok := s.channels[channelCf]; ok {
			delete(s.channels, channelCf)
			for u := range c.Members {
				s.cleanUser(u)
			}
			ev.Channel = c.Name
			return []Event{ev}, nil
		}
	} else if c, ok := s.channels[channelCf]; ok {
		if u, ok := s.users[nickCf]; ok {
			delete(c.Members, u)
			s.cleanUser(u)
			s.typings.Done(channelCf, nickCf)
			ev.Channel = c.Name
			return []Event{ev}, nil
		}
	}
	return nil, nil
}

func (s *Session) handleQuit(msg Message, playback bool) ([]Event, error) {
	var reason string
	if len(msg.Params) > 0 {
		reason = msg.Params[0]
	}

	if playback {
		return []Event{UserQuitEvent{
			User:   msg.Prefix.Name,
			Reason: reason,
			Time:   msg.TimeOrNow(),
		}}, nil
	}

	nickCf := s.Casemap(msg.Prefix.Name)
	u, ok := s.users[nickCf]
	if !ok {
		return nil, nil
	}
	u.Online = false
	var channels []string
	for channelCf, c := range s.channels {
		if _, ok := c.Members[u]; ok {
			channels = append(channels, c.Name)
			delete(c.Members, u)
			s.typings.Done(channelCf, nickCf)
		}
	}
	s.cleanUser(u)
	return []Event{UserQuitEvent{
		User:     u.Name.Name,
		Channels: channels,
		Reason:   reason,
		Time:     msg.TimeOrNow(),
	}}, nil
}

func (s *Session) handleNick(msg Message, playback bool) ([]Event, error) {
	var nick string
	if err := msg.ParseParams(&nick); err != nil {
		return nil, err
	}

	if playback {
		return []Event{UserNickEvent{
			User:       nick,
			FormerNick: msg.Prefix.Name,
			Time:       msg.TimeOrNow(),
		}}, nil
	}

	nickCf := s.Casemap(msg.Prefix.Name)
	newNickCf := s.Casemap(nick)

	if formerUser, ok := s.users[nickCf]; ok {
		formerUser.Name.Name = nick
		delete(s.users, nickCf)
		s.users[newNickCf] = formerUser
		// metadata travels with the user, keyed by the new nick
		if m, ok := s.metadata[nickCf]; ok {
			delete(s.metadata, nickCf)
			s.metadata[newNickCf] = m
		}
	} else if !s.IsMe(msg.Prefix.Name) {
		return nil, nil
	}

	if s.IsMe(msg.Prefix.Name) {
		s.nick = nick
		s.nickCf = newNickCf
		return []Event{SelfNickEvent{FormerNick: msg.Prefix.Name}}, nil
	}
	return []Event{UserNickEvent{
		User:       nick,
		FormerNick: msg.Prefix.Name,
		Time:       msg.TimeOrNow(),
	}}, nil
}

// mergeNames merges one RPL_NAMREPLY burst into the channel membership.
// Users already known keep their record (and thus their metadata); repeated
// bursts are idempotent.
func (s *Session) mergeNames(channel, names string) {
	channelCf := s.Casemap(channel)
	c, ok := s.channels[channelCf]
	if !ok {
		return
	}
	for _, name := range ParseNameReply(names, s.prefixSymbols) {
		if name.Name == nil {
			continue
		}
		nickCf := s.Casemap(name.Name.Name)
		u, ok := s.users[nickCf]
		if !ok {
			u = &User{Name: name.Name.Copy(), Online: true}
			s.users[nickCf] = u
		} else if u.Name.User == "" && name.Name.User != "" {
			// userhost-in-names told us more than we knew
			u.Name = name.Name.Copy()
		}
		u.Online = true
		m := c.Members[u]
		m.Membership = name.PowerLevel
		c.Members[u] = m
	}
	s.channels[channelCf] = c
}

func (s *Session) handleMode(msg Message, playback bool) ([]Event, error) {
	var channel string
	if err := msg.ParseParams(&channel, nil); err != nil {
		return nil, err
	}
	mode := strings.Join(msg.Params[1:], " ")

	ev := ModeChangeEvent{
		Channel: channel,
		Mode:    mode,
		Time:    msg.TimeOrNow(),
	}
	if playback || !s.IsChannel(channel) {
		return []Event{ev}, nil
	}

	channelCf := s.Casemap(channel)
	c, ok := s.channels[channelCf]
	if !ok {
		return nil, nil
	}
	changes, err := ParseChannelMode(msg.Params[1], msg.Params[2:], s.chanmodes, s.prefixModes)
	if err != nil {
		return nil, err
	}
	for _, change := range changes {
		i := strings.IndexByte(s.prefixModes, change.Mode)
		if i < 0 {
			continue
		}
		u, ok := s.users[s.Casemap(change.Param)]
		if !ok {
			continue
		}
		m, ok := c.Members[u]
		if !ok {
			continue
		}
		if change.Enable {
			membership := []byte(m.Membership + string(s.prefixSymbols[i]))
			sort.Slice(membership, func(i, j int) bool {
				return strings.IndexByte(s.prefixSymbols, membership[i]) <
					strings.IndexByte(s.prefixSymbols, membership[j])
			})
			m.Membership = string(membership)
		} else {
			m.Membership = strings.ReplaceAll(m.Membership, string(s.prefixSymbols[i]), "")
		}
		c.Members[u] = m
	}
	s.channels[channelCf] = c
	ev.Channel = c.Name
	return []Event{ev}, nil
}

func (s *Session) newMessageEvent(msg Message) (Event, error) {
	var target, content string
	if err := msg.ParseParams(&target, &content); err != nil {
		return nil, err
	}

	ev := MessageEvent{
		ID:      msg.Tags["msgid"],
		User:    msg.Prefix.Name,
		Target:  target,
		Command: msg.Command,
		Content: content,
		ReplyTo: msg.Tags["+draft/reply"],
		Tags:    msg.Tags,
		Time:    msg.TimeOrNow(),
	}

	if strings.HasPrefix(content, "\x01ACTION") {
		ev.Action = true
		ev.Content = strings.Trim(strings.TrimPrefix(content, "\x01ACTION"), "\x01 ")
	}

	targetCf := s.Casemap(target)
	if c, ok := s.channels[targetCf]; ok {
		ev.Target = c.Name
		ev.TargetIsChannel = true
	} else if s.IsChannel(target) {
		// message for a channel we are not tracking (e.g. history playback)
		ev.TargetIsChannel = true
	}

	return ev, nil
}

// handleTagMsg parses a tag-only message: typing notifications and
// reactions travel without a body.
func (s *Session) handleTagMsg(msg Message, playback bool) ([]Event, error) {
	if playback {
		return nil, nil
	}

	var target string
	if err := msg.ParseParams(&target); err != nil {
		return nil, err
	}

	targetCf := s.casemap(target)
	nickCf := s.casemap(msg.Prefix.Name)

	if !s.IsMe(msg.Prefix.Name) {
		if t, ok := msg.Tags["+typing"]; ok {
			switch t {
			case "active":
				s.typings.Active(targetCf, nickCf)
			case "paused", "done":
				s.typings.Done(targetCf, nickCf)
			}
		}
	}

	if emoji, ok := msg.Tags["+draft/react"]; ok {
		return []Event{ReactionEvent{
			User:      msg.Prefix.Name,
			Target:    target,
			MessageID: msg.Tags["+draft/reply"],
			Emoji:     emoji,
			Time:      msg.TimeOrNow(),
		}}, nil
	}
	if emoji, ok := msg.Tags["+draft/unreact"]; ok {
		return []Event{ReactionEvent{
			User:      msg.Prefix.Name,
			Target:    target,
			MessageID: msg.Tags["+draft/reply"],
			Emoji:     emoji,
			Removed:   true,
			Time:      msg.TimeOrNow(),
		}}, nil
	}
	return nil, nil
}

func (s *Session) handleBatch(msg Message) ([]Event, error) {
	var id string
	if err := msg.ParseParams(&id); err != nil {
		return nil, err
	}
	if len(id) < 2 {
		return nil, fmt.Errorf("invalid batch id %q", id)
	}

	start := id[0] == '+'
	if !start && id[0] != '-' {
		return nil, fmt.Errorf("invalid batch id %q", id)
	}
	id = id[1:]

	if start {
		var typ string
		if err := msg.ParseParams(nil, &typ); err != nil {
			return nil, err
		}
		b := &batch{typ: typ, params: msg.Params[2:]}
		if len(msg.Params) > 2 {
			b.target = msg.Params[2]
		}
		s.batches[id] = b
		return []Event{BatchStartEvent{ID: id, Type: typ, Params: b.params}}, nil
	}

	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	delete(s.batches, id)

	evs := s.closeBatch(b)
	return append(evs, BatchEndEvent{ID: id}), nil
}

// closeBatch turns the accumulated lines of a batch into events: a
// draft/multiline batch becomes one logical message, a chathistory batch
// becomes a HistoryEvent, anything else is surfaced as the burst it is.
func (s *Session) closeBatch(b *batch) []Event {
	switch b.typ {
	case "draft/multiline":
		sb := strings.Builder{}
		var first *MessageEvent
		for i, ev := range b.events {
			mev, ok := ev.(MessageEvent)
			if !ok {
				continue
			}
			if first == nil {
				m := mev
				first = &m
			} else if !b.concat[i] {
				sb.WriteByte('\n')
			}
			sb.WriteString(mev.Content)
		}
		if first == nil {
			return nil
		}
		first.Content = sb.String()
		return []Event{*first}
	case "chathistory", "draft/chathistory":
		delete(s.chReqs, s.Casemap(b.target))
		return []Event{HistoryEvent{Target: b.target, Messages: b.events}}
	default:
		return b.events
	}
}

// handleMetadata handles a live METADATA update:
// METADATA <target> <key> <visibility> [<value>]
func (s *Session) handleMetadata(msg Message) ([]Event, error) {
	var target, key string
	if err := msg.ParseParams(&target, &key); err != nil {
		return nil, err
	}
	var value string
	if len(msg.Params) > 3 {
		value = msg.Params[3]
	}
	s.setMetadata(target, key, value)
	return []Event{MetadataEvent{Target: target, Key: key, Value: value}}, nil
}

// handleKeyValue handles RPL_KEYVALUE (761) and RPL_WHOISKEYVALUE (760):
// <client> <target> <key> <visibility>[ :<value>]
func (s *Session) handleKeyValue(msg Message) ([]Event, error) {
	var target, key string
	if err := msg.ParseParams(nil, &target, &key); err != nil {
		return nil, err
	}
	rest := msg.Params[3:]
	// Some servers erroneously repeat the target before the key. The
	// metadata draft is authoritative; this stays an isolated workaround
	// for that one deviation.
	if s.Casemap(key) == s.Casemap(target) && len(rest) > 0 {
		key = rest[0]
		rest = rest[1:]
	}
	var value string
	if len(rest) > 1 {
		value = rest[1]
	}
	s.setMetadata(target, key, value)
	return []Event{MetadataEvent{Target: target, Key: key, Value: value}}, nil
}

func (s *Session) setMetadata(target, key, value string) {
	targetCf := s.Casemap(target)
	m, ok := s.metadata[targetCf]
	if !ok {
		m = map[string]string{}
		s.metadata[targetCf] = m
	}
	if value == "" {
		delete(m, key)
	} else {
		m[key] = value
	}
	if u, ok := s.users[targetCf]; ok {
		u.Metadata = m
	}
}

func (s *Session) handleStandardReply(msg Message) ([]Event, error) {
	var command, code string
	if err := msg.ParseParams(&command, &code); err != nil {
		return nil, err
	}

	if msg.Command == "FAIL" && command == "METADATA" {
		ev := MetadataFailEvent{
			Code:    code,
			Message: msg.Params[len(msg.Params)-1],
		}
		if code == "RATE_LIMITED" {
			// FAIL METADATA RATE_LIMITED <target> <retry-after> :...
			for _, p := range msg.Params[2 : len(msg.Params)-1] {
				if secs, err := strconv.Atoi(p); err == nil {
					ev.RetryAfter = time.Duration(secs) * time.Second
					break
				}
			}
		}
		return []Event{ev}, nil
	}

	if code == "KEY_INVALID" {
		// METADATA SUB for a key the server doesn't know: degrade silently
		return nil, nil
	}

	severity := SeverityNote
	switch msg.Command {
	case "FAIL":
		severity = SeverityFail
	case "WARN":
		severity = SeverityWarn
	}
	return []Event{ErrorEvent{
		Severity: severity,
		Code:     code,
		Message:  strings.Join(msg.Params[2:], " "),
	}}, nil
}

func (s *Session) cleanUser(parted *User) {
	for _, c := range s.channels {
		if _, ok := c.Members[parted]; ok {
			return
		}
	}
	delete(s.users, s.Casemap(parted.Name.Name))
}

func (s *Session) updateFeatures(features []string) []Event {
	var evs []Event
	for _, f := range features {
		if f == "" || f == "-" || f == "=" || f == "-=" {
			continue
		}

		if strings.HasPrefix(f, "-") {
			// ISUPPORT negations are not supported
			continue
		}

		key, value, _ := strings.Cut(f, "=")
		key = strings.ToUpper(key)
		evs = append(evs, ISupportEvent{Key: key, Value: value})

	Switch:
		switch key {
		case "CASEMAPPING":
			switch value {
			case "ascii":
				s.casemap = CasemapASCII
			default:
				s.casemap = CasemapRFC1459
			}
		case "CHANMODES":
			types := strings.SplitN(value, ",", 5)
			for i := 0; i < len(types) && i < len(s.chanmodes); i++ {
				s.chanmodes[i] = types[i]
			}
		case "CHANTYPES":
			s.chantypes = value
		case "CHATHISTORY":
			historyLimit, err := strconv.Atoi(value)
			if err == nil {
				s.historyLimit = historyLimit
			}
		case "LINELEN":
			linelen, err := strconv.Atoi(value)
			if err == nil && linelen != 0 {
				s.linelen = linelen
			}
		case "NETWORK":
			s.networkName = value
			evs = append(evs, NetworkNameEvent{Name: value})
		case "PREFIX":
			if value == "" {
				s.prefixModes = ""
				s.prefixSymbols = ""
				break Switch
			}
			if len(value)%2 != 0 {
				break Switch
			}
			numPrefixes := len(value)/2 - 1
			s.prefixModes = value[1 : numPrefixes+1]
			s.prefixSymbols = value[numPrefixes+2:]
		case "FILEHOST", "SOJU.IM/FILEHOST":
			s.upload = value
		}
	}
	return evs
}
