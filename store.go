package petrel

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"mvdan.cc/xurls/v2"

	"github.com/petrel-im/petrel/irc"
)

var urlRegex = xurls.Relaxed()

// ExtractURLs returns the URLs found in a message body, in order of
// appearance, without duplicates.
func ExtractURLs(content string) []string {
	matches := urlRegex.FindAllString(content, -1)
	var urls []string
	seen := map[string]struct{}{}
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		urls = append(urls, m)
	}
	return urls
}

// StoredMessage is one message of a buffer's backlog.
type StoredMessage struct {
	ID        string
	From      string
	Content   string
	Action    bool
	Notice    bool
	ReplyTo   string
	Time      time.Time
	Pending   bool   // sent optimistically, not yet echoed by the server.
	Redacted  bool   // deleted; Content is cleared, the entry remains.
	Reactions map[string][]string // emoji -> nicks, insertion ordered.
}

// Buffer is the backlog and counters of one conversation, either a channel
// or a direct-message peer.
type Buffer struct {
	Name       string
	IsChannel  bool
	Topic      string
	Messages   []StoredMessage
	Unread     int
	Highlights int

	byID map[string]int
}

// Store keeps the buffers of one connection. It is safe for concurrent use;
// the connection loop writes while consumers read snapshots.
type Store struct {
	mu      sync.Mutex
	buffers map[string]*Buffer
	order   []string
	casemap func(string) string
	self    string
}

func NewStore() *Store {
	return &Store{
		buffers: map[string]*Buffer{},
		casemap: irc.CasemapASCII,
	}
}

// SetCasemap updates the canonicalization used for buffer keys. Existing
// buffers keep their keys; servers advertise CASEMAPPING before any buffer
// exists in practice.
func (st *Store) SetCasemap(casemap func(string) string) {
	st.mu.Lock()
	st.casemap = casemap
	st.mu.Unlock()
}

// SetSelf records our own nickname, used for mention counting.
func (st *Store) SetSelf(nick string) {
	st.mu.Lock()
	st.self = nick
	st.mu.Unlock()
}

func (st *Store) get(name string) *Buffer {
	key := st.casemap(name)
	b, ok := st.buffers[key]
	if !ok {
		b = &Buffer{
			Name:      name,
			IsChannel: strings.IndexAny(name, "#&") == 0,
			byID:      map[string]int{},
		}
		st.buffers[key] = b
		st.order = append(st.order, key)
	}
	return b
}

// Ensure creates the buffer if it does not exist yet.
func (st *Store) Ensure(name string, isChannel bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	b := st.get(name)
	b.IsChannel = isChannel
}

// Remove drops a buffer and its backlog.
func (st *Store) Remove(name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	key := st.casemap(name)
	delete(st.buffers, key)
	for i, k := range st.order {
		if k == key {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
}

// Buffers returns the buffer names in creation order.
func (st *Store) Buffers() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	names := make([]string, 0, len(st.order))
	for _, key := range st.order {
		names = append(names, st.buffers[key].Name)
	}
	return names
}

// Messages returns a snapshot of a buffer's backlog.
func (st *Store) Messages(name string) []StoredMessage {
	st.mu.Lock()
	defer st.mu.Unlock()
	b, ok := st.buffers[st.casemap(name)]
	if !ok {
		return nil
	}
	msgs := make([]StoredMessage, len(b.Messages))
	copy(msgs, b.Messages)
	return msgs
}

func (st *Store) Topic(name string) string {
	st.mu.Lock()
	defer st.mu.Unlock()
	if b, ok := st.buffers[st.casemap(name)]; ok {
		return b.Topic
	}
	return ""
}

func (st *Store) SetTopic(name, topic string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.get(name).Topic = topic
}

// Unread returns the unread and highlight counters of a buffer.
func (st *Store) Unread(name string) (unread, highlights int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if b, ok := st.buffers[st.casemap(name)]; ok {
		return b.Unread, b.Highlights
	}
	return 0, 0
}

// MarkRead clears the unread and highlight counters of a buffer.
func (st *Store) MarkRead(name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if b, ok := st.buffers[st.casemap(name)]; ok {
		b.Unread = 0
		b.Highlights = 0
	}
}

func (b *Buffer) index(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	i, ok := b.byID[id]
	return i, ok
}

func (b *Buffer) insert(msg StoredMessage) {
	if i, ok := b.index(msg.ID); ok {
		// echo of an optimistic send, or history overlapping live messages
		reactions := b.Messages[i].Reactions
		redacted := b.Messages[i].Redacted
		b.Messages[i] = msg
		if redacted {
			b.Messages[i].Redacted = true
			b.Messages[i].Content = ""
		}
		if b.Messages[i].Reactions == nil {
			b.Messages[i].Reactions = reactions
		}
		return
	}

	// backlog arrives out of order when history is fetched after live
	// messages; keep the slice time-sorted
	i := sort.Search(len(b.Messages), func(i int) bool {
		return b.Messages[i].Time.After(msg.Time)
	})
	b.Messages = append(b.Messages, StoredMessage{})
	copy(b.Messages[i+1:], b.Messages[i:])
	b.Messages[i] = msg
	for id, j := range b.byID {
		if j >= i {
			b.byID[id] = j + 1
		}
	}
	if msg.ID != "" {
		b.byID[msg.ID] = i
	}
}

// AddMessage records a message in the named buffer. Messages with a known
// id are deduplicated: a server echo replaces the optimistic pending copy.
// read marks whether the message should bump the unread counters.
func (st *Store) AddMessage(buffer string, msg StoredMessage, read bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	b := st.get(buffer)

	_, existed := b.index(msg.ID)
	b.insert(msg)

	if read || existed || msg.Pending {
		return
	}
	b.Unread++
	if st.self != "" && !msg.Redacted && containsNick(msg.Content, st.self) {
		b.Highlights++
	}
}

// AddPending records an optimistic copy of an outgoing direct message and
// returns its provisional id. The echo-message copy from the server later
// replaces it when the server reuses the id, or sits next to it otherwise.
func (st *Store) AddPending(buffer, from, content, replyTo string) string {
	id := uuid.NewString()
	st.AddMessage(buffer, StoredMessage{
		ID:      id,
		From:    from,
		Content: content,
		ReplyTo: replyTo,
		Time:    time.Now().UTC(),
		Pending: true,
	}, true)
	return id
}

// ConfirmPending marks the pending message with the given id as delivered,
// adopting the server-assigned id when one is provided.
func (st *Store) ConfirmPending(buffer, pendingID, serverID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	b, ok := st.buffers[st.casemap(buffer)]
	if !ok {
		return
	}
	i, ok := b.index(pendingID)
	if !ok {
		return
	}
	b.Messages[i].Pending = false
	if serverID != "" && serverID != pendingID {
		delete(b.byID, pendingID)
		b.Messages[i].ID = serverID
		b.byID[serverID] = i
	}
}

// React records a reaction against a message. Removing a reaction that was
// never added is a no-op.
func (st *Store) React(buffer, msgID, from, emoji string, removed bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	b, ok := st.buffers[st.casemap(buffer)]
	if !ok {
		return
	}
	i, ok := b.index(msgID)
	if !ok {
		return
	}
	msg := &b.Messages[i]
	if removed {
		nicks := msg.Reactions[emoji]
		for j, nick := range nicks {
			if nick == from {
				nicks = append(nicks[:j], nicks[j+1:]...)
				break
			}
		}
		if len(nicks) == 0 {
			delete(msg.Reactions, emoji)
		} else {
			msg.Reactions[emoji] = nicks
		}
		return
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}
	for _, nick := range msg.Reactions[emoji] {
		if nick == from {
			return
		}
	}
	msg.Reactions[emoji] = append(msg.Reactions[emoji], from)
}

// Redact soft-deletes a message: the entry stays in the backlog with its
// content cleared so that replies to it keep an anchor.
func (st *Store) Redact(buffer, msgID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	b, ok := st.buffers[st.casemap(buffer)]
	if !ok {
		return
	}
	i, ok := b.index(msgID)
	if !ok {
		return
	}
	b.Messages[i].Redacted = true
	b.Messages[i].Content = ""
	b.Messages[i].Reactions = nil
}

// containsNick reports whether content mentions nick as a whole word.
func containsNick(content, nick string) bool {
	content = strings.ToLower(content)
	nick = strings.ToLower(nick)
	for {
		i := strings.Index(content, nick)
		if i < 0 {
			return false
		}
		before := i == 0 || !isNickChar(content[i-1])
		afterIdx := i + len(nick)
		after := afterIdx >= len(content) || !isNickChar(content[afterIdx])
		if before && after {
			return true
		}
		content = content[i+len(nick):]
	}
}

func isNickChar(c byte) bool {
	return c == '_' || c == '-' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
