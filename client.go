package petrel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/petrel-im/petrel/irc"
)

// Client drives one IRC connection: it dials the server, pumps messages
// through a session, applies the resulting events to its store and
// publishes them on the bus. A client is single-use; reconnecting means
// creating a new one under the same id.
type Client struct {
	ID string

	cfg    Config
	logger zerolog.Logger
	bus    *Bus
	store  *Store

	mu      sync.Mutex
	conn    net.Conn
	session *irc.Session
	closed  bool
	done    chan struct{}
}

func NewClient(id string, cfg Config, logger zerolog.Logger, bus *Bus) *Client {
	return &Client{
		ID:     id,
		cfg:    cfg,
		logger: logger.With().Str("client", id).Logger(),
		bus:    bus,
		store:  NewStore(),
		done:   make(chan struct{}),
	}
}

func (c *Client) Store() *Store {
	return c.store
}

// Session returns the live session, or nil when disconnected.
func (c *Client) Session() *irc.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connect dials the configured address and starts the connection loop.
// Transport errors surface here; registration errors (bad credentials and
// the like) surface as failing ErrorEvents on the bus.
func (c *Client) Connect(ctx context.Context) error {
	addr, err := parseAddress(c.cfg.Addr)
	if err != nil {
		return err
	}

	conn, err := dial(ctx, addr, c.cfg.TLSSkipVerify)
	if err != nil {
		return err
	}
	return c.start(conn)
}

// start wires an established connection into a session and launches the
// connection loop.
func (c *Client) start(conn net.Conn) error {
	params := irc.SessionParams{
		Nickname: c.cfg.Nick,
		Username: c.cfg.User,
		RealName: c.cfg.Real,
		Fallback: c.cfg.MultilineFallback,
	}
	if c.cfg.Password != nil {
		params.Auth = &irc.SASLPlain{
			Username: c.cfg.User,
			Password: *c.cfg.Password,
		}
	}

	in, out := irc.ChanInOut(conn)
	if c.cfg.Debug {
		out = c.debugOutputMessages(out)
	}
	session := irc.NewSession(out, params)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		session.Close()
		conn.Close()
		return errors.New("client is closed")
	}
	c.conn = conn
	c.session = session
	c.mu.Unlock()

	c.logger.Info().Str("addr", c.cfg.Addr).Msg("connected")
	go c.loop(session, in)
	go func() {
		// typing expiry must always be drained, or entries stop expiring
		for typing := range session.TypingStops() {
			c.bus.Publish(BusEvent{ClientID: c.ID, Event: typing})
		}
	}()
	return nil
}

func (c *Client) debugOutputMessages(out chan<- irc.Message) chan<- irc.Message {
	debugOut := make(chan irc.Message, cap(out))
	go func() {
		for msg := range debugOut {
			c.logger.Debug().Str("dir", "out").Str("msg", msg.String()).Msg("irc")
			out <- msg
		}
		close(out)
	}()
	return debugOut
}

// loop consumes inbound messages until the connection drops, then publishes
// a DisconnectedEvent.
func (c *Client) loop(session *irc.Session, in <-chan irc.Message) {
	defer close(c.done)
	for msg := range in {
		if c.cfg.Debug {
			c.logger.Debug().Str("dir", "in").Str("msg", msg.String()).Msg("irc")
		}
		evs, err := session.HandleMessage(msg)
		if err != nil {
			c.logger.Warn().Err(err).Str("msg", msg.String()).Msg("failed to handle message")
			continue
		}
		for _, ev := range evs {
			c.apply(session, ev)
			c.bus.Publish(BusEvent{ClientID: c.ID, Event: ev})
		}
	}
	c.logger.Info().Msg("disconnected")
	c.bus.Publish(BusEvent{ClientID: c.ID, Event: DisconnectedEvent{}})
}

// DisconnectedEvent is published on the bus when the connection drops, so
// that consumers can schedule a reconnect.
type DisconnectedEvent struct{}

// apply folds a session event into the store.
func (c *Client) apply(session *irc.Session, ev irc.Event) {
	switch ev := ev.(type) {
	case irc.RegisteredEvent:
		c.store.SetCasemap(session.Casemap)
		c.store.SetSelf(session.Nick())
		for _, channel := range c.cfg.Channels {
			session.Join(channel, "")
		}
	case irc.SelfNickEvent:
		c.store.SetSelf(session.Nick())
	case irc.SelfJoinEvent:
		c.store.Ensure(ev.Channel, true)
		if ev.Topic != "" {
			c.store.SetTopic(ev.Channel, ev.Topic)
		}
		session.NewHistoryRequest(ev.Channel).Latest()
	case irc.SelfPartEvent:
		c.store.Remove(ev.Channel)
	case irc.TopicChangeEvent:
		c.store.SetTopic(ev.Channel, ev.Topic)
	case irc.MessageEvent:
		c.storeMessage(session, ev, false)
	case irc.HistoryEvent:
		for _, hev := range ev.Messages {
			if mev, ok := hev.(irc.MessageEvent); ok {
				c.storeMessage(session, mev, true)
			}
		}
	case irc.ReactionEvent:
		buffer := ev.Target
		if !session.IsChannel(ev.Target) && !session.IsMe(ev.User) {
			buffer = ev.User
		}
		c.store.React(buffer, ev.MessageID, ev.User, ev.Emoji, ev.Removed)
	case irc.RedactEvent:
		buffer := ev.Target
		if !session.IsChannel(ev.Target) && !session.IsMe(ev.User) {
			buffer = ev.User
		}
		c.store.Redact(buffer, ev.MessageID)
	case irc.ErrorEvent:
		// the session stays connected on auth failure so the caller gets
		// to decide; this caller does not continue unauthenticated
		if irc.IsAuthError(ev.Code) && !session.Registered() {
			c.logger.Error().Str("code", ev.Code).Msg(ev.Message)
			c.Disconnect("")
		}
	}
}

func (c *Client) storeMessage(session *irc.Session, ev irc.MessageEvent, history bool) {
	buffer := ev.Target
	fromSelf := session.IsMe(ev.User)
	if !ev.TargetIsChannel && !fromSelf {
		// direct messages land in the peer's buffer
		buffer = ev.User
	}
	c.store.AddMessage(buffer, StoredMessage{
		ID:      ev.ID,
		From:    ev.User,
		Content: ev.Content,
		Action:  ev.Action,
		Notice:  ev.Command == "NOTICE",
		ReplyTo: ev.ReplyTo,
		Time:    ev.Time,
	}, history || fromSelf)
}

// SendMessage sends content to target and records an optimistic copy in the
// store. The provisional id is returned; the echo-message copy replaces it
// once the server confirms delivery.
func (c *Client) SendMessage(target, content, replyTo string) (pendingID string, err error) {
	session := c.Session()
	if session == nil {
		return "", errors.New("not connected")
	}
	pendingID = c.store.AddPending(target, session.Nick(), content, replyTo)
	session.PrivMsg(target, content, replyTo)
	return pendingID, nil
}

// Typing forwards a typing notification, unless typing notifications are
// disabled in the configuration.
func (c *Client) Typing(target string) {
	if !c.cfg.Typings {
		return
	}
	if session := c.Session(); session != nil {
		session.Typing(target)
	}
}

func (c *Client) TypingStop(target string) {
	if !c.cfg.Typings {
		return
	}
	if session := c.Session(); session != nil {
		session.TypingStop(target)
	}
}

// Disconnect closes the connection, sending a best-effort QUIT first. It is
// idempotent; disconnecting a client that never connected is a no-op.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	session := c.session
	conn := c.conn
	c.mu.Unlock()

	if session != nil {
		session.Quit(reason)
		session.Close()
	}
	if conn != nil {
		conn.Close()
	}
}

// Done is closed once the connection loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Registry tracks clients by id so that callers can multiplex several
// connections.
type Registry struct {
	logger zerolog.Logger
	bus    *Bus

	mu      sync.Mutex
	clients map[string]*Client
}

func NewRegistry(logger zerolog.Logger, bus *Bus) *Registry {
	return &Registry{
		logger:  logger,
		bus:     bus,
		clients: map[string]*Client{},
	}
}

// Connect creates a client under the given id and dials it. Connecting an
// id that is already connected is an error; callers must disconnect first.
func (r *Registry) Connect(ctx context.Context, id string, cfg Config) (*Client, error) {
	r.mu.Lock()
	if _, ok := r.clients[id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("client %q is already connected", id)
	}
	client := NewClient(id, cfg, r.logger, r.bus)
	r.clients[id] = client
	r.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		r.mu.Lock()
		delete(r.clients, id)
		r.mu.Unlock()
		return nil, err
	}
	return client, nil
}

// Get returns the client registered under id, or nil.
func (r *Registry) Get(id string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[id]
}

// Disconnect tears down the client registered under id. Unknown ids are
// ignored, so calling it twice is safe.
func (r *Registry) Disconnect(id, reason string) {
	r.mu.Lock()
	client, ok := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()
	if ok {
		client.Disconnect(reason)
	}
}

// Close disconnects every client.
func (r *Registry) Close(reason string) {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for id, client := range r.clients {
		clients = append(clients, client)
		delete(r.clients, id)
	}
	r.mu.Unlock()
	for _, client := range clients {
		client.Disconnect(reason)
	}
}
