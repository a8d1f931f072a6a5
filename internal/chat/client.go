package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/co-de-er123/CrowdAid/internal/domain"
	"github.com/co-de-er123/CrowdAid/internal/protocol"
)

// Reconnection policy defaults.
const (
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMultiplier  = 2
	defaultMaxAttempts = 5

	archiveTimeout = 5 * time.Second
)

// Config carries everything a Client needs. URL and Token are required; the
// rest defaults sensibly.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Token is the access credential. It is carried as a query parameter of
	// the connection handshake and never re-sent in-band.
	Token string
	// DeviceID identifies this client instance to the server.
	DeviceID string

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  int
	MaxAttempts int

	Logger *slog.Logger

	// Archive, when set, receives every delivered message best-effort.
	Archive domain.MessageArchive
	// Cache, when set, receives conversation snapshots best-effort.
	Cache domain.ConversationCache

	// OnEvent observes every recognized inbound event after it has been
	// applied to the state store.
	OnEvent func(protocol.Event)
	// OnStatusChange observes connection status transitions.
	OnStatusChange func(Status)
}

// Client owns the single transport connection to the chat server, recovers
// from transport failures with exponential backoff, and routes frames
// between the wire and the state store.
type Client struct {
	cfg    Config
	state  *State
	logger *slog.Logger
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	status     Status
	attempts   int
	retryTimer *time.Timer
	gen        uint64
	closed     bool

	// Serializes writes; gorilla permits one concurrent writer.
	writeMu sync.Mutex
}

// NewClient validates the config and builds a client. No connection is made
// until Connect is called.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: chat endpoint URL is required", domain.ErrInvalidInput)
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("%w: invalid chat endpoint URL: %v", domain.ErrInvalidInput, err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: access token is required", domain.ErrInvalidInput)
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.Multiplier < 2 {
		cfg.Multiplier = defaultMultiplier
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		state:  NewState(),
		logger: cfg.Logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// State exposes the conversation state store.
func (c *Client) State() *State {
	return c.state
}

// Status reports the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect starts a fresh connection attempt. It resets the reconnect
// counter, so it also serves as the manual retry after automatic
// reconnection has been abandoned. Failed dials schedule a backoff retry
// before returning.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClientClosed
	}
	c.attempts = 0
	c.stopRetryLocked()
	c.mu.Unlock()

	return c.dial()
}

// Close tears the client down: the reconnect timer is cancelled, the
// connection is closed, and no further reconnects happen. Conversation data
// stays readable.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopRetryLocked()
	conn := c.conn
	c.conn = nil
	changed := c.status != StatusDisconnected
	c.status = StatusDisconnected
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	if changed {
		c.notifyStatus(StatusDisconnected)
	}
}

func (c *Client) dial() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClientClosed
	}
	// A stale socket must be gone before a replacement opens.
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.gen++
	gen := c.gen
	changed := c.status != StatusConnecting
	c.status = StatusConnecting
	c.mu.Unlock()
	if changed {
		c.notifyStatus(StatusConnecting)
	}

	conn, resp, err := c.dialer.Dial(c.connectURL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn("chat: connect failed", "error", err)
		c.scheduleReconnect()
		return fmt.Errorf("dial chat server: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return domain.ErrClientClosed
	}
	if gen != c.gen {
		// A newer dial superseded this one while it was in flight.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.status = StatusConnected
	c.mu.Unlock()

	c.state.clearError()
	c.logger.Info("chat: connected", "url", c.cfg.URL)
	c.notifyStatus(StatusConnected)

	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) connectURL() string {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		// Validated in NewClient.
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	if c.cfg.DeviceID != "" {
		q.Set("device", c.cfg.DeviceID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// scheduleReconnect records a consecutive failure and either arms the
// backoff timer or, once the attempt budget is spent, parks the client in a
// persistent-error state awaiting a manual Connect.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	changed := c.status != StatusDisconnected
	c.status = StatusDisconnected
	c.attempts++
	attempt := c.attempts

	if attempt >= c.cfg.MaxAttempts {
		c.mu.Unlock()
		c.state.setError("connection lost; automatic reconnection abandoned")
		c.logger.Warn("chat: reconnect attempts exhausted", "attempts", attempt)
		if changed {
			c.notifyStatus(StatusDisconnected)
		}
		return
	}

	delay := backoffDelay(c.cfg.BaseDelay, c.cfg.Multiplier, c.cfg.MaxDelay, attempt)
	c.stopRetryLocked()
	c.retryTimer = time.AfterFunc(delay, func() {
		_ = c.dial()
	})
	c.mu.Unlock()

	c.logger.Info("chat: reconnect scheduled", "attempt", attempt, "delay", delay)
	if changed {
		c.notifyStatus(StatusDisconnected)
	}
}

func (c *Client) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// backoffDelay returns the delay before the given retry attempt (1-based):
// base doubling per attempt, capped.
func backoffDelay(base time.Duration, multiplier int, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= time.Duration(multiplier)
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := c.closed || gen != c.gen
			c.mu.Unlock()
			if stale {
				return
			}
			c.logger.Warn("chat: connection lost", "error", err)
			c.scheduleReconnect()
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame routes one inbound frame into the state store. Malformed
// frames become a diagnostic plus lastError; unknown tags are logged and
// skipped. Nothing here is fatal.
func (c *Client) handleFrame(data []byte) {
	ev, err := protocol.DecodeFrame(data)
	if err != nil {
		c.logger.Warn("chat: dropping malformed frame", "error", err)
		c.state.setError("failed to process message")
		return
	}

	switch e := ev.(type) {
	case protocol.MessageEvent:
		c.state.recordInboundMessage(e.Message)
		c.archiveMessage(e.Message)
	case protocol.ConversationUpdateEvent:
		c.state.upsertConversation(e.Conversation)
		c.cacheConversation(e.Conversation)
	case protocol.ConversationsListEvent:
		c.state.replaceConversations(e.Conversations)
		for _, conv := range e.Conversations {
			c.cacheConversation(conv)
		}
	case protocol.MessagesListEvent:
		c.state.replaceMessages(e.Messages)
	case protocol.ServerErrorEvent:
		c.state.setError(e.Message)
	case protocol.UnknownEvent:
		c.logger.Debug("chat: ignoring unknown frame type", "type", e.Type)
		return
	}

	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(ev)
	}
}

func (c *Client) archiveMessage(m domain.Message) {
	if c.cfg.Archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := c.cfg.Archive.SaveMessage(ctx, m); err != nil {
		c.logger.Warn("chat: archive message", "message_id", m.ID, "error", err)
	}
}

func (c *Client) cacheConversation(conv domain.Conversation) {
	if c.cfg.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := c.cfg.Cache.SaveConversation(ctx, conv); err != nil {
		c.logger.Warn("chat: cache conversation", "conversation_id", conv.ID, "error", err)
	}
}

func (c *Client) notifyStatus(st Status) {
	if c.cfg.OnStatusChange != nil {
		c.cfg.OnStatusChange(st)
	}
}

// SendMessage ships a message to the active conversation. It fails locally
// when disconnected or when no conversation is selected; success means the
// frame was handed to the transport, not that the server processed it.
func (c *Client) SendMessage(content string) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	active := c.state.ActiveConversationID()
	if active == "" {
		c.state.setError(domain.ErrNoActiveConversation.Error())
		return domain.ErrNoActiveConversation
	}
	return c.sendFrame(protocol.NewSendMessageFrame(active, content))
}

// CreateConversation asks the server to open a conversation with the given
// participants, optionally seeding it with a first message.
func (c *Client) CreateConversation(participantIDs []string, initialMessage string) error {
	if len(participantIDs) == 0 {
		return fmt.Errorf("%w: at least one participant is required", domain.ErrInvalidInput)
	}
	if err := c.requireConnected(); err != nil {
		return err
	}
	return c.sendFrame(protocol.NewCreateConversationFrame(participantIDs, initialMessage))
}

// LoadMessages requests a conversation's message history. The reply arrives
// later as a MESSAGES_LIST frame.
func (c *Client) LoadMessages(conversationID string) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	return c.sendFrame(protocol.NewGetMessagesFrame(conversationID))
}

// MarkAsRead acknowledges a conversation as read and optimistically zeroes
// its unread counter ahead of server confirmation.
func (c *Client) MarkAsRead(conversationID string) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	if err := c.sendFrame(protocol.NewMarkAsReadFrame(conversationID)); err != nil {
		return err
	}
	c.state.clearUnread(conversationID)
	return nil
}

// SetActiveConversation focuses a locally known conversation and, as side
// effects, requests its history and acknowledges it as read. Returns false
// when the id is unknown locally. Activation itself is local; if the
// follow-up commands cannot be sent the failure lands in lastError.
func (c *Client) SetActiveConversation(conversationID string) bool {
	if !c.state.setActive(conversationID) {
		return false
	}
	if err := c.LoadMessages(conversationID); err != nil {
		c.logger.Warn("chat: load messages", "conversation_id", conversationID, "error", err)
		c.state.setError(err.Error())
	}
	if err := c.MarkAsRead(conversationID); err != nil {
		c.logger.Warn("chat: mark as read", "conversation_id", conversationID, "error", err)
		c.state.setError(err.Error())
	}
	return true
}

func (c *Client) requireConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClientClosed
	}
	if c.status != StatusConnected || c.conn == nil {
		return domain.ErrNotConnected
	}
	return nil
}

func (c *Client) sendFrame(f protocol.Frame) error {
	c.mu.Lock()
	conn := c.conn
	status := c.status
	c.mu.Unlock()
	if status != StatusConnected || conn == nil {
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(f)
	c.writeMu.Unlock()
	if err != nil {
		c.state.setError("failed to send " + f.Type)
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	c.state.clearError()
	return nil
}

// IsTransient reports whether an error is a recoverable command rejection
// rather than a terminal condition.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrNotConnected) || errors.Is(err, domain.ErrNoActiveConversation)
}
