package gateway

import (
	"bytes"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"orgmessenger/internal/events"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultSendBuffer = 256
	maxMessageSize    = 512 * 1024
)

// Settings tunes per-connection websocket behavior. Zero values fall back
// to the defaults above.
type Settings struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	SendBuffer int
}

func (s Settings) withDefaults() Settings {
	if s.WriteWait <= 0 {
		s.WriteWait = defaultWriteWait
	}
	if s.PongWait <= 0 {
		s.PongWait = defaultPongWait
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = defaultSendBuffer
	}
	return s
}

func (s Settings) pingPeriod() time.Duration {
	return (s.PongWait * 9) / 10
}

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Inbound action types
const (
	ActionSendMessage     = "message:send"
	ActionEditMessage     = "message:edit"
	ActionDeleteMessage   = "message:delete"
	ActionReact           = "message:react"
	ActionTypingStart     = "typing:start"
	ActionTypingStop      = "typing:stop"
	ActionJoinChat        = "chat:join"
	ActionMarkRead        = "read"
	ActionConfirmDelivery = "delivery:confirm"
	ActionPing            = "ping"
)

// ClientAction is the single inbound frame shape; Type selects which fields
// apply. The sender identity always comes from the connection, never from
// the payload.
type ClientAction struct {
	Type        string             `json:"type"`
	TempID      string             `json:"temp_id,omitempty"`
	ReceiverID  uuid.NullUUID      `json:"receiver_id,omitempty"`
	GroupID     uuid.NullUUID      `json:"group_id,omitempty"`
	ChannelID   uuid.NullUUID      `json:"channel_id,omitempty"`
	Content     string             `json:"content,omitempty"`
	MessageType string             `json:"message_type,omitempty"`
	ReplyToID   uuid.NullUUID      `json:"reply_to_id,omitempty"`
	MessageID   uuid.UUID          `json:"message_id,omitempty"`
	MessageIDs  []uuid.UUID        `json:"message_ids,omitempty"`
	Emoji       string             `json:"emoji,omitempty"`
	Visibility  string             `json:"visibility,omitempty"`
	Attachments []ClientAttachment `json:"attachments,omitempty"`
}

type ClientAttachment struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

// Client is a single websocket connection. It implements presence.Conn.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	settings    Settings
	userID      uuid.UUID
	clientID    string
	rateLimiter *ClientRateLimiter
	closed      int32
	connectedAt time.Time

	// unix nanos of the last inbound frame or pong, read by writePump.
	lastActivity int64
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	settings := Settings{}.withDefaults()
	if hub != nil {
		settings = hub.settings
	}
	now := time.Now()
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, settings.SendBuffer),
		done:         make(chan struct{}),
		settings:     settings,
		userID:       userID,
		clientID:     uuid.New().String(),
		rateLimiter:  NewClientRateLimiter(),
		connectedAt:  now,
		lastActivity: now.UnixNano(),
	}
}

func (c *Client) ID() string        { return c.clientID }
func (c *Client) UserID() uuid.UUID { return c.userID }

// Send enqueues without blocking; a full buffer drops the payload for this
// connection only. The send channel is never closed, so a Send racing Close
// at worst enqueues into a buffer nobody drains.
func (c *Client) Send(payload []byte) bool {
	if atomic.LoadInt32(&c.closed) == 1 {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close signals writePump shutdown. Safe to call from any goroutine, any
// number of times.
func (c *Client) Close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.done)
	}
}

// SendEvent marshals and enqueues a single caller-scoped event.
func (c *Client) SendEvent(ev events.Event) {
	payload, err := events.Marshal(ev)
	if err != nil {
		return
	}
	c.Send(payload)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.settings.PongWait))
		atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnf("websocket unexpected close user=%s conn=%s: %v", c.userID, c.clientID, err)
			}
			break
		}

		raw = bytes.TrimSpace(bytes.Replace(raw, newline, space, -1))
		atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
		c.handleAction(raw)
	}
}

func (c *Client) handleAction(raw []byte) {
	var action ClientAction
	if err := json.Unmarshal(raw, &action); err != nil {
		c.SendEvent(events.ErrorEvent{Code: events.CodeInvalidInput, Message: "malformed action"})
		return
	}

	if !c.rateLimiter.Allow(action.Type) {
		c.SendEvent(events.ErrorEvent{Code: events.CodeRateLimited, Message: "rate limit exceeded"})
		return
	}

	switch action.Type {
	case ActionSendMessage:
		c.hub.handleSendMessage(c, action)
	case ActionEditMessage:
		c.hub.handleEditMessage(c, action)
	case ActionDeleteMessage:
		c.hub.handleDeleteMessage(c, action)
	case ActionReact:
		c.hub.handleReact(c, action)
	case ActionTypingStart:
		c.hub.handleTyping(c, action, true)
	case ActionTypingStop:
		c.hub.handleTyping(c, action, false)
	case ActionJoinChat:
		c.hub.handleJoinChat(c, action)
	case ActionMarkRead:
		c.hub.handleMarkRead(c, action)
	case ActionConfirmDelivery:
		c.hub.handleConfirmDelivery(c, action)
	case ActionPing:
		c.SendEvent(events.Pong{})
	default:
		c.SendEvent(events.ErrorEvent{Code: events.CodeInvalidInput, Message: "unknown action type"})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.settings.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(payload)

			// Drain whatever queued up behind this frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			last := time.Unix(0, atomic.LoadInt64(&c.lastActivity))
			if time.Since(last) > c.settings.PongWait*2 {
				c.hub.logger.Infof("client idle timeout user=%s conn=%s", c.userID, c.clientID)
				return
			}
		}
	}
}
