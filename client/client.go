// Package client is the Go client for the realtime server: it maintains the
// WebSocket connection, decodes the wire protocol into typed payloads, and
// republishes them on an event bus.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sonu-tech-hub/mychat-rtc/client/eventbus"
	"github.com/sonu-tech-hub/mychat-rtc/internal/proto"
)

// typingExpiry is how long a peer's typing indicator stays live without a
// follow-up signal before a synthetic stop event is published.
const typingExpiry = 3 * time.Second

// ErrNotConnected is returned by operations invoked before Connect.
var ErrNotConnected = errors.New("client: not connected")

// Client is a connected realtime participant.
type Client struct {
	url   string
	token string
	bus   *eventbus.Bus
	log   *zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	typingMu sync.Mutex
	typing   map[string]*time.Timer // (userID, conversation) -> expiry timer
}

// New creates a client for the given WebSocket URL and bearer token. Events
// are published on bus; subscribe before calling Connect to avoid missing the
// initial presence snapshot.
func New(url, token string, bus *eventbus.Bus, logger *zerolog.Logger) *Client {
	return &Client{
		url:    url,
		token:  token,
		bus:    bus,
		log:    logger,
		typing: make(map[string]*time.Timer),
	}
}

// Bus returns the event bus the client publishes on.
func (c *Client) Bus() *eventbus.Bus { return c.bus }

// Connect dials the server and starts the read loop. The loop runs until the
// connection drops or Close is called; either way a "disconnected" event is
// published with the terminal error (nil on clean close).
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(loopCtx, conn)
	return nil
}

// Close terminates the connection. Safe to call when not connected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client closing")
}

// SendMessage sends a message toward a recipient or group. A fresh temp id is
// generated and returned so the caller can track the optimistic entry until
// the messageSent ack arrives with the canonical id.
func (c *Client) SendMessage(ctx context.Context, data proto.SendMessageData) (tempID string, err error) {
	if data.TempID == "" {
		data.TempID = uuid.New().String()
	}
	return data.TempID, c.write(ctx, proto.InboundSendMessage, data)
}

// MarkRead reports a batch of messages as read.
func (c *Client) MarkRead(ctx context.Context, messageIDs []string) error {
	return c.write(ctx, proto.InboundMarkAsRead, proto.MarkAsReadData{MessageIDs: messageIDs})
}

// EditMessage replaces the content of an own, still unread message.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) error {
	return c.write(ctx, proto.InboundEditMessage, proto.EditMessageData{MessageID: messageID, Content: content})
}

// DeleteMessage deletes an own message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.write(ctx, proto.InboundDeleteMessage, proto.DeleteMessageData{MessageID: messageID})
}

// Typing signals a typing indicator toward a recipient or group.
func (c *Client) Typing(ctx context.Context, data proto.TypingData) error {
	return c.write(ctx, proto.InboundTyping, data)
}

// StopTyping retracts a typing indicator.
func (c *Client) StopTyping(ctx context.Context, data proto.TypingData) error {
	return c.write(ctx, proto.InboundStopTyping, data)
}

// SetStatus switches own presence between online and away.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	return c.write(ctx, proto.InboundSetStatus, proto.SetStatusData{Status: status})
}

// Send publishes a raw protocol event. The call engine uses this for
// signaling; application code normally uses the typed operations above.
func (c *Client) Send(ctx context.Context, eventType string, data any) error {
	return c.write(ctx, eventType, data)
}

func (c *Client) write(ctx context.Context, eventType string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	return wsjson.Write(ctx, conn, proto.Inbound{Type: eventType, Data: raw})
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	var loopErr error
	for {
		var envelope rawOutbound
		if err := wsjson.Read(ctx, conn, &envelope); err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				loopErr = err
			}
			break
		}
		c.dispatch(envelope)
	}

	c.stopAllTypingTimers()
	if loopErr != nil {
		c.log.Warn().Err(loopErr).Msg("connection lost")
	}
	c.bus.Emit(EventDisconnected, loopErr)
}

// rawOutbound mirrors proto.Outbound with the data still undecoded.
type rawOutbound struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// Bus event names. Server-originated events reuse the wire type strings; the
// client adds local lifecycle events on top.
const (
	EventDisconnected = "disconnected"
)

// dispatch decodes one server event into its typed payload and republishes
// it. The outbound type set is closed; unknown types are logged and dropped.
func (c *Client) dispatch(envelope rawOutbound) {
	switch envelope.Type {
	case proto.OutboundError:
		if envelope.Error != nil {
			c.bus.Emit(proto.OutboundError, *envelope.Error)
		}
	case proto.OutboundUserStatus:
		emitTyped[proto.UserStatusData](c, envelope)
	case proto.OutboundOnlineUsers:
		emitTyped[proto.OnlineUsersData](c, envelope)
	case proto.OutboundNewMessage:
		emitTyped[proto.MessagePayload](c, envelope)
	case proto.OutboundMessageSent:
		emitTyped[proto.MessageSentData](c, envelope)
	case proto.OutboundMessagesRead:
		emitTyped[proto.MessagesReadData](c, envelope)
	case proto.OutboundMessageDeleted:
		emitTyped[proto.MessageDeletedData](c, envelope)
	case proto.OutboundMessageEdited:
		emitTyped[proto.MessageEditedData](c, envelope)
	case proto.OutboundUserTyping:
		payload, ok := decode[proto.UserTypingData](c, envelope)
		if !ok {
			return
		}
		c.armTypingTimer(payload)
		c.bus.Emit(proto.OutboundUserTyping, payload)
	case proto.OutboundUserStoppedTyping:
		payload, ok := decode[proto.UserTypingData](c, envelope)
		if !ok {
			return
		}
		c.disarmTypingTimer(payload)
		c.bus.Emit(proto.OutboundUserStoppedTyping, payload)
	case proto.OutboundCallOffer:
		emitTyped[proto.CallOfferEventData](c, envelope)
	case proto.OutboundCallAccepted:
		emitTyped[proto.CallAcceptedData](c, envelope)
	case proto.OutboundCallRejected:
		emitTyped[proto.CallRejectedData](c, envelope)
	case proto.OutboundCallUnavailable:
		emitTyped[proto.CallUnavailableData](c, envelope)
	case proto.OutboundICECandidate:
		emitTyped[proto.ICECandidateEventData](c, envelope)
	case proto.OutboundCallEnded:
		emitTyped[proto.CallEndedData](c, envelope)
	case proto.OutboundCallRenegotiate:
		emitTyped[proto.CallRenegotiateEventData](c, envelope)
	default:
		c.log.Debug().Str("event", envelope.Type).Msg("unknown server event dropped")
	}
}

func decode[T any](c *Client, envelope rawOutbound) (T, bool) {
	var payload T
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.log.Warn().Err(err).Str("event", envelope.Type).Msg("malformed server event dropped")
		return payload, false
	}
	return payload, true
}

func emitTyped[T any](c *Client, envelope rawOutbound) {
	if payload, ok := decode[T](c, envelope); ok {
		c.bus.Emit(envelope.Type, payload)
	}
}

// typingKey scopes a peer's indicator to one conversation, so the same peer
// typing in a group and a direct chat holds two independent timers.
func typingKey(payload proto.UserTypingData) string {
	return payload.UserID + "/" + payload.GroupID
}

// armTypingTimer schedules a synthetic stop event in case the peer's stop
// signal never arrives. A repeated typing signal pushes the deadline out.
func (c *Client) armTypingTimer(payload proto.UserTypingData) {
	key := typingKey(payload)

	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	if timer, ok := c.typing[key]; ok {
		timer.Reset(typingExpiry)
		return
	}
	c.typing[key] = time.AfterFunc(typingExpiry, func() {
		c.typingMu.Lock()
		delete(c.typing, key)
		c.typingMu.Unlock()
		c.bus.Emit(proto.OutboundUserStoppedTyping, payload)
	})
}

func (c *Client) disarmTypingTimer(payload proto.UserTypingData) {
	key := typingKey(payload)

	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if timer, ok := c.typing[key]; ok {
		timer.Stop()
		delete(c.typing, key)
	}
}

func (c *Client) stopAllTypingTimers() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	for key, timer := range c.typing {
		timer.Stop()
		delete(c.typing, key)
	}
}
