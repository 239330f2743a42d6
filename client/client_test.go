package client

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonu-tech-hub/mychat-rtc/client/eventbus"
	"github.com/sonu-tech-hub/mychat-rtc/internal/proto"
)

func newTestClient() *Client {
	logger := zerolog.Nop()
	return New("ws://127.0.0.1:0/ws", "token", eventbus.New(), &logger)
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDispatchEmitsTypedPayloads(t *testing.T) {
	c := newTestClient()

	var messages []proto.MessagePayload
	c.Bus().On(proto.OutboundNewMessage, func(payload any) {
		messages = append(messages, payload.(proto.MessagePayload))
	})
	var acks []proto.MessageSentData
	c.Bus().On(proto.OutboundMessageSent, func(payload any) {
		acks = append(acks, payload.(proto.MessageSentData))
	})

	c.dispatch(rawOutbound{
		Type: proto.OutboundNewMessage,
		Data: raw(t, proto.MessagePayload{ID: "m1", SenderID: "u2", Content: "hi", CreatedAt: 100}),
	})
	c.dispatch(rawOutbound{
		Type: proto.OutboundMessageSent,
		Data: raw(t, proto.MessageSentData{ID: "m2", TempID: "tmp-1", CreatedAt: 200}),
	})

	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Content)
	require.Len(t, acks, 1)
	assert.Equal(t, "tmp-1", acks[0].TempID)
}

func TestDispatchEmitsErrorFrames(t *testing.T) {
	c := newTestClient()

	var errs []proto.Error
	c.Bus().On(proto.OutboundError, func(payload any) {
		errs = append(errs, payload.(proto.Error))
	})

	c.dispatch(rawOutbound{
		Type:  proto.OutboundError,
		Error: &proto.Error{Code: "permission_denied", Msg: "nope"},
	})

	require.Len(t, errs, 1)
	assert.Equal(t, "permission_denied", errs[0].Code)
}

func TestDispatchDropsMalformedAndUnknown(t *testing.T) {
	c := newTestClient()

	fired := 0
	c.Bus().On(proto.OutboundNewMessage, func(any) { fired++ })

	c.dispatch(rawOutbound{Type: proto.OutboundNewMessage, Data: json.RawMessage(`"garbage"`)})
	c.dispatch(rawOutbound{Type: "futureEvent", Data: json.RawMessage(`{}`)})

	assert.Zero(t, fired)
}

func TestTypingTimerLifecycle(t *testing.T) {
	c := newTestClient()

	var started, stopped []string
	c.Bus().On(proto.OutboundUserTyping, func(payload any) {
		started = append(started, payload.(proto.UserTypingData).UserID)
	})
	c.Bus().On(proto.OutboundUserStoppedTyping, func(payload any) {
		stopped = append(stopped, payload.(proto.UserTypingData).UserID)
	})

	c.dispatch(rawOutbound{
		Type: proto.OutboundUserTyping,
		Data: raw(t, proto.UserTypingData{UserID: "u2"}),
	})
	require.Equal(t, []string{"u2"}, started)

	key := typingKey(proto.UserTypingData{UserID: "u2"})
	c.typingMu.Lock()
	_, armed := c.typing[key]
	c.typingMu.Unlock()
	assert.True(t, armed, "expiry timer must be armed while the peer types")

	// An explicit stop disarms the timer so no synthetic stop fires later.
	c.dispatch(rawOutbound{
		Type: proto.OutboundUserStoppedTyping,
		Data: raw(t, proto.UserTypingData{UserID: "u2"}),
	})
	require.Equal(t, []string{"u2"}, stopped)

	c.typingMu.Lock()
	_, armed = c.typing[key]
	c.typingMu.Unlock()
	assert.False(t, armed)
}

func TestTypingTimersAreScopedPerConversation(t *testing.T) {
	c := newTestClient()

	var stopped []proto.UserTypingData
	c.Bus().On(proto.OutboundUserStoppedTyping, func(payload any) {
		stopped = append(stopped, payload.(proto.UserTypingData))
	})

	// The same peer types in a direct chat and in a group at once.
	dm := proto.UserTypingData{UserID: "u2"}
	grp := proto.UserTypingData{UserID: "u2", GroupID: "g1"}
	c.dispatch(rawOutbound{Type: proto.OutboundUserTyping, Data: raw(t, dm)})
	c.dispatch(rawOutbound{Type: proto.OutboundUserTyping, Data: raw(t, grp)})

	c.typingMu.Lock()
	timers := len(c.typing)
	c.typingMu.Unlock()
	assert.Equal(t, 2, timers, "each conversation holds its own timer")

	// Stopping in the group leaves the direct-chat indicator live.
	c.dispatch(rawOutbound{Type: proto.OutboundUserStoppedTyping, Data: raw(t, grp)})
	require.Equal(t, []proto.UserTypingData{grp}, stopped)

	c.typingMu.Lock()
	_, dmArmed := c.typing[typingKey(dm)]
	_, grpArmed := c.typing[typingKey(grp)]
	c.typingMu.Unlock()
	assert.True(t, dmArmed)
	assert.False(t, grpArmed)
}

func TestOperationsRequireConnection(t *testing.T) {
	c := newTestClient()

	_, err := c.SendMessage(t.Context(), proto.SendMessageData{RecipientID: "u2", Content: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.MarkRead(t.Context(), []string{"m1"}), ErrNotConnected)
	assert.ErrorIs(t, c.Typing(t.Context(), proto.TypingData{RecipientID: "u2"}), ErrNotConnected)

	assert.NoError(t, c.Close(), "closing an unconnected client is a no-op")
}
