// Package proto defines the bidirectional JSON wire protocol of the realtime
// surface. The inbound and outbound type sets are closed; the gateway
// dispatches them via exhaustive switch and rejects unknown types.
package proto

import "encoding/json"

// Inbound is the envelope for events coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound event types (client -> server).
const (
	InboundSendMessage     = "sendMessage"
	InboundMarkAsRead      = "markAsRead"
	InboundDeleteMessage   = "deleteMessage"
	InboundEditMessage     = "editMessage"
	InboundTyping          = "typing"
	InboundStopTyping      = "stopTyping"
	InboundSetStatus       = "setStatus"
	InboundCallOffer       = "callOffer"
	InboundCallAnswer      = "callAnswer"
	InboundICECandidate    = "iceCandidate"
	InboundEndCall         = "endCall"
	InboundCallRenegotiate = "callRenegotiate"
)

// Outbound event types (server -> client).
const (
	OutboundUserStatus        = "userStatus"
	OutboundOnlineUsers       = "onlineUsers"
	OutboundNewMessage        = "newMessage"
	OutboundMessageSent       = "messageSent"
	OutboundMessagesRead      = "messagesRead"
	OutboundMessageDeleted    = "messageDeleted"
	OutboundMessageEdited     = "messageEdited"
	OutboundUserTyping        = "userTyping"
	OutboundUserStoppedTyping = "userStoppedTyping"
	OutboundCallOffer         = "callOffer"
	OutboundCallAccepted      = "callAccepted"
	OutboundCallRejected      = "callRejected"
	OutboundCallUnavailable   = "callUnavailable"
	OutboundICECandidate      = "iceCandidate"
	OutboundCallEnded         = "callEnded"
	OutboundCallRenegotiate   = "callRenegotiate"
	OutboundError             = "error"
)

// Renegotiation roles. The sender of a renegotiate signal states its role
// explicitly; only the answerer side responds with a description.
const (
	RoleOfferer  = "offerer"
	RoleAnswerer = "answerer"
)

// Outbound is the envelope for events sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// SessionDescription is the negotiated media description exchanged by two
// call participants (offer or answer).
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ==== Inbound payloads ====

// SendMessageData carries a new message. Exactly one of RecipientID and
// GroupID must be set. TempID is echoed back on the messageSent ack so the
// client can correlate its optimistic entry with the canonical id.
type SendMessageData struct {
	TempID      string   `json:"tempId,omitempty"`
	RecipientID string   `json:"recipientId,omitempty"`
	GroupID     string   `json:"groupId,omitempty"`
	Content     string   `json:"content"`
	MsgType     string   `json:"type,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// MarkAsReadData marks a batch of messages as read by the sender of the event.
type MarkAsReadData struct {
	MessageIDs []string `json:"messageIds"`
}

// DeleteMessageData requests deletion of a single message.
type DeleteMessageData struct {
	MessageID string `json:"messageId"`
}

// EditMessageData replaces the content of an unread message.
type EditMessageData struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// TypingData signals a typing indicator toward a recipient or group.
type TypingData struct {
	RecipientID string `json:"recipientId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
}

// SetStatusData updates the presence status (online or away).
type SetStatusData struct {
	Status string `json:"status"`
}

// CallOfferData initiates a call toward a recipient.
type CallOfferData struct {
	RecipientID string             `json:"recipientId"`
	Offer       SessionDescription `json:"offer"`
	CallType    string             `json:"callType"`
}

// CallAnswerData answers (or rejects) a ringing call.
type CallAnswerData struct {
	CallID   string             `json:"callId"`
	CallerID string             `json:"callerId"`
	Answer   SessionDescription `json:"answer"`
	Accepted bool               `json:"accepted"`
}

// ICECandidateData relays one network-path candidate. The candidate body is
// opaque to the server.
type ICECandidateData struct {
	RecipientID string          `json:"recipientId"`
	Candidate   json.RawMessage `json:"candidate"`
}

// EndCallData terminates a call.
type EndCallData struct {
	CallID      string `json:"callId"`
	RecipientID string `json:"recipientId"`
}

// CallRenegotiateData relays an ICE-restart description mid-call.
type CallRenegotiateData struct {
	RecipientID string             `json:"recipientId"`
	Role        string             `json:"role"`
	Description SessionDescription `json:"description"`
}

// ==== Outbound payloads ====

// UserStatusData announces a participant's presence change.
type UserStatusData struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// OnlineUsersData is the presence snapshot pushed once at connect.
type OnlineUsersData struct {
	UserIDs []string `json:"userIds"`
}

// MessagePayload is a fully populated message event.
type MessagePayload struct {
	ID          string   `json:"id"`
	SenderID    string   `json:"senderId"`
	SenderName  string   `json:"senderName,omitempty"`
	RecipientID string   `json:"recipientId,omitempty"`
	GroupID     string   `json:"groupId,omitempty"`
	Content     string   `json:"content"`
	MsgType     string   `json:"type"`
	Attachments []string `json:"attachments,omitempty"`
	Edited      bool     `json:"edited,omitempty"`
	Deleted     bool     `json:"deleted,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
}

// MessageSentData acknowledges a send to its author, carrying the canonical id.
type MessageSentData struct {
	ID        string `json:"id"`
	TempID    string `json:"tempId,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// MessagesReadData is a read receipt partitioned per original sender.
type MessagesReadData struct {
	ReaderID   string   `json:"readerId"`
	MessageIDs []string `json:"messageIds"`
	ReadAt     int64    `json:"readAt"`
}

// MessageDeletedData announces deletion. Hard deletes invalidate the id;
// soft deletes preserve it with content cleared.
type MessageDeletedData struct {
	MessageID string `json:"messageId"`
	Hard      bool   `json:"hard"`
}

// MessageEditedData announces an in-place content change.
type MessageEditedData struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	EditedAt  int64  `json:"editedAt"`
}

// UserTypingData signals a typing indicator from a participant.
type UserTypingData struct {
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
}

// CallOfferEventData delivers an incoming call with caller identity substituted.
type CallOfferEventData struct {
	CallID      string             `json:"callId"`
	CallerID    string             `json:"callerId"`
	CallerName  string             `json:"callerName,omitempty"`
	CallerPhoto string             `json:"callerPhoto,omitempty"`
	Offer       SessionDescription `json:"offer"`
	CallType    string             `json:"callType"`
}

// CallAcceptedData notifies the caller that the call was accepted.
type CallAcceptedData struct {
	CallID string             `json:"callId"`
	Answer SessionDescription `json:"answer"`
}

// CallRejectedData notifies the caller that the call was rejected.
type CallRejectedData struct {
	CallID string `json:"callId"`
}

// CallUnavailableData notifies the caller that the recipient cannot be reached.
type CallUnavailableData struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

// ICECandidateEventData relays a candidate with sender identity substituted.
type ICECandidateEventData struct {
	SenderID  string          `json:"senderId"`
	Candidate json.RawMessage `json:"candidate"`
}

// CallEndedData announces call termination to the surviving party.
type CallEndedData struct {
	CallID  string `json:"callId"`
	EndedBy string `json:"endedBy"`
}

// CallRenegotiateEventData relays a renegotiation description with sender
// identity substituted.
type CallRenegotiateEventData struct {
	SenderID    string             `json:"senderId"`
	Role        string             `json:"role"`
	Description SessionDescription `json:"description"`
}
