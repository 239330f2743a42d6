// Package delivery implements the message-delivery protocol: send, read
// receipts, edit/delete with offline fallback, and typing indicators.
// Every operation is an asynchronous relayed event; errors go back to the
// originating connection only.
package delivery

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sonu-tech-hub/mychat-rtc/internal/fault"
	"github.com/sonu-tech-hub/mychat-rtc/internal/presence"
	"github.com/sonu-tech-hub/mychat-rtc/internal/proto"
	"github.com/sonu-tech-hub/mychat-rtc/internal/push"
	"github.com/sonu-tech-hub/mychat-rtc/internal/store"
)

// EventSender relays outbound events to live connections. Implemented by the
// gateway.
type EventSender interface {
	// Unicast delivers the event to the participant's active connection.
	// Returns false when the participant has no live connection.
	Unicast(userID string, ev proto.Outbound) bool
	// Broadcast delivers the event to every live connection except exceptUserID.
	Broadcast(ev proto.Outbound, exceptUserID string)
}

// Service implements the delivery protocol. Unread counters and last-message
// pointers are mutated only here.
type Service struct {
	store    store.Store
	registry *presence.Registry
	events   EventSender
	push     *push.Queue
	log      *zerolog.Logger
	now      func() time.Time
}

// NewService builds the delivery service.
func NewService(st store.Store, registry *presence.Registry, events EventSender, pushQueue *push.Queue, logger *zerolog.Logger) *Service {
	return &Service{
		store:    st,
		registry: registry,
		events:   events,
		push:     pushQueue,
		log:      logger,
		now:      time.Now,
	}
}

// Send persists a message, updates the conversation aggregate, relays to
// online targets and enqueues pushes for offline ones. The sender always gets
// a messageSent ack carrying the canonical id.
func (s *Service) Send(ctx context.Context, senderID string, data proto.SendMessageData) *fault.Error {
	if (data.RecipientID == "") == (data.GroupID == "") {
		return fault.BadRequest("exactly one of recipientId and groupId is required")
	}
	if data.Content == "" && len(data.Attachments) == 0 {
		return fault.BadRequest("message content is empty")
	}

	msgType := store.MessageType(data.MsgType)
	if msgType == "" {
		msgType = store.MessageTypeText
	}

	msg := &store.Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		Content:     data.Content,
		Type:        msgType,
		Attachments: data.Attachments,
		State:       store.MessageStateActive,
		CreatedAt:   s.now().UTC(),
	}

	var recipients []string
	if data.GroupID != "" {
		if _, err := s.store.GetGroupByID(ctx, data.GroupID); err != nil {
			return s.storeFault(err, "group not found")
		}
		member, err := s.store.IsGroupMember(ctx, data.GroupID, senderID)
		if err != nil {
			return fault.Internal("check group membership")
		}
		if !member {
			return fault.PermissionDenied("sender is not a group member")
		}
		members, err := s.store.ListGroupMembers(ctx, data.GroupID)
		if err != nil {
			return fault.Internal("list group members")
		}
		for _, m := range members {
			if m != senderID {
				recipients = append(recipients, m)
			}
		}
		msg.GroupID = &data.GroupID
	} else {
		if _, err := s.store.GetUserByID(ctx, data.RecipientID); err != nil {
			return s.storeFault(err, "recipient not found")
		}
		recipientID := data.RecipientID
		msg.RecipientID = &recipientID
		recipients = []string{recipientID}
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return fault.Internal("save message")
	}

	// The multi-step aggregate update is deliberately non-transactional;
	// partial failure self-heals on the next fetch.
	key := msg.ConversationKey()
	if err := s.store.TouchConversation(ctx, key, msg.ID); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("touch conversation failed")
	}
	if err := s.store.IncrementUnread(ctx, key, recipients...); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("increment unread failed")
	}

	payload := s.messagePayload(ctx, msg)
	event := proto.Outbound{Type: proto.OutboundNewMessage, Data: payload}
	for _, recipientID := range recipients {
		if s.registry.IsOnline(recipientID) {
			s.events.Unicast(recipientID, event)
		} else {
			s.push.Enqueue(push.Notification{
				UserID: recipientID,
				Kind:   push.KindNewMessage,
				Title:  payload.SenderName,
				Body:   previewOf(msg),
				Data:   map[string]string{"messageId": msg.ID},
			})
		}
	}

	s.events.Unicast(senderID, proto.Outbound{
		Type: proto.OutboundMessageSent,
		Data: proto.MessageSentData{
			ID:        msg.ID,
			TempID:    data.TempID,
			CreatedAt: msg.CreatedAt.UnixMilli(),
		},
	})

	return nil
}

// MarkRead marks the given messages as read by readerID and resets the
// reader's unread counter per touched conversation. Direct messages emit one
// partitioned read receipt per original sender; group reads settle counters
// without fanout. Idempotent: already-read messages produce no second receipt.
func (s *Service) MarkRead(ctx context.Context, readerID string, data proto.MarkAsReadData) *fault.Error {
	readAt := s.now().UTC()
	bySender := make(map[string][]string)
	resetKeys := make(map[string]struct{})

	for _, id := range data.MessageIDs {
		msg, err := s.store.GetMessage(ctx, id)
		if err != nil {
			continue // unknown ids are skipped, not fatal
		}
		if msg.SenderID == readerID {
			continue
		}

		direct := msg.RecipientID != nil && *msg.RecipientID == readerID
		if !direct {
			if msg.GroupID == nil {
				continue
			}
			member, err := s.store.IsGroupMember(ctx, *msg.GroupID, readerID)
			if err != nil || !member {
				continue
			}
		}

		// The reader's counter settles even when another group member already
		// flipped the read flag.
		resetKeys[msg.ConversationKey()] = struct{}{}
		if msg.Read {
			continue
		}

		msg.Delivered = true
		if msg.DeliveredAt == nil {
			msg.DeliveredAt = &readAt
		}
		msg.Read = true
		msg.ReadAt = &readAt
		if err := s.store.UpdateMessage(ctx, msg); err != nil {
			s.log.Warn().Err(err).Str("message_id", id).Msg("mark read failed")
			continue
		}

		// Receipts fan out for direct messages only; group reads just settle
		// counters.
		if direct {
			bySender[msg.SenderID] = append(bySender[msg.SenderID], msg.ID)
		}
	}

	for key := range resetKeys {
		if err := s.store.ResetUnread(ctx, key, readerID); err != nil {
			s.log.Warn().Err(err).Str("conversation", key).Msg("reset unread failed")
		}
	}

	for senderID, ids := range bySender {
		sort.Strings(ids)
		if s.registry.IsOnline(senderID) {
			s.events.Unicast(senderID, proto.Outbound{
				Type: proto.OutboundMessagesRead,
				Data: proto.MessagesReadData{
					ReaderID:   readerID,
					MessageIDs: ids,
					ReadAt:     readAt.UnixMilli(),
				},
			})
		}
	}

	return nil
}

// Edit replaces message content. Only the original sender may edit, and only
// while the recipient has not read it; edit-after-read is a permission
// failure, never retried.
func (s *Service) Edit(ctx context.Context, senderID string, data proto.EditMessageData) *fault.Error {
	if data.Content == "" {
		return fault.BadRequest("edited content is empty")
	}

	msg, err := s.store.GetMessage(ctx, data.MessageID)
	if err != nil {
		return s.storeFault(err, "message not found")
	}
	if msg.State == store.MessageStateDeleted {
		return fault.NotFound("message has been deleted")
	}
	if msg.SenderID != senderID {
		return fault.PermissionDenied("only the sender may edit a message")
	}
	if msg.Read {
		return fault.PermissionDenied("message has already been read")
	}

	editedAt := s.now().UTC()
	msg.Content = data.Content
	msg.Edited = true
	msg.EditedAt = &editedAt
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return fault.Internal("update message")
	}

	s.relayToTargets(ctx, msg, proto.Outbound{
		Type: proto.OutboundMessageEdited,
		Data: proto.MessageEditedData{
			MessageID: msg.ID,
			Content:   msg.Content,
			EditedAt:  editedAt.UnixMilli(),
		},
	})

	return nil
}

// Delete removes a message. Unread messages are hard-purged so the id becomes
// invalid everywhere; read messages are soft-deleted with content cleared and
// the id preserved for index stability.
func (s *Service) Delete(ctx context.Context, senderID string, data proto.DeleteMessageData) *fault.Error {
	msg, err := s.store.GetMessage(ctx, data.MessageID)
	if err != nil {
		return s.storeFault(err, "message not found")
	}
	if msg.SenderID != senderID {
		return fault.PermissionDenied("only the sender may delete a message")
	}

	hard := msg.FullyDeletable()
	if hard {
		if err := s.store.DeleteMessage(ctx, msg.ID); err != nil {
			return fault.Internal("delete message")
		}
		// The purged message was never read, so each recipient's unread
		// counter still includes it.
		key := msg.ConversationKey()
		for _, recipientID := range s.recipientsOf(ctx, msg) {
			if err := s.store.DecrementUnread(ctx, key, recipientID); err != nil {
				s.log.Warn().Err(err).Str("conversation", key).Msg("decrement unread failed")
			}
		}
	} else {
		deletedAt := s.now().UTC()
		msg.Content = ""
		msg.Attachments = nil
		msg.State = store.MessageStateDeleted
		msg.DeletedAt = &deletedAt
		if err := s.store.UpdateMessage(ctx, msg); err != nil {
			return fault.Internal("update message")
		}
	}

	s.relayToTargets(ctx, msg, proto.Outbound{
		Type: proto.OutboundMessageDeleted,
		Data: proto.MessageDeletedData{MessageID: msg.ID, Hard: hard},
	})

	return nil
}

// Typing relays a fire-and-forget typing indicator: no persistence, no ack,
// no retry. Offline targets are skipped; the client side self-heals with a
// fixed expiry.
func (s *Service) Typing(ctx context.Context, userID string, data proto.TypingData, stopped bool) *fault.Error {
	eventType := proto.OutboundUserTyping
	if stopped {
		eventType = proto.OutboundUserStoppedTyping
	}
	ev := proto.Outbound{
		Type: eventType,
		Data: proto.UserTypingData{UserID: userID, GroupID: data.GroupID},
	}

	if data.GroupID != "" {
		members, err := s.store.ListGroupMembers(ctx, data.GroupID)
		if err != nil {
			return nil // fire-and-forget, nothing to report
		}
		for _, m := range members {
			if m != userID && s.registry.IsOnline(m) {
				s.events.Unicast(m, ev)
			}
		}
		return nil
	}

	if data.RecipientID != "" && s.registry.IsOnline(data.RecipientID) {
		s.events.Unicast(data.RecipientID, ev)
	}
	return nil
}

// SetStatus updates the participant's persisted status (online or away) and
// broadcasts the change. Offline is owned by the gateway teardown path.
func (s *Service) SetStatus(ctx context.Context, userID string, data proto.SetStatusData) *fault.Error {
	status := store.Status(data.Status)
	if status != store.StatusOnline && status != store.StatusAway {
		return fault.BadRequest("status must be online or away")
	}

	if err := s.store.UpdatePresence(ctx, userID, status, s.now().UTC()); err != nil {
		return fault.Internal("update presence")
	}

	s.events.Broadcast(proto.Outbound{
		Type: proto.OutboundUserStatus,
		Data: proto.UserStatusData{UserID: userID, Status: string(status)},
	}, userID)

	return nil
}

// History returns one page of conversation history, newest first, ordered by
// (createdAt, id).
func (s *Service) History(ctx context.Context, conversationKey string, limit int, beforeID *string) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, conversationKey, limit, beforeID)
}

// relayToTargets unicasts the event to every online counterpart of the message.
func (s *Service) relayToTargets(ctx context.Context, msg *store.Message, ev proto.Outbound) {
	for _, recipientID := range s.recipientsOf(ctx, msg) {
		if s.registry.IsOnline(recipientID) {
			s.events.Unicast(recipientID, ev)
		}
	}
}

func (s *Service) recipientsOf(ctx context.Context, msg *store.Message) []string {
	if msg.RecipientID != nil {
		return []string{*msg.RecipientID}
	}
	members, err := s.store.ListGroupMembers(ctx, *msg.GroupID)
	if err != nil {
		return nil
	}
	recipients := members[:0]
	for _, m := range members {
		if m != msg.SenderID {
			recipients = append(recipients, m)
		}
	}
	return recipients
}

func (s *Service) messagePayload(ctx context.Context, msg *store.Message) proto.MessagePayload {
	payload := proto.MessagePayload{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		Content:     msg.Content,
		MsgType:     string(msg.Type),
		Attachments: msg.Attachments,
		Edited:      msg.Edited,
		Deleted:     msg.State == store.MessageStateDeleted,
		CreatedAt:   msg.CreatedAt.UnixMilli(),
	}
	if msg.RecipientID != nil {
		payload.RecipientID = *msg.RecipientID
	}
	if msg.GroupID != nil {
		payload.GroupID = *msg.GroupID
	}
	if sender, err := s.store.GetUserByID(ctx, msg.SenderID); err == nil {
		payload.SenderName = sender.Username
	}
	return payload
}

func (s *Service) storeFault(err error, msg string) *fault.Error {
	if errors.Is(err, store.ErrNotFound) {
		return fault.NotFound(msg)
	}
	return fault.Internal(msg)
}

func previewOf(msg *store.Message) string {
	if msg.Content != "" {
		if len(msg.Content) > 120 {
			return msg.Content[:120]
		}
		return msg.Content
	}
	return string(msg.Type)
}
