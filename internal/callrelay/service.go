// Package callrelay is the server side of call negotiation: it relays
// offer/answer/ICE/end between two parties and owns the call ledger.
// Call status transitions are monotonic: ringing -> ongoing -> {ended,
// rejected, missed}.
package callrelay

import (
	"context"
	"errors"
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
	Unicast(userID string, ev proto.Outbound) bool
	Broadcast(ev proto.Outbound, exceptUserID string)
}

// Service relays call signals and owns the call ledger.
type Service struct {
	store    store.Store
	registry *presence.Registry
	events   EventSender
	push     *push.Queue
	log      *zerolog.Logger
	now      func() time.Time
}

// NewService builds the call relay.
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

// callTransitions lists the allowed successor states of each call status.
var callTransitions = map[store.CallStatus][]store.CallStatus{
	store.CallStatusRinging: {store.CallStatusOngoing, store.CallStatusRejected, store.CallStatusMissed, store.CallStatusEnded},
	store.CallStatusOngoing: {store.CallStatusEnded},
}

func canTransition(from, to store.CallStatus) bool {
	for _, allowed := range callTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Offer creates a ringing call and relays it to the recipient. When the
// recipient is offline the call immediately becomes missed, the caller is
// told "offline", and a missed-call push is enqueued. No automatic retry.
func (s *Service) Offer(ctx context.Context, callerID string, data proto.CallOfferData) *fault.Error {
	callType := store.CallType(data.CallType)
	if callType != store.CallTypeAudio && callType != store.CallTypeVideo {
		return fault.BadRequest("callType must be audio or video")
	}
	if data.RecipientID == callerID {
		return fault.BadRequest("cannot call yourself")
	}
	if _, err := s.store.GetUserByID(ctx, data.RecipientID); err != nil {
		return s.storeFault(err, "recipient not found")
	}

	call := &store.Call{
		ID:          uuid.New().String(),
		CallerID:    callerID,
		RecipientID: data.RecipientID,
		Type:        callType,
		Status:      store.CallStatusRinging,
		StartedAt:   s.now().UTC(),
	}
	if err := s.store.CreateCall(ctx, call); err != nil {
		return fault.Internal("create call")
	}

	if !s.registry.IsOnline(data.RecipientID) {
		call.Status = store.CallStatusMissed
		if err := s.store.UpdateCall(ctx, call); err != nil {
			s.log.Warn().Err(err).Str("call_id", call.ID).Msg("mark call missed failed")
		}
		s.events.Unicast(callerID, proto.Outbound{
			Type: proto.OutboundCallUnavailable,
			Data: proto.CallUnavailableData{CallID: call.ID, Reason: "offline"},
		})
		s.push.Enqueue(push.Notification{
			UserID: data.RecipientID,
			Kind:   push.KindMissedCall,
			Body:   "missed " + string(callType) + " call",
			Data:   map[string]string{"callId": call.ID, "callerId": callerID},
		})
		return nil
	}

	offer := proto.CallOfferEventData{
		CallID:   call.ID,
		CallerID: callerID,
		Offer:    data.Offer,
		CallType: string(callType),
	}
	if caller, err := s.store.GetUserByID(ctx, callerID); err == nil {
		offer.CallerName = caller.Username
		offer.CallerPhoto = caller.AvatarURL
	}
	s.events.Unicast(data.RecipientID, proto.Outbound{Type: proto.OutboundCallOffer, Data: offer})

	s.log.Debug().Str("call_id", call.ID).Str("caller", callerID).Str("recipient", data.RecipientID).Msg("call ringing")
	return nil
}

// Answer accepts or rejects a ringing call. The first answer wins: once the
// call has left ringing, further answers get a conflict.
func (s *Service) Answer(ctx context.Context, userID string, data proto.CallAnswerData) *fault.Error {
	call, err := s.store.GetCall(ctx, data.CallID)
	if err != nil {
		return s.storeFault(err, "call not found")
	}
	if call.RecipientID != userID {
		return fault.PermissionDenied("only the call recipient may answer")
	}
	if call.Status != store.CallStatusRinging {
		return fault.Conflict("call already answered")
	}

	if data.Accepted {
		answeredAt := s.now().UTC()
		call.Status = store.CallStatusOngoing
		call.AnsweredAt = &answeredAt
		if err := s.store.UpdateCall(ctx, call); err != nil {
			return fault.Internal("update call")
		}
		s.events.Unicast(call.CallerID, proto.Outbound{
			Type: proto.OutboundCallAccepted,
			Data: proto.CallAcceptedData{CallID: call.ID, Answer: data.Answer},
		})
		return nil
	}

	call.Status = store.CallStatusRejected
	endedAt := s.now().UTC()
	call.EndedAt = &endedAt
	if err := s.store.UpdateCall(ctx, call); err != nil {
		return fault.Internal("update call")
	}
	s.events.Unicast(call.CallerID, proto.Outbound{
		Type: proto.OutboundCallRejected,
		Data: proto.CallRejectedData{CallID: call.ID},
	})
	return nil
}

// ICECandidate is a pure relay: no ledger change, dropped silently when the
// recipient is offline.
func (s *Service) ICECandidate(_ context.Context, senderID string, data proto.ICECandidateData) *fault.Error {
	if !s.registry.IsOnline(data.RecipientID) {
		return nil
	}
	s.events.Unicast(data.RecipientID, proto.Outbound{
		Type: proto.OutboundICECandidate,
		Data: proto.ICECandidateEventData{SenderID: senderID, Candidate: data.Candidate},
	})
	return nil
}

// End terminates a call from any pre-terminal state, stamps duration, and
// relays to the other party if online. Ending an already-terminal call is a
// no-op so both sides may race to end.
func (s *Service) End(ctx context.Context, userID string, data proto.EndCallData) *fault.Error {
	call, err := s.store.GetCall(ctx, data.CallID)
	if err != nil {
		return s.storeFault(err, "call not found")
	}
	if call.CallerID != userID && call.RecipientID != userID {
		return fault.PermissionDenied("not a participant of this call")
	}
	if !canTransition(call.Status, store.CallStatusEnded) {
		return nil
	}

	endedAt := s.now().UTC()
	call.Status = store.CallStatusEnded
	call.EndedAt = &endedAt
	call.Duration = endedAt.Sub(call.StartedAt)
	if err := s.store.UpdateCall(ctx, call); err != nil {
		return fault.Internal("update call")
	}

	other := call.CallerID
	if userID == call.CallerID {
		other = call.RecipientID
	}
	if s.registry.IsOnline(other) {
		s.events.Unicast(other, proto.Outbound{
			Type: proto.OutboundCallEnded,
			Data: proto.CallEndedData{CallID: call.ID, EndedBy: userID},
		})
	}

	s.log.Debug().Str("call_id", call.ID).Dur("duration", call.Duration).Msg("call ended")
	return nil
}

// Renegotiate relays an ICE-restart description mid-call. Like candidates it
// carries no ledger change and is dropped when the peer is offline.
func (s *Service) Renegotiate(_ context.Context, senderID string, data proto.CallRenegotiateData) *fault.Error {
	if data.Role != proto.RoleOfferer && data.Role != proto.RoleAnswerer {
		return fault.BadRequest("role must be offerer or answerer")
	}
	if !s.registry.IsOnline(data.RecipientID) {
		return nil
	}
	s.events.Unicast(data.RecipientID, proto.Outbound{
		Type: proto.OutboundCallRenegotiate,
		Data: proto.CallRenegotiateEventData{
			SenderID:    senderID,
			Role:        data.Role,
			Description: data.Description,
		},
	})
	return nil
}

func (s *Service) storeFault(err error, msg string) *fault.Error {
	if errors.Is(err, store.ErrNotFound) {
		return fault.NotFound(msg)
	}
	return fault.Internal(msg)
}
