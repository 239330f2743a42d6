package client

import (
	"context"
	"encoding/json"

	"github.com/sonu-tech-hub/mychat-rtc/client/call"
	"github.com/sonu-tech-hub/mychat-rtc/internal/proto"
)

// Signaler returns a call.Signaler backed by this connection.
func (c *Client) Signaler() call.Signaler {
	return &wsSignaler{c: c}
}

type wsSignaler struct {
	c *Client
}

func (s *wsSignaler) Offer(ctx context.Context, recipientID string, offer proto.SessionDescription, callType string) error {
	return s.c.Send(ctx, proto.InboundCallOffer, proto.CallOfferData{
		RecipientID: recipientID,
		Offer:       offer,
		CallType:    callType,
	})
}

func (s *wsSignaler) Answer(ctx context.Context, callID, callerID string, answer proto.SessionDescription, accepted bool) error {
	return s.c.Send(ctx, proto.InboundCallAnswer, proto.CallAnswerData{
		CallID:   callID,
		CallerID: callerID,
		Answer:   answer,
		Accepted: accepted,
	})
}

func (s *wsSignaler) Candidate(ctx context.Context, recipientID string, candidate json.RawMessage) error {
	return s.c.Send(ctx, proto.InboundICECandidate, proto.ICECandidateData{
		RecipientID: recipientID,
		Candidate:   candidate,
	})
}

func (s *wsSignaler) End(ctx context.Context, callID, recipientID string) error {
	return s.c.Send(ctx, proto.InboundEndCall, proto.EndCallData{
		CallID:      callID,
		RecipientID: recipientID,
	})
}

func (s *wsSignaler) Renegotiate(ctx context.Context, recipientID, role string, description proto.SessionDescription) error {
	return s.c.Send(ctx, proto.InboundCallRenegotiate, proto.CallRenegotiateData{
		RecipientID: recipientID,
		Role:        role,
		Description: description,
	})
}

// AttachCallEngine subscribes the engine to the call signals arriving on the
// bus. Incoming callOffer events are left to the application, which rings the
// user and then calls AcceptCall or RejectCall. Returns an unsubscribe func.
func (c *Client) AttachCallEngine(ctx context.Context, engine *call.Engine) func() {
	offs := []func(){
		c.bus.On(proto.OutboundCallAccepted, func(payload any) {
			if data, ok := payload.(proto.CallAcceptedData); ok {
				if err := engine.HandleAccepted(data); err != nil {
					c.log.Warn().Err(err).Msg("apply call answer failed")
				}
			}
		}),
		c.bus.On(proto.OutboundCallRejected, func(payload any) {
			if data, ok := payload.(proto.CallRejectedData); ok {
				engine.HandleRejected(data)
			}
		}),
		c.bus.On(proto.OutboundCallUnavailable, func(payload any) {
			if data, ok := payload.(proto.CallUnavailableData); ok {
				engine.HandleUnavailable(data)
			}
		}),
		c.bus.On(proto.OutboundICECandidate, func(payload any) {
			if data, ok := payload.(proto.ICECandidateEventData); ok {
				if err := engine.HandleRemoteCandidate(data); err != nil {
					c.log.Warn().Err(err).Msg("apply remote candidate failed")
				}
			}
		}),
		c.bus.On(proto.OutboundCallEnded, func(payload any) {
			if data, ok := payload.(proto.CallEndedData); ok {
				engine.HandleEnded(data)
			}
		}),
		c.bus.On(proto.OutboundCallRenegotiate, func(payload any) {
			if data, ok := payload.(proto.CallRenegotiateEventData); ok {
				if err := engine.HandleRenegotiate(ctx, data); err != nil {
					c.log.Warn().Err(err).Msg("renegotiation failed")
				}
			}
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
