// Package gateway authenticates realtime connections, wires the protocol
// handlers, and exposes unicast/broadcast to the delivery and call services.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sonu-tech-hub/mychat-rtc/internal/auth"
	"github.com/sonu-tech-hub/mychat-rtc/internal/fault"
	"github.com/sonu-tech-hub/mychat-rtc/internal/presence"
	"github.com/sonu-tech-hub/mychat-rtc/internal/proto"
	"github.com/sonu-tech-hub/mychat-rtc/internal/store"
)

// Verifier maps a bearer token to participant claims.
type Verifier interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// MessagingHandler is the message-delivery handler group.
type MessagingHandler interface {
	Send(ctx context.Context, senderID string, data proto.SendMessageData) *fault.Error
	MarkRead(ctx context.Context, readerID string, data proto.MarkAsReadData) *fault.Error
	Edit(ctx context.Context, senderID string, data proto.EditMessageData) *fault.Error
	Delete(ctx context.Context, senderID string, data proto.DeleteMessageData) *fault.Error
	Typing(ctx context.Context, userID string, data proto.TypingData, stopped bool) *fault.Error
	SetStatus(ctx context.Context, userID string, data proto.SetStatusData) *fault.Error
}

// CallHandler is the call-signaling handler group.
type CallHandler interface {
	Offer(ctx context.Context, callerID string, data proto.CallOfferData) *fault.Error
	Answer(ctx context.Context, userID string, data proto.CallAnswerData) *fault.Error
	ICECandidate(ctx context.Context, senderID string, data proto.ICECandidateData) *fault.Error
	End(ctx context.Context, userID string, data proto.EndCallData) *fault.Error
	Renegotiate(ctx context.Context, senderID string, data proto.CallRenegotiateData) *fault.Error
}

// Gateway owns all live sessions. Different connections' events interleave
// freely; registry mutation is last-write-wins, so no global lock is held
// across handler calls.
type Gateway struct {
	registry *presence.Registry
	verifier Verifier
	users    store.UserStore
	log      *zerolog.Logger

	messaging MessagingHandler
	calls     CallHandler

	mu       sync.RWMutex
	sessions map[string]*session // connID -> session
}

// New builds a gateway. Handler groups are attached separately so the
// services can be constructed with the gateway as their event sender.
func New(registry *presence.Registry, verifier Verifier, users store.UserStore, logger *zerolog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		verifier: verifier,
		users:    users,
		log:      logger,
		sessions: make(map[string]*session),
	}
}

// Attach wires the messaging and call handler groups.
func (g *Gateway) Attach(messaging MessagingHandler, calls CallHandler) {
	g.messaging = messaging
	g.calls = calls
}

// Unicast delivers an event to the participant's active connection, if any.
func (g *Gateway) Unicast(userID string, ev proto.Outbound) bool {
	connID, online := g.registry.Lookup(userID)
	if !online {
		return false
	}

	g.mu.RLock()
	sess, ok := g.sessions[connID]
	g.mu.RUnlock()
	if !ok {
		return false
	}

	if !sess.send(ev) {
		g.log.Warn().Str("user_id", userID).Str("event", ev.Type).Msg("slow consumer, event dropped")
		return false
	}
	return true
}

// Broadcast delivers an event to every live connection except exceptUserID.
func (g *Gateway) Broadcast(ev proto.Outbound, exceptUserID string) {
	g.mu.RLock()
	targets := make([]*session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		if sess.userID != exceptUserID {
			targets = append(targets, sess)
		}
	}
	g.mu.RUnlock()

	for _, sess := range targets {
		if !sess.send(ev) {
			g.log.Warn().Str("user_id", sess.userID).Str("event", ev.Type).Msg("slow consumer, event dropped")
		}
	}
}

// ServeWS upgrades the HTTP request, authenticates the bearer credential and
// runs the connection until either side closes it.
func (g *Gateway) ServeWS(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error().Err(err).Msg("ws accept error")
		return
	}

	claims, authErr := g.authenticate(r)
	if authErr != nil {
		g.log.Debug().Err(authErr).Msg("ws authentication failed")
		writeCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		_ = wsjson.Write(writeCtx, conn, proto.Outbound{
			Type:  proto.OutboundError,
			Error: &proto.Error{Code: authErr.Code, Msg: authErr.Message},
		})
		cancel()
		_ = conn.Close(websocket.StatusPolicyViolation, authErr.Message)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := newSession(uuid.New().String(), claims.UserID, claims.Username, conn, cancel)
	g.register(ctx, sess)
	defer g.unregister(sess)

	errCh := make(chan error, 2)
	go func() {
		errCh <- g.readLoop(ctx, sess)
	}()
	go func() {
		errCh <- g.writeLoop(ctx, sess)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			g.log.Warn().Err(err).Str("user_id", sess.userID).Msg("ws connection closed with error")
		}
	}

	sess.close(status, reason)
}

// authenticate reads the bearer credential from the Authorization header or,
// for browser clients that cannot set headers on WebSocket, a token query
// parameter.
func (g *Gateway) authenticate(r *stdhttp.Request) (*auth.Claims, *fault.Error) {
	token := ""
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, fault.AuthFailed("missing bearer token")
	}
	claims, err := g.verifier.ValidateToken(token)
	if err != nil {
		return nil, fault.AuthFailed("invalid token")
	}
	return claims, nil
}

// register binds the session in the registry, closes any superseded socket,
// marks the participant online, broadcasts the change, and pushes the current
// presence snapshot to the new connection.
func (g *Gateway) register(ctx context.Context, sess *session) {
	prevConnID, superseded := g.registry.Register(sess.userID, sess.connID)

	g.mu.Lock()
	var prev *session
	if superseded {
		prev = g.sessions[prevConnID]
	}
	g.sessions[sess.connID] = sess
	g.mu.Unlock()

	if prev != nil {
		prev.close(websocket.StatusPolicyViolation, "superseded by newer connection")
		g.log.Debug().Str("user_id", sess.userID).Msg("superseded previous connection")
	}

	now := time.Now().UTC()
	if err := g.users.UpdatePresence(ctx, sess.userID, store.StatusOnline, now); err != nil {
		g.log.Warn().Err(err).Str("user_id", sess.userID).Msg("persist online status failed")
	}

	g.Broadcast(proto.Outbound{
		Type: proto.OutboundUserStatus,
		Data: proto.UserStatusData{UserID: sess.userID, Status: string(store.StatusOnline)},
	}, sess.userID)

	sess.send(proto.Outbound{
		Type: proto.OutboundOnlineUsers,
		Data: proto.OnlineUsersData{UserIDs: g.registry.Snapshot()},
	})

	g.log.Info().Str("user_id", sess.userID).Str("conn_id", sess.connID).Msg("participant connected")
}

// unregister mirrors register. When the mapping was already superseded by a
// newer connection the presence flip is skipped.
func (g *Gateway) unregister(sess *session) {
	g.mu.Lock()
	delete(g.sessions, sess.connID)
	g.mu.Unlock()

	if !g.registry.Unregister(sess.userID, sess.connID) {
		return
	}

	now := time.Now().UTC()
	// The request context is gone by teardown time; presence must still flip.
	if err := g.users.UpdatePresence(context.Background(), sess.userID, store.StatusOffline, now); err != nil {
		g.log.Warn().Err(err).Str("user_id", sess.userID).Msg("persist offline status failed")
	}

	g.Broadcast(proto.Outbound{
		Type: proto.OutboundUserStatus,
		Data: proto.UserStatusData{UserID: sess.userID, Status: string(store.StatusOffline)},
	}, sess.userID)

	g.log.Info().Str("user_id", sess.userID).Str("conn_id", sess.connID).Msg("participant disconnected")
}

func (g *Gateway) readLoop(ctx context.Context, sess *session) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, sess.conn, &inbound); err != nil {
			return err
		}

		if ferr := g.dispatch(ctx, sess, inbound); ferr != nil {
			sess.send(proto.Outbound{
				Type:  proto.OutboundError,
				Error: &proto.Error{Code: ferr.Code, Msg: ferr.Message},
			})
		}
	}
}

func (g *Gateway) writeLoop(ctx context.Context, sess *session) error {
	for {
		select {
		case ev := <-sess.out:
			if err := wsjson.Write(ctx, sess.conn, ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatch routes one inbound event. The inbound type set is closed; unknown
// types are a protocol error.
func (g *Gateway) dispatch(ctx context.Context, sess *session, inbound proto.Inbound) *fault.Error {
	switch inbound.Type {
	case proto.InboundSendMessage:
		var data proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed sendMessage payload")
		}
		return g.messaging.Send(ctx, sess.userID, data)

	case proto.InboundMarkAsRead:
		var data proto.MarkAsReadData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed markAsRead payload")
		}
		return g.messaging.MarkRead(ctx, sess.userID, data)

	case proto.InboundEditMessage:
		var data proto.EditMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed editMessage payload")
		}
		return g.messaging.Edit(ctx, sess.userID, data)

	case proto.InboundDeleteMessage:
		var data proto.DeleteMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed deleteMessage payload")
		}
		return g.messaging.Delete(ctx, sess.userID, data)

	case proto.InboundTyping, proto.InboundStopTyping:
		var data proto.TypingData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed typing payload")
		}
		return g.messaging.Typing(ctx, sess.userID, data, inbound.Type == proto.InboundStopTyping)

	case proto.InboundSetStatus:
		var data proto.SetStatusData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed setStatus payload")
		}
		return g.messaging.SetStatus(ctx, sess.userID, data)

	case proto.InboundCallOffer:
		var data proto.CallOfferData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed callOffer payload")
		}
		return g.calls.Offer(ctx, sess.userID, data)

	case proto.InboundCallAnswer:
		var data proto.CallAnswerData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed callAnswer payload")
		}
		return g.calls.Answer(ctx, sess.userID, data)

	case proto.InboundICECandidate:
		var data proto.ICECandidateData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed iceCandidate payload")
		}
		return g.calls.ICECandidate(ctx, sess.userID, data)

	case proto.InboundEndCall:
		var data proto.EndCallData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed endCall payload")
		}
		return g.calls.End(ctx, sess.userID, data)

	case proto.InboundCallRenegotiate:
		var data proto.CallRenegotiateData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return fault.BadRequest("malformed callRenegotiate payload")
		}
		return g.calls.Renegotiate(ctx, sess.userID, data)

	default:
		return fault.BadRequest("unknown event type: " + inbound.Type)
	}
}

// Shutdown closes every live connection.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	sessions := make([]*session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		sessions = append(sessions, sess)
	}
	g.mu.RUnlock()

	for _, sess := range sessions {
		sess.close(websocket.StatusGoingAway, "server shutting down")
	}
}
