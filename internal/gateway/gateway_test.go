package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sonu-tech-hub/mychat-rtc/internal/auth"
	"github.com/sonu-tech-hub/mychat-rtc/internal/fault"
	"github.com/sonu-tech-hub/mychat-rtc/internal/presence"
	"github.com/sonu-tech-hub/mychat-rtc/internal/proto"
)

// recordingMessaging records which handler ran with which sender.
type recordingMessaging struct {
	calls []string
	fail  *fault.Error
}

func (r *recordingMessaging) note(op, userID string) *fault.Error {
	r.calls = append(r.calls, op+":"+userID)
	return r.fail
}

func (r *recordingMessaging) Send(_ context.Context, senderID string, _ proto.SendMessageData) *fault.Error {
	return r.note("send", senderID)
}
func (r *recordingMessaging) MarkRead(_ context.Context, readerID string, _ proto.MarkAsReadData) *fault.Error {
	return r.note("markRead", readerID)
}
func (r *recordingMessaging) Edit(_ context.Context, senderID string, _ proto.EditMessageData) *fault.Error {
	return r.note("edit", senderID)
}
func (r *recordingMessaging) Delete(_ context.Context, senderID string, _ proto.DeleteMessageData) *fault.Error {
	return r.note("delete", senderID)
}
func (r *recordingMessaging) Typing(_ context.Context, userID string, _ proto.TypingData, stopped bool) *fault.Error {
	if stopped {
		return r.note("stopTyping", userID)
	}
	return r.note("typing", userID)
}
func (r *recordingMessaging) SetStatus(_ context.Context, userID string, _ proto.SetStatusData) *fault.Error {
	return r.note("setStatus", userID)
}

type recordingCalls struct {
	calls []string
}

func (r *recordingCalls) note(op, userID string) *fault.Error {
	r.calls = append(r.calls, op+":"+userID)
	return nil
}

func (r *recordingCalls) Offer(_ context.Context, callerID string, _ proto.CallOfferData) *fault.Error {
	return r.note("offer", callerID)
}
func (r *recordingCalls) Answer(_ context.Context, userID string, _ proto.CallAnswerData) *fault.Error {
	return r.note("answer", userID)
}
func (r *recordingCalls) ICECandidate(_ context.Context, senderID string, _ proto.ICECandidateData) *fault.Error {
	return r.note("candidate", senderID)
}
func (r *recordingCalls) End(_ context.Context, userID string, _ proto.EndCallData) *fault.Error {
	return r.note("end", userID)
}
func (r *recordingCalls) Renegotiate(_ context.Context, senderID string, _ proto.CallRenegotiateData) *fault.Error {
	return r.note("renegotiate", senderID)
}

func newTestGateway() (*Gateway, *recordingMessaging, *recordingCalls) {
	logger := zerolog.Nop()
	g := New(presence.NewRegistry(), nil, nil, &logger)
	messaging := &recordingMessaging{}
	calls := &recordingCalls{}
	g.Attach(messaging, calls)
	return g, messaging, calls
}

func TestDispatchRoutesEveryInboundType(t *testing.T) {
	g, messaging, calls := newTestGateway()
	sess := newSession("c1", "u1", "alice", nil, func() {})

	tests := []struct {
		eventType string
		data      string
	}{
		{proto.InboundSendMessage, `{"recipientId":"u2","content":"hi"}`},
		{proto.InboundMarkAsRead, `{"messageIds":["m1"]}`},
		{proto.InboundEditMessage, `{"messageId":"m1","content":"hi!"}`},
		{proto.InboundDeleteMessage, `{"messageId":"m1"}`},
		{proto.InboundTyping, `{"recipientId":"u2"}`},
		{proto.InboundStopTyping, `{"recipientId":"u2"}`},
		{proto.InboundSetStatus, `{"status":"away"}`},
		{proto.InboundCallOffer, `{"recipientId":"u2","callType":"audio"}`},
		{proto.InboundCallAnswer, `{"callId":"k1","accepted":true}`},
		{proto.InboundICECandidate, `{"recipientId":"u2","candidate":{}}`},
		{proto.InboundEndCall, `{"callId":"k1","recipientId":"u2"}`},
		{proto.InboundCallRenegotiate, `{"recipientId":"u2","role":"offerer"}`},
	}
	for _, tt := range tests {
		inbound := proto.Inbound{Type: tt.eventType, Data: json.RawMessage(tt.data)}
		if ferr := g.dispatch(context.Background(), sess, inbound); ferr != nil {
			t.Fatalf("dispatch(%s) = %v", tt.eventType, ferr)
		}
	}

	wantMessaging := []string{"send:u1", "markRead:u1", "edit:u1", "delete:u1", "typing:u1", "stopTyping:u1", "setStatus:u1"}
	if len(messaging.calls) != len(wantMessaging) {
		t.Fatalf("messaging calls = %v, want %v", messaging.calls, wantMessaging)
	}
	for i := range wantMessaging {
		if messaging.calls[i] != wantMessaging[i] {
			t.Fatalf("messaging calls = %v, want %v", messaging.calls, wantMessaging)
		}
	}

	wantCalls := []string{"offer:u1", "answer:u1", "candidate:u1", "end:u1", "renegotiate:u1"}
	if len(calls.calls) != len(wantCalls) {
		t.Fatalf("call handler calls = %v, want %v", calls.calls, wantCalls)
	}
	for i := range wantCalls {
		if calls.calls[i] != wantCalls[i] {
			t.Fatalf("call handler calls = %v, want %v", calls.calls, wantCalls)
		}
	}
}

func TestDispatchRejectsUnknownType(t *testing.T) {
	g, _, _ := newTestGateway()
	sess := newSession("c1", "u1", "alice", nil, func() {})

	ferr := g.dispatch(context.Background(), sess, proto.Inbound{Type: "teleport", Data: json.RawMessage(`{}`)})
	if ferr == nil || ferr.Code != fault.CodeBadRequest {
		t.Fatalf("dispatch(teleport) = %v, want bad_request", ferr)
	}
}

func TestDispatchRejectsMalformedPayload(t *testing.T) {
	g, messaging, _ := newTestGateway()
	sess := newSession("c1", "u1", "alice", nil, func() {})

	ferr := g.dispatch(context.Background(), sess, proto.Inbound{
		Type: proto.InboundSendMessage,
		Data: json.RawMessage(`"not an object"`),
	})
	if ferr == nil || ferr.Code != fault.CodeBadRequest {
		t.Fatalf("malformed payload = %v, want bad_request", ferr)
	}
	if len(messaging.calls) != 0 {
		t.Fatalf("handler must not run on malformed payload, got %v", messaging.calls)
	}
}

func TestHandlerFaultGoesBackToOriginOnly(t *testing.T) {
	g, messaging, _ := newTestGateway()
	messaging.fail = fault.PermissionDenied("nope")

	sess := newSession("c1", "u1", "alice", nil, func() {})
	g.mu.Lock()
	g.sessions[sess.connID] = sess
	g.mu.Unlock()
	g.registry.Register("u1", "c1")

	other := newSession("c2", "u2", "bob", nil, func() {})
	g.mu.Lock()
	g.sessions[other.connID] = other
	g.mu.Unlock()
	g.registry.Register("u2", "c2")

	ferr := g.dispatch(context.Background(), sess, proto.Inbound{
		Type: proto.InboundEditMessage,
		Data: json.RawMessage(`{"messageId":"m1","content":"x"}`),
	})
	if ferr == nil || ferr.Code != fault.CodePermissionDenied {
		t.Fatalf("dispatch = %v, want permission_denied", ferr)
	}

	// The read loop turns the fault into an error frame for the origin; no
	// other session sees anything.
	select {
	case ev := <-other.out:
		t.Fatalf("unexpected event for other session: %+v", ev)
	default:
	}
}

func TestUnicastAndBroadcast(t *testing.T) {
	g, _, _ := newTestGateway()

	a := newSession("c1", "u1", "alice", nil, func() {})
	b := newSession("c2", "u2", "bob", nil, func() {})
	for _, sess := range []*session{a, b} {
		g.mu.Lock()
		g.sessions[sess.connID] = sess
		g.mu.Unlock()
		g.registry.Register(sess.userID, sess.connID)
	}

	ev := proto.Outbound{Type: proto.OutboundUserStatus, Data: proto.UserStatusData{UserID: "u1", Status: "away"}}

	if !g.Unicast("u2", ev) {
		t.Fatalf("unicast to live session must succeed")
	}
	if got := <-b.out; got.Type != proto.OutboundUserStatus {
		t.Fatalf("got %+v", got)
	}
	if g.Unicast("ghost", ev) {
		t.Fatalf("unicast to unknown user must report false")
	}

	g.Broadcast(ev, "u1")
	select {
	case <-a.out:
		t.Fatalf("broadcast must skip the excluded user")
	default:
	}
	if got := <-b.out; got.Type != proto.OutboundUserStatus {
		t.Fatalf("got %+v", got)
	}
}

func TestSessionSendDropsWhenFull(t *testing.T) {
	sess := newSession("c1", "u1", "alice", nil, func() {})

	ev := proto.Outbound{Type: proto.OutboundUserStatus}
	for i := 0; i < outBuffer; i++ {
		if !sess.send(ev) {
			t.Fatalf("send %d must succeed", i)
		}
	}
	if sess.send(ev) {
		t.Fatalf("send into a full buffer must report false, not block")
	}
}

type fakeVerifier struct {
	claims *auth.Claims
	err    error
}

func (f *fakeVerifier) ValidateToken(string) (*auth.Claims, error) {
	return f.claims, f.err
}

func TestAuthenticateMapsFailuresToAuthFault(t *testing.T) {
	logger := zerolog.Nop()
	verifier := &fakeVerifier{claims: &auth.Claims{UserID: "u1", Username: "alice"}}
	g := New(presence.NewRegistry(), verifier, nil, &logger)

	r := httptest.NewRequest("GET", "/ws", nil)
	if _, ferr := g.authenticate(r); ferr == nil || ferr.Code != fault.CodeAuthFailed {
		t.Fatalf("missing token: got %v, want code %s", ferr, fault.CodeAuthFailed)
	}

	verifier.err = errors.New("token expired")
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer bad")
	if _, ferr := g.authenticate(r); ferr == nil || ferr.Code != fault.CodeAuthFailed {
		t.Fatalf("rejected token: got %v, want code %s", ferr, fault.CodeAuthFailed)
	}

	verifier.err = nil
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer good")
	claims, ferr := g.authenticate(r)
	if ferr != nil || claims.UserID != "u1" {
		t.Fatalf("header token: claims = %v, err = %v", claims, ferr)
	}

	r = httptest.NewRequest("GET", "/ws?token=good", nil)
	claims, ferr = g.authenticate(r)
	if ferr != nil || claims.UserID != "u1" {
		t.Fatalf("query token: claims = %v, err = %v", claims, ferr)
	}
}
