package call

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonu-tech-hub/mychat-rtc/internal/proto"
)

type signal struct {
	op          string
	recipientID string
	callID      string
	role        string
	accepted    bool
	desc        proto.SessionDescription
}

type fakeSignaler struct {
	mu      sync.Mutex
	signals []signal
}

func (f *fakeSignaler) record(s signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, s)
}

func (f *fakeSignaler) byOp(op string) []signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []signal
	for _, s := range f.signals {
		if s.op == op {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSignaler) Offer(_ context.Context, recipientID string, offer proto.SessionDescription, callType string) error {
	f.record(signal{op: "offer", recipientID: recipientID, desc: offer, role: callType})
	return nil
}

func (f *fakeSignaler) Answer(_ context.Context, callID, callerID string, answer proto.SessionDescription, accepted bool) error {
	f.record(signal{op: "answer", callID: callID, recipientID: callerID, desc: answer, accepted: accepted})
	return nil
}

func (f *fakeSignaler) Candidate(_ context.Context, recipientID string, candidate json.RawMessage) error {
	f.record(signal{op: "candidate", recipientID: recipientID})
	return nil
}

func (f *fakeSignaler) End(_ context.Context, callID, recipientID string) error {
	f.record(signal{op: "end", callID: callID, recipientID: recipientID})
	return nil
}

func (f *fakeSignaler) Renegotiate(_ context.Context, recipientID, role string, description proto.SessionDescription) error {
	f.record(signal{op: "renegotiate", recipientID: recipientID, role: role, desc: description})
	return nil
}

// noCapture forces the receive-only path; peer connections still negotiate.
type noCapture struct{}

func (noCapture) CaptureAudio() (Track, error)       { return nil, ErrCaptureUnsupported }
func (noCapture) CaptureVideo(Facing) (Track, error) { return nil, ErrCaptureUnsupported }

func newTestEngine() (*Engine, *fakeSignaler) {
	logger := zerolog.Nop()
	sig := &fakeSignaler{}
	return NewEngine(sig, noCapture{}, Callbacks{}, &logger), sig
}

func TestStartCallEmitsOffer(t *testing.T) {
	engine, sig := newTestEngine()
	defer engine.Teardown()

	require.NoError(t, engine.StartCall(context.Background(), "peer-1", KindAudio))
	assert.True(t, engine.Active())

	offers := sig.byOp("offer")
	require.Len(t, offers, 1)
	assert.Equal(t, "peer-1", offers[0].recipientID)
	assert.Equal(t, "audio", offers[0].role)
	assert.Equal(t, "offer", offers[0].desc.Type)
	assert.NotEmpty(t, offers[0].desc.SDP)
}

func TestStartCallWhileActiveIsBusy(t *testing.T) {
	engine, _ := newTestEngine()
	defer engine.Teardown()

	require.NoError(t, engine.StartCall(context.Background(), "peer-1", KindAudio))
	assert.ErrorIs(t, engine.StartCall(context.Background(), "peer-2", KindAudio), ErrBusy)
}

func TestAcceptCallEmitsAnswer(t *testing.T) {
	// Build a real offer with a second engine so the answerer has a valid
	// remote description to work against.
	offerer, offererSig := newTestEngine()
	defer offerer.Teardown()
	require.NoError(t, offerer.StartCall(context.Background(), "peer-b", KindVideo))
	offer := offererSig.byOp("offer")[0].desc

	engine, sig := newTestEngine()
	defer engine.Teardown()

	require.NoError(t, engine.AcceptCall(context.Background(), proto.CallOfferEventData{
		CallID:   "call-1",
		CallerID: "peer-a",
		Offer:    offer,
		CallType: "video",
	}))
	assert.True(t, engine.Active())

	answers := sig.byOp("answer")
	require.Len(t, answers, 1)
	assert.True(t, answers[0].accepted)
	assert.Equal(t, "call-1", answers[0].callID)
	assert.Equal(t, "answer", answers[0].desc.Type)
	assert.NotEmpty(t, answers[0].desc.SDP)
}

func TestAcceptWhileActiveIsBusy(t *testing.T) {
	engine, _ := newTestEngine()
	defer engine.Teardown()

	require.NoError(t, engine.StartCall(context.Background(), "peer-1", KindAudio))
	err := engine.AcceptCall(context.Background(), proto.CallOfferEventData{
		CallID:   "call-2",
		CallerID: "peer-2",
		CallType: "audio",
	})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestRejectCallLeavesEngineIdle(t *testing.T) {
	engine, sig := newTestEngine()

	require.NoError(t, engine.RejectCall(context.Background(), proto.CallOfferEventData{
		CallID:   "call-1",
		CallerID: "peer-a",
		CallType: "audio",
	}))
	assert.False(t, engine.Active(), "rejecting engages no media")

	answers := sig.byOp("answer")
	require.Len(t, answers, 1)
	assert.False(t, answers[0].accepted)
}

func TestTeardownIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine()

	ended := 0
	engine.cb.OnEnded = func(string) { ended++ }

	require.NoError(t, engine.StartCall(context.Background(), "peer-1", KindAudio))
	engine.Teardown()
	engine.Teardown()
	engine.Teardown()

	assert.False(t, engine.Active())
	assert.Equal(t, 1, ended, "teardown callbacks must not repeat")
}

func TestEndCallSignalsPeersOnlyWithCanonicalID(t *testing.T) {
	engine, sig := newTestEngine()

	require.NoError(t, engine.StartCall(context.Background(), "peer-1", KindAudio))

	// Still ringing: no server-assigned id yet, so hanging up is local only.
	engine.EndCall(context.Background())
	assert.Empty(t, sig.byOp("end"))
	assert.False(t, engine.Active())

	// With the id adopted from callAccepted, ending signals the peer.
	require.NoError(t, engine.StartCall(context.Background(), "peer-1", KindAudio))
	engine.mu.Lock()
	engine.callID = "call-1"
	engine.mu.Unlock()

	engine.EndCall(context.Background())
	ends := sig.byOp("end")
	require.Len(t, ends, 1)
	assert.Equal(t, "call-1", ends[0].callID)
	assert.Equal(t, "peer-1", ends[0].recipientID)
}

func TestHandlersWithoutActiveCall(t *testing.T) {
	engine, _ := newTestEngine()

	err := engine.HandleRemoteCandidate(proto.ICECandidateEventData{
		SenderID:  "peer-1",
		Candidate: json.RawMessage(`{"candidate":""}`),
	})
	assert.ErrorIs(t, err, ErrNoCall)

	err = engine.HandleAccepted(proto.CallAcceptedData{CallID: "call-1"})
	assert.ErrorIs(t, err, ErrNoCall)

	assert.ErrorIs(t, engine.SwitchCamera(), ErrNoCall)

	// Terminal signals on an idle engine are harmless.
	engine.HandleEnded(proto.CallEndedData{CallID: "call-1"})
	engine.HandleRejected(proto.CallRejectedData{CallID: "call-1"})
}

func TestToggleAudioAndVideo(t *testing.T) {
	engine, _ := newTestEngine()
	defer engine.Teardown()

	require.NoError(t, engine.StartCall(context.Background(), "peer-1", KindVideo))

	assert.True(t, engine.ToggleAudio(), "first toggle mutes")
	assert.False(t, engine.ToggleAudio(), "second toggle unmutes")
	assert.True(t, engine.ToggleVideo())
	assert.False(t, engine.ToggleVideo())
}

func TestFacingOpposite(t *testing.T) {
	assert.Equal(t, FacingEnvironment, FacingUser.Opposite())
	assert.Equal(t, FacingUser, FacingEnvironment.Opposite())
}
