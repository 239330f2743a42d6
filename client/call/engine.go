package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/sonu-tech-hub/mychat-rtc/internal/proto"
)

// Kind selects the media profile of a call.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ConnState is the coarse link health reported to the application.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnConnected  ConnState = "connected"
	ConnLost       ConnState = "lost"
)

// Signaler carries call signals to the server. The realtime client provides
// the concrete implementation.
type Signaler interface {
	Offer(ctx context.Context, recipientID string, offer proto.SessionDescription, callType string) error
	Answer(ctx context.Context, callID, callerID string, answer proto.SessionDescription, accepted bool) error
	Candidate(ctx context.Context, recipientID string, candidate json.RawMessage) error
	End(ctx context.Context, callID, recipientID string) error
	Renegotiate(ctx context.Context, recipientID, role string, description proto.SessionDescription) error
}

// Callbacks surface call events to the application. Any field may be nil.
type Callbacks struct {
	OnRemoteTrack func(peerID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	OnState       func(peerID string, state ConnState)
	OnEnded       func(callID string)
}

// Engine owns at most one active call: zero-or-one local capture stream and
// one peer link per remote party.
type Engine struct {
	sig        Signaler
	cap        Capturer
	cb         Callbacks
	log        *zerolog.Logger
	iceServers []webrtc.ICEServer

	mu         sync.Mutex
	active     bool
	callID     string
	kind       Kind
	facing     Facing
	audioTrack Track
	videoTrack Track
	audioMuted bool
	videoMuted bool
	links      map[string]*peerLink
}

// NewEngine builds an idle engine. A public STUN server is used unless
// WithICEServers overrides it.
func NewEngine(sig Signaler, capturer Capturer, cb Callbacks, logger *zerolog.Logger) *Engine {
	return &Engine{
		sig: sig,
		cap: capturer,
		cb:  cb,
		log: logger,
		iceServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		links: make(map[string]*peerLink),
	}
}

// WithICEServers replaces the default ICE server set. Call before StartCall.
func (e *Engine) WithICEServers(servers []webrtc.ICEServer) *Engine {
	e.iceServers = servers
	return e
}

// Active reports whether a call is in progress.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// StartCall places an outgoing call. Audio is always captured; video only
// for video calls. Capture failures degrade to a receive-only link rather
// than failing the call. The canonical call id is assigned by the server and
// adopted when the callAccepted signal arrives.
func (e *Engine) StartCall(ctx context.Context, recipientID string, kind Kind) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return ErrBusy
	}
	e.active = true
	e.kind = kind
	e.facing = FacingUser
	e.mu.Unlock()

	e.captureMedia(kind)

	link, err := e.newLink(ctx, recipientID, proto.RoleOfferer)
	if err != nil {
		e.Teardown()
		return err
	}

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		e.Teardown()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		e.Teardown()
		return fmt.Errorf("set local description: %w", err)
	}

	if err := e.sig.Offer(ctx, recipientID, proto.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, string(kind)); err != nil {
		e.Teardown()
		return err
	}
	return nil
}

// AcceptCall answers an incoming offer. Video capture is decided by the
// offer's call type.
func (e *Engine) AcceptCall(ctx context.Context, offer proto.CallOfferEventData) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return ErrBusy
	}
	e.active = true
	e.callID = offer.CallID
	e.kind = Kind(offer.CallType)
	e.facing = FacingUser
	e.mu.Unlock()

	e.captureMedia(Kind(offer.CallType))

	link, err := e.newLink(ctx, offer.CallerID, proto.RoleAnswerer)
	if err != nil {
		e.Teardown()
		return err
	}

	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(offer.Offer.Type),
		SDP:  offer.Offer.SDP,
	}); err != nil {
		e.Teardown()
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		e.Teardown()
		return fmt.Errorf("create answer: %w", err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		e.Teardown()
		return fmt.Errorf("set local description: %w", err)
	}

	if err := e.sig.Answer(ctx, offer.CallID, offer.CallerID, proto.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, true); err != nil {
		e.Teardown()
		return err
	}
	return nil
}

// RejectCall declines an incoming offer without engaging any media.
func (e *Engine) RejectCall(ctx context.Context, offer proto.CallOfferEventData) error {
	return e.sig.Answer(ctx, offer.CallID, offer.CallerID, proto.SessionDescription{}, false)
}

// HandleAccepted applies the remote answer on the caller side and adopts the
// server-assigned call id.
func (e *Engine) HandleAccepted(data proto.CallAcceptedData) error {
	e.mu.Lock()
	e.callID = data.CallID
	link := e.soleLink()
	e.mu.Unlock()
	if link == nil {
		return ErrNoCall
	}

	return link.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(data.Answer.Type),
		SDP:  data.Answer.SDP,
	})
}

// HandleRejected tears the pending call down.
func (e *Engine) HandleRejected(proto.CallRejectedData) {
	e.Teardown()
}

// HandleUnavailable tears the pending call down.
func (e *Engine) HandleUnavailable(proto.CallUnavailableData) {
	e.Teardown()
}

// HandleEnded tears down after the remote party hung up.
func (e *Engine) HandleEnded(proto.CallEndedData) {
	e.Teardown()
}

// HandleRemoteCandidate feeds a relayed ICE candidate into the matching link.
func (e *Engine) HandleRemoteCandidate(data proto.ICECandidateEventData) error {
	e.mu.Lock()
	link := e.links[data.SenderID]
	e.mu.Unlock()
	if link == nil {
		return ErrNoCall
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(data.Candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return link.pc.AddICECandidate(init)
}

// HandleRenegotiate applies a mid-call description. The sender declares its
// role explicitly; only the answerer side responds with a description.
func (e *Engine) HandleRenegotiate(ctx context.Context, data proto.CallRenegotiateEventData) error {
	e.mu.Lock()
	link := e.links[data.SenderID]
	e.mu.Unlock()
	if link == nil {
		return ErrNoCall
	}

	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(data.Description.Type),
		SDP:  data.Description.SDP,
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	if data.Role != proto.RoleOfferer {
		return nil
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return e.sig.Renegotiate(ctx, data.SenderID, proto.RoleAnswerer,
		proto.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP})
}

// ToggleAudio flips the microphone. Returns the new muted state.
func (e *Engine) ToggleAudio() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.audioMuted = !e.audioMuted
	for _, link := range e.links {
		if link.audioSender == nil {
			continue
		}
		if e.audioMuted {
			_ = link.audioSender.ReplaceTrack(nil)
		} else if e.audioTrack != nil {
			_ = link.audioSender.ReplaceTrack(e.audioTrack)
		}
	}
	return e.audioMuted
}

// ToggleVideo flips the camera. Returns the new disabled state.
func (e *Engine) ToggleVideo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.videoMuted = !e.videoMuted
	for _, link := range e.links {
		if link.videoSender == nil {
			continue
		}
		if e.videoMuted {
			_ = link.videoSender.ReplaceTrack(nil)
		} else if e.videoTrack != nil {
			_ = link.videoSender.ReplaceTrack(e.videoTrack)
		}
	}
	return e.videoMuted
}

// SwitchCamera swaps to the opposite-facing camera and replaces the outgoing
// track on every active link in place, without renegotiation.
func (e *Engine) SwitchCamera() error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return ErrNoCall
	}
	next := e.facing.Opposite()
	old := e.videoTrack
	e.mu.Unlock()

	track, err := e.cap.CaptureVideo(next)
	if err != nil {
		return fmt.Errorf("capture %s camera: %w", next, err)
	}

	e.mu.Lock()
	e.videoTrack = track
	e.facing = next
	muted := e.videoMuted
	links := e.snapshotLinks()
	e.mu.Unlock()

	if !muted {
		for _, link := range links {
			if link.videoSender != nil {
				if err := link.videoSender.ReplaceTrack(track); err != nil {
					e.log.Warn().Err(err).Str("peer_id", link.peerID).Msg("replace video track failed")
				}
			}
		}
	}
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// EndCall hangs up, signals the remote parties and tears down local state.
func (e *Engine) EndCall(ctx context.Context) {
	e.mu.Lock()
	callID := e.callID
	links := e.snapshotLinks()
	e.mu.Unlock()

	// A ringing outgoing call has no server id yet; local teardown is all
	// that can happen.
	if callID != "" {
		for _, link := range links {
			if err := e.sig.End(ctx, callID, link.peerID); err != nil {
				e.log.Warn().Err(err).Str("peer_id", link.peerID).Msg("end signal failed")
			}
		}
	}
	e.Teardown()
}

// Teardown closes every peer link, releases local media and resets in-call
// state. Idempotent.
func (e *Engine) Teardown() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	callID := e.callID
	e.callID = ""
	links := e.links
	e.links = make(map[string]*peerLink)
	audio, video := e.audioTrack, e.videoTrack
	e.audioTrack, e.videoTrack = nil, nil
	e.audioMuted, e.videoMuted = false, false
	e.mu.Unlock()

	for _, link := range links {
		link.close()
	}
	if audio != nil {
		_ = audio.Close()
	}
	if video != nil {
		_ = video.Close()
	}

	if e.cb.OnEnded != nil {
		e.cb.OnEnded(callID)
	}
}

// captureMedia acquires local tracks for the call kind. Failures degrade to
// receive-only instead of blocking the call.
func (e *Engine) captureMedia(kind Kind) {
	audio, err := e.cap.CaptureAudio()
	if err != nil {
		e.log.Warn().Err(err).Msg("audio capture failed, proceeding without microphone")
	}

	var video Track
	if kind == KindVideo {
		video, err = e.cap.CaptureVideo(FacingUser)
		if err != nil {
			e.log.Warn().Err(err).Msg("video capture failed, proceeding without camera")
		}
	}

	e.mu.Lock()
	e.audioTrack = audio
	e.videoTrack = video
	e.mu.Unlock()
}

// newLink builds a peer connection toward peerID, attaches local tracks (or
// receive-only transceivers) and registers it in the link table.
func (e *Engine) newLink(ctx context.Context, peerID, role string) (*peerLink, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if populator, ok := e.cap.(MediaEnginePopulator); ok {
		if err := populator.Populate(mediaEngine); err != nil {
			return nil, fmt.Errorf("populate media engine: %w", err)
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Generous ICE timeouts so a brief NAT hiccup does not end the call; the
	// default 5s disconnect window is too short for relay paths.
	settings := webrtc.SettingEngine{}
	settings.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	link := newPeerLink(peerID, role, pc)
	if err := e.attachTracks(link); err != nil {
		_ = pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		raw, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			return
		}
		if err := e.sig.Candidate(ctx, peerID, raw); err != nil {
			e.log.Warn().Err(err).Str("peer_id", peerID).Msg("candidate signal failed")
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if e.cb.OnRemoteTrack != nil {
			e.cb.OnRemoteTrack(peerID, track, receiver)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.handleICEState(ctx, link, state)
	})

	e.mu.Lock()
	e.links[peerID] = link
	e.mu.Unlock()
	return link, nil
}

// attachTracks adds the captured tracks to the link, falling back to
// receive-only transceivers so the SDP always carries valid m-lines.
func (e *Engine) attachTracks(link *peerLink) error {
	e.mu.Lock()
	audio, video, kind := e.audioTrack, e.videoTrack, e.kind
	e.mu.Unlock()

	if audio != nil {
		sender, err := link.pc.AddTrack(audio)
		if err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
		link.audioSender = sender
	} else if _, err := link.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	if video != nil {
		sender, err := link.pc.AddTrack(video)
		if err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		link.videoSender = sender
	} else if kind == KindVideo {
		if _, err := link.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add video transceiver: %w", err)
		}
	}
	return nil
}

// handleICEState runs the recovery ladder: report health changes, restart
// ICE on transient failures, renegotiate once through signaling, then give
// up and tear down.
func (e *Engine) handleICEState(ctx context.Context, link *peerLink, state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		e.emitState(link.peerID, ConnConnecting)

	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		link.markHealthy()
		e.emitState(link.peerID, ConnConnected)

	case webrtc.ICEConnectionStateDisconnected:
		e.emitState(link.peerID, ConnLost)
		if err := link.restartICE(); err != nil {
			e.log.Warn().Err(err).Str("peer_id", link.peerID).Msg("ice restart failed")
		}

	case webrtc.ICEConnectionStateFailed:
		e.emitState(link.peerID, ConnLost)
		if err := link.restartICE(); err != nil {
			e.log.Warn().Err(err).Str("peer_id", link.peerID).Msg("ice restart failed")
		}
		link.armRecovery(func() { e.recover(ctx, link) })

	case webrtc.ICEConnectionStateClosed:
		e.Teardown()
	}
}

// recover fires when a failed link did not self-heal within the grace
// period: one renegotiation attempt through signaling, then teardown.
func (e *Engine) recover(ctx context.Context, link *peerLink) {
	if link.pc.ICEConnectionState() != webrtc.ICEConnectionStateFailed {
		return
	}
	if !link.spendRenegotiation() {
		e.log.Warn().Str("peer_id", link.peerID).Msg("link unrecoverable, ending call")
		e.Teardown()
		return
	}

	offer, err := link.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		e.Teardown()
		return
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		e.Teardown()
		return
	}
	// Whoever sends the restart offer is the offerer of this renegotiation,
	// regardless of who offered the original call.
	if err := e.sig.Renegotiate(ctx, link.peerID, proto.RoleOfferer,
		proto.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}); err != nil {
		e.log.Warn().Err(err).Str("peer_id", link.peerID).Msg("renegotiate signal failed")
	}

	link.armRecovery(func() { e.recover(ctx, link) })
}

func (e *Engine) emitState(peerID string, state ConnState) {
	if e.cb.OnState != nil {
		e.cb.OnState(peerID, state)
	}
}

// soleLink returns the only link of a 1:1 call. Callers hold e.mu.
func (e *Engine) soleLink() *peerLink {
	for _, link := range e.links {
		return link
	}
	return nil
}

// snapshotLinks copies the link table. Callers hold e.mu.
func (e *Engine) snapshotLinks() []*peerLink {
	out := make([]*peerLink, 0, len(e.links))
	for _, link := range e.links {
		out = append(out, link)
	}
	return out
}
