package call

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// recoveryGrace is how long a failed ICE transport gets to self-heal before
// the engine escalates to renegotiation, then to teardown.
const recoveryGrace = 3 * time.Second

// peerLink is one media connection to one remote party.
type peerLink struct {
	peerID string
	role   string // offerer or answerer
	pc     *webrtc.PeerConnection

	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender

	mu           sync.Mutex
	recovery     *time.Timer
	renegotiated bool
	closed       bool
}

func newPeerLink(peerID, role string, pc *webrtc.PeerConnection) *peerLink {
	return &peerLink{peerID: peerID, role: role, pc: pc}
}

// restartICE gathers fresh candidates on the existing link. The resulting
// local description goes out through the normal trickle path.
func (l *peerLink) restartICE() error {
	offer, err := l.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return err
	}
	return l.pc.SetLocalDescription(offer)
}

// armRecovery schedules fire after the grace period, replacing any pending
// timer.
func (l *peerLink) armRecovery(fire func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if l.recovery != nil {
		l.recovery.Stop()
	}
	l.recovery = time.AfterFunc(recoveryGrace, fire)
}

// markHealthy cancels pending recovery and re-arms the single renegotiation
// budget after a successful reconnect.
func (l *peerLink) markHealthy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recovery != nil {
		l.recovery.Stop()
		l.recovery = nil
	}
	l.renegotiated = false
}

// spendRenegotiation reports whether the one renegotiation attempt is still
// available and consumes it.
func (l *peerLink) spendRenegotiation() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.renegotiated {
		return false
	}
	l.renegotiated = true
	return true
}

// close tears the link down. Idempotent.
func (l *peerLink) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	if l.recovery != nil {
		l.recovery.Stop()
		l.recovery = nil
	}
	l.mu.Unlock()

	_ = l.pc.Close()
}
