// Package call drives peer-to-peer media sessions: local capture, one peer
// link per remote party, and ICE failure recovery. Signaling is delegated to
// the realtime client through the Signaler interface.
package call

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// Facing selects which camera to open on devices that have more than one.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Opposite returns the other camera facing.
func (f Facing) Opposite() Facing {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

var (
	// ErrBusy is returned when a call is started while another is active.
	ErrBusy = errors.New("call: another call is active")
	// ErrCaptureUnsupported is returned on platforms without local capture
	// drivers. Calls still work receive-only.
	ErrCaptureUnsupported = errors.New("call: media capture not supported on this platform")
	// ErrNoCall is returned by in-call operations when no call is active.
	ErrNoCall = errors.New("call: no active call")
)

// Track is a local media track that can be attached to a peer connection and
// released when the call ends.
type Track interface {
	webrtc.TrackLocal
	Close() error
}

// Capturer opens local microphone and camera tracks.
type Capturer interface {
	CaptureAudio() (Track, error)
	CaptureVideo(facing Facing) (Track, error)
}

// MediaEnginePopulator is implemented by capturers whose tracks are encoded
// with a fixed codec set. The engine registers those codecs instead of the
// defaults when building peer connections.
type MediaEnginePopulator interface {
	Populate(*webrtc.MediaEngine) error
}
