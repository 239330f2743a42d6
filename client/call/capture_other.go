//go:build !linux || !cgo

package call

// stubCapturer reports capture as unsupported. Camera and microphone drivers
// are only wired for Linux (V4L2 and malgo); elsewhere the engine falls back
// to receive-only peer connections.
type stubCapturer struct{}

// NewCapturer builds the platform capturer.
func NewCapturer() (Capturer, error) {
	return stubCapturer{}, nil
}

func (stubCapturer) CaptureAudio() (Track, error) {
	return nil, ErrCaptureUnsupported
}

func (stubCapturer) CaptureVideo(Facing) (Track, error) {
	return nil, ErrCaptureUnsupported
}
