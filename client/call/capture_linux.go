//go:build linux && cgo

package call

import (
	"errors"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// mediaCapturer opens camera and microphone via pion/mediadevices (V4L2 and
// malgo). All tracks are encoded VP8/Opus through a shared codec selector.
type mediaCapturer struct {
	selector *mediadevices.CodecSelector
}

// NewCapturer builds the platform capturer.
func NewCapturer() (Capturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &mediaCapturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Populate registers the VP8/Opus codec set on the media engine so the peer
// connection negotiates exactly what the encoders produce.
func (m *mediaCapturer) Populate(engine *webrtc.MediaEngine) error {
	m.selector.Populate(engine)
	return nil
}

func (m *mediaCapturer) CaptureAudio() (Track, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: m.selector,
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("call: no audio track captured")
	}
	return tracks[0], nil
}

func (m *mediaCapturer) CaptureVideo(facing Facing) (Track, error) {
	deviceID := m.cameraFor(facing)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.StringExact(deviceID)
			}
			// Raw formats only. Some cameras expose an MJPEG node that
			// produces malformed frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			// Cap at 640x480 to keep VP8 encoding latency down.
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		},
		Codec: m.selector,
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("call: no video track captured")
	}
	return tracks[0], nil
}

// cameraFor maps a facing to a concrete camera. V4L2 does not report facing,
// so the first enumerated camera stands in for the user-facing one and the
// last for the environment-facing one. Empty means let the driver pick.
func (m *mediaCapturer) cameraFor(facing Facing) string {
	var cameras []string
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput {
			cameras = append(cameras, d.DeviceID)
		}
	}
	if len(cameras) == 0 {
		return ""
	}
	if facing == FacingEnvironment {
		return cameras[len(cameras)-1]
	}
	return cameras[0]
}
