//go:build linux && cgo

package media

import (
	"context"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/util"
)

// CaptureDevices acquires camera and microphone tracks via
// pion/mediadevices (V4L2 + malgo on Linux), encoded as VP8 + Opus.
type CaptureDevices struct {
	selector *mediadevices.CodecSelector
}

// NewCaptureDevices builds the VP8/Opus codec selector used for both
// capture and peer-connection codec registration.
func NewCaptureDevices() (*CaptureDevices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &CaptureDevices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// PopulateEngine registers the capture codecs on a MediaEngine so peer
// connections negotiate the same codecs the devices produce.
func (d *CaptureDevices) PopulateEngine(me *webrtc.MediaEngine) error {
	d.selector.Populate(me)
	return nil
}

// GetUserMedia opens camera and microphone. Acquisition tries video+audio
// first and degrades to video-only, then audio-only, so a busy microphone
// does not take the camera down with it (and vice versa). The context
// bounds the whole attempt; a stream that arrives after expiry is closed.
func (d *CaptureDevices) GetUserMedia(ctx context.Context) (Stream, error) {
	type result struct {
		stream Stream
		err    error
	}
	ch := make(chan result, 1)

	go func() {
		stream, err := d.capture()
		ch <- result{stream, err}
	}()

	select {
	case res := <-ch:
		return res.stream, res.err
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.stream != nil {
				res.stream.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (d *CaptureDevices) capture() (Stream, error) {
	attempts := []struct {
		video bool
		audio bool
		label string
	}{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only — some cameras expose an MJPEG node that
				// produces frames the VP8 encoder cannot digest.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		ms, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			util.LogDebug("media capture (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}

		raw := ms.GetTracks()
		tracks := make([]Track, 0, len(raw))
		for _, t := range raw {
			t.OnEnded(func(err error) {
				if err != nil {
					util.LogWarning("local track ended: %v", err)
				}
			})
			tracks = append(tracks, &deviceTrack{t: t, enabled: true})
		}
		util.LogInfo("local media captured (%s), %d tracks", a.label, len(tracks))
		return NewStream(tracks...), nil
	}

	return nil, lastErr
}

// deviceTrack wraps one mediadevices track with a mute flag. The flag
// records the state for the UI; the peer connection enforces it on the
// wire. The capture device keeps running until Close.
type deviceTrack struct {
	t mediadevices.Track

	mu      sync.Mutex
	enabled bool
}

func (d *deviceTrack) Kind() Kind {
	if d.t.Kind() == webrtc.RTPCodecTypeAudio {
		return KindAudio
	}
	return KindVideo
}

func (d *deviceTrack) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *deviceTrack) SetEnabled(on bool) {
	d.mu.Lock()
	d.enabled = on
	d.mu.Unlock()
}

func (d *deviceTrack) Local() webrtc.TrackLocal { return d.t }

func (d *deviceTrack) Close() error { return d.t.Close() }
