//go:build !linux || !cgo

package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// CaptureDevices is a stub on platforms without mediadevices driver
// support. Peer connections still negotiate the default codecs so remote
// media can be received; local capture reports ErrCaptureUnsupported.
type CaptureDevices struct{}

func NewCaptureDevices() (*CaptureDevices, error) {
	return &CaptureDevices{}, nil
}

// PopulateEngine registers the default codecs.
func (d *CaptureDevices) PopulateEngine(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

// GetUserMedia always fails: there is no capture backend on this platform.
func (d *CaptureDevices) GetUserMedia(ctx context.Context) (Stream, error) {
	return nil, ErrCaptureUnsupported
}
