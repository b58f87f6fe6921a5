// Package overlay is the call UI controller: it owns the fullscreen flag,
// the two render surfaces, and the mapping from user controls to call
// session operations. It holds no signaling logic and never mutates the
// peer connection — it only invokes session operations and reflects
// session flags.
package overlay

import (
	"sync"

	"github.com/1ureka/duet/internal/call"
	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/util"
)

// Session is the slice of the call session the overlay drives.
type Session interface {
	State() call.State
	AudioEnabled() bool
	VideoEnabled() bool
	PrimaryLocal() bool
	ToggleAudio() bool
	ToggleVideo() bool
	SwapPrimary()
	End()
}

// Surface is one of the two render targets. Attachment is a handle only;
// the stream itself stays owned by the session.
type Surface struct {
	Source   string // "local" or "remote"
	Attached bool
}

// Controller drives the call overlay.
type Controller struct {
	mu         sync.Mutex
	fullscreen bool
	sess       Session

	localAttached  bool
	remoteAttached bool
}

// New creates a controller with no active session. Narrow viewports
// default to fullscreen, mirroring how small screens should behave.
func New(narrow bool) *Controller {
	return &Controller{fullscreen: narrow}
}

// Attach binds an active session to the overlay.
func (c *Controller) Attach(sess Session) {
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
}

// Detach clears the session and both surfaces, returning the overlay to
// its pre-call shape. Called when the session reports teardown.
func (c *Controller) Detach() {
	c.mu.Lock()
	c.sess = nil
	c.localAttached = false
	c.remoteAttached = false
	c.mu.Unlock()
}

// Active reports whether a session is bound.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// ---------------------------------------------------------------------------
// Surfaces
// ---------------------------------------------------------------------------

// AttachLocal marks the local stream as available for rendering.
func (c *Controller) AttachLocal(media.Stream) {
	c.mu.Lock()
	c.localAttached = true
	c.mu.Unlock()
}

// AttachRemote marks remote media as available for rendering.
func (c *Controller) AttachRemote(media.Kind, string) {
	c.mu.Lock()
	c.remoteAttached = true
	c.mu.Unlock()
}

// Primary returns the surface currently holding the main view. The remote
// stream is primary by default; Swap flips it.
func (c *Controller) Primary() Surface {
	primary, _ := c.surfaces()
	return primary
}

// Secondary returns the smaller self-view surface.
func (c *Controller) Secondary() Surface {
	_, secondary := c.surfaces()
	return secondary
}

func (c *Controller) surfaces() (primary, secondary Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()

	local := Surface{Source: "local", Attached: c.localAttached}
	remote := Surface{Source: "remote", Attached: c.remoteAttached}
	if c.sess != nil && c.sess.PrimaryLocal() {
		return local, remote
	}
	return remote, local
}

// ---------------------------------------------------------------------------
// Controls
// ---------------------------------------------------------------------------

// ToggleFullscreen flips between fullscreen and minimized. Available
// regardless of call state.
func (c *Controller) ToggleFullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullscreen = !c.fullscreen
	return c.fullscreen
}

// Fullscreen reports the current overlay mode.
func (c *Controller) Fullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullscreen
}

// inCall reports whether call controls (mute, camera, end, swap) are
// available: only while the bound session is negotiating or connected.
func (c *Controller) inCall() (Session, bool) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil, false
	}
	switch sess.State() {
	case call.StateNegotiating, call.StateConnected:
		return sess, true
	default:
		return nil, false
	}
}

// ToggleAudio mutes/unmutes the call. Returns the new enabled state and
// whether the control was available.
func (c *Controller) ToggleAudio() (bool, bool) {
	sess, ok := c.inCall()
	if !ok {
		util.LogWarning("mute is only available during a call")
		return false, false
	}
	return sess.ToggleAudio(), true
}

// ToggleVideo switches the camera on/off for the call.
func (c *Controller) ToggleVideo() (bool, bool) {
	sess, ok := c.inCall()
	if !ok {
		util.LogWarning("camera toggle is only available during a call")
		return false, false
	}
	return sess.ToggleVideo(), true
}

// Swap exchanges the primary and secondary surfaces.
func (c *Controller) Swap() bool {
	sess, ok := c.inCall()
	if !ok {
		util.LogWarning("swap is only available during a call")
		return false
	}
	sess.SwapPrimary()
	return true
}

// EndCall ends the bound session. Before a call has started the only
// action is dismissing the overlay, which is the app's concern.
func (c *Controller) EndCall() bool {
	sess, ok := c.inCall()
	if !ok {
		util.LogWarning("no call to end")
		return false
	}
	sess.End()
	return true
}
