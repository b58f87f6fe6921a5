package call

// State is the lifecycle phase of a call session. A session walks
// Idle → AcquiringMedia → AwaitingOffer (callee) or Negotiating (caller)
// → Connected → Ending → Idle, once per call attempt.
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateAwaitingOffer
	StateNegotiating
	StateConnected
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// Role distinguishes the side that started the call from the side that
// accepted it.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)
