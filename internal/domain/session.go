package domain

import "errors"

type SessionID string

type SessionPhase string

const (
	PhaseIdle       SessionPhase = "idle"
	PhaseConnecting SessionPhase = "connecting"
	PhaseConnected  SessionPhase = "connected"
	PhaseEnded      SessionPhase = "ended"
)

// CanAdvance reports whether to is a legal next phase. The machine only
// moves idle -> connecting -> connected -> ended; ended is terminal.
func (p SessionPhase) CanAdvance(to SessionPhase) bool {
	switch p {
	case PhaseIdle:
		return to == PhaseConnecting
	case PhaseConnecting:
		return to == PhaseConnected || to == PhaseEnded
	case PhaseConnected:
		return to == PhaseEnded
	}
	return false
}

var (
	ErrNotInCall     = errors.New("no active call")
	ErrSessionEnded  = errors.New("session already ended")
	ErrBadTransition = errors.New("illegal session phase transition")

	ErrPremiumRequired = errors.New("premium entitlement required")

	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")

	ErrKickSelf       = errors.New("cannot remove the local participant")
	ErrHostOnly       = errors.New("host only action")
	ErrNoParticipant  = errors.New("no such participant")
	ErrAlreadySharing = errors.New("screen share already active")
)
