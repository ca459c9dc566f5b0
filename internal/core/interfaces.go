package core

import (
	"context"

	"github.com/dgrange/huddle/internal/domain"
)

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// MediaTrack is one live hardware track. Stop must be safe to call twice.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	Stop()
	// OnEnded fires when the track ends outside of Stop, e.g. the user
	// hits the native "stop sharing" control.
	OnEnded(func())
}

// MediaStream groups the tracks of one capture. StopAll stops every
// track and is idempotent.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
	VideoTracks() []MediaTrack
	AudioTracks() []MediaTrack
	StopAll()
}

// CaptureConstraints is the concrete device request computed from
// MediaSettings. Audio=false means no audio track is requested at all,
// mirroring a boolean `audio: false` constraint.
type CaptureConstraints struct {
	Width       int
	Height      int
	IdealSizing bool // ideal rather than exact resolution
	Audio       bool
	// Passed through only when entitlement allows them; false means the
	// device default.
	NoiseSuppression bool
	EchoCancellation bool
}

// CaptureDevice abstracts the platform capture surface: the
// getUserMedia/getDisplayMedia pair. Calls may stay pending for an
// unbounded time (permission dialogs), hence the context.
type CaptureDevice interface {
	Capture(ctx context.Context, c CaptureConstraints) (MediaStream, error)
	CaptureDisplay(ctx context.Context) (MediaStream, error)
}

// Notifier is the user-visible, non-blocking notification surface.
// Implementations must never block the caller.
type Notifier interface {
	Notify(n Notice)
}

type NoticeVariant string

const (
	NoticeInfo        NoticeVariant = "info"
	NoticeDestructive NoticeVariant = "destructive"
)

type Notice struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Variant     NoticeVariant `json:"variant,omitempty"`
}

// KeyStatus is the entitlement oracle answer. Loading and a non-empty
// Err both read as not entitled; neither is fatal.
type KeyStatus struct {
	HasKey  bool
	Loading bool
	Err     string
}

// Entitled folds the tri-state down to the single gating boolean.
func (s KeyStatus) Entitled() bool {
	return s.HasKey && !s.Loading && s.Err == ""
}

// EntitlementOracle checks premium key ownership for an address.
type EntitlementOracle interface {
	KeyStatus(ctx context.Context, address string) KeyStatus
}

// SessionStore is the optional persistence collaborator: session-keyed
// participants and messages, read-all and append/update-one only.
type SessionStore interface {
	Participants(ctx context.Context, sid domain.SessionID) ([]domain.Participant, error)
	UpsertParticipant(ctx context.Context, sid domain.SessionID, p domain.Participant) error
	Messages(ctx context.Context, sid domain.SessionID) ([]domain.Message, error)
	AppendMessage(ctx context.Context, m domain.Message) error

	CreateInvite(ctx context.Context, inviter string) (domain.Invite, error)
	Invite(ctx context.Context, code string) (domain.Invite, error)

	Close() error
}
