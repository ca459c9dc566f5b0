// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	// LocalParticipantID is reserved for the local user of a session.
	LocalParticipantID ParticipantID = "me"

	MaxDisplayNameLen = 64
)

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)

type ParticipantID string

// Participant is one member of a conference roster. The flags are
// independent booleans except IsPinned, which the roster keeps exclusive.
type Participant struct {
	ID             ParticipantID `json:"id"`
	Name           string        `json:"name"`
	Avatar         string        `json:"avatar"`
	IsVideoEnabled bool          `json:"isVideoEnabled"`
	IsAudioEnabled bool          `json:"isAudioEnabled"`
	IsScreenShared bool          `json:"isScreenSharing"`
	IsSpeaking     bool          `json:"isSpeaking"`
	IsPinned       bool          `json:"isPinned"`
}

// NewLocalParticipant builds the roster entry for the local user with
// camera and microphone assumed on, everything else off.
func NewLocalParticipant(name, avatar string) *Participant {
	return &Participant{
		ID:             LocalParticipantID,
		Name:           name,
		Avatar:         avatar,
		IsVideoEnabled: true,
		IsAudioEnabled: true,
	}
}

// NewRemoteParticipant avoids ad-hoc struct literals in adapters.
func NewRemoteParticipant(name, avatar string) (*Participant, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrNameTooLong
	}
	return &Participant{
		ID:     ParticipantID(uuid.NewString()),
		Name:   name,
		Avatar: avatar,
	}, nil
}
