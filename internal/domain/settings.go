package domain

import "fmt"

type VideoQuality string

const (
	QualitySD     VideoQuality = "sd"
	QualityHD     VideoQuality = "hd"
	QualityFullHD VideoQuality = "fullhd"
)

// Premium reports whether the quality tier requires entitlement.
func (q VideoQuality) Premium() bool { return q != QualitySD }

func ParseVideoQuality(s string) (VideoQuality, error) {
	switch q := VideoQuality(s); q {
	case QualitySD, QualityHD, QualityFullHD:
		return q, nil
	}
	return "", fmt.Errorf("unknown video quality %q", s)
}

type BackgroundEffect string

const (
	BackgroundNone    BackgroundEffect = "none"
	BackgroundBlur    BackgroundEffect = "blur"
	BackgroundReplace BackgroundEffect = "replace"
)

func (e BackgroundEffect) Premium() bool { return e != BackgroundNone }

func ParseBackgroundEffect(s string) (BackgroundEffect, error) {
	switch e := BackgroundEffect(s); e {
	case BackgroundNone, BackgroundBlur, BackgroundReplace:
		return e, nil
	}
	return "", fmt.Errorf("unknown background effect %q", s)
}

type VoiceEffect string

const (
	VoiceNone     VoiceEffect = "none"
	VoiceRobot    VoiceEffect = "robot"
	VoiceChipmunk VoiceEffect = "chipmunk"
	VoiceDeep     VoiceEffect = "deep"
	VoiceEcho     VoiceEffect = "echo"
)

func (e VoiceEffect) Premium() bool { return e != VoiceNone }

func ParseVoiceEffect(s string) (VoiceEffect, error) {
	switch e := VoiceEffect(s); e {
	case VoiceNone, VoiceRobot, VoiceChipmunk, VoiceDeep, VoiceEcho:
		return e, nil
	}
	return "", fmt.Errorf("unknown voice effect %q", s)
}

// MediaSettings is the capture and effect configuration of a session.
// Every non-default field is premium-gated; the controller rejects sets
// while entitlement is false even though the UI disables the controls.
type MediaSettings struct {
	VideoQuality     VideoQuality     `json:"videoQuality"`
	NoiseSuppression bool             `json:"noiseSuppression"`
	EchoCancellation bool             `json:"echoCancellation"`
	BackgroundEffect BackgroundEffect `json:"backgroundEffect"`
	VoiceEffect      VoiceEffect      `json:"voiceEffect"`
}

func DefaultMediaSettings() MediaSettings {
	return MediaSettings{
		VideoQuality:     QualitySD,
		BackgroundEffect: BackgroundNone,
		VoiceEffect:      VoiceNone,
	}
}
