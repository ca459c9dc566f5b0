package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
	"github.com/dgrange/huddle/internal/effects"
)

// gate rejects a premium value for a non-entitled user. The failed
// attempt leaves settings untouched.
func (s *Session) gate(f core.Feature, premiumValue bool) error {
	if !premiumValue {
		return nil
	}
	if core.Allowed(f, s.opts.Entitled()) {
		return nil
	}
	s.notify(core.Notice{
		Title:       "Premium feature",
		Description: "Unlock premium access to use this feature",
		Variant:     core.NoticeDestructive,
	})
	return domain.ErrPremiumRequired
}

// SetVideoQuality changes capture resolution. HD and Full HD are
// premium tiers; the change takes effect through a fresh capture.
func (s *Session) SetVideoQuality(q domain.VideoQuality) error {
	if err := s.gate(core.FeatureHDVideo, q.Premium()); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings.VideoQuality = q
	s.mu.Unlock()
	log.Debug().Str("module", "app.session").Str("quality", string(q)).Msg("video quality set")
	go s.reacquireMedia()
	return nil
}

func (s *Session) SetNoiseSuppression(on bool) error {
	if err := s.gate(core.FeatureNoiseSuppression, on); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings.NoiseSuppression = on
	s.mu.Unlock()
	go s.reacquireMedia()
	return nil
}

func (s *Session) SetEchoCancellation(on bool) error {
	if err := s.gate(core.FeatureEchoCancellation, on); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings.EchoCancellation = on
	s.mu.Unlock()
	go s.reacquireMedia()
	return nil
}

// SetBackgroundEffect switches the video compositor between passthrough,
// blur and static replacement. The camera stream itself is untouched.
func (s *Session) SetBackgroundEffect(e domain.BackgroundEffect) error {
	if err := s.gate(core.FeatureBackgroundEffect, e.Premium()); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionEnded
	}
	s.settings.BackgroundEffect = e
	ctx := s.ctx
	s.mu.Unlock()

	stream := s.capture.Stream()
	var src effects.FrameSource
	if stream != nil {
		src = frameSourceOf(stream)
	}
	if ctx != nil {
		s.compositor.SetEffect(ctx, e, src)
	}
	log.Debug().Str("module", "app.session").Str("effect", string(e)).Msg("background effect set")
	return nil
}

// SetVoiceEffect builds the processing graph on a lazily created audio
// engine. The engine lives until the session ends and is never rebuilt.
func (s *Session) SetVoiceEffect(e domain.VoiceEffect) error {
	if err := s.gate(core.FeatureVoiceEffect, e.Premium()); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionEnded
	}
	s.settings.VoiceEffect = e
	if s.audioFX == nil && e != domain.VoiceNone {
		s.audioFX = effects.NewAudioEngine()
	}
	fx := s.audioFX
	s.mu.Unlock()

	if fx != nil {
		if err := fx.SetEffect(e); err != nil {
			return err
		}
	}
	log.Debug().Str("module", "app.session").Str("effect", string(e)).Msg("voice effect set")
	return nil
}

// AudioEngine exposes the processing graph for the signal layer; nil
// until a voice effect was first selected.
func (s *Session) AudioEngine() *effects.AudioEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioFX
}
