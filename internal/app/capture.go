// Package app wires the conference session together: the phase machine,
// device capture, screen share, effect pipelines and premium features.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
)

// PreviewSink is where the local capture lands for rendering.
type PreviewSink interface {
	SetStream(core.MediaStream)
	Clear()
}

// ConstraintsFor computes the concrete device request from settings.
// Premium sizing tiers use ideal rather than exact dimensions; with
// entitlement false the audio object carries no processing flags, and
// with audio disabled no audio track is requested at all.
func ConstraintsFor(s domain.MediaSettings, audioEnabled, entitled bool) core.CaptureConstraints {
	c := core.CaptureConstraints{Width: 640, Height: 480, Audio: audioEnabled}
	if entitled {
		switch s.VideoQuality {
		case domain.QualityHD:
			c.Width, c.Height, c.IdealSizing = 1280, 720, true
		case domain.QualityFullHD:
			c.Width, c.Height, c.IdealSizing = 1920, 1080, true
		}
		if audioEnabled {
			c.NoiseSuppression = s.NoiseSuppression
			c.EchoCancellation = s.EchoCancellation
		}
	}
	return c
}

// CaptureManager owns the camera+microphone stream exclusively: exactly
// one live track set at a time, released on every exit path.
type CaptureManager struct {
	device  core.CaptureDevice
	preview PreviewSink

	mu     sync.Mutex
	stream core.MediaStream
	gen    uint64 // last requested configuration generation
}

func NewCaptureManager(device core.CaptureDevice, preview PreviewSink) *CaptureManager {
	return &CaptureManager{device: device, preview: preview}
}

// Acquire requests a fresh capture for the given constraints. The call
// may stay pending behind a permission dialog; if the configuration
// changes again meanwhile, the stale resolution is stopped and
// discarded (last-requested-setting-wins). On failure the prior stream
// is left untouched.
func (m *CaptureManager) Acquire(ctx context.Context, c core.CaptureConstraints) (core.MediaStream, error) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	stream, err := m.device.Capture(ctx, c)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		// A newer request superseded this one while the permission
		// dialog was up. Not an error; just drop the tracks.
		stream.StopAll()
		log.Debug().Str("module", "app.capture").Uint64("gen", gen).Msg("stale capture discarded")
		return nil, nil
	}
	old := m.stream
	m.stream = stream
	m.mu.Unlock()

	// Never leak the previous track set.
	if old != nil {
		old.StopAll()
	}
	if m.preview != nil {
		m.preview.SetStream(stream)
	}
	log.Info().Str("module", "app.capture").Str("stream", stream.ID()).Int("w", c.Width).Int("h", c.Height).Bool("audio", c.Audio).Msg("capture acquired")
	return stream, nil
}

// Release stops all tracks of the current stream. Idempotent.
func (m *CaptureManager) Release() {
	m.mu.Lock()
	m.gen++ // invalidate any in-flight acquisition
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream != nil {
		stream.StopAll()
		log.Info().Str("module", "app.capture").Str("stream", stream.ID()).Msg("capture released")
	}
	if m.preview != nil {
		m.preview.Clear()
	}
}

// Stream returns the live stream, if any.
func (m *CaptureManager) Stream() core.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Active reports whether a track set is live.
func (m *CaptureManager) Active() bool {
	return m.Stream() != nil
}

// classifyCaptureErr folds device errors onto the two recoverable
// categories the session reports to the user.
func classifyCaptureErr(err error) error {
	if errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrDeviceUnavailable) {
		return err
	}
	return domain.ErrDeviceUnavailable
}
