package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
)

// ScreenShare owns the display-media stream. Its lifecycle is
// independent of camera capture; only one share is live at a time.
type ScreenShare struct {
	device core.CaptureDevice

	mu      sync.Mutex
	stream  core.MediaStream
	gen     uint64 // bumped by Stop; invalidates pending acquisitions
	onEnded func()
}

func NewScreenShare(device core.CaptureDevice) *ScreenShare {
	return &ScreenShare{device: device}
}

// OnEnded registers the callback for the browser-driven "user stopped
// sharing via the native UI" event. It fires only for external ends,
// never for an explicit Stop.
func (s *ScreenShare) OnEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// Start acquires the display stream. The call may stay pending behind
// the permission dialog; a Stop issued meanwhile invalidates it, and
// the late resolution is stopped and discarded. A nil error with
// Active() false means exactly that superseded case.
func (s *ScreenShare) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		return domain.ErrAlreadySharing
	}
	gen := s.gen
	s.mu.Unlock()

	stream, err := s.device.CaptureDisplay(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		// Stopped while the permission dialog was up. Drop the tracks.
		s.mu.Unlock()
		stream.StopAll()
		log.Debug().Str("module", "app.screenshare").Uint64("gen", gen).Msg("stale display capture discarded")
		return nil
	}
	if s.stream != nil {
		// Lost the race with a concurrent Start.
		s.mu.Unlock()
		stream.StopAll()
		return domain.ErrAlreadySharing
	}
	s.stream = stream
	s.mu.Unlock()

	for _, t := range stream.VideoTracks() {
		t.OnEnded(func() { s.externalEnd(stream) })
	}
	log.Info().Str("module", "app.screenshare").Str("stream", stream.ID()).Msg("screen share started")
	return nil
}

// Stop ends the share from the application side and invalidates any
// acquisition still pending. Idempotent.
func (s *ScreenShare) Stop() {
	s.mu.Lock()
	s.gen++
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream != nil {
		stream.StopAll()
		log.Info().Str("module", "app.screenshare").Str("stream", stream.ID()).Msg("screen share stopped")
	}
}

// externalEnd handles an end-of-stream the user triggered outside this
// UI. The registered callback runs only if the ending stream is still
// the current one.
func (s *ScreenShare) externalEnd(ended core.MediaStream) {
	s.mu.Lock()
	if s.stream != ended {
		s.mu.Unlock()
		return
	}
	s.stream = nil
	fn := s.onEnded
	s.mu.Unlock()

	ended.StopAll()
	log.Info().Str("module", "app.screenshare").Str("stream", ended.ID()).Msg("screen share ended by user")
	if fn != nil {
		fn()
	}
}

func (s *ScreenShare) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

func (s *ScreenShare) Stream() core.MediaStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}
