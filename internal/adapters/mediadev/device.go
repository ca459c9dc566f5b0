// Package mediadev backs the capture abstraction with pion/mediadevices,
// reaching real cameras, microphones and screens through the registered
// platform drivers.
package mediadev

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/effects"
)

type Device struct{}

func New() *Device { return &Device{} }

// Capture opens camera (and optionally microphone) tracks for the given
// constraints. The context bounds the device negotiation only; the
// returned stream outlives it.
func (d *Device) Capture(ctx context.Context, c core.CaptureConstraints) (core.MediaStream, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			if c.IdealSizing {
				mc.Width = prop.IntRanged{Min: 320, Max: 4096, Ideal: c.Width}
				mc.Height = prop.IntRanged{Min: 240, Max: 2160, Ideal: c.Height}
			} else {
				mc.Width = prop.Int(c.Width)
				mc.Height = prop.Int(c.Height)
			}
			mc.FrameRate = prop.Float(30)
		},
	}
	if c.Audio {
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			mc.SampleRate = prop.Int(48000)
			mc.ChannelCount = prop.Int(1)
		}
	}
	// The drivers expose no processing knobs; suppression and echo
	// cancellation happen downstream in the audio graph.
	log.Debug().
		Str("module", "adapters.mediadev").
		Int("width", c.Width).Int("height", c.Height).
		Bool("audio", c.Audio).Bool("ideal", c.IdealSizing).
		Msg("opening capture")

	type result struct {
		s   mediadevices.MediaStream
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(constraints)
		done <- result{s, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.s != nil {
				closeAll(r.s)
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("get user media: %w", r.err)
		}
		return newStream(r.s), nil
	}
}

// CaptureDisplay opens a screen capture stream.
func (d *Device) CaptureDisplay(ctx context.Context) (core.MediaStream, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameRate = prop.Float(15)
		},
	}
	type result struct {
		s   mediadevices.MediaStream
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetDisplayMedia(constraints)
		done <- result{s, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.s != nil {
				closeAll(r.s)
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("get display media: %w", r.err)
		}
		return newStream(r.s), nil
	}
}

func closeAll(s mediadevices.MediaStream) {
	for _, t := range s.GetTracks() {
		t.Close()
	}
}

type stream struct {
	id     string
	inner  mediadevices.MediaStream
	tracks []core.MediaTrack

	once sync.Once
}

func newStream(s mediadevices.MediaStream) *stream {
	st := &stream{id: uuid.NewString(), inner: s}
	for _, t := range s.GetTracks() {
		st.tracks = append(st.tracks, &track{inner: t})
	}
	return st
}

func (s *stream) ID() string { return s.id }

func (s *stream) Tracks() []core.MediaTrack {
	return append([]core.MediaTrack(nil), s.tracks...)
}

func (s *stream) VideoTracks() []core.MediaTrack { return s.byKind(core.TrackVideo) }
func (s *stream) AudioTracks() []core.MediaTrack { return s.byKind(core.TrackAudio) }

func (s *stream) byKind(k core.TrackKind) []core.MediaTrack {
	var out []core.MediaTrack
	for _, t := range s.tracks {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

func (s *stream) StopAll() {
	s.once.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
	})
}

// FrameSource adapts the first video track to a frame reader for the
// effects compositor; nil when the stream carries no video.
func (s *stream) FrameSource() effects.FrameSource {
	for _, t := range s.inner.GetVideoTracks() {
		if vt, ok := t.(*mediadevices.VideoTrack); ok {
			return newFrameReader(vt)
		}
	}
	return nil
}

type track struct {
	inner mediadevices.Track

	mu     sync.Mutex
	closed bool
}

func (t *track) ID() string { return t.inner.ID() }

func (t *track) Kind() core.TrackKind {
	return core.TrackKind(t.inner.Kind().String())
}

func (t *track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if err := t.inner.Close(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.mediadev").Str("track", t.inner.ID()).Msg("track close failed")
	}
}

func (t *track) OnEnded(fn func()) {
	t.inner.OnEnded(func(error) {
		t.mu.Lock()
		already := t.closed
		t.closed = true
		t.mu.Unlock()
		if !already {
			fn()
		}
	})
}

// frameReader pulls decoded frames off a video track. Each frame stays
// valid until the next ReadFrame call.
type frameReader struct {
	mu      sync.Mutex
	reader  video.Reader
	release func()
}

func newFrameReader(vt *mediadevices.VideoTrack) *frameReader {
	return &frameReader{reader: vt.NewReader(false)}
}

func (r *frameReader) ReadFrame() (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.release != nil {
		r.release()
		r.release = nil
	}
	img, release, err := r.reader.Read()
	if err != nil {
		return nil, err
	}
	r.release = release
	return img, nil
}
