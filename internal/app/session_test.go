package app

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
	"github.com/dgrange/huddle/internal/effects"
)

type fakeTrack struct {
	id   string
	kind core.TrackKind

	mu      sync.Mutex
	stopped bool
	onEnded func()
}

func (t *fakeTrack) ID() string          { return t.id }
func (t *fakeTrack) Kind() core.TrackKind { return t.kind }

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *fakeTrack) endExternally() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeStream struct {
	id     string
	tracks []*fakeTrack

	mu      sync.Mutex
	stopped bool
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []core.MediaTrack {
	out := make([]core.MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) VideoTracks() []core.MediaTrack { return s.byKind(core.TrackVideo) }
func (s *fakeStream) AudioTracks() []core.MediaTrack { return s.byKind(core.TrackAudio) }

func (s *fakeStream) byKind(k core.TrackKind) []core.MediaTrack {
	var out []core.MediaTrack
	for _, t := range s.tracks {
		if t.kind == k {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeStream) StopAll() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	for _, t := range s.tracks {
		t.Stop()
	}
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type staticFrames struct{}

func (staticFrames) ReadFrame() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func (s *fakeStream) FrameSource() effects.FrameSource { return staticFrames{} }

type fakeDevice struct {
	mu       sync.Mutex
	captures int
	displays int
	err      error
	streams  []*fakeStream
	lastC    core.CaptureConstraints
}

func newCameraStream(audio bool) *fakeStream {
	s := &fakeStream{id: "cam", tracks: []*fakeTrack{{id: "v", kind: core.TrackVideo}}}
	if audio {
		s.tracks = append(s.tracks, &fakeTrack{id: "a", kind: core.TrackAudio})
	}
	return s
}

func (d *fakeDevice) Capture(ctx context.Context, c core.CaptureConstraints) (core.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.captures++
	d.lastC = c
	s := newCameraStream(c.Audio)
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) CaptureDisplay(ctx context.Context) (core.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.displays++
	s := &fakeStream{id: "display", tracks: []*fakeTrack{{id: "sv", kind: core.TrackVideo}}}
	d.streams = append(d.streams, s)
	return s, nil
}

// liveStreams counts streams that have not been stopped.
func (d *fakeDevice) liveStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		if !s.isStopped() {
			n++
		}
	}
	return n
}

func (d *fakeDevice) lastConstraints() core.CaptureConstraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastC
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []core.Notice
}

func (n *recordingNotifier) Notify(notice core.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.notices))
	for i, notice := range n.notices {
		out[i] = notice.Title
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSession(entitled bool) (*Session, *fakeDevice, *recordingNotifier) {
	dev := &fakeDevice{}
	not := &recordingNotifier{}
	s := NewSession(SessionOptions{
		Device:       dev,
		Notifier:     not,
		ConnectDelay: 5 * time.Millisecond,
		Entitled:     func() bool { return entitled },
	})
	return s, dev, not
}

func openConnected(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Open(context.Background(), domain.WalletUser{Address: "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, "connected", func() bool { return s.Phase() == domain.PhaseConnected })
}

func TestSessionConnectFlow(t *testing.T) {
	s, dev, _ := newTestSession(false)
	if s.Phase() != domain.PhaseIdle {
		t.Fatalf("phase = %s", s.Phase())
	}
	if err := s.Open(context.Background(), domain.WalletUser{}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Phase() != domain.PhaseConnecting {
		t.Fatalf("phase = %s", s.Phase())
	}
	waitFor(t, "connected", func() bool { return s.Phase() == domain.PhaseConnected })
	waitFor(t, "capture", func() bool { return dev.liveStreams() == 1 })

	if got := s.Participants(); len(got) != 1 || got[0].ID != domain.LocalParticipantID {
		t.Fatalf("roster = %+v", got)
	}

	// Opening twice is a transition error.
	if err := s.Open(context.Background(), domain.WalletUser{}); !errors.Is(err, domain.ErrBadTransition) {
		t.Errorf("second open: %v", err)
	}
}

func TestSessionEndTearsDown(t *testing.T) {
	s, dev, _ := newTestSession(false)
	openConnected(t, s)
	waitFor(t, "capture", func() bool { return dev.liveStreams() == 1 })

	closed := false
	s.opts.OnClose = func() { closed = true }

	if err := s.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if s.Phase() != domain.PhaseEnded {
		t.Errorf("phase = %s", s.Phase())
	}
	if s.Duration() != 0 {
		t.Errorf("duration = %d", s.Duration())
	}
	if dev.liveStreams() != 0 {
		t.Errorf("live streams = %d", dev.liveStreams())
	}
	if len(s.Participants()) != 0 {
		t.Error("roster should be empty")
	}
	if !closed {
		t.Error("onClose not called")
	}

	if err := s.End(); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("double end: %v", err)
	}
	if err := s.ToggleVideo(); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("toggle after end: %v", err)
	}
}

func TestTogglesRejectedWhileIdle(t *testing.T) {
	s, _, _ := newTestSession(false)
	if err := s.ToggleVideo(); !errors.Is(err, domain.ErrNotInCall) {
		t.Errorf("video: %v", err)
	}
	if err := s.ToggleAudio(); !errors.Is(err, domain.ErrNotInCall) {
		t.Errorf("audio: %v", err)
	}
	if err := s.ToggleHandRaise(); !errors.Is(err, domain.ErrNotInCall) {
		t.Errorf("hand: %v", err)
	}
	if err := s.ToggleScreenShare(context.Background()); !errors.Is(err, domain.ErrNotInCall) {
		t.Errorf("share: %v", err)
	}
}

func TestToggleVideoParity(t *testing.T) {
	s, dev, _ := newTestSession(false)
	openConnected(t, s)
	waitFor(t, "capture", func() bool { return dev.liveStreams() == 1 })

	if err := s.ToggleVideo(); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	waitFor(t, "release", func() bool { return dev.liveStreams() == 0 })
	me, _ := s.Roster().Get(domain.LocalParticipantID)
	if me.IsVideoEnabled {
		t.Error("roster flag not mirrored")
	}

	if err := s.ToggleVideo(); err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	waitFor(t, "reacquire", func() bool { return dev.liveStreams() == 1 })
	me, _ = s.Roster().Get(domain.LocalParticipantID)
	if !me.IsVideoEnabled {
		t.Error("roster flag not mirrored back")
	}
}

func TestToggleAudioDropsAudioTrack(t *testing.T) {
	s, dev, _ := newTestSession(false)
	openConnected(t, s)
	waitFor(t, "capture", func() bool { return dev.liveStreams() == 1 })
	if !dev.lastConstraints().Audio {
		t.Fatal("audio should be requested initially")
	}

	if err := s.ToggleAudio(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	waitFor(t, "no audio requested", func() bool { return !dev.lastConstraints().Audio })
	waitFor(t, "single stream", func() bool { return dev.liveStreams() == 1 })
}

func TestPremiumSettingsGate(t *testing.T) {
	s, _, not := newTestSession(false)
	openConnected(t, s)

	if err := s.SetVideoQuality(domain.QualityHD); !errors.Is(err, domain.ErrPremiumRequired) {
		t.Fatalf("hd without key: %v", err)
	}
	if s.Settings().VideoQuality != domain.QualitySD {
		t.Error("failed attempt must not change settings")
	}
	if err := s.SetBackgroundEffect(domain.BackgroundBlur); !errors.Is(err, domain.ErrPremiumRequired) {
		t.Errorf("blur without key: %v", err)
	}
	if err := s.SetVoiceEffect(domain.VoiceRobot); !errors.Is(err, domain.ErrPremiumRequired) {
		t.Errorf("robot without key: %v", err)
	}
	if s.AudioEngine() != nil {
		t.Error("denied voice effect must not build an engine")
	}

	found := false
	for _, title := range not.titles() {
		if title == "Premium feature" {
			found = true
		}
	}
	if !found {
		t.Error("denial should notify")
	}

	// Resetting to defaults stays free.
	if err := s.SetVideoQuality(domain.QualitySD); err != nil {
		t.Errorf("sd: %v", err)
	}
	if err := s.SetBackgroundEffect(domain.BackgroundNone); err != nil {
		t.Errorf("none: %v", err)
	}
}

func TestPremiumSettingsApply(t *testing.T) {
	s, dev, _ := newTestSession(true)
	openConnected(t, s)
	waitFor(t, "capture", func() bool { return dev.liveStreams() == 1 })

	if err := s.SetVideoQuality(domain.QualityFullHD); err != nil {
		t.Fatalf("fullhd: %v", err)
	}
	waitFor(t, "fullhd constraints", func() bool {
		c := dev.lastConstraints()
		return c.Width == 1920 && c.Height == 1080 && c.IdealSizing
	})

	if err := s.SetVoiceEffect(domain.VoiceEcho); err != nil {
		t.Fatalf("echo: %v", err)
	}
	fx := s.AudioEngine()
	if fx == nil || fx.Effect() != domain.VoiceEcho {
		t.Fatal("audio engine not built")
	}

	// Changing effects reuses the same engine.
	if err := s.SetVoiceEffect(domain.VoiceDeep); err != nil {
		t.Fatalf("deep: %v", err)
	}
	if s.AudioEngine() != fx {
		t.Error("engine must be created once per session")
	}

	s.End()
	if !fx.Closed() {
		t.Error("engine must close with the session")
	}
}

func TestScreenShareLifecycle(t *testing.T) {
	s, dev, _ := newTestSession(false)
	openConnected(t, s)

	if err := s.ToggleScreenShare(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.ScreenSharing() {
		t.Fatal("sharing flag not set")
	}
	me, _ := s.Roster().Get(domain.LocalParticipantID)
	if !me.IsScreenShared {
		t.Error("roster flag not mirrored")
	}

	if err := s.ToggleScreenShare(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.ScreenSharing() {
		t.Error("sharing flag not cleared")
	}

	// Camera capture must survive both transitions.
	waitFor(t, "camera stream", func() bool { return dev.liveStreams() >= 1 })
}

func TestScreenShareEndsExternally(t *testing.T) {
	s, dev, _ := newTestSession(false)
	openConnected(t, s)
	if err := s.ToggleScreenShare(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	dev.mu.Lock()
	var display *fakeStream
	for _, st := range dev.streams {
		if st.id == "display" {
			display = st
		}
	}
	dev.mu.Unlock()
	if display == nil {
		t.Fatal("no display stream captured")
	}
	display.tracks[0].endExternally()

	waitFor(t, "sharing cleared", func() bool { return !s.ScreenSharing() })
	if !display.isStopped() {
		t.Error("display stream should be stopped")
	}
}

func TestSessionEndStopsEffectsAndShare(t *testing.T) {
	s, dev, _ := newTestSession(true)
	openConnected(t, s)
	waitFor(t, "capture", func() bool { return dev.liveStreams() == 1 })

	if err := s.SetBackgroundEffect(domain.BackgroundBlur); err != nil {
		t.Fatalf("blur: %v", err)
	}
	waitFor(t, "render loop", func() bool { return s.compositor.Running() })
	if err := s.ToggleScreenShare(context.Background()); err != nil {
		t.Fatalf("share: %v", err)
	}

	if err := s.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if dev.liveStreams() != 0 {
		t.Errorf("live streams = %d", dev.liveStreams())
	}
	if s.compositor.Running() {
		t.Error("render loop still running")
	}
	if s.ScreenSharing() {
		t.Error("sharing flag still set")
	}

	// Effects cannot restart the render loop on an ended session.
	if err := s.SetBackgroundEffect(domain.BackgroundBlur); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("effect after end: %v", err)
	}
	if s.compositor.Running() {
		t.Error("render loop restarted after end")
	}
}

// gatedDisplayDevice holds CaptureDisplay pending, like a permission
// dialog the user has not answered yet.
type gatedDisplayDevice struct {
	*fakeDevice
	gate chan struct{}

	mu      sync.Mutex
	pending bool
}

func (d *gatedDisplayDevice) CaptureDisplay(ctx context.Context) (core.MediaStream, error) {
	d.mu.Lock()
	d.pending = true
	d.mu.Unlock()
	<-d.gate
	return d.fakeDevice.CaptureDisplay(ctx)
}

func (d *gatedDisplayDevice) waiting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func TestScreenShareEndedWhilePending(t *testing.T) {
	dev := &gatedDisplayDevice{fakeDevice: &fakeDevice{}, gate: make(chan struct{})}
	s := NewSession(SessionOptions{
		Device:       dev,
		Notifier:     &recordingNotifier{},
		ConnectDelay: 5 * time.Millisecond,
		Entitled:     func() bool { return false },
	})
	openConnected(t, s)
	waitFor(t, "capture", func() bool { return dev.liveStreams() == 1 })

	done := make(chan error, 1)
	go func() { done <- s.ToggleScreenShare(context.Background()) }()
	waitFor(t, "pending display capture", func() bool { return dev.waiting() })

	if err := s.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	close(dev.gate)
	if err := <-done; err != nil && !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("toggle: %v", err)
	}

	// The late stream must be dropped, not adopted by the dead session.
	waitFor(t, "streams released", func() bool { return dev.liveStreams() == 0 })
	if s.ScreenSharing() {
		t.Error("sharing flag set after end")
	}
}

func TestCaptureFailureKeepsCall(t *testing.T) {
	s, dev, not := newTestSession(false)
	openConnected(t, s)
	waitFor(t, "capture", func() bool { return dev.liveStreams() == 1 })

	dev.mu.Lock()
	dev.err = errors.New("device busy")
	dev.mu.Unlock()

	if err := s.ToggleVideo(); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	waitFor(t, "release", func() bool { return dev.liveStreams() == 0 })
	if err := s.ToggleVideo(); err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	waitFor(t, "error notice", func() bool {
		for _, title := range not.titles() {
			if title == "Camera error" {
				return true
			}
		}
		return false
	})
	if s.Phase() != domain.PhaseConnected {
		t.Errorf("media failure must not end the call, phase = %s", s.Phase())
	}
}

func TestKickRules(t *testing.T) {
	s, _, _ := newTestSession(false)
	openConnected(t, s)
	remote, _ := domain.NewRemoteParticipant("Alice", "")
	s.Roster().Add(remote)

	if err := s.KickParticipant(remote.ID, false); !errors.Is(err, domain.ErrHostOnly) {
		t.Errorf("non-host kick: %v", err)
	}
	if err := s.KickParticipant(domain.LocalParticipantID, true); !errors.Is(err, domain.ErrKickSelf) {
		t.Errorf("self kick: %v", err)
	}
	if err := s.KickParticipant("ghost", true); !errors.Is(err, domain.ErrNoParticipant) {
		t.Errorf("ghost kick: %v", err)
	}
	if err := s.KickParticipant(remote.ID, true); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if _, ok := s.Roster().Get(remote.ID); ok {
		t.Error("participant not removed")
	}
}

func TestPictureInPictureKeepsEverything(t *testing.T) {
	s, dev, _ := newTestSession(false)
	openConnected(t, s)
	waitFor(t, "capture", func() bool { return dev.liveStreams() == 1 })

	s.SetPictureInPicture(true)
	if !s.PictureInPicture() {
		t.Fatal("pip flag not set")
	}
	if s.Phase() != domain.PhaseConnected {
		t.Error("pip must not change phase")
	}
	if dev.liveStreams() != 1 {
		t.Error("pip must not touch streams")
	}
	s.SetPictureInPicture(false)
	if s.PictureInPicture() {
		t.Error("pip flag not cleared")
	}
}

func TestHandRaiseToggle(t *testing.T) {
	s, _, _ := newTestSession(false)
	openConnected(t, s)
	if err := s.ToggleHandRaise(); err != nil || !s.HandRaised() {
		t.Fatalf("raise: %v raised=%v", err, s.HandRaised())
	}
	if err := s.ToggleHandRaise(); err != nil || s.HandRaised() {
		t.Fatalf("lower: %v raised=%v", err, s.HandRaised())
	}
}
