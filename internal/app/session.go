package app

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
	"github.com/dgrange/huddle/internal/effects"
)

// SessionOptions carries everything a session needs injected. Store is
// optional; everything else is required.
type SessionOptions struct {
	Device   core.CaptureDevice
	Notifier core.Notifier
	Store    core.SessionStore
	Preview  PreviewSink
	Surface  effects.Surface

	// ReplaceImage backs the background-replace effect; nil falls back
	// to a uniform fill.
	ReplaceImage image.Image

	// ConnectDelay simulates signaling; the session reports connected
	// after it elapses.
	ConnectDelay time.Duration

	// Entitled is the premium gate input, re-evaluated on every gated
	// operation so oracle refreshes are picked up.
	Entitled func() bool

	// OnClose is the external closing collaborator, called once after
	// End has torn everything down.
	OnClose func()

	RecordingDir string
}

// Session owns one conference call from open to end: the phase machine,
// duration clock, roster, capture and effect resources. All state
// transitions happen under one lock; capture resolutions and timer
// ticks re-enter through exported methods like any other event.
type Session struct {
	id   domain.SessionID
	opts SessionOptions

	capture    *CaptureManager
	share      *ScreenShare
	compositor *effects.Compositor
	roster     *core.Roster
	milestones *Milestones
	recorder   *Recorder
	transcript *Transcriber

	mu           sync.Mutex
	phase        domain.SessionPhase
	duration     int
	handRaised   bool
	sharing      bool
	pictureInPic bool
	panels       map[panel]bool
	videoOn      bool
	audioOn      bool
	settings     domain.MediaSettings
	audioFX      *effects.AudioEngine // lazy, once per session
	ctx          context.Context
	cancel       context.CancelFunc
	connectTimer *time.Timer
	clockStop    chan struct{}
	closed       bool

	// test seam; one second in production
	tickInterval time.Duration
}

func NewSession(opts SessionOptions) *Session {
	if opts.Entitled == nil {
		opts.Entitled = func() bool { return false }
	}
	s := &Session{
		id:           domain.SessionID(uuid.NewString()),
		opts:         opts,
		capture:      NewCaptureManager(opts.Device, opts.Preview),
		share:        NewScreenShare(opts.Device),
		roster:       core.NewRoster(),
		phase:        domain.PhaseIdle,
		videoOn:      true,
		audioOn:      true,
		settings:     domain.DefaultMediaSettings(),
		tickInterval: time.Second,
	}
	s.compositor = effects.NewCompositor(opts.Surface, opts.ReplaceImage)
	s.milestones = NewMilestones(opts.Notifier, opts.Entitled)
	s.recorder = NewRecorder(opts.RecordingDir)
	s.transcript = NewTranscriber(opts.Notifier)
	s.share.OnEnded(s.shareEndedExternally)
	return s
}

func (s *Session) ID() domain.SessionID { return s.id }

// Open moves idle -> connecting, seeds the roster with the local
// participant, and arms the simulated connect delay. Opening straight
// into picture-in-picture is not a session start.
func (s *Session) Open(ctx context.Context, user domain.WalletUser) error {
	s.mu.Lock()
	if s.phase != domain.PhaseIdle {
		phase := s.phase
		s.mu.Unlock()
		if phase == domain.PhaseEnded {
			return domain.ErrSessionEnded
		}
		return domain.ErrBadTransition
	}
	s.phase = domain.PhaseConnecting
	s.ctx, s.cancel = context.WithCancel(ctx)
	me := domain.NewLocalParticipant(displayName(user), avatarFor(user))
	delay := s.opts.ConnectDelay
	s.connectTimer = time.AfterFunc(delay, s.becomeConnected)
	s.mu.Unlock()

	s.roster.Add(me)
	s.persistParticipant(*me)
	log.Info().Str("module", "app.session").Str("session", string(s.id)).Str("user", user.Address).Msg("session opened")
	return nil
}

// becomeConnected fires off the connect timer: connecting -> connected,
// clock start, first capture acquisition.
func (s *Session) becomeConnected() {
	s.mu.Lock()
	if !s.phase.CanAdvance(domain.PhaseConnected) {
		s.mu.Unlock()
		return
	}
	s.phase = domain.PhaseConnected
	stop := make(chan struct{})
	s.clockStop = stop
	interval := s.tickInterval
	s.mu.Unlock()

	go s.runClock(stop, interval)
	s.notify(core.Notice{Title: "Meeting started", Description: "You are connected"})
	log.Info().Str("module", "app.session").Str("session", string(s.id)).Msg("connected")
	go s.reacquireMedia()
}

// runClock increments duration once per tick while connected and
// evaluates the unlock milestones. Frozen on every other phase.
func (s *Session) runClock(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.phase != domain.PhaseConnected {
				s.mu.Unlock()
				continue
			}
			s.duration++
			d := s.duration
			s.mu.Unlock()
			s.milestones.Observe(d)
		}
	}
}

// End is the only way out of a call: stops every device stream, resets
// the duration, clears the roster and reports to the closing
// collaborator. Media errors never call this; ending is always an
// explicit user or host action.
func (s *Session) End() error {
	s.mu.Lock()
	if s.phase == domain.PhaseEnded {
		s.mu.Unlock()
		return domain.ErrSessionEnded
	}
	if s.phase == domain.PhaseIdle {
		s.mu.Unlock()
		return domain.ErrNotInCall
	}
	s.phase = domain.PhaseEnded
	s.duration = 0
	s.sharing = false
	s.closed = true
	if s.connectTimer != nil {
		s.connectTimer.Stop()
	}
	if s.clockStop != nil {
		close(s.clockStop)
		s.clockStop = nil
	}
	fx := s.audioFX
	s.audioFX = nil
	cancel := s.cancel
	s.mu.Unlock()

	s.transcript.Stop()
	s.recorder.Abort()
	s.share.Stop()
	s.compositor.Stop()
	s.capture.Release()
	if fx != nil {
		fx.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.roster.Clear()

	s.notify(core.Notice{Title: "Call ended", Description: "Thank you for using the conference"})
	log.Info().Str("module", "app.session").Str("session", string(s.id)).Msg("ended")
	if s.opts.OnClose != nil {
		s.opts.OnClose()
	}
	return nil
}

func (s *Session) Phase() domain.SessionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Duration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// inCall rejects operations outside a live call; toggling from idle
// must not silently create a session.
func (s *Session) inCall() error {
	switch s.phase {
	case domain.PhaseIdle:
		return domain.ErrNotInCall
	case domain.PhaseEnded:
		return domain.ErrSessionEnded
	}
	return nil
}

// ToggleVideo flips the camera flag, mirrors it onto the local roster
// entry and re-acquires capture for the new configuration.
func (s *Session) ToggleVideo() error {
	s.mu.Lock()
	if err := s.inCall(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.videoOn = !s.videoOn
	on := s.videoOn
	s.mu.Unlock()

	s.roster.Update(domain.LocalParticipantID, func(p *domain.Participant) {
		p.IsVideoEnabled = on
	})
	if on {
		s.notify(core.Notice{Title: "Camera turned on", Description: "Your camera is now active"})
	} else {
		s.notify(core.Notice{Title: "Camera turned off", Description: "Your camera is now disabled"})
	}
	go s.reacquireMedia()
	return nil
}

// ToggleAudio flips the microphone flag. Audio off means the next
// capture requests no audio track at all.
func (s *Session) ToggleAudio() error {
	s.mu.Lock()
	if err := s.inCall(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.audioOn = !s.audioOn
	on := s.audioOn
	s.mu.Unlock()

	s.roster.Update(domain.LocalParticipantID, func(p *domain.Participant) {
		p.IsAudioEnabled = on
	})
	if on {
		s.notify(core.Notice{Title: "Microphone on", Description: "You can now speak"})
	} else {
		s.notify(core.Notice{Title: "Microphone muted", Description: "Your microphone is muted"})
	}
	go s.reacquireMedia()
	return nil
}

func (s *Session) ToggleHandRaise() error {
	s.mu.Lock()
	if err := s.inCall(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.handRaised = !s.handRaised
	raised := s.handRaised
	s.mu.Unlock()

	if raised {
		s.notify(core.Notice{Title: "Hand raised", Description: "You want to speak"})
	} else {
		s.notify(core.Notice{Title: "Hand lowered", Description: "You lowered your hand"})
	}
	return nil
}

func (s *Session) HandRaised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handRaised
}

// TogglePin pins participant id exclusively; re-pinning unpins.
func (s *Session) TogglePin(id domain.ParticipantID) error {
	s.mu.Lock()
	if err := s.inCall(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	pinned, ok := s.roster.TogglePin(id)
	if !ok {
		return domain.ErrNoParticipant
	}
	if pinned {
		s.notify(core.Notice{Title: "Participant pinned", Description: "Participant is now in main view"})
	} else {
		s.notify(core.Notice{Title: "Participant unpinned", Description: "Back to grid view"})
	}
	return nil
}

// KickParticipant removes a remote participant. Host only, and never
// the local entry.
func (s *Session) KickParticipant(id domain.ParticipantID, isHost bool) error {
	s.mu.Lock()
	if err := s.inCall(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if !isHost {
		return domain.ErrHostOnly
	}
	if id == domain.LocalParticipantID {
		return domain.ErrKickSelf
	}
	if !s.roster.Remove(id) {
		return domain.ErrNoParticipant
	}
	s.notify(core.Notice{Title: "Participant removed", Description: "Participant has been removed from the meeting"})
	return nil
}

// ToggleScreenShare starts or stops the display capture. Camera capture
// is untouched either way.
func (s *Session) ToggleScreenShare(ctx context.Context) error {
	s.mu.Lock()
	if err := s.inCall(); err != nil {
		s.mu.Unlock()
		return err
	}
	active := s.sharing
	s.mu.Unlock()

	if active {
		s.share.Stop()
		s.setSharing(false)
		s.notify(core.Notice{Title: "Screen sharing stopped", Description: "You stopped sharing your screen"})
		return nil
	}

	if err := s.share.Start(ctx); err != nil {
		s.notify(core.Notice{
			Title:       "Cannot share screen",
			Description: "Please allow screen sharing access",
			Variant:     core.NoticeDestructive,
		})
		return classifyCaptureErr(err)
	}
	// The permission dialog can outlive the call. Never adopt a share
	// into an ended session.
	s.mu.Lock()
	ended := s.closed
	s.mu.Unlock()
	if ended {
		s.share.Stop()
		return domain.ErrSessionEnded
	}
	if !s.share.Active() {
		return nil // superseded by a stop while pending
	}
	s.setSharing(true)
	s.notify(core.Notice{Title: "Screen sharing started", Description: "Your screen is now visible to all participants"})
	return nil
}

// shareEndedExternally reacts to the native "stop sharing" control:
// session state must follow the stream, not only the explicit button.
func (s *Session) shareEndedExternally() {
	s.setSharing(false)
	s.notify(core.Notice{Title: "Screen sharing stopped", Description: "You stopped sharing your screen"})
}

func (s *Session) setSharing(v bool) {
	s.mu.Lock()
	if v && s.closed {
		s.mu.Unlock()
		s.share.Stop()
		return
	}
	s.sharing = v
	s.mu.Unlock()
	s.roster.Update(domain.LocalParticipantID, func(p *domain.Participant) {
		p.IsScreenShared = v
	})
}

func (s *Session) ScreenSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharing
}

// SetPictureInPicture switches rendering modes only; streams and the
// duration clock keep running.
func (s *Session) SetPictureInPicture(v bool) {
	s.mu.Lock()
	s.pictureInPic = v
	s.mu.Unlock()
}

func (s *Session) PictureInPicture() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pictureInPic
}

func (s *Session) Participants() []domain.Participant {
	return s.roster.Snapshot()
}

func (s *Session) Roster() *core.Roster { return s.roster }

func (s *Session) Settings() domain.MediaSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// reacquireMedia recomputes constraints from the current flags and
// swaps the capture stream. Runs on open, on every toggle, and on every
// capture-affecting setting change. Failure is reported and leaves the
// prior stream (if any) in place.
func (s *Session) reacquireMedia() {
	s.mu.Lock()
	if s.phase != domain.PhaseConnected || s.closed {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	videoOn := s.videoOn
	c := ConstraintsFor(s.settings, s.audioOn, s.opts.Entitled())
	bg := s.settings.BackgroundEffect
	s.mu.Unlock()

	if !videoOn {
		s.compositor.Stop()
		s.capture.Release()
		return
	}

	stream, err := s.capture.Acquire(ctx, c)
	if err != nil {
		s.notify(core.Notice{
			Title:       "Camera error",
			Description: "Unable to access camera or microphone",
			Variant:     core.NoticeDestructive,
		})
		log.Error().Err(err).Str("module", "app.session").Str("session", string(s.id)).Msg("capture failed")
		return
	}
	if stream == nil {
		return // superseded while pending
	}
	// Rebind the render loop to the fresh track set.
	if bg != domain.BackgroundNone {
		s.compositor.SetEffect(ctx, bg, frameSourceOf(stream))
	}
}

func (s *Session) notify(n core.Notice) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.Notify(n)
	}
}

func (s *Session) persistParticipant(p domain.Participant) {
	if s.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.opts.Store.UpsertParticipant(ctx, s.id, p); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("participant persist failed")
	}
}

// frameSourceOf extracts a frame source when the stream implementation
// offers one; fakes and audio-only streams simply do not.
func frameSourceOf(stream core.MediaStream) effects.FrameSource {
	if fs, ok := stream.(interface{ FrameSource() effects.FrameSource }); ok {
		return fs.FrameSource()
	}
	return nil
}

func displayName(u domain.WalletUser) string {
	if n := u.DisplayName(); n != "" {
		return n
	}
	return "You"
}

func avatarFor(u domain.WalletUser) string {
	if u.Address == "" {
		return ""
	}
	return "https://api.dicebear.com/7.x/identicon/svg?seed=" + u.Address
}
