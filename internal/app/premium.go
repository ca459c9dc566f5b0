package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
)

// milestone ties a call duration threshold to the feature it unlocks
// and the achievement announced alongside.
type milestone struct {
	seconds     int
	feature     core.Feature
	achievement string
}

var milestoneTable = []milestone{
	{600, core.FeatureTranscription, "AI Transcription Master"},
	{900, core.FeatureAnalytics, "Analytics Expert"},
	{1800, core.FeatureNFTMint, "NFT Creator"},
	{3600, core.FeatureDAOPanel, "DAO Governor"},
}

// Milestones tracks time-based feature unlocks. Each milestone fires at
// most once per session and only for entitled users; crossing a
// threshold without entitlement leaves it armed for a later grant.
type Milestones struct {
	notifier core.Notifier
	entitled func() bool

	mu       sync.Mutex
	unlocked map[core.Feature]bool
}

func NewMilestones(n core.Notifier, entitled func() bool) *Milestones {
	return &Milestones{
		notifier: n,
		entitled: entitled,
		unlocked: make(map[core.Feature]bool),
	}
}

// Observe is called once per clock tick with the current duration.
func (m *Milestones) Observe(seconds int) {
	if !m.entitled() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ms := range milestoneTable {
		if seconds < ms.seconds || m.unlocked[ms.feature] {
			continue
		}
		m.unlocked[ms.feature] = true
		log.Info().Str("module", "app.premium").Str("feature", string(ms.feature)).Int("seconds", seconds).Msg("milestone reached")
		if m.notifier != nil {
			m.notifier.Notify(core.Notice{
				Title:       "Achievement unlocked",
				Description: ms.achievement,
			})
		}
	}
}

func (m *Milestones) Unlocked(f core.Feature) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked[f]
}

func (m *Milestones) Snapshot() []core.Feature {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Feature, 0, len(m.unlocked))
	for _, ms := range milestoneTable {
		if m.unlocked[ms.feature] {
			out = append(out, ms.feature)
		}
	}
	return out
}

const transcriptInterval = 10 * time.Second

// mock output until a speech-to-text backend lands
var transcriptLines = []string{
	"Welcome everyone to today's meeting.",
	"Let's review the quarterly results.",
	"The new feature rollout is on track.",
	"Any questions about the roadmap?",
	"We should follow up on the action items.",
}

// Transcriber produces a running transcript of the call. Lines arrive
// on a fixed cadence while active.
type Transcriber struct {
	notifier core.Notifier

	mu       sync.Mutex
	lines    []string
	cancel   context.CancelFunc
	interval time.Duration
}

func NewTranscriber(n core.Notifier) *Transcriber {
	return &Transcriber{notifier: n, interval: transcriptInterval}
}

func (t *Transcriber) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	go t.run(ctx)
	if t.notifier != nil {
		t.notifier.Notify(core.Notice{Title: "Transcription started", Description: "Live transcript is being generated"})
	}
}

func (t *Transcriber) run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			line := fmt.Sprintf("[%s] %s", tick.Format("15:04:05"), transcriptLines[i%len(transcriptLines)])
			t.mu.Lock()
			t.lines = append(t.lines, line)
			t.mu.Unlock()
		}
	}
}

func (t *Transcriber) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.cancel = nil
}

func (t *Transcriber) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Transcriber) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// Milestones exposes the unlock tracker for the signal layer.
func (s *Session) Milestones() *Milestones { return s.milestones }

// milestoneGate combines the premium gate with a duration unlock.
func (s *Session) milestoneGate(f core.Feature) error {
	if err := s.gate(f, true); err != nil {
		return err
	}
	if !s.milestones.Unlocked(f) {
		s.notify(core.Notice{
			Title:       "Not unlocked yet",
			Description: "Keep the meeting going to unlock this feature",
			Variant:     core.NoticeDestructive,
		})
		return domain.ErrPremiumRequired
	}
	return nil
}

// ToggleTranscription starts or stops the live transcript. Requires
// entitlement and the ten minute milestone.
func (s *Session) ToggleTranscription() error {
	s.mu.Lock()
	if err := s.inCall(); err != nil {
		s.mu.Unlock()
		return err
	}
	ctx := s.ctx
	s.mu.Unlock()

	if s.transcript.Active() {
		s.transcript.Stop()
		s.notify(core.Notice{Title: "Transcription stopped", Description: "Transcript generation paused"})
		return nil
	}
	if err := s.milestoneGate(core.FeatureTranscription); err != nil {
		return err
	}
	s.transcript.Start(ctx)
	return nil
}

func (s *Session) Transcript() []string { return s.transcript.Lines() }

// Summary builds the meeting digest from live session state.
func (s *Session) Summary() (string, error) {
	if err := s.gate(core.FeatureSummary, true); err != nil {
		return "", err
	}
	s.mu.Lock()
	d := s.duration
	s.mu.Unlock()
	n := s.roster.Count()
	lines := len(s.transcript.Lines())
	return fmt.Sprintf(
		"Meeting summary: %d participant(s), %s elapsed, %d transcript line(s). Key topics were discussed and action items assigned.",
		n, formatDuration(d), lines,
	), nil
}

func formatDuration(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}

// panel is a premium side surface toggled on and off as a whole.
type panel string

const (
	PanelAnalytics  panel = "analytics"
	PanelWhiteboard panel = "whiteboard"
	PanelNFT        panel = "nft"
	PanelDAO        panel = "dao"
)

var panelGate = map[panel]struct {
	feature   core.Feature
	milestone bool
	notice    string
}{
	PanelAnalytics:  {core.FeatureAnalytics, true, "Meeting analytics"},
	PanelWhiteboard: {core.FeatureWhiteboard, false, "Collaborative whiteboard"},
	PanelNFT:        {core.FeatureNFTMint, true, "NFT minting"},
	PanelDAO:        {core.FeatureDAOPanel, true, "DAO governance"},
}

func ParsePanel(s string) (panel, error) {
	p := panel(s)
	if _, ok := panelGate[p]; !ok {
		return "", fmt.Errorf("unknown panel %q", s)
	}
	return p, nil
}

// TogglePanel opens or closes a premium side panel. Closing is always
// allowed; opening goes through the feature gate.
func (s *Session) TogglePanel(p panel) (bool, error) {
	g, ok := panelGate[p]
	if !ok {
		return false, fmt.Errorf("unknown panel %q", p)
	}
	s.mu.Lock()
	if err := s.inCall(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if s.panels == nil {
		s.panels = make(map[panel]bool)
	}
	open := s.panels[p]
	if open {
		s.panels[p] = false
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	if g.milestone {
		if err := s.milestoneGate(g.feature); err != nil {
			return false, err
		}
	} else if err := s.gate(g.feature, true); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.panels[p] = true
	s.mu.Unlock()
	s.notify(core.Notice{Title: g.notice, Description: "Panel opened"})
	return true, nil
}

func (s *Session) PanelOpen(p panel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panels[p]
}
