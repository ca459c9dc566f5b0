package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/app"
	"github.com/dgrange/huddle/internal/core"
	"github.com/dgrange/huddle/internal/domain"
)

type sessionRef struct {
	token string
	sess  *app.Session
}

// withSession runs op against the client's live session, reporting
// failures back over the wire and following up with a state frame so
// the client never drifts.
func (ctl *Controller) withSession(token string, c *WsConn, op func(*sessionRef) error) {
	sess, ok := ctl.Reg.GetSession(token)
	if !ok {
		sendError(c, domain.ErrNotInCall)
		return
	}
	if err := op(&sessionRef{token: token, sess: sess}); err != nil {
		sendError(c, err)
		return
	}
	ctl.sendState(c, sess)
}

// handleJoin opens a session for the client. The connection doubles as
// the session's notification surface for its whole lifetime.
func (ctl *Controller) handleJoin(ctx context.Context, token string, c *WsConn) {
	if _, ok := ctl.Reg.GetSession(token); ok {
		sendError(c, domain.ErrBadTransition)
		return
	}
	user := *ctl.Reg.GetOrCreateUser(token)

	opts := ctl.Sessions
	opts.Notifier = c
	opts.Store = ctl.Store
	opts.Entitled = ctl.entitledFunc(user.Address)
	opts.OnClose = func() { ctl.Reg.Unbind(token) }

	sess := app.NewSession(opts)
	sessCtx, cancel := context.WithCancel(ctx)
	if err := sess.Open(sessCtx, user); err != nil {
		cancel()
		sendError(c, err)
		return
	}
	ctl.Reg.BindSession(token, sess, cancel)
	log.Info().Str("module", "signal").Str("token", token).Str("session", string(sess.ID())).Msg("joined")
	ctl.sendState(c, sess)
}

func (ctl *Controller) handleLeave(token string, c *WsConn) {
	sess, ok := ctl.Reg.GetSession(token)
	if !ok {
		sendError(c, domain.ErrNotInCall)
		return
	}
	if err := sess.End(); err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, typeOnly{"left"})
}

func (ctl *Controller) handleState(token string, c *WsConn) {
	sess, ok := ctl.Reg.GetSession(token)
	if !ok {
		sendJSON(c, stateFrame{Type: "state", Phase: string(domain.PhaseIdle)})
		return
	}
	ctl.sendState(c, sess)
}

type stateFrame struct {
	Type         string               `json:"type"`
	Phase        string               `json:"phase"`
	Duration     int                  `json:"duration"`
	HandRaised   bool                 `json:"handRaised"`
	Sharing      bool                 `json:"isScreenSharing"`
	PiP          bool                 `json:"isPictureInPicture"`
	Participants []domain.Participant `json:"participants"`
	Settings     any                  `json:"settings"`
	Unlocked     []core.Feature       `json:"unlockedFeatures"`
}

func (ctl *Controller) sendState(c *WsConn, sess *app.Session) {
	sendJSON(c, stateFrame{
		Type:         "state",
		Phase:        string(sess.Phase()),
		Duration:     sess.Duration(),
		HandRaised:   sess.HandRaised(),
		Sharing:      sess.ScreenSharing(),
		PiP:          sess.PictureInPicture(),
		Participants: sess.Participants(),
		Settings:     sess.Settings(),
		Unlocked:     sess.Milestones().Snapshot(),
	})
}

func (ctl *Controller) handlePin(token string, c *WsConn, data []byte) {
	var cmd struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		sendError(c, err)
		return
	}
	ctl.withSession(token, c, func(s *sessionRef) error {
		return s.sess.TogglePin(domain.ParticipantID(cmd.ParticipantID))
	})
}

func (ctl *Controller) handleKick(token string, c *WsConn, data []byte) {
	var cmd struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		sendError(c, err)
		return
	}
	ctl.withSession(token, c, func(s *sessionRef) error {
		// The session opener hosts the meeting.
		return s.sess.KickParticipant(domain.ParticipantID(cmd.ParticipantID), true)
	})
}

func (ctl *Controller) handlePiP(token string, c *WsConn, data []byte) {
	var cmd struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		sendError(c, err)
		return
	}
	ctl.withSession(token, c, func(s *sessionRef) error {
		s.sess.SetPictureInPicture(cmd.Enabled)
		return nil
	})
}

// handleSettings applies any subset of the media settings; absent
// fields stay as they are.
func (ctl *Controller) handleSettings(token string, c *WsConn, data []byte) {
	var cmd struct {
		VideoQuality     *string `json:"videoQuality"`
		NoiseSuppression *bool   `json:"noiseSuppression"`
		EchoCancellation *bool   `json:"echoCancellation"`
		BackgroundEffect *string `json:"backgroundEffect"`
		VoiceEffect      *string `json:"voiceEffect"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		sendError(c, err)
		return
	}
	ctl.withSession(token, c, func(s *sessionRef) error {
		if cmd.VideoQuality != nil {
			q, err := domain.ParseVideoQuality(*cmd.VideoQuality)
			if err != nil {
				return err
			}
			if err := s.sess.SetVideoQuality(q); err != nil {
				return err
			}
		}
		if cmd.NoiseSuppression != nil {
			if err := s.sess.SetNoiseSuppression(*cmd.NoiseSuppression); err != nil {
				return err
			}
		}
		if cmd.EchoCancellation != nil {
			if err := s.sess.SetEchoCancellation(*cmd.EchoCancellation); err != nil {
				return err
			}
		}
		if cmd.BackgroundEffect != nil {
			e, err := domain.ParseBackgroundEffect(*cmd.BackgroundEffect)
			if err != nil {
				return err
			}
			if err := s.sess.SetBackgroundEffect(e); err != nil {
				return err
			}
		}
		if cmd.VoiceEffect != nil {
			e, err := domain.ParseVoiceEffect(*cmd.VoiceEffect)
			if err != nil {
				return err
			}
			if err := s.sess.SetVoiceEffect(e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ctl *Controller) handlePanel(token string, c *WsConn, data []byte) {
	var cmd struct {
		Panel string `json:"panel"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		sendError(c, err)
		return
	}
	sess, ok := ctl.Reg.GetSession(token)
	if !ok {
		sendError(c, domain.ErrNotInCall)
		return
	}
	p, err := app.ParsePanel(cmd.Panel)
	if err != nil {
		sendError(c, err)
		return
	}
	open, err := sess.TogglePanel(p)
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, struct {
		Type  string `json:"type"`
		Panel string `json:"panel"`
		Open  bool   `json:"open"`
	}{Type: "panel", Panel: cmd.Panel, Open: open})
}

func (ctl *Controller) handleSummary(token string, c *WsConn) {
	sess, ok := ctl.Reg.GetSession(token)
	if !ok {
		sendError(c, domain.ErrNotInCall)
		return
	}
	text, err := sess.Summary()
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, struct {
		Type    string `json:"type"`
		Summary string `json:"summary"`
	}{Type: "summary", Summary: text})
}

func (ctl *Controller) handleRecording(ctx context.Context, token string, c *WsConn) {
	sess, ok := ctl.Reg.GetSession(token)
	if !ok {
		sendError(c, domain.ErrNotInCall)
		return
	}
	path, err := sess.ToggleRecording(ctx)
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, struct {
		Type string `json:"type"`
		Path string `json:"path,omitempty"`
	}{Type: "recording", Path: path})
}

func (ctl *Controller) handleChat(ctx context.Context, token string, c *WsConn, data []byte) {
	var cmd struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		sendError(c, err)
		return
	}
	if cmd.Body == "" {
		return
	}
	if !ctl.chatLimiter.Allow(token) {
		sendError(c, ErrTooManyMessages)
		return
	}
	sess, ok := ctl.Reg.GetSession(token)
	if !ok {
		sendError(c, domain.ErrNotInCall)
		return
	}
	user := ctl.Reg.GetOrCreateUser(token)
	msg := domain.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID(),
		Sender:    user.DisplayName(),
		Body:      cmd.Body,
		SentAt:    time.Now().UTC(),
	}
	if ctl.Store != nil {
		if err := ctl.Store.AppendMessage(ctx, msg); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("message persist failed")
		}
	}
	sendJSON(c, struct {
		Type string `json:"type"`
		domain.Message
	}{Type: "chat", Message: msg})
}

func (ctl *Controller) handleChatHistory(ctx context.Context, token string, c *WsConn) {
	sess, ok := ctl.Reg.GetSession(token)
	if !ok {
		sendError(c, domain.ErrNotInCall)
		return
	}
	if ctl.Store == nil {
		sendJSON(c, struct {
			Type     string           `json:"type"`
			Messages []domain.Message `json:"messages"`
		}{Type: "chat_history"})
		return
	}
	msgs, err := ctl.Store.Messages(ctx, sess.ID())
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, struct {
		Type     string           `json:"type"`
		Messages []domain.Message `json:"messages"`
	}{Type: "chat_history", Messages: msgs})
}

// entitledFunc snapshots the oracle answer with a short deadline per
// check; oracle caching keeps this cheap.
func (ctl *Controller) entitledFunc(address string) func() bool {
	return func() bool {
		if ctl.Oracle == nil || address == "" {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ctl.Oracle.KeyStatus(ctx, address).Entitled()
	}
}
