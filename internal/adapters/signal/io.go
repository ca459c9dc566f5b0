package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, c *WsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, token string, c *WsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("token", token).Msg("readPump closing")
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("token", token).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("token", token).Msg("readPump read error")
				return
			}
			ctl.handleCommand(ctx, token, c, data)
		}
	}
}

func (ctl *Controller) handleCommand(ctx context.Context, token string, c *WsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "ping":
		sendJSON(c, typeOnly{"pong"})
	case "join":
		ctl.handleJoin(ctx, token, c)
	case "leave":
		ctl.handleLeave(token, c)
	case "state":
		ctl.handleState(token, c)
	case "toggle_video":
		ctl.withSession(token, c, func(s *sessionRef) error { return s.sess.ToggleVideo() })
	case "toggle_audio":
		ctl.withSession(token, c, func(s *sessionRef) error { return s.sess.ToggleAudio() })
	case "toggle_hand":
		ctl.withSession(token, c, func(s *sessionRef) error { return s.sess.ToggleHandRaise() })
	case "toggle_screenshare":
		ctl.withSession(token, c, func(s *sessionRef) error { return s.sess.ToggleScreenShare(ctx) })
	case "toggle_transcription":
		ctl.withSession(token, c, func(s *sessionRef) error { return s.sess.ToggleTranscription() })
	case "toggle_recording":
		ctl.handleRecording(ctx, token, c)
	case "pin":
		ctl.handlePin(token, c, data)
	case "kick":
		ctl.handleKick(token, c, data)
	case "pip":
		ctl.handlePiP(token, c, data)
	case "settings":
		ctl.handleSettings(token, c, data)
	case "panel":
		ctl.handlePanel(token, c, data)
	case "summary":
		ctl.handleSummary(token, c)
	case "chat":
		ctl.handleChat(ctx, token, c, data)
	case "chat_history":
		ctl.handleChatHistory(ctx, token, c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown command")
	}
}

type typeOnly struct {
	Type string `json:"type"`
}

func sendJSON(c *WsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func sendError(c *WsConn, err error) {
	sendJSON(c, struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{Type: "error", Message: err.Error()})
}
