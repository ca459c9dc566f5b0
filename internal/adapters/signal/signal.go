package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/app"
	"github.com/dgrange/huddle/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type Frame = []byte

// Controller owns the websocket surface of the conference. Each client
// gets one connection; session events flow back over it as JSON frames.
type Controller struct {
	Reg    *app.Registry
	Oracle core.EntitlementOracle
	Store  core.SessionStore

	// Sessions holds everything a new session needs except the
	// per-connection collaborators filled in at join time.
	Sessions app.SessionOptions

	chatLimiter *ChatRateLimiter
}

func NewController(reg *app.Registry, oracle core.EntitlementOracle, store core.SessionStore, opts app.SessionOptions) *Controller {
	return &Controller{
		Reg:         reg,
		Oracle:      oracle,
		Store:       store,
		Sessions:    opts,
		chatLimiter: NewChatRateLimiter(10, 10*time.Second),
	}
}

type WsConn struct {
	conn *websocket.Conn
	send chan Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(f Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Notify implements core.Notifier on top of the connection; notices are
// dropped, never blocked on, when the client cannot keep up.
func (c *WsConn) Notify(n core.Notice) {
	sendJSON(c, struct {
		Type string `json:"type"`
		core.Notice
	}{Type: "notice", Notice: n})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsConn{
		conn: ws,
		send: make(chan Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, token, conn)
}
