package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/domain"
)

type clientEntry struct {
	User    *domain.WalletUser
	Session *Session
	Cancel  context.CancelFunc
}

// Registry maps client tokens to their wallet identity and live
// session. One session per client at a time; binding a second one
// cancels the first.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*clientEntry
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*clientEntry)}
}

// GetOrCreateUser returns the wallet identity bound to the client
// token, creating a guest placeholder on first sight.
func (r *Registry) GetOrCreateUser(token string) *domain.WalletUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[token]; ok {
		return e.User
	}
	u := &domain.WalletUser{}
	r.clients[token] = &clientEntry{User: u}
	log.Info().Str("module", "app.registry").Str("token", token).Msg("created new client")
	return u
}

// SetUser replaces the identity after a wallet login.
func (r *Registry) SetUser(token string, user domain.WalletUser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[token]
	if !ok {
		e = &clientEntry{}
		r.clients[token] = e
	}
	e.User = &user
	log.Info().Str("module", "app.registry").Str("token", token).Str("address", user.Address).Msg("bound wallet")
}

// BindSession attaches a live session to the client, cancelling any
// session already bound.
func (r *Registry) BindSession(token string, sess *Session, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[token]
	if !ok {
		e = &clientEntry{User: &domain.WalletUser{}}
		r.clients[token] = e
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	e.Session = sess
	e.Cancel = cancel
	log.Info().Str("module", "app.registry").Str("token", token).Str("session", string(sess.ID())).Msg("bound session")
}

func (r *Registry) GetSession(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.clients[token]; ok && e.Session != nil {
		return e.Session, true
	}
	return nil, false
}

// Unbind detaches and cancels the client's session, keeping the
// identity for reconnects.
func (r *Registry) Unbind(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[token]
	if !ok {
		return
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	e.Session = nil
	e.Cancel = nil
	log.Info().Str("module", "app.registry").Str("token", token).Msg("unbound session")
}
