package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dgrange/huddle/internal/domain"
)

// Roster is the threadsafe in-memory participant set of one session.
// It owns the membership flags but never touches media resources.
type Roster struct {
	mu   sync.RWMutex
	byID map[domain.ParticipantID]*domain.Participant
	// insertion order, for stable snapshots
	order []domain.ParticipantID
}

func NewRoster() *Roster {
	return &Roster{byID: make(map[domain.ParticipantID]*domain.Participant)}
}

func (r *Roster) Add(p *domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.byID[p.ID] = p
	log.Info().Str("module", "core.roster").Str("participant", string(p.ID)).Msg("participant added")
}

func (r *Roster) Remove(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "core.roster").Str("participant", string(id)).Msg("participant removed")
	return true
}

func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[domain.ParticipantID]*domain.Participant)
	r.order = nil
}

// Snapshot returns value copies in join order; safe for rendering.
func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// Get returns a value copy.
func (r *Roster) Get(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Update applies fn to the participant under the write lock.
func (r *Roster) Update(id domain.ParticipantID, fn func(*domain.Participant)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// TogglePin flips the pin flag of id and force-clears every other pin,
// so at most one participant is ever pinned. Re-pinning the currently
// pinned participant unpins with no replacement. Reports the resulting
// pin state of id.
func (r *Roster) TogglePin(id domain.ParticipantID) (pinned, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, exists := r.byID[id]
	if !exists {
		return false, false
	}
	next := !target.IsPinned
	for _, p := range r.byID {
		p.IsPinned = false
	}
	target.IsPinned = next
	return next, true
}

// Pinned returns the single pinned participant, if any.
func (r *Roster) Pinned() (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.byID {
		if p.IsPinned {
			return *p, true
		}
	}
	return domain.Participant{}, false
}
