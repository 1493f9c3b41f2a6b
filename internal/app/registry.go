package app

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/confrelay/internal/core"
	"github.com/dkeye/confrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps conference ids to live conferences and tracks every accepted
// connection. mu guards only the maps and the id counter; it is never held
// while a conference lock is taken.
type Registry struct {
	mu          sync.RWMutex
	next        uint64
	conferences map[domain.ConferenceID]*core.Conference
	conns       map[domain.ParticipantID]*core.Participant
	startedAt   time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conferences: make(map[domain.ConferenceID]*core.Conference),
		conns:       make(map[domain.ParticipantID]*core.Participant),
		startedAt:   time.Now(),
	}
}

// CreateConference opens a conference with admin as its first member.
func (r *Registry) CreateConference(admin *core.Participant) (domain.ConferenceID, error) {
	if admin.Conference() != nil {
		return 0, core.ErrAlreadyInConference
	}
	r.mu.Lock()
	r.next++
	id := domain.ConferenceID(r.next)
	r.mu.Unlock()

	c := core.NewConference(id)
	if err := c.Admit(admin, domain.RoleAdmin); err != nil {
		return 0, err
	}

	// a leave that closed c before this point never saw it in the map
	r.mu.Lock()
	if c.State() != domain.ConferenceActive {
		r.mu.Unlock()
		return 0, core.ErrConnectionClosed
	}
	r.conferences[id] = c
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("conference", id.String()).Str("admin", string(admin.ID)).Msg("conference created")
	return id, nil
}

func (r *Registry) JoinConference(id domain.ConferenceID, p *core.Participant) error {
	c, ok := r.Lookup(id)
	if !ok {
		return core.ErrNotFound
	}
	if err := c.Admit(p, domain.RoleMember); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("conference", id.String()).Str("pid", string(p.ID)).Msg("joined conference")
	return nil
}

// QuitConference removes p from its conference. The last member leaving
// closes the conference and frees its id slot.
func (r *Registry) QuitConference(p *core.Participant) error {
	c := p.Conference()
	if c == nil {
		return core.ErrNotInConference
	}
	remaining, promoted, err := c.Remove(p)
	if err != nil {
		return err
	}
	if promoted != nil {
		log.Info().Str("module", "app.registry").Str("conference", c.ID().String()).Str("admin", string(promoted.ID)).Msg("admin role passed on")
	}
	if remaining == 0 && c.State() == domain.ConferenceClosed {
		r.drop(c)
	}
	return nil
}

// CancelConference closes conference id on behalf of requester, who must be
// its admin. Every member, the admin included, is returned for the caller to
// disconnect.
func (r *Registry) CancelConference(id domain.ConferenceID, requester *core.Participant) ([]*core.Participant, error) {
	if requester == nil {
		return nil, core.ErrForbidden
	}
	return r.cancel(id, requester)
}

// Evict closes conference id without an admin check and returns all of its members.
func (r *Registry) Evict(id domain.ConferenceID) ([]*core.Participant, error) {
	return r.cancel(id, nil)
}

func (r *Registry) cancel(id domain.ConferenceID, requester *core.Participant) ([]*core.Participant, error) {
	c, ok := r.Lookup(id)
	if !ok {
		return nil, core.ErrNotFound
	}
	members, err := c.Cancel(requester)
	if err != nil {
		return nil, err
	}
	r.drop(c)
	return members, nil
}

func (r *Registry) drop(c *core.Conference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conferences[c.ID()] == c {
		delete(r.conferences, c.ID())
		log.Info().Str("module", "app.registry").Str("conference", c.ID().String()).Msg("conference closed")
	}
}

func (r *Registry) Lookup(id domain.ConferenceID) (*core.Conference, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conferences[id]
	return c, ok
}

// List returns a snapshot of every live conference ordered by id.
func (r *Registry) List() []core.ConferenceInfo {
	r.mu.RLock()
	cs := make([]*core.Conference, 0, len(r.conferences))
	for _, c := range r.conferences {
		cs = append(cs, c)
	}
	r.mu.RUnlock()

	slices.SortFunc(cs, func(a, b *core.Conference) int { return cmp.Compare(a.ID(), b.ID()) })
	out := make([]core.ConferenceInfo, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Snapshot(false))
	}
	return out
}

func (r *Registry) Attach(p *core.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[p.ID] = p
}

func (r *Registry) Detach(p *core.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[p.ID] == p {
		delete(r.conns, p.ID)
	}
}

func (r *Registry) Connections() []*core.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Participant, 0, len(r.conns))
	for _, p := range r.conns {
		out = append(out, p)
	}
	return out
}

type Stats struct {
	Connections   int            `json:"connections"`
	ByTransport   map[string]int `json:"by_transport"`
	InConference  int            `json:"in_conference"`
	Conferences   int            `json:"conferences"`
	NextID        uint64         `json:"next_conference_id"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{
		Connections:   len(r.conns),
		ByTransport:   make(map[string]int),
		Conferences:   len(r.conferences),
		NextID:        r.next + 1,
		UptimeSeconds: int64(time.Since(r.startedAt).Seconds()),
	}
	for _, p := range r.conns {
		st.ByTransport[string(p.Transport().Kind())]++
		if p.Conference() != nil {
			st.InConference++
		}
	}
	return st
}

// IsControlError reports whether err is a rejected request rather than a failure.
func IsControlError(err error) bool {
	for _, target := range []error{
		core.ErrNotFound, core.ErrAlreadyInConference, core.ErrNotInConference,
		core.ErrForbidden, core.ErrBadCommand, core.ErrSSRCInUse,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
