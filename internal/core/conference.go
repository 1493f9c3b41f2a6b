package core

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/confrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type membership struct {
	p        *Participant
	joinedAt time.Time
	order    uint64
}

// Conference is a threadsafe in-memory member set. Every membership change and
// every fan-out read happens under mu.
// It never closes adapter-owned resources.
type Conference struct {
	id        domain.ConferenceID
	createdAt time.Time

	mu      sync.RWMutex
	state   domain.ConferenceState
	admin   *Participant
	members map[domain.ParticipantID]*membership
	joins   uint64
}

func NewConference(id domain.ConferenceID) *Conference {
	return &Conference{
		id:        id,
		createdAt: time.Now(),
		state:     domain.ConferenceActive,
		members:   make(map[domain.ParticipantID]*membership),
	}
}

func (c *Conference) ID() domain.ConferenceID { return c.id }

func (c *Conference) State() domain.ConferenceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conference) Admin() *Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.admin
}

func (c *Conference) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Members returns the current members ordered by join time.
func (c *Conference) Members() []*Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms := c.orderedLocked()
	out := make([]*Participant, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.p)
	}
	return out
}

func (c *Conference) orderedLocked() []*membership {
	ms := make([]*membership, 0, len(c.members))
	for _, m := range c.members {
		ms = append(ms, m)
	}
	slices.SortFunc(ms, func(a, b *membership) int { return cmp.Compare(a.order, b.order) })
	return ms
}

// Admit adds p with the given role. The Admin role also makes p the conference admin.
func (c *Conference) Admit(p *Participant, role domain.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.ConferenceActive {
		return ErrNotFound
	}
	if !p.conference.CompareAndSwap(nil, c) {
		return ErrAlreadyInConference
	}
	// checked after the swap so a concurrent disconnect either sees c or is seen here
	if st := p.State(); st == domain.ConnLeaving || st == domain.ConnClosed {
		p.conference.CompareAndSwap(c, nil)
		return ErrConnectionClosed
	}
	p.role.Store(int32(role))
	if role == domain.RoleAdmin {
		c.admin = p
	}
	c.joins++
	c.members[p.ID] = &membership{p: p, joinedAt: time.Now(), order: c.joins}
	p.transition(domain.ConnInConference, domain.ConnConnected)
	log.Info().Str("module", "core.conference").Str("conference", c.id.String()).Str("pid", string(p.ID)).Str("role", role.String()).Msg("member added")
	return nil
}

// Remove drops p. When the admin leaves a non-empty conference the
// longest-standing member is promoted. An empty conference becomes Closed.
func (c *Conference) Remove(p *Participant) (remaining int, promoted *Participant, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[p.ID]; !ok {
		return len(c.members), nil, ErrNotInConference
	}
	c.detachLocked(p)

	if c.admin == p {
		c.admin = nil
		if ms := c.orderedLocked(); len(ms) > 0 {
			promoted = ms[0].p
			promoted.role.Store(int32(domain.RoleAdmin))
			c.admin = promoted
		}
	}
	if len(c.members) == 0 {
		c.state = domain.ConferenceClosed
	}
	log.Info().Str("module", "core.conference").Str("conference", c.id.String()).Str("pid", string(p.ID)).Int("remaining", len(c.members)).Msg("member removed")
	return len(c.members), promoted, nil
}

// Cancel closes the conference on behalf of requester and returns every
// member, requester included, in join order so the caller can close their
// transports. A nil requester skips the admin check.
func (c *Conference) Cancel(requester *Participant) ([]*Participant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.ConferenceActive {
		return nil, ErrNotFound
	}
	if requester != nil && c.admin != requester {
		return nil, ErrForbidden
	}
	c.state = domain.ConferenceClosing

	members := make([]*Participant, 0, len(c.members))
	for _, m := range c.orderedLocked() {
		c.detachLocked(m.p)
		members = append(members, m.p)
	}
	c.admin = nil
	c.state = domain.ConferenceClosed
	log.Info().Str("module", "core.conference").Str("conference", c.id.String()).Int("disconnecting", len(members)).Msg("conference cancelled")
	return members, nil
}

func (c *Conference) detachLocked(p *Participant) {
	delete(c.members, p.ID)
	p.conference.CompareAndSwap(c, nil)
	p.role.Store(int32(domain.RoleMember))
	p.transition(domain.ConnConnected, domain.ConnInConference)
}

// DeliveryFailure is one recipient that could not take a frame.
type DeliveryFailure struct {
	Member *Participant
	Err    error
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SentTo int
	Failed []DeliveryFailure
}

// Forward delivers f to every member except src. Deliveries are independent
// non-blocking enqueues; failures are reported, never retried.
func (c *Conference) Forward(src *Participant, f Frame) PublishResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := PublishResult{}
	if c.state != domain.ConferenceActive {
		return res
	}
	if _, ok := c.members[src.ID]; !ok {
		return res
	}
	for id, m := range c.members {
		if id == src.ID {
			continue
		}
		if err := m.p.Deliver(f); err != nil {
			res.Failed = append(res.Failed, DeliveryFailure{Member: m.p, Err: err})
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.conference").Str("conference", c.id.String()).Str("from", string(src.ID)).Str("type", f.Type.String()).Int("sent_to", res.SentTo).Int("failed", len(res.Failed)).Msg("forward result")
	return res
}

// ConferenceInfo is a read-only view for APIs.
type ConferenceInfo struct {
	ID          domain.ConferenceID  `json:"id"`
	State       string               `json:"state"`
	Admin       domain.ParticipantID `json:"admin,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	MemberCount int                  `json:"member_count"`
	Members     []ParticipantInfo    `json:"members,omitempty"`
}

// Snapshot returns the conference view; members are included when withMembers is set.
func (c *Conference) Snapshot(withMembers bool) ConferenceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := ConferenceInfo{
		ID:          c.id,
		State:       c.state.String(),
		CreatedAt:   c.createdAt,
		MemberCount: len(c.members),
	}
	if c.admin != nil {
		info.Admin = c.admin.ID
	}
	if withMembers {
		for _, m := range c.orderedLocked() {
			pi := m.p.Info()
			pi.JoinedAt = m.joinedAt
			info.Members = append(info.Members, pi)
		}
	}
	return info
}
