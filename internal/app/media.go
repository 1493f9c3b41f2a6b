package app

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/confrelay/internal/codec"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/dkeye/confrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type ssrcBinding struct {
	p   *core.Participant
	seq codec.SequenceTracker
}

// MediaDirectory attributes datagram streams to participants by SSRC.
type MediaDirectory struct {
	mu     sync.Mutex
	byssrc map[uint32]*ssrcBinding
	owned  map[domain.ParticipantID][]uint32
}

func NewMediaDirectory() *MediaDirectory {
	return &MediaDirectory{
		byssrc: make(map[uint32]*ssrcBinding),
		owned:  make(map[domain.ParticipantID][]uint32),
	}
}

// Bind attributes ssrc to p. Rebinding an SSRC p already owns is a no-op.
func (d *MediaDirectory) Bind(ssrc uint32, p *core.Participant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.byssrc[ssrc]; ok {
		if b.p == p {
			return nil
		}
		return core.ErrSSRCInUse
	}
	d.byssrc[ssrc] = &ssrcBinding{p: p}
	d.owned[p.ID] = append(d.owned[p.ID], ssrc)
	log.Debug().Str("module", "app.media").Str("pid", string(p.ID)).Uint32("ssrc", ssrc).Msg("ssrc bound")
	return nil
}

// Unbind releases every SSRC owned by p and returns them.
func (d *MediaDirectory) Unbind(p *core.Participant) []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ssrcs := d.owned[p.ID]
	for _, s := range ssrcs {
		if b, ok := d.byssrc[s]; ok && b.p == p {
			delete(d.byssrc, s)
		}
	}
	delete(d.owned, p.ID)
	return ssrcs
}

// Resolution is the outcome of attributing one datagram.
type Resolution struct {
	Participant *core.Participant
	Event       codec.SequenceEvent
	Lost        uint16
}

// Resolve looks up the owner of ssrc and records seq on its stream.
func (d *MediaDirectory) Resolve(ssrc uint32, seq uint16) (Resolution, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.byssrc[ssrc]
	if !ok {
		return Resolution{}, false
	}
	ev, lost := b.seq.Observe(seq)
	return Resolution{Participant: b.p, Event: ev, Lost: lost}, true
}

type BindingInfo struct {
	SSRC        uint32               `json:"ssrc"`
	Participant domain.ParticipantID `json:"participant"`
	codec.SequenceStats
}

func (d *MediaDirectory) Bindings() []BindingInfo {
	d.mu.Lock()
	out := make([]BindingInfo, 0, len(d.byssrc))
	for s, b := range d.byssrc {
		out = append(out, BindingInfo{SSRC: s, Participant: b.p.ID, SequenceStats: b.seq.Stats()})
	}
	d.mu.Unlock()
	slices.SortFunc(out, func(a, b BindingInfo) int { return cmp.Compare(a.SSRC, b.SSRC) })
	return out
}
