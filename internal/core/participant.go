package core

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/confrelay/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtp"
)

// Participant binds one client transport to its conference membership.
// Membership fields are only written by Conference under its lock.
type Participant struct {
	ID        domain.ParticipantID
	transport Transport
	createdAt time.Time

	conference atomic.Pointer[Conference]
	role       atomic.Int32
	state      atomic.Int32

	videoOff     atomic.Bool
	audioOff     atomic.Bool
	lastActivity atomic.Int64

	sinkMu sync.RWMutex
	sink   MediaSink

	// owned by the read loop
	ssrcBase uint32
	seq      [3]uint16
}

func NewParticipant(t Transport) *Participant {
	id := uuid.New()
	p := &Participant{
		ID:        domain.ParticipantID(id.String()),
		transport: t,
		createdAt: time.Now(),
		ssrcBase:  binary.BigEndian.Uint32(id[:4]) &^ 1,
	}
	p.Touch()
	return p
}

func (p *Participant) Transport() Transport { return p.transport }

func (p *Participant) Conference() *Conference { return p.conference.Load() }

func (p *Participant) Role() domain.Role { return domain.Role(p.role.Load()) }

func (p *Participant) State() domain.ConnState { return domain.ConnState(p.state.Load()) }

// transition moves p from one of the given states to next. Closed is never left.
func (p *Participant) transition(next domain.ConnState, from ...domain.ConnState) bool {
	for {
		cur := domain.ConnState(p.state.Load())
		if cur == domain.ConnClosed {
			return false
		}
		allowed := len(from) == 0
		for _, s := range from {
			if s == cur {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
		if p.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

// MarkLeaving reports whether this call started teardown.
func (p *Participant) MarkLeaving() bool {
	return p.transition(domain.ConnLeaving, domain.ConnConnected, domain.ConnInConference)
}

func (p *Participant) MarkClosed() bool {
	return p.transition(domain.ConnClosed)
}

func (p *Participant) Touch() { p.lastActivity.Store(time.Now().UnixNano()) }

func (p *Participant) LastActivity() time.Time { return time.Unix(0, p.lastActivity.Load()) }

// Sharing reports whether the participant currently shares frames of type t.
func (p *Participant) Sharing(t DataType) bool {
	switch t {
	case DataVideo:
		return !p.videoOff.Load()
	case DataAudio:
		return !p.audioOff.Load()
	}
	return true
}

// ToggleSharing flips the sharing switch for t and returns the new value.
func (p *Participant) ToggleSharing(t DataType) bool {
	switch t {
	case DataVideo:
		for {
			off := p.videoOff.Load()
			if p.videoOff.CompareAndSwap(off, !off) {
				return off
			}
		}
	case DataAudio:
		for {
			off := p.audioOff.Load()
			if p.audioOff.CompareAndSwap(off, !off) {
				return off
			}
		}
	}
	return true
}

func (p *Participant) SetMediaSink(s MediaSink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sink = s
}

func (p *Participant) MediaSink() MediaSink {
	p.sinkMu.RLock()
	defer p.sinkMu.RUnlock()
	return p.sink
}

// Deliver hands f to the participant without blocking. Media goes to the
// datagram sink when one is bound, everything else to the transport.
func (p *Participant) Deliver(f Frame) error {
	if f.Type.IsMedia() {
		if s := p.MediaSink(); s != nil {
			return s.SendMedia(f)
		}
	}
	return p.transport.Send(f)
}

// Stamp attaches an RTP header to a stream-originated media frame.
// Only the read loop of p calls it.
func (p *Participant) Stamp(f *Frame) {
	if f.Header != nil || !f.Type.IsMedia() {
		return
	}
	pt := PayloadTypeFor(f.Type)
	seq := p.seq[f.Type]
	p.seq[f.Type] = seq + 1
	elapsed := time.Since(p.createdAt)
	f.Header = &MediaHeader{Header: rtp.Header{
		Version:        2,
		PayloadType:    pt,
		SequenceNumber: seq,
		Timestamp:      uint32(elapsed.Milliseconds() * int64(clockRate(pt)) / 1000),
		SSRC:           p.SSRC(f.Type),
	}}
}

// SSRC is the synchronization source the relay uses for p's stream-originated media of type t.
func (p *Participant) SSRC(t DataType) uint32 {
	if t == DataAudio {
		return p.ssrcBase | 1
	}
	return p.ssrcBase
}

func (p *Participant) Close() { p.transport.Close() }

// ParticipantInfo is a read-only view for APIs (no transport handles).
type ParticipantInfo struct {
	ID           domain.ParticipantID `json:"id"`
	Role         string               `json:"role"`
	State        string               `json:"state"`
	Transport    TransportKind        `json:"transport"`
	Remote       string               `json:"remote"`
	MediaAddr    string               `json:"media_addr,omitempty"`
	Video        bool                 `json:"video"`
	Audio        bool                 `json:"audio"`
	LastActivity time.Time            `json:"last_activity"`
	JoinedAt     time.Time            `json:"joined_at,omitzero"`
}

func (p *Participant) Info() ParticipantInfo {
	info := ParticipantInfo{
		ID:           p.ID,
		Role:         p.Role().String(),
		State:        p.State().String(),
		Transport:    p.transport.Kind(),
		Remote:       p.transport.RemoteAddr(),
		Video:        p.Sharing(DataVideo),
		Audio:        p.Sharing(DataAudio),
		LastActivity: p.LastActivity(),
	}
	if s := p.MediaSink(); s != nil {
		info.MediaAddr = s.Addr()
	}
	return info
}
