package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/confrelay/internal/app"
	"github.com/dkeye/confrelay/internal/codec"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/rs/zerolog/log"
)

// OnFrame relays a media frame from p to the rest of its conference.
func (o *Orchestrator) OnFrame(p *core.Participant, f core.Frame) core.PublishResult {
	c := p.Conference()
	if c == nil {
		log.Debug().Str("module", "orch").Str("pid", string(p.ID)).Str("type", f.Type.String()).Msg("media outside conference dropped")
		return core.PublishResult{}
	}
	if !p.Sharing(f.Type) {
		return core.PublishResult{}
	}
	f.Source = p.ID

	res := c.Forward(p, f)
	for _, fail := range res.Failed {
		err := fmt.Errorf("%w: %s: %w", core.ErrPartialSendFailure, fail.Member.ID, fail.Err)
		action := app.KickMember
		if o.Policy != nil {
			action = o.Policy.OnDeliveryFailure(c, fail.Member, fail.Err)
		}
		switch action {
		case app.KickMember:
			o.Disconnect(fail.Member, err)
		case app.DropFrame:
			log.Debug().Err(err).Str("module", "orch").Str("conference", c.ID().String()).Msg("frame dropped for member")
		case app.NoAction:
		}
	}
	return res
}

// OnDatagram attributes an inbound RTP datagram to the participant that bound
// its SSRC, records from as that participant's media address and relays it.
func (o *Orchestrator) OnDatagram(from core.MediaSink, h codec.Header, payload []byte) {
	res, ok := o.Media.Resolve(h.SSRC, h.SequenceNumber)
	if !ok {
		log.Debug().Str("module", "orch").Uint32("ssrc", h.SSRC).Str("from", from.Addr()).Msg("datagram for unbound ssrc")
		return
	}
	p := res.Participant
	switch res.Event {
	case codec.SeqGap:
		log.Debug().Str("module", "orch").Uint32("ssrc", h.SSRC).Uint16("lost", res.Lost).Msg("sequence gap")
	case codec.SeqDuplicate, codec.SeqLate:
		log.Debug().Str("module", "orch").Uint32("ssrc", h.SSRC).Str("event", res.Event.String()).Uint16("seq", h.SequenceNumber).Msg("out of order datagram")
	}

	if cur := p.MediaSink(); cur == nil || cur.Addr() != from.Addr() {
		p.SetMediaSink(from)
		log.Info().Str("module", "orch").Str("pid", string(p.ID)).Str("addr", from.Addr()).Msg("media address learned")
	}
	p.Touch()
	o.OnFrame(p, codec.DatagramFrame(h, payload))
}

// isTeardown reports errors that end a connection without being failures.
func isTeardown(err error) bool {
	return errors.Is(err, core.ErrConnectionClosed) || errors.Is(err, core.ErrTransportClosed)
}
