package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/confrelay/internal/app"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/dkeye/confrelay/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var errIdle = errors.New("idle timeout")

// Limits bound what a single connection may do.
type Limits struct {
	ControlRate  rate.Limit
	ControlBurst int
	IdleTimeout  time.Duration
}

// Orchestrator is the main dispatcher: it interprets control frames, routes
// media into conferences and tears connections down.
type Orchestrator struct {
	Registry *app.Registry
	Media    *app.MediaDirectory
	Policy   app.Policy
	Limits   Limits
}

func New(reg *app.Registry, media *app.MediaDirectory, policy app.Policy, limits Limits) *Orchestrator {
	if limits.ControlRate == 0 {
		limits.ControlRate = rate.Inf
	}
	if limits.ControlBurst <= 0 {
		limits.ControlBurst = 1
	}
	return &Orchestrator{Registry: reg, Media: media, Policy: policy, Limits: limits}
}

// Disconnect removes p from its conference, releases its SSRCs and closes its
// transport. Safe to call any number of times from any goroutine.
func (o *Orchestrator) Disconnect(p *core.Participant, reason error) {
	p.MarkLeaving()
	conf := p.Conference()
	if conf != nil {
		if err := o.Registry.QuitConference(p); err != nil && !errors.Is(err, core.ErrNotInConference) {
			log.Warn().Err(err).Str("module", "orch").Str("pid", string(p.ID)).Msg("quit on disconnect")
		}
	}
	o.Media.Unbind(p)
	p.Close()
	o.Registry.Detach(p)
	if !p.MarkClosed() {
		return
	}

	ev := log.Info()
	if reason != nil && !errors.Is(reason, core.ErrConnectionClosed) {
		ev = log.Warn().Err(reason)
	}
	if conf != nil {
		ev = ev.Str("conference", conf.ID().String())
	}
	ev.Str("module", "orch").Str("pid", string(p.ID)).Str("remote", p.Transport().RemoteAddr()).Msg("participant disconnected")
}

// ReapIdle disconnects connections without inbound traffic for longer than
// the idle timeout. It returns when ctx is done; a zero timeout disables it.
func (o *Orchestrator) ReapIdle(ctx context.Context) {
	timeout := o.Limits.IdleTimeout
	if timeout <= 0 {
		return
	}
	ticker := time.NewTicker(max(timeout/2, 10*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.reapOnce(now, timeout)
		}
	}
}

func (o *Orchestrator) reapOnce(now time.Time, timeout time.Duration) int {
	n := 0
	for _, p := range o.Registry.Connections() {
		if now.Sub(p.LastActivity()) > timeout {
			o.Disconnect(p, errIdle)
			n++
		}
	}
	if n > 0 {
		log.Info().Str("module", "orch").Int("count", n).Msg("reaped idle connections")
	}
	return n
}

// EvictConference cancels a conference on behalf of the operator.
func (o *Orchestrator) EvictConference(id domain.ConferenceID) error {
	members, err := o.Registry.Evict(id)
	if err != nil {
		return err
	}
	o.closeCancelled(id, members)
	return nil
}
