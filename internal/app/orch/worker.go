package orch

import (
	"context"
	"errors"

	"github.com/dkeye/confrelay/internal/codec"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RunWorker owns conn until it fails or ctx is done. It reads frames one at a
// time, answers control commands on the same connection and relays media.
// The participant is always disconnected on return.
func (o *Orchestrator) RunWorker(ctx context.Context, conn core.Conn) {
	p := core.NewParticipant(conn)
	o.Registry.Attach(p)
	stop := context.AfterFunc(ctx, conn.Close)
	defer stop()

	log.Info().Str("module", "orch.worker").Str("pid", string(p.ID)).Str("remote", conn.RemoteAddr()).Str("transport", string(conn.Kind())).Msg("participant connected")

	limiter := rate.NewLimiter(o.Limits.ControlRate, o.Limits.ControlBurst)
	var reason error
	defer func() { o.Disconnect(p, reason) }()

	for {
		f, err := conn.Receive()
		if err != nil {
			if errors.Is(err, core.ErrMalformedPacket) {
				log.Warn().Err(err).Str("module", "orch.worker").Str("pid", string(p.ID)).Msg("malformed frame dropped")
				continue
			}
			if isTeardown(err) {
				err = core.ErrConnectionClosed
			}
			reason = err
			return
		}
		p.Touch()

		if f.Type == core.DataControl {
			resp := codec.Response{Status: codec.StatusRateLimited}
			if limiter.Allow() {
				resp = o.HandleControl(p, f.Payload)
			} else if len(f.Payload) > 0 {
				resp.Code = codec.CommandCode(f.Payload[0])
			}
			if err := conn.Send(resp.Frame()); err != nil && !isTeardown(err) {
				log.Warn().Err(err).Str("module", "orch.worker").Str("pid", string(p.ID)).Msg("control response not queued")
			}
			continue
		}

		p.Stamp(&f)
		o.OnFrame(p, f)
	}
}
