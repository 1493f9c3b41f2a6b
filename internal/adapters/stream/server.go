package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dkeye/confrelay/internal/core"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Handler serves one accepted connection until it ends.
type Handler func(ctx context.Context, conn core.Conn)

type Server struct {
	Addr    string
	Options Options
	Handler Handler
}

// ListenAndServe binds Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("stream listen %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and runs Handler for each in its own
// goroutine. It closes ln when ctx is done and returns after every handler
// has returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	log.Info().Str("module", "adapters.stream").Str("addr", ln.Addr().String()).Msg("stream listener started")

	var wg conc.WaitGroup
	defer wg.Wait()

	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log.Info().Str("module", "adapters.stream").Msg("stream listener stopped")
				return nil
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			tempDelay = min(tempDelay, time.Second)
			log.Warn().Err(err).Str("module", "adapters.stream").Dur("retry_in", tempDelay).Msg("accept")
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		conn := NewConn(c, s.Options)
		wg.Go(func() { s.Handler(ctx, conn) })
	}
}
