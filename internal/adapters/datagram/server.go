// Package datagram owns the UDP media socket: RTP datagrams in, RTP datagrams out.
package datagram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/dkeye/confrelay/internal/adapters/outbound"
	"github.com/dkeye/confrelay/internal/codec"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/rs/zerolog/log"
)

// Handler receives every decoded datagram together with a sink addressed
// back to its sender.
type Handler interface {
	OnDatagram(from core.MediaSink, h codec.Header, payload []byte)
}

type Server struct {
	Addr    string
	Handler Handler

	conn *net.UDPConn
	out  *outbound.Queue[outgoing]

	received atomic.Uint64
	dropped  atomic.Uint64
}

func NewServer(addr string, sendQueue int, h Handler) *Server {
	if sendQueue <= 0 {
		sendQueue = 1024
	}
	return &Server{Addr: addr, Handler: h, out: outbound.NewQueue[outgoing](sendQueue)}
}

type outgoing struct {
	buf  []byte
	sink *Sink
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.Addr)
	if err != nil {
		return fmt.Errorf("datagram resolve %s: %w", s.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("datagram listen %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, conn)
}

// Serve runs the read loop on conn until ctx is done, then stops the writer.
func (s *Server) Serve(ctx context.Context, conn *net.UDPConn) error {
	s.conn = conn
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()
	defer func() {
		s.out.Close()
		<-writerDone
	}()

	log.Info().Str("module", "adapters.datagram").Str("addr", conn.LocalAddr().String()).Msg("datagram listener started")
	buf := make([]byte, codec.MaxDatagramSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log.Info().Str("module", "adapters.datagram").Msg("datagram listener stopped")
				return nil
			}
			log.Warn().Err(err).Str("module", "adapters.datagram").Msg("read")
			continue
		}
		s.received.Add(1)
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		h, payload, err := codec.DecodeDatagram(pkt)
		if err != nil {
			log.Debug().Err(err).Str("module", "adapters.datagram").Str("from", from.String()).Msg("malformed datagram dropped")
			continue
		}
		s.Handler.OnDatagram(&Sink{srv: s, addr: from}, h, payload)
	}
}

func (s *Server) writeLoop() {
	_ = s.out.Drain(func(o outgoing) error {
		if _, err := s.conn.WriteToUDP(o.buf, o.sink.addr); err != nil {
			o.sink.fail(err)
			log.Debug().Err(err).Str("module", "adapters.datagram").Str("to", o.sink.Addr()).Msg("write failed")
		}
		return nil
	})
}

type Stats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
	Queued   int    `json:"queued"`
}

func (s *Server) Stats() Stats {
	return Stats{Received: s.received.Load(), Dropped: s.dropped.Load(), Queued: s.out.Len()}
}

// Sink delivers media to one remote UDP address through the server's writer.
type Sink struct {
	srv    *Server
	addr   *net.UDPAddr
	failed atomic.Pointer[error]
}

func (k *Sink) Addr() string { return k.addr.String() }

// SendMedia never blocks. A full queue drops the datagram; a previous write
// failure on this sink is reported.
func (k *Sink) SendMedia(f core.Frame) error {
	if errp := k.failed.Load(); errp != nil {
		return fmt.Errorf("%w: %w", core.ErrTransportClosed, *errp)
	}
	h := codec.NewHeader(core.PayloadTypeFor(f.Type), 0, 0, 0)
	if f.Header != nil {
		h = *f.Header
	}
	buf, err := codec.EncodeDatagram(h, f.Payload)
	if err != nil {
		return err
	}
	err = k.srv.out.TrySend(outgoing{buf: buf, sink: k})
	if errors.Is(err, core.ErrBackpressure) {
		k.srv.dropped.Add(1)
		return nil
	}
	return err
}

func (k *Sink) fail(err error) { k.failed.CompareAndSwap(nil, &err) }
