// Package stream is the TCP participant transport: u32be length-prefixed frames.
package stream

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dkeye/confrelay/internal/adapters/outbound"
	"github.com/dkeye/confrelay/internal/codec"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/rs/zerolog/log"
)

type Options struct {
	MaxFrameSize int
	SendQueue    int
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = 1 << 20
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Conn adapts one TCP connection to core.Conn. A writer goroutine owns all
// writes and closes the socket once the queue is closed and drained.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
	out  *outbound.Queue[core.Frame]
	opts Options
	done chan struct{}
}

func NewConn(c net.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	sc := &Conn{
		conn: c,
		r:    bufio.NewReader(c),
		out:  outbound.NewQueue[core.Frame](opts.SendQueue),
		opts: opts,
		done: make(chan struct{}),
	}
	go sc.writeLoop()
	return sc
}

func (c *Conn) Receive() (core.Frame, error) {
	payload, err := codec.ReadFrame(c.r, c.opts.MaxFrameSize)
	if err != nil {
		if errors.Is(err, core.ErrMalformedPacket) || errors.Is(err, core.ErrConnectionClosed) {
			return core.Frame{}, err
		}
		return core.Frame{}, fmt.Errorf("%w: %v", core.ErrConnectionClosed, err)
	}
	return codec.DecodeFrame(payload)
}

func (c *Conn) Send(f core.Frame) error { return c.out.TrySend(f) }

func (c *Conn) Close() { c.out.Close() }

// Done is closed once the socket is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *Conn) Kind() core.TransportKind { return core.TransportStream }

func (c *Conn) writeLoop() {
	defer close(c.done)
	err := c.out.Drain(func(f core.Frame) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return err
		}
		return codec.WriteFrame(c.conn, codec.EncodeFrame(f))
	})
	if err != nil {
		log.Debug().Err(err).Str("module", "adapters.stream").Str("remote", c.RemoteAddr()).Msg("write failed")
	}
	_ = c.conn.Close()
}
