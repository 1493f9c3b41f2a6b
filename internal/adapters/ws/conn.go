// Package ws is the WebSocket participant transport: one binary message per
// application payload.
package ws

import (
	"fmt"
	"time"

	"github.com/dkeye/confrelay/internal/adapters/outbound"
	"github.com/dkeye/confrelay/internal/codec"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	MaxFrameSize int
	SendQueue    int
	WriteTimeout time.Duration
	PingPeriod   time.Duration
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
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	return o
}

// pongWait is the read deadline; PingPeriod is nine tenths of it.
func (o Options) pongWait() time.Duration { return o.PingPeriod * 10 / 9 }

// Conn adapts a gorilla connection to core.Conn.
type Conn struct {
	ws    *websocket.Conn
	out   *outbound.Queue[core.Frame]
	opts  Options
	token string
	done  chan struct{}
}

func NewConn(ws *websocket.Conn, token string, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		ws:    ws,
		out:   outbound.NewQueue[core.Frame](opts.SendQueue),
		opts:  opts,
		token: token,
		done:  make(chan struct{}),
	}
	// +1 for the tag byte
	ws.SetReadLimit(int64(opts.MaxFrameSize) + 1)
	_ = ws.SetReadDeadline(time.Now().Add(opts.pongWait()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.pongWait()))
	})
	go c.writeLoop()
	go c.pingLoop()
	return c
}

func (c *Conn) Receive() (core.Frame, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
			log.Debug().Err(err).Str("module", "adapters.ws").Str("token", c.token).Msg("unexpected close")
		}
		return core.Frame{}, fmt.Errorf("%w: %v", core.ErrConnectionClosed, err)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait()))
	if mt != websocket.BinaryMessage {
		return core.Frame{}, fmt.Errorf("%w: websocket message type %d", core.ErrMalformedPacket, mt)
	}
	return codec.DecodeFrame(data)
}

func (c *Conn) Send(f core.Frame) error { return c.out.TrySend(f) }

func (c *Conn) Close() { c.out.Close() }

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

func (c *Conn) Kind() core.TransportKind { return core.TransportWebSocket }

func (c *Conn) writeLoop() {
	defer close(c.done)
	err := c.out.Drain(func(f core.Frame) error {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return err
		}
		return c.ws.WriteMessage(websocket.BinaryMessage, codec.EncodeFrame(f))
	})
	if err != nil {
		log.Debug().Err(err).Str("module", "adapters.ws").Str("token", c.token).Msg("write failed")
	} else {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
	}
	_ = c.ws.Close()
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				log.Debug().Err(err).Str("module", "adapters.ws").Str("token", c.token).Msg("ping failed")
				c.out.Fail(core.ErrTransportClosed)
				return
			}
		}
	}
}
