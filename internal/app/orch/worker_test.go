package orch_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dkeye/confrelay/internal/adapters/stream"
	"github.com/dkeye/confrelay/internal/app/orch"
	"github.com/dkeye/confrelay/internal/codec"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/dkeye/confrelay/internal/domain"
	"golang.org/x/time/rate"
)

type peer struct {
	t    *testing.T
	conn net.Conn
}

func connect(t *testing.T, ctx context.Context, o *orch.Orchestrator) *peer {
	t.Helper()
	client, server := net.Pipe()
	go o.RunWorker(ctx, stream.NewConn(server, stream.Options{MaxFrameSize: 1024}))
	t.Cleanup(func() { _ = client.Close() })
	return &peer{t: t, conn: client}
}

func (p *peer) send(typ core.DataType, body []byte) {
	p.t.Helper()
	_ = p.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := codec.WriteFrame(p.conn, codec.EncodeApp(typ, body)); err != nil {
		p.t.Fatalf("send: %v", err)
	}
}

func (p *peer) read() (core.DataType, []byte) {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(time.Second))
	payload, err := codec.ReadFrame(p.conn, 1<<16)
	if err != nil {
		p.t.Fatalf("read: %v", err)
	}
	typ, body, err := codec.DecodeApp(payload)
	if err != nil {
		p.t.Fatalf("decode: %v", err)
	}
	return typ, body
}

func (p *peer) do(code codec.CommandCode, operand string) codec.Response {
	p.t.Helper()
	p.send(core.DataControl, command(code, operand))
	typ, body := p.read()
	if typ != core.DataControl {
		p.t.Fatalf("expected control response, got %v", typ)
	}
	resp, err := codec.ParseResponse(body)
	if err != nil {
		p.t.Fatal(err)
	}
	return resp
}

func (p *peer) expectMedia(typ core.DataType, body string) {
	p.t.Helper()
	gotType, got := p.read()
	if gotType != typ || string(got) != body {
		p.t.Fatalf("got %v %q, want %v %q", gotType, got, typ, body)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConferenceScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := newOrchestrator()

	a, b, c := connect(t, ctx, o), connect(t, ctx, o), connect(t, ctx, o)
	expect(t, a.do(codec.CmdCreate, ""), codec.CmdCreate, codec.StatusOK, "1")
	expect(t, b.do(codec.CmdJoin, "1"), codec.CmdJoin, codec.StatusOK, "1")
	expect(t, c.do(codec.CmdJoin, "1"), codec.CmdJoin, codec.StatusOK, "1")

	a.send(core.DataVideo, []byte("F1"))
	b.expectMedia(core.DataVideo, "F1")
	c.expectMedia(core.DataVideo, "F1")

	_ = b.conn.Close()
	conf, _ := o.Registry.Lookup(domain.ConferenceID(1))
	waitFor(t, func() bool { return conf.MemberCount() == 2 })

	a.send(core.DataVideo, []byte("F2"))
	c.expectMedia(core.DataVideo, "F2")

	// a's next frame is its own quit response: nothing was echoed and a is still connected
	expect(t, a.do(codec.CmdQuit, ""), codec.CmdQuit, codec.StatusOK, "1")
	expect(t, c.do(codec.CmdQuit, ""), codec.CmdQuit, codec.StatusOK, "1")
	if _, ok := o.Registry.Lookup(1); ok {
		t.Fatal("empty conference still registered")
	}
}

func TestCancelNoticeReachesMembersOverStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := newOrchestrator()

	a, b := connect(t, ctx, o), connect(t, ctx, o)
	a.do(codec.CmdCreate, "")
	b.do(codec.CmdJoin, "1")

	expect(t, a.do(codec.CmdCancel, ""), codec.CmdCancel, codec.StatusOK, "1")
	typ, body := b.read()
	notice, err := codec.ParseResponse(body)
	if typ != core.DataControl || err != nil {
		t.Fatalf("notice %v %v", typ, err)
	}
	expect(t, notice, codec.CmdCancel, codec.StatusOK, "1")

	for name, m := range map[string]*peer{"admin": a, "member": b} {
		_ = m.conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := codec.ReadFrame(m.conn, 64); err == nil {
			t.Fatalf("%s connection still open after cancel", name)
		}
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := newOrchestrator()
	a := connect(t, ctx, o)

	_ = a.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := codec.WriteFrame(a.conn, []byte{7, 7}); err != nil {
		t.Fatal(err)
	}
	expect(t, a.do(codec.CmdCreate, ""), codec.CmdCreate, codec.StatusOK, "1")
}

func TestControlRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := newOrchestrator()
	o.Limits.ControlRate = rate.Every(time.Hour)
	o.Limits.ControlBurst = 1
	a := connect(t, ctx, o)

	expect(t, a.do(codec.CmdCreate, ""), codec.CmdCreate, codec.StatusOK, "1")
	expect(t, a.do(codec.CmdQuit, ""), codec.CmdQuit, codec.StatusRateLimited, "")
}

func TestShutdownClosesWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := newOrchestrator()
	a := connect(t, ctx, o)
	a.do(codec.CmdCreate, "")

	cancel()
	waitFor(t, func() bool { return len(o.Registry.Connections()) == 0 })
	if _, ok := o.Registry.Lookup(1); ok {
		t.Fatal("conference survived shutdown")
	}
}
