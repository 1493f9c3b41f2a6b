package orch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/confrelay/internal/app"
	"github.com/dkeye/confrelay/internal/app/orch"
	"github.com/dkeye/confrelay/internal/codec"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/dkeye/confrelay/internal/core/mocks"
	"github.com/dkeye/confrelay/internal/domain"
	"go.uber.org/mock/gomock"
)

type recordingTransport struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (r *recordingTransport) Send(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return core.ErrTransportClosed
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingTransport) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recordingTransport) RemoteAddr() string       { return "test" }
func (r *recordingTransport) Kind() core.TransportKind { return core.TransportStream }

func (r *recordingTransport) snapshot() []core.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Frame(nil), r.frames...)
}

func (r *recordingTransport) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func newOrchestrator() *orch.Orchestrator {
	return orch.New(app.NewRegistry(), app.NewMediaDirectory(), app.SimplePolicy{}, orch.Limits{})
}

func newParticipant(o *orch.Orchestrator) (*core.Participant, *recordingTransport) {
	rt := &recordingTransport{}
	p := core.NewParticipant(rt)
	o.Registry.Attach(p)
	return p, rt
}

func command(code codec.CommandCode, operand string) []byte {
	return codec.Command{Code: code, Operand: operand}.Encode()
}

func expect(t *testing.T, got codec.Response, code codec.CommandCode, status codec.Status, operand string) {
	t.Helper()
	if got.Code != code || got.Status != status || got.Operand != operand {
		t.Fatalf("response %+v, want code=%d status=%d operand=%q", got, code, status, operand)
	}
}

func TestCreateJoinQuit(t *testing.T) {
	o := newOrchestrator()
	a, _ := newParticipant(o)
	b, _ := newParticipant(o)

	expect(t, o.HandleControl(a, command(codec.CmdCreate, "")), codec.CmdCreate, codec.StatusOK, "1")
	expect(t, o.HandleControl(a, command(codec.CmdCreate, "")), codec.CmdCreate, codec.StatusAlreadyInConference, "")
	expect(t, o.HandleControl(b, command(codec.CmdJoin, "2")), codec.CmdJoin, codec.StatusNotFound, "")
	expect(t, o.HandleControl(b, command(codec.CmdJoin, "x")), codec.CmdJoin, codec.StatusBadRequest, "")
	expect(t, o.HandleControl(b, command(codec.CmdQuit, "")), codec.CmdQuit, codec.StatusNotInConference, "")
	expect(t, o.HandleControl(b, command(codec.CmdJoin, "1")), codec.CmdJoin, codec.StatusOK, "1")
	expect(t, o.HandleControl(b, command(codec.CmdQuit, "")), codec.CmdQuit, codec.StatusOK, "1")

	if b.State() != domain.ConnConnected {
		t.Fatalf("state after quit = %v", b.State())
	}
	expect(t, o.HandleControl(b, []byte{42}), 42, codec.StatusBadRequest, "")
}

func TestCancel(t *testing.T) {
	o := newOrchestrator()
	a, art := newParticipant(o)
	b, brt := newParticipant(o)
	c, crt := newParticipant(o)

	o.HandleControl(a, command(codec.CmdCreate, ""))
	o.HandleControl(b, command(codec.CmdJoin, "1"))
	o.HandleControl(c, command(codec.CmdJoin, "1"))

	expect(t, o.HandleControl(b, command(codec.CmdCancel, "1")), codec.CmdCancel, codec.StatusForbidden, "")
	if conf, ok := o.Registry.Lookup(1); !ok || conf.MemberCount() != 3 {
		t.Fatal("rejected cancel changed the conference")
	}

	expect(t, o.HandleControl(a, command(codec.CmdCancel, "")), codec.CmdCancel, codec.StatusOK, "1")
	for name, rt := range map[string]*recordingTransport{"a": art, "b": brt, "c": crt} {
		if !rt.isClosed() {
			t.Fatalf("%s not disconnected", name)
		}
		frames := rt.snapshot()
		if len(frames) != 1 {
			t.Fatalf("%s got %d frames", name, len(frames))
		}
		notice, err := codec.ParseResponse(frames[0].Payload)
		if err != nil {
			t.Fatal(err)
		}
		expect(t, notice, codec.CmdCancel, codec.StatusOK, "1")
	}
	if a.State() != domain.ConnClosed || b.State() != domain.ConnClosed || c.State() != domain.ConnClosed {
		t.Fatalf("members state %v %v %v", a.State(), b.State(), c.State())
	}

	late, _ := newParticipant(o)
	expect(t, o.HandleControl(late, command(codec.CmdJoin, "1")), codec.CmdJoin, codec.StatusNotFound, "")
}

func TestSwitchStopsForwarding(t *testing.T) {
	o := newOrchestrator()
	a, _ := newParticipant(o)
	b, brt := newParticipant(o)
	o.HandleControl(a, command(codec.CmdCreate, ""))
	o.HandleControl(b, command(codec.CmdJoin, "1"))

	expect(t, o.HandleControl(a, command(codec.CmdSwitch, "video")), codec.CmdSwitch, codec.StatusOK, "video=0")
	o.OnFrame(a, core.Frame{Type: core.DataVideo, Payload: []byte("v")})
	o.OnFrame(a, core.Frame{Type: core.DataAudio, Payload: []byte("a")})

	frames := brt.snapshot()
	if len(frames) != 1 || frames[0].Type != core.DataAudio || frames[0].Source != a.ID {
		t.Fatalf("b received %+v", frames)
	}
	expect(t, o.HandleControl(a, command(codec.CmdSwitch, "video")), codec.CmdSwitch, codec.StatusOK, "video=1")
	expect(t, o.HandleControl(a, command(codec.CmdSwitch, "screen")), codec.CmdSwitch, codec.StatusBadRequest, "")
}

func TestMediaOutsideConferenceDropped(t *testing.T) {
	o := newOrchestrator()
	a, _ := newParticipant(o)
	if res := o.OnFrame(a, core.Frame{Type: core.DataVideo}); res.SentTo != 0 || len(res.Failed) != 0 {
		t.Fatalf("result %+v", res)
	}
}

func TestDeliveryFailureKicksMember(t *testing.T) {
	ctrl := gomock.NewController(t)
	o := newOrchestrator()
	a, _ := newParticipant(o)
	c, crt := newParticipant(o)

	slow := mocks.NewMockTransport(ctrl)
	slow.EXPECT().Send(gomock.Any()).Return(core.ErrBackpressure)
	slow.EXPECT().Close()
	slow.EXPECT().RemoteAddr().Return("slow").AnyTimes()
	slow.EXPECT().Kind().Return(core.TransportStream).AnyTimes()
	b := core.NewParticipant(slow)
	o.Registry.Attach(b)

	o.HandleControl(a, command(codec.CmdCreate, ""))
	o.HandleControl(b, command(codec.CmdJoin, "1"))
	o.HandleControl(c, command(codec.CmdJoin, "1"))

	res := o.OnFrame(a, core.Frame{Type: core.DataVideo, Payload: []byte("f")})
	if res.SentTo != 1 || len(res.Failed) != 1 || !errors.Is(res.Failed[0].Err, core.ErrBackpressure) {
		t.Fatalf("result %+v", res)
	}
	if b.State() != domain.ConnClosed || b.Conference() != nil {
		t.Fatalf("slow member not kicked: %v", b.State())
	}
	if len(crt.snapshot()) != 1 {
		t.Fatal("healthy member missed the frame")
	}

	o.OnFrame(a, core.Frame{Type: core.DataVideo, Payload: []byte("g")})
	if len(crt.snapshot()) != 2 {
		t.Fatal("healthy member missed the frame after kick")
	}
}

func TestDropPolicyKeepsSlowMember(t *testing.T) {
	o := orch.New(app.NewRegistry(), app.NewMediaDirectory(), app.DropPolicy{}, orch.Limits{})
	ctrl := gomock.NewController(t)
	slow := mocks.NewMockTransport(ctrl)
	slow.EXPECT().Send(gomock.Any()).Return(core.ErrBackpressure)

	a, _ := newParticipant(o)
	b := core.NewParticipant(slow)
	o.HandleControl(a, command(codec.CmdCreate, ""))
	o.HandleControl(b, command(codec.CmdJoin, "1"))

	o.OnFrame(a, core.Frame{Type: core.DataAudio})
	if b.State() != domain.ConnInConference {
		t.Fatalf("slow member state %v", b.State())
	}
}

func TestBindAndDatagram(t *testing.T) {
	ctrl := gomock.NewController(t)
	o := newOrchestrator()
	a, _ := newParticipant(o)
	b, _ := newParticipant(o)
	o.HandleControl(a, command(codec.CmdCreate, ""))
	o.HandleControl(b, command(codec.CmdJoin, "1"))

	expect(t, o.HandleControl(a, command(codec.CmdBind, "1234")), codec.CmdBind, codec.StatusOK, "1234")
	expect(t, o.HandleControl(b, command(codec.CmdBind, "1234")), codec.CmdBind, codec.StatusConflict, "")
	expect(t, o.HandleControl(b, command(codec.CmdBind, "-1")), codec.CmdBind, codec.StatusBadRequest, "")
	expect(t, o.HandleControl(b, command(codec.CmdBind, "99")), codec.CmdBind, codec.StatusOK, "99")

	aSink := mocks.NewMockMediaSink(ctrl)
	aSink.EXPECT().Addr().Return("10.0.0.1:4000").AnyTimes()
	bSink := mocks.NewMockMediaSink(ctrl)
	bSink.EXPECT().Addr().Return("10.0.0.2:4000").AnyTimes()

	// b announces its address first, then a's datagram must reach b's sink
	o.OnDatagram(bSink, codec.NewHeader(core.PayloadTypeL16, 0, 0, 99), []byte("hello"))
	bSink.EXPECT().SendMedia(gomock.Any()).DoAndReturn(func(f core.Frame) error {
		if f.Type != core.DataVideo || f.Source != a.ID || f.Header == nil || f.Header.SSRC != 1234 {
			t.Errorf("forwarded frame %+v", f)
		}
		return nil
	})
	o.OnDatagram(aSink, codec.NewHeader(core.PayloadTypeJPEG, 5, 0, 1234), []byte("img"))

	if a.MediaSink() != aSink || b.MediaSink() != bSink {
		t.Fatal("media addresses not learned")
	}
	o.OnDatagram(aSink, codec.NewHeader(0, 0, 0, 777), nil)

	o.Disconnect(a, nil)
	if _, ok := o.Media.Resolve(1234, 6); ok {
		t.Fatal("ssrc still bound after disconnect")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	o := newOrchestrator()
	a, _ := newParticipant(o)
	b, _ := newParticipant(o)
	o.HandleControl(a, command(codec.CmdCreate, ""))
	o.HandleControl(b, command(codec.CmdJoin, "1"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Disconnect(b, nil)
		}()
	}
	wg.Wait()

	conf, _ := o.Registry.Lookup(1)
	if conf.MemberCount() != 1 || b.State() != domain.ConnClosed {
		t.Fatalf("members=%d state=%v", conf.MemberCount(), b.State())
	}
	if len(o.Registry.Connections()) != 1 {
		t.Fatal("disconnected participant still tracked")
	}
	expect(t, o.HandleControl(b, command(codec.CmdJoin, "1")), codec.CmdJoin, codec.StatusBadRequest, "")
}

func TestReapIdle(t *testing.T) {
	o := orch.New(app.NewRegistry(), app.NewMediaDirectory(), app.SimplePolicy{}, orch.Limits{IdleTimeout: 30 * time.Millisecond})
	a, art := newParticipant(o)
	o.HandleControl(a, command(codec.CmdCreate, ""))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go o.ReapIdle(ctx)

	deadline := time.Now().Add(time.Second)
	for !art.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("idle participant not reaped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := o.Registry.Lookup(1); ok {
		t.Fatal("conference of reaped admin still open")
	}
}
