package outbound_test

import (
	"errors"
	"testing"

	"github.com/dkeye/confrelay/internal/adapters/outbound"
	"github.com/dkeye/confrelay/internal/core"
)

func TestQueueBackpressure(t *testing.T) {
	q := outbound.NewQueue[int](2)
	if err := q.TrySend(1); err != nil {
		t.Fatal(err)
	}
	if err := q.TrySend(2); err != nil {
		t.Fatal(err)
	}
	if err := q.TrySend(3); !errors.Is(err, core.ErrBackpressure) {
		t.Fatalf("full queue: %v", err)
	}
}

func TestQueueDrainsAfterClose(t *testing.T) {
	q := outbound.NewQueue[int](4)
	_ = q.TrySend(1)
	_ = q.TrySend(2)
	if !q.Close() {
		t.Fatal("first close reported false")
	}
	if q.Close() {
		t.Fatal("second close reported true")
	}
	if err := q.TrySend(3); !errors.Is(err, core.ErrTransportClosed) {
		t.Fatalf("send after close: %v", err)
	}

	var got []int
	if err := q.Drain(func(v int) error { got = append(got, v); return nil }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("drained %v", got)
	}
}

func TestQueueWriteErrorFailsQueue(t *testing.T) {
	q := outbound.NewQueue[int](4)
	_ = q.TrySend(1)
	_ = q.TrySend(2)
	boom := errors.New("boom")

	calls := 0
	err := q.Drain(func(int) error { calls++; return boom })
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("drain = %v after %d writes", err, calls)
	}
	if err := q.TrySend(3); !errors.Is(err, boom) {
		t.Fatalf("send after failure: %v", err)
	}
}
