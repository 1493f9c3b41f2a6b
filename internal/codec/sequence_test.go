package codec_test

import (
	"testing"

	"github.com/dkeye/confrelay/internal/codec"
)

func TestSequenceTracker(t *testing.T) {
	var tr codec.SequenceTracker
	steps := []struct {
		seq  uint16
		want codec.SequenceEvent
		gap  uint16
	}{
		{65533, codec.SeqFirst, 0},
		{65534, codec.SeqInOrder, 0},
		{65535, codec.SeqInOrder, 0},
		{0, codec.SeqInOrder, 0},
		{0, codec.SeqDuplicate, 0},
		{3, codec.SeqGap, 2},
		{2, codec.SeqLate, 0},
		{4, codec.SeqInOrder, 0},
	}
	for i, s := range steps {
		ev, gap := tr.Observe(s.seq)
		if ev != s.want || gap != s.gap {
			t.Fatalf("step %d seq %d: got %v/%d want %v/%d", i, s.seq, ev, gap, s.want, s.gap)
		}
	}
	st := tr.Stats()
	if st.Received != uint64(len(steps)) || st.Lost != 2 || st.Late != 1 || st.Dup != 1 || st.Last != 4 {
		t.Fatalf("stats %+v", st)
	}
}
