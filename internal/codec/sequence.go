package codec

// SequenceEvent classifies an observed sequence number against the last one.
type SequenceEvent int

const (
	SeqFirst SequenceEvent = iota
	SeqInOrder
	SeqGap
	SeqDuplicate
	SeqLate
)

func (e SequenceEvent) String() string {
	switch e {
	case SeqFirst:
		return "first"
	case SeqInOrder:
		return "in_order"
	case SeqGap:
		return "gap"
	case SeqDuplicate:
		return "duplicate"
	case SeqLate:
		return "late"
	}
	return "unknown"
}

// SequenceStats are cumulative counters of one tracked stream.
type SequenceStats struct {
	Received uint64 `json:"received"`
	Lost     uint64 `json:"lost"`
	Late     uint64 `json:"late"`
	Dup      uint64 `json:"duplicate"`
	Last     uint16 `json:"last_sequence"`
}

// SequenceTracker detects loss and reordering on a 16-bit wrapping sequence.
// It never reorders; packets are classified and counted only. Not safe for
// concurrent use.
type SequenceTracker struct {
	started bool
	stats   SequenceStats
}

// Observe records seq and returns its classification with the number of
// packets skipped for SeqGap.
func (t *SequenceTracker) Observe(seq uint16) (SequenceEvent, uint16) {
	t.stats.Received++
	if !t.started {
		t.started = true
		t.stats.Last = seq
		return SeqFirst, 0
	}
	delta := seq - t.stats.Last
	switch {
	case delta == 0:
		t.stats.Dup++
		return SeqDuplicate, 0
	case delta == 1:
		t.stats.Last = seq
		return SeqInOrder, 0
	case delta < 0x8000:
		t.stats.Last = seq
		t.stats.Lost += uint64(delta - 1)
		return SeqGap, delta - 1
	default:
		t.stats.Late++
		return SeqLate, 0
	}
}

func (t *SequenceTracker) Stats() SequenceStats { return t.stats }
