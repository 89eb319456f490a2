package sync

// Verdict is the sequencer's ruling on one incoming event.
type Verdict int

const (
	// Accept: the event is the next contiguous one; apply it.
	Accept Verdict = iota
	// Duplicate: already applied (same or older seq); drop silently.
	Duplicate
	// Gap: one or more events were missed; the local projection is
	// invalid until a snapshot resync resets the counter.
	Gap
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Duplicate:
		return "duplicate"
	case Gap:
		return "gap"
	}
	return "unknown"
}

// Sequencer validates the room-scoped monotonic sequence numbers on
// incoming events. It guards a single room; the session owns one per room
// and calls it from its event loop only, so no locking here.
type Sequencer struct {
	last   uint64
	primed bool
}

// Observe rules on an event's sequence number and advances the counter on
// Accept. Before the first snapshot primes the counter every event is a
// Gap: there is nothing to apply a diff to.
func (s *Sequencer) Observe(seq uint64) Verdict {
	if !s.primed {
		return Gap
	}
	switch {
	case seq == s.last+1:
		s.last = seq
		return Accept
	case seq <= s.last:
		return Duplicate
	default:
		return Gap
	}
}

// Reset pins the counter to a snapshot's sequence number.
func (s *Sequencer) Reset(seq uint64) {
	s.last = seq
	s.primed = true
}

// Last returns the last applied sequence number.
func (s *Sequencer) Last() uint64 { return s.last }
