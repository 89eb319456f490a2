package sync

import (
	"testing"

	"github.com/chordboard/roomsync/internal/domain"
)

func TestRegistry(t *testing.T) {
	t.Run("DeliversInOrder", func(t *testing.T) {
		r := NewRegistry()
		var seqs []uint64
		r.Subscribe(func(d Diff) { seqs = append(seqs, d.Seq) })
		for seq := uint64(1); seq <= 5; seq++ {
			r.Publish(Diff{Seq: seq})
		}
		if len(seqs) != 5 {
			t.Fatalf("expected 5 diffs, got %d", len(seqs))
		}
		for i, seq := range seqs {
			if seq != uint64(i+1) {
				t.Fatalf("diff %d out of order: got seq %d", i, seq)
			}
		}
	})

	t.Run("EveryDiffObservable", func(t *testing.T) {
		// Two diffs published back to back must both arrive; nothing is
		// batched or dropped.
		r := NewRegistry()
		count := 0
		r.Subscribe(func(Diff) { count++ })
		r.Publish(Diff{Seq: 1, Type: domain.EventUserJoined})
		r.Publish(Diff{Seq: 2, Type: domain.EventUserLeft})
		if count != 2 {
			t.Errorf("expected 2 deliveries, got %d", count)
		}
	})

	t.Run("UnsubscribeStopsDelivery", func(t *testing.T) {
		r := NewRegistry()
		count := 0
		unsub := r.Subscribe(func(Diff) { count++ })
		r.Publish(Diff{Seq: 1})
		unsub()
		r.Publish(Diff{Seq: 2})
		if count != 1 {
			t.Errorf("expected 1 delivery, got %d", count)
		}
	})

	t.Run("UnsubscribeTwiceIsSafe", func(t *testing.T) {
		r := NewRegistry()
		unsub := r.Subscribe(func(Diff) {})
		unsub()
		unsub()
		r.Publish(Diff{Seq: 1})
	})

	t.Run("UnsubscribeFromWithinListener", func(t *testing.T) {
		r := NewRegistry()
		count := 0
		var unsub func()
		unsub = r.Subscribe(func(Diff) {
			count++
			unsub()
		})
		other := 0
		r.Subscribe(func(Diff) { other++ })

		r.Publish(Diff{Seq: 1})
		r.Publish(Diff{Seq: 2})
		if count != 1 {
			t.Errorf("self-unsubscribing listener: expected 1 delivery, got %d", count)
		}
		if other != 2 {
			t.Errorf("remaining listener: expected 2 deliveries, got %d", other)
		}
	})

	t.Run("ClearDetachesAll", func(t *testing.T) {
		r := NewRegistry()
		count := 0
		unsub := r.Subscribe(func(Diff) { count++ })
		r.Clear()
		r.Publish(Diff{Seq: 1})
		unsub() // must not panic after Clear
		if count != 0 {
			t.Errorf("expected no deliveries after Clear, got %d", count)
		}
	})
}
