package sync

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chordboard/roomsync/internal/domain"
)

// Store is the authoritative local projection of one room. It is a pure
// data holder: the only mutation paths are ApplySnapshot and commit, both
// driven by the session's serialized event loop, and every read hands out
// a deep copy so callers can never corrupt shared state.
type Store struct {
	mu   sync.RWMutex
	room *domain.Room
	seq  uint64
}

func NewStore() *Store {
	return &Store{}
}

// ApplySnapshot replaces the projection wholesale with authoritative state.
func (s *Store) ApplySnapshot(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = snap.Room.Clone()
	s.seq = snap.Seq
	log.Debug().Str("module", "sync.store").Str("room", string(snap.Room.ID)).Uint64("seq", snap.Seq).Msg("snapshot applied")
}

// commit installs a reconciled room at the given sequence number. The
// reconciler produced room from a clone, so the swap is all-or-nothing.
func (s *Store) commit(room *domain.Room, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
	s.seq = seq
}

// Current returns a deep copy of the room, or ErrNoRoom before the first
// snapshot.
func (s *Store) Current() (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.room == nil {
		return domain.Room{}, ErrNoRoom
	}
	return *s.room.Clone(), nil
}

// Seq returns the sequence number the projection reflects.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// clone hands the session a private copy to reconcile onto.
func (s *Store) clone() *domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room.Clone()
}
