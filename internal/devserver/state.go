package devserver

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chordboard/roomsync/internal/domain"
)

var (
	errRoomNotFound = errors.New("room not found")
	errNotAdmin     = errors.New("only the room admin may do that")
	errEmailTaken   = errors.New("email already registered")
)

// account is an in-memory demo user. The devserver emulates the backend
// contract, not its security posture, so passwords are stored as-is.
type account struct {
	user     domain.User
	password string
}

// roomState serializes all mutations of one room behind a mutex and stamps
// each with the next room-scoped sequence number.
type roomState struct {
	mu   sync.Mutex
	room domain.Room
	seq  uint64
}

// snapshot returns the room tagged with the sequence number it reflects.
func (rs *roomState) snapshot() domain.Snapshot {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return domain.Snapshot{Seq: rs.seq, Room: *rs.room.Clone()}
}

// mutate applies fn under the room lock and returns the wire event for
// the change, stamped with the new sequence number.
func (rs *roomState) mutate(evType domain.EventType, actor domain.UserID, payload any, fn func(*domain.Room) error) (domain.Event, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := fn(&rs.room); err != nil {
		return domain.Event{}, err
	}
	rs.seq++
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		RoomID:    rs.room.ID,
		Seq:       rs.seq,
		Type:      evType,
		Payload:   raw,
		ActorID:   actor,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (rs *roomState) adminOnly(actor domain.UserID) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.room.AdminID != actor {
		return errNotAdmin
	}
	return nil
}

// state is the devserver's whole in-memory world.
type state struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*roomState
	byCode map[domain.RoomCode]domain.RoomID
	users  map[string]*account // keyed by email
}

func newState() *state {
	return &state{
		rooms:  make(map[domain.RoomID]*roomState),
		byCode: make(map[domain.RoomCode]domain.RoomID),
		users:  make(map[string]*account),
	}
}

func (s *state) createRoom(name string, admin domain.UserID) *roomState {
	room := domain.Room{
		ID:       domain.RoomID(uuid.NewString()),
		Code:     domain.RoomCode(strings.ToUpper(uuid.NewString()[:6])),
		Name:     name,
		AdminID:  admin,
		Playlist: []domain.SongID{},
		Settings: domain.DefaultSettings(),
		Active:   true,
	}
	rs := &roomState{room: room}
	s.mu.Lock()
	s.rooms[room.ID] = rs
	s.byCode[room.Code] = room.ID
	s.mu.Unlock()
	return rs
}

func (s *state) roomByID(id domain.RoomID) (*roomState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.rooms[id]
	if !ok {
		return nil, errRoomNotFound
	}
	return rs, nil
}

func (s *state) roomByCode(code domain.RoomCode) (*roomState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, errRoomNotFound
	}
	return s.rooms[id], nil
}

func (s *state) register(email, name, password string) (*account, error) {
	user, err := domain.NewUser(name)
	if err != nil {
		return nil, err
	}
	user.Email = email
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[email]; exists {
		return nil, errEmailTaken
	}
	acc := &account{user: *user, password: password}
	s.users[email] = acc
	return acc, nil
}

func (s *state) login(email, password string) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.users[email]
	if !ok || acc.password != password {
		return nil, false
	}
	return acc, true
}
