package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chordboard/roomsync/internal/domain"
)

// DefaultActionTimeout bounds how long a dispatched action may wait for
// its confirming event before the optimistic update is rolled back.
const DefaultActionTimeout = 5 * time.Second

type ActionType string

const (
	ActionSetCurrentSong      ActionType = "set_current_song"
	ActionSetNextSong         ActionType = "set_next_song"
	ActionTranspose           ActionType = "transpose"
	ActionSetTempo            ActionType = "set_tempo"
	ActionLoadPlaylist        ActionType = "load_playlist"
	ActionUpdateSettings      ActionType = "update_settings"
	ActionSetPresentationMode ActionType = "set_presentation_mode"
)

// Action is one admin-initiated room mutation. Only the field matching
// Type is read.
type Action struct {
	Type     ActionType
	SongID   domain.SongID
	Key      string
	TempoBPM int
	SongIDs  []domain.SongID
	Settings *domain.SettingsPatch
	Enabled  bool
}

// Sender carries an action to the backend. The REST client implements it;
// tests substitute fakes to assert nothing is sent on permission failures.
type Sender interface {
	SendAction(ctx context.Context, roomID domain.RoomID, a Action) error
}

// runner executes fn on the goroutine that owns the store, blocking until
// it has run. The session supplies its event loop so every commit and diff
// publication is serialized with event application; a nil runner runs fn
// inline.
type runner func(fn func())

// segment is the pre-dispatch slice of room state an action may touch,
// kept for rollback. Restoring only the touched segment means events that
// were confirmed while the action was in flight are not undone.
type segment struct {
	songPointers bool
	settings     bool
	current      domain.SongID
	next         domain.SongID
	playlist     []domain.SongID
	set          domain.Settings
}

type pendingAction struct {
	seg     segment
	timer   *time.Timer
	confirm chan error
	done    bool
}

// Dispatcher validates and sends admin actions, applying each one
// optimistically to the local store and rolling it back if the backend
// rejects it or no confirming event arrives within the timeout.
type Dispatcher struct {
	roomID  domain.RoomID
	self    domain.UserID
	store   *Store
	rec     *Reconciler
	reg     *Registry
	sender  Sender
	timeout time.Duration
	run     runner

	mu      sync.Mutex
	pending map[domain.EventType][]*pendingAction
	closed  bool
}

func NewDispatcher(roomID domain.RoomID, self domain.UserID, store *Store, rec *Reconciler, reg *Registry, sender Sender, timeout time.Duration, run runner) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	if run == nil {
		run = func(fn func()) { fn() }
	}
	return &Dispatcher{
		roomID:  roomID,
		self:    self,
		store:   store,
		rec:     rec,
		reg:     reg,
		sender:  sender,
		timeout: timeout,
		run:     run,
		pending: make(map[domain.EventType][]*pendingAction),
	}
}

// Dispatch applies the action optimistically, sends it, and blocks until
// the confirming event arrives, the backend rejects it, or the timeout
// fires. Non-admin callers fail with ErrPermissionDenied before anything
// touches the network or the store.
func (d *Dispatcher) Dispatch(ctx context.Context, a Action) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrSessionClosed
	}
	d.mu.Unlock()

	room, err := d.store.Current()
	if err != nil {
		return err
	}
	if room.AdminID != d.self {
		return ErrPermissionDenied
	}

	ev, evType, err := synthesize(a, d.roomID, d.self)
	if err != nil {
		return err
	}
	// Optimistic apply at the current sequence number, executed on the
	// store-owning goroutine so it can never commit over a concurrently
	// applied event. The segment is captured in the same critical section:
	// rollback restores the values that were live at apply time.
	var seg segment
	d.run(func() {
		clone := d.store.clone()
		seg = captureSegment(a.Type, clone)
		changed := d.rec.Reconcile(ev, clone)
		seq := d.store.Seq()
		d.store.commit(clone, seq)
		d.reg.Publish(Diff{Seq: seq, Type: evType, Room: *clone.Clone(), Changed: changed})
	})

	p := &pendingAction{seg: seg, confirm: make(chan error, 1)}
	d.mu.Lock()
	d.pending[evType] = append(d.pending[evType], p)
	p.timer = time.AfterFunc(d.timeout, func() {
		d.expire(evType, p)
	})
	d.mu.Unlock()

	if err := d.sender.SendAction(ctx, d.roomID, a); err != nil {
		d.abort(evType, p)
		return fmt.Errorf("%w: %v", ErrActionRejected, err)
	}

	select {
	case err := <-p.confirm:
		return err
	case <-ctx.Done():
		d.abort(evType, p)
		return ctx.Err()
	}
}

// Confirm is called by the session whenever an event was applied; a
// pending action waiting on that event type is acknowledged FIFO.
func (d *Dispatcher) Confirm(evType domain.EventType) {
	d.mu.Lock()
	queue := d.pending[evType]
	var p *pendingAction
	if len(queue) > 0 {
		p = queue[0]
		d.pending[evType] = queue[1:]
		p.done = true
		p.timer.Stop()
	}
	d.mu.Unlock()
	if p != nil {
		p.confirm <- nil
	}
}

// Close fails every in-flight action; their timers never fire afterwards.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	for evType, queue := range d.pending {
		for _, p := range queue {
			if !p.done {
				p.done = true
				p.timer.Stop()
				p.confirm <- ErrSessionClosed
			}
		}
		delete(d.pending, evType)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) expire(evType domain.EventType, p *pendingAction) {
	if !d.remove(evType, p) {
		return
	}
	d.rollback(evType, p.seg)
	p.confirm <- ErrActionTimeout
}

func (d *Dispatcher) abort(evType domain.EventType, p *pendingAction) {
	if !d.remove(evType, p) {
		return
	}
	p.timer.Stop()
	d.rollback(evType, p.seg)
}

// remove unlinks a pending action; false means it already resolved.
func (d *Dispatcher) remove(evType domain.EventType, p *pendingAction) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.done {
		return false
	}
	p.done = true
	queue := d.pending[evType]
	for i, q := range queue {
		if q == p {
			d.pending[evType] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	return true
}

func (d *Dispatcher) rollback(evType domain.EventType, seg segment) {
	d.run(func() {
		clone := d.store.clone()
		if clone == nil {
			return
		}
		changed := restoreSegment(seg, clone)
		seq := d.store.Seq()
		d.store.commit(clone, seq)
		d.reg.Publish(Diff{Seq: seq, Type: domain.EventActionRollback, Room: *clone.Clone(), Changed: changed})
	})
	log.Warn().Str("module", "sync.dispatcher").Str("room", string(d.roomID)).Str("event", string(evType)).Msg("optimistic update rolled back")
}

func captureSegment(t ActionType, room *domain.Room) segment {
	seg := segment{}
	switch t {
	case ActionSetCurrentSong, ActionSetNextSong, ActionLoadPlaylist:
		seg.songPointers = true
		seg.current = room.CurrentSong
		seg.next = room.NextSong
		seg.playlist = make([]domain.SongID, len(room.Playlist))
		copy(seg.playlist, room.Playlist)
	case ActionTranspose, ActionSetTempo, ActionUpdateSettings, ActionSetPresentationMode:
		seg.settings = true
		seg.set = room.Settings
	}
	return seg
}

func restoreSegment(seg segment, room *domain.Room) []string {
	changed := []string{}
	if seg.songPointers {
		room.CurrentSong = seg.current
		room.NextSong = seg.next
		room.Playlist = make([]domain.SongID, len(seg.playlist))
		copy(room.Playlist, seg.playlist)
		changed = append(changed, "current_song", "next_song", "playlist")
	}
	if seg.settings {
		room.Settings = seg.set
		changed = append(changed, "settings")
	}
	return changed
}

// synthesize builds the local event an action is expected to produce on
// the backend, used for the optimistic apply.
func synthesize(a Action, roomID domain.RoomID, actor domain.UserID) (domain.Event, domain.EventType, error) {
	var (
		evType  domain.EventType
		payload any
	)
	switch a.Type {
	case ActionSetCurrentSong:
		evType = domain.EventSongChanged
		payload = domain.SongChangedPayload{SongID: a.SongID}
	case ActionSetNextSong:
		evType = domain.EventNextSongChanged
		payload = domain.SongChangedPayload{SongID: a.SongID}
	case ActionTranspose:
		evType = domain.EventTransposeChanged
		payload = domain.TransposeChangedPayload{NewKey: a.Key}
	case ActionSetTempo:
		evType = domain.EventTempoChanged
		payload = domain.TempoChangedPayload{TempoBPM: a.TempoBPM}
	case ActionLoadPlaylist:
		evType = domain.EventPlaylistLoaded
		payload = domain.PlaylistLoadedPayload{SongIDs: a.SongIDs}
	case ActionUpdateSettings:
		evType = domain.EventSettingsChanged
		if a.Settings == nil {
			return domain.Event{}, "", fmt.Errorf("update_settings action without a patch")
		}
		payload = *a.Settings
	case ActionSetPresentationMode:
		evType = domain.EventPresentationModeChanged
		payload = domain.PresentationModePayload{Enabled: a.Enabled}
	default:
		return domain.Event{}, "", fmt.Errorf("unknown action type %q", a.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, "", err
	}
	return domain.Event{
		RoomID:    roomID,
		Type:      evType,
		Payload:   raw,
		ActorID:   actor,
		Timestamp: time.Now(),
	}, evType, nil
}
