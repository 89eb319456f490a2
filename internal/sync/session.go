package sync

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chordboard/roomsync/internal/domain"
	"github.com/chordboard/roomsync/internal/transport"
)

// SnapshotFetcher retrieves the authoritative room state, used to prime
// the store and to repair it after a sequence gap.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, roomID domain.RoomID) (domain.Snapshot, error)
}

const resyncRetryDelay = time.Second

// SessionConfig wires one room session. Channel, Snapshots and Sender are
// injected: the session owns their use, never their construction.
type SessionConfig struct {
	RoomID   domain.RoomID
	Self     domain.UserID
	SelfName string

	Channel   transport.Channel
	Snapshots SnapshotFetcher
	Sender    Sender

	ActionTimeout time.Duration

	// ForceResync pins the fallback mode for backends that do not number
	// their events: every event triggers a snapshot refetch instead of a
	// diff application. Events arriving with Seq 0 select this per event
	// automatically.
	ForceResync bool
}

// Session owns one room's synchronized state: a single goroutine consumes
// transport events, reconnect notices and resync results, so all store
// mutations are serialized and diffs reach subscribers in sequence order.
type Session struct {
	cfg   SessionConfig
	store *Store
	seq   *Sequencer
	rec   *Reconciler
	reg   *Registry
	disp  *Dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	commands     chan func()
	resyncResult chan domain.Snapshot
	resyncing    bool
	ready        chan struct{}
	primed       bool
	done         chan struct{}
	closeOnce    stdsync.Once
}

// Open connects the channel, announces the join, and blocks until the
// first snapshot has primed the store (bounded by ctx).
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("session: empty room id")
	}
	if cfg.Channel == nil || cfg.Snapshots == nil {
		return nil, fmt.Errorf("session: channel and snapshot fetcher are required")
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:          cfg,
		store:        NewStore(),
		seq:          &Sequencer{},
		rec:          &Reconciler{},
		reg:          NewRegistry(),
		ctx:          sctx,
		cancel:       cancel,
		commands:     make(chan func()),
		resyncResult: make(chan domain.Snapshot, 1),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.disp = NewDispatcher(cfg.RoomID, cfg.Self, s.store, s.rec, s.reg, cfg.Sender, cfg.ActionTimeout, s.runOnLoop)

	if err := cfg.Channel.Connect(sctx); err != nil {
		cancel()
		return nil, fmt.Errorf("session: connect: %w", err)
	}
	if err := cfg.Channel.Send(domain.JoinRoomFrame{
		Type:     "join_room",
		RoomID:   cfg.RoomID,
		UserID:   cfg.Self,
		UserName: cfg.SelfName,
	}); err != nil {
		log.Warn().Err(err).Str("module", "sync.session").Str("room", string(cfg.RoomID)).Msg("join frame not sent")
	}

	go s.run()

	// The connect above announced a reconnect, which the loop answers
	// with the initial snapshot fetch.
	select {
	case <-s.ready:
		return s, nil
	case <-sctx.Done():
		s.Close()
		return nil, sctx.Err()
	}
}

// Subscribe attaches a diff listener; see Registry.Subscribe.
func (s *Session) Subscribe(fn Listener) (unsubscribe func()) {
	return s.reg.Subscribe(fn)
}

// Room returns a read-only copy of the current projection.
func (s *Session) Room() (domain.Room, error) {
	return s.store.Current()
}

// Seq returns the last applied sequence number.
func (s *Session) Seq() uint64 { return s.seq.Last() }

// Dispatch sends an admin action with optimistic local application.
func (s *Session) Dispatch(ctx context.Context, a Action) error {
	return s.disp.Dispatch(ctx, a)
}

// Close leaves the room and tears the session down: pending action timers
// are stopped, subscribers detached, the channel closed. Safe to call twice.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.cfg.Channel.Send(domain.LeaveRoomFrame{
			Type:   "leave_room",
			RoomID: s.cfg.RoomID,
			UserID: s.cfg.Self,
		})
		s.cancel()
		<-s.done
		s.disp.Close()
		s.reg.Clear()
		_ = s.cfg.Channel.Close()
		log.Info().Str("module", "sync.session").Str("room", string(s.cfg.RoomID)).Msg("session closed")
	})
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.commands:
			fn()
		case <-s.cfg.Channel.Reconnects():
			s.startResync("reconnect")
		case snap := <-s.resyncResult:
			s.applySnapshot(snap)
		case ev := <-s.cfg.Channel.Events():
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev domain.Event) {
	if ev.RoomID != "" && ev.RoomID != s.cfg.RoomID {
		log.Debug().Str("module", "sync.session").Str("room", string(ev.RoomID)).Msg("event for another room dropped")
		return
	}
	if s.resyncing {
		// The pending snapshot supersedes anything received meanwhile.
		return
	}
	if ev.Type == domain.EventRoomSync {
		var snap domain.Snapshot
		if err := json.Unmarshal(ev.Payload, &snap); err != nil {
			log.Warn().Err(err).Str("module", "sync.session").Msg("bad room_sync payload, forcing resync")
			s.startResync("bad room_sync payload")
			return
		}
		s.applySnapshot(snap)
		return
	}
	if s.cfg.ForceResync || ev.Seq == 0 {
		s.startResync("unsequenced event")
		return
	}

	switch s.seq.Observe(ev.Seq) {
	case Accept:
		s.apply(ev)
	case Duplicate:
		log.Debug().Str("module", "sync.session").Uint64("seq", ev.Seq).Str("type", string(ev.Type)).Msg("duplicate event dropped")
	case Gap:
		log.Warn().Str("module", "sync.session").Uint64("seq", ev.Seq).Uint64("last", s.seq.Last()).Msg("sequence gap")
		s.startResync("sequence gap")
	}
}

func (s *Session) apply(ev domain.Event) {
	clone := s.store.clone()
	changed := s.rec.Reconcile(ev, clone)
	s.store.commit(clone, ev.Seq)
	s.reg.Publish(Diff{Seq: ev.Seq, Type: ev.Type, Room: *clone.Clone(), Changed: changed})
	s.disp.Confirm(ev.Type)
}

func (s *Session) applySnapshot(snap domain.Snapshot) {
	s.store.ApplySnapshot(snap)
	s.seq.Reset(snap.Seq)
	s.resyncing = false
	s.reg.Publish(Diff{Seq: snap.Seq, Type: domain.EventRoomSync, Room: *snap.Room.Clone(), Changed: []string{"room"}})
	s.disp.Confirm(domain.EventRoomSync)
	if !s.primed {
		s.primed = true
		close(s.ready)
	}
}

// runOnLoop executes fn on the event loop and waits for it, so the
// dispatcher's optimistic applies and rollbacks are serialized with event
// application and share its publication order. During teardown the
// command is dropped: the projection dies with the session.
func (s *Session) runOnLoop(fn func()) {
	done := make(chan struct{})
	select {
	case s.commands <- func() { fn(); close(done) }:
	case <-s.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-s.ctx.Done():
	}
}

// startResync kicks off a snapshot refetch unless one is already pending.
// The fetch happens off the loop; the result is fed back through
// resyncResult so application stays serialized.
func (s *Session) startResync(reason string) {
	if s.resyncing {
		return
	}
	s.resyncing = true
	log.Info().Str("module", "sync.session").Str("room", string(s.cfg.RoomID)).Str("reason", reason).Msg("resync started")
	go func() {
		for {
			snap, err := s.cfg.Snapshots.FetchSnapshot(s.ctx, s.cfg.RoomID)
			if err == nil {
				select {
				case s.resyncResult <- snap:
				case <-s.ctx.Done():
				}
				return
			}
			if s.ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("module", "sync.session").Msg("snapshot fetch failed, retrying")
			select {
			case <-time.After(resyncRetryDelay):
			case <-s.ctx.Done():
				return
			}
		}
	}()
}
