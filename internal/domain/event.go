package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventUserJoined              EventType = "user_joined"
	EventUserLeft                EventType = "user_left"
	EventSongChanged             EventType = "song_changed"
	EventNextSongChanged         EventType = "next_song_changed"
	EventTransposeChanged        EventType = "transpose_changed"
	EventTempoChanged            EventType = "tempo_changed"
	EventPlaylistLoaded          EventType = "playlist_loaded"
	EventSettingsChanged         EventType = "room_settings_changed"
	EventPresentationModeChanged EventType = "presentation_mode_changed"
	EventRecordingStarted        EventType = "recording_started"
	EventRecordingStopped        EventType = "recording_stopped"
	EventRecordingPlay           EventType = "recording_play"
	EventRecordingPause          EventType = "recording_pause"
	EventRecordingVolumeChanged  EventType = "recording_volume_changed"
	EventRecordingDeleted        EventType = "recording_deleted"
	EventRoomSync                EventType = "room_sync"

	// EventActionRollback is client-local: it marks the diff published
	// when an optimistic update is undone. It never crosses the wire.
	EventActionRollback EventType = "action_rollback"
)

// Event is one room mutation as delivered on the wire. Seq is a room-scoped
// monotonic counter starting at 1; Seq 0 marks a backend that does not
// number its events, which forces the resync fallback.
type Event struct {
	RoomID    RoomID          `json:"room_id"`
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ActorID   UserID          `json:"actor_id,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// Snapshot is the full authoritative room state at Seq.
type Snapshot struct {
	Seq  uint64 `json:"seq"`
	Room Room   `json:"room"`
}

// Wire payloads, one struct per event type. Fields are pointers or
// zero-tolerant so a partially filled payload degrades per-field instead
// of failing the whole event.

type UserJoinedPayload struct {
	UserID   UserID    `json:"user_id"`
	UserName string    `json:"user_name"`
	JoinedAt time.Time `json:"joined_at"`
}

type UserLeftPayload struct {
	UserID UserID `json:"user_id"`
}

type SongChangedPayload struct {
	SongID SongID   `json:"song_id"`
	Song   *SongRef `json:"song,omitempty"`
}

type TransposeChangedPayload struct {
	NewKey string `json:"new_key"`
}

type TempoChangedPayload struct {
	TempoBPM int `json:"tempo"`
}

type PlaylistLoadedPayload struct {
	SongIDs []SongID           `json:"song_ids"`
	Songs   map[SongID]SongRef `json:"songs,omitempty"`
}

type PresentationModePayload struct {
	Enabled bool `json:"enabled"`
}

type RecordingPayload struct {
	RecordingID RecordingID `json:"recording_id"`
	Recording   *Recording  `json:"recording,omitempty"`
	Volume      *float64    `json:"volume,omitempty"`
}

// Client-to-server frames on the event stream.

type JoinRoomFrame struct {
	Type     string `json:"type"`
	RoomID   RoomID `json:"room_id"`
	UserID   UserID `json:"user_id"`
	UserName string `json:"user_name"`
}

type LeaveRoomFrame struct {
	Type   string `json:"type"`
	RoomID RoomID `json:"room_id"`
	UserID UserID `json:"user_id"`
}
