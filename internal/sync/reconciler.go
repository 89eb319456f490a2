package sync

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/chordboard/roomsync/internal/domain"
)

// Diff is the result of applying one event: the post-apply room snapshot
// plus which parts of it changed, for UI consumers that toast on specific
// transitions.
type Diff struct {
	Seq     uint64
	Type    domain.EventType
	Room    domain.Room
	Changed []string
}

// Reconciler maps each event type onto a pure state transition. Every
// transition is total: malformed or missing payload fields degrade to a
// no-op for that field with a warning, and never unwind to the caller.
type Reconciler struct{}

// Reconcile mutates room (a private clone owned by the caller) according
// to the event and reports what changed. The caller commits the clone
// afterwards, so a half-understood payload can never leave the store in a
// partially applied state.
func (r *Reconciler) Reconcile(ev domain.Event, room *domain.Room) []string {
	switch ev.Type {
	case domain.EventUserJoined:
		return r.userJoined(ev, room)
	case domain.EventUserLeft:
		return r.userLeft(ev, room)
	case domain.EventSongChanged:
		return r.songChanged(ev, room, false)
	case domain.EventNextSongChanged:
		return r.songChanged(ev, room, true)
	case domain.EventTransposeChanged:
		return r.transposeChanged(ev, room)
	case domain.EventTempoChanged:
		return r.tempoChanged(ev, room)
	case domain.EventPlaylistLoaded:
		return r.playlistLoaded(ev, room)
	case domain.EventSettingsChanged:
		return r.settingsChanged(ev, room)
	case domain.EventPresentationModeChanged:
		return r.presentationMode(ev, room)
	case domain.EventRecordingStarted, domain.EventRecordingStopped,
		domain.EventRecordingPlay, domain.EventRecordingPause,
		domain.EventRecordingVolumeChanged, domain.EventRecordingDeleted:
		return r.recording(ev, room)
	default:
		log.Warn().Str("module", "sync.reconciler").Str("type", string(ev.Type)).Msg("unknown event type, ignoring")
		return nil
	}
}

// decode tolerates malformed payloads: on error it logs and reports false,
// leaving v zero-valued so the transition no-ops per field.
func decode(ev domain.Event, v any) bool {
	if len(ev.Payload) == 0 {
		log.Warn().Str("module", "sync.reconciler").Str("type", string(ev.Type)).Uint64("seq", ev.Seq).Msg("empty payload")
		return false
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		log.Warn().Err(err).Str("module", "sync.reconciler").Str("type", string(ev.Type)).Uint64("seq", ev.Seq).Msg("malformed payload")
		return false
	}
	return true
}

func (r *Reconciler) userJoined(ev domain.Event, room *domain.Room) []string {
	var p domain.UserJoinedPayload
	if !decode(ev, &p) || p.UserID == "" {
		return nil
	}
	if room.Members == nil {
		room.Members = make(map[domain.UserID]domain.Member)
	}
	// Joining twice with the same user id is an idempotent upsert.
	m, ok := room.Members[p.UserID]
	if !ok {
		m = domain.Member{UserID: p.UserID, JoinedAt: p.JoinedAt}
		if m.JoinedAt.IsZero() {
			m.JoinedAt = ev.Timestamp
		}
	}
	if p.UserName != "" {
		m.Name = p.UserName
	}
	room.Members[p.UserID] = m
	return []string{"members"}
}

func (r *Reconciler) userLeft(ev domain.Event, room *domain.Room) []string {
	var p domain.UserLeftPayload
	if !decode(ev, &p) || p.UserID == "" {
		return nil
	}
	if _, ok := room.Members[p.UserID]; !ok {
		return nil
	}
	delete(room.Members, p.UserID)
	return []string{"members"}
}

func (r *Reconciler) songChanged(ev domain.Event, room *domain.Room, next bool) []string {
	var p domain.SongChangedPayload
	if !decode(ev, &p) {
		return nil
	}
	if p.SongID == "" && p.Song != nil {
		p.SongID = p.Song.ID
	}
	if p.SongID == "" {
		return nil
	}
	changed := []string{}
	if p.Song != nil {
		if room.Songs == nil {
			room.Songs = make(map[domain.SongID]domain.SongRef)
		}
		room.Songs[p.SongID] = *p.Song
		changed = append(changed, "songs")
	}
	// Current/next must reference a playlist entry; an out-of-playlist
	// song is appended (unique by id) rather than dropped.
	if !room.InPlaylist(p.SongID) {
		room.Playlist = append(room.Playlist, p.SongID)
		changed = append(changed, "playlist")
	}
	if next {
		room.NextSong = p.SongID
		return append(changed, "next_song")
	}
	room.CurrentSong = p.SongID
	return append(changed, "current_song")
}

func (r *Reconciler) transposeChanged(ev domain.Event, room *domain.Room) []string {
	var p domain.TransposeChangedPayload
	if !decode(ev, &p) || p.NewKey == "" {
		return nil
	}
	room.Settings.Key = p.NewKey
	return []string{"settings.key"}
}

func (r *Reconciler) tempoChanged(ev domain.Event, room *domain.Room) []string {
	var p domain.TempoChangedPayload
	if !decode(ev, &p) || p.TempoBPM <= 0 {
		return nil
	}
	room.Settings.TempoBPM = p.TempoBPM
	return []string{"settings.tempo"}
}

func (r *Reconciler) playlistLoaded(ev domain.Event, room *domain.Room) []string {
	var p domain.PlaylistLoadedPayload
	if !decode(ev, &p) || p.SongIDs == nil {
		return nil
	}
	playlist := make([]domain.SongID, 0, len(p.SongIDs))
	seen := make(map[domain.SongID]bool, len(p.SongIDs))
	for _, id := range p.SongIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		playlist = append(playlist, id)
	}
	room.Playlist = playlist
	changed := []string{"playlist"}
	if len(p.Songs) > 0 {
		if room.Songs == nil {
			room.Songs = make(map[domain.SongID]domain.SongRef)
		}
		for id, s := range p.Songs {
			room.Songs[id] = s
		}
		changed = append(changed, "songs")
	}
	// Pointers survive only if still present in the new list.
	if room.CurrentSong != "" && !seen[room.CurrentSong] {
		room.CurrentSong = ""
		changed = append(changed, "current_song")
	}
	if room.NextSong != "" && !seen[room.NextSong] {
		room.NextSong = ""
		changed = append(changed, "next_song")
	}
	return changed
}

func (r *Reconciler) settingsChanged(ev domain.Event, room *domain.Room) []string {
	var p domain.SettingsPatch
	if !decode(ev, &p) {
		return nil
	}
	changed := []string{}
	if p.TempoBPM != nil && *p.TempoBPM > 0 {
		room.Settings.TempoBPM = *p.TempoBPM
		changed = append(changed, "settings.tempo")
	}
	if p.Key != nil && *p.Key != "" {
		room.Settings.Key = *p.Key
		changed = append(changed, "settings.key")
	}
	if p.FontSize != nil && *p.FontSize > 0 {
		room.Settings.FontSize = *p.FontSize
		changed = append(changed, "settings.font_size")
	}
	if p.PresentationMode != nil {
		room.Settings.PresentationMode = *p.PresentationMode
		changed = append(changed, "settings.presentation_mode")
	}
	return changed
}

func (r *Reconciler) presentationMode(ev domain.Event, room *domain.Room) []string {
	var p domain.PresentationModePayload
	if !decode(ev, &p) {
		return nil
	}
	room.Settings.PresentationMode = p.Enabled
	return []string{"settings.presentation_mode"}
}

func (r *Reconciler) recording(ev domain.Event, room *domain.Room) []string {
	var p domain.RecordingPayload
	if !decode(ev, &p) {
		return nil
	}
	if p.RecordingID == "" && p.Recording != nil {
		p.RecordingID = p.Recording.ID
	}
	if p.RecordingID == "" {
		return nil
	}
	if room.Recordings == nil {
		room.Recordings = make(map[domain.RecordingID]domain.Recording)
	}
	rec, exists := room.Recordings[p.RecordingID]

	switch ev.Type {
	case domain.EventRecordingStarted:
		if p.Recording != nil {
			rec = *p.Recording
		}
		rec.ID = p.RecordingID
		if rec.Volume == 0 {
			rec.Volume = 1.0
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = ev.Timestamp
		}
	case domain.EventRecordingStopped:
		if !exists {
			return nil
		}
		if p.Recording != nil && p.Recording.Duration > 0 {
			rec.Duration = p.Recording.Duration
		}
		rec.Playing = false
	case domain.EventRecordingPlay:
		// Flips the playing flag only; audio is never re-fetched here.
		if !exists {
			return nil
		}
		rec.Playing = true
	case domain.EventRecordingPause:
		if !exists {
			return nil
		}
		rec.Playing = false
	case domain.EventRecordingVolumeChanged:
		if !exists || p.Volume == nil {
			return nil
		}
		rec.Volume = *p.Volume
	case domain.EventRecordingDeleted:
		if !exists {
			return nil
		}
		delete(room.Recordings, p.RecordingID)
		return []string{"recordings"}
	}
	room.Recordings[p.RecordingID] = rec
	return []string{"recordings"}
}
