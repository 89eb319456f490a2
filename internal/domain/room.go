package domain

type (
	RoomID   string
	RoomCode string
)

// Settings is the room's shared presentation state.
type Settings struct {
	TempoBPM         int    `json:"current_tempo"`
	Key              string `json:"current_key"`
	FontSize         int    `json:"font_size"`
	PresentationMode bool   `json:"presentation_mode"`
}

// DefaultSettings mirrors what the backend seeds on room creation.
func DefaultSettings() Settings {
	return Settings{TempoBPM: 120, Key: "C", FontSize: 16}
}

// SettingsPatch is a partial settings update; nil fields are left as-is.
type SettingsPatch struct {
	TempoBPM         *int    `json:"current_tempo,omitempty"`
	Key              *string `json:"current_key,omitempty"`
	FontSize         *int    `json:"font_size,omitempty"`
	PresentationMode *bool   `json:"presentation_mode,omitempty"`
}

// Room is one room's synchronized state.
// Invariants: exactly one admin; CurrentSong/NextSong are either empty or
// present in Playlist; Playlist entries are unique by song id.
type Room struct {
	ID          RoomID                    `json:"id"`
	Code        RoomCode                  `json:"code"`
	Name        string                    `json:"name"`
	AdminID     UserID                    `json:"admin_id"`
	CurrentSong SongID                    `json:"current_song_id,omitempty"`
	NextSong    SongID                    `json:"next_song_id,omitempty"`
	Playlist    []SongID                  `json:"playlist"`
	Songs       map[SongID]SongRef        `json:"songs,omitempty"`
	Settings    Settings                  `json:"settings"`
	Members     map[UserID]Member         `json:"members,omitempty"`
	Recordings  map[RecordingID]Recording `json:"recordings,omitempty"`
	Active      bool                      `json:"is_active"`
}

// Clone returns a deep copy. Every read handed outside the sync core goes
// through here so callers can never mutate shared state.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	if r.Playlist != nil {
		out.Playlist = make([]SongID, len(r.Playlist))
		copy(out.Playlist, r.Playlist)
	}
	if r.Songs != nil {
		out.Songs = make(map[SongID]SongRef, len(r.Songs))
		for id, s := range r.Songs {
			out.Songs[id] = s
		}
	}
	if r.Members != nil {
		out.Members = make(map[UserID]Member, len(r.Members))
		for id, m := range r.Members {
			out.Members[id] = m
		}
	}
	if r.Recordings != nil {
		out.Recordings = make(map[RecordingID]Recording, len(r.Recordings))
		for id, rec := range r.Recordings {
			out.Recordings[id] = rec
		}
	}
	return &out
}

// InPlaylist reports whether the playlist references the song.
func (r *Room) InPlaylist(id SongID) bool {
	for _, s := range r.Playlist {
		if s == id {
			return true
		}
	}
	return false
}
