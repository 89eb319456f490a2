package domain

type SongID string

// SongRef is a song as the backend hands it out. The lyrics/chords blobs
// are opaque to the sync core: it tracks which songs a room references,
// never their content.
type SongRef struct {
	ID     SongID `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Key    string `json:"key,omitempty"`
	Genre  string `json:"genre,omitempty"`
	Tempo  int    `json:"tempo,omitempty"`
	Lyrics string `json:"lyrics,omitempty"`
	Chords string `json:"chords,omitempty"`
}
