package domain

import (
	"reflect"
	"testing"
)

func TestRoomClone(t *testing.T) {
	room := &Room{
		ID:          "room-1",
		AdminID:     "u1",
		CurrentSong: "A",
		Playlist:    []SongID{"A", "B"},
		Songs:       map[SongID]SongRef{"A": {ID: "A", Title: "Alright"}},
		Settings:    DefaultSettings(),
		Members:     map[UserID]Member{"u1": {UserID: "u1", Name: "Ana"}},
		Recordings:  map[RecordingID]Recording{"r1": {ID: "r1", Volume: 1}},
	}

	clone := room.Clone()
	if !reflect.DeepEqual(room, clone) {
		t.Fatal("clone must equal the original")
	}

	clone.Playlist[0] = "X"
	clone.Members["u2"] = Member{UserID: "u2"}
	clone.Songs["A"] = SongRef{ID: "A", Title: "Changed"}
	delete(clone.Recordings, "r1")

	if room.Playlist[0] != "A" {
		t.Error("playlist shared between clone and original")
	}
	if len(room.Members) != 1 {
		t.Error("members map shared between clone and original")
	}
	if room.Songs["A"].Title != "Alright" {
		t.Error("songs map shared between clone and original")
	}
	if _, ok := room.Recordings["r1"]; !ok {
		t.Error("recordings map shared between clone and original")
	}
}

func TestRoomCloneNil(t *testing.T) {
	var room *Room
	if room.Clone() != nil {
		t.Error("nil room clones to nil")
	}
}

func TestInPlaylist(t *testing.T) {
	room := &Room{Playlist: []SongID{"A", "B"}}
	if !room.InPlaylist("A") {
		t.Error("expected A in playlist")
	}
	if room.InPlaylist("Z") {
		t.Error("Z is not in playlist")
	}
}

func TestNewUser(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		u, err := NewUser("Ana")
		if err != nil || u.ID == "" {
			t.Fatalf("expected user with id, got %v (err %v)", u, err)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := NewUser(""); err != ErrUserNameEmpty {
			t.Errorf("expected ErrUserNameEmpty, got %v", err)
		}
	})

	t.Run("TooLong", func(t *testing.T) {
		long := make([]byte, MaxUserNameLen+1)
		for i := range long {
			long[i] = 'a'
		}
		if _, err := NewUser(string(long)); err != ErrUserNameTooLong {
			t.Errorf("expected ErrUserNameTooLong, got %v", err)
		}
	})
}
