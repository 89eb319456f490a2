package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/chordboard/roomsync/internal/domain"
	"github.com/chordboard/roomsync/internal/sync"
)

func testToken(t *testing.T, sub string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestClientIdentity(t *testing.T) {
	t.Run("SubjectClaim", func(t *testing.T) {
		c, err := NewClient("http://example", testToken(t, "user-42"))
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		if c.Self() != "user-42" {
			t.Errorf("expected identity user-42, got %q", c.Self())
		}
	})

	t.Run("GarbageTokenRejected", func(t *testing.T) {
		if _, err := NewClient("http://example", "not-a-jwt"); err == nil {
			t.Error("expected error for a malformed token")
		}
	})

	t.Run("EmptyTokenAllowed", func(t *testing.T) {
		c, err := NewClient("http://example", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Self() != "" {
			t.Errorf("expected empty identity, got %q", c.Self())
		}
	})
}

func TestClientFetchSnapshot(t *testing.T) {
	token := testToken(t, "user-1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms/room-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+token {
			t.Errorf("missing bearer header, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(domain.Snapshot{Seq: 9, Room: domain.Room{ID: "room-1", Name: "rehearsal"}})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, token)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := c.FetchSnapshot(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snap.Seq != 9 || snap.Room.ID != "room-1" {
		t.Errorf("expected seq 9 for room-1, got %d %s", snap.Seq, snap.Room.ID)
	}
}

func TestClientSendAction(t *testing.T) {
	type call struct {
		method, path, query string
	}
	var last call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last = call{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, testToken(t, "user-1"))
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		action sync.Action
		path   string
		query  string
	}{
		{"SetCurrentSong", sync.Action{Type: sync.ActionSetCurrentSong, SongID: "s1"}, "/api/rooms/room-1/set-current-song", "song_id=s1"},
		{"SetNextSong", sync.Action{Type: sync.ActionSetNextSong, SongID: "s2"}, "/api/rooms/room-1/set-next-song", "song_id=s2"},
		{"Transpose", sync.Action{Type: sync.ActionTranspose, Key: "G"}, "/api/rooms/room-1/transpose", ""},
		{"LoadPlaylist", sync.Action{Type: sync.ActionLoadPlaylist, SongIDs: []domain.SongID{"a"}}, "/api/rooms/room-1/playlist", ""},
		{"PresentationMode", sync.Action{Type: sync.ActionSetPresentationMode, Enabled: true}, "/api/rooms/room-1/presentation-mode", "enabled=true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.SendAction(context.Background(), "room-1", tc.action); err != nil {
				t.Fatalf("send action: %v", err)
			}
			if last.method != http.MethodPost {
				t.Errorf("expected POST, got %s", last.method)
			}
			if last.path != tc.path {
				t.Errorf("expected path %s, got %s", tc.path, last.path)
			}
			if last.query != tc.query {
				t.Errorf("expected query %q, got %q", tc.query, last.query)
			}
		})
	}

	t.Run("UnknownAction", func(t *testing.T) {
		if err := c.SendAction(context.Background(), "room-1", sync.Action{Type: "dance"}); err == nil {
			t.Error("expected error for unknown action type")
		}
	})
}

func TestClientRecognizeAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/songs/recognize-audio" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart file field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "sample.webm" {
			t.Errorf("unexpected filename %q", header.Filename)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"recognized": true,
			"song":       domain.SongRef{ID: "s9", Title: "Heard It", Artist: "Them"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, testToken(t, "user-1"))
	if err != nil {
		t.Fatal(err)
	}
	song, ok, err := c.RecognizeAudio(context.Background(), strings.NewReader("not really audio"), "sample.webm")
	if err != nil {
		t.Fatalf("recognize audio: %v", err)
	}
	if !ok || song.ID != "s9" {
		t.Errorf("expected recognized song s9, got ok=%v id=%s", ok, song.ID)
	}
}

func TestClientGenerateRepertoire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms/room-1/generate-repertoire" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req RepertoireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Style != "rock" {
			t.Errorf("expected rock repertoire request, got %+v (err %v)", req, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"repertoire": []RepertoireEntry{
				{Title: "Opener", Artist: "Band", Duration: "4"},
				{Title: "Closer", Artist: "Band", Duration: "5"},
			},
			"total_songs": 2,
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, testToken(t, "user-1"))
	if err != nil {
		t.Fatal(err)
	}
	entries, err := c.GenerateRepertoire(context.Background(), "room-1", RepertoireRequest{
		Style: "rock", DurationMinutes: 60, EnergyLevel: "alta", AudienceType: "jovens",
	})
	if err != nil {
		t.Fatalf("generate repertoire: %v", err)
	}
	if len(entries) != 2 || entries[0].Title != "Opener" {
		t.Errorf("unexpected repertoire %+v", entries)
	}
}

func TestClientErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/rooms/forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/api/rooms/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, testToken(t, "user-1"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.FetchSnapshot(context.Background(), "forbidden"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := c.FetchSnapshot(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.FetchSnapshot(context.Background(), "boom"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestClientLogin(t *testing.T) {
	token := testToken(t, "user-7")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ana@example.com" {
			t.Errorf("unexpected email %q", body["email"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token, "token_type": "bearer"})
	}))
	defer srv.Close()

	c, err := Login(context.Background(), srv.URL, "ana@example.com", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if c.Self() != "user-7" {
		t.Errorf("expected identity user-7, got %q", c.Self())
	}
}
