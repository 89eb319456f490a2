package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chordboard/roomsync/internal/config"
	"github.com/chordboard/roomsync/internal/domain"
)

func newTestServer(t *testing.T) (*httptest.Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(&config.Config{Mode: "release", Secret: "test-secret"})
	srv := httptest.NewServer(s.SetupRouter(ctx))
	t.Cleanup(srv.Close)
	return srv, cancel
}

func postJSON(t *testing.T, url, token string, body any, out any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func registerUser(t *testing.T, baseURL, email string) string {
	t.Helper()
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	resp := postJSON(t, baseURL+"/api/auth/register", "", map[string]string{
		"email": email, "name": "tester", "password": "hunter2",
	}, &tok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: status %d", resp.StatusCode)
	}
	return tok.AccessToken
}

func createRoom(t *testing.T, baseURL, token string) domain.Room {
	t.Helper()
	var room domain.Room
	resp := postJSON(t, baseURL+"/api/rooms/create", token, map[string]string{"name": "rehearsal"}, &room)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create room: status %d", resp.StatusCode)
	}
	return room
}

func getSnapshot(t *testing.T, baseURL, token string, roomID domain.RoomID) domain.Snapshot {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/rooms/"+string(roomID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get room: status %d", resp.StatusCode)
	}
	var snap domain.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestAuth(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	t.Run("RegisterThenLogin", func(t *testing.T) {
		registerUser(t, srv.URL, "ana@example.com")
		var tok struct {
			AccessToken string `json:"access_token"`
		}
		resp := postJSON(t, srv.URL+"/api/auth/login", "", map[string]string{
			"email": "ana@example.com", "password": "hunter2",
		}, &tok)
		if resp.StatusCode != http.StatusOK || tok.AccessToken == "" {
			t.Fatalf("login failed: status %d", resp.StatusCode)
		}
	})

	t.Run("DuplicateEmailConflicts", func(t *testing.T) {
		registerUser(t, srv.URL, "bea@example.com")
		resp := postJSON(t, srv.URL+"/api/auth/register", "", map[string]string{
			"email": "bea@example.com", "name": "again", "password": "x",
		}, nil)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("expected 409, got %d", resp.StatusCode)
		}
	})

	t.Run("BadPasswordRejected", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/auth/login", "", map[string]string{
			"email": "ana@example.com", "password": "wrong",
		}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("OverlongNameRejected", func(t *testing.T) {
		long := strings.Repeat("a", domain.MaxUserNameLen+1)
		resp := postJSON(t, srv.URL+"/api/auth/register", "", map[string]string{
			"email": "long@example.com", "name": long, "password": "x",
		}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("RoomsRequireToken", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/rooms/create", "", map[string]string{"name": "x"}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
	})
}

func TestRoomSequencing(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	admin := registerUser(t, srv.URL, "admin@example.com")
	room := createRoom(t, srv.URL, admin)
	if room.Code == "" || room.AdminID == "" {
		t.Fatalf("room missing code or admin: %+v", room)
	}

	snap := getSnapshot(t, srv.URL, admin, room.ID)
	if snap.Seq != 0 {
		t.Errorf("fresh room should be at seq 0, got %d", snap.Seq)
	}

	var ack struct {
		Seq uint64 `json:"seq"`
	}
	resp := postJSON(t, srv.URL+"/api/rooms/"+string(room.ID)+"/set-current-song?song_id=s1", admin, nil, &ack)
	if resp.StatusCode != http.StatusOK || ack.Seq != 1 {
		t.Fatalf("expected ack seq 1, got status %d seq %d", resp.StatusCode, ack.Seq)
	}

	resp = postJSON(t, srv.URL+"/api/rooms/"+string(room.ID)+"/transpose", admin, map[string]string{"to_key": "G"}, &ack)
	if resp.StatusCode != http.StatusOK || ack.Seq != 2 {
		t.Fatalf("expected ack seq 2, got status %d seq %d", resp.StatusCode, ack.Seq)
	}

	snap = getSnapshot(t, srv.URL, admin, room.ID)
	if snap.Seq != 2 || snap.Room.CurrentSong != "s1" || snap.Room.Settings.Key != "G" {
		t.Errorf("snapshot should reflect both mutations: %+v at seq %d", snap.Room, snap.Seq)
	}
}

func TestAdminGate(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	admin := registerUser(t, srv.URL, "admin@example.com")
	member := registerUser(t, srv.URL, "member@example.com")
	room := createRoom(t, srv.URL, admin)

	resp := postJSON(t, srv.URL+"/api/rooms/"+string(room.ID)+"/set-current-song?song_id=s1", member, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin mutation, got %d", resp.StatusCode)
	}
	snap := getSnapshot(t, srv.URL, admin, room.ID)
	if snap.Seq != 0 {
		t.Errorf("denied mutation must not advance the sequence, got %d", snap.Seq)
	}
}

func dialStream(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func TestEventStream(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	admin := registerUser(t, srv.URL, "admin@example.com")
	room := createRoom(t, srv.URL, admin)

	conn := dialStream(t, srv, admin)
	join, _ := json.Marshal(domain.JoinRoomFrame{Type: "join_room", RoomID: room.ID, UserID: room.AdminID, UserName: "Ana"})
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, conn)
	if ev.Type != domain.EventUserJoined || ev.Seq != 1 {
		t.Fatalf("expected user_joined at seq 1, got %s at %d", ev.Type, ev.Seq)
	}

	// A REST mutation shows up on the stream with the next seq.
	postJSON(t, srv.URL+"/api/rooms/"+string(room.ID)+"/set-current-song?song_id=s1", admin, nil, nil)
	ev = readEvent(t, conn)
	if ev.Type != domain.EventSongChanged || ev.Seq != 2 {
		t.Fatalf("expected song_changed at seq 2, got %s at %d", ev.Type, ev.Seq)
	}
	var p domain.SongChangedPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.SongID != "s1" {
		t.Errorf("expected payload song s1, got %s (err %v)", ev.Payload, err)
	}

	t.Run("InvalidTokenRejected", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=garbage"
		if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
			t.Error("expected dial to fail with a bad token")
		}
	})
}

// A client dropped for being slow must leave the roster the same way a
// clean disconnect does: with a sequenced user_left the room can apply.
func TestSlowClientDropEmitsUserLeft(t *testing.T) {
	s := NewServer(&config.Config{Mode: "release", Secret: "test-secret"})
	rs := s.state.createRoom("rehearsal", "admin-1")
	roomID := rs.room.ID

	observer := newClient("admin-1")
	s.hub.register(observer)
	s.joinStream(observer, domain.JoinRoomFrame{Type: "join_room", RoomID: roomID, UserID: "admin-1", UserName: "Ana"})

	slow := newClient("laggard")
	s.hub.register(slow)
	s.joinStream(slow, domain.JoinRoomFrame{Type: "join_room", RoomID: roomID, UserID: "laggard", UserName: "Lag"})

	// Saturate the laggard's send buffer so the next broadcast drops it.
	for slow.trySend([]byte("{}")) {
	}
	ev, err := rs.mutate(domain.EventSongChanged, "admin-1",
		domain.SongChangedPayload{SongID: "s1"},
		func(room *domain.Room) error {
			room.CurrentSong = "s1"
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	s.broadcastEvent(ev)

	if _, ok := rs.snapshot().Room.Members["laggard"]; ok {
		t.Error("dropped client must be removed from the roster")
	}
	if slow.trySend([]byte("{}")) {
		t.Error("dropped client must be closed")
	}

	sawLeft := false
	for done := false; !done; {
		select {
		case data := <-observer.send:
			var got domain.Event
			if json.Unmarshal(data, &got) != nil || got.Type != domain.EventUserLeft {
				continue
			}
			var p domain.UserLeftPayload
			if json.Unmarshal(got.Payload, &p) == nil && p.UserID == "laggard" {
				sawLeft = true
			}
		default:
			done = true
		}
	}
	if !sawLeft {
		t.Error("expected a user_left event for the dropped client")
	}
}
