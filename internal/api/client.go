// Package api is the REST client for the backend collaborators: auth,
// room snapshots, admin actions, and the opaque song/recording services.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"

	"github.com/chordboard/roomsync/internal/domain"
	"github.com/chordboard/roomsync/internal/sync"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

const requestTimeout = 10 * time.Second

// Client talks to the backend REST API with Bearer-token auth. It
// implements sync.SnapshotFetcher and sync.Sender.
type Client struct {
	baseURL string
	token   string
	self    domain.UserID
	http    *http.Client
}

// NewClient builds a client for baseURL. The caller's identity is read
// from the token's subject claim; the signature is the backend's to
// verify, the client only needs the identity for the local admin gate.
func NewClient(baseURL, token string) (*Client, error) {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
	if token != "" {
		self, err := identityFromToken(token)
		if err != nil {
			return nil, fmt.Errorf("api: bad token: %w", err)
		}
		c.self = self
	}
	return c, nil
}

// Self is the user id carried by the bearer token.
func (c *Client) Self() domain.UserID { return c.self }

// Token returns the bearer token, for handing to the event stream.
func (c *Client) Token() string { return c.token }

func identityFromToken(token string) (domain.UserID, error) {
	claims := jwt.MapClaims{}
	// Unverified parse: the client is not the trust boundary.
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return domain.UserID(sub), nil
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		return domain.UserID(uid), nil
	}
	return "", errors.New("token carries no subject")
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Register creates an account and returns a ready-to-use client bound to
// the issued token.
func Register(ctx context.Context, baseURL, email, name, password string) (*Client, error) {
	return authenticate(ctx, baseURL, "/api/auth/register", map[string]string{
		"email": email, "name": name, "password": password,
	})
}

// Login exchanges credentials for a token-bound client.
func Login(ctx context.Context, baseURL, email, password string) (*Client, error) {
	return authenticate(ctx, baseURL, "/api/auth/login", map[string]string{
		"email": email, "password": password,
	})
}

func authenticate(ctx context.Context, baseURL, path string, body map[string]string) (*Client, error) {
	anon := &Client{baseURL: baseURL, http: &http.Client{Timeout: requestTimeout}}
	var tok tokenResponse
	if err := anon.do(ctx, http.MethodPost, path, body, &tok); err != nil {
		return nil, err
	}
	return NewClient(baseURL, tok.AccessToken)
}

// FetchSnapshot implements sync.SnapshotFetcher.
func (c *Client) FetchSnapshot(ctx context.Context, roomID domain.RoomID) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(string(roomID)), nil, &snap)
	return snap, err
}

// CreateRoom makes a new room owned by the caller.
func (c *Client) CreateRoom(ctx context.Context, name string) (domain.Room, error) {
	var room domain.Room
	err := c.do(ctx, http.MethodPost, "/api/rooms/create", map[string]string{"name": name}, &room)
	return room, err
}

// JoinRoom joins by 6-char room code.
func (c *Client) JoinRoom(ctx context.Context, code domain.RoomCode, instrument string) (domain.Room, error) {
	var room domain.Room
	err := c.do(ctx, http.MethodPost, "/api/rooms/join", map[string]string{
		"room_code": string(code), "instrument": instrument,
	}, &room)
	return room, err
}

// SendAction implements sync.Sender, mapping each action to its endpoint.
func (c *Client) SendAction(ctx context.Context, roomID domain.RoomID, a sync.Action) error {
	base := "/api/rooms/" + url.PathEscape(string(roomID))
	switch a.Type {
	case sync.ActionSetCurrentSong:
		return c.do(ctx, http.MethodPost, base+"/set-current-song?song_id="+url.QueryEscape(string(a.SongID)), nil, nil)
	case sync.ActionSetNextSong:
		return c.do(ctx, http.MethodPost, base+"/set-next-song?song_id="+url.QueryEscape(string(a.SongID)), nil, nil)
	case sync.ActionTranspose:
		return c.do(ctx, http.MethodPost, base+"/transpose", map[string]string{"to_key": a.Key}, nil)
	case sync.ActionSetTempo:
		return c.do(ctx, http.MethodPost, base+"/settings", domain.SettingsPatch{TempoBPM: &a.TempoBPM}, nil)
	case sync.ActionLoadPlaylist:
		return c.do(ctx, http.MethodPost, base+"/playlist", map[string][]domain.SongID{"song_ids": a.SongIDs}, nil)
	case sync.ActionUpdateSettings:
		return c.do(ctx, http.MethodPost, base+"/settings", a.Settings, nil)
	case sync.ActionSetPresentationMode:
		return c.do(ctx, http.MethodPost, base+fmt.Sprintf("/presentation-mode?enabled=%t", a.Enabled), nil, nil)
	default:
		return fmt.Errorf("api: unknown action type %q", a.Type)
	}
}

// NextSong advances the room playlist server-side.
func (c *Client) NextSong(ctx context.Context, roomID domain.RoomID) error {
	return c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(string(roomID))+"/playlist/next", nil, nil)
}

// SearchSong resolves a title/artist pair to a full song reference. The
// response is opaque to the sync core.
func (c *Client) SearchSong(ctx context.Context, title, artist string) (domain.SongRef, error) {
	var song domain.SongRef
	err := c.do(ctx, http.MethodPost, "/api/songs/search", map[string]string{
		"title": title, "artist": artist,
	}, &song)
	return song, err
}

// IntelligentSearch runs the backend's AI search; results are opaque refs.
func (c *Client) IntelligentSearch(ctx context.Context, query string) ([]domain.SongRef, error) {
	var out struct {
		Songs []domain.SongRef `json:"songs"`
	}
	err := c.do(ctx, http.MethodPost, "/api/songs/intelligent-search", map[string]string{"query": query}, &out)
	return out.Songs, err
}

// RecognizeAudio uploads an audio sample and asks the backend's
// recognition provider to identify it. A miss is not an error: the bool
// reports whether anything was recognized.
func (c *Client) RecognizeAudio(ctx context.Context, audio io.Reader, filename string) (domain.SongRef, bool, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return domain.SongRef{}, false, err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return domain.SongRef{}, false, err
	}
	if err := mw.Close(); err != nil {
		return domain.SongRef{}, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/songs/recognize-audio", &buf)
	if err != nil {
		return domain.SongRef{}, false, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Recognized bool           `json:"recognized"`
		Song       domain.SongRef `json:"song"`
	}
	if err := c.send(req, &out); err != nil {
		return domain.SongRef{}, false, err
	}
	return out.Song, out.Recognized, nil
}

// RepertoireRequest parameterizes the AI repertoire builder.
type RepertoireRequest struct {
	Style           string `json:"style"`
	DurationMinutes int    `json:"duration_minutes"`
	EnergyLevel     string `json:"energy_level"`
	AudienceType    string `json:"audience_type"`
}

// RepertoireEntry is one suggested song. Entries are title/artist text,
// not song ids: resolve them through SearchSong before loading a playlist.
type RepertoireEntry struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Duration string `json:"duration"`
}

// GenerateRepertoire asks the backend to build a set list for the room.
// Admin-gated server-side; the response is opaque to the sync core.
func (c *Client) GenerateRepertoire(ctx context.Context, roomID domain.RoomID, req RepertoireRequest) ([]RepertoireEntry, error) {
	var out struct {
		Repertoire []RepertoireEntry `json:"repertoire"`
	}
	err := c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(string(roomID))+"/generate-repertoire", req, &out)
	return out.Repertoire, err
}

// Recordings lists a room's recording descriptors.
func (c *Client) Recordings(ctx context.Context, roomID domain.RoomID) ([]domain.Recording, error) {
	var out struct {
		Recordings []domain.Recording `json:"recordings"`
	}
	err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(string(roomID))+"/recordings", nil, &out)
	return out.Recordings, err
}

// StartRecording asks the backend to open a recording; the descriptor
// arrives back through the event stream as recording_started.
func (c *Client) StartRecording(ctx context.Context, roomID domain.RoomID) (domain.Recording, error) {
	var rec domain.Recording
	err := c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(string(roomID))+"/start-recording", nil, &rec)
	return rec, err
}

// StopRecording closes a recording.
func (c *Client) StopRecording(ctx context.Context, roomID domain.RoomID, recID domain.RecordingID) error {
	return c.do(ctx, http.MethodPost,
		"/api/rooms/"+url.PathEscape(string(roomID))+"/stop-recording/"+url.PathEscape(string(recID)), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// send attaches auth, maps error statuses, and decodes the response.
func (c *Client) send(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	method, path := req.Method, req.URL.Path
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("api: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Warn().Err(err).Str("module", "api").Str("path", path).Msg("response decode failed")
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}
