// Package devserver is an in-memory emulation of the collaboration
// backend: the REST surface plus a websocket event stream whose events
// carry room-scoped sequence numbers. It exists for local development and
// end-to-end exercising of the sync core; it persists nothing.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/chordboard/roomsync/internal/config"
	"github.com/chordboard/roomsync/internal/domain"
)

const (
	tokenTTL = 7 * 24 * time.Hour

	// Inbound stream frames per client: sustained and burst.
	inboundRate  = 10
	inboundBurst = 20
)

type Server struct {
	cfg   *config.Config
	state *state
	hub   *hub
}

func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg, state: newState(), hub: newHub()}
}

func genClientToken() string {
	return uuid.NewString()
}

func clientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter builds the gin engine with the full emulated API.
func (s *Server) SetupRouter(ctx context.Context) *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if s.cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(s.cfg.Secret))
	r.Use(sessions.Sessions("RoomSyncSessions", store))
	r.Use(clientTokenMiddleware())

	api := r.Group("/api")
	api.POST("/auth/register", s.handleRegister)
	api.POST("/auth/login", s.handleLogin)
	api.GET("/ws", func(c *gin.Context) { s.handleStream(ctx, c) })

	authed := api.Group("", s.authMiddleware())
	authed.POST("/rooms/create", s.handleCreateRoom)
	authed.POST("/rooms/join", s.handleJoinRoom)
	authed.GET("/rooms/:id", s.handleGetRoom)
	authed.POST("/rooms/:id/set-current-song", s.setSongHandler(false))
	authed.POST("/rooms/:id/set-next-song", s.setSongHandler(true))
	authed.POST("/rooms/:id/transpose", s.handleTranspose)
	authed.POST("/rooms/:id/settings", s.handleSettings)
	authed.POST("/rooms/:id/presentation-mode", s.handlePresentationMode)
	authed.GET("/rooms/:id/playlist", s.handleGetPlaylist)
	authed.POST("/rooms/:id/playlist", s.handleLoadPlaylist)
	authed.DELETE("/rooms/:id/playlist/:songID", s.handleRemoveFromPlaylist)
	authed.POST("/rooms/:id/playlist/next", s.handleNextSong)
	authed.POST("/rooms/:id/start-recording", s.handleStartRecording)
	authed.POST("/rooms/:id/stop-recording/:recID", s.handleStopRecording)
	authed.GET("/rooms/:id/recordings", s.handleRecordings)
	authed.POST("/rooms/:id/generate-repertoire", s.handleGenerateRepertoire)
	authed.POST("/songs/search", s.handleSearchSong)
	authed.POST("/songs/intelligent-search", s.handleIntelligentSearch)
	authed.POST("/songs/recognize-audio", s.handleRecognizeAudio)

	log.Info().Str("module", "devserver").Msg("router setup")
	return r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.SetupRouter(ctx),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("module", "devserver").Str("addr", srv.Addr).Msg("devserver started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// --- auth ---

func (s *Server) issueToken(uid domain.UserID) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   string(uid),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
}

func (s *Server) parseToken(token string) (domain.UserID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		return "", err
	}
	return domain.UserID(claims.Subject), nil
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		uid, err := s.parseToken(auth[len(prefix):])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user_id", string(uid))
		c.Next()
	}
}

func actor(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString("user_id"))
}

func (s *Server) handleRegister(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc, err := s.state.register(req.Email, req.Name, req.Password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errEmailTaken) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.respondToken(c, acc.user.ID)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc, ok := s.state.login(req.Email, req.Password)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
		return
	}
	s.respondToken(c, acc.user.ID)
}

func (s *Server) respondToken(c *gin.Context, uid domain.UserID) {
	token, err := s.issueToken(uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

// --- rooms ---

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rs := s.state.createRoom(req.Name, actor(c))
	snap := rs.snapshot()
	c.JSON(http.StatusOK, snap.Room)
}

func (s *Server) handleJoinRoom(c *gin.Context) {
	var req struct {
		RoomCode   string `json:"room_code" binding:"required"`
		Instrument string `json:"instrument"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rs, err := s.state.roomByCode(domain.RoomCode(req.RoomCode))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown room code"})
		return
	}
	c.JSON(http.StatusOK, rs.snapshot().Room)
}

func (s *Server) handleGetRoom(c *gin.Context) {
	rs, err := s.state.roomByID(domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, rs.snapshot())
}

// adminMutate runs an admin-gated room mutation and broadcasts the
// resulting sequenced event.
func (s *Server) adminMutate(c *gin.Context, evType domain.EventType, payload any, fn func(*domain.Room) error) {
	rs, err := s.state.roomByID(domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	uid := actor(c)
	if err := rs.adminOnly(uid); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	ev, err := rs.mutate(evType, uid, payload, fn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.broadcastEvent(ev)
	c.JSON(http.StatusOK, gin.H{"seq": ev.Seq})
}

func (s *Server) broadcastEvent(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("event marshal")
		return
	}
	for _, cl := range s.hub.broadcast(ev.RoomID, data) {
		s.detach(cl)
	}
}

func (s *Server) setSongHandler(next bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		songID := domain.SongID(c.Query("song_id"))
		if songID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "song_id required"})
			return
		}
		evType := domain.EventSongChanged
		if next {
			evType = domain.EventNextSongChanged
		}
		s.adminMutate(c, evType, domain.SongChangedPayload{SongID: songID}, func(room *domain.Room) error {
			if !room.InPlaylist(songID) {
				room.Playlist = append(room.Playlist, songID)
			}
			if next {
				room.NextSong = songID
			} else {
				room.CurrentSong = songID
			}
			return nil
		})
	}
}

func (s *Server) handleTranspose(c *gin.Context) {
	var req struct {
		ToKey string `json:"to_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.adminMutate(c, domain.EventTransposeChanged, domain.TransposeChangedPayload{NewKey: req.ToKey}, func(room *domain.Room) error {
		room.Settings.Key = req.ToKey
		return nil
	})
}

func (s *Server) handleSettings(c *gin.Context) {
	var patch domain.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.adminMutate(c, domain.EventSettingsChanged, patch, func(room *domain.Room) error {
		if patch.TempoBPM != nil && *patch.TempoBPM > 0 {
			room.Settings.TempoBPM = *patch.TempoBPM
		}
		if patch.Key != nil && *patch.Key != "" {
			room.Settings.Key = *patch.Key
		}
		if patch.FontSize != nil && *patch.FontSize > 0 {
			room.Settings.FontSize = *patch.FontSize
		}
		if patch.PresentationMode != nil {
			room.Settings.PresentationMode = *patch.PresentationMode
		}
		return nil
	})
}

func (s *Server) handlePresentationMode(c *gin.Context) {
	enabled, err := strconv.ParseBool(c.Query("enabled"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled must be a bool"})
		return
	}
	s.adminMutate(c, domain.EventPresentationModeChanged, domain.PresentationModePayload{Enabled: enabled}, func(room *domain.Room) error {
		room.Settings.PresentationMode = enabled
		return nil
	})
}

func (s *Server) handleGetPlaylist(c *gin.Context) {
	rs, err := s.state.roomByID(domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"song_ids": rs.snapshot().Room.Playlist})
}

func (s *Server) handleLoadPlaylist(c *gin.Context) {
	var req struct {
		SongIDs []domain.SongID `json:"song_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.loadPlaylist(c, req.SongIDs)
}

func (s *Server) handleRemoveFromPlaylist(c *gin.Context) {
	rs, err := s.state.roomByID(domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	drop := domain.SongID(c.Param("songID"))
	remaining := []domain.SongID{}
	for _, id := range rs.snapshot().Room.Playlist {
		if id != drop {
			remaining = append(remaining, id)
		}
	}
	s.loadPlaylist(c, remaining)
}

// loadPlaylist replaces the playlist wholesale, nulling song pointers that
// are no longer present, and broadcasts playlist_loaded.
func (s *Server) loadPlaylist(c *gin.Context, songIDs []domain.SongID) {
	s.adminMutate(c, domain.EventPlaylistLoaded, domain.PlaylistLoadedPayload{SongIDs: songIDs}, func(room *domain.Room) error {
		seen := make(map[domain.SongID]bool, len(songIDs))
		playlist := make([]domain.SongID, 0, len(songIDs))
		for _, id := range songIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			playlist = append(playlist, id)
		}
		room.Playlist = playlist
		if room.CurrentSong != "" && !seen[room.CurrentSong] {
			room.CurrentSong = ""
		}
		if room.NextSong != "" && !seen[room.NextSong] {
			room.NextSong = ""
		}
		return nil
	})
}

func (s *Server) handleNextSong(c *gin.Context) {
	// The payload is marshaled after the mutation runs, so it can carry
	// the promoted song id.
	payload := &domain.SongChangedPayload{}
	s.adminMutate(c, domain.EventSongChanged, payload, func(room *domain.Room) error {
		if room.NextSong == "" {
			return fmt.Errorf("no next song queued")
		}
		payload.SongID = room.NextSong
		room.CurrentSong = room.NextSong
		room.NextSong = ""
		return nil
	})
}

func (s *Server) handleStartRecording(c *gin.Context) {
	uid := actor(c)
	rec := domain.Recording{
		ID:        domain.RecordingID(uuid.NewString()),
		Filename:  fmt.Sprintf("recording_%s_%s.webm", c.Param("id"), time.Now().Format("20060102_150405")),
		CreatedBy: uid,
		CreatedAt: time.Now().UTC(),
		Volume:    1.0,
	}
	s.adminMutate(c, domain.EventRecordingStarted,
		domain.RecordingPayload{RecordingID: rec.ID, Recording: &rec},
		func(room *domain.Room) error {
			if room.Recordings == nil {
				room.Recordings = make(map[domain.RecordingID]domain.Recording)
			}
			room.Recordings[rec.ID] = rec
			return nil
		})
}

func (s *Server) handleStopRecording(c *gin.Context) {
	recID := domain.RecordingID(c.Param("recID"))
	s.adminMutate(c, domain.EventRecordingStopped,
		domain.RecordingPayload{RecordingID: recID},
		func(room *domain.Room) error {
			rec, ok := room.Recordings[recID]
			if !ok {
				return fmt.Errorf("unknown recording %s", recID)
			}
			rec.Playing = false
			room.Recordings[recID] = rec
			return nil
		})
}

func (s *Server) handleRecordings(c *gin.Context) {
	rs, err := s.state.roomByID(domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	room := rs.snapshot().Room
	recs := make([]domain.Recording, 0, len(room.Recordings))
	for _, rec := range room.Recordings {
		recs = append(recs, rec)
	}
	c.JSON(http.StatusOK, gin.H{"recordings": recs})
}

// handleSearchSong fabricates a song reference; the real backend proxies a
// lyrics/chords provider here.
func (s *Server) handleSearchSong(c *gin.Context) {
	var req struct {
		Title  string `json:"title" binding:"required"`
		Artist string `json:"artist" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, domain.SongRef{
		ID:     domain.SongID(uuid.NewString()),
		Title:  req.Title,
		Artist: req.Artist,
		Key:    "C",
		Tempo:  120,
	})
}

// handleIntelligentSearch fabricates AI search results.
func (s *Server) handleIntelligentSearch(c *gin.Context) {
	var req struct {
		Query string `json:"query" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	songs := make([]domain.SongRef, 0, 3)
	for i := 0; i < 3; i++ {
		songs = append(songs, domain.SongRef{
			ID:     domain.SongID(uuid.NewString()),
			Title:  fmt.Sprintf("%s #%d", req.Query, i+1),
			Artist: "Various",
			Key:    "C",
			Tempo:  120,
		})
	}
	c.JSON(http.StatusOK, gin.H{"songs": songs})
}

// handleRecognizeAudio consumes the uploaded sample and answers with a
// fabricated match; the real backend proxies a recognition provider.
func (s *Server) handleRecognizeAudio(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	defer file.Close()
	c.JSON(http.StatusOK, gin.H{
		"recognized": true,
		"song": domain.SongRef{
			ID:     domain.SongID(uuid.NewString()),
			Title:  "Recognized Sample",
			Artist: "Unknown Artist",
			Key:    "C",
			Tempo:  120,
		},
	})
}

func (s *Server) handleGenerateRepertoire(c *gin.Context) {
	rs, err := s.state.roomByID(domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err := rs.adminOnly(actor(c)); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	var req struct {
		Style           string `json:"style" binding:"required"`
		DurationMinutes int    `json:"duration_minutes"`
		EnergyLevel     string `json:"energy_level"`
		AudienceType    string `json:"audience_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries := make([]gin.H, 0, 12)
	for i := 0; i < 12; i++ {
		entries = append(entries, gin.H{
			"title":    fmt.Sprintf("%s set piece %d", req.Style, i+1),
			"artist":   "Various",
			"duration": "4",
		})
	}
	c.JSON(http.StatusOK, gin.H{"repertoire": entries, "total_songs": len(entries)})
}

// --- event stream ---

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleStream(ctx context.Context, c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		auth := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(auth) > len(prefix) {
			token = auth[len(prefix):]
		}
	}
	uid, err := s.parseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("ws upgrade")
		return
	}
	cl := newClient(uid)
	s.hub.register(cl)
	log.Info().Str("module", "devserver").Str("user", string(uid)).Msg("stream attached")

	connCtx, cancel := context.WithCancel(ctx)
	go s.writePump(connCtx, ws, cl)
	s.readPump(connCtx, ws, cl)
	cancel()
	s.detach(cl)
	_ = ws.Close()
}

// detach drops the client and, if it was in a room, emits user_left.
// Unregistering first keeps the client out of the user_left broadcast, so
// a drop mid-broadcast cannot re-enter detach for the same client.
func (s *Server) detach(cl *client) {
	roomID := cl.room()
	s.hub.unregister(cl)
	if roomID != "" {
		s.emitLeave(cl, roomID)
	}
}

func (s *Server) writePump(ctx context.Context, ws *websocket.Conn, cl *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-cl.send:
			if !ok {
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "devserver").Msg("writePump write error")
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, ws *websocket.Conn, cl *client) {
	lim := rate.NewLimiter(rate.Limit(inboundRate), inboundBurst)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Info().Str("module", "devserver").Str("user", string(cl.userID)).Msg("stream detached")
			}
			return
		}
		if !lim.Allow() {
			log.Warn().Str("module", "devserver").Str("user", string(cl.userID)).Msg("inbound frame rate limited")
			continue
		}
		s.handleFrame(cl, data)
	}
}

func (s *Server) handleFrame(cl *client, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "devserver").Msg("bad frame json")
		return
	}
	switch env.Type {
	case "join_room":
		var frame domain.JoinRoomFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		s.joinStream(cl, frame)
	case "leave_room":
		if roomID := cl.room(); roomID != "" {
			s.emitLeave(cl, roomID)
			s.hub.leave(cl)
		}
	default:
		log.Warn().Str("module", "devserver").Str("type", env.Type).Msg("unknown frame")
	}
}

func (s *Server) joinStream(cl *client, frame domain.JoinRoomFrame) {
	rs, err := s.state.roomByID(frame.RoomID)
	if err != nil {
		log.Warn().Str("module", "devserver").Str("room", string(frame.RoomID)).Msg("join for unknown room")
		return
	}
	if frame.UserName != "" {
		cl.userName = frame.UserName
	}
	s.hub.join(cl, frame.RoomID)
	joined := time.Now().UTC()
	ev, err := rs.mutate(domain.EventUserJoined, cl.userID,
		domain.UserJoinedPayload{UserID: cl.userID, UserName: cl.userName, JoinedAt: joined},
		func(room *domain.Room) error {
			if room.Members == nil {
				room.Members = make(map[domain.UserID]domain.Member)
			}
			if _, ok := room.Members[cl.userID]; !ok {
				room.Members[cl.userID] = domain.Member{UserID: cl.userID, Name: cl.userName, JoinedAt: joined}
			}
			return nil
		})
	if err == nil {
		s.broadcastEvent(ev)
	}
}

func (s *Server) emitLeave(cl *client, roomID domain.RoomID) {
	rs, err := s.state.roomByID(roomID)
	if err != nil {
		return
	}
	ev, err := rs.mutate(domain.EventUserLeft, cl.userID,
		domain.UserLeftPayload{UserID: cl.userID},
		func(room *domain.Room) error {
			delete(room.Members, cl.userID)
			return nil
		})
	if err == nil {
		s.broadcastEvent(ev)
	}
}
