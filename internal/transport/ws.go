package transport

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chordboard/roomsync/internal/domain"
)

const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
	writeDeadline      = 5 * time.Second
	sendQueueSize      = 32
	eventQueueSize     = 64
)

// backoffDelay is full-jitter exponential backoff: a uniform draw from
// [0, min(cap, base*2^attempt)].
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	ceil := base
	for i := 0; i < attempt && ceil < cap; i++ {
		ceil *= 2
	}
	if ceil > cap {
		ceil = cap
	}
	return time.Duration(rand.Int63n(int64(ceil) + 1))
}

// WSChannel is the websocket Channel. One read pump and one write pump
// run per live connection, in the same shape as a server-side signal
// adapter, plus a supervisor loop that redials on unexpected drops.
type WSChannel struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	base   time.Duration
	cap    time.Duration

	events     chan domain.Event
	reconnects chan struct{}
	send       chan []byte

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// NewWSChannel prepares a channel for the given stream URL; token is sent
// as a Bearer credential on the upgrade request.
func NewWSChannel(url, token string) *WSChannel {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return &WSChannel{
		url:        url,
		header:     h,
		dialer:     websocket.DefaultDialer,
		base:       defaultBackoffBase,
		cap:        defaultBackoffCap,
		events:     make(chan domain.Event, eventQueueSize),
		reconnects: make(chan struct{}, 1),
		send:       make(chan []byte, sendQueueSize),
	}
}

func (c *WSChannel) Events() <-chan domain.Event { return c.events }
func (c *WSChannel) Reconnects() <-chan struct{} { return c.reconnects }

// Connect dials until the first connection succeeds (with backoff), then
// hands the stream to a supervisor goroutine that redials on drops.
func (c *WSChannel) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return ErrClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dialLoop(ctx)
	if err != nil {
		return err
	}
	go c.supervise(ctx, conn)
	return nil
}

// Send queues a client frame for the write pump. It fails fast instead of
// blocking: the caller decides how to surface a stalled connection.
func (c *WSChannel) Send(v any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// dialLoop retries with full-jitter backoff until a dial succeeds or ctx
// ends. Every success announces a reconnect.
func (c *WSChannel) dialLoop(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 0; ; attempt++ {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err == nil {
			log.Info().Str("module", "transport.ws").Str("url", c.url).Msg("connected")
			c.announceReconnect()
			return conn, nil
		}
		delay := backoffDelay(attempt, c.base, c.cap)
		log.Warn().Err(err).Str("module", "transport.ws").Dur("retry_in", delay).Msg("dial failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *WSChannel) announceReconnect() {
	select {
	case c.reconnects <- struct{}{}:
	default:
		// A pending notification already covers this reconnect.
	}
}

// supervise owns the redial cycle: run pumps, and when the connection
// drops, dial again unless the channel was closed.
func (c *WSChannel) supervise(ctx context.Context, conn *websocket.Conn) {
	for {
		c.pump(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			log.Info().Str("module", "transport.ws").Msg("channel closed")
			return
		}
		log.Warn().Str("module", "transport.ws").Msg("connection dropped, redialing")
		next, err := c.dialLoop(ctx)
		if err != nil {
			return
		}
		conn = next
	}
}

// pump runs the write pump alongside the blocking read loop and returns
// when either side fails.
func (c *WSChannel) pump(ctx context.Context, conn *websocket.Conn) {
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	go c.writePump(connCtx, conn)
	c.readPump(connCtx, conn)
}

func (c *WSChannel) writePump(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("writePump set deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *WSChannel) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("readPump read error")
			}
			return
		}
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Str("module", "transport.ws").Msg("malformed event frame dropped")
			continue
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
