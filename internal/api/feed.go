package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/veltro-project/blazingbarrels/internal/events"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

const (
	feedSendQueue  = 64
	feedWriteWait  = 5 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 30 * time.Second
	feedReadLimit  = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS policy and the token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Feed streams game events as JSON text frames to websocket clients. A
// client that cannot keep up loses events rather than slowing the bus.
type Feed struct {
	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
	bus     *events.EventBus
	logger  zerolog.Logger
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewFeed subscribes to the game events on bus.
func NewFeed(bus *events.EventBus) *Feed {
	f := &Feed{
		clients: make(map[*feedClient]struct{}),
		bus:     bus,
		logger:  util.ComponentLogger("feed"),
	}
	bus.SubscribeMany(events.GameEvents, "api.feed", f.broadcast)
	return f
}

// ClientCount returns the number of connected clients.
func (f *Feed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) broadcast(_ context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			f.logger.Debug().Str("event", string(event.Type)).Msg("feed client too slow, event dropped")
		}
	}
	return nil
}

// Serve upgrades the request and blocks until the client goes away.
func (f *Feed) Serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &feedClient{conn: conn, send: make(chan []byte, feedSendQueue)}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return conn.Close()
	}
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	f.logger.Debug().Str("remote", r.RemoteAddr).Msg("feed client connected")

	go c.writePump()
	c.readPump()

	f.remove(c)
	f.logger.Debug().Str("remote", r.RemoteAddr).Msg("feed client disconnected")
	return nil
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// Close unsubscribes from the bus and disconnects every client.
func (f *Feed) Close() {
	for _, t := range events.GameEvents {
		f.bus.Unsubscribe(t, "api.feed")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}

// readPump discards client frames and exists to notice disconnects and
// answer pings.
func (c *feedClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(feedReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
