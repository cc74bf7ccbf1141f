// internal/server/handlers/websocket.go

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ketchup/internal/adapter/events"
)

// Subscriber streams a user's presence events
type Subscriber interface {
	Subscribe(ctx context.Context, filter events.Filter) (<-chan events.Event, func(), error)
}

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 4096,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer and the bearer token
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// presenceClient is one websocket connection following a user's events
type presenceClient struct {
	conn   *websocket.Conn
	userID string
	events <-chan events.Event
	cancel func()
	config WebSocketConfig
	log    logrus.FieldLogger
}

// PresenceWebSocketHandler streams the authenticated user's transitions and session changes.
// ?kinds=transition,session.created narrows the stream.
func PresenceWebSocketHandler(subscriber Subscriber, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "Unauthenticated", nil)
			return
		}

		filter := events.Filter{UserID: userID}
		if kinds := r.URL.Query().Get("kinds"); kinds != "" {
			for _, k := range strings.Split(kinds, ",") {
				filter.Kinds = append(filter.Kinds, events.Kind(strings.TrimSpace(k)))
			}
		}

		// The subscription outlives the request context once upgraded
		ctx, cancelCtx := context.WithCancel(context.WithoutCancel(r.Context()))
		stream, unsubscribe, err := subscriber.Subscribe(ctx, filter)
		if err != nil {
			cancelCtx()
			respondWithDomainError(w, log, "Failed to subscribe", err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			unsubscribe()
			cancelCtx()
			log.WithError(err).Warn("Failed to upgrade to WebSocket")
			return
		}

		var once sync.Once
		client := &presenceClient{
			conn:   conn,
			userID: userID,
			events: stream,
			cancel: func() {
				once.Do(func() {
					unsubscribe()
					cancelCtx()
				})
			},
			config: DefaultWebSocketConfig(),
			log:    log.WithField("user_id", userID),
		}

		go client.writePump()
		go client.readPump()

		client.log.Info("Presence stream connected")
	}
}

// readPump only watches for pongs and disconnects; clients never send commands
func (c *presenceClient) readPump() {
	defer c.cancel()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket error")
			}
			return
		}
	}
}

// writePump forwards bus events to the connection
func (c *presenceClient) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
		c.log.Info("Presence stream closed")
	}()

	for {
		select {
		case evt, ok := <-c.events:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(evt)
			if err != nil {
				c.log.WithError(err).Warn("Failed to encode event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
