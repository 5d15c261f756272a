package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"tasksync/internal/livesync"
)

// eventClient forwards live sync events to one websocket connection. A
// single goroutine writes to the connection.
type eventClient struct {
	conn    *ws.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	release []func()
}

func (c *eventClient) close() {
	c.once.Do(func() {
		for _, remove := range c.release {
			remove()
		}
		close(c.done)
	})
}

// enqueue never blocks the dispatching goroutine. Events for a slow client
// are dropped.
func (c *eventClient) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// parseKinds reads the comma separated kinds query parameter. Empty means all.
func parseKinds(raw string) ([]livesync.EventKind, bool) {
	if raw == "" {
		return livesync.Kinds, true
	}
	var kinds []livesync.EventKind
	for _, part := range strings.Split(raw, ",") {
		kind, ok := livesync.ParseEventKind(strings.TrimSpace(part))
		if !ok {
			return nil, false
		}
		kinds = append(kinds, kind)
	}
	return kinds, true
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	kinds, ok := parseKinds(r.URL.Query().Get("kinds"))
	if !ok {
		Error(w, http.StatusBadRequest, "unknown event kind")
		return
	}

	client := &eventClient{
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	// Listeners are registered before the upgrade completes so no event
	// raised after the handshake is missed.
	for _, kind := range kinds {
		client.release = append(client.release, s.app.Live().AddEventListener(kind, func(ev livesync.Event) {
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("failed to encode %s event: %v", ev.Kind, err)
				return
			}
			if !client.enqueue(data) {
				s.logger.Debug("dropped %s event for %s", ev.Kind, r.RemoteAddr)
			}
		}))
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		client.close()
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	client.conn = conn
	s.logger.Debug("event client %s connected", r.RemoteAddr)

	go s.writePump(client)
	s.readPump(client)
}

// readPump discards client messages and detects disconnects
func (s *Server) readPump(c *eventClient) {
	defer func() {
		c.close()
		c.conn.Close()
		s.logger.Debug("event client %s disconnected", c.conn.RemoteAddr())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseAbnormalClosure) {
				s.logger.Warn("websocket error: %v", err)
			}
			return
		}
	}
}

func (s *Server) writePump(c *eventClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(ws.CloseMessage, []byte{})
			return
		}
	}
}
