package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/luxbot/internal/session"
	"github.com/nextlevelbuilder/luxbot/pkg/protocol"
)

// maxWSMessageSize caps inbound frames; clients only send control frames.
const maxWSMessageSize = 4 * 1024

// wsClient streams phase events to one websocket connection.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	seq  atomic.Int64
	wmu  sync.Mutex // gorilla allows one concurrent writer

	closeOnce sync.Once
	done      chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 32),
		done: make(chan struct{}),
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := newWSClient(conn)
	s.view.Subscribe(c.id, c.push)
	defer s.view.Unsubscribe(c.id)

	snap := s.snapshot()
	c.push(session.PhaseEvent{
		Session:   snap.Session,
		Phase:     snap.Phase,
		Challenge: snap.Challenge,
		At:        time.Now(),
	})

	slog.Debug("websocket client connected", "client", c.id)
	go c.writePump()
	c.readPump(r.Context())
	slog.Debug("websocket client gone", "client", c.id)
}

// push queues an event without blocking the session manager.
func (c *wsClient) push(ev session.PhaseEvent) {
	c.pushFrame(protocol.EventSessionPhase, ev)
}

func (c *wsClient) pushFrame(event string, payload any) {
	data, err := json.Marshal(protocol.NewEvent(event, payload, c.seq.Add(1)))
	if err != nil {
		slog.Error("marshal event failed", "event", event, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping event", "client", c.id)
	}
}

// readPump discards client frames and returns when the connection ends.
func (c *wsClient) readPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	stop := context.AfterFunc(ctx, c.shutdown)
	defer stop()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}

// writePump writes events and pings to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg, 10*time.Second); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, 10*time.Second); err != nil {
				c.close()
				return
			}
		}
	}
}

// shutdown tells the client the server is going away, then closes.
func (c *wsClient) shutdown() {
	data, _ := json.Marshal(protocol.NewEvent(protocol.EventShutdown, nil, c.seq.Add(1)))
	c.write(websocket.TextMessage, data, time.Second)
	c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Second)
	c.close()
}

func (c *wsClient) write(messageType int, data []byte, timeout time.Duration) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
