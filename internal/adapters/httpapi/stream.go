package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campus-carpool/rides-api/internal/app/rides"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// The stream is server-to-client; clients only send control frames.
	maxMessageSize = 512

	sendBuffer = 32
)

// StreamMessage is pushed to the client whenever the caller's ride
// repository changes. Clients refetch /rides on receipt.
type StreamMessage struct {
	Type      string    `json:"type"`
	RideId    string    `json:"rideId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// StreamRides upgrades to a WebSocket and forwards repository change
// notifications until the client disconnects.
func (s *Server) StreamRides(w http.ResponseWriter, r *http.Request) {
	ws, _ := WorkspaceFromContext(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	// Queued first and only written once the subscription below is in place.
	if msg, err := json.Marshal(StreamMessage{Type: "subscribed", Timestamp: s.clock.Now().UTC()}); err == nil {
		c.send <- msg
	}
	unsubscribe := ws.Rides.Subscribe(func(ch rides.Change) {
		msg, err := json.Marshal(StreamMessage{Type: string(ch.Kind), RideId: string(ch.RideID), Timestamp: s.clock.Now().UTC()})
		if err != nil {
			return
		}
		select {
		case c.send <- msg:
		case <-c.done:
		default:
			// Slow client; a later message still tells it to refetch.
		}
	})

	go c.writePump()
	c.readPump()
	unsubscribe()
}

// readPump drains control frames so pongs are processed, and returns when the
// connection fails or the client closes it.
func (c *streamClient) readPump() {
	defer func() {
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// originChecker allows same-host requests, requests without an Origin header
// and any origin in allowed. "*" allows every origin.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
