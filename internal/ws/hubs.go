package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
	// clients only send pongs and close frames
	maxInboundSize = 512
)

var upgrader = websocket.Upgrader{CheckOrigin: originChecker(nil)}

// AllowOrigins restricts browser upgrades to the given origins. An empty list
// or "*" allows any origin; requests without an Origin header always pass.
func AllowOrigins(origins []string) {
	upgrader.CheckOrigin = originChecker(origins)
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

// Hubs groups the realtime hubs started by the server.
type Hubs struct {
	Jobs  *JobHub
	Users *UserHub
}

func NewHubs() *Hubs {
	return &Hubs{
		Jobs:  NewJobHub(),
		Users: NewUserHub(),
	}
}

// Run starts every hub loop; it blocks until stop is closed.
func (h *Hubs) Run(stop <-chan struct{}) {
	go h.Jobs.Run(stop)
	h.Users.Run(stop)
}

// client is one websocket connection with its outbound queue.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *client) readPump(onClose func()) {
	defer func() {
		onClose()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
