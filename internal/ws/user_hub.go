package ws

import (
	"encoding/json"

	"github.com/zaqqye/clubhub_backend/internal/models"
)

type UserMessage struct {
	Type         string               `json:"type"`
	Notification *models.Notification `json:"notification,omitempty"`
	Message      string               `json:"message,omitempty"`
}

type userNotification struct {
	userID  string
	payload []byte
}

type userClient struct {
	*client
	userID string
}

// UserHub delivers messages to the single live connection of a user.
type UserHub struct {
	register   chan *userClient
	unregister chan *userClient
	done       chan struct{}
	notify     chan userNotification
	clients    map[string]*userClient
}

func NewUserHub() *UserHub {
	return &UserHub{
		register:   make(chan *userClient),
		unregister: make(chan *userClient),
		done:       make(chan struct{}),
		notify:     make(chan userNotification, 256),
		clients:    make(map[string]*userClient),
	}
}

func (h *UserHub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			close(h.done)
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			return
		case c := <-h.register:
			if existing, ok := h.clients[c.userID]; ok {
				close(existing.send)
			}
			h.clients[c.userID] = c
		case c := <-h.unregister:
			if stored, ok := h.clients[c.userID]; ok && stored == c {
				delete(h.clients, c.userID)
				close(c.send)
			}
		case msg := <-h.notify:
			if c, ok := h.clients[msg.userID]; ok {
				select {
				case c.send <- msg.payload:
				default:
					delete(h.clients, msg.userID)
					close(c.send)
				}
			}
		}
	}
}

// NotifyUser pushes a notification to the user's open connection, if any.
func (h *UserHub) NotifyUser(userID string, n models.Notification) {
	if h == nil {
		return
	}
	data, err := json.Marshal(UserMessage{Type: "notification", Notification: &n})
	if err != nil {
		return
	}
	select {
	case h.notify <- userNotification{userID: userID, payload: data}:
	default:
	}
}
