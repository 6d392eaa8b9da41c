package ws

import (
	"encoding/json"
	"time"

	"github.com/zaqqye/clubhub_backend/internal/models"
)

// JobUpdate is pushed to admin dashboards whenever a job row changes.
type JobUpdate struct {
	Type       string     `json:"type"`
	JobID      string     `json:"job_id"`
	JobType    string     `json:"job_type"`
	ClubID     string     `json:"club_id"`
	WebsiteID  *string    `json:"website_id,omitempty"`
	Status     string     `json:"status"`
	Progress   int        `json:"progress"`
	ResultURL  string     `json:"result_url,omitempty"`
	Error      string     `json:"error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type jobMessage struct {
	clubID  string
	payload []byte
}

type jobClient struct {
	*client
	clubID   string
	allowAll bool
}

// JobHub fans job updates out to websocket clients scoped by club.
type JobHub struct {
	register   chan *jobClient
	unregister chan *jobClient
	done       chan struct{}
	broadcast  chan jobMessage
	clients    map[*jobClient]struct{}
}

func NewJobHub() *JobHub {
	return &JobHub{
		register:   make(chan *jobClient),
		unregister: make(chan *jobClient),
		done:       make(chan struct{}),
		broadcast:  make(chan jobMessage, 256),
		clients:    make(map[*jobClient]struct{}),
	}
}

func (h *JobHub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			close(h.done)
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.allowAll && c.clubID != msg.clubID {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// PublishJob queues a job update; it drops the update when the hub is saturated.
func (h *JobHub) PublishJob(job models.Job) {
	if h == nil {
		return
	}
	data, err := json.Marshal(JobUpdate{
		Type:       "job_update",
		JobID:      job.ID,
		JobType:    job.Type,
		ClubID:     job.ClubID,
		WebsiteID:  job.WebsiteID,
		Status:     job.Status,
		Progress:   job.Progress,
		ResultURL:  job.ResultURL,
		Error:      job.Error,
		UpdatedAt:  job.UpdatedAt,
		FinishedAt: job.FinishedAt,
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- jobMessage{clubID: job.ClubID, payload: data}:
	default:
	}
}
