// Package ws fans lifecycle events out to websocket and server-sent-event clients.
package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/jnoller/racer/internal/domain"
)

// AllProjects is the topic that receives every project's events.
const AllProjects = "*"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by project ID.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	logger    *slog.Logger
}

type message struct {
	projectID string
	payload   []byte
}

type subscription struct {
	projectID string
	client    Subscriber
}

// NewHub creates a running Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		logger:    logger.With("component", "ws"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.projectID]; !ok {
				h.clients[sub.projectID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.projectID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.drop(sub.projectID, sub.client, false)
		case msg := <-h.broadcast:
			h.deliver(msg.projectID, msg.payload)
			if msg.projectID != AllProjects {
				h.deliver(AllProjects, msg.payload)
			}
		}
	}
}

func (h *Hub) deliver(topic string, payload []byte) {
	for c := range h.clients[topic] {
		if err := c.Send(payload); err != nil {
			h.drop(topic, c, true)
		}
	}
}

func (h *Hub) drop(topic string, client Subscriber, closeIt bool) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	if closeIt {
		client.Close()
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

// Register adds a client to a project stream. An empty project ID subscribes to every project.
func (h *Hub) Register(projectID string, client Subscriber) {
	h.register <- subscription{projectID: topic(projectID), client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	h.unreg <- subscription{projectID: topic(projectID), client: client}
}

// Broadcast sends payload to the project's clients and to AllProjects subscribers.
func (h *Hub) Broadcast(projectID string, payload []byte) {
	h.broadcast <- message{projectID: topic(projectID), payload: payload}
}

// Publish encodes a lifecycle event and broadcasts it. Events are dropped,
// with a warning, when the hub is backed up.
func (h *Hub) Publish(evt domain.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("event encode failed", "type", evt.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- message{projectID: topic(evt.ProjectID), payload: payload}:
	default:
		h.logger.Warn("event dropped", "type", evt.Type, "project_id", evt.ProjectID)
	}
}

func topic(projectID string) string {
	if projectID == "" {
		return AllProjects
	}
	return projectID
}
