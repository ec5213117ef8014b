// Package sse fans notifications out to connected browsers over
// server-sent events. Each server instance runs one Hub; the redis bus
// bridges instances so a notification written on one node reaches clients
// connected to another.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/platform/logger"
)

type Event string

const (
	EventNotification Event = "Notification"
	EventUnreadCount  Event = "UnreadCount"
)

type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Data    any    `json:"data,omitempty"`
}

// UserChannel is the per-recipient channel notifications publish on.
func UserChannel(userID uuid.UUID) string { return "user:" + userID.String() }

type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
}

type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) NewClient(userID uuid.UUID) *Client {
	return &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Channels: make(map[string]bool),
		Outbound: make(chan Message, 16),
		done:     make(chan struct{}),
	}
}

func (h *Hub) Subscribe(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	client.Channels[channel] = true
	clients, ok := h.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[client] = true

	h.log.Debug("sse client subscribed", "client_id", client.ID, "channel", channel)
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.Channels, channel)
	if clients, ok := h.subscriptions[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, channel)
		}
	}
}

func (h *Hub) RemoveClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range client.Channels {
		if clients, ok := h.subscriptions[ch]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subscriptions, ch)
			}
		}
	}
	client.Channels = make(map[string]bool)
}

// Broadcast delivers to local subscribers only. Slow clients lose messages
// rather than block the hub; the notification rows remain the source of
// truth.
func (h *Hub) Broadcast(msg Message) {
	if msg.Channel == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.subscriptions[msg.Channel]
	if !ok {
		return
	}
	for c := range clients {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("dropping sse message, outbound buffer full", "client_id", c.ID)
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg := <-client.Outbound:
			raw, err := json.Marshal(msg)
			if err != nil {
				h.log.Warn("failed to marshal sse message", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, raw)
			flusher.Flush()
		}
	}
}

func (h *Hub) CloseClient(client *Client) {
	close(client.done)
	h.RemoveClient(client)
	close(client.Outbound)
}
