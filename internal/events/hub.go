package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

var _ cmssync.Observer = (*Hub)(nil)

// Hub fans sync events out to WebSocket subscribers grouped by language.
type Hub struct {
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // group -> clients
	register   chan *Client
	unregister chan *Client
	events     chan cmssync.Event
	done       chan struct{}
	encoder    *Encoder
	mu         sync.RWMutex
	logger     *zap.Logger
}

func NewHub(encoder *Encoder, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan cmssync.Event, 256),
		done:       make(chan struct{}),
		encoder:    encoder,
		logger:     logger,
	}
}

// Run processes hub events until ctx is cancelled. Call this in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("event hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			for _, group := range client.initialGroups {
				h.joinLocked(client, group)
			}
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("connID", client.connID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				// Remove from all groups
				for group := range client.groups {
					if clients, ok := h.groups[group]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.groups, group)
						}
					}
				}
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("connID", client.connID))

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// Observe queues a runner event for delivery. It never blocks the runner;
// events are dropped when the queue is full.
func (h *Hub) Observe(ev cmssync.Event) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("event queue full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("run_id", ev.RunID),
		)
	}
}

func (h *Hub) deliver(ev cmssync.Event) {
	recipients := h.recipients(ev.Language)
	if len(recipients) == 0 {
		return
	}

	var jsonFrame, pbFrame []byte
	for _, client := range recipients {
		var payload []byte
		var err error
		if client.protocol == ProtocolProtobuf {
			if pbFrame == nil {
				pbFrame, err = h.encoder.EncodeProtobuf(ev)
			}
			payload = pbFrame
		} else {
			if jsonFrame == nil {
				jsonFrame, err = h.encoder.EncodeJSON(ev)
			}
			payload = jsonFrame
		}
		if err != nil {
			h.logger.Error("failed to encode event", zap.String("protocol", client.protocol), zap.Error(err))
			continue
		}

		if !client.trySend(frame{data: payload, binary: client.protocol == ProtocolProtobuf}) {
			// Buffer full, schedule disconnect
			go h.unregisterClient(client)
		}
	}
}

// recipients returns the clients subscribed to all events or to language.
func (h *Hub) recipients(language string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]bool)
	var out []*Client
	for _, group := range []string{GroupAll, language} {
		for client := range h.groups[group] {
			if !seen[client] {
				seen[client] = true
				out = append(out, client)
			}
		}
	}
	return out
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// shutdown closes every client connection.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	close(h.done)
	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
}

// JoinGroup adds a registered client to a group. It reports false for a
// client the hub has already dropped.
func (h *Hub) JoinGroup(client *Client, group string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return false
	}
	h.joinLocked(client, group)
	return true
}

func (h *Hub) joinLocked(client *Client, group string) {
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.groups[group] = true

	h.logger.Debug("client joined group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// LeaveGroup removes a client from a group.
func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	delete(client.groups, group)
}

// ActiveGroups returns all groups with at least one subscriber.
func (h *Hub) ActiveGroups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var groups []string
	for group, clients := range h.groups {
		if len(clients) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
