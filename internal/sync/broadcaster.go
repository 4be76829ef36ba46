package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/storage"
)

const defaultHeartbeat = 15 * time.Second

// StateLister supplies the cursors sent to a subscriber when it connects.
type StateLister interface {
	ListSyncStates(ctx context.Context) (map[string]storage.SyncState, error)
}

// Snapshot is the first SSE event a subscriber receives.
type Snapshot struct {
	Running   bool                         `json:"running"`
	Timestamp int64                        `json:"timestamp"`
	States    map[string]storage.SyncState `json:"states"`
}

// Broadcaster streams run events to Server-Sent Events subscribers. It is an
// Observer, so it can sit beside the WebSocket hub on the same runner.
type Broadcaster struct {
	states    StateLister
	heartbeat time.Duration
	logger    *zap.Logger

	mu       gosync.RWMutex
	sequence uint64
	running  bool
	clients  map[*sseClient]bool
}

type sseClient struct {
	languages map[string]bool // empty means every language
	dataCh    chan []byte
}

func (c *sseClient) wants(language string) bool {
	return len(c.languages) == 0 || language == "" || c.languages[language]
}

// NewBroadcaster creates a broadcaster. A heartbeat of zero or less uses the
// default period.
func NewBroadcaster(states StateLister, heartbeat time.Duration, logger *zap.Logger) *Broadcaster {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Broadcaster{
		states:    states,
		heartbeat: heartbeat,
		logger:    logger,
		clients:   make(map[*sseClient]bool),
	}
}

// Run sends keep-alive comments until ctx is done so idle proxies keep the
// stream open.
func (b *Broadcaster) Run(ctx context.Context) {
	b.logger.Info("sse broadcaster starting", zap.Duration("heartbeat", b.heartbeat))

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("sse broadcaster stopping")
			return
		case <-ticker.C:
			b.fanOut("", []byte(": keepalive\n\n"))
		}
	}
}

// Observe queues the event for every interested subscriber. Slow subscribers
// miss events instead of stalling the run.
func (b *Broadcaster) Observe(ev Event) {
	switch ev.Type {
	case EventRunStarted:
		b.setRunning(true)
	case EventRunCompleted, EventRunFailed:
		b.setRunning(false)
	}

	data, err := b.formatEvent(string(ev.Type), ev)
	if err != nil {
		b.logger.Warn("failed to encode sse event", zap.Error(err))
		return
	}
	b.fanOut(ev.Language, data)
}

func (b *Broadcaster) fanOut(language string, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients {
		if !client.wants(language) {
			continue
		}
		select {
		case client.dataCh <- data:
		default:
			b.logger.Debug("sse client channel full, dropping event")
		}
	}
}

// HandleSSE serves GET /v1/sync/events. ?language= takes a comma list.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	client := &sseClient{dataCh: make(chan []byte, 32)}
	if raw := r.URL.Query().Get("language"); raw != "" {
		client.languages = make(map[string]bool)
		for _, lang := range strings.Split(raw, ",") {
			if lang = strings.TrimSpace(lang); lang != "" {
				client.languages[lang] = true
			}
		}
	}

	snapshot, err := b.buildSnapshot(r.Context(), client)
	if err != nil {
		b.logger.Error("failed to build sse snapshot", zap.Error(err))
		http.Error(w, "failed to load sync state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	b.addClient(client)
	defer b.removeClient(client)

	b.logger.Info("sse client connected", zap.String("remote_addr", r.RemoteAddr))

	if _, err := w.Write(snapshot); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			b.logger.Info("sse client disconnected", zap.String("remote_addr", r.RemoteAddr))
			return
		case data := <-client.dataCh:
			if _, err := w.Write(data); err != nil {
				b.logger.Debug("failed to write to sse client", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (b *Broadcaster) setRunning(running bool) {
	b.mu.Lock()
	b.running = running
	b.mu.Unlock()
}

// ClientCount returns the number of connected SSE subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) addClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
}

func (b *Broadcaster) removeClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, client)
}

func (b *Broadcaster) buildSnapshot(ctx context.Context, client *sseClient) ([]byte, error) {
	states, err := b.states.ListSyncStates(ctx)
	if err != nil {
		return nil, err
	}
	if len(client.languages) > 0 {
		for lang := range states {
			if !client.languages[lang] {
				delete(states, lang)
			}
		}
	}

	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()

	return b.formatEvent("snapshot", Snapshot{
		Running:   running,
		Timestamp: time.Now().UnixMilli(),
		States:    states,
	})
}

func (b *Broadcaster) formatEvent(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.sequence++
	seq := b.sequence
	b.mu.Unlock()

	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, data)), nil
}
