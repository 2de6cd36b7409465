package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

const (
	sseEventCrossing = "crossing"
	sseEventStats    = "stats"

	clientBuffer = 64
)

// StatsMessage is broadcast once per interval with the publish rate.
type StatsMessage struct {
	Rate    float64 `json:"rate"`
	Clients int     `json:"clients"`
}

type sseFrame struct {
	event string
	code  string // empty for frames every client receives
	data  []byte
}

// sseClient is one open stream. A non-empty fence limits crossing frames
// to that geofence code.
type sseClient struct {
	frames chan sseFrame
	fence  string
}

func (c *sseClient) wants(f sseFrame) bool {
	return c.fence == "" || f.code == "" || f.code == c.fence
}

// SSEBroker fans enriched messages out to Server-Sent Events clients. It
// implements domain.Publisher so it can observe the pipeline's output.
type SSEBroker struct {
	logger    *slog.Logger
	interval  time.Duration
	published atomic.Int64

	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	closed  bool
}

// NewSSEBroker creates a broker whose stats loop and client streams end with ctx.
func NewSSEBroker(ctx context.Context, logger *slog.Logger, interval time.Duration) *SSEBroker {
	broker := &SSEBroker{
		logger:   logger.With("component", "sse_broker"),
		interval: interval,
		clients:  make(map[*sseClient]struct{}),
	}
	go broker.run(ctx)
	return broker
}

// ServeHTTP streams crossings to one client. The optional geofence query
// parameter narrows the stream to a single code.
func (b *SSEBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, b.logger, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	client := &sseClient{
		frames: make(chan sseFrame, clientBuffer),
		fence:  r.URL.Query().Get("geofence"),
	}
	if !b.register(client) {
		respondWithError(w, b.logger, http.StatusServiceUnavailable, "Live tail is shutting down")
		return
	}
	defer b.unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-client.frames:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
			flusher.Flush()
		}
	}
}

// Publish hands msg to every interested client without blocking.
func (b *SSEBroker) Publish(ctx context.Context, msg domain.EnrichedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b.published.Add(1)
	b.broadcast(sseFrame{event: sseEventCrossing, code: msg.GeofenceCode, data: data})
	return nil
}

// ClientCount returns the number of connected clients.
func (b *SSEBroker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// register adds c unless the broker has already disconnected everyone.
func (b *SSEBroker) register(c *sseClient) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.clients[c] = struct{}{}
	n := len(b.clients)
	b.mu.Unlock()
	b.logger.Info("SSE client connected", "clients", n, "geofence", c.fence)
	return true
}

func (b *SSEBroker) unregister(c *sseClient) {
	b.mu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
		close(c.frames)
	}
	n := len(b.clients)
	b.mu.Unlock()
	if ok {
		b.logger.Info("SSE client disconnected", "clients", n)
	}
}

// disconnectAll ends every open stream and refuses new ones.
func (b *SSEBroker) disconnectAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.frames)
	}
}

func (b *SSEBroker) broadcast(f sseFrame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		if !c.wants(f) {
			continue
		}
		select {
		case c.frames <- f:
		default:
			// full buffer, this client misses the frame
		}
	}
}

func (b *SSEBroker) run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			b.disconnectAll()
			return
		case now := <-ticker.C:
			b.reportStats(now.Sub(last))
			last = now
		}
	}
}

func (b *SSEBroker) reportStats(elapsed time.Duration) {
	count := b.published.Swap(0)
	stats := StatsMessage{Clients: b.ClientCount()}
	if elapsed > 0 {
		stats.Rate = float64(count) / elapsed.Seconds()
	}

	data, err := json.Marshal(stats)
	if err != nil {
		b.logger.Error("failed to marshal SSE stats", "error", err)
		return
	}
	b.broadcast(sseFrame{event: sseEventStats, data: data})
}
