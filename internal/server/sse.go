package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	meshderrors "github.com/agentmesh-ai/meshd/internal/errors"
	"github.com/agentmesh-ai/meshd/internal/protocol"
)

const (
	// clientQueueSize bounds each connected client's pending notifications.
	// A client that cannot keep up loses events rather than blocking the
	// push path for everyone else.
	clientQueueSize = 16

	defaultHeartbeatInterval = 30 * time.Second
)

// PushChannel fans server-to-client notifications out to connected SSE
// clients. It is the delivery end of the notification queue.
type PushChannel struct {
	logger            hclog.Logger
	heartbeatInterval time.Duration

	mu      sync.Mutex
	clients map[string]chan protocol.Notification
}

// NewPushChannel creates a push channel. A non-positive heartbeat interval
// falls back to the default.
func NewPushChannel(logger hclog.Logger, heartbeatInterval time.Duration) *PushChannel {
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	return &PushChannel{
		logger:            logger.Named("push"),
		heartbeatInterval: heartbeatInterval,
		clients:           make(map[string]chan protocol.Notification),
	}
}

// ClientCount returns the number of connected clients.
func (p *PushChannel) ClientCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Push delivers a notification to every connected client. A client whose
// queue is full loses this event; that is reported as a delivery error so the
// notification queue can log it, while the remaining clients still receive
// the event.
func (p *PushChannel) Push(ctx context.Context, n protocol.Notification) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", meshderrors.ErrDelivery, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := 0
	for id, ch := range p.clients {
		select {
		case ch <- n:
		default:
			dropped++
			p.logger.Warn("Client queue full, dropping notification", "client", id, "method", n.Method)
		}
	}

	if dropped > 0 {
		return fmt.Errorf("%w: %d client(s) missed %s", meshderrors.ErrDelivery, dropped, n.Method)
	}

	return nil
}

func (p *PushChannel) register() (string, chan protocol.Notification) {
	id := uuid.NewString()
	ch := make(chan protocol.Notification, clientQueueSize)

	p.mu.Lock()
	p.clients[id] = ch
	p.mu.Unlock()

	return id, ch
}

func (p *PushChannel) unregister(id string) {
	p.mu.Lock()
	delete(p.clients, id)
	p.mu.Unlock()
}

// ServeHTTP streams notifications to one client until it disconnects.
func (p *PushChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, ch := p.register()
	defer p.unregister(id)

	p.logger.Debug("Push client connected", "client", id)

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			p.logger.Debug("Push client disconnected", "client", id)
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case n := <-ch:
			payload, err := json.Marshal(n)
			if err != nil {
				p.logger.Error("Failed to encode notification", "method", n.Method, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
