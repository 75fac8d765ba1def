// Package notify queues catalog-change events and delivers them sequentially
// to the transport push channel. Delivery is best-effort: failures are logged
// and dropped, never retried, and callers needing certainty poll instead.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/agentmesh-ai/meshd/internal/protocol"
)

// backpressureThreshold is the queue depth at which a single warning is
// logged per episode of sustained load.
const backpressureThreshold = 3

// EventType enumerates the catalog-change notifications.
type EventType string

const (
	EventToolsListChanged     EventType = "tools.list_changed"
	EventResourcesListChanged EventType = "resources.list_changed"
	EventResourcesUpdated     EventType = "resources.updated"
	EventPromptsListChanged   EventType = "prompts.list_changed"
)

// methodFor maps an event type to its canonical push method name.
func methodFor(t EventType) (string, bool) {
	switch t {
	case EventToolsListChanged:
		return protocol.NotifyToolsListChanged, true
	case EventResourcesListChanged:
		return protocol.NotifyResourcesListChanged, true
	case EventResourcesUpdated:
		return protocol.NotifyResourcesUpdated, true
	case EventPromptsListChanged:
		return protocol.NotifyPromptsListChanged, true
	default:
		return "", false
	}
}

// Event is a queued catalog-change notification.
type Event struct {
	Type          EventType `json:"type"`
	Data          any       `json:"data,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Pusher sends a notification through the transport push channel.
// Implementations must be safe for use from the drain goroutine.
type Pusher interface {
	Push(ctx context.Context, n protocol.Notification) error
}

// Handler owns the FIFO notification queue and its single drain loop.
// Events are delivered strictly in enqueue order; an event enqueued while a
// drain is active is guaranteed to be picked up by that same drain.
type Handler struct {
	logger hclog.Logger
	pusher Pusher

	mu       sync.Mutex
	queue    []Event
	draining bool
	warned   bool

	// wg tracks the active drain so tests and shutdown can wait for quiet.
	wg sync.WaitGroup
}

// NewHandler creates a notification handler delivering through pusher.
func NewHandler(logger hclog.Logger, pusher Pusher) *Handler {
	return &Handler{
		logger: logger.Named("notify"),
		pusher: pusher,
	}
}

// Emit enqueues an event and ensures a drain is running. If the event lacks a
// timestamp or correlation id, they are filled in.
func (h *Handler) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.NewString()
	}

	h.mu.Lock()
	h.queue = append(h.queue, event)

	if len(h.queue) >= backpressureThreshold && !h.warned {
		h.warned = true
		h.logger.Warn(
			"Notification queue backpressure",
			"depth", len(h.queue),
			"threshold", backpressureThreshold,
		)
	}

	start := !h.draining
	if start {
		h.draining = true
		h.wg.Add(1)
	}
	h.mu.Unlock()

	if start {
		go h.drain()
	}
}

// EmitToolsListChanged enqueues a tools/list_changed notification.
func (h *Handler) EmitToolsListChanged() {
	h.Emit(Event{Type: EventToolsListChanged})
}

// EmitResourcesListChanged enqueues a resources/list_changed notification.
func (h *Handler) EmitResourcesListChanged() {
	h.Emit(Event{Type: EventResourcesListChanged})
}

// EmitResourcesUpdated enqueues a resources/updated notification for a URI.
func (h *Handler) EmitResourcesUpdated(uri string) {
	h.Emit(Event{Type: EventResourcesUpdated, Data: map[string]string{"uri": uri}})
}

// EmitPromptsListChanged enqueues a prompts/list_changed notification.
func (h *Handler) EmitPromptsListChanged() {
	h.Emit(Event{Type: EventPromptsListChanged})
}

// drain delivers queued events one at a time until the queue is empty.
// Exactly one drain runs at a time; the draining flag folds concurrent
// triggers into the drain in flight. The backpressure warning flag resets
// only once the queue fully empties, so the condition surfaces once per
// episode without flooding the log.
func (h *Handler) drain() {
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.draining = false
			h.warned = false
			h.mu.Unlock()
			h.wg.Done()
			return
		}
		event := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()

		h.deliver(event)
	}
}

// deliver pushes a single event. Failures are logged and the loop moves on;
// one bad delivery never stalls the queue. Already-dequeued events are not
// cancellable: delivery runs to completion or terminal failure.
func (h *Handler) deliver(event Event) {
	method, ok := methodFor(event.Type)
	if !ok {
		h.logger.Error("Dropping event with unknown type", "type", event.Type)
		return
	}

	n := protocol.NewNotification(method, event.Data)
	if err := h.pusher.Push(context.Background(), n); err != nil {
		h.logger.Error(
			"Notification delivery failed",
			"method", method,
			"correlation_id", event.CorrelationID,
			"error", err,
		)
	}
}

// Wait blocks until the queue has fully drained. Intended for tests and
// shutdown.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Depth returns the current queue depth.
func (h *Handler) Depth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}
