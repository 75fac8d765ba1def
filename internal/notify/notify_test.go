package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh-ai/meshd/internal/protocol"
)

// recordingPusher captures pushed notifications. An optional gate blocks each
// Push until released, letting tests race enqueues against an active drain.
type recordingPusher struct {
	mu     sync.Mutex
	pushed []protocol.Notification
	failOn map[string]struct{}
	gate   chan struct{}
}

func (p *recordingPusher) Push(_ context.Context, n protocol.Notification) error {
	if p.gate != nil {
		<-p.gate
	}

	p.mu.Lock()
	p.pushed = append(p.pushed, n)
	p.mu.Unlock()

	if _, ok := p.failOn[n.Method]; ok {
		return fmt.Errorf("push refused for %s", n.Method)
	}
	return nil
}

func (p *recordingPusher) Methods() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.pushed))
	for _, n := range p.pushed {
		out = append(out, n.Method)
	}
	return out
}

// captureWriter counts log lines containing a substring.
type captureWriter struct {
	mu    sync.Mutex
	lines []string
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, string(p))
	return len(p), nil
}

func (w *captureWriter) Count(substr string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, line := range w.lines {
		if strings.Contains(strings.ToLower(line), strings.ToLower(substr)) {
			n++
		}
	}
	return n
}

func TestHandler_DeliversInOrder(t *testing.T) {
	t.Parallel()

	pusher := &recordingPusher{}
	h := NewHandler(hclog.NewNullLogger(), pusher)

	h.EmitToolsListChanged()
	h.EmitResourcesListChanged()
	h.EmitPromptsListChanged()
	h.Wait()

	require.Equal(t, []string{
		protocol.NotifyToolsListChanged,
		protocol.NotifyResourcesListChanged,
		protocol.NotifyPromptsListChanged,
	}, pusher.Methods())
}

func TestHandler_OrderHeldWhenEnqueuesRaceActiveDrain(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	pusher := &recordingPusher{gate: gate}
	h := NewHandler(hclog.NewNullLogger(), pusher)

	// First emit starts the drain, which blocks on the gate.
	h.EmitToolsListChanged()

	// These arrive while the drain is mid-delivery and must be picked up by
	// that same drain, in order.
	h.EmitResourcesListChanged()
	h.EmitResourcesUpdated("file:///x")
	h.EmitPromptsListChanged()

	for range 4 {
		gate <- struct{}{}
	}
	h.Wait()

	require.Equal(t, []string{
		protocol.NotifyToolsListChanged,
		protocol.NotifyResourcesListChanged,
		protocol.NotifyResourcesUpdated,
		protocol.NotifyPromptsListChanged,
	}, pusher.Methods())
}

func TestHandler_FailedDeliveryDoesNotStallQueue(t *testing.T) {
	t.Parallel()

	pusher := &recordingPusher{
		failOn: map[string]struct{}{protocol.NotifyResourcesListChanged: {}},
	}
	h := NewHandler(hclog.NewNullLogger(), pusher)

	h.EmitToolsListChanged()
	h.EmitResourcesListChanged() // fails, logged, dropped
	h.EmitPromptsListChanged()
	h.Wait()

	require.Equal(t, []string{
		protocol.NotifyToolsListChanged,
		protocol.NotifyResourcesListChanged,
		protocol.NotifyPromptsListChanged,
	}, pusher.Methods())
}

func TestHandler_ResourceUpdatedCarriesURI(t *testing.T) {
	t.Parallel()

	pusher := &recordingPusher{}
	h := NewHandler(hclog.NewNullLogger(), pusher)

	h.EmitResourcesUpdated("file:///notes.txt")
	h.Wait()

	require.Len(t, pusher.pushed, 1)
	n := pusher.pushed[0]
	require.Equal(t, protocol.NotifyResourcesUpdated, n.Method)
	require.Equal(t, map[string]string{"uri": "file:///notes.txt"}, n.Params)
	require.Equal(t, protocol.Version, n.JSONRPC)
}

func TestHandler_BackpressureWarnsOncePerEpisode(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	pusher := &recordingPusher{gate: gate}
	capture := &captureWriter{}
	h := NewHandler(hclog.New(&hclog.LoggerOptions{Level: hclog.Warn, Output: capture}), pusher)

	// Build depth while the drain is blocked: the warning fires exactly once
	// even though depth stays at or above the threshold.
	for range 5 {
		h.EmitToolsListChanged()
	}
	require.Equal(t, 1, capture.Count("backpressure"))

	for range 5 {
		gate <- struct{}{}
	}
	h.Wait()

	// Queue fully drained: the flag reset, a new episode warns again. Four
	// emits guarantee a depth of at least three even if the drain has
	// already dequeued the first event.
	for range 4 {
		h.EmitToolsListChanged()
	}
	require.Equal(t, 2, capture.Count("backpressure"))

	for range 4 {
		gate <- struct{}{}
	}
	h.Wait()
}
