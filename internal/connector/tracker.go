package connector

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	meshderrors "github.com/agentmesh-ai/meshd/internal/errors"
)

const (
	AvailabilityReachable   Availability = "reachable"
	AvailabilityUnreachable Availability = "unreachable"
	AvailabilityUnknown     Availability = "unknown"
)

// Availability is the last observed reachability of a connector.
type Availability string

// Duration renders as its string form in JSON.
type Duration time.Duration

func (d *Duration) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	s := fmt.Sprintf(`"%s"`, time.Duration(*d).String())
	return []byte(s), nil
}

// Health is the availability record for one tracked connector.
type Health struct {
	ID             string       `json:"id"`
	Availability   Availability `json:"availability"`
	Latency        *Duration    `json:"latency"`
	LastChecked    *time.Time   `json:"last_checked"`
	LastSuccessful *time.Time   `json:"last_successful"`
}

// Tracker records per-connector availability observed during sync cycles.
// It is safe for concurrent use by multiple goroutines.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]Health
}

// NewTracker creates a tracker with no connectors yet tracked.
func NewTracker() *Tracker {
	return &Tracker{
		statuses: make(map[string]Health),
	}
}

// Track ensures the given connector ids are tracked, seeding unknown status
// for ids not seen before. Existing records are retained.
func (t *Tracker) Track(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		if _, ok := t.statuses[id]; !ok {
			t.statuses[id] = Health{ID: id, Availability: AvailabilityUnknown}
		}
	}
}

// Status returns the availability record for a single tracked connector.
func (t *Tracker) Status(id string) (Health, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, ok := t.statuses[id]; ok {
		return health, nil
	}

	return Health{}, fmt.Errorf("%w: %s", meshderrors.ErrConnectorNotTracked, id)
}

// List returns a copy of all known availability records, sorted by id.
func (t *Tracker) List() []Health {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := slices.Collect(maps.Values(t.statuses))
	slices.SortFunc(out, func(a, b Health) int {
		return strings.Compare(a.ID, b.ID)
	})

	return out
}

// Update records an availability observation for a tracked connector.
// The current time is recorded as LastChecked; LastSuccessful moves only on a
// reachable observation. Latency may be nil when not measured.
func (t *Tracker) Update(id string, availability Availability, latency *time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()

	prev, exists := t.statuses[id]
	if !exists {
		return fmt.Errorf("%w: %s", meshderrors.ErrConnectorNotTracked, id)
	}

	lastSuccessful := prev.LastSuccessful
	if availability == AvailabilityReachable {
		lastSuccessful = &now
	}

	var duration *Duration
	if latency != nil {
		d := Duration(*latency)
		duration = &d
	}

	t.statuses[id] = Health{
		ID:             id,
		Availability:   availability,
		Latency:        duration,
		LastChecked:    &now,
		LastSuccessful: lastSuccessful,
	}

	return nil
}
