package history

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/reynard-dev/nlweb/internal/bus"
)

// Collector subscribes to the event bus and persists suggestion activity.
// Writes happen on the emitter's goroutine, so a failed insert never blocks
// routing; it is logged and dropped.
type Collector struct {
	bus   *bus.Bus
	store *Store

	mu      sync.Mutex
	handles []bus.HandleID
	stopped bool
}

// NewCollector wires a collector to the bus and store.
func NewCollector(eventBus *bus.Bus, store *Store) *Collector {
	return &Collector{bus: eventBus, store: store}
}

// Start subscribes to the event types worth persisting.
func (c *Collector) Start() {
	if c.bus == nil || c.store == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || len(c.handles) > 0 {
		return
	}

	for _, t := range []bus.EventType{bus.EventToolSuggested, bus.EventRequestRejected, bus.EventError} {
		c.handles = append(c.handles, c.bus.On(t, c.handleEvent))
	}
	log.Debug().Msg("History collector started")
}

// Stop unsubscribes from the bus. Safe to call more than once.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	for _, h := range c.handles {
		c.bus.Off(h)
	}
	c.handles = nil
}

func (c *Collector) handleEvent(ev bus.Event) {
	rec := Record{
		RequestID:  ev.RequestID,
		Query:      ev.Query,
		Tool:       ev.Tool,
		Score:      ev.Score,
		Status:     ev.Status,
		CacheHit:   ev.Status == "cache_hit" || ev.Status == "stale_cache",
		DurationMs: float64(ev.DurationMs),
		Error:      ev.Error,
		CreatedAt:  ev.Timestamp,
	}
	if rec.Status == "" && ev.Type == bus.EventError {
		rec.Status = "error"
	}
	if err := c.store.Insert(rec); err != nil {
		log.Warn().Err(err).Str("request_id", ev.RequestID).Msg("Failed to persist suggestion record")
	}
}
