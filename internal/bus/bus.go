package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultHistorySize is the number of recent events retained for replay.
	DefaultHistorySize = 1000
)

// HandleID identifies a registered listener.
type HandleID string

// Handler receives events. Handlers run synchronously on the emitter's
// goroutine; a panicking handler is recovered and logged.
type Handler func(Event)

type listener struct {
	id        HandleID
	eventType EventType
	handler   Handler
}

// Bus is a synchronous, typed event registry. Use EventType("") in On to
// receive all events (wildcard).
type Bus struct {
	mu         sync.RWMutex
	typed      map[EventType]map[HandleID]*listener
	wildcard   map[HandleID]*listener
	subCounter uint64

	history     []Event
	historyMu   sync.RWMutex
	historySize int

	closed atomic.Bool
}

// New creates a bus with the default history size.
func New() *Bus {
	return NewWithHistory(DefaultHistorySize)
}

// NewWithHistory creates a bus retaining up to historySize recent events.
func NewWithHistory(historySize int) *Bus {
	return &Bus{
		typed:       make(map[EventType]map[HandleID]*listener),
		wildcard:    make(map[HandleID]*listener),
		history:     make([]Event, 0, historySize),
		historySize: historySize,
	}
}

// On registers a handler for a specific event type. An empty event type
// subscribes to all events. Returns a handle usable with Off.
func (b *Bus) On(eventType EventType, handler Handler) HandleID {
	if b.closed.Load() || handler == nil {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subCounter++
	id := HandleID(fmt.Sprintf("sub_%d", b.subCounter))
	l := &listener{id: id, eventType: eventType, handler: handler}

	if eventType == "" {
		b.wildcard[id] = l
		return id
	}

	if b.typed[eventType] == nil {
		b.typed[eventType] = make(map[HandleID]*listener)
	}
	b.typed[eventType][id] = l
	return id
}

// Off removes a listener by handle.
func (b *Bus) Off(id HandleID) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.wildcard[id]; ok {
		delete(b.wildcard, id)
		return nil
	}

	for eventType, subs := range b.typed {
		if _, ok := subs[id]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.typed, eventType)
			}
			return nil
		}
	}

	return fmt.Errorf("listener %s not found", id)
}

// Emit delivers an event synchronously to all matching listeners. Listeners
// are iterated over a snapshot, so handlers may call On/Off safely. A
// listener panic is recovered and logged; it never aborts the emit.
func (b *Bus) Emit(event Event) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.addToHistory(event)

	b.mu.RLock()
	snapshot := make([]*listener, 0, len(b.wildcard)+len(b.typed[event.Type]))
	for _, l := range b.wildcard {
		snapshot = append(snapshot, l)
	}
	for _, l := range b.typed[event.Type] {
		snapshot = append(snapshot, l)
	}
	b.mu.RUnlock()

	for _, l := range snapshot {
		b.deliver(l, event)
	}

	return nil
}

// deliver invokes a single handler with panic isolation.
func (b *Bus) deliver(l *listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("listener", string(l.id)).
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("event listener panicked")
		}
	}()
	l.handler(event)
}

// addToHistory appends an event to the bounded history buffer.
func (b *Bus) addToHistory(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns a copy of the recent event history.
func (b *Bus) History() []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	result := make([]Event, len(b.history))
	copy(result, b.history)
	return result
}

// HistorySlice returns the last n events.
func (b *Bus) HistorySlice(n int) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	if n > len(b.history) {
		n = len(b.history)
	}
	start := len(b.history) - n
	result := make([]Event, n)
	copy(result, b.history[start:])
	return result
}

// ListenerCount returns the total number of registered listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := len(b.wildcard)
	for _, subs := range b.typed {
		total += len(subs)
	}
	return total
}

// TypedListenerCount returns the number of listeners for one event type.
func (b *Bus) TypedListenerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.typed[eventType])
}

// Close shuts down the bus. Further On/Emit calls fail.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("bus already closed")
	}

	b.mu.Lock()
	b.typed = make(map[EventType]map[HandleID]*listener)
	b.wildcard = make(map[HandleID]*listener)
	b.mu.Unlock()

	return nil
}
