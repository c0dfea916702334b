// Package signals carries outbound notifications from the selection and
// assembly engines to notification-style collaborators.
package signals

import (
	"sync"
	"time"
)

// Kind identifies a signal type.
type Kind string

const (
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindStaleContext     Kind = "stale_context"
	KindBuildTimeout     Kind = "build_timeout"
	KindStatusChanged    Kind = "status_changed"
	KindSelectionChanged Kind = "selection_changed"
)

// Signal is an outbound notification.
type Signal interface {
	Kind() Kind
}

// CapacityExceeded is emitted when a bounded set evicts its oldest entries.
type CapacityExceeded struct {
	Set     string   `json:"set"`
	Ceiling int      `json:"ceiling"`
	Evicted []string `json:"evicted"`
}

func (CapacityExceeded) Kind() Kind { return KindCapacityExceeded }

// StaleContext is emitted when the current context vanished server-side.
type StaleContext struct {
	ContextID string `json:"context_id"`
}

func (StaleContext) Kind() Kind { return KindStaleContext }

// BuildTimeout is emitted when a build exceeds its wall-clock limit.
type BuildTimeout struct {
	Generation uint64        `json:"generation"`
	After      time.Duration `json:"after"`
}

func (BuildTimeout) Kind() Kind { return KindBuildTimeout }

// StatusChanged is emitted on every pipeline state transition.
type StatusChanged struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ContextID string `json:"context_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (StatusChanged) Kind() Kind { return KindStatusChanged }

// SelectionChanged is emitted after a selection mutation commits.
type SelectionChanged struct {
	Selected int `json:"selected"`
	Affected int `json:"affected"`
}

func (SelectionChanged) Kind() Kind { return KindSelectionChanged }

// Emitter sends signals to subscribers.
type Emitter interface {
	Emit(s Signal)
}

// Bus is a synchronous fan-out Emitter.
type Bus struct {
	mu       sync.RWMutex
	handlers []func(Signal)
	record   bool
	events   []Signal
}

// NewBus creates a bus that does not retain emitted signals.
func NewBus() *Bus {
	return &Bus{}
}

// NewRecordingBus creates a bus that keeps every emitted signal (for tests).
func NewRecordingBus() *Bus {
	return &Bus{record: true}
}

// Emit delivers s to every subscriber. Handlers run outside the bus lock.
func (b *Bus) Emit(s Signal) {
	b.mu.Lock()
	if b.record {
		b.events = append(b.events, s)
	}
	handlers := make([]func(Signal), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

// Subscribe registers a handler.
func (b *Bus) Subscribe(handler func(Signal)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Events returns recorded signals.
func (b *Bus) Events() []Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Signal, len(b.events))
	copy(out, b.events)
	return out
}

// EventsOfKind returns recorded signals of one kind.
func (b *Bus) EventsOfKind(k Kind) []Signal {
	var out []Signal
	for _, s := range b.Events() {
		if s.Kind() == k {
			out = append(out, s)
		}
	}
	return out
}

// Clear drops recorded signals.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// Nop discards every signal.
type Nop struct{}

func (Nop) Emit(Signal) {}
