package manager

import (
	"time"

	"github.com/google/uuid"

	"stardock/pkg/logging"
)

// EventKind classifies lifecycle events emitted by the manager.
type EventKind string

const (
	EventLoaded       EventKind = "Loaded"
	EventUnloaded     EventKind = "Unloaded"
	EventStateChanged EventKind = "StateChanged"
	EventError        EventKind = "Error"
)

// Event is one lifecycle notification. Payload carries kind-specific detail:
// StateChanged events include "from" and "to", Error events include "error".
type Event struct {
	ID        string                 `json:"id"`
	Component string                 `json:"component"`
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Listener receives events synchronously on the goroutine that triggered the
// transition. Long-running work belongs on the listener's own goroutine.
type Listener func(Event)

// AddEventListener registers a callback for one event kind.
func (m *Manager) AddEventListener(kind EventKind, fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[kind] = append(m.listeners[kind], fn)
}

// RemoveEventListener drops every callback registered for the kind.
func (m *Manager) RemoveEventListener(kind EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, kind)
}

// emit delivers an event to the kind's listeners. A panicking listener is
// recovered and logged; it never aborts the operation that raised the event.
func (m *Manager) emit(component string, kind EventKind, payload map[string]interface{}) {
	m.mu.RLock()
	fns := make([]Listener, len(m.listeners[kind]))
	copy(fns, m.listeners[kind])
	m.mu.RUnlock()

	if len(fns) == 0 {
		return
	}

	ev := Event{
		ID:        uuid.New().String(),
		Component: component,
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("Manager", nil, "event listener panicked on %s/%s: %v", component, kind, r)
				}
			}()
			fn(ev)
		}()
	}
}
