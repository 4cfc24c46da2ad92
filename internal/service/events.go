package service

import (
	"sync"

	"portscope/internal/domain"
)

// EventType defines the type of event
type EventType string

const (
	EventPortOpened       EventType = "port_opened"
	EventPortClosed       EventType = "port_closed"
	EventPortReattributed EventType = "port_reattributed"
	EventAdapterSelected  EventType = "adapter_selected"
	EventConfigReloaded   EventType = "config_reloaded"
	EventCollectionDone   EventType = "collection_done"
	EventFeatureDegraded  EventType = "feature_degraded"
)

// Event represents something that changed between collection passes
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// PortChange is the payload of port events
type PortChange struct {
	Port     domain.PortRecord  `json:"port"`
	Previous *domain.PortRecord `json:"previous,omitempty"`
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	eb.subscribers = append(eb.subscribers, ch)
	eb.mu.Unlock()
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// DiffPorts compares two reconciled port lists by key. Records present only
// in next are opened, only in prev closed, and records whose owner or
// source changed are reattributed.
func DiffPorts(prev, next []domain.PortRecord) []Event {
	before := make(map[string]domain.PortRecord, len(prev))
	for _, p := range prev {
		before[p.Key()] = p
	}

	var events []Event
	seen := make(map[string]bool, len(next))
	for _, p := range next {
		k := p.Key()
		seen[k] = true
		old, ok := before[k]
		switch {
		case !ok:
			events = append(events, Event{Type: EventPortOpened, Payload: PortChange{Port: p}})
		case old.Owner != p.Owner || old.Source != p.Source:
			o := old
			events = append(events, Event{Type: EventPortReattributed, Payload: PortChange{Port: p, Previous: &o}})
		}
	}
	for _, p := range prev {
		if !seen[p.Key()] {
			events = append(events, Event{Type: EventPortClosed, Payload: PortChange{Port: p}})
		}
	}
	return events
}
