package app

import (
	"sync"

	"github.com/alouette-a11y/alouette/internal/model"
)

type JobEventType string

const (
	JobEventStatus JobEventType = "status"
	JobEventStage  JobEventType = "stage"
)

// JobEvent is pushed to subscribers of a scan.
type JobEvent struct {
	ScanID string       `json:"scanId"`
	Type   JobEventType `json:"type"`

	// For status changes
	Status model.ScanStatus `json:"status,omitempty"`
	Error  string           `json:"error,omitempty"`

	// For stage changes: crawl, synthesize, render, deliver.
	Stage string `json:"stage,omitempty"`
}

const eventBuffer = 16

// EventHub fans scan events out to subscribers. Slow subscribers lose
// events rather than stall a job.
type EventHub struct {
	mu   sync.Mutex
	subs map[string]map[chan JobEvent]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[string]map[chan JobEvent]struct{})}
}

// Subscribe returns a channel of scanID's events and a func that ends the
// subscription and closes the channel.
func (h *EventHub) Subscribe(scanID string) (<-chan JobEvent, func()) {
	ch := make(chan JobEvent, eventBuffer)

	h.mu.Lock()
	set, ok := h.subs[scanID]
	if !ok {
		set = make(map[chan JobEvent]struct{})
		h.subs[scanID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[scanID], ch)
			if len(h.subs[scanID]) == 0 {
				delete(h.subs, scanID)
			}
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber of ev.ScanID without blocking.
func (h *EventHub) Publish(ev JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.ScanID] {
		// Non-blocking send; drop if buffer is full.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns how many subscriptions scanID has.
func (h *EventHub) Subscribers(scanID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[scanID])
}
