// Package progress fans live execution deltas out to subscribers. Publishing
// is fire-and-forget: a slow subscriber is disconnected when its buffer
// overflows, never blocking job execution.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"clickflow/internal/domain"
)

const defaultBuffer = 64

// Subscriber receives events on C until Close or until the hub drops it for
// falling behind. Either way C is closed.
type Subscriber struct {
	C chan domain.ProgressEvent

	hub    *Hub
	taskID string // empty = all tasks
	once   sync.Once
}

// Close detaches the subscriber from the hub.
func (s *Subscriber) Close() { s.hub.unsubscribe(s) }

// Hub is the publish/subscribe channel for progress events.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber, optionally scoped to one task.
// buffer <= 0 uses the default.
func (h *Hub) Subscribe(taskID string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &Subscriber{C: make(chan domain.ProgressEvent, buffer), hub: h, taskID: taskID}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if ok {
		s.once.Do(func() { close(s.C) })
	}
}

// Publish delivers an event to every matching subscriber. Best effort: a
// subscriber whose buffer is full is dropped rather than waited on.
func (h *Hub) Publish(ev domain.ProgressEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	var dropped []*Subscriber
	for s := range h.subs {
		if s.taskID != "" && s.taskID != ev.TaskID {
			continue
		}
		select {
		case s.C <- ev:
		default:
			dropped = append(dropped, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range dropped {
		log.Warn().Str("task_id", s.taskID).Msg("dropping slow progress subscriber")
		h.unsubscribe(s)
	}
}

// Len returns the current subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
