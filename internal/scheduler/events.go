package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/docscan/internal/models"
)

// EventType names a scheduler notification.
type EventType string

const (
	EventJobAdded       EventType = "job:added"
	EventJobStarted     EventType = "job:started"
	EventJobProgress    EventType = "job:progress"
	EventJobCompleted   EventType = "job:completed"
	EventJobFailed      EventType = "job:failed"
	EventJobRetry       EventType = "job:retry"
	EventJobCancelled   EventType = "job:cancelled"
	EventBatchStarted   EventType = "batch:started"
	EventBatchPaused    EventType = "batch:paused"
	EventBatchResumed   EventType = "batch:resumed"
	EventBatchCompleted EventType = "batch:completed"
	EventBatchCancelled EventType = "batch:cancelled"
	EventJobsCleared    EventType = "jobs:cleared"
)

// Event is one scheduler notification. Only the fields relevant to Type are set.
//
// For job:retry, Attempt is the number of the failed attempt and MaxAttempts the
// configured retry budget. For job:failed, Attempt is the total number of attempts made.
type Event struct {
	Type        EventType              `json:"type"`
	Time        time.Time              `json:"time"`
	Job         *JobSnapshot           `json:"job,omitempty"`
	Progress    *models.ProgressUpdate `json:"progress,omitempty"`
	Attempt     int                    `json:"attempt,omitempty"`
	MaxAttempts int                    `json:"max_attempts,omitempty"`
	Statistics  *Statistics            `json:"statistics,omitempty"`
	Cleared     int                    `json:"cleared,omitempty"`
}

// Handler receives events. Handlers run synchronously on the publishing goroutine and
// must not call back into the Scheduler's blocking methods.
type Handler func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber in subscription order.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
