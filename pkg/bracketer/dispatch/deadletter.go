package dispatch

import (
	"sync"
	"time"

	"github.com/randalmurphal/bracketer/pkg/bracketer/event"
)

// DefaultDeadLetterSize is the default capacity of a DeadLetterQueue.
const DefaultDeadLetterSize = 10000

// FailedEvent is an event the pool gave up on.
type FailedEvent struct {
	Event        *event.Event `json:"event"`
	ErrorMessage string       `json:"error_message"`
	AttemptCount int          `json:"attempt_count"`
	FailedAt     time.Time    `json:"failed_at"`
}

// DeadLetterQueue keeps the most recent events that failed processing so a
// host can inspect or replay them. When full, the oldest entry is dropped.
type DeadLetterQueue struct {
	mu      sync.Mutex
	events  []*FailedEvent
	maxSize int
	dropped int64
	now     func() time.Time
}

// NewDeadLetterQueue creates a queue holding at most maxSize events.
// Non-positive sizes use DefaultDeadLetterSize.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = DefaultDeadLetterSize
	}
	return &DeadLetterQueue{maxSize: maxSize, now: time.Now}
}

// Enqueue records a failed event.
func (d *DeadLetterQueue) Enqueue(evt *event.Event, err error, attempts int) {
	failed := &FailedEvent{
		Event:        evt,
		AttemptCount: attempts,
		FailedAt:     d.now(),
	}
	if err != nil {
		failed.ErrorMessage = err.Error()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.events) >= d.maxSize {
		d.events = d.events[1:]
		d.dropped++
	}
	d.events = append(d.events, failed)
}

// List returns up to limit queued events, oldest first. A non-positive
// limit returns all of them.
func (d *DeadLetterQueue) List(limit int) []*FailedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*FailedEvent, n)
	copy(out, d.events[:n])
	return out
}

// Drain removes and returns every queued event, oldest first.
func (d *DeadLetterQueue) Drain() []*FailedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := d.events
	d.events = nil
	return out
}

// Len returns the number of queued events.
func (d *DeadLetterQueue) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// Dropped returns how many events were evicted because the queue was full.
func (d *DeadLetterQueue) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
