// Package dispatch fans events out to a fixed set of workers, routing every
// event of one entity to the same worker.
//
// Routing by entity keeps each entity's events in submission order and
// keeps concurrent updates of one entity off the store's retry path. The
// store's atomic update is still what guarantees one bracket per sequence;
// the pool only reduces contention inside a process.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/randalmurphal/bracketer/pkg/bracketer/event"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("dispatch pool is closed")

// Handler processes one event and returns the event to emit, if any.
// *bracketer.Bracketer satisfies it.
type Handler interface {
	Handle(ctx context.Context, evt *event.Event) (*event.Event, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt *event.Event) (*event.Event, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, evt *event.Event) (*event.Event, error) {
	return f(ctx, evt)
}

// Config configures a Pool.
type Config struct {
	// Workers is the number of workers.
	// Default: 4
	Workers int

	// QueueSize is the buffer size of each worker's queue. Submit blocks
	// while the target queue is full.
	// Default: 64
	QueueSize int

	// Key returns the routing key of an event. Events without a key go to
	// the first worker. Nil routes every event to the first worker.
	Key func(evt *event.Event) (string, bool)

	// Emit receives every event the handler returns. Calls come from
	// worker goroutines concurrently.
	Emit func(out *event.Event)

	// OnError is called when the handler fails after all retries.
	OnError func(evt *event.Event, err error)

	// DeadLetters, when set, receives every event the handler failed on.
	DeadLetters *DeadLetterQueue

	// Retry configures retries of failed events.
	// Default: DefaultRetry
	Retry RetryConfig
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	Workers:   4,
	QueueSize: 64,
	Retry:     DefaultRetry,
}

// Stats counts what a Pool has done.
type Stats struct {
	Submitted int64
	Handled   int64
	Emitted   int64
	Failed    int64
}

// Pool is a keyed worker pool.
type Pool struct {
	handler Handler
	config  Config

	mu     sync.RWMutex
	queues []chan *event.Event
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted atomic.Int64
	handled   atomic.Int64
	emitted   atomic.Int64
	failed    atomic.Int64
}

// NewPool starts a pool of workers calling handler.
func NewPool(handler Handler, config Config) *Pool {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig.Workers
	}
	if config.QueueSize < 0 {
		config.QueueSize = DefaultConfig.QueueSize
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultConfig.Retry
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		handler: handler,
		config:  config,
		queues:  make([]chan *event.Event, config.Workers),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := range p.queues {
		p.queues[i] = make(chan *event.Event, config.QueueSize)
		p.wg.Add(1)
		go p.work(p.queues[i])
	}
	return p
}

// Submit queues evt on its entity's worker. It blocks while that worker's
// queue is full, until ctx is done.
func (p *Pool) Submit(ctx context.Context, evt *event.Event) error {
	if evt == nil {
		return errors.New("dispatch: nil event")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	queue := p.queues[p.index(evt)]
	select {
	case queue <- evt:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, waits for queued events to be handled and
// stops the workers. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	return nil
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Handled:   p.handled.Load(),
		Emitted:   p.emitted.Load(),
		Failed:    p.failed.Load(),
	}
}

// Workers returns the number of workers.
func (p *Pool) Workers() int {
	return len(p.queues)
}

func (p *Pool) index(evt *event.Event) int {
	if p.config.Key == nil {
		return 0
	}
	key, ok := p.config.Key(evt)
	if !ok {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(len(p.queues)))
}

func (p *Pool) work(queue <-chan *event.Event) {
	defer p.wg.Done()

	for evt := range queue {
		var out *event.Event
		attempts, err := withRetry(p.ctx, p.config.Retry, func(ctx context.Context) error {
			var err error
			out, err = p.handler.Handle(ctx, evt)
			return err
		})
		p.handled.Add(1)

		if err != nil {
			p.failed.Add(1)
			if p.config.DeadLetters != nil {
				p.config.DeadLetters.Enqueue(evt, err, attempts)
			}
			if p.config.OnError != nil {
				p.config.OnError(evt, err)
			}
			continue
		}
		if out != nil {
			p.emitted.Add(1)
			if p.config.Emit != nil {
				p.config.Emit(out)
			}
		}
	}
}
