package giftrelay

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/internal"
	"github.com/gozephyr/giftrelay/metrics"
)

// QueueConfig configures a Queue
type QueueConfig struct {
	// MaxConcurrent is the number of slots; a slot is held while an item
	// executes and for InterDispatchDelay after it settles
	MaxConcurrent int

	// InterDispatchDelay is the pause between an item settling and its slot
	// becoming available again
	InterDispatchDelay time.Duration

	// ItemTimeout rejects items that have not started within this long of
	// being enqueued (0 disables it)
	ItemTimeout time.Duration
}

// DefaultQueueConfig returns the default queue configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrent:      3,
		InterDispatchDelay: time.Second,
		ItemTimeout:        30 * time.Second,
	}
}

// Validate checks the configuration
func (c QueueConfig) Validate() error {
	if c.MaxConcurrent <= 0 {
		return errors.Wrap("QueueConfig.Validate", "max_concurrent", errors.ErrInvalidConfig)
	}
	if c.InterDispatchDelay < 0 || c.ItemTimeout < 0 {
		return errors.Wrap("QueueConfig.Validate", "delay", errors.ErrInvalidConfig)
	}
	return nil
}

type queueOptions struct {
	name     string
	logger   *slog.Logger
	recorder metrics.Recorder
}

// QueueOption configures a Queue
type QueueOption func(*queueOptions)

// WithQueueName sets the queue name used in logs and metric labels
func WithQueueName(name string) QueueOption {
	return func(o *queueOptions) {
		o.name = name
	}
}

// WithQueueLogger sets the logger
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(o *queueOptions) {
		o.logger = logger
	}
}

// WithQueueRecorder sets the metrics recorder
func WithQueueRecorder(r metrics.Recorder) QueueOption {
	return func(o *queueOptions) {
		o.recorder = r
	}
}

// Ticket tracks one enqueued item. It settles exactly once.
type Ticket[T any] struct {
	ID         string
	Priority   int
	EnqueuedAt time.Time

	done   chan struct{}
	once   sync.Once
	result T
	err    error
}

func newTicket[T any](priority int) *Ticket[T] {
	return &Ticket[T]{
		ID:         uuid.NewString(),
		Priority:   priority,
		EnqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

func (t *Ticket[T]) settle(v T, err error) bool {
	settled := false
	t.once.Do(func() {
		t.result, t.err = v, err
		close(t.done)
		settled = true
	})
	return settled
}

// Done is closed once the ticket settles
func (t *Ticket[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the ticket settles or ctx ends. Abandoning a ticket
// does not stop its item.
func (t *Ticket[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		var zero T
		return zero, errors.Wrap("Wait", t.ID, errors.ErrContextCanceled)
	}
}

type queueItem[T any] struct {
	ticket  *Ticket[T]
	ctx     context.Context
	execute func(ctx context.Context) (T, error)
	seq     uint64
	index   int
	timer   *time.Timer
}

// itemHeap orders by descending priority, then enqueue order
type itemHeap[T any] []*queueItem[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].ticket.Priority != h[j].ticket.Priority {
		return h[i].ticket.Priority > h[j].ticket.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x any) {
	it := x.(*queueItem[T])
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// QueueStats is a point-in-time view of a queue
type QueueStats struct {
	Pending      int
	InFlight     int
	PeakInFlight int64
	Dispatched   int64
	Succeeded    int64
	Failed       int64
	TimedOut     int64
}

// Queue runs work items with at most MaxConcurrent in flight, highest
// priority first. Each enqueue returns a Ticket that settles as soon as its
// item does.
type Queue[T any] struct {
	cfg      QueueConfig
	name     string
	logger   *slog.Logger
	recorder metrics.Recorder

	mu       sync.Mutex
	pending  itemHeap[T]
	inFlight *internal.SafeCounter
	seq      uint64
	closed   bool
	running  sync.WaitGroup

	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	timedOut   atomic.Int64
}

// NewQueue creates a queue. An invalid config falls back to the defaults
// for the offending fields.
func NewQueue[T any](cfg QueueConfig, opts ...QueueOption) *Queue[T] {
	def := DefaultQueueConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.InterDispatchDelay < 0 {
		cfg.InterDispatchDelay = def.InterDispatchDelay
	}
	if cfg.ItemTimeout < 0 {
		cfg.ItemTimeout = def.ItemTimeout
	}

	o := queueOptions{
		name:     "queue",
		logger:   slog.Default(),
		recorder: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Queue[T]{
		cfg:      cfg,
		name:     o.name,
		logger:   o.logger,
		recorder: o.recorder,
		inFlight: internal.NewSafeCounter(),
	}
}

// Config returns the effective configuration
func (q *Queue[T]) Config() QueueConfig {
	return q.cfg
}

// Enqueue adds execute to the pending list. execute receives ctx; the queue
// never cancels it. If ctx ends before the item starts, the item is dropped
// and its ticket settles with the context error.
func (q *Queue[T]) Enqueue(ctx context.Context, execute func(ctx context.Context) (T, error), priority int) *Ticket[T] {
	t := newTicket[T](priority)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		var zero T
		t.settle(zero, errors.Wrap("Enqueue", t.ID, errors.ErrQueueClosed))
		return t
	}

	q.seq++
	it := &queueItem[T]{
		ticket:  t,
		ctx:     ctx,
		execute: execute,
		seq:     q.seq,
	}
	heap.Push(&q.pending, it)
	if q.cfg.ItemTimeout > 0 {
		it.timer = time.AfterFunc(q.cfg.ItemTimeout, func() { q.expire(it) })
	}
	q.dispatchLocked()
	q.recorder.QueuePending(q.name, len(q.pending))
	q.mu.Unlock()

	return t
}

// Do enqueues execute and waits for its result
func (q *Queue[T]) Do(ctx context.Context, execute func(ctx context.Context) (T, error), priority int) (T, error) {
	return q.Enqueue(ctx, execute, priority).Wait(ctx)
}

// expire rejects it with ErrTimeout if it is still pending
func (q *Queue[T]) expire(it *queueItem[T]) {
	q.mu.Lock()
	if it.index < 0 {
		q.mu.Unlock()
		return
	}
	heap.Remove(&q.pending, it.index)
	q.recorder.QueuePending(q.name, len(q.pending))
	q.mu.Unlock()

	var zero T
	if it.ticket.settle(zero, errors.Wrap("Enqueue", it.ticket.ID, errors.ErrTimeout)) {
		q.timedOut.Add(1)
		q.recorder.QueueTimeout(q.name)
		q.logger.Warn("queue item timed out", "queue", q.name, "id", it.ticket.ID,
			"waited", time.Since(it.ticket.EnqueuedAt))
	}
}

// dispatchLocked starts pending items while slots are free
func (q *Queue[T]) dispatchLocked() {
	for len(q.pending) > 0 && q.inFlight.Get() < int64(q.cfg.MaxConcurrent) {
		it := heap.Pop(&q.pending).(*queueItem[T])
		if it.timer != nil {
			it.timer.Stop()
		}
		if err := it.ctx.Err(); err != nil {
			var zero T
			it.ticket.settle(zero, errors.Wrap("Enqueue", it.ticket.ID, errors.ErrContextCanceled))
			continue
		}

		n := q.inFlight.Increment()
		q.dispatched.Add(1)
		q.recorder.QueueDispatched(q.name)
		q.recorder.QueueInFlight(q.name, int(n))

		q.running.Add(1)
		go q.run(it)
	}
}

func (q *Queue[T]) run(it *queueItem[T]) {
	defer q.running.Done()

	v, err := q.execute(it)
	if err != nil {
		q.failed.Add(1)
		q.recorder.QueueFailure(q.name)
		q.logger.Debug("queue item failed", "queue", q.name, "id", it.ticket.ID, "error", err)
	} else {
		q.succeeded.Add(1)
	}
	it.ticket.settle(v, err)

	if q.cfg.InterDispatchDelay > 0 {
		time.Sleep(q.cfg.InterDispatchDelay)
	}

	q.mu.Lock()
	q.inFlight.Decrement()
	q.recorder.QueueInFlight(q.name, int(q.inFlight.Get()))
	q.dispatchLocked()
	q.recorder.QueuePending(q.name, len(q.pending))
	q.mu.Unlock()
}

func (q *Queue[T]) execute(it *queueItem[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, errors.Recover("Execute", r)
		}
	}()
	return it.execute(it.ctx)
}

// InFlight returns the number of occupied slots
func (q *Queue[T]) InFlight() int {
	return int(q.inFlight.Get())
}

// Pending returns the number of items waiting for a slot
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns the current queue statistics
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	pending := len(q.pending)
	q.mu.Unlock()

	return QueueStats{
		Pending:      pending,
		InFlight:     int(q.inFlight.Get()),
		PeakInFlight: q.inFlight.Peak(),
		Dispatched:   q.dispatched.Load(),
		Succeeded:    q.succeeded.Load(),
		Failed:       q.failed.Load(),
		TimedOut:     q.timedOut.Load(),
	}
}

// Close rejects pending items with ErrQueueClosed and waits for started
// items to settle and release their slots.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	drained := make([]*queueItem[T], 0, len(q.pending))
	for len(q.pending) > 0 {
		drained = append(drained, heap.Pop(&q.pending).(*queueItem[T]))
	}
	q.recorder.QueuePending(q.name, 0)
	q.mu.Unlock()

	var zero T
	for _, it := range drained {
		if it.timer != nil {
			it.timer.Stop()
		}
		it.ticket.settle(zero, errors.Wrap("Close", it.ticket.ID, errors.ErrQueueClosed))
	}

	q.running.Wait()
	return nil
}
