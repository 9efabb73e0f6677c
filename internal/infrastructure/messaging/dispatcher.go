package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultWorkerSlots    = 10
	defaultHandlerTimeout = 30 * time.Second
	defaultDLQCapacity    = 1000
)

// Dispatcher fans bus traffic out to registered handlers. Each execution
// passes through the middleware chain, gets a bounded number of retries
// with exponential backoff, and lands in the dead letter queue once the
// retries are spent. Async handlers share a bounded slot pool so a burst
// of solve events cannot spawn unbounded goroutines.
type Dispatcher struct {
	bus     shared.EventBus
	logger  *slog.Logger
	retry   RetryConfig
	dlq     *DeadLetterQueue
	metrics *DispatcherMetrics

	mu          sync.RWMutex
	routes      map[shared.EventType][]registration
	middlewares []Middleware

	ctx      context.Context
	cancel   context.CancelFunc
	inFlight sync.WaitGroup
	slots    chan struct{}
}

// registration binds one named handler to an event type.
type registration struct {
	name       string
	handler    shared.EventHandler
	async      bool
	maxRetries int
	timeout    time.Duration
}

// RetryConfig bounds how persistently a failing handler is re-run.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig retries three times, 100ms/200ms/400ms apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherBuilder assembles a Dispatcher. The zero configuration gives
// ten worker slots, default retry pacing and no dead letter queue.
type DispatcherBuilder struct {
	bus     shared.EventBus
	logger  *slog.Logger
	workers int
	retry   RetryConfig
	dlqSize int
}

// NewDispatcherBuilder starts a builder over the given bus.
func NewDispatcherBuilder(bus shared.EventBus) *DispatcherBuilder {
	return &DispatcherBuilder{
		bus:     bus,
		workers: defaultWorkerSlots,
		retry:   DefaultRetryConfig(),
	}
}

// WithLogger sets the logger for dispatch diagnostics.
func (b *DispatcherBuilder) WithLogger(logger *slog.Logger) *DispatcherBuilder {
	b.logger = logger
	return b
}

// WithWorkerPoolSize caps how many handlers may run at once.
func (b *DispatcherBuilder) WithWorkerPoolSize(n int) *DispatcherBuilder {
	b.workers = n
	return b
}

// WithRetryConfig overrides the default retry pacing.
func (b *DispatcherBuilder) WithRetryConfig(rc RetryConfig) *DispatcherBuilder {
	b.retry = rc
	return b
}

// WithDeadLetterQueue enables a dead letter queue holding up to size
// exhausted events.
func (b *DispatcherBuilder) WithDeadLetterQueue(size int) *DispatcherBuilder {
	b.dlqSize = size
	return b
}

// Build creates the dispatcher. It does not subscribe to the bus yet;
// call Start after the handlers are registered.
func (b *DispatcherBuilder) Build() *Dispatcher {
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := b.workers
	if workers <= 0 {
		workers = defaultWorkerSlots
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		bus:     b.bus,
		logger:  logger,
		retry:   b.retry,
		metrics: newDispatcherMetrics(),
		routes:  make(map[shared.EventType][]registration),
		ctx:     ctx,
		cancel:  cancel,
		slots:   make(chan struct{}, workers),
	}
	if b.dlqSize > 0 {
		d.dlq = NewDeadLetterQueue(b.dlqSize)
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION AND MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Register binds an async handler to an event type. Async handlers run
// in their own goroutine; Dispatch does not wait for them.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.register(eventType, name, handler, true)
}

// RegisterSync binds a handler that runs inline during Dispatch, so its
// error surfaces to the publisher.
func (d *Dispatcher) RegisterSync(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.register(eventType, name, handler, false)
}

func (d *Dispatcher) register(eventType shared.EventType, name string, handler shared.EventHandler, async bool) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	if name == "" {
		return errors.New("handler name cannot be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[eventType] = append(d.routes[eventType], registration{
		name:       name,
		handler:    handler,
		async:      async,
		maxRetries: d.retry.MaxRetries,
		timeout:    defaultHandlerTimeout,
	})

	d.logger.Debug("handler registered",
		"event_type", eventType,
		"handler", name,
		"async", async,
	)
	return nil
}

// Middleware wraps handler execution; the chain is applied to every
// handler on every attempt.
type Middleware func(shared.EventHandler) shared.EventHandler

// Use appends a middleware. The first one added runs outermost.
func (d *Dispatcher) Use(middleware Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middleware)
}

// RecoveryMiddleware converts a handler panic into an error so one bad
// handler cannot take the process down.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("recovered panic in event handler",
						"event_type", event.EventType(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware records the outcome and duration of every handler run.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			if err != nil {
				logger.Error("event handler failed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", time.Since(start),
					"error", err,
				)
				return err
			}
			logger.Debug("event handler done",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"duration", time.Since(start),
			)
			return nil
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHING
// ══════════════════════════════════════════════════════════════════════════════

// Start subscribes the dispatcher to every event on the bus.
func (d *Dispatcher) Start() error {
	return d.bus.SubscribeAll(d.Dispatch)
}

// Dispatch routes one event to its handlers. Sync handler errors are
// returned; async handlers are fire-and-forget and report only through
// the log, metrics and dead letter queue.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	regs := d.routes[event.EventType()]
	chain := d.middlewares
	d.mu.RUnlock()

	if len(regs) == 0 {
		return nil
	}
	d.metrics.recordDispatch()

	var firstErr error
	for _, reg := range regs {
		if reg.async {
			d.inFlight.Add(1)
			go func(r registration) {
				defer d.inFlight.Done()
				_ = d.runHandler(event, r, chain)
			}(reg)
			continue
		}
		if err := d.runHandler(event, reg, chain); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dispatcher) runHandler(event shared.Event, reg registration, chain []Middleware) error {
	select {
	case d.slots <- struct{}{}:
		defer func() { <-d.slots }()
	case <-d.ctx.Done():
		return d.ctx.Err()
	}

	handler := reg.handler
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}

	var lastErr error
	for attempt := 0; attempt <= reg.maxRetries; attempt++ {
		if attempt > 0 {
			delay := d.backoff(attempt)
			d.logger.Debug("retrying event handler",
				"handler", reg.name,
				"attempt", attempt,
				"delay", delay,
			)
			select {
			case <-d.ctx.Done():
				return d.ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		err := d.runWithTimeout(handler, event, reg.timeout)
		d.metrics.recordExecution(time.Since(start), err == nil)
		if err == nil {
			if attempt > 0 {
				d.metrics.recordRetrySuccess()
			}
			return nil
		}

		lastErr = err
		d.logger.Warn("event handler attempt failed",
			"handler", reg.name,
			"attempt", attempt,
			"error", err,
		)
	}

	if d.dlq != nil {
		d.dlq.Add(DeadLetterEntry{
			Event:       event,
			HandlerName: reg.name,
			Error:       lastErr,
			Attempts:    reg.maxRetries + 1,
			FailedAt:    time.Now(),
		})
	}
	d.metrics.recordExhausted()
	return fmt.Errorf("handler %s gave up after %d attempts: %w", reg.name, reg.maxRetries+1, lastErr)
}

func (d *Dispatcher) runWithTimeout(handler shared.EventHandler, event shared.Event, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- handler(event)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("handler timed out after %v", timeout)
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := float64(d.retry.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= d.retry.Multiplier
	}
	if max := float64(d.retry.MaxBackoff); d.retry.MaxBackoff > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// Stop cancels pending retries and waits for in-flight handlers.
func (d *Dispatcher) Stop() error {
	d.cancel()
	d.inFlight.Wait()
	d.logger.Info("event dispatcher stopped")
	return nil
}

// Metrics returns the dispatcher counters.
func (d *Dispatcher) Metrics() *DispatcherMetrics {
	return d.metrics
}

// DeadLetterQueue returns the queue of exhausted events, or nil when the
// dispatcher was built without one.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.dlq
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is one event whose handler spent all its retries.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue is a bounded FIFO of exhausted events. When full, the
// oldest entry is evicted to make room.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	cap     int
}

// NewDeadLetterQueue creates a queue holding up to capacity entries.
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	if capacity <= 0 {
		capacity = defaultDLQCapacity
	}
	return &DeadLetterQueue{cap: capacity}
}

// Add appends an entry, evicting the oldest when at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.cap {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// Size returns how many entries are waiting.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherMetrics counts dispatches and handler outcomes.
type DispatcherMetrics struct {
	mu            sync.Mutex
	dispatched    int64
	executions    int64
	succeeded     int64
	retrySuccess  int64
	exhausted     int64
	totalDuration time.Duration
}

func newDispatcherMetrics() *DispatcherMetrics {
	return &DispatcherMetrics{}
}

func (m *DispatcherMetrics) recordDispatch() {
	m.mu.Lock()
	m.dispatched++
	m.mu.Unlock()
}

func (m *DispatcherMetrics) recordExecution(d time.Duration, ok bool) {
	m.mu.Lock()
	m.executions++
	m.totalDuration += d
	if ok {
		m.succeeded++
	}
	m.mu.Unlock()
}

func (m *DispatcherMetrics) recordRetrySuccess() {
	m.mu.Lock()
	m.retrySuccess++
	m.mu.Unlock()
}

func (m *DispatcherMetrics) recordExhausted() {
	m.mu.Lock()
	m.exhausted++
	m.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the counters.
func (m *DispatcherMetrics) Snapshot() DispatcherMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := DispatcherMetricsSnapshot{
		TotalDispatched: m.dispatched,
		TotalExecutions: m.executions,
		TotalFailures:   m.exhausted,
		TotalRetries:    m.retrySuccess,
		SuccessRate:     1.0,
	}
	if m.executions > 0 {
		snap.SuccessRate = float64(m.succeeded) / float64(m.executions)
		snap.AverageDuration = m.totalDuration / time.Duration(m.executions)
	}
	return snap
}

// DispatcherMetricsSnapshot is what Snapshot hands back. TotalFailures
// counts handlers that spent every retry, not individual failed attempts.
type DispatcherMetricsSnapshot struct {
	TotalDispatched int64
	TotalExecutions int64
	TotalFailures   int64
	TotalRetries    int64
	SuccessRate     float64
	AverageDuration time.Duration
}
