package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/sethvargo/go-retry"
)

const (
	defaultAuditQueueSize  = 1024
	defaultAuditRetries    = 3
	defaultAuditBackoff    = 50 * time.Millisecond
	defaultAuditRecordTime = 5 * time.Second
)

// ErrAuditQueueFull is returned when the async sink cannot take more events
var ErrAuditQueueFull = goerrors.New("audit queue is full", goerrors.CategoryOperation).
	WithTextCode("AUDIT_QUEUE_FULL")

// ErrAuditSinkClosed is returned by Record after Close
var ErrAuditSinkClosed = goerrors.New("audit sink is closed", goerrors.CategoryOperation).
	WithTextCode("AUDIT_SINK_CLOSED")

// AsyncSink moves audit writes off the request path. Events go through a
// bounded queue to a single worker that retries the wrapped sink with
// exponential backoff.
type AsyncSink struct {
	next    AuditSink
	queue   chan AuditEvent
	retries uint64
	backoff time.Duration
	timeout time.Duration
	logger  Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

var _ AuditSink = (*AsyncSink)(nil)

// AsyncSinkOption configures an AsyncSink
type AsyncSinkOption func(*AsyncSink)

// WithAuditQueueSize sets the queue capacity
func WithAuditQueueSize(size int) AsyncSinkOption {
	return func(a *AsyncSink) {
		if size > 0 {
			a.queue = make(chan AuditEvent, size)
		}
	}
}

// WithAuditRetry sets the retry count and base backoff
func WithAuditRetry(retries uint64, backoff time.Duration) AsyncSinkOption {
	return func(a *AsyncSink) {
		a.retries = retries
		if backoff > 0 {
			a.backoff = backoff
		}
	}
}

// WithAuditLogger sets the logger used for dropped events
func WithAuditLogger(logger Logger) AsyncSinkOption {
	return func(a *AsyncSink) {
		a.logger = normalizeLogger(logger)
	}
}

// NewAsyncSink starts the worker. Call Close to drain and stop it.
func NewAsyncSink(next AuditSink, opts ...AsyncSinkOption) *AsyncSink {
	a := &AsyncSink{
		next:    normalizeAuditSink(next),
		queue:   make(chan AuditEvent, defaultAuditQueueSize),
		retries: defaultAuditRetries,
		backoff: defaultAuditBackoff,
		timeout: defaultAuditRecordTime,
		logger:  defLogger{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	go a.run()
	return a
}

// Record implements AuditSink. It never blocks.
func (a *AsyncSink) Record(_ context.Context, event AuditEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrAuditSinkClosed
	}

	select {
	case a.queue <- event:
		return nil
	default:
		a.dropped.Add(1)
		return ErrAuditQueueFull
	}
}

// Dropped returns how many events were rejected because the queue was full
func (a *AsyncSink) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until the queue is drained or ctx
// is done.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "audit sink did not drain in time")
	}
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for event := range a.queue {
		if err := a.deliver(event); err != nil {
			a.logger.Error("audit event lost", "event", event.Type, "subject", event.Subject, "error", err)
		}
	}
}

func (a *AsyncSink) deliver(event AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	backoff := retry.WithMaxRetries(a.retries, retry.NewExponential(a.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := a.next.Record(ctx, event); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
