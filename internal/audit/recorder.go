// Package audit delivers status change entries to durable sinks without
// blocking the request that produced them.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/facility-scheduler/internal/logging"
	"github.com/example/facility-scheduler/internal/persistence"
)

const (
	defaultBuffer       = 256
	defaultWriteTimeout = 5 * time.Second
)

// Sink persists one audit entry.
type Sink interface {
	Write(ctx context.Context, entry persistence.AuditEntry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, entry persistence.AuditEntry) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, entry persistence.AuditEntry) error {
	return f(ctx, entry)
}

// RepositorySink writes entries to an AuditRepository.
func RepositorySink(repo persistence.AuditRepository) Sink {
	if repo == nil {
		return nil
	}
	return SinkFunc(repo.AppendAudit)
}

// Options tune the recorder queue.
type Options struct {
	// Buffer is the number of entries queued before new ones are dropped.
	Buffer int
	// WriteTimeout bounds each sink write.
	WriteTimeout time.Duration
	// OnDrop is called for every entry discarded because the queue was full
	// or the recorder was closed.
	OnDrop func()
}

type queued struct {
	ctx   context.Context
	entry persistence.AuditEntry
}

// Recorder queues entries and writes them to every sink from a single
// background goroutine. Record never blocks.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
	opts   Options

	mu      sync.RWMutex
	closed  bool
	queue   chan queued
	done    chan struct{}
	dropped atomic.Uint64
}

// NewRecorder starts a recorder writing to sinks. Nil sinks are ignored.
func NewRecorder(logger *slog.Logger, opts Options, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}

	r := &Recorder{
		sinks:  active,
		logger: logger.With("component", "audit"),
		opts:   opts,
		queue:  make(chan queued, opts.Buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues entry. The caller's cancellation does not reach the sinks,
// but its logger does.
func (r *Recorder) Record(ctx context.Context, entry persistence.AuditEntry) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(entry, "recorder closed")
		return
	}
	select {
	case r.queue <- queued{ctx: context.WithoutCancel(ctx), entry: entry}:
	default:
		r.drop(entry, "queue full")
	}
}

// Dropped returns the number of entries discarded so far.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting entries and waits until the queue is drained or ctx
// ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for item := range r.queue {
		r.write(item)
	}
}

func (r *Recorder) write(item queued) {
	logger := logging.FromContextOr(item.ctx, r.logger)
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(item.ctx, r.opts.WriteTimeout)
		err := sink.Write(ctx, item.entry)
		cancel()
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, persistence.ErrDuplicate) {
				level = slog.LevelDebug
			}
			logger.Log(item.ctx, level, "audit write failed",
				"audit_id", item.entry.ID,
				"execution_id", item.entry.ExecutionID,
				"error", err,
			)
		}
	}
}

func (r *Recorder) drop(entry persistence.AuditEntry, reason string) {
	r.dropped.Add(1)
	if r.opts.OnDrop != nil {
		r.opts.OnDrop()
	}
	r.logger.Warn("audit entry dropped",
		"reason", reason,
		"audit_id", entry.ID,
		"execution_id", entry.ExecutionID,
	)
}
