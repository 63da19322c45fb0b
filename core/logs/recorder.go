package logs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/medialib/core/logger"
)

const (
	defaultBufferSize    = 256
	defaultFlushInterval = 2 * time.Second
)

// Recorder accepts entries without blocking the caller and flushes them to
// a Sink in batches from a background goroutine. When the buffer is full
// the entry is dropped; persistence of operator logs must never stall the
// worker loop.
type Recorder struct {
	sink Sink
	log  *slog.Logger

	flushInterval time.Duration

	ch   chan Entry
	done chan struct{}
	once sync.Once
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBufferSize sets the pending-entry buffer capacity.
func WithBufferSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.ch = make(chan Entry, n)
		}
	}
}

// WithFlushInterval sets how often buffered entries are written out.
func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithLogger sets the slog logger for flush failures.
func WithLogger(log *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRecorder creates a Recorder writing to sink. Call Run to start the
// flush loop.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:          sink,
		log:           logger.Discard(),
		flushInterval: defaultFlushInterval,
		ch:            make(chan Entry, defaultBufferSize),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record queues an entry for persistence. Never blocks; drops the entry
// when the buffer is full.
func (r *Recorder) Record(e Entry) {
	select {
	case r.ch <- e:
	default:
		r.log.Warn("log entry dropped, buffer full", logger.Component(e.Logger))
	}
}

// Run returns a function suitable for errgroup.Go. The loop drains the
// buffer on a ticker and performs a final flush when ctx is canceled.
func (r *Recorder) Run(ctx context.Context) func() error {
	return func() error {
		defer r.once.Do(func() { close(r.done) })

		ticker := time.NewTicker(r.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.flush(context.WithoutCancel(ctx))
				return nil
			case <-ticker.C:
				r.flush(ctx)
			}
		}
	}
}

// Stopped reports when the flush loop has exited. Used in tests.
func (r *Recorder) Stopped() <-chan struct{} { return r.done }

func (r *Recorder) flush(ctx context.Context) {
	var batch []Entry
	for {
		select {
		case e := <-r.ch:
			batch = append(batch, e)
		default:
			if len(batch) == 0 {
				return
			}
			if err := r.sink.WriteEntries(ctx, batch); err != nil {
				r.log.Error("failed to persist log entries",
					logger.Error(err), logger.Count("entries", len(batch)))
			}
			return
		}
	}
}
