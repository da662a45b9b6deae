package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ibs-source/counterlog/internal/log"
	"github.com/ibs-source/counterlog/internal/reading"
)

// ErrWriterClosed is returned by Write after shutdown has started
var ErrWriterClosed = errors.New("batch writer closed")

// defaultWriteTimeout bounds one sink write when no timeout is configured
const defaultWriteTimeout = 10 * time.Second

// WriterConfig holds the batch writer knobs
type WriterConfig struct {
	QueueCapacity  int
	BatchSize      int
	BatchTimeout   time.Duration
	WriteTimeout   time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// WriterStats is a point-in-time counter snapshot
type WriterStats struct {
	Received uint64 `json:"received"`
	Written  uint64 `json:"written"`
	Failed   uint64 `json:"failed"`
	Spilled  uint64 `json:"spilled"`
	Queued   int    `json:"queued"`
}

// Writer batches readings into the sink. Producers block when the bounded
// queue is full; dropping data is worse than slowing a poll loop. A single
// consumer goroutine flushes on batch size or batch age, whichever first.
type Writer struct {
	cfg  WriterConfig
	sink Sink
	dlq  *DLQ
	log  *log.Logger

	queue     chan reading.DeviceReading
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	received atomic.Uint64
	written  atomic.Uint64
	failed   atomic.Uint64
	spilled  atomic.Uint64
}

// NewWriter creates the writer and starts its consumer goroutine.
// dlq may be nil; terminally failed batches are then logged and lost.
func NewWriter(cfg WriterConfig, sink Sink, dlq *DLQ, logger *log.Logger) *Writer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	w := &Writer{
		cfg:   cfg,
		sink:  sink,
		dlq:   dlq,
		log:   logger,
		queue: make(chan reading.DeviceReading, cfg.QueueCapacity),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Write enqueues one reading, blocking while the queue is full
func (w *Writer) Write(ctx context.Context, r reading.DeviceReading) error {
	select {
	case <-w.quit:
		return ErrWriterClosed
	default:
	}

	select {
	case w.queue <- r:
		w.received.Add(1)
		return nil
	case <-w.quit:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteBatch enqueues a slice of readings in order
func (w *Writer) WriteBatch(ctx context.Context, batch []reading.DeviceReading) error {
	for i := range batch {
		if err := w.Write(ctx, batch[i]); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the current counters
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Received: w.received.Load(),
		Written:  w.written.Load(),
		Failed:   w.failed.Load(),
		Spilled:  w.spilled.Load(),
		Queued:   len(w.queue),
	}
}

// Close stops intake, flushes whatever is queued and waits for the consumer
// to finish, bounded by ctx.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.quit)
	})

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single consumer loop
func (w *Writer) run() {
	defer close(w.done)

	var batch []reading.DeviceReading
	timer := time.NewTimer(w.cfg.BatchTimeout)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case r := <-w.queue:
			if len(batch) == 0 {
				timer.Reset(w.cfg.BatchTimeout)
			}
			batch = append(batch, r)
			if len(batch) >= w.cfg.BatchSize {
				w.stopTimer(timer)
				w.flush(batch)
				batch = nil
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = nil
			}

		case <-w.quit:
			w.stopTimer(timer)
			w.drain(batch)
			return
		}
	}
}

func (w *Writer) stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// drain empties the queue after shutdown started and flushes everything
func (w *Writer) drain(batch []reading.DeviceReading) {
	for {
		select {
		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = nil
			}
		default:
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

// flush writes one batch through the sink with capped exponential backoff.
// Each attempt is bounded by WriteTimeout. A batch that survives every
// retry, or whose backoff is cut short by shutdown, goes to the DLQ.
func (w *Writer) flush(batch []reading.DeviceReading) {
	var lastErr error
retry:
	for attempt := 1; attempt <= w.cfg.RetryAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
		err := w.sink.WriteBatch(ctx, batch)
		cancel()

		if err == nil {
			w.written.Add(uint64(len(batch)))
			w.log.Debug("Flushed batch of %d readings", len(batch))
			return
		}
		lastErr = err
		w.failed.Add(1)

		if attempt < w.cfg.RetryAttempts {
			delay := w.cfg.RetryBaseDelay << (attempt - 1)
			if delay > w.cfg.RetryMaxDelay {
				delay = w.cfg.RetryMaxDelay
			}
			w.log.Warn("Batch write failed (attempt %d/%d), retrying in %s: %v",
				attempt, w.cfg.RetryAttempts, delay, err)
			select {
			case <-time.After(delay):
			case <-w.quit:
				w.log.Warn("Shutdown interrupted batch retry after attempt %d/%d",
					attempt, w.cfg.RetryAttempts)
				break retry
			}
		}
	}

	if w.dlq == nil {
		w.log.Error("Dropping batch of %d readings, DLQ disabled: %v", len(batch), lastErr)
		return
	}
	if err := w.dlq.Spill(batch, lastErr); err != nil {
		w.log.Error("Failed to spill batch of %d readings to DLQ: %v", len(batch), err)
		return
	}
	w.spilled.Add(uint64(len(batch)))
}
