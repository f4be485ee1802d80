package history

import (
	"context"
	"sync"
	"time"

	"github.com/jaylee/roadpulse/backend/internal/contracts"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// Sink receives flushed batches. *Repository is the production sink.
type Sink interface {
	InsertPredictions(ctx context.Context, preds []contracts.Prediction) error
	UpsertSnapshots(ctx context.Context, snaps []contracts.SegmentSnapshot) error
}

type record struct {
	pred contracts.Prediction
	snap contracts.SegmentSnapshot
}

// Writer drains accepted predictions and their resulting snapshots to
// the database in batches, off the ingest hot path. Records are dropped
// with a warning if the queue is full; ingestion never blocks on the
// database.
type Writer struct {
	sink      Sink
	logger    *logger.Logger
	queue     chan record
	batchSize int
	interval  time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	dropped int64
}

// WriterConfig controls batching behavior.
type WriterConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// NewWriter creates a writer that flushes to the given sink.
func NewWriter(sink Sink, cfg WriterConfig, log *logger.Logger) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	return &Writer{
		sink:      sink,
		logger:    log,
		queue:     make(chan record, cfg.QueueSize),
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
	}
}

// Start launches the flush loop.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.WithFields(map[string]interface{}{
		"batch_size":     w.batchSize,
		"flush_interval": w.interval.String(),
	}).Info("History writer started")
}

// Stop flushes whatever is queued and stops the loop.
func (w *Writer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Record enqueues a prediction and the snapshot it produced. Non-blocking.
func (w *Writer) Record(pred contracts.Prediction, snap contracts.SegmentSnapshot) {
	select {
	case w.queue <- record{pred: pred, snap: snap}:
	default:
		w.mu.Lock()
		w.dropped++
		n := w.dropped
		w.mu.Unlock()

		if n%1000 == 1 {
			w.logger.WithField("dropped_total", n).Warn("History queue full, dropping records")
		}
	}
}

// Dropped returns how many records were discarded due to backpressure.
func (w *Writer) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]record, 0, w.batchSize)

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before exiting
			for {
				select {
				case rec := <-w.queue:
					batch = append(batch, rec)
				default:
					w.flush(batch)
					return
				}
			}

		case rec := <-w.queue:
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *Writer) flush(batch []record) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	preds := make([]contracts.Prediction, 0, len(batch))
	// Snapshots collapse to the latest per segment within the batch
	latest := make(map[string]contracts.SegmentSnapshot, len(batch))
	order := make([]string, 0, len(batch))
	for _, rec := range batch {
		preds = append(preds, rec.pred)
		if _, seen := latest[rec.snap.SegmentID]; !seen {
			order = append(order, rec.snap.SegmentID)
		}
		latest[rec.snap.SegmentID] = rec.snap
	}

	snaps := make([]contracts.SegmentSnapshot, 0, len(latest))
	for _, id := range order {
		snaps = append(snaps, latest[id])
	}

	if err := w.sink.InsertPredictions(ctx, preds); err != nil {
		w.logger.WithError(err).WithField("count", len(preds)).Error("Failed to persist predictions")
	}
	if err := w.sink.UpsertSnapshots(ctx, snaps); err != nil {
		w.logger.WithError(err).WithField("count", len(snaps)).Error("Failed to persist snapshots")
	}
}
