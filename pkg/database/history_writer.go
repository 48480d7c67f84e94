package database

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"go.uber.org/zap"
)

// HistoryWriter persists announces off the dispatch path. Enqueue never
// blocks; when the queue is full the record is dropped and counted.
type HistoryWriter struct {
	store  *AnnounceStore
	queue  chan AnnounceRecord
	logger *logging.ColoredLogger

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// HistoryStats are the writer counters.
type HistoryStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Pending int    `json:"pending"`
}

// NewHistoryWriter creates a writer with a queue of the given size.
func NewHistoryWriter(store *AnnounceStore, buffer int, logger *logging.ColoredLogger) *HistoryWriter {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HistoryWriter{
		store:  store,
		queue:  make(chan AnnounceRecord, buffer),
		logger: logger,
	}
}

// Enqueue schedules rec for writing and reports whether it was accepted.
func (w *HistoryWriter) Enqueue(rec AnnounceRecord) bool {
	select {
	case w.queue <- rec:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Run writes queued records until ctx is cancelled, then drains what is
// left with a short deadline.
func (w *HistoryWriter) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-w.queue:
			w.write(ctx, rec)
		case <-ctx.Done():
			w.drain()
			return nil
		}
	}
}

func (w *HistoryWriter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-w.queue:
			w.write(ctx, rec)
		default:
			return
		}
	}
}

func (w *HistoryWriter) write(ctx context.Context, rec AnnounceRecord) {
	if _, err := w.store.Insert(ctx, rec); err != nil {
		w.failed.Add(1)
		w.logger.ComponentWarn(logging.ComponentDatabase, "Failed to persist announce",
			zap.String("destination", rec.Destination), zap.Error(err))
		return
	}
	w.written.Add(1)
}

// Stats returns the writer counters.
func (w *HistoryWriter) Stats() HistoryStats {
	return HistoryStats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
		Pending: len(w.queue),
	}
}
