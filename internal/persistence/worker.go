package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"MarginVault/internal/event"
	"MarginVault/internal/observability"

	"github.com/rs/zerolog"
)

// Worker drains the persist channel and batch-writes the event log. The
// engine sends to the channel synchronously, so a stalled worker backpressures
// the write path instead of losing events.
type Worker struct {
	writer       *EventLogWriter
	in           <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(db *sql.DB, in <-chan event.Envelope, batchSize int, flushTimeout time.Duration, metrics *observability.Metrics) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		in:           in,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          observability.NewLogger("persistence"),
		metrics:      metrics,
	}
}

// Writer returns the underlying event log writer.
func (w *Worker) Writer() *EventLogWriter { return w.writer }

// Run batches incoming events and flushes when the batch fills or the flush
// timeout fires. Blocks until the context ends or the channel closes; the
// final partial batch is flushed on the way out.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-w.in:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			row, err := RowFromEnvelope(env)
			if err != nil {
				// An unmarshalable payload is a programming error; log it and
				// keep the sequence in the log with an empty payload.
				w.log.Error().Err(err).Int64("sequence", env.Sequence).Msg("event payload marshal failed")
				row.Payload = []byte("{}")
			}
			batch = append(batch, row)

			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds or
// the context is cancelled. On cancellation one last flush runs against a
// background context so the batch is not lost on shutdown.
func (w *Worker) flushWithRetry(ctx context.Context, batch []EventRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(batch)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		w.log.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (w *Worker) flush(ctx context.Context, batch []EventRow) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistEventsWritten.Add(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Sequence))
	}
	return nil
}
