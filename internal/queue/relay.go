package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tripwire/frostwatch/internal/agent"
)

// Storer is the central store that pending findings are relayed to. It must
// be idempotent on Finding.ID since a crash between StoreBatch and Ack
// redelivers the batch.
type Storer interface {
	StoreBatch(ctx context.Context, fs []agent.Finding) error
}

// Relay moves pending findings from the queue to a Storer.
type Relay struct {
	q        *SQLiteQueue
	dst      Storer
	logger   *slog.Logger
	interval time.Duration
	batch    int

	delivered atomic.Int64
	failures  atomic.Int64
}

// NewRelay returns a Relay that ships up to batch findings per store call
// and polls the queue every interval.
func NewRelay(q *SQLiteQueue, dst Storer, logger *slog.Logger, interval time.Duration, batch int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{q: q, dst: dst, logger: logger, interval: interval, batch: batch}
}

// Run flushes on every tick until ctx is cancelled. Store failures are logged
// and retried on the next tick.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("relay: flush failed",
					slog.Int("pending", r.q.Depth()),
					slog.Any("error", err))
			}
		}
	}
}

// Delivered returns how many findings have been stored and acknowledged.
func (r *Relay) Delivered() int64 { return r.delivered.Load() }

// Failures returns how many store calls have failed.
func (r *Relay) Failures() int64 { return r.failures.Load() }

// Flush relays every pending finding and returns how many were acknowledged.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		pending, err := r.q.Dequeue(ctx, r.batch)
		if err != nil {
			return total, err
		}
		if len(pending) == 0 {
			return total, nil
		}

		fs := make([]agent.Finding, len(pending))
		seqs := make([]int64, len(pending))
		for i, p := range pending {
			fs[i], seqs[i] = p.Finding, p.Seq
		}
		if err := r.dst.StoreBatch(ctx, fs); err != nil {
			r.failures.Add(1)
			return total, fmt.Errorf("relay: store %d findings: %w", len(fs), err)
		}
		if err := r.q.Ack(ctx, seqs); err != nil {
			return total, err
		}
		total += len(pending)
		r.delivered.Add(int64(len(pending)))
		r.logger.Debug("relay: delivered", slog.Int("count", len(pending)))

		if len(pending) < r.batch {
			return total, nil
		}
	}
}
