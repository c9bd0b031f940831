package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/spesialist/internal/telemetry"
)

// outboxEntry is one row of utgaende_melding.
type outboxEntry struct {
	ID       int64
	Nøkkel   string
	Melding  Melding
	Attempts int
}

// OutboxWorker publishes messages written to utgaende_melding by committed
// transactions. Rows for one key are published strictly in insertion order:
// a row is only picked up once every earlier live row for the same key is gone.
type OutboxWorker struct {
	pool         *pgxpool.Pool
	publisher    Publisher
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started     atomic.Bool
	cancelLoop  context.CancelFunc
	done        chan struct{}
	once        sync.Once
	lastCleanup time.Time
	drainCh     chan context.Context
}

// NewOutboxWorker creates a new outbox worker.
func NewOutboxWorker(pool *pgxpool.Pool, publisher Publisher, logger *slog.Logger, pollInterval time.Duration, batchSize int) *OutboxWorker {
	return &OutboxWorker{
		pool:         pool,
		publisher:    publisher,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. Only the first call has any effect.
func (w *OutboxWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("outbox: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain stops the poll loop after one final batch and blocks until it has
// finished or ctx expires.
func (w *OutboxWorker) Drain(ctx context.Context) {
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("outbox: drain timed out")
	}
}

func (w *OutboxWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.processBatch(drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.processBatch(batchCtx)
			cancel()
		}
	}
}

const maxOutboxAttempts = 10

// processBatch publishes one batch and reports how many rows were published.
func (w *OutboxWorker) processBatch(ctx context.Context) int {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		w.logger.Error("outbox: begin tx", "error", err)
		return 0
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT o.id, o.nokkel, o.melding, o.attempts
		 FROM utgaende_melding o
		 WHERE (o.locked_until IS NULL OR o.locked_until < now())
		   AND o.attempts < $1
		   AND NOT EXISTS (
		       SELECT 1 FROM utgaende_melding e
		       WHERE e.nokkel = o.nokkel AND e.id < o.id AND e.attempts < $1
		   )
		 ORDER BY o.id ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		maxOutboxAttempts, w.batchSize,
	)
	if err != nil {
		w.logger.Error("outbox: select pending", "error", err)
		return 0
	}

	entries, err := scanOutboxEntries(rows)
	if err != nil {
		w.logger.Error("outbox: scan entries", "error", err)
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	// The lock must outlive the 30s batch timeout so that a second worker
	// cannot pick up rows this one is still publishing.
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if _, err := tx.Exec(ctx,
		`UPDATE utgaende_melding SET locked_until = now() + interval '60 seconds' WHERE id = ANY($1)`,
		ids,
	); err != nil {
		w.logger.Error("outbox: lock entries", "error", err)
		return 0
	}
	if err := tx.Commit(ctx); err != nil {
		w.logger.Error("outbox: commit lock", "error", err)
		return 0
	}

	var published []int64
	blocked := make(map[string]bool)
	for _, e := range entries {
		if blocked[e.Nøkkel] {
			w.release(ctx, e)
			continue
		}
		if err := w.publisher.Publiser(ctx, e.Nøkkel, e.Melding); err != nil {
			w.logger.Error("outbox: publish", "error", err, "outbox_id", e.ID, "event_name", e.Melding.Navn)
			w.fail(ctx, e, err.Error())
			blocked[e.Nøkkel] = true
			continue
		}
		published = append(published, e.ID)
	}
	w.succeed(ctx, published)

	if time.Since(w.lastCleanup) > time.Hour {
		w.cleanupDeadLetters(ctx)
		w.lastCleanup = time.Now()
	}
	if len(published) > 0 {
		w.logger.Debug("outbox: published", "count", len(published))
	}
	return len(published)
}

func (w *OutboxWorker) succeed(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if _, err := w.pool.Exec(ctx, `DELETE FROM utgaende_melding WHERE id = ANY($1)`, ids); err != nil {
		w.logger.Error("outbox: delete published entries", "error", err)
	}
}

// fail backs off exponentially: locked_until = now() + 2^attempts seconds, capped at 5 minutes.
func (w *OutboxWorker) fail(ctx context.Context, e outboxEntry, errMsg string) {
	if _, err := w.pool.Exec(ctx,
		`UPDATE utgaende_melding
		 SET attempts = attempts + 1,
		     last_error = $1,
		     locked_until = now() + LEAST(POWER(2, attempts + 1), 300) * interval '1 second'
		 WHERE id = $2`,
		errMsg, e.ID,
	); err != nil {
		w.logger.Error("outbox: update failed entry", "error", err)
	}
	if e.Attempts+1 >= maxOutboxAttempts {
		w.logger.Warn("outbox: dead-letter entry",
			"outbox_id", e.ID,
			"melding_id", e.Melding.ID,
			"event_name", e.Melding.Navn,
			"attempts", e.Attempts+1,
		)
	}
}

// release unlocks a row that was skipped because an earlier row for its key failed.
func (w *OutboxWorker) release(ctx context.Context, e outboxEntry) {
	if _, err := w.pool.Exec(ctx,
		`UPDATE utgaende_melding SET locked_until = NULL WHERE id = $1`, e.ID,
	); err != nil {
		w.logger.Error("outbox: release entry", "error", err)
	}
}

func (w *OutboxWorker) cleanupDeadLetters(ctx context.Context) {
	tag, err := w.pool.Exec(ctx,
		`DELETE FROM utgaende_melding
		 WHERE attempts >= $1
		   AND created_at < now() - interval '7 days'`,
		maxOutboxAttempts,
	)
	if err != nil {
		w.logger.Error("outbox: cleanup dead-letters failed", "error", err)
		return
	}
	if tag.RowsAffected() > 0 {
		w.logger.Info("outbox: cleaned dead-letter entries", "deleted", tag.RowsAffected())
	}
}

func (w *OutboxWorker) registerMetrics() {
	meter := telemetry.Meter("spesialist/outbox")

	if _, err := meter.Int64ObservableGauge("spesialist.outbox.depth",
		metric.WithDescription("Number of unpublished messages in the outbox"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			var count int64
			err := w.pool.QueryRow(ctx, `SELECT COUNT(*) FROM utgaende_melding WHERE attempts < $1`, maxOutboxAttempts).Scan(&count)
			if err != nil {
				return nil
			}
			o.Observe(count)
			return nil
		}),
	); err != nil {
		w.logger.Warn("outbox: register depth gauge", "error", err)
	}
}

func scanOutboxEntries(rows pgx.Rows) ([]outboxEntry, error) {
	defer rows.Close()
	var entries []outboxEntry
	for rows.Next() {
		var (
			e   outboxEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Nøkkel, &raw, &e.Attempts); err != nil {
			return nil, fmt.Errorf("outbox: scan entry: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Melding); err != nil {
			return nil, fmt.Errorf("outbox: decode entry %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
