package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"example.com/trainingalerts/internal/observability"
)

const (
	// DefaultMaxReplays is how often a dead-lettered event is requeued before it is quarantined.
	DefaultMaxReplays = 5
	// DefaultReplayDelay is the backoff base between replay attempts.
	DefaultReplayDelay = time.Minute

	maxReplayDelay = time.Hour
)

// ReplayResult summarises one replay pass.
type ReplayResult struct {
	Requeued    int
	Quarantined int
	Rescheduled int
}

// Replayer moves dead-lettered alert events back into the outbox so the dispatcher publishes them
// again. Entries that exhausted their attempts are quarantined and left for an operator.
type Replayer struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     logrus.FieldLogger
}

// NewReplayer constructs a Replayer. Non-positive limits select the defaults.
func NewReplayer(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration, logger logrus.FieldLogger) *Replayer {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxReplays
	}
	if baseDelay <= 0 {
		baseDelay = DefaultReplayDelay
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Replayer{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, logger: observability.Component(logger, "dlq-replay")}
}

// RunOnce processes up to batchSize due entries. Failures of individual entries are joined into
// the returned error; the other entries are still processed.
func (r *Replayer) RunOnce(ctx context.Context, batchSize int) (ReplayResult, error) {
	entries, err := r.dueEntries(ctx, batchSize)
	if err != nil {
		return ReplayResult{}, err
	}

	var (
		result ReplayResult
		errs   []error
	)
	for _, entry := range entries {
		outcome, err := r.handle(ctx, entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
			continue
		}
		switch outcome {
		case outcomeRequeued:
			result.Requeued++
		case outcomeQuarantined:
			result.Quarantined++
		case outcomeRescheduled:
			result.Rescheduled++
		}
		replayCounter.WithLabelValues(entry.EventType, string(outcome)).Inc()
	}

	r.updateBacklog(ctx)
	if len(entries) > 0 {
		r.logger.WithFields(logrus.Fields{
			"requeued":    result.Requeued,
			"quarantined": result.Quarantined,
			"rescheduled": result.Rescheduled,
		}).Info("dlq replay finished")
	}
	return result, errors.Join(errs...)
}

type replayOutcome string

const (
	outcomeRequeued    replayOutcome = "requeued"
	outcomeQuarantined replayOutcome = "quarantined"
	outcomeRescheduled replayOutcome = "rescheduled"
)

func (r *Replayer) handle(ctx context.Context, entry dlqEntry) (replayOutcome, error) {
	var outcome replayOutcome
	err := inTenantTx(ctx, r.pool, entry.TenantID, func(tx pgx.Tx) error {
		if entry.RetryCount >= r.maxRetries {
			outcome = outcomeQuarantined
			_, err := tx.Exec(ctx, `UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`,
				"retry limit reached", entry.ID)
			return err
		}

		if requeueErr := requeue(ctx, tx, entry); requeueErr != nil {
			outcome = outcomeRescheduled
			_, err := tx.Exec(ctx, `UPDATE outbox_dlq
                SET retry_count = retry_count + 1,
                    last_attempt_at = NOW(),
                    next_retry_at = NOW() + make_interval(secs => $1),
                    reason = $2
                WHERE dlq_id = $3`,
				r.backoff(entry.RetryCount+1).Seconds(), requeueErr.Error(), entry.ID)
			return err
		}

		outcome = outcomeRequeued
		_, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID)
		return err
	})
	return outcome, err
}

// backoff doubles the base delay per attempt, capped at one hour.
func (r *Replayer) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxReplayDelay {
			return maxReplayDelay
		}
	}
	return delay
}

func (r *Replayer) dueEntries(ctx context.Context, batchSize int) ([]dlqEntry, error) {
	const query = `SELECT dlq_id, tenant_id, event_type, topic, payload, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at
        LIMIT $1`

	rows, err := r.pool.Query(ctx, query, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]dlqEntry, 0)
	for rows.Next() {
		var e dlqEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &e.Topic, &e.Payload, &e.AggregateType, &e.AggregateID, &e.SchemaSubject, &e.PartitionKey, &e.RetryCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Replayer) updateBacklog(ctx context.Context) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count); err != nil {
		r.logger.WithError(err).Warn("count dlq backlog")
		return
	}
	dlqBacklogGauge.Set(float64(count))
}

// requeue inserts the entry into the outbox again. The copy carries no dedupe key because the
// original row keeps it.
func requeue(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if _, ok := schemaCatalog[entry.EventType]; !ok {
		return fmt.Errorf("no schema metadata for event_type=%s", entry.EventType)
	}
	_, err := tx.Exec(ctx, `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.TenantID, entry.AggregateType, entry.AggregateID, entry.EventType, entry.Topic, entry.SchemaSubject, entry.PartitionKey, entry.Payload)
	return err
}

type dlqEntry struct {
	ID            int64
	TenantID      string
	EventType     string
	Topic         string
	Payload       []byte
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}
