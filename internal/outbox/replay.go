package outbox

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DefaultMaxAttempts = 5
	DefaultReplayBatch = 50
)

// Replayer moves dead-lettered events back into import_outbox for another delivery
// attempt. Entries that already failed MaxAttempts times are quarantined instead.
type Replayer struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

// NewReplayer constructs a Replayer. A non-positive maxAttempts selects DefaultMaxAttempts.
func NewReplayer(pool *pgxpool.Pool, maxAttempts int) *Replayer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Replayer{pool: pool, maxAttempts: maxAttempts}
}

// ReplayResult counts what one RunOnce call did.
type ReplayResult struct {
	Replayed    int `json:"replayed"`
	Quarantined int `json:"quarantined"`
	Backlog     int `json:"backlog"`
}

type dlqEntry struct {
	ID            int64
	OwnerID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
	Attempts      int
}

// RunOnce handles up to limit waiting entries in one transaction.
func (r *Replayer) RunOnce(ctx context.Context, limit int) (result ReplayResult, err error) {
	if limit <= 0 {
		limit = DefaultReplayBatch
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReplayResult{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `SELECT dlq_id, owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, attempts
        FROM import_outbox_dlq
        WHERE replayed_at IS NULL AND quarantined_at IS NULL
        ORDER BY created_at
        LIMIT $1
        FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return ReplayResult{}, err
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[dlqEntry])
	if err != nil {
		return ReplayResult{}, err
	}

	for _, entry := range entries {
		if entry.Attempts >= r.maxAttempts {
			if _, err = tx.Exec(ctx, `UPDATE import_outbox_dlq SET quarantined_at = NOW(), updated_at = NOW() WHERE dlq_id = $1`, entry.ID); err != nil {
				return ReplayResult{}, err
			}
			dlqQuarantinedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
			result.Quarantined++
			continue
		}

		if _, err = tx.Exec(ctx,
			`INSERT INTO import_outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, replayed_from)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			entry.OwnerID, entry.AggregateType, entry.AggregateID, entry.EventType, entry.Topic, entry.SchemaSubject, entry.PartitionKey, entry.Payload, entry.ID,
		); err != nil {
			return ReplayResult{}, err
		}
		if _, err = tx.Exec(ctx, `UPDATE import_outbox_dlq SET replayed_at = NOW(), updated_at = NOW() WHERE dlq_id = $1`, entry.ID); err != nil {
			return ReplayResult{}, err
		}
		dlqReplayedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
		result.Replayed++
	}

	if err = tx.Commit(ctx); err != nil {
		return ReplayResult{}, err
	}

	result.Backlog, err = r.Backlog(ctx)
	return result, err
}

// Backlog counts entries waiting for a replay and updates the backlog gauge.
func (r *Replayer) Backlog(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_outbox_dlq WHERE replayed_at IS NULL AND quarantined_at IS NULL`).Scan(&n); err != nil {
		return 0, err
	}
	dlqBacklogGauge.Set(float64(n))
	return n, nil
}
