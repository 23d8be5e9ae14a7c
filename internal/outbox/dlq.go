package outbox

import (
	"context"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
)

const maxReasonLength = 1000

// DLQWriter keeps undeliverable events in import_outbox_dlq.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter constructs a DLQWriter.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write stores msg with the delivery failure reason. A replayed message that fails
// again updates its original entry instead of adding a new one.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	reason = truncateReason(reason)

	if msg.ReplayedFrom != nil {
		tag, err := w.pool.Exec(ctx,
			`UPDATE import_outbox_dlq
                SET attempts = attempts + 1, reason = $2, replayed_at = NULL, updated_at = NOW()
              WHERE dlq_id = $1`,
			*msg.ReplayedFrom, reason,
		)
		if err != nil || tag.RowsAffected() > 0 {
			return err
		}
	}

	_, err := w.pool.Exec(ctx,
		`INSERT INTO import_outbox_dlq (event_id, owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, reason)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		msg.EventID, msg.OwnerID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Topic, msg.SchemaSubject, msg.PartitionKey, msg.Payload, reason,
	)
	return err
}

// truncateReason caps reason at maxReasonLength bytes without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}
	n := maxReasonLength
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}
