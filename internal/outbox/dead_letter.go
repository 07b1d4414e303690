package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// deadLetter copies failed messages into outbox_dlq, one transaction per tenant.
func (d *Dispatcher) deadLetter(ctx context.Context, messages []Message, reason string) error {
	byTenant := make(map[string][]Message)
	for _, msg := range messages {
		byTenant[msg.TenantID] = append(byTenant[msg.TenantID], msg)
	}

	const stmt = `INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`

	for tenantID, batch := range byTenant {
		err := d.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
			for _, msg := range batch {
				entryReason := fmt.Sprintf("%s (topic=%s)", reason, msg.Topic)
				if _, err := tx.Exec(ctx, stmt,
					msg.TenantID, msg.EventID, msg.EventType, msg.Topic, msg.Payload, entryReason,
					msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
				); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("dead-letter tenant %s: %w", tenantID, err)
		}
		for _, msg := range batch {
			dlqCounter.WithLabelValues(msg.Topic).Inc()
		}
	}
	return nil
}
