package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/trainingalerts/internal/domain"
	"example.com/trainingalerts/internal/events"
)

// AlertStore persists training alerts and records their lifecycle events in the outbox.
type AlertStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewAlertStore constructs an AlertStore.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const severityRankExpr = `CASE ta.severity WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END`

// CreateIfAbsent inserts the alert unless an unresolved alert of the same type exists since the
// given instant. A transaction-scoped advisory lock on (tenant, client, type) serialises concurrent
// callers so the check and the insert cannot interleave.
func (s *AlertStore) CreateIfAbsent(ctx context.Context, alert domain.Alert, since time.Time) (bool, error) {
	created := false
	err := inTenantTx(ctx, s.pool, alert.TenantID, func(tx pgx.Tx) error {
		lockKey := strings.Join([]string{alert.TenantID, alert.ClientID, string(alert.Type)}, "|")
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", lockKey); err != nil {
			return err
		}

		existing, err := s.findUnresolvedSince(ctx, tx, alert.TenantID, alert.ClientID, alert.Type, since)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}

		if err := s.insert(ctx, tx, alert); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *AlertStore) findUnresolvedSince(ctx context.Context, tx pgx.Tx, tenantID, clientID string, alertType domain.AlertType, since time.Time) ([]string, error) {
	const query = `SELECT alert_id FROM training_alerts
        WHERE tenant_id=$1 AND client_id=$2 AND alert_type=$3 AND created_at >= $4 AND is_resolved = FALSE`

	rows, err := tx.Query(ctx, query, tenantID, clientID, string(alertType), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *AlertStore) insert(ctx context.Context, tx pgx.Tx, alert domain.Alert) error {
	data, err := domain.EncodePayload(alert.Data)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO training_alerts (alert_id, tenant_id, client_id, alert_type, severity, title, message, data, is_resolved, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,FALSE,$9)`

	if _, err := tx.Exec(ctx, stmt,
		alert.ID,
		alert.TenantID,
		alert.ClientID,
		string(alert.Type),
		string(alert.Severity),
		alert.Title,
		alert.Message,
		data,
		alert.CreatedAt,
	); err != nil {
		return err
	}

	return insertOutbox(ctx, tx, alert.TenantID, alert.ClientID, alert.ID, events.TrainingAlertCreated, events.AlertCreated{
		AlertID:   alert.ID,
		TenantID:  alert.TenantID,
		ClientID:  alert.ClientID,
		AlertType: string(alert.Type),
		Severity:  string(alert.Severity),
		Title:     alert.Title,
		Message:   alert.Message,
		Data:      data,
		CreatedAt: alert.CreatedAt,
	})
}

// List returns alerts ordered by severity rank, then newest first, with keyset pagination.
func (s *AlertStore) List(ctx context.Context, tenantID string, filter domain.ListFilter) ([]domain.Alert, *domain.ListCursor, error) {
	filter = filter.Normalize()

	args := []interface{}{tenantID, filter.Dismissed}
	query := `SELECT ta.alert_id, ta.tenant_id, ta.client_id, COALESCE(c.first_name, ''), COALESCE(c.last_name, ''),
            ta.alert_type, ta.severity, ta.title, ta.message, ta.data, ta.is_resolved, ta.resolved_at, ta.created_at
        FROM training_alerts ta
        LEFT JOIN clients c ON c.client_id = ta.client_id AND c.tenant_id = ta.tenant_id
        WHERE ta.tenant_id=$1 AND ta.is_resolved=$2`

	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		query += fmt.Sprintf(" AND ta.client_id=$%d", len(args))
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		query += fmt.Sprintf(" AND ta.severity=$%d", len(args))
	}
	if filter.Cursor != nil {
		if _, err := uuid.Parse(filter.Cursor.ID); err != nil {
			return nil, nil, fmt.Errorf("%w: alert id %q", domain.ErrInvalidCursor, filter.Cursor.ID)
		}
		args = append(args, filter.Cursor.SeverityRank, filter.Cursor.CreatedAt, filter.Cursor.ID)
		n := len(args)
		query += fmt.Sprintf(" AND (%s, ta.created_at, ta.alert_id) < ($%d, $%d, $%d::uuid)", severityRankExpr, n-2, n-1, n)
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY %s DESC, ta.created_at DESC, ta.alert_id DESC LIMIT $%d", severityRankExpr, len(args))

	results := make([]domain.Alert, 0, filter.Limit)
	err := inTenantTx(ctx, s.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			alert, err := scanAlert(rows)
			if err != nil {
				return err
			}
			results = append(results, alert)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var next *domain.ListCursor
	if len(results) == filter.Limit {
		next = domain.CursorAfter(results[len(results)-1])
	}
	return results, next, nil
}

func scanAlert(row pgx.Row) (domain.Alert, error) {
	var (
		alert               domain.Alert
		firstName, lastName string
		alertType, severity string
		data                []byte
	)
	if err := row.Scan(&alert.ID, &alert.TenantID, &alert.ClientID, &firstName, &lastName,
		&alertType, &severity, &alert.Title, &alert.Message, &data, &alert.IsResolved, &alert.ResolvedAt, &alert.CreatedAt); err != nil {
		return domain.Alert{}, err
	}

	alert.Type = domain.AlertType(alertType)
	alert.Severity = domain.Severity(severity)
	alert.ClientName = strings.TrimSpace(firstName + " " + lastName)
	alert.CreatedAt = alert.CreatedAt.UTC()

	payload, err := domain.DecodePayload(alert.Type, data)
	if err != nil {
		return domain.Alert{}, err
	}
	alert.Data = payload
	return alert, nil
}

// DismissOne resolves one alert of the tenant. Dismissing an already resolved alert reports true
// without emitting another event.
func (s *AlertStore) DismissOne(ctx context.Context, tenantID, alertID string) (bool, error) {
	if _, err := uuid.Parse(alertID); err != nil {
		return false, nil
	}

	found := false
	err := inTenantTx(ctx, s.pool, tenantID, func(tx pgx.Tx) error {
		const resolve = `UPDATE training_alerts SET is_resolved = TRUE, resolved_at = $3
            WHERE tenant_id=$1 AND alert_id=$2 AND is_resolved = FALSE
            RETURNING client_id, alert_type`

		var clientID, alertType string
		err := tx.QueryRow(ctx, resolve, tenantID, alertID, s.now()).Scan(&clientID, &alertType)
		switch {
		case err == nil:
			found = true
			return emitResolved(ctx, tx, tenantID, clientID, alertID, alertType, s.now())
		case errors.Is(err, pgx.ErrNoRows):
			return tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM training_alerts WHERE tenant_id=$1 AND alert_id=$2)`,
				tenantID, alertID,
			).Scan(&found)
		default:
			return err
		}
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// DismissAllForClient resolves every unresolved alert of the client.
func (s *AlertStore) DismissAllForClient(ctx context.Context, tenantID, clientID string) (int64, error) {
	var changed int64
	err := inTenantTx(ctx, s.pool, tenantID, func(tx pgx.Tx) error {
		now := s.now()
		rows, err := tx.Query(ctx, `UPDATE training_alerts SET is_resolved = TRUE, resolved_at = $3
            WHERE tenant_id=$1 AND client_id=$2 AND is_resolved = FALSE
            RETURNING alert_id, alert_type`, tenantID, clientID, now)
		if err != nil {
			return err
		}

		type resolved struct{ id, alertType string }
		var all []resolved
		for rows.Next() {
			var r resolved
			if err := rows.Scan(&r.id, &r.alertType); err != nil {
				rows.Close()
				return err
			}
			all = append(all, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, r := range all {
			if err := emitResolved(ctx, tx, tenantID, clientID, r.id, r.alertType, now); err != nil {
				return err
			}
		}
		changed = int64(len(all))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func emitResolved(ctx context.Context, tx pgx.Tx, tenantID, clientID, alertID, alertType string, at time.Time) error {
	return insertOutbox(ctx, tx, tenantID, clientID, alertID, events.TrainingAlertResolved, events.AlertResolved{
		AlertID:    alertID,
		TenantID:   tenantID,
		ClientID:   clientID,
		AlertType:  alertType,
		ResolvedAt: at,
	})
}

func insertOutbox(ctx context.Context, tx pgx.Tx, tenantID, clientID, alertID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	route, ok := events.Catalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		tenantID,
		"training_alert",
		alertID,
		eventType,
		route.Topic,
		route.SchemaSubject,
		fmt.Sprintf("%s:%s", tenantID, clientID),
		body,
		fmt.Sprintf("%s:%s", alertID, eventType),
	)
	return err
}
