package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/trainingalerts/internal/domain"
)

// Directory lists tenants and clients eligible for the sweep. A missing status counts as active.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory constructs a Directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// ActiveTenants returns every active tenant ordered by id.
func (d *Directory) ActiveTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := d.pool.Query(ctx, `SELECT tenant_id FROM tenants WHERE status = 'active' OR status IS NULL ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := make([]domain.Tenant, 0)
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// ActiveClients returns the active clients of a tenant ordered by id.
func (d *Directory) ActiveClients(ctx context.Context, tenantID string) ([]domain.Client, error) {
	const query = `SELECT client_id, tenant_id FROM clients
        WHERE tenant_id=$1 AND (status = 'active' OR status IS NULL)
        ORDER BY client_id`

	clients := make([]domain.Client, 0)
	err := inTenantTx(ctx, d.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c domain.Client
			if err := rows.Scan(&c.ID, &c.TenantID); err != nil {
				return err
			}
			clients = append(clients, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return clients, nil
}

// SweepLockName identifies the session advisory lock held while sweeping.
const SweepLockName = "cron_alerts"

// SweepLock is a session level advisory lock held on a dedicated connection for the whole sweep.
type SweepLock struct {
	pool *pgxpool.Pool
	name string
}

// NewSweepLock constructs a SweepLock for the given lock name.
func NewSweepLock(pool *pgxpool.Pool, name string) *SweepLock {
	if name == "" {
		name = SweepLockName
	}
	return &SweepLock{pool: pool, name: name}
}

// TryLock attempts to take the lock without waiting.
func (l *SweepLock) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(hashtextextended($1, 0))", l.name).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock(hashtextextended($1, 0))", l.name); err != nil {
			// the lock dies with the session
			conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}
	return release, true, nil
}
