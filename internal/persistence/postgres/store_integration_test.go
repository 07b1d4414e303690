//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/trainingalerts/internal/domain"
	"example.com/trainingalerts/internal/persistence/migrations"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("coaching"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, migrations.Apply(ctx, db))
	require.NoError(t, db.Close())

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedClient(t *testing.T, pool *pgxpool.Pool, tenantID, clientID, status string) {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, `INSERT INTO tenants (tenant_id, status) VALUES ($1, 'active') ON CONFLICT DO NOTHING`, tenantID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO clients (client_id, tenant_id, first_name, last_name, status) VALUES ($1, $2, 'Ada', 'Lovelace', NULLIF($3, ''))`,
		clientID, tenantID, status)
	require.NoError(t, err)
}

func draftAlert(tenantID, clientID string, alertType domain.AlertType, severity domain.Severity, createdAt time.Time) domain.Alert {
	return domain.Alert{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		ClientID:  clientID,
		Type:      alertType,
		Severity:  severity,
		Title:     "title",
		Message:   "message",
		Data:      domain.LowReadinessData{AvgReadiness: 42.3, Days: 3},
		CreatedAt: createdAt,
	}
}

func TestAlertStoreDeduplicatesConcurrentInserts(t *testing.T) {
	pool := startPostgres(t)
	store := NewAlertStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CreateIfAbsent(ctx, draftAlert("t1", "c1", domain.AlertLowReadiness, domain.SeverityMedium, now), now.Add(-24*time.Hour))
			require.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)

	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type = 'training_alert.created'`).Scan(&outboxRows))
	require.Equal(t, 1, outboxRows)

	old := draftAlert("t1", "c2", domain.AlertLowReadiness, domain.SeverityMedium, now.Add(-25*time.Hour))
	ok, err := store.CreateIfAbsent(ctx, old, now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.CreateIfAbsent(ctx, draftAlert("t1", "c2", domain.AlertLowReadiness, domain.SeverityMedium, now), now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAlertStoreListAndDismiss(t *testing.T) {
	pool := startPostgres(t)
	seedClient(t, pool, "t1", "c1", "active")
	store := NewAlertStore(pool)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	low := draftAlert("t1", "c1", domain.AlertDeloadSuggested, domain.SeverityLow, base.Add(time.Hour))
	low.Data = domain.DeloadSuggestedData{HighIntensityWeeks: 4, AvgRPE: 8.1}
	medium := draftAlert("t1", "c1", domain.AlertLowReadiness, domain.SeverityMedium, base)
	high := draftAlert("t1", "c1", domain.AlertOvertrainingRisk, domain.SeverityHigh, base.Add(-time.Hour))
	high.Data = domain.OvertrainingRiskData{SessionsLastWeek: 5, AvgReadiness: 40, AvgSoreness: 8}
	for _, a := range []domain.Alert{low, medium, high} {
		ok, err := store.CreateIfAbsent(ctx, a, base.Add(-24*time.Hour))
		require.NoError(t, err)
		require.True(t, ok)
	}

	alerts, next, err := store.List(ctx, "t1", domain.ListFilter{})
	require.NoError(t, err)
	require.Nil(t, next)
	require.Len(t, alerts, 3)
	require.Equal(t, []string{high.ID, medium.ID, low.ID}, []string{alerts[0].ID, alerts[1].ID, alerts[2].ID})
	require.Equal(t, "Ada Lovelace", alerts[0].ClientName)
	require.Equal(t, high.Data, alerts[0].Data)

	page, cursor, err := store.List(ctx, "t1", domain.ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.NotNil(t, cursor)
	rest, _, err := store.List(ctx, "t1", domain.ListFilter{Limit: 5, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, medium.ID, rest[0].ID)

	_, _, err = store.List(ctx, "t1", domain.ListFilter{Cursor: &domain.ListCursor{SeverityRank: 2, CreatedAt: base, ID: "not-a-uuid"}})
	require.ErrorIs(t, err, domain.ErrInvalidCursor)

	ok, err := store.DismissOne(ctx, "t2", high.ID)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.DismissOne(ctx, "t1", "not-a-uuid")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.DismissOne(ctx, "t1", high.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.DismissOne(ctx, "t1", high.ID)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := store.DismissAllForClient(ctx, "t1", "c1")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	n, err = store.DismissAllForClient(ctx, "t1", "c1")
	require.NoError(t, err)
	require.Zero(t, n)

	resolved, _, err := store.List(ctx, "t1", domain.ListFilter{Dismissed: true})
	require.NoError(t, err)
	require.Len(t, resolved, 3)
	require.NotNil(t, resolved[0].ResolvedAt)

	var resolvedEvents int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type = 'training_alert.resolved'`).Scan(&resolvedEvents))
	require.Equal(t, 3, resolvedEvents)
}

func TestHistoryAndDirectory(t *testing.T) {
	pool := startPostgres(t)
	seedClient(t, pool, "t1", "c1", "")
	seedClient(t, pool, "t1", "c2", "archived")
	ctx := context.Background()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	for i, score := range []interface{}{40.0, nil, 42.0, 70.0} {
		_, err := pool.Exec(ctx, `INSERT INTO daily_checkins (tenant_id, client_id, checkin_date, readiness_score, soreness_level)
            VALUES ('t1', 'c1', $1, $2, 8)`, today.AddDate(0, 0, -i), score)
		require.NoError(t, err)
	}
	_, err := pool.Exec(ctx, `INSERT INTO muscle_groups (muscle_group_id, name) VALUES ('chest', 'Chest')`)
	require.NoError(t, err)
	for i, volume := range []float64{1000, 1020, 990} {
		_, err := pool.Exec(ctx, `INSERT INTO weekly_volume_analytics (tenant_id, client_id, muscle_group_id, week_start, total_volume, total_sets, avg_rpe)
            VALUES ('t1', 'c1', 'chest', $1, $2, 16, 8)`, today.AddDate(0, 0, -7*(2-i)), volume)
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := pool.Exec(ctx, `INSERT INTO workout_sessions (session_id, tenant_id, client_id, status, started_at)
            VALUES ($1, 't1', 'c1', 'completed', $2)`, uuid.NewString(), time.Now().Add(-time.Duration(i)*24*time.Hour))
		require.NoError(t, err)
	}

	history := NewHistory(pool)
	checkins, err := history.RecentCheckins(ctx, "t1", "c1", 3)
	require.NoError(t, err)
	require.Len(t, checkins, 3)
	require.NotNil(t, checkins[0].ReadinessScore)
	require.InDelta(t, 40.0, *checkins[0].ReadinessScore, 0.001)
	require.Nil(t, checkins[1].ReadinessScore)

	volume, err := history.WeeklyVolume(ctx, "t1", "c1", "", 4)
	require.NoError(t, err)
	require.Len(t, volume, 3)
	require.Equal(t, "Chest", volume[0].MuscleGroupName)
	require.InDelta(t, 1000.0, volume[0].TotalVolume, 0.001)

	filtered, err := history.WeeklyVolume(ctx, "t1", "c1", "back", 4)
	require.NoError(t, err)
	require.Empty(t, filtered)

	sessions, err := history.CompletedSessionCount(ctx, "t1", "c1", time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 5, sessions)

	dir := NewDirectory(pool)
	tenants, err := dir.ActiveTenants(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.Tenant{{ID: "t1"}}, tenants)

	clients, err := dir.ActiveClients(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, []domain.Client{{ID: "c1", TenantID: "t1"}}, clients)
}

func TestSweepLockIsExclusive(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	first := NewSweepLock(pool, "")
	second := NewSweepLock(pool, "")

	release, ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	release()

	release, ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	release()
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
