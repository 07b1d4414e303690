package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/trainingalerts/internal/domain"
)

// History reads client check-ins, weekly volume analytics and workout sessions.
type History struct {
	pool *pgxpool.Pool
}

// NewHistory constructs a History.
func NewHistory(pool *pgxpool.Pool) *History {
	return &History{pool: pool}
}

// RecentCheckins returns up to limit check-ins, newest first.
func (h *History) RecentCheckins(ctx context.Context, tenantID, clientID string, limit int) ([]domain.CheckinSample, error) {
	const query = `SELECT checkin_date, readiness_score, soreness_level, sleep_quality, sleep_hours
        FROM daily_checkins
        WHERE tenant_id=$1 AND client_id=$2
        ORDER BY checkin_date DESC
        LIMIT $3`

	samples := make([]domain.CheckinSample, 0, limit)
	err := inTenantTx(ctx, h.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, clientID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s domain.CheckinSample
			if err := rows.Scan(&s.Date, &s.ReadinessScore, &s.SorenessLevel, &s.SleepQuality, &s.SleepHours); err != nil {
				return err
			}
			samples = append(samples, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// WeeklyVolume returns per-muscle-group weekly rows whose week started within the trailing weeks,
// ordered by muscle group then week. An empty muscleGroupID selects every group.
func (h *History) WeeklyVolume(ctx context.Context, tenantID, clientID, muscleGroupID string, weeks int) ([]domain.WeeklyVolumeSample, error) {
	const query = `SELECT wva.muscle_group_id, COALESCE(mg.name, ''), wva.week_start, wva.total_volume, wva.total_sets, wva.avg_rpe
        FROM weekly_volume_analytics wva
        LEFT JOIN muscle_groups mg ON mg.muscle_group_id = wva.muscle_group_id
        WHERE wva.tenant_id=$1 AND wva.client_id=$2
          AND wva.week_start >= (CURRENT_DATE - make_interval(weeks => $3::int))::date
          AND ($4::text = '' OR wva.muscle_group_id = $4::text)
        ORDER BY wva.muscle_group_id, wva.week_start`

	samples := make([]domain.WeeklyVolumeSample, 0)
	err := inTenantTx(ctx, h.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, clientID, weeks, muscleGroupID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s domain.WeeklyVolumeSample
			if err := rows.Scan(&s.MuscleGroupID, &s.MuscleGroupName, &s.WeekStart, &s.TotalVolume, &s.TotalSets, &s.AvgRPE); err != nil {
				return err
			}
			samples = append(samples, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// CompletedSessionCount counts completed workout sessions started at or after since.
func (h *History) CompletedSessionCount(ctx context.Context, tenantID, clientID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM workout_sessions
        WHERE tenant_id=$1 AND client_id=$2 AND status='completed' AND started_at >= $3`

	var count int64
	err := inTenantTx(ctx, h.pool, tenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, tenantID, clientID, since).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
