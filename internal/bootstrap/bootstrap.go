// Package bootstrap wires the Postgres-backed alert components shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"example.com/trainingalerts/internal/alerting"
	"example.com/trainingalerts/internal/config"
	"example.com/trainingalerts/internal/persistence/postgres"
	"example.com/trainingalerts/internal/sweep"
)

// OpenPool connects to Postgres and verifies the connection.
func OpenPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewAlertService builds the alerting service over the Postgres history and alert store.
func NewAlertService(pool *pgxpool.Pool, cfg config.Config, logger logrus.FieldLogger) *alerting.Service {
	return alerting.NewService(
		postgres.NewHistory(pool),
		postgres.NewAlertStore(pool),
		alerting.WithLogger(logger),
		alerting.WithProviderTimeout(cfg.ProviderTimeout),
		alerting.WithDedupWindow(cfg.DedupWindow),
	)
}

// NewSweeper builds a sweeper over the Postgres directory, guarded by the cross-instance advisory lock.
func NewSweeper(pool *pgxpool.Pool, checker sweep.Checker, cfg config.Config, logger logrus.FieldLogger) *sweep.Sweeper {
	return sweep.NewSweeper(
		postgres.NewDirectory(pool),
		checker,
		sweep.WithLogger(logger),
		sweep.WithConcurrency(cfg.SweepConcurrency),
		sweep.WithRate(cfg.SweepRate),
		sweep.WithLocker(postgres.NewSweepLock(pool, postgres.SweepLockName)),
	)
}
