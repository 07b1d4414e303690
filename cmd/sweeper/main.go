package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"example.com/trainingalerts/internal/bootstrap"
	"example.com/trainingalerts/internal/config"
	"example.com/trainingalerts/internal/observability"
	"example.com/trainingalerts/internal/scheduler"
	httptransport "example.com/trainingalerts/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.OpenPool(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()

	service := bootstrap.NewAlertService(pool, cfg, logger)
	sweeper := bootstrap.NewSweeper(pool, service, cfg, logger)

	sched, err := scheduler.New(sweeper, cfg.SweepSchedule,
		scheduler.WithLogger(logger),
		scheduler.WithRunTimeout(cfg.SweepTimeout),
	)
	if err != nil {
		logger.WithError(err).Fatal("invalid sweep schedule")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httptransport.Run(ctx, httptransport.NewMetricsServer(cfg.MetricsAddress), cfg.ShutdownTimeout); err != nil {
			logger.WithError(err).Error("metrics server error")
		}
	}()

	sched.Start(ctx)
	logger.WithField("schedule", cfg.SweepSchedule).Info("sweeper scheduled")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("sweeper shutdown requested")
	cancel()
	sched.Stop()
	wg.Wait()
}
