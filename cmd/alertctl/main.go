package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/trainingalerts/internal/auth"
	"example.com/trainingalerts/internal/bootstrap"
	"example.com/trainingalerts/internal/config"
	"example.com/trainingalerts/internal/observability"
	"example.com/trainingalerts/internal/outbox"
	"example.com/trainingalerts/internal/persistence/migrations"
	"example.com/trainingalerts/internal/sweep"
)

var rootCmd = &cobra.Command{
	Use:           "alertctl",
	Short:         "alertctl - operate the training alert service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema migrations",
	RunE:  runMigrate,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one alert sweep over every active client now",
	RunE:  runSweep,
}

var checkCmd = &cobra.Command{
	Use:   "check <tenant-id> <client-id>",
	Short: "Run every alert rule for one client",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheck,
}

var replayCmd = &cobra.Command{
	Use:   "replay-dlq",
	Short: "Requeue dead-lettered alert events into the outbox",
	RunE:  runReplay,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token signed with the configured secret (development)",
	RunE:  runToken,
}

var (
	listFlag    bool
	forceFlag   bool
	tenantFlag  string
	subjectFlag string
	scopesFlag  []string
	ttlFlag     time.Duration
	batchFlag   int
	retriesFlag int
	delayFlag   time.Duration
)

func init() {
	migrateCmd.Flags().BoolVar(&listFlag, "list", false, "List migrations without applying them")
	sweepCmd.Flags().BoolVar(&forceFlag, "force", false, "Sweep without taking the cross-instance lock")
	tokenCmd.Flags().StringVar(&tenantFlag, "tenant", "", "Tenant id claim")
	tokenCmd.Flags().StringVar(&subjectFlag, "subject", "alertctl", "Subject claim")
	tokenCmd.Flags().StringSliceVar(&scopesFlag, "scopes", []string{auth.ScopeAlertsRead, auth.ScopeAlertsWrite}, "Granted scopes")
	tokenCmd.Flags().DurationVar(&ttlFlag, "ttl", time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("tenant")
	replayCmd.Flags().IntVar(&batchFlag, "batch", 100, "Maximum entries handled in this pass")
	replayCmd.Flags().IntVar(&retriesFlag, "max-retries", outbox.DefaultMaxReplays, "Replays before an entry is quarantined")
	replayCmd.Flags().DurationVar(&delayFlag, "base-delay", outbox.DefaultReplayDelay, "Backoff base between replays")
	rootCmd.AddCommand(migrateCmd, sweepCmd, checkCmd, replayCmd, tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "alertctl:", err)
		stop()
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if listFlag {
		names, err := migrations.Names()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	if err := migrations.Apply(cmd.Context(), db); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := bootstrap.OpenPool(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	sweeper := bootstrap.NewSweeper(pool, bootstrap.NewAlertService(pool, cfg, logger), cfg, logger)

	var result sweep.Result
	if forceFlag {
		result, err = sweeper.SweepAll(cmd.Context())
	} else {
		result, err = sweeper.SweepLocked(cmd.Context())
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), sweepSummary(result))
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := bootstrap.OpenPool(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	alerts, err := bootstrap.NewAlertService(pool, cfg, logger).RunAllChecks(cmd.Context(), args[0], args[1])
	if printErr := printJSON(cmd.OutOrStdout(), alerts); printErr != nil {
		return printErr
	}
	return err
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := bootstrap.OpenPool(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	result, err := outbox.NewReplayer(pool, retriesFlag, delayFlag, logger).RunOnce(cmd.Context(), batchFlag)
	if printErr := printJSON(cmd.OutOrStdout(), map[string]int{
		"requeued":    result.Requeued,
		"quarantined": result.Quarantined,
		"rescheduled": result.Rescheduled,
	}); printErr != nil {
		return printErr
	}
	return err
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	token, err := auth.Sign(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, subjectFlag, tenantFlag, scopesFlag, ttlFlag)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func loadConfig() (config.Config, logrus.FieldLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := observability.NewLogger(cfg.LogLevel, "text")
	logger.SetOutput(os.Stderr)
	return cfg, logger, nil
}

type summary struct {
	TenantsChecked int      `json:"tenants_checked"`
	ClientsChecked int      `json:"clients_checked"`
	AlertsCreated  int      `json:"alerts_created"`
	Failures       []string `json:"failures"`
	Duration       string   `json:"duration"`
}

func sweepSummary(r sweep.Result) summary {
	out := summary{
		TenantsChecked: r.TenantsChecked,
		ClientsChecked: r.ClientsChecked,
		AlertsCreated:  r.AlertsCreated,
		Failures:       make([]string, 0, len(r.Failures)),
		Duration:       r.Duration.Round(time.Millisecond).String(),
	}
	for _, f := range r.Failures {
		out.Failures = append(out.Failures, f.Error())
	}
	return out
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
