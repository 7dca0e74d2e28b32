package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"

	"github.com/splax/lbinsight/internal/app/migrate"
	"github.com/splax/lbinsight/internal/cache"
	"github.com/splax/lbinsight/internal/repository/postgres"
	"github.com/splax/lbinsight/internal/retry"
	"github.com/splax/lbinsight/internal/service/pipeline"
	"github.com/splax/lbinsight/internal/service/reports"
	apiclient "github.com/splax/lbinsight/pkg/api/client"
	"github.com/splax/lbinsight/pkg/config"
	"github.com/splax/lbinsight/pkg/logger"
)

// common holds flags shared by commands that touch local configuration.
type common struct {
	configPath string
	jsonOut    bool
}

func (c *common) bind(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", os.Getenv("LBINSIGHT_CONFIG"), "optional YAML config file")
	fs.BoolVar(&c.jsonOut, "json", false, "print JSON even on a terminal")
}

func (c *common) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	// stdout carries command output
	log := logger.NewWithWriter(os.Stderr, "lbinsight", logger.ParseLevel(cfg.LogLevel))
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openWarehouse(ctx context.Context, cfg config.Config, log *slog.Logger) (*pgxpool.Pool, *postgres.Warehouse, error) {
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.ConnectTimeout)
	if err != nil {
		return nil, nil, err
	}
	warehouse := postgres.NewWarehouse(pool, postgres.Options{
		BatchSize: cfg.Warehouse.BatchSize,
		Retry:     retry.Policy{Attempts: cfg.Warehouse.RetryAttempts, Unit: cfg.Warehouse.RetryUnit},
		Logger:    log,
	})
	return pool, warehouse, nil
}

func commandRun(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	var opts common
	opts.bind(fs)
	dataDir := fs.String("data-dir", "", "directory holding request_logs.csv and server_metrics.csv")
	export := fs.Bool("export", false, "write analytics_report.json to the data directory")
	quality := fs.Bool("quality", false, "run data quality checks after storing")
	skipMigrate := fs.Bool("skip-migrate", false, "do not apply pending schema migrations")
	reportType := fs.String("type", reports.DefaultType, "report type to store")
	fs.Parse(args)

	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	if *dataDir == "" {
		*dataDir = cfg.DataDirectory
	}
	ctx, cancel := signalContext()
	defer cancel()

	pool, warehouse, err := openWarehouse(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !*skipMigrate && !cfg.SkipMigrations {
		runner, err := migrate.New(pool, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		if err := runner.Ensure(ctx); err != nil {
			return err
		}
	}

	var reportCache reports.Cache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewReportCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ReportTTL, log)
		if err != nil {
			log.Warn("report cache unavailable, reports will not be announced", "error", err)
		} else {
			defer rc.Close()
			reportCache = rc
		}
	}
	var announcer pipeline.Announcer
	if reportCache != nil {
		announcer = reports.New(warehouse, reportCache, nil, log)
	}

	svc := pipeline.New(warehouse, announcer, log)
	result, runErr := svc.Run(ctx, pipeline.Options{
		DataDirectory: *dataDir,
		ReportType:    *reportType,
		Store:         true,
		Export:        *export,
		CheckQuality:  *quality,
	})
	if err := printResult(result, opts.jsonOut); err != nil {
		return err
	}
	return runErr
}

func commandAnalyze(args []string) error {
	fs := pflag.NewFlagSet("analyze", pflag.ExitOnError)
	var opts common
	opts.bind(fs)
	dataDir := fs.String("data-dir", "", "directory holding request_logs.csv and server_metrics.csv")
	export := fs.Bool("export", false, "write analytics_report.json to the data directory")
	full := fs.Bool("full", false, "print the whole report instead of a summary")
	fs.Parse(args)

	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	if *dataDir == "" {
		*dataDir = cfg.DataDirectory
	}
	ctx, cancel := signalContext()
	defer cancel()

	result, runErr := pipeline.New(nil, nil, log).Run(ctx, pipeline.Options{
		DataDirectory: *dataDir,
		Export:        *export,
	})
	if runErr != nil {
		return runErr
	}
	if *full {
		return printJSON(result.Report)
	}
	return printResult(result, opts.jsonOut)
}

func commandCleanup(args []string) error {
	fs := pflag.NewFlagSet("cleanup", pflag.ExitOnError)
	var opts common
	opts.bind(fs)
	retention := fs.Int("retention-days", -1, "delete telemetry older than N days (defaults to configuration)")
	fs.Parse(args)

	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	days := cfg.RetentionDays
	if *retention >= 0 {
		days = *retention
	}
	ctx, cancel := signalContext()
	defer cancel()

	pool, warehouse, err := openWarehouse(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	deleted, err := warehouse.Cleanup(ctx, days)
	if err != nil {
		return err
	}
	return printCleanup(days, deleted, opts.jsonOut)
}

func commandQuality(args []string) error {
	fs := pflag.NewFlagSet("quality", pflag.ExitOnError)
	var opts common
	opts.bind(fs)
	fs.Parse(args)

	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	pool, warehouse, err := openWarehouse(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	checks, err := warehouse.CheckDataQuality(ctx)
	if err != nil {
		return err
	}
	return printQuality(checks, opts.jsonOut)
}

func commandReport(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: lbinsight report [latest|list]")
	}
	sub := args[0]
	fs := pflag.NewFlagSet("report "+sub, pflag.ExitOnError)
	apiURL := fs.String("api", os.Getenv("API_BASE_URL"), "report API base url")
	reportType := fs.String("type", "", "report type filter")
	limit := fs.Int("limit", 0, "maximum number of reports to list")
	jsonOut := fs.Bool("json", false, "print JSON even on a terminal")
	fs.Parse(args[1:])

	client, err := apiclient.New(*apiURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch sub {
	case "latest":
		stored, err := client.LatestReport(ctx, *reportType)
		if err != nil {
			var apiErr apiclient.APIError
			if errors.As(err, &apiErr) && apiErr.NotFound() {
				return errors.New("no report has been stored yet")
			}
			return err
		}
		return printStoredReport(stored, *jsonOut)
	case "list":
		summaries, err := client.ListReports(ctx, *reportType, *limit)
		if err != nil {
			return err
		}
		return printReportList(summaries, *jsonOut)
	default:
		return fmt.Errorf("unknown report command: %s", sub)
	}
}
