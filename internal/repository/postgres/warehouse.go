package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/lbinsight/internal/domain"
	"github.com/splax/lbinsight/internal/repository"
	"github.com/splax/lbinsight/internal/retry"
	"github.com/splax/lbinsight/pkg/logger"
)

const (
	DefaultBatchSize = 1000

	defaultReportType   = "comprehensive"
	defaultListLimit    = 20
	maxListLimit        = 100
	reportIndent        = "  "
	perfectQualityScore = 100.0
)

// DB is the subset of *pgxpool.Pool used by the warehouse.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Options tunes batching, retries and logging.
type Options struct {
	BatchSize int
	Retry     retry.Policy
	Logger    *slog.Logger
}

// Warehouse implements repository.Warehouse on PostgreSQL.
type Warehouse struct {
	db        DB
	batchSize int
	retry     retry.Policy
	logger    *slog.Logger
	metrics   warehouseMetrics
	now       func() time.Time
}

var _ repository.Warehouse = (*Warehouse)(nil)

// Connect opens a pool whose connection attempts give up after timeout.
func Connect(ctx context.Context, databaseURL string, timeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if timeout > 0 {
		cfg.ConnConfig.ConnectTimeout = timeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	return pool, nil
}

// NewWarehouse constructs a Warehouse.
func NewWarehouse(db DB, opts Options) *Warehouse {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	policy := opts.Retry
	if policy.Attempts <= 0 {
		policy.Attempts = retry.DefaultAttempts
	}
	if policy.Unit <= 0 {
		policy.Unit = retry.DefaultUnit
	}
	log = log.With("component", "warehouse")
	policy.Logger = log
	return &Warehouse{
		db:        db,
		batchSize: size,
		retry:     policy,
		logger:    log,
		metrics:   loadMetrics(),
		now:       time.Now,
	}
}

const insertRequestLog = `INSERT INTO request_logs (
		timestamp, server_id, region, request_method, status_code,
		response_time_ms, retry_rate, bytes_sent, client_ip, user_agent
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

const insertServerMetric = `INSERT INTO server_metrics (
		timestamp, server_id, cpu_usage_percent, memory_usage_percent, disk_usage_percent,
		network_in_mbps, network_out_mbps, active_connections, requests_per_second, backend_health_failures
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

// InsertRequestLogs writes request records in one transaction per attempt.
func (w *Warehouse) InsertRequestLogs(ctx context.Context, records []domain.RequestRecord) (int, error) {
	return batchInsert(ctx, w, domain.TableRequestLogs, insertRequestLog, records, func(r domain.RequestRecord) []any {
		return []any{
			r.Timestamp.UTC(),
			r.ServerID,
			r.Region,
			r.Method,
			r.StatusCode,
			r.ResponseTimeMS,
			r.RetryRate,
			r.BytesSent,
			emptyToNil(r.ClientIP),
			emptyToNil(r.UserAgent),
		}
	})
}

// InsertServerMetrics writes server samples in one transaction per attempt.
func (w *Warehouse) InsertServerMetrics(ctx context.Context, records []domain.ServerMetricRecord) (int, error) {
	return batchInsert(ctx, w, domain.TableServerMetrics, insertServerMetric, records, func(m domain.ServerMetricRecord) []any {
		return []any{
			m.Timestamp.UTC(),
			m.ServerID,
			m.CPUUsagePercent,
			m.MemoryUsagePercent,
			m.DiskUsagePercent,
			m.NetworkInMbps,
			m.NetworkOutMbps,
			m.ActiveConnections,
			m.RequestsPerSecond,
			m.BackendHealthFailures,
		}
	})
}

// batchInsert writes every record or none. Each attempt opens one
// transaction, sends the records as consecutive pgx batches of at most
// batchSize statements and commits once; a failed attempt is rolled back and
// the whole write is retried.
func batchInsert[T any](ctx context.Context, w *Warehouse, table, query string, records []T, args func(T) []any) (int, error) {
	if len(records) == 0 {
		w.logger.Warn("no records to insert", "table", table)
		return 0, nil
	}
	start := time.Now()
	err := w.retry.Do(ctx, "insert "+table, func(ctx context.Context) error {
		err := writeBatches(ctx, w.db, w.batchSize, query, records, args)
		w.metrics.observeAttempt(table, err)
		return err
	})
	w.metrics.observeWrite(table, len(records), time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	w.logger.Info("inserted records", "table", table, "count", len(records))
	return len(records), nil
}

func writeBatches[T any](ctx context.Context, db DB, batchSize int, query string, records []T, args func(T) []any) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for offset := 0; offset < len(records); offset += batchSize {
		chunk := records[offset:min(offset+batchSize, len(records))]
		batch := &pgx.Batch{}
		for _, record := range chunk {
			batch.Queue(query, args(record)...)
		}
		br := tx.SendBatch(ctx, batch)
		for range chunk {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("batch at offset %d: %w", offset, translateError(err))
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("batch at offset %d: %w", offset, translateError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// translateError maps constraint and data errors to repository sentinels
// while keeping the driver error in the chain.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514", "22P02", "22003", "23502", "23505":
			return fmt.Errorf("%w: %w", repository.ErrInvalidArgument, err)
		}
	}
	return err
}

func emptyToNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}
