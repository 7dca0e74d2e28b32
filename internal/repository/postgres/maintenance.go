package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"github.com/splax/lbinsight/internal/domain"
	"github.com/splax/lbinsight/internal/repository"
)

// retentionColumns names the creation timestamp used for each managed table.
var retentionColumns = []struct {
	table  string
	column string
}{
	{domain.TableRequestLogs, "created_at"},
	{domain.TableServerMetrics, "created_at"},
	{domain.TableAnalyticsReports, "created_at"},
	{domain.TableDataQualityMetrics, "check_timestamp"},
}

// Cleanup deletes rows older than retentionDays from every managed table in
// one transaction. Either every table is trimmed or nothing is.
func (w *Warehouse) Cleanup(ctx context.Context, retentionDays int) (map[string]int64, error) {
	if retentionDays < 0 {
		return nil, fmt.Errorf("cleanup: negative retention %d: %w", retentionDays, repository.ErrInvalidArgument)
	}
	cutoff := w.now().UTC().AddDate(0, 0, -retentionDays)

	tx, err := w.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("cleanup: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	deleted := make(map[string]int64, len(retentionColumns))
	for _, target := range retentionColumns {
		query := fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, target.table, target.column)
		tag, err := tx.Exec(ctx, query, cutoff)
		if err != nil {
			w.logger.Error("cleanup failed", "table", target.table, "error", err)
			return nil, fmt.Errorf("cleanup %s: %w", target.table, err)
		}
		deleted[target.table] = tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("cleanup: commit: %w", err)
	}
	for table, count := range deleted {
		if count > 0 {
			w.logger.Info("cleaned up old records", "table", table, "deleted", count, "cutoff", cutoff)
		}
	}
	return deleted, nil
}

// CheckConnection runs a single round trip and reports whether it succeeded.
func (w *Warehouse) CheckConnection(ctx context.Context) bool {
	var one int
	if err := w.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		w.logger.Error("database connection check failed", "error", err)
		return false
	}
	return true
}

// ErrUnreachable is returned by Ping when the connectivity check fails.
var ErrUnreachable = errors.New("warehouse unreachable")

// Ping adapts CheckConnection to the error-returning probe used by health
// endpoints.
func (w *Warehouse) Ping(ctx context.Context) error {
	if !w.CheckConnection(ctx) {
		return ErrUnreachable
	}
	return nil
}

// qualityQueries count, per table, rows missing optional values or holding
// out-of-range values, rows repeating an earlier row's identity columns, and
// hours since the newest sample.
var qualityQueries = []struct {
	table string
	query string
}{
	{domain.TableRequestLogs, `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE client_ip IS NULL OR user_agent IS NULL OR response_time_ms <= 0),
			COUNT(*) - COUNT(DISTINCT (timestamp, server_id, request_method, client_ip, user_agent)),
			EXTRACT(EPOCH FROM (NOW() - MAX(timestamp))) / 3600.0
		FROM request_logs`},
	{domain.TableServerMetrics, `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE cpu_usage_percent < 0 OR cpu_usage_percent > 100
				OR memory_usage_percent < 0 OR memory_usage_percent > 100),
			COUNT(*) - COUNT(DISTINCT (timestamp, server_id)),
			EXTRACT(EPOCH FROM (NOW() - MAX(timestamp))) / 3600.0
		FROM server_metrics`},
}

// CheckDataQuality measures the telemetry tables and records one
// data_quality_metrics row per table in a single transaction.
func (w *Warehouse) CheckDataQuality(ctx context.Context) ([]domain.DataQualityCheck, error) {
	tx, err := w.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("data quality: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	checkedAt := w.now().UTC()
	checks := make([]domain.DataQualityCheck, 0, len(qualityQueries))
	for _, q := range qualityQueries {
		check := domain.DataQualityCheck{CheckTimestamp: checkedAt, TableName: q.table}
		if err := tx.QueryRow(ctx, q.query).Scan(
			&check.TotalRecords,
			&check.NullValues,
			&check.DuplicateRecords,
			&check.DataFreshnessHours,
		); err != nil {
			return nil, fmt.Errorf("data quality %s: %w", q.table, err)
		}
		if check.DataFreshnessHours != nil {
			hours := math.Round(*check.DataFreshnessHours*100) / 100
			check.DataFreshnessHours = &hours
		}
		check.QualityScore = QualityScore(check.TotalRecords, check.NullValues, check.DuplicateRecords)

		const insert = `INSERT INTO data_quality_metrics (
				check_timestamp, table_name, total_records, null_values,
				duplicate_records, data_freshness_hours, quality_score
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`
		if _, err := tx.Exec(ctx, insert,
			check.CheckTimestamp,
			check.TableName,
			check.TotalRecords,
			check.NullValues,
			check.DuplicateRecords,
			check.DataFreshnessHours,
			check.QualityScore,
		); err != nil {
			return nil, fmt.Errorf("data quality %s: record: %w", q.table, err)
		}
		checks = append(checks, check)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("data quality: commit: %w", err)
	}
	w.logger.Info("recorded data quality", "tables", len(checks))
	return checks, nil
}

// QualityScore is the percentage of rows that are neither incomplete nor
// duplicated, rounded to two places. An empty table scores 100.
func QualityScore(total, nulls, duplicates int64) float64 {
	if total <= 0 {
		return perfectQualityScore
	}
	bad := min(nulls+duplicates, total)
	score := perfectQualityScore * (1 - float64(bad)/float64(total))
	return math.Round(score*100) / 100
}
