package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/splax/lbinsight/internal/domain"
	"github.com/splax/lbinsight/internal/repository"
)

// recordCounter is implemented by reports that know how many records they cover.
type recordCounter interface {
	RecordCount() int64
}

// StoreReport serializes report as indented JSON and stores it in a single
// statement without retries. It returns the new row id.
func (w *Warehouse) StoreReport(ctx context.Context, report any, opts repository.StoreReportOptions) (int64, error) {
	if report == nil {
		return 0, fmt.Errorf("store report: %w", repository.ErrInvalidArgument)
	}
	payload, err := json.MarshalIndent(report, "", reportIndent)
	if err != nil {
		return 0, fmt.Errorf("store report: encode: %w", err)
	}
	reportType := strings.TrimSpace(opts.Type)
	if reportType == "" {
		reportType = defaultReportType
	}
	var processingMS *int64
	if opts.ProcessingTime != nil {
		ms := opts.ProcessingTime.Milliseconds()
		processingMS = &ms
	}
	recordCount := opts.RecordCount
	if recordCount == nil {
		if rc, ok := report.(recordCounter); ok {
			n := rc.RecordCount()
			recordCount = &n
		}
	}

	const query = `INSERT INTO analytics_reports (report_timestamp, report_type, report_data, processing_time_ms, record_count)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
	var id int64
	if err := w.db.QueryRow(ctx, query,
		w.now().UTC(),
		reportType,
		string(payload),
		processingMS,
		recordCount,
	).Scan(&id); err != nil {
		w.logger.Error("failed to store analytics report", "report_type", reportType, "error", err)
		return 0, fmt.Errorf("store report: %w", translateError(err))
	}
	w.logger.Info("stored analytics report", "report_type", reportType, "id", id, "bytes", len(payload))
	return id, nil
}

// LatestReport returns the newest report of reportType, or of any type when
// reportType is empty.
func (w *Warehouse) LatestReport(ctx context.Context, reportType string) (*domain.ReportRow, error) {
	const query = `SELECT id, report_timestamp, report_type, report_data, processing_time_ms, record_count, created_at
		FROM analytics_reports
		WHERE ($1 = '' OR report_type = $1)
		ORDER BY report_timestamp DESC, id DESC
		LIMIT 1`
	var (
		row  domain.ReportRow
		data string
	)
	err := w.db.QueryRow(ctx, query, strings.TrimSpace(reportType)).Scan(
		&row.ID,
		&row.ReportTimestamp,
		&row.ReportType,
		&data,
		&row.ProcessingTimeMS,
		&row.RecordCount,
		&row.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("latest report: %w", err)
	}
	row.ReportData = []byte(data)
	return &row, nil
}

// ListReports returns report metadata, newest first, without payloads.
func (w *Warehouse) ListReports(ctx context.Context, reportType string, limit int) ([]domain.ReportRow, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	const query = `SELECT id, report_timestamp, report_type, processing_time_ms, record_count, created_at
		FROM analytics_reports
		WHERE ($1 = '' OR report_type = $1)
		ORDER BY report_timestamp DESC, id DESC
		LIMIT $2`
	rows, err := w.db.Query(ctx, query, strings.TrimSpace(reportType), limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]domain.ReportRow, 0, limit)
	for rows.Next() {
		var row domain.ReportRow
		if err := rows.Scan(
			&row.ID,
			&row.ReportTimestamp,
			&row.ReportType,
			&row.ProcessingTimeMS,
			&row.RecordCount,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		reports = append(reports, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}
