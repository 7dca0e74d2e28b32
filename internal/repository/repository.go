package repository

import (
	"context"
	"time"

	"github.com/splax/lbinsight/internal/domain"
)

// TelemetryWriter persists raw load-balancer telemetry.
type TelemetryWriter interface {
	InsertRequestLogs(ctx context.Context, records []domain.RequestRecord) (int, error)
	InsertServerMetrics(ctx context.Context, records []domain.ServerMetricRecord) (int, error)
}

// StoreReportOptions annotates a stored report.
type StoreReportOptions struct {
	Type           string
	ProcessingTime *time.Duration
	RecordCount    *int64
}

// ReportRepository stores and reads analytics reports.
type ReportRepository interface {
	StoreReport(ctx context.Context, report any, opts StoreReportOptions) (int64, error)
	LatestReport(ctx context.Context, reportType string) (*domain.ReportRow, error)
	ListReports(ctx context.Context, reportType string, limit int) ([]domain.ReportRow, error)
}

// MaintenanceRepository covers retention and data quality upkeep.
type MaintenanceRepository interface {
	Cleanup(ctx context.Context, retentionDays int) (map[string]int64, error)
	CheckDataQuality(ctx context.Context) ([]domain.DataQualityCheck, error)
	CheckConnection(ctx context.Context) bool
}

// Warehouse is the full persistence surface used by the pipeline and API.
type Warehouse interface {
	TelemetryWriter
	ReportRepository
	MaintenanceRepository
}
