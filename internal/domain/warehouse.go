package domain

import "time"

// Warehouse table names.
const (
	TableRequestLogs        = "request_logs"
	TableServerMetrics      = "server_metrics"
	TableAnalyticsReports   = "analytics_reports"
	TableDataQualityMetrics = "data_quality_metrics"
)

// ReportRow is a persisted analytics report.
type ReportRow struct {
	ID               int64
	ReportTimestamp  time.Time
	ReportType       string
	ReportData       []byte
	ProcessingTimeMS *int64
	RecordCount      *int64
	CreatedAt        time.Time
}

// DataQualityCheck is one row of data_quality_metrics.
type DataQualityCheck struct {
	CheckTimestamp     time.Time `json:"check_timestamp"`
	TableName          string    `json:"table_name"`
	TotalRecords       int64     `json:"total_records"`
	NullValues         int64     `json:"null_values"`
	DuplicateRecords   int64     `json:"duplicate_records"`
	DataFreshnessHours *float64  `json:"data_freshness_hours"`
	QualityScore       float64   `json:"quality_score"`
}
