// Package ingest loads telemetry exports into domain records.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/splax/lbinsight/internal/domain"
)

const (
	RequestLogsFile   = "request_logs.csv"
	ServerMetricsFile = "server_metrics.csv"
)

// ErrMissingColumn is returned when a header lacks a required column.
var ErrMissingColumn = errors.New("ingest: missing column")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 and zoneless ISO-8601 timestamps. Values
// without a zone are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// row gives named access to one CSV record.
type row struct {
	line   int
	index  map[string]int
	fields []string
	err    error
}

func (r *row) str(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r *row) fail(column string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("line %d: %s: %w", r.line, column, err)
	}
}

func (r *row) timestamp(column string) time.Time {
	ts, err := ParseTimestamp(r.str(column))
	if err != nil {
		r.fail(column, err)
	}
	return ts
}

func (r *row) float(column string) float64 {
	v, err := strconv.ParseFloat(r.str(column), 64)
	if err != nil {
		r.fail(column, err)
	}
	return v
}

// integer also accepts whole floats such as "200.0", which some exporters emit.
func (r *row) integer(column string) int64 {
	raw := r.str(column)
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.fail(column, err)
		return 0
	}
	if f != math.Trunc(f) {
		r.fail(column, fmt.Errorf("%q is not a whole number", raw))
	}
	return int64(f)
}

func readRows(r io.Reader, required []string, fn func(*row) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, column := range required {
		if _, ok := index[column]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingColumn, column)
		}
	}

	line := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		if err := fn(&row{line: line, index: index, fields: fields}); err != nil {
			return err
		}
	}
}

var requestColumns = []string{
	"timestamp", "server_id", "region", "request_method", "status_code",
	"response_time_ms", "retry_rate", "bytes_sent",
}

// ReadRequestLogs parses a request log export.
func ReadRequestLogs(r io.Reader) ([]domain.RequestRecord, error) {
	var records []domain.RequestRecord
	err := readRows(r, requestColumns, func(row *row) error {
		record := domain.RequestRecord{
			Timestamp:      row.timestamp("timestamp"),
			ServerID:       row.str("server_id"),
			Region:         row.str("region"),
			Method:         strings.ToUpper(row.str("request_method")),
			StatusCode:     int(row.integer("status_code")),
			ResponseTimeMS: row.float("response_time_ms"),
			RetryRate:      row.float("retry_rate"),
			BytesSent:      row.integer("bytes_sent"),
			ClientIP:       row.str("client_ip"),
			UserAgent:      row.str("user_agent"),
		}
		if row.err != nil {
			return row.err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read request logs: %w", err)
	}
	return records, nil
}

var metricColumns = []string{
	"timestamp", "server_id", "cpu_usage_percent", "memory_usage_percent",
	"disk_usage_percent", "network_in_mbps", "network_out_mbps",
	"active_connections", "requests_per_second", "backend_health_failures",
}

// ReadServerMetrics parses a server metrics export.
func ReadServerMetrics(r io.Reader) ([]domain.ServerMetricRecord, error) {
	var records []domain.ServerMetricRecord
	err := readRows(r, metricColumns, func(row *row) error {
		record := domain.ServerMetricRecord{
			Timestamp:             row.timestamp("timestamp"),
			ServerID:              row.str("server_id"),
			CPUUsagePercent:       row.float("cpu_usage_percent"),
			MemoryUsagePercent:    row.float("memory_usage_percent"),
			DiskUsagePercent:      row.float("disk_usage_percent"),
			NetworkInMbps:         row.float("network_in_mbps"),
			NetworkOutMbps:        row.float("network_out_mbps"),
			ActiveConnections:     row.integer("active_connections"),
			RequestsPerSecond:     row.float("requests_per_second"),
			BackendHealthFailures: row.integer("backend_health_failures"),
		}
		if row.err != nil {
			return row.err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read server metrics: %w", err)
	}
	return records, nil
}

// LoadDirectory reads request_logs.csv and server_metrics.csv from dir.
func LoadDirectory(dir string) ([]domain.RequestRecord, []domain.ServerMetricRecord, error) {
	requests, err := readFile(filepath.Join(dir, RequestLogsFile), ReadRequestLogs)
	if err != nil {
		return nil, nil, err
	}
	metrics, err := readFile(filepath.Join(dir, ServerMetricsFile), ReadServerMetrics)
	if err != nil {
		return nil, nil, err
	}
	return requests, metrics, nil
}

func readFile[T any](path string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	records, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
