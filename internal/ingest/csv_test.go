package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const requestCSV = `timestamp,server_id,region,request_method,status_code,response_time_ms,retry_rate,bytes_sent,client_ip,user_agent
2025-11-05T10:15:00Z,server-001,us-east-1,get,200,120.5,0.02,2048,10.0.0.1,curl/8.0
2025-11-05 10:16:30.250,server-002,eu-west-1,POST,503.0,900,0.4,0,,
`

const metricsCSV = `timestamp,server_id,cpu_usage_percent,memory_usage_percent,disk_usage_percent,network_in_mbps,network_out_mbps,active_connections,requests_per_second,backend_health_failures
2025-11-05T10:00:00+02:00,server-001,55.5,61.2,40,120.5,80.25,150,42.5,0
`

func TestReadRequestLogs(t *testing.T) {
	records, err := ReadRequestLogs(strings.NewReader(requestCSV))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	first := records[0]
	if first.Method != "GET" || first.StatusCode != 200 || first.ResponseTimeMS != 120.5 || first.BytesSent != 2048 {
		t.Fatalf("unexpected first record %+v", first)
	}
	if first.ClientIP != "10.0.0.1" || first.UserAgent != "curl/8.0" {
		t.Fatalf("unexpected client fields %+v", first)
	}
	second := records[1]
	want := time.Date(2025, time.November, 5, 10, 16, 30, 250_000_000, time.UTC)
	if !second.Timestamp.Equal(want) || second.Timestamp.Location() != time.UTC {
		t.Fatalf("expected zoneless timestamp read as UTC %v, got %v", want, second.Timestamp)
	}
	if second.StatusCode != 503 || !second.IsError() {
		t.Fatalf("expected status 503, got %d", second.StatusCode)
	}
	if second.ClientIP != "" {
		t.Fatalf("expected empty client ip, got %q", second.ClientIP)
	}
}

func TestReadServerMetricsHonorsZone(t *testing.T) {
	records, err := ReadServerMetrics(strings.NewReader(metricsCSV))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	m := records[0]
	if !m.Timestamp.Equal(time.Date(2025, time.November, 5, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", m.Timestamp)
	}
	if m.ActiveConnections != 150 || m.RequestsPerSecond != 42.5 || m.NetworkOutMbps != 80.25 {
		t.Fatalf("unexpected record %+v", m)
	}
}

func TestReadRequestLogsMissingColumn(t *testing.T) {
	_, err := ReadRequestLogs(strings.NewReader("timestamp,server_id\n2025-11-05T10:15:00Z,a\n"))
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestReadRequestLogsReportsLine(t *testing.T) {
	input := strings.Replace(requestCSV, "120.5", "fast", 1)
	_, err := ReadRequestLogs(strings.NewReader(input))
	if err == nil || !strings.Contains(err.Error(), "line 2") || !strings.Contains(err.Error(), "response_time_ms") {
		t.Fatalf("expected line and column in error, got %v", err)
	}
}

func TestReadRequestLogsRejectsFractionalStatus(t *testing.T) {
	input := strings.Replace(requestCSV, "503.0", "503.5", 1)
	if _, err := ReadRequestLogs(strings.NewReader(input)); err == nil {
		t.Fatalf("expected fractional status code to fail")
	}
}

func TestReadEmptyInput(t *testing.T) {
	records, err := ReadServerMetrics(strings.NewReader(""))
	if err != nil || len(records) != 0 {
		t.Fatalf("expected no records and no error, got %d, %v", len(records), err)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, RequestLogsFile), []byte(requestCSV), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ServerMetricsFile), []byte(metricsCSV), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	requests, metrics, err := LoadDirectory(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(requests) != 2 || len(metrics) != 1 {
		t.Fatalf("expected 2 requests and 1 metric, got %d and %d", len(requests), len(metrics))
	}

	if _, _, err := LoadDirectory(t.TempDir()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing files to surface os.ErrNotExist, got %v", err)
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
}
