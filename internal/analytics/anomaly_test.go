package analytics

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/splax/lbinsight/internal/domain"
)

func hourlyRequests(hour int, count, failures int, latency float64) []domain.RequestRecord {
	records := make([]domain.RequestRecord, 0, count)
	for i := 0; i < count; i++ {
		status := 200
		if i < failures {
			status = 503
		}
		records = append(records, domain.RequestRecord{
			Timestamp:      base.Add(time.Duration(hour)*time.Hour + time.Duration(i)*time.Second),
			ServerID:       "server-001",
			Region:         "us-east-1",
			Method:         "GET",
			StatusCode:     status,
			ResponseTimeMS: latency,
		})
	}
	return records
}

func TestSlowRequestThresholdIsMeanPlusThreeSigma(t *testing.T) {
	requests := []domain.RequestRecord{
		{ResponseTimeMS: 2}, {ResponseTimeMS: 4}, {ResponseTimeMS: 4}, {ResponseTimeMS: 4},
		{ResponseTimeMS: 5}, {ResponseTimeMS: 5}, {ResponseTimeMS: 7}, {ResponseTimeMS: 9},
	}
	threshold, err := SlowRequestThreshold(requests)
	if err != nil {
		t.Fatalf("threshold: %v", err)
	}
	// mean 5, population stddev 2
	if math.Abs(threshold-11) > 1e-9 {
		t.Fatalf("expected threshold 11, got %v", threshold)
	}
}

func TestCountAboveIsMonotonic(t *testing.T) {
	requests := make([]domain.RequestRecord, 0, 50)
	for i := 0; i < 50; i++ {
		requests = append(requests, domain.RequestRecord{ResponseTimeMS: float64(i * 3 % 97)})
	}
	previous := -1
	for threshold := 120.0; threshold >= -7.5; threshold -= 7.5 {
		count := CountAbove(requests, threshold)
		if count < previous {
			t.Fatalf("count decreased from %d to %d at threshold %v", previous, count, threshold)
		}
		previous = count
	}
	if previous != len(requests) {
		t.Fatalf("expected every request above a negative threshold, got %d", previous)
	}
	if CountAbove(requests, 0) != len(requests)-1 {
		t.Fatalf("expected the zero latency request to sit at, not above, threshold 0")
	}
	if CountAbove(requests, 96) != 0 {
		t.Fatalf("expected strict comparison at the maximum")
	}
}

func TestDetectAnomaliesFlagsErrorSpikeHours(t *testing.T) {
	var requests []domain.RequestRecord
	requests = append(requests, hourlyRequests(0, 10, 0, 50)...)
	requests = append(requests, hourlyRequests(1, 10, 0, 50)...)
	requests = append(requests, hourlyRequests(2, 10, 5, 50)...)
	requests = append(requests, hourlyRequests(3, 10, 0, 50)...)

	engine := NewEngine(NewDataset(requests, sampleMetrics()), nil)
	anomalies, err := engine.DetectAnomalies()
	if err != nil {
		t.Fatalf("detect anomalies: %v", err)
	}
	if len(anomalies.ErrorSpikeHours) != 1 {
		t.Fatalf("expected one spike hour, got %v", anomalies.ErrorSpikeHours)
	}
	if rate := anomalies.ErrorSpikeHours[2]; rate != 50 {
		t.Fatalf("expected hour 2 at 50%%, got %v", rate)
	}
	if anomalies.SlowRequestCount != 0 {
		t.Fatalf("expected no slow requests for constant latency, got %d", anomalies.SlowRequestCount)
	}
	if anomalies.SlowRequestThresholdMS != 50 {
		t.Fatalf("expected threshold 50, got %v", anomalies.SlowRequestThresholdMS)
	}
}

func TestDetectAnomaliesWithoutErrorsHasNoSpikes(t *testing.T) {
	var requests []domain.RequestRecord
	for hour := 0; hour < 6; hour++ {
		requests = append(requests, hourlyRequests(hour, 4, 0, float64(10*hour))...)
	}
	engine := NewEngine(NewDataset(requests, sampleMetrics()), nil)

	anomalies, err := engine.DetectAnomalies()
	if err != nil {
		t.Fatalf("detect anomalies: %v", err)
	}
	if anomalies.ErrorSpikeHours == nil || len(anomalies.ErrorSpikeHours) != 0 {
		t.Fatalf("expected empty spike hours, got %v", anomalies.ErrorSpikeHours)
	}
}

func TestDetectAnomaliesUnhealthyServersInFirstSeenOrder(t *testing.T) {
	metrics := []domain.ServerMetricRecord{
		{Timestamp: base, ServerID: "server-009", BackendHealthFailures: 6},
		{Timestamp: base.Add(time.Second), ServerID: "server-002", BackendHealthFailures: 5},
		{Timestamp: base.Add(2 * time.Second), ServerID: "server-003", BackendHealthFailures: 12},
		{Timestamp: base.Add(3 * time.Second), ServerID: "server-009", BackendHealthFailures: 8},
		{Timestamp: base.Add(4 * time.Second), ServerID: "server-002", BackendHealthFailures: 4},
	}
	engine := NewEngine(NewDataset(uniformRequests(5, time.Minute, 200, 10), metrics), nil)

	anomalies, err := engine.DetectAnomalies()
	if err != nil {
		t.Fatalf("detect anomalies: %v", err)
	}
	want := []string{"server-009", "server-003"}
	if len(anomalies.UnhealthyServers) != len(want) {
		t.Fatalf("expected %v, got %v", want, anomalies.UnhealthyServers)
	}
	for i := range want {
		if anomalies.UnhealthyServers[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, anomalies.UnhealthyServers)
		}
	}
}

func TestDetectAnomaliesCountsOutliers(t *testing.T) {
	requests := uniformRequests(100, time.Hour, 200, 20)
	requests[42].ResponseTimeMS = 5000
	engine := NewEngine(NewDataset(requests, sampleMetrics()), nil)

	anomalies, err := engine.DetectAnomalies()
	if err != nil {
		t.Fatalf("detect anomalies: %v", err)
	}
	if anomalies.SlowRequestCount != 1 {
		t.Fatalf("expected one slow request, got %d", anomalies.SlowRequestCount)
	}
}

func TestDetectAnomaliesRequiresBothTables(t *testing.T) {
	engine := NewEngine(NewDataset(uniformRequests(3, time.Minute, 200, 5), nil), nil)
	if _, err := engine.DetectAnomalies(); !errors.Is(err, ErrDatasetNotLoaded) {
		t.Fatalf("expected ErrDatasetNotLoaded, got %v", err)
	}
}
