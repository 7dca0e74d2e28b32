package analytics

import (
	"fmt"

	"github.com/splax/lbinsight/internal/domain"
)

const (
	slowRequestSigmas         = 3.0
	errorSpikeFactor          = 2.0
	unhealthyFailureThreshold = 5
)

// Anomalies lists statistical outliers and threshold breaches.
type Anomalies struct {
	SlowRequestThresholdMS float64         `json:"slow_request_threshold_ms"`
	SlowRequestCount       int             `json:"slow_request_count"`
	ErrorSpikeHours        map[int]float64 `json:"error_spike_hours"`
	UnhealthyServers       []string        `json:"server_health_failures_above_5"`
}

// DetectAnomalies flags slow requests, error-spike hours and unhealthy servers.
func (e *Engine) DetectAnomalies() (Anomalies, error) {
	if !e.dataset.HasRequests() || !e.dataset.HasMetrics() {
		return Anomalies{}, fmt.Errorf("detect anomalies: %w", ErrDatasetNotLoaded)
	}
	requests := e.dataset.Requests()

	threshold, err := SlowRequestThreshold(requests)
	if err != nil {
		return Anomalies{}, fmt.Errorf("detect anomalies: slow request threshold: %w", err)
	}
	spikes, err := errorSpikeHours(requests)
	if err != nil {
		return Anomalies{}, fmt.Errorf("detect anomalies: error spikes: %w", err)
	}

	anomalies := Anomalies{
		SlowRequestThresholdMS: round(threshold, 2),
		SlowRequestCount:       CountAbove(requests, threshold),
		ErrorSpikeHours:        spikes,
		UnhealthyServers:       unhealthyServers(e.dataset.Metrics()),
	}
	e.logger.Info("detected anomalies",
		"slow_requests", anomalies.SlowRequestCount,
		"error_spike_hours", len(anomalies.ErrorSpikeHours),
		"unhealthy_servers", len(anomalies.UnhealthyServers),
	)
	return anomalies, nil
}

// SlowRequestThreshold is mean + 3 population standard deviations of the
// response times, computed once over the whole sample.
func SlowRequestThreshold(requests []domain.RequestRecord) (float64, error) {
	latencies := project(requests, func(r domain.RequestRecord) float64 { return r.ResponseTimeMS })
	avg, err := mean(latencies)
	if err != nil {
		return 0, err
	}
	stddev, err := populationStdDev(latencies)
	if err != nil {
		return 0, err
	}
	return avg + slowRequestSigmas*stddev, nil
}

// CountAbove counts requests strictly slower than threshold.
func CountAbove(requests []domain.RequestRecord, threshold float64) int {
	count := 0
	for _, r := range requests {
		if r.ResponseTimeMS > threshold {
			count++
		}
	}
	return count
}

// errorSpikeHours returns hours whose error rate exceeds twice the mean of
// all hourly error rates. Without any errors the result is empty.
func errorSpikeHours(requests []domain.RequestRecord) (map[int]float64, error) {
	spikes := make(map[int]float64)
	hours, byHour := groupBy(requests, requestHour)
	rates := make([]float64, 0, len(hours))
	for _, hour := range hours {
		rates = append(rates, errorRatePercent(byHour[hour]))
	}
	avg, err := mean(rates)
	if err != nil {
		return nil, err
	}
	if avg == 0 {
		return spikes, nil
	}
	for i, hour := range hours {
		if rates[i] > errorSpikeFactor*avg {
			spikes[hour] = round(rates[i], 2)
		}
	}
	return spikes, nil
}

func errorRatePercent(requests []domain.RequestRecord) float64 {
	if len(requests) == 0 {
		return 0
	}
	failed := 0
	for _, r := range requests {
		if r.IsError() {
			failed++
		}
	}
	return float64(failed) / float64(len(requests)) * 100
}

// unhealthyServers lists, in first-seen order, servers with any single sample
// above the failure threshold.
func unhealthyServers(metrics []domain.ServerMetricRecord) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, m := range metrics {
		if m.BackendHealthFailures <= unhealthyFailureThreshold {
			continue
		}
		if _, ok := seen[m.ServerID]; ok {
			continue
		}
		seen[m.ServerID] = struct{}{}
		out = append(out, m.ServerID)
	}
	return out
}
