package analytics

import (
	"fmt"

	"github.com/splax/lbinsight/internal/domain"
)

const (
	// highUtilizationPercent is an exclusive bound on a server's mean CPU or memory usage.
	highUtilizationPercent = 80.0
	// mbpsToGBHour treats each Mbps sample as sustained for a full hour. It is
	// an approximation kept for compatibility with existing reports.
	mbpsToGBHour = 3600.0 / (8 * 1024)
)

// RequestKPIs summarizes request volume, latency, errors and traffic mix.
type RequestKPIs struct {
	TotalRequests          int            `json:"total_requests"`
	RequestsPerSecond      float64        `json:"requests_per_second"`
	AverageResponseTimeMS  float64        `json:"average_response_time_ms"`
	P95ResponseTimeMS      float64        `json:"p95_response_time_ms"`
	P99ResponseTimeMS      float64        `json:"p99_response_time_ms"`
	ErrorRatePercent       float64        `json:"error_rate_percent"`
	RetryRateAvg           float64        `json:"retry_rate_avg"`
	RetryRateP95           float64        `json:"retry_rate_p95"`
	TotalBytesTransferred  int64          `json:"total_bytes_transferred"`
	AverageBytesPerRequest float64        `json:"average_bytes_per_request"`
	RegionDistribution     map[string]int `json:"region_distribution"`
	MethodDistribution     map[string]int `json:"method_distribution"`
	StatusCodeDistribution map[int]int    `json:"status_code_distribution"`
}

// ServerUtilization holds per-server resource means.
type ServerUtilization struct {
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	RequestsPerSecond  float64 `json:"requests_per_second"`
}

// ServerKPIs summarizes server saturation, throughput and backend health.
type ServerKPIs struct {
	AverageCPUUsage               float64                      `json:"average_cpu_usage"`
	MaxCPUUsage                   float64                      `json:"max_cpu_usage"`
	AverageMemoryUsage            float64                      `json:"average_memory_usage"`
	MaxMemoryUsage                float64                      `json:"max_memory_usage"`
	TotalActiveConnections        int64                        `json:"total_active_connections"`
	AverageRequestsPerSecond      float64                      `json:"average_requests_per_second"`
	BackendHealthFailuresTotal    int64                        `json:"backend_health_failures_total"`
	BackendHealthFailuresByServer map[string]int64             `json:"backend_health_failures_by_server"`
	TotalNetworkInGB              float64                      `json:"total_network_in_gb"`
	TotalNetworkOutGB             float64                      `json:"total_network_out_gb"`
	HighCPUServers                []string                     `json:"high_cpu_servers"`
	HighMemoryServers             []string                     `json:"high_memory_servers"`
	ServerUtilization             map[string]ServerUtilization `json:"server_utilization"`
}

// RequestKPIs computes request-level KPIs.
func (e *Engine) RequestKPIs() (RequestKPIs, error) {
	if !e.dataset.HasRequests() {
		return RequestKPIs{}, fmt.Errorf("request kpis: %w", ErrDatasetNotLoaded)
	}
	records := e.dataset.Requests()
	total := len(records)

	start, end, err := e.dataset.RequestTimeRange()
	if err != nil {
		return RequestKPIs{}, fmt.Errorf("request kpis: %w", err)
	}
	span := max(end.Sub(start).Seconds(), 1)

	latencies := sortedCopy(project(records, func(r domain.RequestRecord) float64 { return r.ResponseTimeMS }))
	retries := sortedCopy(project(records, func(r domain.RequestRecord) float64 { return r.RetryRate }))

	avgLatency, err := mean(latencies)
	if err != nil {
		return RequestKPIs{}, fmt.Errorf("request kpis: average latency: %w", err)
	}
	p95, err := quantile(latencies, 0.95)
	if err != nil {
		return RequestKPIs{}, fmt.Errorf("request kpis: p95 latency: %w", err)
	}
	p99, err := quantile(latencies, 0.99)
	if err != nil {
		return RequestKPIs{}, fmt.Errorf("request kpis: p99 latency: %w", err)
	}
	avgRetry, err := mean(retries)
	if err != nil {
		return RequestKPIs{}, fmt.Errorf("request kpis: average retry rate: %w", err)
	}
	p95Retry, err := quantile(retries, 0.95)
	if err != nil {
		return RequestKPIs{}, fmt.Errorf("request kpis: p95 retry rate: %w", err)
	}

	var (
		errorCount int
		bytesSent  int64
	)
	for _, r := range records {
		if r.IsError() {
			errorCount++
		}
		bytesSent += r.BytesSent
	}

	kpis := RequestKPIs{
		TotalRequests:          total,
		RequestsPerSecond:      round(float64(total)/span, 2),
		AverageResponseTimeMS:  round(avgLatency, 2),
		P95ResponseTimeMS:      round(p95, 2),
		P99ResponseTimeMS:      round(p99, 2),
		ErrorRatePercent:       round(float64(errorCount)/float64(total)*100, 2),
		RetryRateAvg:           round(avgRetry, 3),
		RetryRateP95:           round(p95Retry, 3),
		TotalBytesTransferred:  bytesSent,
		AverageBytesPerRequest: round(float64(bytesSent)/float64(total), 2),
		RegionDistribution:     countBy(records, func(r domain.RequestRecord) string { return r.Region }),
		MethodDistribution:     countBy(records, func(r domain.RequestRecord) string { return r.Method }),
		StatusCodeDistribution: countBy(records, func(r domain.RequestRecord) int { return r.StatusCode }),
	}
	e.logger.Info("computed request kpis", "total_requests", kpis.TotalRequests, "error_rate_percent", kpis.ErrorRatePercent)
	return kpis, nil
}

// ServerKPIs computes server-level KPIs.
func (e *Engine) ServerKPIs() (ServerKPIs, error) {
	if !e.dataset.HasMetrics() {
		return ServerKPIs{}, fmt.Errorf("server kpis: %w", ErrDatasetNotLoaded)
	}
	records := e.dataset.Metrics()

	cpu := project(records, func(m domain.ServerMetricRecord) float64 { return m.CPUUsagePercent })
	memory := project(records, func(m domain.ServerMetricRecord) float64 { return m.MemoryUsagePercent })
	rps := project(records, func(m domain.ServerMetricRecord) float64 { return m.RequestsPerSecond })

	avgCPU, err := mean(cpu)
	if err != nil {
		return ServerKPIs{}, fmt.Errorf("server kpis: average cpu: %w", err)
	}
	maxCPU, err := maxOf(cpu)
	if err != nil {
		return ServerKPIs{}, fmt.Errorf("server kpis: max cpu: %w", err)
	}
	avgMemory, err := mean(memory)
	if err != nil {
		return ServerKPIs{}, fmt.Errorf("server kpis: average memory: %w", err)
	}
	maxMemory, err := maxOf(memory)
	if err != nil {
		return ServerKPIs{}, fmt.Errorf("server kpis: max memory: %w", err)
	}
	avgRPS, err := mean(rps)
	if err != nil {
		return ServerKPIs{}, fmt.Errorf("server kpis: average rps: %w", err)
	}

	var (
		connections int64
		failures    int64
		networkIn   float64
		networkOut  float64
	)
	failuresByServer := make(map[string]int64)
	for _, m := range records {
		connections += m.ActiveConnections
		failures += m.BackendHealthFailures
		failuresByServer[m.ServerID] += m.BackendHealthFailures
		networkIn += m.NetworkInMbps
		networkOut += m.NetworkOutMbps
	}

	servers, byServer := groupBy(records, func(m domain.ServerMetricRecord) string { return m.ServerID })
	utilization := make(map[string]ServerUtilization, len(servers))
	highCPU := make([]string, 0)
	highMemory := make([]string, 0)
	for _, id := range servers {
		samples := byServer[id]
		u, err := serverUtilization(samples)
		if err != nil {
			return ServerKPIs{}, fmt.Errorf("server kpis: utilization for %s: %w", id, err)
		}
		utilization[id] = u
		if u.CPUUsagePercent > highUtilizationPercent {
			highCPU = append(highCPU, id)
		}
		if u.MemoryUsagePercent > highUtilizationPercent {
			highMemory = append(highMemory, id)
		}
	}

	kpis := ServerKPIs{
		AverageCPUUsage:               round(avgCPU, 2),
		MaxCPUUsage:                   round(maxCPU, 2),
		AverageMemoryUsage:            round(avgMemory, 2),
		MaxMemoryUsage:                round(maxMemory, 2),
		TotalActiveConnections:        connections,
		AverageRequestsPerSecond:      round(avgRPS, 2),
		BackendHealthFailuresTotal:    failures,
		BackendHealthFailuresByServer: failuresByServer,
		TotalNetworkInGB:              round(networkIn*mbpsToGBHour, 2),
		TotalNetworkOutGB:             round(networkOut*mbpsToGBHour, 2),
		HighCPUServers:                highCPU,
		HighMemoryServers:             highMemory,
		ServerUtilization:             utilization,
	}
	e.logger.Info("computed server kpis", "high_cpu_servers", len(kpis.HighCPUServers), "backend_health_failures", kpis.BackendHealthFailuresTotal)
	return kpis, nil
}

// serverUtilization averages one server's samples; the high-utilization
// lists compare against these rounded values.
func serverUtilization(samples []domain.ServerMetricRecord) (ServerUtilization, error) {
	cpu, err := mean(project(samples, func(m domain.ServerMetricRecord) float64 { return m.CPUUsagePercent }))
	if err != nil {
		return ServerUtilization{}, err
	}
	memory, err := mean(project(samples, func(m domain.ServerMetricRecord) float64 { return m.MemoryUsagePercent }))
	if err != nil {
		return ServerUtilization{}, err
	}
	rps, err := mean(project(samples, func(m domain.ServerMetricRecord) float64 { return m.RequestsPerSecond }))
	if err != nil {
		return ServerUtilization{}, err
	}
	return ServerUtilization{
		CPUUsagePercent:    round(cpu, 2),
		MemoryUsagePercent: round(memory, 2),
		RequestsPerSecond:  round(rps, 2),
	}, nil
}
