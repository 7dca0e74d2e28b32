package domain

import "time"

// RequestRecord captures a single request observed by the load balancer.
type RequestRecord struct {
	Timestamp      time.Time
	ServerID       string
	Region         string
	Method         string
	StatusCode     int
	ResponseTimeMS float64
	RetryRate      float64
	BytesSent      int64
	ClientIP       string
	UserAgent      string
}

// IsError reports whether the request completed with a client or server error.
func (r RequestRecord) IsError() bool {
	return r.StatusCode >= 400
}

// ServerMetricRecord is a resource and health sample for one backend server.
type ServerMetricRecord struct {
	Timestamp             time.Time
	ServerID              string
	CPUUsagePercent       float64
	MemoryUsagePercent    float64
	DiskUsagePercent      float64
	NetworkInMbps         float64
	NetworkOutMbps        float64
	ActiveConnections     int64
	RequestsPerSecond     float64
	BackendHealthFailures int64
}
