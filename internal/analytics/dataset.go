package analytics

import (
	"errors"
	"slices"
	"time"

	"github.com/splax/lbinsight/internal/domain"
)

var (
	// ErrDatasetNotLoaded indicates a computation ran before its input records were loaded.
	ErrDatasetNotLoaded = errors.New("analytics: dataset not loaded")
	// ErrEmptySeries indicates a statistic was requested over an empty series.
	ErrEmptySeries = errors.New("analytics: empty series")
)

// Dataset is an immutable, timestamp-ordered snapshot of request logs and
// server metrics for one analytics run.
type Dataset struct {
	requests []domain.RequestRecord
	metrics  []domain.ServerMetricRecord
}

// NewDataset copies and orders the records by timestamp. Records sharing a
// timestamp keep their input order.
func NewDataset(requests []domain.RequestRecord, metrics []domain.ServerMetricRecord) *Dataset {
	r := slices.Clone(requests)
	slices.SortStableFunc(r, func(a, b domain.RequestRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	m := slices.Clone(metrics)
	slices.SortStableFunc(m, func(a, b domain.ServerMetricRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return &Dataset{requests: r, metrics: m}
}

// Requests returns the ordered request records. Callers must not modify the slice.
func (d *Dataset) Requests() []domain.RequestRecord {
	if d == nil {
		return nil
	}
	return d.requests
}

// Metrics returns the ordered server metric records. Callers must not modify the slice.
func (d *Dataset) Metrics() []domain.ServerMetricRecord {
	if d == nil {
		return nil
	}
	return d.metrics
}

// HasRequests reports whether request logs are loaded.
func (d *Dataset) HasRequests() bool {
	return d != nil && len(d.requests) > 0
}

// HasMetrics reports whether server metrics are loaded.
func (d *Dataset) HasMetrics() bool {
	return d != nil && len(d.metrics) > 0
}

// RequestTimeRange returns the earliest and latest request timestamps.
func (d *Dataset) RequestTimeRange() (time.Time, time.Time, error) {
	if !d.HasRequests() {
		return time.Time{}, time.Time{}, ErrDatasetNotLoaded
	}
	return d.requests[0].Timestamp, d.requests[len(d.requests)-1].Timestamp, nil
}
