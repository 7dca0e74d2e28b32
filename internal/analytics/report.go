package analytics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ReportVersion tags the layout of the serialized report document.
const ReportVersion = "1.0"

// TimeRange bounds the request timestamps covered by a report.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ReportMetadata describes when and from what a report was generated.
type ReportMetadata struct {
	ReportID            string    `json:"report_id"`
	ReportVersion       string    `json:"report_version"`
	GeneratedAt         time.Time `json:"generated_at"`
	RequestLogEntries   int       `json:"request_log_entries"`
	ServerMetricEntries int       `json:"server_metric_entries"`
	TimeRange           TimeRange `json:"time_range"`
}

// ProcessingMetadata is attached by the caller once assembly has been timed.
type ProcessingMetadata struct {
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// Report is the assembled analytics document.
type Report struct {
	Metadata        ReportMetadata      `json:"report_metadata"`
	RequestKPIs     RequestKPIs         `json:"request_kpis"`
	ServerKPIs      ServerKPIs          `json:"server_kpis"`
	TrafficPatterns TrafficPatterns     `json:"traffic_patterns"`
	Anomalies       Anomalies           `json:"anomalies"`
	Processing      *ProcessingMetadata `json:"processing_metadata,omitempty"`
}

// WithProcessing returns a copy of the report carrying processing metadata.
func (r Report) WithProcessing(elapsed time.Duration, at time.Time) Report {
	r.Processing = &ProcessingMetadata{
		ProcessingTimeMS: elapsed.Milliseconds(),
		ProcessedAt:      at,
	}
	return r
}

// RecordCount is the number of request records the report covers.
func (r Report) RecordCount() int64 {
	return int64(r.RequestKPIs.TotalRequests)
}

// ComprehensiveReport runs every computation over the dataset and merges the
// results. The first failing computation aborts the whole report.
func (e *Engine) ComprehensiveReport(ctx context.Context) (Report, error) {
	if !e.dataset.HasRequests() || !e.dataset.HasMetrics() {
		return Report{}, fmt.Errorf("comprehensive report: %w", ErrDatasetNotLoaded)
	}
	start, end, err := e.dataset.RequestTimeRange()
	if err != nil {
		return Report{}, fmt.Errorf("comprehensive report: %w", err)
	}

	var (
		requestKPIs RequestKPIs
		serverKPIs  ServerKPIs
		patterns    TrafficPatterns
		anomalies   Anomalies
	)
	g, gctx := errgroup.WithContext(ctx)
	run := func(fn func() error) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn()
		})
	}
	run(func() (err error) {
		requestKPIs, err = e.RequestKPIs()
		return err
	})
	run(func() (err error) {
		serverKPIs, err = e.ServerKPIs()
		return err
	})
	run(func() (err error) {
		patterns, err = e.TrafficPatterns()
		return err
	})
	run(func() (err error) {
		anomalies, err = e.DetectAnomalies()
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("comprehensive report: %w", err)
	}

	report := Report{
		Metadata: ReportMetadata{
			ReportID:            e.newID(),
			ReportVersion:       ReportVersion,
			GeneratedAt:         e.now().UTC(),
			RequestLogEntries:   len(e.dataset.Requests()),
			ServerMetricEntries: len(e.dataset.Metrics()),
			TimeRange:           TimeRange{Start: start, End: end},
		},
		RequestKPIs:     requestKPIs,
		ServerKPIs:      serverKPIs,
		TrafficPatterns: patterns,
		Anomalies:       anomalies,
	}
	e.logger.Info("generated comprehensive report", "report_id", report.Metadata.ReportID)
	return report, nil
}
