package postgres

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var writeDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

type warehouseMetrics struct {
	rowsWritten   *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metrics     warehouseMetrics
)

func loadMetrics() warehouseMetrics {
	metricsOnce.Do(func() {
		metrics.rowsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lbinsight",
			Subsystem: "warehouse",
			Name:      "rows_written_total",
			Help:      "Rows committed to the warehouse",
		}, []string{"table"})

		metrics.attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lbinsight",
			Subsystem: "warehouse",
			Name:      "write_attempts_total",
			Help:      "Batch write attempts by outcome",
		}, []string{"table", "outcome"})

		metrics.writeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lbinsight",
			Subsystem: "warehouse",
			Name:      "write_duration_seconds",
			Help:      "Duration of batch writes including retries",
			Buckets:   writeDurationBuckets,
		}, []string{"table"})

		collectors := []prometheus.Collector{metrics.rowsWritten, metrics.attempts, metrics.writeDuration}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				var are prometheus.AlreadyRegisteredError
				if errors.As(err, &are) {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == metrics.rowsWritten {
							metrics.rowsWritten = v
						} else {
							metrics.attempts = v
						}
					case *prometheus.HistogramVec:
						metrics.writeDuration = v
					}
				}
			}
		}
	})
	return metrics
}

func (m warehouseMetrics) observeAttempt(table string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.attempts.WithLabelValues(table, outcome).Inc()
}

func (m warehouseMetrics) observeWrite(table string, rows int, elapsed time.Duration, err error) {
	m.writeDuration.WithLabelValues(table).Observe(elapsed.Seconds())
	if err == nil {
		m.rowsWritten.WithLabelValues(table).Add(float64(rows))
	}
}
