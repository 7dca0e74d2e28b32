package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once
	runDuration *prometheus.HistogramVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lbinsight",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs by outcome",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"outcome"})
		if err := prometheus.Register(runDuration); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					runDuration = existing
				}
			}
		}
	})
}

func observeRun(elapsed time.Duration, err error) {
	initMetrics()
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	runDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
