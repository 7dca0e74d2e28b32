package analytics

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/splax/lbinsight/internal/domain"
)

const topLatencyHourCount = 5

// HourLatency is the mean latency observed in one hour-of-day bucket.
type HourLatency struct {
	Hour         int     `json:"hour"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// TrafficPatterns describes the temporal shape of request traffic.
type TrafficPatterns struct {
	HourlyTrafficVolume map[int]int     `json:"hourly_traffic_volume"`
	DailyTrafficVolume  map[string]int  `json:"daily_traffic_volume"`
	HourlyAvgLatency    map[int]float64 `json:"hourly_avg_latency"`
	TopLatencyHours     []HourLatency   `json:"top_latency_hours"`
}

func requestHour(r domain.RequestRecord) int {
	return r.Timestamp.UTC().Hour()
}

func requestWeekday(r domain.RequestRecord) string {
	return r.Timestamp.UTC().Weekday().String()
}

// TrafficPatterns buckets requests by hour of day and weekday (UTC).
func (e *Engine) TrafficPatterns() (TrafficPatterns, error) {
	if !e.dataset.HasRequests() {
		return TrafficPatterns{}, fmt.Errorf("traffic patterns: %w", ErrDatasetNotLoaded)
	}
	records := e.dataset.Requests()

	hours, byHour := groupBy(records, requestHour)
	volume := make(map[int]int, len(hours))
	avgLatency := make(map[int]float64, len(hours))
	ranked := make([]HourLatency, 0, len(hours))
	for _, hour := range hours {
		bucket := byHour[hour]
		avg, err := mean(project(bucket, func(r domain.RequestRecord) float64 { return r.ResponseTimeMS }))
		if err != nil {
			return TrafficPatterns{}, fmt.Errorf("traffic patterns: hour %d: %w", hour, err)
		}
		volume[hour] = len(bucket)
		avgLatency[hour] = round(avg, 2)
		ranked = append(ranked, HourLatency{Hour: hour, AvgLatencyMS: avg})
	}

	// hours are already ascending, so a stable sort keeps ties in hour order.
	slices.SortStableFunc(ranked, func(a, b HourLatency) int {
		return cmp.Compare(b.AvgLatencyMS, a.AvgLatencyMS)
	})
	top := ranked[:min(topLatencyHourCount, len(ranked))]
	for i := range top {
		top[i].AvgLatencyMS = round(top[i].AvgLatencyMS, 2)
	}

	patterns := TrafficPatterns{
		HourlyTrafficVolume: volume,
		DailyTrafficVolume:  countBy(records, requestWeekday),
		HourlyAvgLatency:    avgLatency,
		TopLatencyHours:     slices.Clone(top),
	}
	e.logger.Info("computed traffic patterns", "hour_buckets", len(hours), "day_buckets", len(patterns.DailyTrafficVolume))
	return patterns, nil
}
