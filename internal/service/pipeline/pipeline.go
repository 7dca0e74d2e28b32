package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/splax/lbinsight/internal/analytics"
	"github.com/splax/lbinsight/internal/domain"
	"github.com/splax/lbinsight/internal/ingest"
	"github.com/splax/lbinsight/internal/repository"
	"github.com/splax/lbinsight/internal/service/reports"
	"github.com/splax/lbinsight/pkg/logger"
)

// Step names recorded in Result.StepsCompleted.
const (
	StepInfrastructure = "infrastructure_validation"
	StepLoad           = "data_loading"
	StepAnalytics      = "analytics_processing"
	StepExport         = "report_export"
	StepWarehouse      = "data_warehouse_storage"
	StepQuality        = "data_quality"
)

// ReportFile is written to the data directory when exporting is enabled.
const ReportFile = "analytics_report.json"

// ErrWarehouseUnavailable is returned when the connectivity probe fails.
var ErrWarehouseUnavailable = errors.New("pipeline: warehouse unavailable")

// Store is the warehouse surface the pipeline writes through.
type Store interface {
	repository.TelemetryWriter
	StoreReport(ctx context.Context, report any, opts repository.StoreReportOptions) (int64, error)
	CheckConnection(ctx context.Context) bool
	CheckDataQuality(ctx context.Context) ([]domain.DataQualityCheck, error)
}

// Announcer publishes stored reports to subscribers.
type Announcer interface {
	Announce(ctx context.Context, stored reports.Stored) error
}

// Loader reads request logs and server metrics from a directory.
type Loader func(dir string) ([]domain.RequestRecord, []domain.ServerMetricRecord, error)

// Options controls a single run.
type Options struct {
	DataDirectory string
	ReportType    string
	Store         bool
	Export        bool
	// CheckQuality runs the data quality checks after storing. Ignored
	// unless Store is set.
	CheckQuality bool
}

// Summary is the headline view of a run's report.
type Summary struct {
	TotalRequests     int     `json:"total_requests"`
	ErrorRatePercent  float64 `json:"error_rate_percent"`
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
	SlowRequests      int     `json:"anomalies_detected"`
	UnhealthyServers  int     `json:"unhealthy_servers"`
}

// Result describes what a run did.
type Result struct {
	Started          time.Time                 `json:"pipeline_start"`
	Finished         time.Time                 `json:"pipeline_end"`
	DurationSeconds  float64                   `json:"pipeline_duration_seconds"`
	StepsCompleted   []string                  `json:"steps_completed"`
	Summary          *Summary                  `json:"analytics_summary,omitempty"`
	InsertedRequests int                       `json:"inserted_requests"`
	InsertedMetrics  int                       `json:"inserted_metrics"`
	ReportRowID      int64                     `json:"report_row_id,omitempty"`
	ReportPath       string                    `json:"report_path,omitempty"`
	Quality          []domain.DataQualityCheck `json:"data_quality,omitempty"`
	Report           analytics.Report          `json:"-"`
	Success          bool                      `json:"success"`
	Error            string                    `json:"error,omitempty"`
}

// Service sequences loading, analysis and storage.
type Service struct {
	store     Store
	announcer Announcer
	load      Loader
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a pipeline. store is required only for runs with Store set;
// announcer may be nil.
func New(store Store, announcer Announcer, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store:     store,
		announcer: announcer,
		load:      ingest.LoadDirectory,
		logger:    log.With("component", "pipeline"),
		now:       time.Now,
	}
}

// WithLoader replaces the CSV directory loader.
func (s *Service) WithLoader(load Loader) *Service {
	s.load = load
	return s
}

// Run executes the pipeline. The returned Result is populated even when an
// error is returned.
func (s *Service) Run(ctx context.Context, opts Options) (Result, error) {
	result := Result{Started: s.now().UTC(), StepsCompleted: []string{}}
	err := s.run(ctx, opts, &result)
	result.Finished = s.now().UTC()
	elapsed := result.Finished.Sub(result.Started)
	result.DurationSeconds = float64(elapsed.Milliseconds()) / 1000
	result.Success = err == nil
	observeRun(elapsed, err)
	if err != nil {
		result.Error = err.Error()
		s.logger.Error("pipeline failed", "steps_completed", result.StepsCompleted, "error", err)
		return result, err
	}
	s.logger.Info("pipeline completed", "duration_seconds", result.DurationSeconds, "steps_completed", result.StepsCompleted)
	return result, nil
}

func (s *Service) run(ctx context.Context, opts Options, result *Result) error {
	if opts.Store {
		if s.store == nil {
			return fmt.Errorf("%w: no warehouse configured", ErrWarehouseUnavailable)
		}
		if !s.store.CheckConnection(ctx) {
			return ErrWarehouseUnavailable
		}
		result.StepsCompleted = append(result.StepsCompleted, StepInfrastructure)
	}

	requests, metrics, err := s.load(opts.DataDirectory)
	if err != nil {
		return fmt.Errorf("load telemetry: %w", err)
	}
	result.StepsCompleted = append(result.StepsCompleted, StepLoad)
	s.logger.Info("loaded telemetry", "request_logs", len(requests), "server_metrics", len(metrics))

	report, err := s.analyze(ctx, requests, metrics)
	if err != nil {
		return err
	}
	result.Report = report
	result.Summary = summarize(report)
	result.StepsCompleted = append(result.StepsCompleted, StepAnalytics)

	if opts.Export {
		path, err := exportReport(opts.DataDirectory, report)
		if err != nil {
			return err
		}
		result.ReportPath = path
		result.StepsCompleted = append(result.StepsCompleted, StepExport)
	}

	if opts.Store {
		if err := s.persist(ctx, opts, requests, metrics, report, result); err != nil {
			return err
		}
		result.StepsCompleted = append(result.StepsCompleted, StepWarehouse)

		if opts.CheckQuality {
			checks, err := s.store.CheckDataQuality(ctx)
			if err != nil {
				return fmt.Errorf("check data quality: %w", err)
			}
			result.Quality = checks
			result.StepsCompleted = append(result.StepsCompleted, StepQuality)
		}
	}
	return nil
}

func (s *Service) analyze(ctx context.Context, requests []domain.RequestRecord, metrics []domain.ServerMetricRecord) (analytics.Report, error) {
	start := time.Now()
	engine := analytics.NewEngine(analytics.NewDataset(requests, metrics), s.logger)
	report, err := engine.ComprehensiveReport(ctx)
	if err != nil {
		return analytics.Report{}, fmt.Errorf("analyze: %w", err)
	}
	elapsed := time.Since(start)
	s.logger.Info("analytics processing completed", "duration_ms", elapsed.Milliseconds())
	return report.WithProcessing(elapsed, s.now().UTC()), nil
}

// persist writes both telemetry tables concurrently, then the report. Each
// write commits independently.
func (s *Service) persist(ctx context.Context, opts Options, requests []domain.RequestRecord, metrics []domain.ServerMetricRecord, report analytics.Report, result *Result) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.store.InsertRequestLogs(gctx, requests)
		result.InsertedRequests = n
		return err
	})
	g.Go(func() error {
		n, err := s.store.InsertServerMetrics(gctx, metrics)
		result.InsertedMetrics = n
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("store telemetry: %w", err)
	}

	reportType := opts.ReportType
	if reportType == "" {
		reportType = reports.DefaultType
	}
	var processing *time.Duration
	if report.Processing != nil {
		d := time.Duration(report.Processing.ProcessingTimeMS) * time.Millisecond
		processing = &d
	}
	id, err := s.store.StoreReport(ctx, report, repository.StoreReportOptions{
		Type:           reportType,
		ProcessingTime: processing,
	})
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	result.ReportRowID = id
	s.logger.Info("stored telemetry and report",
		"inserted_requests", result.InsertedRequests,
		"inserted_metrics", result.InsertedMetrics,
		"report_id", id,
	)

	if s.announcer != nil {
		if err := s.announce(ctx, id, reportType, report); err != nil {
			s.logger.Warn("failed to announce report", "report_id", id, "error", err)
		}
	}
	return nil
}

func (s *Service) announce(ctx context.Context, id int64, reportType string, report analytics.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	count := report.RecordCount()
	stored := reports.Stored{
		Summary: reports.Summary{
			ID:              id,
			ReportType:      reportType,
			ReportTimestamp: report.Metadata.GeneratedAt,
			RecordCount:     &count,
			CreatedAt:       s.now().UTC(),
		},
		Report: payload,
	}
	if report.Processing != nil {
		ms := report.Processing.ProcessingTimeMS
		stored.ProcessingTimeMS = &ms
	}
	return s.announcer.Announce(ctx, stored)
}

func summarize(report analytics.Report) *Summary {
	return &Summary{
		TotalRequests:     report.RequestKPIs.TotalRequests,
		ErrorRatePercent:  report.RequestKPIs.ErrorRatePercent,
		AvgResponseTimeMS: report.RequestKPIs.AverageResponseTimeMS,
		SlowRequests:      report.Anomalies.SlowRequestCount,
		UnhealthyServers:  len(report.Anomalies.UnhealthyServers),
	}
}

func exportReport(dir string, report analytics.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export report: %w", err)
	}
	path := filepath.Join(dir, ReportFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("export report: %w", err)
	}
	return path, nil
}
