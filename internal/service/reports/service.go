package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/splax/lbinsight/internal/cache"
	"github.com/splax/lbinsight/internal/domain"
	"github.com/splax/lbinsight/internal/repository"
	"github.com/splax/lbinsight/pkg/logger"
)

// DefaultType is used when a caller does not name a report type.
const DefaultType = "comprehensive"

// Cache is the optional shared cache and announcement bus.
type Cache interface {
	StoreLatest(ctx context.Context, reportType string, payload []byte) error
	Latest(ctx context.Context, reportType string) ([]byte, error)
	Publish(ctx context.Context, reportType string, payload []byte) error
	Listen(ctx context.Context, fn func(reportType string, payload []byte)) error
}

// Broadcaster delivers announcements to locally connected clients.
type Broadcaster interface {
	Broadcast(reportType string, payload []byte)
}

// Summary describes a stored report without its payload.
type Summary struct {
	ID               int64     `json:"id"`
	ReportType       string    `json:"report_type"`
	ReportTimestamp  time.Time `json:"report_timestamp"`
	ProcessingTimeMS *int64    `json:"processing_time_ms,omitempty"`
	RecordCount      *int64    `json:"record_count,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Stored is a report with its payload.
type Stored struct {
	Summary
	Report json.RawMessage `json:"report"`
}

// Service reads stored reports and announces new ones.
type Service struct {
	repo   repository.ReportRepository
	cache  Cache
	hub    Broadcaster
	logger *slog.Logger
}

// New constructs a report service. cache and hub may be nil.
func New(repo repository.ReportRepository, cache Cache, hub Broadcaster, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{repo: repo, cache: cache, hub: hub, logger: log.With("component", "reports")}
}

// Latest returns the newest report of reportType, preferring the cache.
func (s *Service) Latest(ctx context.Context, reportType string) (Stored, error) {
	reportType = normalizeType(reportType)
	if s.cache != nil {
		payload, err := s.cache.Latest(ctx, reportType)
		switch {
		case err == nil:
			var stored Stored
			if err := json.Unmarshal(payload, &stored); err == nil {
				return stored, nil
			}
			s.logger.Warn("discarding unreadable cached report", "report_type", reportType)
		case !errors.Is(err, cache.ErrMiss):
			s.logger.Warn("report cache unavailable", "error", err)
		}
	}

	row, err := s.repo.LatestReport(ctx, reportType)
	if err != nil {
		return Stored{}, err
	}
	stored := toStored(*row)
	if s.cache != nil {
		if payload, err := json.Marshal(stored); err == nil {
			if err := s.cache.StoreLatest(ctx, reportType, payload); err != nil {
				s.logger.Warn("failed to cache report", "report_type", reportType, "error", err)
			}
		}
	}
	return stored, nil
}

// List returns summaries of recent reports, newest first.
func (s *Service) List(ctx context.Context, reportType string, limit int) ([]Summary, error) {
	rows, err := s.repo.ListReports(ctx, strings.TrimSpace(reportType), limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, toSummary(row))
	}
	return summaries, nil
}

// Announce makes a freshly stored report visible: it refreshes the cache and
// notifies subscribers either through the cache's pub/sub or, without a
// cache, the local hub directly.
func (s *Service) Announce(ctx context.Context, stored Stored) error {
	stored.ReportType = normalizeType(stored.ReportType)
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("announce report: encode: %w", err)
	}
	if s.cache == nil {
		if s.hub != nil {
			s.hub.Broadcast(stored.ReportType, payload)
		}
		return nil
	}
	if err := s.cache.StoreLatest(ctx, stored.ReportType, payload); err != nil {
		return fmt.Errorf("announce report: %w", err)
	}
	if err := s.cache.Publish(ctx, stored.ReportType, payload); err != nil {
		return fmt.Errorf("announce report: %w", err)
	}
	s.logger.Info("announced report", "id", stored.ID, "report_type", stored.ReportType)
	return nil
}

// Relay forwards announcements from the cache to the local hub until ctx is
// done. Without a cache or hub it returns immediately.
func (s *Service) Relay(ctx context.Context) error {
	if s.cache == nil || s.hub == nil {
		return nil
	}
	return s.cache.Listen(ctx, s.hub.Broadcast)
}

func normalizeType(reportType string) string {
	reportType = strings.TrimSpace(reportType)
	if reportType == "" {
		return DefaultType
	}
	return reportType
}

func toSummary(row domain.ReportRow) Summary {
	return Summary{
		ID:               row.ID,
		ReportType:       row.ReportType,
		ReportTimestamp:  row.ReportTimestamp.UTC(),
		ProcessingTimeMS: row.ProcessingTimeMS,
		RecordCount:      row.RecordCount,
		CreatedAt:        row.CreatedAt.UTC(),
	}
}

func toStored(row domain.ReportRow) Stored {
	stored := Stored{Summary: toSummary(row)}
	if json.Valid(row.ReportData) {
		stored.Report = json.RawMessage(row.ReportData)
	}
	return stored
}
