package analytics

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/lbinsight/pkg/logger"
)

// Engine computes KPIs, traffic patterns and anomalies over one Dataset.
// It holds no mutable state of its own and is safe for concurrent use.
type Engine struct {
	dataset *Dataset
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewEngine binds an engine to a dataset. A nil dataset is accepted; every
// computation then fails with ErrDatasetNotLoaded.
func NewEngine(dataset *Dataset, log *slog.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		dataset: dataset,
		logger:  log.With("component", "analytics"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Dataset returns the bound dataset.
func (e *Engine) Dataset() *Dataset {
	return e.dataset
}
