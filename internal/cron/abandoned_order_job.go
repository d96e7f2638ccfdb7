package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/logger"
	"github.com/angelmondragon/mala-backend/pkg/metrics"
)

const (
	abandonedOrderJobName    = "abandoned-order-reaper"
	defaultAbandonedMinAge   = 15 * time.Minute
	defaultAbandonedMaxAge   = time.Hour
	defaultAbandonedBatchCap = 200
)

// AbandonedOrderJobParams configure the reaper that deletes unpaid checkouts.
type AbandonedOrderJobParams struct {
	Logger    *logger.Logger
	Reader    pendingOrderReader
	Reaper    abandonedOrderReaper
	Metrics   *metrics.CronJobMetrics
	MinAge    time.Duration
	MaxAge    time.Duration
	BatchSize int
}

type pendingOrderReader interface {
	FindPendingCreatedBetween(ctx context.Context, oldest, newest time.Time, limit int) ([]models.Order, error)
}

// abandonedOrderReaper re-checks status and age before deleting.
type abandonedOrderReaper interface {
	ReapAbandonedOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
}

// NewAbandonedOrderJob builds the cron job that clears pending orders nobody paid for.
func NewAbandonedOrderJob(params AbandonedOrderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("pending orders reader required")
	}
	if params.Reaper == nil {
		return nil, fmt.Errorf("order reaper required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultAbandonedMinAge
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultAbandonedMaxAge
	}
	if maxAge < minAge {
		return nil, fmt.Errorf("abandonment max age %s is below min age %s", maxAge, minAge)
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultAbandonedBatchCap
	}
	return &abandonedOrderJob{
		logg:    params.Logger,
		reader:  params.Reader,
		reaper:  params.Reaper,
		metrics: params.Metrics,
		minAge:  minAge,
		maxAge:  maxAge,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type abandonedOrderJob struct {
	logg    *logger.Logger
	reader  pendingOrderReader
	reaper  abandonedOrderReaper
	metrics *metrics.CronJobMetrics
	minAge  time.Duration
	maxAge  time.Duration
	batch   int
	now     func() time.Time
}

func (j *abandonedOrderJob) Name() string { return abandonedOrderJobName }

func (j *abandonedOrderJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	oldest := now.Add(-j.maxAge)
	newest := now.Add(-j.minAge)
	candidates, err := j.reader.FindPendingCreatedBetween(ctx, oldest, newest, j.batch)
	if err != nil {
		return fmt.Errorf("query abandoned orders: %w", err)
	}

	var (
		errs    error
		deleted int64
	)
	for _, order := range candidates {
		ok, err := j.reaper.ReapAbandonedOrder(ctx, order.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reap order %s: %w", order.ID, err))
			continue
		}
		if ok {
			deleted++
		}
	}
	j.metrics.AddAffected(abandonedOrderJobName, deleted)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates":     len(candidates),
		"orders_deleted": deleted,
		"window_oldest":  oldest,
		"window_newest":  newest,
	})
	j.logg.Info(logCtx, "abandoned order sweep complete")
	return errs
}
