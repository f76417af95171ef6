package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
)

const ReconcileJobName = "settlement_reconcile"

var errReconciliationMismatch = errors.New("escrow, payout and delivered commission do not add up to the processed total")

type summaryReader interface {
	Summary(ctx context.Context) (*settlement.Summary, error)
}

type ReconcileJobParams struct {
	Logger  *logger.Logger
	Engine  summaryReader
	Metrics *metrics.SettlementMetrics
}

// NewReconcileJob recomputes the settlement aggregates, exports them as
// gauges and fails when the reconciliation identity does not hold.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("settlement engine required")
	}
	return &reconcileJob{logg: params.Logger, engine: params.Engine, metrics: params.Metrics}, nil
}

type reconcileJob struct {
	logg    *logger.Logger
	engine  summaryReader
	metrics *metrics.SettlementMetrics
}

func (j *reconcileJob) Name() string { return ReconcileJobName }

func (j *reconcileJob) Run(ctx context.Context) error {
	summary, err := j.engine.Summary(ctx)
	if err != nil {
		return fmt.Errorf("compute summary: %w", err)
	}
	j.metrics.RecordSnapshot(summary.Snapshot())

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"total_processed":      summary.TotalProcessed,
		"in_escrow":            summary.InEscrow,
		"payout_ready":         summary.PayoutReady,
		"delivered_commission": summary.DeliveredCommission,
		"platform_revenue":     summary.PlatformRevenue,
		"order_count":          summary.OrderCount,
	})
	if !summary.Reconciles() {
		j.logg.Error(logCtx, "settlement reconciliation failed", errReconciliationMismatch)
		return errReconciliationMismatch
	}
	j.logg.Info(logCtx, "settlement reconciled")
	return nil
}
