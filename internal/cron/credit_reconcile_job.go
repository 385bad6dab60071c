package cron

import (
	"context"
	"fmt"

	"github.com/atlasops/atlasops-backend/internal/credit"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

const creditReconcileBatchSize = 200

type creditReconciler interface {
	ReconcileExpired(ctx context.Context, input credit.ReconcileInput) (*credit.ReconcileResult, error)
}

// CreditReconcileJobParams configure the stale reservation sweep.
type CreditReconcileJobParams struct {
	Logger    *logger.Logger
	Credit    creditReconciler
	BatchSize int
}

// NewCreditReconcileJob builds the cron job that expires abandoned credit
// reservations and returns their holds to the available pool.
func NewCreditReconcileJob(params CreditReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Credit == nil {
		return nil, fmt.Errorf("credit service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = creditReconcileBatchSize
	}
	return &creditReconcileJob{
		logg:      params.Logger,
		credit:    params.Credit,
		batchSize: batchSize,
	}, nil
}

type creditReconcileJob struct {
	logg      *logger.Logger
	credit    creditReconciler
	batchSize int
}

func (j *creditReconcileJob) Name() string { return "credit-reconcile" }

func (j *creditReconcileJob) Run(ctx context.Context) error {
	result, err := j.credit.ReconcileExpired(ctx, credit.ReconcileInput{Limit: j.batchSize})
	if result != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"scanned": result.Scanned,
			"expired": len(result.Expired),
		})
		j.logg.Info(logCtx, "credit reconcile sweep complete")
	}
	if err != nil {
		return fmt.Errorf("credit reconcile: %w", err)
	}
	return nil
}
