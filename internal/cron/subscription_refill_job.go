package cron

import (
	"context"
	"fmt"

	"github.com/atlasops/atlasops-backend/internal/subscriptions"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

const subscriptionRefillBatchSize = 200

type refillProcessor interface {
	ProcessDueRefills(ctx context.Context, input subscriptions.ProcessInput) (*subscriptions.ProcessResult, error)
}

// SubscriptionRefillJobParams configure the due-refill sweep.
type SubscriptionRefillJobParams struct {
	Logger        *logger.Logger
	Subscriptions refillProcessor
	BatchSize     int
}

// NewSubscriptionRefillJob builds the cron job that applies due credit
// refills, oldest boundary first.
func NewSubscriptionRefillJob(params SubscriptionRefillJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = subscriptionRefillBatchSize
	}
	return &subscriptionRefillJob{
		logg:          params.Logger,
		subscriptions: params.Subscriptions,
		batchSize:     batchSize,
	}, nil
}

type subscriptionRefillJob struct {
	logg          *logger.Logger
	subscriptions refillProcessor
	batchSize     int
}

func (j *subscriptionRefillJob) Name() string { return "subscription-refill" }

func (j *subscriptionRefillJob) Run(ctx context.Context) error {
	result, err := j.subscriptions.ProcessDueRefills(ctx, subscriptions.ProcessInput{Limit: j.batchSize})
	if result != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"due":      result.Due,
			"refilled": len(result.Refilled),
		})
		j.logg.Info(logCtx, "subscription refill sweep complete")
	}
	if err != nil {
		return fmt.Errorf("subscription refill: %w", err)
	}
	return nil
}
