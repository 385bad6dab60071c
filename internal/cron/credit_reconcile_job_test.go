package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/atlasops/atlasops-backend/internal/credit"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

type fakeCreditReconciler struct {
	lastLimit int
	called    int
	result    *credit.ReconcileResult
	err       error
}

func (f *fakeCreditReconciler) ReconcileExpired(ctx context.Context, input credit.ReconcileInput) (*credit.ReconcileResult, error) {
	f.called++
	f.lastLimit = input.Limit
	if f.err != nil {
		return f.result, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &credit.ReconcileResult{}, nil
}

func TestCreditReconcileJobSweeps(t *testing.T) {
	reconciler := &fakeCreditReconciler{
		result: &credit.ReconcileResult{Scanned: 3, Expired: []uuid.UUID{uuid.New()}},
	}
	job, err := NewCreditReconcileJob(CreditReconcileJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Credit: reconciler,
	})
	if err != nil {
		t.Fatalf("NewCreditReconcileJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reconciler.called != 1 {
		t.Fatalf("reconciler called %d times", reconciler.called)
	}
	if reconciler.lastLimit != creditReconcileBatchSize {
		t.Fatalf("limit = %d, want %d", reconciler.lastLimit, creditReconcileBatchSize)
	}
}

func TestCreditReconcileJobPropagatesError(t *testing.T) {
	reconciler := &fakeCreditReconciler{err: errors.New("boom")}
	job, err := NewCreditReconcileJob(CreditReconcileJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Credit:    reconciler,
		BatchSize: 5,
	})
	if err != nil {
		t.Fatalf("NewCreditReconcileJob: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if reconciler.lastLimit != 5 {
		t.Fatalf("limit = %d, want 5", reconciler.lastLimit)
	}
}
