package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/internal/credit"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/outbox"
)

const maxCycleDays = 366

type creditGranter interface {
	Grant(ctx context.Context, input credit.GrantInput) (*credit.GrantResult, error)
	GetBalance(ctx context.Context, tenantID, accountID uuid.UUID) (*models.CreditBalance, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Credit creditGranter
	Outbox outboxPublisher
}

// Service schedules recurring credit refills. A refill is a credit grant
// keyed to the cycle boundary followed by a conditional schedule advance, so
// every crash order replays to exactly one grant per cycle.
type Service struct {
	repo   Repository
	tx     txRunner
	credit creditGranter
	outbox outboxPublisher
	now    func() time.Time
}

// NewService builds a subscription service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Credit == nil {
		return nil, errors.New("credit granter is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	return &Service{
		repo:   params.Repo,
		tx:     params.Tx,
		credit: params.Credit,
		outbox: params.Outbox,
		now:    time.Now,
	}, nil
}

// CreateInput starts a recurring refill schedule for an account.
type CreateInput struct {
	AccountID                    uuid.UUID
	TenantID                     uuid.UUID
	CycleDays                    int
	MonthlyCreditGrantMinorUnits int64
	// FirstRefillAt anchors the schedule; one cycle from now when unset.
	FirstRefillAt *time.Time
}

// RefillResult reports one applied (or already applied) cycle.
type RefillResult struct {
	Subscription *models.Subscription
	Entry        *models.CreditLedgerEntry
	// Replayed is true when another worker already advanced this cycle.
	Replayed bool
}

// ProcessInput bounds one due-refill sweep.
type ProcessInput struct {
	Limit  int
	DryRun bool
}

// ProcessResult reports one sweep.
type ProcessResult struct {
	Due      int
	Pending  []uuid.UUID
	Refilled []uuid.UUID
}

// SubscriptionRefilledEvent is emitted once per applied cycle.
type SubscriptionRefilledEvent struct {
	SubscriptionID   uuid.UUID `json:"subscription_id"`
	AccountID        uuid.UUID `json:"account_id"`
	EntryID          uuid.UUID `json:"entry_id"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	CycleAt          time.Time `json:"cycle_at"`
	NextRefillAt     time.Time `json:"next_refill_at"`
}

// Create starts a subscription. The account must already exist.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Subscription, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if input.CycleDays < 1 || input.CycleDays > maxCycleDays {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("cycle days must be between 1 and %d", maxCycleDays))
	}
	if input.MonthlyCreditGrantMinorUnits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit grant must be positive")
	}
	if _, err := s.credit.GetBalance(ctx, input.TenantID, input.AccountID); err != nil {
		return nil, err
	}

	firstRefill := s.now().UTC().Add(cycleDuration(input.CycleDays))
	if input.FirstRefillAt != nil {
		firstRefill = input.FirstRefillAt.UTC()
	}

	subscription := &models.Subscription{
		AccountID:                    input.AccountID,
		CycleDays:                    input.CycleDays,
		MonthlyCreditGrantMinorUnits: input.MonthlyCreditGrantMinorUnits,
		Status:                       enums.SubscriptionStatusActive,
		NextRefillAt:                 firstRefill,
	}
	if err := s.repo.Create(ctx, subscription); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}
	return subscription, nil
}

// Get returns a subscription by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if subscription == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return subscription, nil
}

// Refill applies the subscription's pending cycle now, whether or not it
// is due yet.
func (s *Service) Refill(ctx context.Context, id uuid.UUID) (*RefillResult, error) {
	subscription, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if subscription.Status != enums.SubscriptionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("subscription is %s", subscription.Status))
	}
	return s.applyRefill(ctx, *subscription)
}

// ProcessDueRefills sweeps active subscriptions whose boundary has passed,
// oldest first. A subscription that missed several cycles catches up one
// cycle per sweep. The sweep is cancellable between subscriptions.
func (s *Service) ProcessDueRefills(ctx context.Context, input ProcessInput) (*ProcessResult, error) {
	now := s.now().UTC()
	due, err := s.repo.ListDue(ctx, now, input.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due subscriptions")
	}

	result := &ProcessResult{Due: len(due)}
	if input.DryRun {
		for _, subscription := range due {
			result.Pending = append(result.Pending, subscription.ID)
		}
		return result, nil
	}

	var errs error
	for _, subscription := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		refill, err := s.applyRefill(ctx, subscription)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", subscription.ID, err))
			continue
		}
		if !refill.Replayed {
			result.Refilled = append(result.Refilled, subscription.ID)
		}
	}
	return result, errs
}

// Pause stops refills until Resume.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	flipped, err := s.repo.SetStatus(ctx, id,
		[]enums.SubscriptionStatus{enums.SubscriptionStatusActive}, enums.SubscriptionStatusPaused)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pause subscription")
	}
	subscription, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !flipped && subscription.Status != enums.SubscriptionStatusPaused {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("subscription is %s", subscription.Status))
	}
	return subscription, nil
}

// Resume reactivates a paused subscription. Boundaries that passed while
// paused are forfeited: an overdue schedule re-anchors one cycle from now.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	subscription, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if subscription.Status != enums.SubscriptionStatusPaused {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("subscription is %s", subscription.Status))
	}

	now := s.now().UTC()
	next := subscription.NextRefillAt
	if next.Before(now) {
		next = now.Add(cycleDuration(subscription.CycleDays))
	}
	flipped, err := s.repo.Resume(ctx, id, next)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resume subscription")
	}
	if !flipped {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is no longer paused")
	}
	return s.Get(ctx, id)
}

// Cancel ends the subscription. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	from := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPaused,
		enums.SubscriptionStatusPastDue,
	}
	if _, err := s.repo.SetStatus(ctx, id, from, enums.SubscriptionStatusCancelled); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
	}
	return s.Get(ctx, id)
}

// applyRefill grants the cycle's credit, then advances the schedule. The
// grant key derives from the boundary being applied, so a rerun after a
// crash between the two steps replays the grant instead of doubling it.
func (s *Service) applyRefill(ctx context.Context, subscription models.Subscription) (*RefillResult, error) {
	boundary := subscription.NextRefillAt.UTC()
	grant, err := s.credit.Grant(ctx, credit.GrantInput{
		AccountID:      subscription.AccountID,
		Amount:         subscription.MonthlyCreditGrantMinorUnits,
		Reason:         enums.CreditLedgerReasonTopup,
		IdempotencyKey: refillKey(subscription.ID, boundary),
	})
	if err != nil {
		return nil, err
	}

	refilledAt := s.now().UTC()
	next := boundary.Add(cycleDuration(subscription.CycleDays))
	advanced := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Advance(ctx, subscription.ID, boundary, refilledAt, next)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance subscription")
		}
		advanced = ok
		if !ok {
			return nil
		}
		// A rerun that re-applies a cycle after a crash between grant and
		// advance lands on the same (event_type, aggregate_id) row.
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionRefilled,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   grant.Entry.ID,
			Version:       1,
			Data: SubscriptionRefilledEvent{
				SubscriptionID:   subscription.ID,
				AccountID:        subscription.AccountID,
				EntryID:          grant.Entry.ID,
				AmountMinorUnits: subscription.MonthlyCreditGrantMinorUnits,
				CycleAt:          boundary,
				NextRefillAt:     next,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	fresh, err := s.Get(ctx, subscription.ID)
	if err != nil {
		return nil, err
	}
	return &RefillResult{Subscription: fresh, Entry: grant.Entry, Replayed: !advanced}, nil
}

func refillKey(id uuid.UUID, boundary time.Time) string {
	return fmt.Sprintf("refill-%s-%s", id, boundary.UTC().Format(time.RFC3339))
}

func cycleDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
