package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/internal/credit"
	dbpkg "github.com/atlasops/atlasops-backend/pkg/db"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/outbox"
)

type subsHarness struct {
	svc    *Service
	credit *credit.Service
	conn   *gorm.DB
}

func newSubsHarness(t *testing.T) *subsHarness {
	t.Helper()

	dsn := "file:subscriptions_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.BillingAccount{},
		&models.CreditBalance{},
		&models.CreditLedgerEntry{},
		&models.CreditReservation{},
		&models.Subscription{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := dbpkg.NewClientWithConn(conn)
	lock, err := dbpkg.NewKeyedMutexRunner(client)
	if err != nil {
		t.Fatalf("lock runner: %v", err)
	}
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), nil)

	creditSvc, err := credit.NewService(credit.ServiceParams{
		Repo:   credit.NewRepository(conn),
		Lock:   lock,
		Outbox: outboxSvc,
	})
	if err != nil {
		t.Fatalf("credit service: %v", err)
	}

	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Tx:     client,
		Credit: creditSvc,
		Outbox: outboxSvc,
	})
	if err != nil {
		t.Fatalf("subscription service: %v", err)
	}
	return &subsHarness{svc: svc, credit: creditSvc, conn: conn}
}

func (h *subsHarness) account(t *testing.T) *models.BillingAccount {
	t.Helper()
	account, err := h.credit.EnsureTenantAccount(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	return account
}

func (h *subsHarness) create(t *testing.T, accountID uuid.UUID, cycleDays int, grant int64, firstRefillAt *time.Time) *models.Subscription {
	t.Helper()
	subscription, err := h.svc.Create(context.Background(), CreateInput{
		AccountID:                    accountID,
		CycleDays:                    cycleDays,
		MonthlyCreditGrantMinorUnits: grant,
		FirstRefillAt:                firstRefillAt,
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return subscription
}

func (h *subsHarness) wallet(t *testing.T, accountID uuid.UUID) int64 {
	t.Helper()
	balance, err := h.credit.GetBalance(context.Background(), uuid.Nil, accountID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return balance.WalletMinorUnits
}

func TestCreateSubscriptionDefaultsSchedule(t *testing.T) {
	t.Parallel()
	h := newSubsHarness(t)
	account := h.account(t)

	before := time.Now().UTC()
	subscription := h.create(t, account.ID, 30, 5000, nil)

	if subscription.Status != enums.SubscriptionStatusActive {
		t.Fatalf("status = %s", subscription.Status)
	}
	want := before.Add(30 * 24 * time.Hour)
	if diff := subscription.NextRefillAt.Sub(want); diff < 0 || diff > 5*time.Second {
		t.Fatalf("next refill at %s, want about %s", subscription.NextRefillAt, want)
	}
	if subscription.LastRefillAt != nil {
		t.Fatal("fresh subscription has a last refill")
	}
}

func TestCreateSubscriptionValidation(t *testing.T) {
	t.Parallel()
	h := newSubsHarness(t)
	account := h.account(t)
	ctx := context.Background()

	cases := []CreateInput{
		{AccountID: account.ID, CycleDays: 0, MonthlyCreditGrantMinorUnits: 100},
		{AccountID: account.ID, CycleDays: 400, MonthlyCreditGrantMinorUnits: 100},
		{AccountID: account.ID, CycleDays: 30, MonthlyCreditGrantMinorUnits: 0},
		{CycleDays: 30, MonthlyCreditGrantMinorUnits: 100},
	}
	for _, input := range cases {
		if _, err := h.svc.Create(ctx, input); err == nil {
			t.Fatalf("create %+v succeeded", input)
		}
	}

	_, err := h.svc.Create(ctx, CreateInput{
		AccountID:                    uuid.New(),
		CycleDays:                    30,
		MonthlyCreditGrantMinorUnits: 100,
	})
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unknown account err = %v", err)
	}
}

func TestRefillGrantsAndAdvances(t *testing.T) {
	t.Parallel()
	h := newSubsHarness(t)
	account := h.account(t)
	boundary := time.Now().UTC().Add(-time.Hour)
	subscription := h.create(t, account.ID, 30, 5000, &boundary)

	result, err := h.svc.Refill(context.Background(), subscription.ID)
	if err != nil {
		t.Fatalf("refill: %v", err)
	}
	if result.Replayed {
		t.Fatal("fresh refill reported as replay")
	}
	if result.Entry.Reason != enums.CreditLedgerReasonTopup || result.Entry.DeltaMinorUnits != 5000 {
		t.Fatalf("entry = %+v", result.Entry)
	}
	if got := h.wallet(t, account.ID); got != 5000 {
		t.Fatalf("wallet = %d, want 5000", got)
	}

	next := result.Subscription.NextRefillAt.UTC()
	want := boundary.Add(30 * 24 * time.Hour)
	if !next.Equal(want) {
		t.Fatalf("next refill at %s, want %s", next, want)
	}
	if result.Subscription.LastRefillAt == nil {
		t.Fatal("last refill not recorded")
	}

	var events int64
	if err := h.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventSubscriptionRefilled, result.Entry.ID).
		Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("refilled events = %d, want 1", events)
	}
}

func TestRefillRerunAfterPartialApplyDoesNotDoubleGrant(t *testing.T) {
	t.Parallel()
	h := newSubsHarness(t)
	account := h.account(t)
	boundary := time.Now().UTC().Add(-time.Hour)
	subscription := h.create(t, account.ID, 30, 5000, &boundary)
	ctx := context.Background()

	if _, err := h.svc.Refill(ctx, subscription.ID); err != nil {
		t.Fatalf("refill: %v", err)
	}

	// Roll the schedule back to simulate a crash after the grant landed
	// but before the advance committed.
	if err := h.conn.Model(&models.Subscription{}).
		Where("id = ?", subscription.ID).
		Update("next_refill_at", boundary).Error; err != nil {
		t.Fatalf("rewind schedule: %v", err)
	}

	rerun, err := h.svc.Refill(ctx, subscription.ID)
	if err != nil {
		t.Fatalf("rerun refill: %v", err)
	}
	if rerun.Replayed {
		t.Fatal("rerun should finish the cycle, not replay")
	}
	if got := h.wallet(t, account.ID); got != 5000 {
		t.Fatalf("wallet = %d, want 5000 (single grant)", got)
	}

	var entries int64
	if err := h.conn.Model(&models.CreditLedgerEntry{}).
		Where("account_id = ?", account.ID).Count(&entries).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if entries != 1 {
		t.Fatalf("ledger entries = %d, want 1", entries)
	}

	var emitted int64
	if err := h.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventSubscriptionRefilled).
		Count(&emitted).Error; err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if emitted != 1 {
		t.Fatalf("refilled events = %d, want 1", emitted)
	}
}

func TestRefillAppliesNextCycleOnRepeat(t *testing.T) {
	t.Parallel()
	h := newSubsHarness(t)
	account := h.account(t)
	boundary := time.Now().UTC().Add(-time.Hour)
	subscription := h.create(t, account.ID, 30, 5000, &boundary)
	ctx := context.Background()

	if _, err := h.svc.Refill(ctx, subscription.ID); err != nil {
		t.Fatalf("first refill: %v", err)
	}
	second, err := h.svc.Refill(ctx, subscription.ID)
	if err != nil {
		t.Fatalf("second refill: %v", err)
	}

	if got := h.wallet(t, account.ID); got != 10000 {
		t.Fatalf("wallet = %d, want 10000", got)
	}
	want := boundary.Add(2 * 30 * 24 * time.Hour)
	if !second.Subscription.NextRefillAt.UTC().Equal(want) {
		t.Fatalf("next refill at %s, want %s", second.Subscription.NextRefillAt, want)
	}
}

func TestProcessDueRefillsSweep(t *testing.T) {
	t.Parallel()
	h := newSubsHarness(t)
	accountA := h.account(t)
	accountB := h.account(t)
	accountC := h.account(t)
	ctx := context.Background()

	oldest := time.Now().UTC().Add(-2 * time.Hour)
	older := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	subA := h.create(t, accountA.ID, 30, 1000, &oldest)
	subB := h.create(t, accountB.ID, 30, 2000, &older)
	h.create(t, accountC.ID, 30, 3000, &future)

	dry, err := h.svc.ProcessDueRefills(ctx, ProcessInput{Limit: 10, DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if dry.Due != 2 || len(dry.Pending) != 2 || len(dry.Refilled) != 0 {
		t.Fatalf("dry run = %+v", dry)
	}
	if h.wallet(t, accountA.ID) != 0 {
		t.Fatal("dry run granted credit")
	}

	result, err := h.svc.ProcessDueRefills(ctx, ProcessInput{Limit: 10})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(result.Refilled) != 2 || result.Refilled[0] != subA.ID || result.Refilled[1] != subB.ID {
		t.Fatalf("refilled = %v, want [%s %s]", result.Refilled, subA.ID, subB.ID)
	}
	if h.wallet(t, accountA.ID) != 1000 || h.wallet(t, accountB.ID) != 2000 || h.wallet(t, accountC.ID) != 0 {
		t.Fatalf("wallets = %d %d %d", h.wallet(t, accountA.ID), h.wallet(t, accountB.ID), h.wallet(t, accountC.ID))
	}
}

func TestProcessDueRefillsHonorsLimit(t *testing.T) {
	t.Parallel()
	h := newSubsHarness(t)
	accountA := h.account(t)
	accountB := h.account(t)
	ctx := context.Background()

	oldest := time.Now().UTC().Add(-2 * time.Hour)
	older := time.Now().UTC().Add(-time.Hour)
	subA := h.create(t, accountA.ID, 30, 1000, &oldest)
	h.create(t, accountB.ID, 30, 2000, &older)

	result, err := h.svc.ProcessDueRefills(ctx, ProcessInput{Limit: 1})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(result.Refilled) != 1 || result.Refilled[0] != subA.ID {
		t.Fatalf("refilled = %v, want [%s]", result.Refilled, subA.ID)
	}
	if h.wallet(t, accountB.ID) != 0 {
		t.Fatal("limit exceeded")
	}
}

func TestProcessDueRefillsCatchesUpOneCyclePerSweep(t *testing.T) {
	t.Parallel()
	h := newSubsHarness(t)
	account := h.account(t)
	ctx := context.Background()

	// Three cycles overdue.
	boundary := time.Now().UTC().Add(-70 * 24 * time.Hour)
	h.create(t, account.ID, 30, 1000, &boundary)

	for sweep, want := range []int64{1000, 2000, 3000} {
		result, err := h.svc.ProcessDueRefills(ctx, ProcessInput{Limit: 10})
		if err != nil {
			t.Fatalf("sweep %d: %v", sweep, err)
		}
		if len(result.Refilled) != 1 {
			t.Fatalf("sweep %d refilled = %v", sweep, result.Refilled)
		}
		if got := h.wallet(t, account.ID); got != want {
			t.Fatalf("sweep %d wallet = %d, want %d", sweep, got, want)
		}
	}

	// Caught up: the fourth sweep finds nothing due.
	final, err := h.svc.ProcessDueRefills(ctx, ProcessInput{Limit: 10})
	if err != nil {
		t.Fatalf("final sweep: %v", err)
	}
	if final.Due != 0 {
		t.Fatalf("final sweep = %+v", final)
	}

	var events int64
	if err := h.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventSubscriptionRefilled).
		Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 3 {
		t.Fatalf("refilled events = %d, want 3", events)
	}
}

func TestPauseResumeCancelLifecycle(t *testing.T) {
	t.Parallel()
	h := newSubsHarness(t)
	account := h.account(t)
	boundary := time.Now().UTC().Add(-time.Hour)
	subscription := h.create(t, account.ID, 30, 1000, &boundary)
	ctx := context.Background()

	paused, err := h.svc.Pause(ctx, subscription.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != enums.SubscriptionStatusPaused {
		t.Fatalf("status = %s", paused.Status)
	}
	if _, err := h.svc.Pause(ctx, subscription.ID); err != nil {
		t.Fatalf("pause again: %v", err)
	}

	_, err = h.svc.Refill(ctx, subscription.ID)
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("refill paused err = %v", err)
	}

	sweep, err := h.svc.ProcessDueRefills(ctx, ProcessInput{Limit: 10})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sweep.Due != 0 {
		t.Fatalf("paused subscription swept: %+v", sweep)
	}

	// Missed boundaries are forfeited on resume.
	resumed, err := h.svc.Resume(ctx, subscription.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != enums.SubscriptionStatusActive {
		t.Fatalf("status = %s", resumed.Status)
	}
	if !resumed.NextRefillAt.After(time.Now().UTC()) {
		t.Fatalf("next refill %s not re-anchored", resumed.NextRefillAt)
	}
	if h.wallet(t, account.ID) != 0 {
		t.Fatal("resume granted credit")
	}

	cancelled, err := h.svc.Cancel(ctx, subscription.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.SubscriptionStatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if _, err := h.svc.Cancel(ctx, subscription.ID); err != nil {
		t.Fatalf("cancel again: %v", err)
	}
	_, err = h.svc.Resume(ctx, subscription.ID)
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("resume cancelled err = %v", err)
	}
}

func TestRefillUnknownSubscription(t *testing.T) {
	t.Parallel()
	h := newSubsHarness(t)

	_, err := h.svc.Refill(context.Background(), uuid.New())
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("err = %v", err)
	}
}
