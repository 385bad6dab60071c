package credit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/atlasops/atlasops-backend/pkg/db"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/outbox"
	"github.com/atlasops/atlasops-backend/pkg/pagination"
)

type creditHarness struct {
	svc  *Service
	conn *gorm.DB
}

func newCreditHarness(t *testing.T) *creditHarness {
	t.Helper()

	dsn := "file:credit_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.BillingAccount{},
		&models.CreditBalance{},
		&models.CreditLedgerEntry{},
		&models.CreditReservation{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := dbpkg.NewClientWithConn(conn)
	lock, err := dbpkg.NewKeyedMutexRunner(client)
	if err != nil {
		t.Fatalf("lock runner: %v", err)
	}

	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Lock:   lock,
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
	})
	if err != nil {
		t.Fatalf("credit service: %v", err)
	}
	return &creditHarness{svc: svc, conn: conn}
}

func (h *creditHarness) tenantAccount(t *testing.T) *models.BillingAccount {
	t.Helper()
	account, err := h.svc.EnsureTenantAccount(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	return account
}

func (h *creditHarness) grant(t *testing.T, accountID uuid.UUID, amount int64, key string) *GrantResult {
	t.Helper()
	res, err := h.svc.Grant(context.Background(), GrantInput{
		AccountID:      accountID,
		Amount:         amount,
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	return res
}

func (h *creditHarness) reserve(t *testing.T, input ReserveInput) *ReservationResult {
	t.Helper()
	res, err := h.svc.Reserve(context.Background(), input)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return res
}

func (h *creditHarness) assertBalance(t *testing.T, accountID uuid.UUID, wallet, reserved, available int64) {
	t.Helper()
	var balance models.CreditBalance
	if err := h.conn.Where("account_id = ?", accountID).First(&balance).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.WalletMinorUnits != wallet || balance.ReservedMinorUnits != reserved || balance.AvailableMinorUnits != available {
		t.Fatalf("balance = {%d %d %d}, want {%d %d %d}",
			balance.WalletMinorUnits, balance.ReservedMinorUnits, balance.AvailableMinorUnits,
			wallet, reserved, available)
	}
	if balance.AvailableMinorUnits != balance.WalletMinorUnits-balance.ReservedMinorUnits {
		t.Fatalf("balance identity broken: %d != %d - %d",
			balance.AvailableMinorUnits, balance.WalletMinorUnits, balance.ReservedMinorUnits)
	}
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	appErr := pkgerrors.As(err)
	if appErr == nil {
		t.Fatalf("expected app error, got %v", err)
	}
	if appErr.Code() != code {
		t.Fatalf("code = %s, want %s (err: %v)", appErr.Code(), code, err)
	}
}

func TestGrantAddsSpendableCredit(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)

	res := h.grant(t, account.ID, 1000, "grant-1")
	if res.Replayed {
		t.Fatal("fresh grant reported as replay")
	}
	if res.Entry.DeltaMinorUnits != 1000 || res.Entry.Reason != enums.CreditLedgerReasonGrant {
		t.Fatalf("entry = %+v", res.Entry)
	}
	if res.Entry.WalletAfterMinorUnits != 1000 || res.Entry.ReservedAfterMinorUnits != 0 || res.Entry.AvailableAfterMinorUnits != 1000 {
		t.Fatalf("entry snapshots = {%d %d %d}", res.Entry.WalletAfterMinorUnits, res.Entry.ReservedAfterMinorUnits, res.Entry.AvailableAfterMinorUnits)
	}
	h.assertBalance(t, account.ID, 1000, 0, 1000)

	var events int64
	if err := h.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventCreditGranted, res.Entry.ID).
		Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("granted events = %d, want 1", events)
	}
}

func TestGrantReplaySameKey(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)

	first := h.grant(t, account.ID, 1000, "grant-1")
	second := h.grant(t, account.ID, 1000, "grant-1")

	if !second.Replayed {
		t.Fatal("replay not detected")
	}
	if second.Entry.ID != first.Entry.ID {
		t.Fatalf("replay entry %s, want %s", second.Entry.ID, first.Entry.ID)
	}
	h.assertBalance(t, account.ID, 1000, 0, 1000)

	var entries int64
	if err := h.conn.Model(&models.CreditLedgerEntry{}).Where("account_id = ?", account.ID).Count(&entries).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if entries != 1 {
		t.Fatalf("ledger entries = %d, want 1", entries)
	}
}

func TestGrantValidation(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	ctx := context.Background()

	_, err := h.svc.Grant(ctx, GrantInput{AccountID: account.ID, Amount: 0, IdempotencyKey: "k"})
	assertCode(t, err, pkgerrors.CodeValidation)

	_, err = h.svc.Grant(ctx, GrantInput{AccountID: account.ID, Amount: 100})
	assertCode(t, err, pkgerrors.CodeValidation)

	_, err = h.svc.Grant(ctx, GrantInput{
		AccountID:      account.ID,
		Amount:         100,
		Reason:         enums.CreditLedgerReasonReserve,
		IdempotencyKey: "k",
	})
	assertCode(t, err, pkgerrors.CodeValidation)

	_, err = h.svc.Grant(ctx, GrantInput{AccountID: uuid.New(), Amount: 100, IdempotencyKey: "k"})
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestReserveHoldsCredit(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "grant-1")

	res := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})
	if res.Reservation.Status != enums.ReservationStatusActive {
		t.Fatalf("status = %s", res.Reservation.Status)
	}
	if res.Entry.DeltaMinorUnits != -400 || res.Entry.Reason != enums.CreditLedgerReasonReserve {
		t.Fatalf("entry = %+v", res.Entry)
	}
	h.assertBalance(t, account.ID, 1000, 400, 600)
}

func TestConsumeSpendsReservation(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "grant-1")
	reserved := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})

	res, err := h.svc.Consume(context.Background(), ConsumeInput{
		ReservationID:  reserved.Reservation.ID,
		IdempotencyKey: "consume-1",
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Reservation.Status != enums.ReservationStatusConsumed {
		t.Fatalf("status = %s", res.Reservation.Status)
	}
	if res.Reservation.ClosedAt == nil {
		t.Fatal("closed at not set")
	}
	if res.Entry.DeltaMinorUnits != 0 || res.Entry.Reason != enums.CreditLedgerReasonConsume {
		t.Fatalf("entry = %+v", res.Entry)
	}
	h.assertBalance(t, account.ID, 600, 0, 600)
}

func TestReleaseReturnsCredit(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "grant-1")
	reserved := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})

	res, err := h.svc.Release(context.Background(), ReleaseInput{
		ReservationID:  reserved.Reservation.ID,
		IdempotencyKey: "release-1",
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.Reservation.Status != enums.ReservationStatusReleased {
		t.Fatalf("status = %s", res.Reservation.Status)
	}
	if res.Entry.DeltaMinorUnits != 400 || res.Entry.Reason != enums.CreditLedgerReasonRelease {
		t.Fatalf("entry = %+v", res.Entry)
	}
	h.assertBalance(t, account.ID, 1000, 0, 1000)
}

func TestReserveInsufficientCredit(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 300, "grant-1")

	_, err := h.svc.Reserve(context.Background(), ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})
	assertCode(t, err, pkgerrors.CodeInsufficientCredit)

	h.assertBalance(t, account.ID, 300, 0, 300)
	var reservations int64
	if err := h.conn.Model(&models.CreditReservation{}).Where("account_id = ?", account.ID).Count(&reservations).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if reservations != 0 {
		t.Fatalf("reservations = %d, want 0", reservations)
	}
}

func TestReserveOperatorOverride(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 300, "grant-1")

	res := h.reserve(t, ReserveInput{
		AccountID:        account.ID,
		Amount:           500,
		RefType:          "work_order",
		RefID:            "wo-1",
		IdempotencyKey:   "reserve-1",
		OperatorOverride: true,
	})
	if !res.Reservation.OperatorOverride || !res.Entry.OperatorOverride {
		t.Fatal("override not recorded")
	}
	h.assertBalance(t, account.ID, 300, 500, -200)

	consumed, err := h.svc.Consume(context.Background(), ConsumeInput{
		ReservationID:  res.Reservation.ID,
		IdempotencyKey: "consume-1",
	})
	if err != nil {
		t.Fatalf("consume override reservation: %v", err)
	}
	if consumed.Balance.WalletMinorUnits != -200 {
		t.Fatalf("wallet = %d, want -200", consumed.Balance.WalletMinorUnits)
	}
	h.assertBalance(t, account.ID, -200, 0, -200)
}

func TestReserveIdempotentReplay(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "grant-1")

	first := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})
	replay := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})
	if !replay.Replayed {
		t.Fatal("replay not detected")
	}
	if replay.Reservation.ID != first.Reservation.ID {
		t.Fatalf("replay reservation %s, want %s", replay.Reservation.ID, first.Reservation.ID)
	}
	h.assertBalance(t, account.ID, 1000, 400, 600)

	_, err := h.svc.Reserve(context.Background(), ReserveInput{
		AccountID:      account.ID,
		Amount:         100,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-2",
	})
	assertCode(t, err, pkgerrors.CodeDuplicateReservation)
}

func TestReserveAfterSettleAllowsNewReservation(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "grant-1")

	first := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})
	if _, err := h.svc.Consume(context.Background(), ConsumeInput{
		ReservationID:  first.Reservation.ID,
		IdempotencyKey: "consume-1",
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}

	second := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         200,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-2",
	})
	if second.Reservation.ID == first.Reservation.ID {
		t.Fatal("expected a fresh reservation")
	}
	h.assertBalance(t, account.ID, 600, 200, 400)
}

func TestConsumeByReference(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "grant-1")
	h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})

	res, err := h.svc.Consume(context.Background(), ConsumeInput{
		AccountID:      account.ID,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "consume-1",
	})
	if err != nil {
		t.Fatalf("consume by ref: %v", err)
	}
	if res.Reservation.Status != enums.ReservationStatusConsumed {
		t.Fatalf("status = %s", res.Reservation.Status)
	}
	h.assertBalance(t, account.ID, 600, 0, 600)
}

func TestConsumeReplayAndTerminalConflict(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "grant-1")
	reserved := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})
	ctx := context.Background()

	first, err := h.svc.Consume(ctx, ConsumeInput{
		ReservationID:  reserved.Reservation.ID,
		IdempotencyKey: "consume-1",
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	replay, err := h.svc.Consume(ctx, ConsumeInput{
		ReservationID:  reserved.Reservation.ID,
		IdempotencyKey: "consume-1",
	})
	if err != nil {
		t.Fatalf("consume replay: %v", err)
	}
	if !replay.Replayed || replay.Entry.ID != first.Entry.ID {
		t.Fatalf("replay = %+v", replay)
	}
	h.assertBalance(t, account.ID, 600, 0, 600)

	_, err = h.svc.Release(ctx, ReleaseInput{
		ReservationID:  reserved.Reservation.ID,
		IdempotencyKey: "release-1",
	})
	assertCode(t, err, pkgerrors.CodeStateConflict)
}

func TestConsumeUnknownReservation(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)

	_, err := h.svc.Consume(context.Background(), ConsumeInput{
		ReservationID:  uuid.New(),
		IdempotencyKey: "consume-1",
	})
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestReserveRequiresCreditEnabled(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)

	account := &models.BillingAccount{
		TenantID:      uuid.New(),
		Kind:          enums.BillingAccountKindAssociate,
		Policy:        enums.BillingPolicyPostpaid,
		CreditEnabled: false,
	}
	if err := h.conn.Create(account).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}

	_, err := h.svc.Reserve(context.Background(), ReserveInput{
		AccountID:      account.ID,
		Amount:         100,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})
	assertCode(t, err, pkgerrors.CodeStateConflict)
}

func TestKeyReuseAcrossOperations(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "shared-key")

	_, err := h.svc.Reserve(context.Background(), ReserveInput{
		AccountID:      account.ID,
		Amount:         100,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "shared-key",
	})
	assertCode(t, err, pkgerrors.CodeIdempotency)
}

func TestReconcileExpiredSweepsStale(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "grant-1")

	stale := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-stale",
		IdempotencyKey: "reserve-stale",
	})
	fresh := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         100,
		RefType:        "work_order",
		RefID:          "wo-fresh",
		IdempotencyKey: "reserve-fresh",
	})

	aged := time.Now().UTC().Add(-72 * time.Hour)
	if err := h.conn.Model(&models.CreditReservation{}).
		Where("id = ?", stale.Reservation.ID).
		Update("created_at", aged).Error; err != nil {
		t.Fatalf("age reservation: %v", err)
	}

	result, err := h.svc.ReconcileExpired(context.Background(), ReconcileInput{Limit: 10})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Scanned != 1 || len(result.Expired) != 1 || result.Expired[0] != stale.Reservation.ID {
		t.Fatalf("result = %+v", result)
	}

	var closed models.CreditReservation
	if err := h.conn.First(&closed, "id = ?", stale.Reservation.ID).Error; err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if closed.Status != enums.ReservationStatusExpired || closed.ClosedAt == nil {
		t.Fatalf("reservation = %+v", closed)
	}

	var open models.CreditReservation
	if err := h.conn.First(&open, "id = ?", fresh.Reservation.ID).Error; err != nil {
		t.Fatalf("load fresh reservation: %v", err)
	}
	if open.Status != enums.ReservationStatusActive {
		t.Fatalf("fresh reservation = %s", open.Status)
	}

	// 400 returned to the pool, the fresh hold stays.
	h.assertBalance(t, account.ID, 1000, 100, 900)

	var entry models.CreditLedgerEntry
	if err := h.conn.Where("account_id = ? AND reason = ?", account.ID, enums.CreditLedgerReasonExpire).
		First(&entry).Error; err != nil {
		t.Fatalf("load expire entry: %v", err)
	}
	if entry.DeltaMinorUnits != 400 {
		t.Fatalf("expire delta = %d, want 400", entry.DeltaMinorUnits)
	}

	again, err := h.svc.ReconcileExpired(context.Background(), ReconcileInput{Limit: 10})
	if err != nil {
		t.Fatalf("reconcile again: %v", err)
	}
	if again.Scanned != 0 || len(again.Expired) != 0 {
		t.Fatalf("second sweep = %+v", again)
	}
}

func TestReconcileHonorsLimitAndWindow(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "grant-1")

	ids := make([]uuid.UUID, 0, 3)
	for i, ref := range []string{"wo-1", "wo-2", "wo-3"} {
		res := h.reserve(t, ReserveInput{
			AccountID:      account.ID,
			Amount:         100,
			RefType:        "work_order",
			RefID:          ref,
			IdempotencyKey: "reserve-" + ref,
		})
		aged := time.Now().UTC().Add(-time.Duration(72+i) * time.Hour)
		if err := h.conn.Model(&models.CreditReservation{}).
			Where("id = ?", res.Reservation.ID).
			Update("created_at", aged).Error; err != nil {
			t.Fatalf("age reservation: %v", err)
		}
		ids = append(ids, res.Reservation.ID)
	}

	// Oldest first, capped at two.
	result, err := h.svc.ReconcileExpired(context.Background(), ReconcileInput{Limit: 2})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(result.Expired) != 2 {
		t.Fatalf("expired = %v", result.Expired)
	}
	if result.Expired[0] != ids[2] || result.Expired[1] != ids[1] {
		t.Fatalf("expired order = %v, want [%s %s]", result.Expired, ids[2], ids[1])
	}

	// Narrow window skips everything.
	none, err := h.svc.ReconcileExpired(context.Background(), ReconcileInput{Limit: 10, OlderThan: 30 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("reconcile narrow: %v", err)
	}
	if none.Scanned != 0 {
		t.Fatalf("narrow sweep = %+v", none)
	}
}

func TestGetBalanceZeroForNewAccount(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)

	balance, err := h.svc.GetBalance(context.Background(), uuid.Nil, account.ID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.WalletMinorUnits != 0 || balance.ReservedMinorUnits != 0 || balance.AvailableMinorUnits != 0 {
		t.Fatalf("balance = %+v", balance)
	}

	_, err = h.svc.GetBalance(context.Background(), uuid.Nil, uuid.New())
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestGetBalanceScopesToTenant(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)

	if _, err := h.svc.GetBalance(context.Background(), account.TenantID, account.ID); err != nil {
		t.Fatalf("get balance: %v", err)
	}
	_, err := h.svc.GetBalance(context.Background(), uuid.New(), account.ID)
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestEnsureTenantAccountIdempotent(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	tenantID := uuid.New()
	ctx := context.Background()

	first, err := h.svc.EnsureTenantAccount(ctx, tenantID)
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if first.Kind != enums.BillingAccountKindTenant || !first.CreditEnabled {
		t.Fatalf("account = %+v", first)
	}

	second, err := h.svc.EnsureTenantAccount(ctx, tenantID)
	if err != nil {
		t.Fatalf("ensure account again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("account %s, want %s", second.ID, first.ID)
	}
}

func TestListLedgerPaginatesNewestFirst(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	ctx := context.Background()

	h.grant(t, account.ID, 1000, "grant-1")
	reserved := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})
	if _, err := h.svc.Consume(ctx, ConsumeInput{
		ReservationID:  reserved.Reservation.ID,
		IdempotencyKey: "consume-1",
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}

	page, err := h.svc.ListLedger(ctx, LedgerInput{
		AccountID: account.ID,
		Params:    pagination.Params{Limit: 2},
	})
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(page.Items))
	}
	if page.Cursor == "" {
		t.Fatal("expected a cursor for the next page")
	}

	rest, err := h.svc.ListLedger(ctx, LedgerInput{
		AccountID: account.ID,
		Params:    pagination.Params{Limit: 2, Cursor: page.Cursor},
	})
	if err != nil {
		t.Fatalf("list ledger rest: %v", err)
	}
	if len(rest.Items) != 1 {
		t.Fatalf("rest items = %d, want 1", len(rest.Items))
	}
	if rest.Cursor != "" {
		t.Fatalf("unexpected cursor %q", rest.Cursor)
	}

	seen := map[uuid.UUID]bool{}
	for _, entry := range append(page.Items, rest.Items...) {
		if seen[entry.ID] {
			t.Fatalf("entry %s duplicated across pages", entry.ID)
		}
		seen[entry.ID] = true
		if entry.AvailableAfterMinorUnits != entry.WalletAfterMinorUnits-entry.ReservedAfterMinorUnits {
			t.Fatalf("entry %s snapshot identity broken", entry.ID)
		}
	}

	_, err = h.svc.ListLedger(ctx, LedgerInput{
		AccountID: account.ID,
		Params:    pagination.Params{Cursor: "not-a-cursor"},
	})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestReservationLifecycleEmitsEvents(t *testing.T) {
	t.Parallel()
	h := newCreditHarness(t)
	account := h.tenantAccount(t)
	h.grant(t, account.ID, 1000, "grant-1")
	reserved := h.reserve(t, ReserveInput{
		AccountID:      account.ID,
		Amount:         400,
		RefType:        "work_order",
		RefID:          "wo-1",
		IdempotencyKey: "reserve-1",
	})
	if _, err := h.svc.Consume(context.Background(), ConsumeInput{
		ReservationID:  reserved.Reservation.ID,
		IdempotencyKey: "consume-1",
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}

	for _, eventType := range []enums.OutboxEventType{enums.EventCreditReserved, enums.EventCreditConsumed} {
		var count int64
		if err := h.conn.Model(&models.OutboxEvent{}).
			Where("event_type = ? AND aggregate_id = ?", eventType, reserved.Reservation.ID).
			Count(&count).Error; err != nil {
			t.Fatalf("count %s: %v", eventType, err)
		}
		if count != 1 {
			t.Fatalf("%s events = %d, want 1", eventType, count)
		}
	}
}
