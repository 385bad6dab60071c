package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	dbpkg "github.com/atlasops/atlasops-backend/pkg/db"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/metrics"
	"github.com/atlasops/atlasops-backend/pkg/outbox"
	"github.com/atlasops/atlasops-backend/pkg/pagination"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

const defaultStaleAfter = 48 * time.Hour

// ServiceParams groups dependencies for the credit service.
// Metrics is optional; the counters are nil-safe.
type ServiceParams struct {
	Repo   Repository
	Lock   dbpkg.LockRunner
	Outbox outboxPublisher
	// StaleAfter is the age beyond which an active reservation is treated
	// as abandoned by ReconcileExpired.
	StaleAfter time.Duration
	Metrics    *metrics.BillingMetrics
}

// Service owns the per-account credit balance and the reservation state
// machine. Every mutation runs inside one transaction under the account's
// advisory lock and appends exactly one ledger entry.
type Service struct {
	repo       Repository
	lock       dbpkg.LockRunner
	outbox     outboxPublisher
	staleAfter time.Duration
	metrics    *metrics.BillingMetrics
	now        func() time.Time
}

// NewService builds a credit service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock runner is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Service{
		repo:       params.Repo,
		lock:       params.Lock,
		outbox:     params.Outbox,
		staleAfter: staleAfter,
		metrics:    params.Metrics,
		now:        time.Now,
	}, nil
}

// observeOperation records the outcome and duration of one engine operation.
func (s *Service) observeOperation(op enums.CreditLedgerReason, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.IncCreditOperation(string(op), outcome)
	s.metrics.ObserveOperation(string(op), time.Since(start))
}

// GrantInput adds spendable credit to an account.
type GrantInput struct {
	AccountID      uuid.UUID
	TenantID       uuid.UUID
	Amount         int64
	Reason         enums.CreditLedgerReason
	IdempotencyKey string
	Note           *string
	Actor          *outbox.ActorRef
}

// GrantResult is the applied (or replayed) grant.
type GrantResult struct {
	Entry    *models.CreditLedgerEntry
	Balance  *models.CreditBalance
	Replayed bool
}

// ReserveInput earmarks credit for referenced work.
type ReserveInput struct {
	AccountID        uuid.UUID
	TenantID         uuid.UUID
	Amount           int64
	RefType          string
	RefID            string
	IdempotencyKey   string
	OperatorOverride bool
	Note             *string
	Actor            *outbox.ActorRef
}

// ConsumeInput finalizes a reservation. The reservation is addressed either
// by id or by its (account, refType, refId) reference.
type ConsumeInput struct {
	ReservationID  uuid.UUID
	AccountID      uuid.UUID
	RefType        string
	RefID          string
	TenantID       uuid.UUID
	IdempotencyKey string
	Actor          *outbox.ActorRef
}

// ReleaseInput returns a reservation's credit to the available pool.
type ReleaseInput struct {
	ReservationID  uuid.UUID
	TenantID       uuid.UUID
	IdempotencyKey string
	Actor          *outbox.ActorRef
}

// ReservationResult is the state after a reservation transition.
type ReservationResult struct {
	Reservation *models.CreditReservation
	Entry       *models.CreditLedgerEntry
	Balance     *models.CreditBalance
	Replayed    bool
}

// ReconcileInput bounds one reconcile sweep.
type ReconcileInput struct {
	Limit int
	// OlderThan overrides the configured stale window when positive.
	OlderThan time.Duration
}

// ReconcileResult reports one sweep.
type ReconcileResult struct {
	Scanned int
	Expired []uuid.UUID
}

// LedgerInput filters an account's ledger history.
type LedgerInput struct {
	AccountID uuid.UUID
	TenantID  uuid.UUID
	pagination.Params
}

// LedgerPage is one page of ledger entries plus the cursor for the next.
type LedgerPage struct {
	Items  []models.CreditLedgerEntry
	Cursor string
}

// CreditGrantedEvent is emitted when spendable credit is added.
type CreditGrantedEvent struct {
	EntryID          uuid.UUID                `json:"entry_id"`
	AccountID        uuid.UUID                `json:"account_id"`
	AmountMinorUnits int64                    `json:"amount_minor_units"`
	Reason           enums.CreditLedgerReason `json:"reason"`
	AvailableAfter   int64                    `json:"available_after_minor_units"`
}

// CreditReservedEvent is emitted when a reservation activates.
type CreditReservedEvent struct {
	ReservationID    uuid.UUID `json:"reservation_id"`
	AccountID        uuid.UUID `json:"account_id"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	RefType          string    `json:"ref_type"`
	RefID            string    `json:"ref_id"`
	OperatorOverride bool      `json:"operator_override"`
}

// CreditSettledEvent is emitted on consume, release, and expire.
type CreditSettledEvent struct {
	ReservationID    uuid.UUID               `json:"reservation_id"`
	AccountID        uuid.UUID               `json:"account_id"`
	AmountMinorUnits int64                   `json:"amount_minor_units"`
	Status           enums.ReservationStatus `json:"status"`
}

// EnsureTenantAccount resolves the tenant's own billing account, creating a
// credit-enabled one on first use.
func (s *Service) EnsureTenantAccount(ctx context.Context, tenantID uuid.UUID) (*models.BillingAccount, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}

	account, err := s.repo.FindTenantAccount(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing account")
	}
	if account != nil {
		return account, nil
	}

	err = s.lock.RunLocked(ctx, dbpkg.CreditScope(tenantID.String()), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindTenantAccount(ctx, tenantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing account")
		}
		if existing != nil {
			account = existing
			return nil
		}
		created := &models.BillingAccount{
			TenantID:      tenantID,
			Kind:          enums.BillingAccountKindTenant,
			Policy:        enums.BillingPolicyCredit,
			CreditEnabled: true,
		}
		if err := repo.CreateAccount(ctx, created); err != nil {
			if !dbpkg.IsUniqueViolation(err, "ux_billing_accounts_tenant_self") {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create billing account")
			}
			existing, err = repo.FindTenantAccount(ctx, tenantID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload billing account")
			}
			if existing == nil {
				return pkgerrors.New(pkgerrors.CodeDependency, "billing account vanished after conflict")
			}
			account = existing
			return nil
		}
		account = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Grant appends spendable credit. Replaying the same idempotency key
// returns the prior entry without touching the balance.
func (s *Service) Grant(ctx context.Context, input GrantInput) (*GrantResult, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	reason := input.Reason
	if reason == "" {
		reason = enums.CreditLedgerReasonGrant
	}
	if !reason.IsGrantReason() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("reason %q cannot add credit", reason))
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}

	var result *GrantResult
	start := time.Now()
	err := s.lock.RunLocked(ctx, dbpkg.CreditScope(input.AccountID.String()), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := s.loadAccount(ctx, repo, input.AccountID, input.TenantID)
		if err != nil {
			return err
		}

		prior, err := repo.FindEntryByIdempotency(ctx, account.ID, key)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
		}
		if prior != nil {
			if !prior.Reason.IsGrantReason() {
				return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used by another operation")
			}
			balance, err := s.currentBalance(ctx, repo, account.ID)
			if err != nil {
				return err
			}
			result = &GrantResult{Entry: prior, Balance: balance, Replayed: true}
			return nil
		}

		entry := &models.CreditLedgerEntry{
			AccountID:       account.ID,
			DeltaMinorUnits: input.Amount,
			Reason:          reason,
			IdempotencyKey:  key,
			Note:            input.Note,
		}
		applied, balance, replayed, err := s.applyLedger(ctx, repo, entry, func(b *models.CreditBalance) {
			b.WalletMinorUnits += input.Amount
			b.AvailableMinorUnits += input.Amount
		}, false)
		if err != nil {
			return err
		}
		result = &GrantResult{Entry: applied, Balance: balance, Replayed: replayed}
		if replayed {
			return nil
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditGranted,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   applied.ID,
			Version:       1,
			Actor:         input.Actor,
			Data: CreditGrantedEvent{
				EntryID:          applied.ID,
				AccountID:        account.ID,
				AmountMinorUnits: input.Amount,
				Reason:           reason,
				AvailableAfter:   balance.AvailableMinorUnits,
			},
		})
	})
	s.observeOperation(reason, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reserve earmarks credit for referenced work. At most one active
// reservation may exist per (account, refType, refId): replays with the
// original idempotency key return it, any other key is rejected.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (*ReservationResult, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	refType := strings.TrimSpace(input.RefType)
	refID := strings.TrimSpace(input.RefID)
	if refType == "" || refID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ref type and ref id required")
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}

	var result *ReservationResult
	start := time.Now()
	err := s.lock.RunLocked(ctx, dbpkg.CreditScope(input.AccountID.String()), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := s.loadAccount(ctx, repo, input.AccountID, input.TenantID)
		if err != nil {
			return err
		}
		if !account.CreditEnabled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "credit not enabled for account")
		}

		replay, err := s.replayReservation(ctx, repo, account.ID, key, enums.CreditLedgerReasonReserve)
		if err != nil {
			return err
		}
		if replay != nil {
			result = replay
			return nil
		}

		active, err := repo.FindActiveReservationByRef(ctx, account.ID, refType, refID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
		}
		if active != nil {
			return pkgerrors.New(pkgerrors.CodeDuplicateReservation,
				fmt.Sprintf("active reservation exists for %s/%s", refType, refID))
		}

		balance, err := s.currentBalance(ctx, repo, account.ID)
		if err != nil {
			return err
		}
		if !input.OperatorOverride && balance.AvailableMinorUnits < input.Amount {
			return pkgerrors.New(pkgerrors.CodeInsufficientCredit,
				fmt.Sprintf("available %d below requested %d", balance.AvailableMinorUnits, input.Amount))
		}

		reservation := &models.CreditReservation{
			AccountID:        account.ID,
			AmountMinorUnits: input.Amount,
			RefType:          refType,
			RefID:            refID,
			Status:           enums.ReservationStatusActive,
			IdempotencyKey:   key,
			OperatorOverride: input.OperatorOverride,
		}
		if err := repo.CreateReservation(ctx, reservation); err != nil {
			return s.recoverReservationConflict(ctx, repo, account.ID, refType, refID, key, err, &result)
		}

		entry := &models.CreditLedgerEntry{
			AccountID:        account.ID,
			DeltaMinorUnits:  -input.Amount,
			Reason:           enums.CreditLedgerReasonReserve,
			ReservationID:    &reservation.ID,
			IdempotencyKey:   key,
			OperatorOverride: input.OperatorOverride,
			Note:             input.Note,
		}
		applied, folded, replayed, err := s.applyLedger(ctx, repo, entry, func(b *models.CreditBalance) {
			b.ReservedMinorUnits += input.Amount
			b.AvailableMinorUnits -= input.Amount
		}, input.OperatorOverride)
		if err != nil {
			return err
		}
		result = &ReservationResult{Reservation: reservation, Entry: applied, Balance: folded, Replayed: replayed}
		if replayed {
			return nil
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditReserved,
			AggregateType: enums.AggregateReservation,
			AggregateID:   reservation.ID,
			Version:       1,
			Actor:         input.Actor,
			Data: CreditReservedEvent{
				ReservationID:    reservation.ID,
				AccountID:        account.ID,
				AmountMinorUnits: input.Amount,
				RefType:          refType,
				RefID:            refID,
				OperatorOverride: input.OperatorOverride,
			},
		})
	})
	s.observeOperation(enums.CreditLedgerReasonReserve, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Consume finalizes an active reservation: the earmarked credit is
// permanently spent and leaves the wallet.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (*ReservationResult, error) {
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	byRef := input.ReservationID == uuid.Nil
	if byRef && (input.AccountID == uuid.Nil || strings.TrimSpace(input.RefType) == "" || strings.TrimSpace(input.RefID) == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id or account reference required")
	}

	accountID := input.AccountID
	if !byRef {
		stale, err := s.repo.FindReservationByID(ctx, input.ReservationID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
		}
		if stale == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		accountID = stale.AccountID
	}

	return s.closeReservation(ctx, closeRequest{
		accountID:      accountID,
		tenantID:       input.TenantID,
		reservationID:  input.ReservationID,
		refType:        strings.TrimSpace(input.RefType),
		refID:          strings.TrimSpace(input.RefID),
		idempotencyKey: key,
		actor:          input.Actor,
		to:             enums.ReservationStatusConsumed,
		reason:         enums.CreditLedgerReasonConsume,
		eventType:      enums.EventCreditConsumed,
	})
}

// Release returns an active reservation's credit to the available pool.
func (s *Service) Release(ctx context.Context, input ReleaseInput) (*ReservationResult, error) {
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	if input.ReservationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id required")
	}

	stale, err := s.repo.FindReservationByID(ctx, input.ReservationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	if stale == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
	}

	return s.closeReservation(ctx, closeRequest{
		accountID:      stale.AccountID,
		tenantID:       input.TenantID,
		reservationID:  input.ReservationID,
		idempotencyKey: key,
		actor:          input.Actor,
		to:             enums.ReservationStatusReleased,
		reason:         enums.CreditLedgerReasonRelease,
		eventType:      enums.EventCreditReleased,
	})
}

// ReconcileExpired sweeps active reservations older than the stale window
// and closes them as expired with release balance semantics. The sweep is
// cancellable between reservations; each close is atomic.
func (s *Service) ReconcileExpired(ctx context.Context, input ReconcileInput) (*ReconcileResult, error) {
	window := s.staleAfter
	if input.OlderThan > 0 {
		window = input.OlderThan
	}
	cutoff := s.now().UTC().Add(-window)

	stale, err := s.repo.ListStaleActiveReservations(ctx, cutoff, input.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale reservations")
	}

	result := &ReconcileResult{Scanned: len(stale)}
	var errs error
	for _, reservation := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		expired, err := s.expireReservation(ctx, reservation)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reservation %s: %w", reservation.ID, err))
			continue
		}
		if expired {
			result.Expired = append(result.Expired, reservation.ID)
		}
	}
	return result, errs
}

// GetBalance returns the account's current balance, zero-valued when the
// account has never transacted.
func (s *Service) GetBalance(ctx context.Context, tenantID, accountID uuid.UUID) (*models.CreditBalance, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	account, err := s.loadAccount(ctx, s.repo, accountID, tenantID)
	if err != nil {
		return nil, err
	}
	return s.currentBalance(ctx, s.repo, account.ID)
}

// ListLedger returns a page of the account's ledger history, newest first.
func (s *Service) ListLedger(ctx context.Context, input LedgerInput) (*LedgerPage, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if _, err := s.loadAccount(ctx, s.repo, input.AccountID, input.TenantID); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, next, err := s.repo.ListEntries(ctx, LedgerQuery{
		AccountID: input.AccountID,
		Limit:     input.Limit,
		Cursor:    cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}

	page := &LedgerPage{Items: rows}
	if next != nil {
		page.Cursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

type closeRequest struct {
	accountID      uuid.UUID
	tenantID       uuid.UUID
	reservationID  uuid.UUID
	refType        string
	refID          string
	idempotencyKey string
	actor          *outbox.ActorRef
	to             enums.ReservationStatus
	reason         enums.CreditLedgerReason
	eventType      enums.OutboxEventType
}

func (s *Service) closeReservation(ctx context.Context, req closeRequest) (*ReservationResult, error) {
	var result *ReservationResult
	start := time.Now()
	err := s.lock.RunLocked(ctx, dbpkg.CreditScope(req.accountID.String()), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.loadAccount(ctx, repo, req.accountID, req.tenantID); err != nil {
			return err
		}

		replay, err := s.replayReservation(ctx, repo, req.accountID, req.idempotencyKey, req.reason)
		if err != nil {
			return err
		}
		if replay != nil {
			result = replay
			return nil
		}

		reservation, err := s.resolveReservation(ctx, repo, req)
		if err != nil {
			return err
		}
		if reservation.Status != enums.ReservationStatusActive {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("reservation already %s", reservation.Status))
		}

		now := s.now().UTC()
		flipped, err := repo.CloseReservation(ctx, reservation.ID, req.to, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close reservation")
		}
		if !flipped {
			fresh, err := repo.FindReservationByID(ctx, reservation.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload reservation")
			}
			status := enums.ReservationStatus("unknown")
			if fresh != nil {
				status = fresh.Status
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("reservation already %s", status))
		}
		reservation.Status = req.to
		reservation.ClosedAt = &now

		amount := reservation.AmountMinorUnits
		entry := &models.CreditLedgerEntry{
			AccountID:        req.accountID,
			Reason:           req.reason,
			ReservationID:    &reservation.ID,
			IdempotencyKey:   req.idempotencyKey,
			OperatorOverride: reservation.OperatorOverride,
		}
		fold := func(b *models.CreditBalance) {
			b.WalletMinorUnits -= amount
			b.ReservedMinorUnits -= amount
		}
		if req.to != enums.ReservationStatusConsumed {
			entry.DeltaMinorUnits = amount
			fold = func(b *models.CreditBalance) {
				b.ReservedMinorUnits -= amount
				b.AvailableMinorUnits += amount
			}
		}

		applied, balance, replayed, err := s.applyLedger(ctx, repo, entry, fold, reservation.OperatorOverride)
		if err != nil {
			return err
		}
		result = &ReservationResult{Reservation: reservation, Entry: applied, Balance: balance, Replayed: replayed}
		if replayed {
			return nil
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     req.eventType,
			AggregateType: enums.AggregateReservation,
			AggregateID:   reservation.ID,
			Version:       1,
			Actor:         req.actor,
			Data: CreditSettledEvent{
				ReservationID:    reservation.ID,
				AccountID:        req.accountID,
				AmountMinorUnits: amount,
				Status:           req.to,
			},
		})
	})
	s.observeOperation(req.reason, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) resolveReservation(ctx context.Context, repo Repository, req closeRequest) (*models.CreditReservation, error) {
	if req.reservationID != uuid.Nil {
		reservation, err := repo.FindReservationByID(ctx, req.reservationID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
		}
		if reservation == nil || reservation.AccountID != req.accountID {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		return reservation, nil
	}

	reservation, err := repo.FindActiveReservationByRef(ctx, req.accountID, req.refType, req.refID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	if reservation == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
	}
	return reservation, nil
}

// expireReservation closes one stale reservation under its account lock.
// Reservations that moved since the sweep's read are skipped.
func (s *Service) expireReservation(ctx context.Context, stale models.CreditReservation) (bool, error) {
	expired := false
	start := time.Now()
	err := s.lock.RunLocked(ctx, dbpkg.CreditScope(stale.AccountID.String()), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		reservation, err := repo.FindReservationByID(ctx, stale.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
		}
		if reservation == nil || reservation.Status != enums.ReservationStatusActive {
			return nil
		}

		now := s.now().UTC()
		flipped, err := repo.CloseReservation(ctx, reservation.ID, enums.ReservationStatusExpired, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close reservation")
		}
		if !flipped {
			return nil
		}

		amount := reservation.AmountMinorUnits
		entry := &models.CreditLedgerEntry{
			AccountID:        reservation.AccountID,
			DeltaMinorUnits:  amount,
			Reason:           enums.CreditLedgerReasonExpire,
			ReservationID:    &reservation.ID,
			IdempotencyKey:   "expire-" + reservation.ID.String(),
			OperatorOverride: reservation.OperatorOverride,
		}
		_, _, replayed, err := s.applyLedger(ctx, repo, entry, func(b *models.CreditBalance) {
			b.ReservedMinorUnits -= amount
			b.AvailableMinorUnits += amount
		}, reservation.OperatorOverride)
		if err != nil {
			return err
		}
		expired = true
		if replayed {
			return nil
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditReservationExpired,
			AggregateType: enums.AggregateReservation,
			AggregateID:   reservation.ID,
			Version:       1,
			Data: CreditSettledEvent{
				ReservationID:    reservation.ID,
				AccountID:        reservation.AccountID,
				AmountMinorUnits: amount,
				Status:           enums.ReservationStatusExpired,
			},
		})
	})
	s.observeOperation(enums.CreditLedgerReasonExpire, start, err)
	return expired, err
}

// replayReservation resolves an idempotent replay for reservation
// operations. A key reused across operation kinds is rejected.
func (s *Service) replayReservation(ctx context.Context, repo Repository, accountID uuid.UUID, key string, reason enums.CreditLedgerReason) (*ReservationResult, error) {
	prior, err := repo.FindEntryByIdempotency(ctx, accountID, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	if prior == nil {
		return nil, nil
	}
	if prior.Reason != reason {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used by another operation")
	}
	if prior.ReservationID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger entry missing reservation reference")
	}
	reservation, err := repo.FindReservationByID(ctx, *prior.ReservationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	balance, err := s.currentBalance(ctx, repo, accountID)
	if err != nil {
		return nil, err
	}
	return &ReservationResult{Reservation: reservation, Entry: prior, Balance: balance, Replayed: true}, nil
}

// recoverReservationConflict absorbs a racing writer's uniqueness violation
// on reservation insert: the original reservation replays when the key
// matches, anything else is a duplicate.
func (s *Service) recoverReservationConflict(ctx context.Context, repo Repository, accountID uuid.UUID, refType, refID, key string, cause error, result **ReservationResult) error {
	if !dbpkg.IsUniqueViolation(cause, "ux_credit_reservations_active_ref") &&
		!dbpkg.IsUniqueViolation(cause, "ux_credit_reservations_account_idem") {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "create reservation")
	}

	active, err := repo.FindActiveReservationByRef(ctx, accountID, refType, refID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload reservation")
	}
	if active != nil && active.IdempotencyKey != key {
		return pkgerrors.New(pkgerrors.CodeDuplicateReservation,
			fmt.Sprintf("active reservation exists for %s/%s", refType, refID))
	}

	replay, err := s.replayReservation(ctx, repo, accountID, key, enums.CreditLedgerReasonReserve)
	if err != nil {
		return err
	}
	if replay == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "reservation vanished after conflict")
	}
	*result = replay
	return nil
}

// applyLedger appends entry and folds its effect into the account balance.
// The entry insert happens before the balance write: a replayed idempotency
// key surfaces as a uniqueness violation first, so replays leave the balance
// untouched.
func (s *Service) applyLedger(ctx context.Context, repo Repository, entry *models.CreditLedgerEntry, fold func(b *models.CreditBalance), allowNegative bool) (*models.CreditLedgerEntry, *models.CreditBalance, bool, error) {
	balance, err := repo.FindBalance(ctx, entry.AccountID)
	if err != nil {
		return nil, nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance")
	}
	firstEntry := balance == nil
	if firstEntry {
		balance = &models.CreditBalance{AccountID: entry.AccountID}
	}

	next := *balance
	fold(&next)
	if err := checkBalance(&next, allowNegative); err != nil {
		return nil, nil, false, err
	}

	entry.WalletAfterMinorUnits = next.WalletMinorUnits
	entry.ReservedAfterMinorUnits = next.ReservedMinorUnits
	entry.AvailableAfterMinorUnits = next.AvailableMinorUnits

	if err := repo.CreateEntry(ctx, entry); err != nil {
		if !dbpkg.IsUniqueViolation(err, "ux_credit_ledger_account_idem") {
			return nil, nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ledger entry")
		}
		prior, lookupErr := repo.FindEntryByIdempotency(ctx, entry.AccountID, entry.IdempotencyKey)
		if lookupErr != nil {
			return nil, nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, lookupErr, "reload ledger entry")
		}
		if prior == nil {
			return nil, nil, false, pkgerrors.New(pkgerrors.CodeDependency, "ledger entry vanished after conflict")
		}
		return prior, balance, true, nil
	}

	if firstEntry {
		if err := repo.CreateBalance(ctx, &next); err != nil {
			return nil, nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create balance")
		}
	} else if err := repo.UpdateBalance(ctx, &next); err != nil {
		return nil, nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balance")
	}
	return entry, &next, false, nil
}

func (s *Service) loadAccount(ctx context.Context, repo Repository, accountID, tenantID uuid.UUID) (*models.BillingAccount, error) {
	account, err := repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing account")
	}
	if account == nil || (tenantID != uuid.Nil && account.TenantID != tenantID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing account not found")
	}
	return account, nil
}

func (s *Service) currentBalance(ctx context.Context, repo Repository, accountID uuid.UUID) (*models.CreditBalance, error) {
	balance, err := repo.FindBalance(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance")
	}
	if balance == nil {
		balance = &models.CreditBalance{AccountID: accountID}
	}
	return balance, nil
}

// checkBalance verifies the ledger identity after a fold. Operator
// overrides may legitimately drive available (and transitively wallet)
// negative; the identity itself must always hold.
func checkBalance(b *models.CreditBalance, allowNegative bool) error {
	if b.AvailableMinorUnits != b.WalletMinorUnits-b.ReservedMinorUnits {
		return pkgerrors.New(pkgerrors.CodeInvariantViolation,
			fmt.Sprintf("credit balance identity broken for account %s", b.AccountID))
	}
	if allowNegative {
		return nil
	}
	if b.WalletMinorUnits < 0 || b.ReservedMinorUnits < 0 || b.AvailableMinorUnits < 0 {
		return pkgerrors.New(pkgerrors.CodeInvariantViolation,
			fmt.Sprintf("negative credit balance for account %s", b.AccountID))
	}
	return nil
}
