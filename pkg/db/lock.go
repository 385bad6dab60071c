package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"gorm.io/gorm"
)

// LockRunner runs fn inside a transaction serialized on scopeKey. Billing
// writers use "billing:{tenantID}" scopes and credit writers
// "credit:{accountID}" scopes so concurrent mutations for the same owner
// never interleave.
type LockRunner interface {
	RunLocked(ctx context.Context, scopeKey string, fn func(tx *gorm.DB) error) error
}

// TxRunner is the transaction surface LockRunner implementations build on.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PGLockRunner takes a Postgres transaction-scoped advisory lock on the
// hashed scope key. The lock releases with the transaction; a bounded wait
// keeps callers from blocking indefinitely.
type PGLockRunner struct {
	tx          TxRunner
	waitTimeout time.Duration
}

const defaultLockWait = 5 * time.Second

// NewPGLockRunner builds a runner over the shared client.
func NewPGLockRunner(tx TxRunner, waitTimeout time.Duration) (*PGLockRunner, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if waitTimeout <= 0 {
		waitTimeout = defaultLockWait
	}
	return &PGLockRunner{tx: tx, waitTimeout: waitTimeout}, nil
}

// RunLocked opens a transaction, acquires the advisory lock, then runs fn.
// The lock is acquired before fn issues any reads so ordinal counts and
// balance reads observe a quiesced scope.
func (r *PGLockRunner) RunLocked(ctx context.Context, scopeKey string, fn func(tx *gorm.DB) error) error {
	if scopeKey == "" {
		return fmt.Errorf("scope key is required")
	}
	return r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.waitTimeout.Milliseconds())
		if err := tx.Exec(timeout).Error; err != nil {
			return fmt.Errorf("setting lock timeout: %w", err)
		}
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", scopeKey).Error; err != nil {
			if IsLockTimeout(err) {
				return pkgerrors.Wrap(pkgerrors.CodeLockTimeout, err, fmt.Sprintf("acquiring lock %s", scopeKey))
			}
			return fmt.Errorf("acquiring lock %s: %w", scopeKey, err)
		}
		return fn(tx)
	})
}

// KeyedMutexRunner serializes scopes with in-process mutexes. It satisfies
// the same contract for single-instance deployments and sqlite-backed tests,
// where advisory locks are unavailable.
type KeyedMutexRunner struct {
	tx    TxRunner
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutexRunner builds an in-process runner over tx.
func NewKeyedMutexRunner(tx TxRunner) (*KeyedMutexRunner, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	return &KeyedMutexRunner{tx: tx, locks: make(map[string]*sync.Mutex)}, nil
}

func (r *KeyedMutexRunner) lockFor(scopeKey string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.locks[scopeKey]; ok {
		return m
	}
	m := &sync.Mutex{}
	r.locks[scopeKey] = m
	return m
}

// RunLocked holds the scope mutex for the duration of the transaction.
func (r *KeyedMutexRunner) RunLocked(ctx context.Context, scopeKey string, fn func(tx *gorm.DB) error) error {
	if scopeKey == "" {
		return fmt.Errorf("scope key is required")
	}
	m := r.lockFor(scopeKey)
	m.Lock()
	defer m.Unlock()
	return r.tx.WithTx(ctx, fn)
}

// BillingScope returns the advisory lock key for a tenant's billing writes.
func BillingScope(tenantID string) string {
	return "billing:" + tenantID
}

// CreditScope returns the advisory lock key for an account's credit writes.
func CreditScope(accountID string) string {
	return "credit:" + accountID
}
