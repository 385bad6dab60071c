package db

import (
	"context"
	"sync"
	"testing"

	"gorm.io/gorm"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func TestKeyedMutexRunnerSerializesSameScope(t *testing.T) {
	runner, err := NewKeyedMutexRunner(stubTxRunner{})
	if err != nil {
		t.Fatalf("NewKeyedMutexRunner: %v", err)
	}

	const workers = 8
	inCritical := false
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := runner.RunLocked(context.Background(), "credit:acct-1", func(tx *gorm.DB) error {
				if inCritical {
					t.Error("two workers entered the same scope concurrently")
				}
				inCritical = true
				inCritical = false
				return nil
			})
			if err != nil {
				t.Errorf("RunLocked: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestKeyedMutexRunnerRequiresScope(t *testing.T) {
	runner, err := NewKeyedMutexRunner(stubTxRunner{})
	if err != nil {
		t.Fatalf("NewKeyedMutexRunner: %v", err)
	}
	if err := runner.RunLocked(context.Background(), "", func(tx *gorm.DB) error { return nil }); err == nil {
		t.Fatal("expected an error for empty scope key")
	}
}

func TestScopeKeys(t *testing.T) {
	if got := BillingScope("t-1"); got != "billing:t-1" {
		t.Fatalf("unexpected billing scope %q", got)
	}
	if got := CreditScope("a-1"); got != "credit:a-1" {
		t.Fatalf("unexpected credit scope %q", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		msg        string
		constraint string
		want       bool
	}{
		{name: "postgres duplicate", msg: `ERROR: duplicate key value violates unique constraint "ux_usage_events_subject"`, want: true},
		{name: "postgres named constraint", msg: `ERROR: duplicate key value violates unique constraint "ux_invoice_lines_invoice_usage_event"`, constraint: "ux_invoice_lines_invoice_usage_event", want: true},
		{name: "postgres other constraint", msg: `ERROR: duplicate key value violates unique constraint "ux_other"`, constraint: "ux_invoice_lines_invoice_usage_event", want: false},
		{name: "sqlite", msg: "UNIQUE constraint failed: usage_events.subject_id", constraint: "ux_usage_events_subject", want: true},
		{name: "unrelated", msg: "connection refused", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(stubErr(tt.msg), tt.constraint); got != tt.want {
				t.Fatalf("IsUniqueViolation(%q, %q) = %v, want %v", tt.msg, tt.constraint, got, tt.want)
			}
		})
	}
	if IsUniqueViolation(nil, "") {
		t.Fatal("nil error should not match")
	}
}

func TestIsLockTimeout(t *testing.T) {
	if !IsLockTimeout(stubErr("ERROR: canceling statement due to lock timeout (SQLSTATE 55P03)")) {
		t.Fatal("expected lock timeout to match")
	}
	if IsLockTimeout(stubErr("ERROR: deadlock detected")) {
		t.Fatal("deadlock should not match lock timeout")
	}
	if IsLockTimeout(nil) {
		t.Fatal("nil error should not match")
	}
}

type stubErr string

func (e stubErr) Error() string { return string(e) }
