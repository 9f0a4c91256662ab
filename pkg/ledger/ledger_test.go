package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"interviewprep/pkg/store"
)

func TestBalanceMissingProfileIsZero(t *testing.T) {
	l := New(store.NewMemoryStore())
	balance, err := l.Balance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("balance = %s, want 0", balance)
	}
}

func TestCheckAndSpend(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.SetBalance("u1", decimal.NewFromInt(10))
	l := New(s)

	ok, available, err := l.Check(ctx, "u1", decimal.NewFromInt(3))
	if err != nil || !ok || !available.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("check: ok=%v available=%s err=%v", ok, available, err)
	}
	spent, err := l.Spend(ctx, "u1", decimal.NewFromInt(3), Entry{Key: SpendKey("j1")})
	if err != nil || !spent {
		t.Fatalf("spend: spent=%v err=%v", spent, err)
	}
	balance, _ := l.Balance(ctx, "u1")
	if !balance.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("balance = %s, want 7", balance)
	}
}

func TestSpendInsufficientDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.SetBalance("u1", decimal.NewFromInt(2))
	l := New(s)

	spent, err := l.Spend(ctx, "u1", decimal.NewFromInt(3), Entry{Key: SpendKey("j1")})
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if spent {
		t.Fatalf("spend must fail on insufficient balance")
	}
	balance, _ := l.Balance(ctx, "u1")
	if !balance.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("balance = %s, want 2", balance)
	}
}

func TestSpendRejectsNonPositiveAmount(t *testing.T) {
	l := New(store.NewMemoryStore())
	if _, err := l.Spend(context.Background(), "u1", decimal.Zero, Entry{}); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestConcurrentSpendNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.SetBalance("u1", decimal.NewFromInt(5))
	l := New(s)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := l.Spend(ctx, "u1", decimal.NewFromInt(1), Entry{})
			if err != nil {
				t.Errorf("spend %d: %v", i, err)
				return
			}
			if ok {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if success != 5 {
		t.Fatalf("successful spends = %d, want 5", success)
	}
	balance, _ := l.Balance(ctx, "u1")
	if !balance.IsZero() {
		t.Fatalf("balance = %s, want 0", balance)
	}
}

func TestRefundIsAppliedOncePerKey(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.SetBalance("u1", decimal.NewFromInt(7))
	l := New(s)

	for i := 0; i < 3; i++ {
		applied, err := l.Refund(ctx, "u1", decimal.NewFromInt(3), Entry{Key: JobRefundKey("j1")})
		if err != nil {
			t.Fatalf("refund %d: %v", i, err)
		}
		if applied != (i == 0) {
			t.Fatalf("refund %d applied=%v", i, applied)
		}
	}
	balance, _ := l.Balance(ctx, "u1")
	if !balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance = %s, want 10", balance)
	}
}

func TestSpentTracksDebitKey(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.SetBalance("u1", decimal.NewFromInt(1))
	l := New(s)
	if ok, _ := l.Spent(ctx, SpendKey("j1")); ok {
		t.Fatalf("unexpected debit before spend")
	}
	if _, err := l.Spend(ctx, "u1", decimal.RequireFromString("0.2"), Entry{Key: SpendKey("j1")}); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if ok, _ := l.Spent(ctx, SpendKey("j1")); !ok {
		t.Fatalf("expected debit to be recorded")
	}
}
