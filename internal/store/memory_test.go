package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedWallet(t *testing.T, s *MemoryStore, traderID string, balance float64) {
	t.Helper()
	if err := s.CreateWallet(context.Background(), &model.Wallet{
		TraderID: traderID,
		Balance:  d(balance),
	}); err != nil {
		t.Fatalf("failed to seed wallet: %v", err)
	}
}

// --- Wallet ledger tests ---

func TestWithdrawBalance_Decrements(t *testing.T) {
	s := NewMemoryStore()
	seedWallet(t, s, "trader1", 1000)

	w, err := s.WithdrawBalance(context.Background(), "trader1", d(300))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Balance.Equal(d(700)) {
		t.Errorf("expected balance=700, got %s", w.Balance)
	}
	if w.Version != 1 {
		t.Errorf("expected version=1, got %d", w.Version)
	}
}

func TestWithdrawBalance_ExactBalance(t *testing.T) {
	s := NewMemoryStore()
	seedWallet(t, s, "trader1", 500)

	w, err := s.WithdrawBalance(context.Background(), "trader1", d(500))
	if err != nil {
		t.Fatalf("withdrawing the exact balance should succeed: %v", err)
	}
	if !w.Balance.IsZero() {
		t.Errorf("expected balance=0, got %s", w.Balance)
	}
}

func TestWithdrawBalance_ShortBalance(t *testing.T) {
	s := NewMemoryStore()
	seedWallet(t, s, "trader1", 100)

	_, err := s.WithdrawBalance(context.Background(), "trader1", d(100.01))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	// Balance untouched by the failed withdrawal.
	w, _ := s.GetWallet(context.Background(), "trader1")
	if !w.Balance.Equal(d(100)) {
		t.Errorf("expected balance=100, got %s", w.Balance)
	}
}

func TestWithdrawBalance_UnknownTrader(t *testing.T) {
	// An unknown trader reports the same way as a short balance.
	s := NewMemoryStore()

	_, err := s.WithdrawBalance(context.Background(), "ghost", d(1))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestDepositBalance_UnknownTrader(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.DepositBalance(context.Background(), "ghost", d(1))
	if !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestCreateWallet_Duplicate(t *testing.T) {
	s := NewMemoryStore()
	seedWallet(t, s, "trader1", 100)

	err := s.CreateWallet(context.Background(), &model.Wallet{TraderID: "trader1", Balance: d(50)})
	if !errors.Is(err, ErrWalletExists) {
		t.Errorf("expected ErrWalletExists, got %v", err)
	}
}

// --- Portfolio ledger tests ---

func TestUpsertOnBuy_CreatesAtTradePrice(t *testing.T) {
	s := NewMemoryStore()

	p, err := s.UpsertOnBuy(context.Background(), "trader1", "AAPL", d(10), d(150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Quantity.Equal(d(10)) || !p.AveragePrice.Equal(d(150)) {
		t.Errorf("expected 10 @ 150, got %s @ %s", p.Quantity, p.AveragePrice)
	}
}

func TestUpsertOnBuy_WeightedAverage(t *testing.T) {
	s := NewMemoryStore()
	s.UpsertOnBuy(context.Background(), "trader1", "AAPL", d(10), d(100))

	p, err := s.UpsertOnBuy(context.Background(), "trader1", "AAPL", d(30), d(140))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (10×100 + 30×140) / 40 = 130
	if !p.Quantity.Equal(d(40)) {
		t.Errorf("expected quantity=40, got %s", p.Quantity)
	}
	if !p.AveragePrice.Equal(d(130)) {
		t.Errorf("expected average=130, got %s", p.AveragePrice)
	}
}

func TestApplySell_KeepsAveragePrice(t *testing.T) {
	s := NewMemoryStore()
	s.UpsertOnBuy(context.Background(), "trader1", "AAPL", d(10), d(100))

	p, err := s.ApplySell(context.Background(), "trader1", "AAPL", d(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Quantity.Equal(d(7)) {
		t.Errorf("expected quantity=7, got %s", p.Quantity)
	}
	if !p.AveragePrice.Equal(d(100)) {
		t.Errorf("selling must not move the average, got %s", p.AveragePrice)
	}
}

func TestApplySell_DeleteOnZero(t *testing.T) {
	s := NewMemoryStore()
	s.UpsertOnBuy(context.Background(), "trader1", "AAPL", d(10), d(100))

	p, err := s.ApplySell(context.Background(), "trader1", "AAPL", d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil position at zero, got %+v", p)
	}

	found, err := s.FindPosition(context.Background(), "trader1", "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != nil {
		t.Error("zero-quantity position should be deleted")
	}
}

func TestApplySell_ShortPosition(t *testing.T) {
	s := NewMemoryStore()
	s.UpsertOnBuy(context.Background(), "trader1", "AAPL", d(5), d(100))

	_, err := s.ApplySell(context.Background(), "trader1", "AAPL", d(6))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestApplySell_NoPosition(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.ApplySell(context.Background(), "trader1", "AAPL", d(1))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestFindPosition_AbsentIsNotAnError(t *testing.T) {
	s := NewMemoryStore()

	p, err := s.FindPosition(context.Background(), "trader1", "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil position, got %+v", p)
	}
}

func TestPortfolio_Empty(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Portfolio(context.Background(), "trader1")
	if !errors.Is(err, ErrPortfolioNotFound) {
		t.Errorf("expected ErrPortfolioNotFound, got %v", err)
	}
}

func TestPortfolio_SortedBySymbol(t *testing.T) {
	s := NewMemoryStore()
	s.UpsertOnBuy(context.Background(), "trader1", "MSFT", d(1), d(300))
	s.UpsertOnBuy(context.Background(), "trader1", "AAPL", d(1), d(150))
	s.UpsertOnBuy(context.Background(), "trader2", "GOOGL", d(1), d(2800))

	positions, err := s.Portfolio(context.Background(), "trader1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	if positions[0].Symbol != "AAPL" || positions[1].Symbol != "MSFT" {
		t.Errorf("expected AAPL, MSFT order, got %s, %s",
			positions[0].Symbol, positions[1].Symbol)
	}
}

// --- Transaction scope tests ---

func TestAtomic_CommitsOnNil(t *testing.T) {
	s := NewMemoryStore()
	seedWallet(t, s, "trader1", 1000)

	err := s.Atomic(context.Background(), func(tx Store) error {
		if _, err := tx.WithdrawBalance(context.Background(), "trader1", d(400)); err != nil {
			return err
		}
		_, err := tx.UpsertOnBuy(context.Background(), "trader1", "AAPL", d(4), d(100))
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _ := s.GetWallet(context.Background(), "trader1")
	if !w.Balance.Equal(d(600)) {
		t.Errorf("expected balance=600, got %s", w.Balance)
	}
	p, _ := s.FindPosition(context.Background(), "trader1", "AAPL")
	if p == nil || !p.Quantity.Equal(d(4)) {
		t.Errorf("expected position 4 @ 100, got %+v", p)
	}
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	seedWallet(t, s, "trader1", 1000)

	errBoom := errors.New("boom")
	err := s.Atomic(context.Background(), func(tx Store) error {
		if _, err := tx.WithdrawBalance(context.Background(), "trader1", d(400)); err != nil {
			return err
		}
		if _, err := tx.UpsertOnBuy(context.Background(), "trader1", "AAPL", d(4), d(100)); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}

	// Both mutations rolled back together.
	w, _ := s.GetWallet(context.Background(), "trader1")
	if !w.Balance.Equal(d(1000)) {
		t.Errorf("expected balance=1000 after rollback, got %s", w.Balance)
	}
	p, _ := s.FindPosition(context.Background(), "trader1", "AAPL")
	if p != nil {
		t.Errorf("expected no position after rollback, got %+v", p)
	}
}

func TestAtomic_NestedScopeJoins(t *testing.T) {
	s := NewMemoryStore()
	seedWallet(t, s, "trader1", 1000)

	err := s.Atomic(context.Background(), func(tx Store) error {
		return tx.Atomic(context.Background(), func(inner Store) error {
			_, err := inner.WithdrawBalance(context.Background(), "trader1", d(100))
			return err
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _ := s.GetWallet(context.Background(), "trader1")
	if !w.Balance.Equal(d(900)) {
		t.Errorf("expected balance=900, got %s", w.Balance)
	}
}
