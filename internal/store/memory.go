package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tradefloor/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// Atomic holds the store lock for the whole scope and restores a snapshot
// when the callback fails, so wallet and portfolio mutations roll back
// together exactly as they would under a database transaction. Holding the
// lock also serializes concurrent settlements; a racing withdrawal observes
// the committed balance, never an intermediate one.
type MemoryStore struct {
	mu        sync.RWMutex
	wallets   map[string]*model.Wallet
	positions map[string]*model.Position // keyed traderID + "|" + symbol
	trades    []model.Trade
	quotes    map[string]*model.Quote
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:   make(map[string]*model.Wallet),
		positions: make(map[string]*model.Position),
		quotes:    make(map[string]*model.Quote),
	}
}

func posKey(traderID, symbol string) string { return traderID + "|" + symbol }

type memorySnapshot struct {
	wallets   map[string]*model.Wallet
	positions map[string]*model.Position
	trades    []model.Trade
	quotes    map[string]*model.Quote
}

func (s *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		wallets:   make(map[string]*model.Wallet, len(s.wallets)),
		positions: make(map[string]*model.Position, len(s.positions)),
		trades:    append([]model.Trade(nil), s.trades...),
		quotes:    make(map[string]*model.Quote, len(s.quotes)),
	}
	for k, w := range s.wallets {
		cp := *w
		snap.wallets[k] = &cp
	}
	for k, p := range s.positions {
		cp := *p
		snap.positions[k] = &cp
	}
	for k, q := range s.quotes {
		cp := *q
		snap.quotes[k] = &cp
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.wallets = snap.wallets
	s.positions = snap.positions
	s.trades = snap.trades
	s.quotes = snap.quotes
}

// Atomic serializes the scope under the store lock and rolls back to a
// snapshot when fn fails.
func (s *MemoryStore) Atomic(_ context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memoryTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// --- Wallet ledger ---

func (s *MemoryStore) CreateWallet(_ context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createWallet(w)
}

func (s *MemoryStore) createWallet(w *model.Wallet) error {
	if w.Balance.IsNegative() {
		return fmt.Errorf("create wallet %s: balance must be non-negative", w.TraderID)
	}
	if _, ok := s.wallets[w.TraderID]; ok {
		return fmt.Errorf("create wallet %s: %w", w.TraderID, ErrWalletExists)
	}
	cp := *w
	s.wallets[w.TraderID] = &cp
	return nil
}

func (s *MemoryStore) WithdrawBalance(_ context.Context, traderID string, amount decimal.Decimal) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdrawBalance(traderID, amount)
}

func (s *MemoryStore) withdrawBalance(traderID string, amount decimal.Decimal) (*model.Wallet, error) {
	w, ok := s.wallets[traderID]
	if !ok || w.Balance.LessThan(amount) {
		// Unknown trader and short balance report as one error kind.
		return nil, fmt.Errorf("withdraw %s from %s: %w", amount, traderID, ErrInsufficientFunds)
	}
	w.Balance = w.Balance.Sub(amount)
	w.Version++
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) DepositBalance(_ context.Context, traderID string, amount decimal.Decimal) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depositBalance(traderID, amount)
}

func (s *MemoryStore) depositBalance(traderID string, amount decimal.Decimal) (*model.Wallet, error) {
	w, ok := s.wallets[traderID]
	if !ok {
		return nil, fmt.Errorf("deposit to %s: %w", traderID, ErrWalletNotFound)
	}
	w.Balance = w.Balance.Add(amount)
	w.Version++
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, traderID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getWallet(traderID)
}

func (s *MemoryStore) getWallet(traderID string) (*model.Wallet, error) {
	w, ok := s.wallets[traderID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", traderID, ErrWalletNotFound)
	}
	cp := *w
	return &cp, nil
}

// --- Portfolio ledger ---

func (s *MemoryStore) FindPosition(_ context.Context, traderID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findPosition(traderID, symbol)
}

func (s *MemoryStore) findPosition(traderID, symbol string) (*model.Position, error) {
	p, ok := s.positions[posKey(traderID, symbol)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpsertOnBuy(_ context.Context, traderID, symbol string, qty, price decimal.Decimal) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertOnBuy(traderID, symbol, qty, price)
}

func (s *MemoryStore) upsertOnBuy(traderID, symbol string, qty, price decimal.Decimal) (*model.Position, error) {
	key := posKey(traderID, symbol)
	p, ok := s.positions[key]
	if !ok {
		p = &model.Position{
			TraderID:     traderID,
			Symbol:       symbol,
			Quantity:     qty,
			AveragePrice: price,
		}
		s.positions[key] = p
	} else {
		p.Quantity, p.AveragePrice = AverageOnBuy(p.Quantity, p.AveragePrice, qty, price)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ApplySell(_ context.Context, traderID, symbol string, qty decimal.Decimal) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applySell(traderID, symbol, qty)
}

func (s *MemoryStore) applySell(traderID, symbol string, qty decimal.Decimal) (*model.Position, error) {
	key := posKey(traderID, symbol)
	p, ok := s.positions[key]
	if !ok || p.Quantity.LessThan(qty) {
		return nil, fmt.Errorf("sell %s %s for %s: %w", qty, symbol, traderID, ErrInsufficientShares)
	}
	p.Quantity = p.Quantity.Sub(qty)
	if p.Quantity.IsZero() {
		delete(s.positions, key)
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Portfolio(_ context.Context, traderID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portfolio(traderID)
}

func (s *MemoryStore) portfolio(traderID string) ([]model.Position, error) {
	var positions []model.Position
	for _, p := range s.positions {
		if p.TraderID == traderID {
			positions = append(positions, *p)
		}
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("portfolio %s: %w", traderID, ErrPortfolioNotFound)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// --- Immutable trade log ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTrade(t)
}

func (s *MemoryStore) insertTrade(t *model.Trade) error {
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) TradesByTrader(_ context.Context, traderID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradesByTrader(traderID)
}

func (s *MemoryStore) tradesByTrader(traderID string) ([]model.Trade, error) {
	var trades []model.Trade
	for _, t := range s.trades {
		if t.TraderID == traderID {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

// --- Quote snapshots ---

func (s *MemoryStore) SaveQuote(_ context.Context, q *model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveQuote(q)
}

func (s *MemoryStore) saveQuote(q *model.Quote) error {
	cp := *q
	s.quotes[q.Symbol] = &cp
	return nil
}

func (s *MemoryStore) GetQuote(_ context.Context, symbol string) (*model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getQuote(symbol)
}

func (s *MemoryStore) getQuote(symbol string) (*model.Quote, error) {
	q, ok := s.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", symbol, ErrQuoteNotFound)
	}
	cp := *q
	return &cp, nil
}

// memoryTx is the transactional view handed to Atomic callbacks. The outer
// Atomic already holds the store lock, so these forward to the unlocked
// cores.
type memoryTx struct {
	s *MemoryStore
}

func (t *memoryTx) Atomic(_ context.Context, fn func(tx Store) error) error {
	// Nested scopes join the outer one.
	return fn(t)
}

func (t *memoryTx) CreateWallet(_ context.Context, w *model.Wallet) error {
	return t.s.createWallet(w)
}

func (t *memoryTx) WithdrawBalance(_ context.Context, traderID string, amount decimal.Decimal) (*model.Wallet, error) {
	return t.s.withdrawBalance(traderID, amount)
}

func (t *memoryTx) DepositBalance(_ context.Context, traderID string, amount decimal.Decimal) (*model.Wallet, error) {
	return t.s.depositBalance(traderID, amount)
}

func (t *memoryTx) GetWallet(_ context.Context, traderID string) (*model.Wallet, error) {
	return t.s.getWallet(traderID)
}

func (t *memoryTx) FindPosition(_ context.Context, traderID, symbol string) (*model.Position, error) {
	return t.s.findPosition(traderID, symbol)
}

func (t *memoryTx) UpsertOnBuy(_ context.Context, traderID, symbol string, qty, price decimal.Decimal) (*model.Position, error) {
	return t.s.upsertOnBuy(traderID, symbol, qty, price)
}

func (t *memoryTx) ApplySell(_ context.Context, traderID, symbol string, qty decimal.Decimal) (*model.Position, error) {
	return t.s.applySell(traderID, symbol, qty)
}

func (t *memoryTx) Portfolio(_ context.Context, traderID string) ([]model.Position, error) {
	return t.s.portfolio(traderID)
}

func (t *memoryTx) InsertTrade(_ context.Context, tr *model.Trade) error {
	return t.s.insertTrade(tr)
}

func (t *memoryTx) TradesByTrader(_ context.Context, traderID string) ([]model.Trade, error) {
	return t.s.tradesByTrader(traderID)
}

func (t *memoryTx) SaveQuote(_ context.Context, q *model.Quote) error {
	return t.s.saveQuote(q)
}

func (t *memoryTx) GetQuote(_ context.Context, symbol string) (*model.Quote, error) {
	return t.s.getQuote(symbol)
}
