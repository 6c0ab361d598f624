package trades

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// Store keeps the executed trades of an account and writes them through to a
// repository when one is configured.
type Store struct {
	mu        sync.RWMutex
	trades    map[string]domain.Trade
	order     []string
	sequences map[string]int
	repo      domain.TradeRepository
	logger    *zap.Logger
}

func NewStore(repo domain.TradeRepository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		trades:    make(map[string]domain.Trade),
		sequences: make(map[string]int),
		repo:      repo,
		logger:    logger.Named("trades"),
	}
}

// Load fills the store from the repository without writing back.
func (s *Store) Load(ctx context.Context, symbol string) error {
	if s.repo == nil {
		return nil
	}
	stored, err := s.repo.GetTrades(ctx, symbol)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range stored {
		if _, exists := s.trades[t.ID]; exists {
			continue
		}
		s.trades[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	return nil
}

// Record stores a new trade. Trades without an exchange id are keyed by
// (order id, sequence). A trade id seen before is rejected.
func (s *Store) Record(ctx context.Context, trade domain.Trade) (domain.Trade, error) {
	s.mu.Lock()
	if trade.ID == "" {
		key := trade.ExchangeOrderID
		if key == "" {
			key = trade.OriginOrderID
		}
		s.sequences[key]++
		trade.ID = fmt.Sprintf("%s-%d", key, s.sequences[key])
	}
	if _, exists := s.trades[trade.ID]; exists {
		s.mu.Unlock()
		return domain.Trade{}, fmt.Errorf("trade %s: %w", trade.ID, domain.ErrDuplicateTransactionID)
	}
	trade.AssociatedEntryIDs = append([]string(nil), trade.AssociatedEntryIDs...)
	s.trades[trade.ID] = trade
	s.order = append(s.order, trade.ID)
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveTrade(ctx, &trade); err != nil {
			s.logger.Error("Failed to persist trade", zap.String("trade_id", trade.ID), zap.Error(err))
			return trade, fmt.Errorf("persist trade %s: %w", trade.ID, err)
		}
	}
	return trade, nil
}

func (s *Store) Get(id string) (domain.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	return t, ok
}

// Trades returns the trades of a symbol (every symbol when empty) in
// execution order.
func (s *Store) Trades(symbol string) []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Trade, 0, len(s.order))
	for _, id := range s.order {
		t := s.trades[id]
		if symbol == "" || t.Symbol == symbol {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutedTime.Before(out[j].ExecutedTime)
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}
