package trades_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/trades"
)

type mockRepository struct {
	saved   []domain.Trade
	stored  []domain.Trade
	saveErr error
}

func (m *mockRepository) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, *trade)
	return nil
}

func (m *mockRepository) GetTrades(ctx context.Context, symbol string) ([]domain.Trade, error) {
	return m.stored, nil
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestStore_RecordGeneratesSequenceIDs(t *testing.T) {
	repo := &mockRepository{}
	s := trades.NewStore(repo, nil)
	ctx := context.Background()

	first, err := s.Record(ctx, domain.Trade{ExchangeOrderID: "o1", Symbol: "BTC/USDT"})
	require.NoError(t, err)
	second, err := s.Record(ctx, domain.Trade{ExchangeOrderID: "o1", Symbol: "BTC/USDT"})
	require.NoError(t, err)

	assert.Equal(t, "o1-1", first.ID)
	assert.Equal(t, "o1-2", second.ID)
	assert.Len(t, repo.saved, 2)
	assert.Equal(t, 2, s.Len())
}

func TestStore_RejectsDuplicateTradeID(t *testing.T) {
	s := trades.NewStore(nil, nil)
	ctx := context.Background()

	_, err := s.Record(ctx, domain.Trade{ID: "t1", Symbol: "BTC/USDT"})
	require.NoError(t, err)
	_, err = s.Record(ctx, domain.Trade{ID: "t1", Symbol: "BTC/USDT"})
	assert.True(t, errors.Is(err, domain.ErrDuplicateTransactionID))
	assert.Equal(t, 1, s.Len())
}

func TestStore_PersistFailureKeepsTrade(t *testing.T) {
	repo := &mockRepository{saveErr: errors.New("disk full")}
	s := trades.NewStore(repo, nil)

	trade, err := s.Record(context.Background(), domain.Trade{ID: "t1"})
	assert.Error(t, err)
	_, ok := s.Get(trade.ID)
	assert.True(t, ok)
}

func TestStore_TradesFilterAndOrder(t *testing.T) {
	s := trades.NewStore(nil, nil)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	_, err := s.Record(ctx, domain.Trade{ID: "late", Symbol: "BTC/USDT", ExecutedTime: now.Add(time.Minute)})
	require.NoError(t, err)
	_, err = s.Record(ctx, domain.Trade{ID: "eth", Symbol: "ETH/USDT", ExecutedTime: now})
	require.NoError(t, err)
	_, err = s.Record(ctx, domain.Trade{ID: "early", Symbol: "BTC/USDT", ExecutedTime: now})
	require.NoError(t, err)

	btc := s.Trades("BTC/USDT")
	require.Len(t, btc, 2)
	assert.Equal(t, "early", btc[0].ID)
	assert.Equal(t, "late", btc[1].ID)
	assert.Len(t, s.Trades(""), 3)
}

func TestStore_LoadSkipsKnownTrades(t *testing.T) {
	repo := &mockRepository{stored: []domain.Trade{{ID: "a"}, {ID: "b"}}}
	s := trades.NewStore(repo, nil)
	ctx := context.Background()

	_, err := s.Record(ctx, domain.Trade{ID: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Load(ctx, ""))
	assert.Equal(t, 2, s.Len())
	assert.Len(t, repo.saved, 1)
}
