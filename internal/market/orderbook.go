package market

import (
	"sync"
	"time"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

const bookDegree = 16

type priceLevel struct {
	price  float64
	orders []domain.BookOrder
}

func (l *priceLevel) size() float64 {
	var total float64
	for _, o := range l.orders {
		total += o.Size
	}
	return total
}

type bookRef struct {
	side  domain.Side
	price float64
}

// Level is an aggregated price level of the book.
type Level struct {
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Orders int     `json:"orders"`
}

// TopOfBook is the denormalized best bid/ask fed by ticker updates.
type TopOfBook struct {
	AskPrice    float64   `json:"ask_price"`
	AskQuantity float64   `json:"ask_quantity"`
	BidPrice    float64   `json:"bid_price"`
	BidQuantity float64   `json:"bid_quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OrderBookStore keeps the price-ordered ask and bid ladders of one symbol.
// Asks iterate ascending, bids descending, so the tree minimum is always the
// best price.
type OrderBookStore struct {
	mu        sync.RWMutex
	symbol    string
	asks      *btree.BTreeG[*priceLevel]
	bids      *btree.BTreeG[*priceLevel]
	index     map[string]bookRef
	ticker    TopOfBook
	updatedAt time.Time
	logger    *zap.Logger
}

func NewOrderBookStore(symbol string, logger *zap.Logger) *OrderBookStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderBookStore{
		symbol: symbol,
		asks: btree.NewG(bookDegree, func(a, b *priceLevel) bool {
			return a.price < b.price
		}),
		bids: btree.NewG(bookDegree, func(a, b *priceLevel) bool {
			return a.price > b.price
		}),
		index:  make(map[string]bookRef),
		logger: logger.With(zap.String("symbol", symbol)),
	}
}

// ReplaceAll resets both ladders from a full snapshot.
func (b *OrderBookStore) ReplaceAll(asks, bids []domain.BookOrder, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.asks.Clear(false)
	b.bids.Clear(false)
	b.index = make(map[string]bookRef, len(asks)+len(bids))
	for _, o := range asks {
		o.Side = domain.SideSell
		b.addLocked(o)
	}
	for _, o := range bids {
		o.Side = domain.SideBuy
		b.addLocked(o)
	}
	b.updatedAt = ts
}

// Add inserts orders. Orders without a side or a price are skipped.
func (b *OrderBookStore) Add(orders ...domain.BookOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range orders {
		b.addLocked(o)
	}
}

// Update rewrites the size (and possibly the price) of known orders.
func (b *OrderBookStore) Update(orders ...domain.BookOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range orders {
		ref, ok := b.index[o.ID]
		if !ok {
			b.logger.Debug("Order book update for unknown order, adding it", zap.String("order_id", o.ID))
			b.addLocked(o)
			continue
		}
		if o.Side == "" {
			o.Side = ref.side
		}
		if o.Price == 0 {
			o.Price = ref.price
		}
		if o.Price != ref.price || o.Side != ref.side {
			b.deleteLocked(o.ID)
			b.addLocked(o)
			continue
		}
		level, found := b.tree(ref.side).Get(&priceLevel{price: ref.price})
		if !found {
			b.logger.Warn("Order book index out of sync", zap.String("order_id", o.ID), zap.Float64("price", ref.price))
			continue
		}
		for i := range level.orders {
			if level.orders[i].ID == o.ID {
				level.orders[i].Size = o.Size
			}
		}
	}
}

// Delete removes orders by id. Empty levels are dropped.
func (b *OrderBookStore) Delete(orderIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range orderIDs {
		b.deleteLocked(id)
	}
}

// TopAsk returns the best ask price level.
func (b *OrderBookStore) TopAsk() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return topOf(b.asks)
}

// TopBid returns the best bid price level.
func (b *OrderBookStore) TopBid() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return topOf(b.bids)
}

// Levels returns up to depth aggregated levels of a side, best first.
func (b *OrderBookStore) Levels(side domain.Side, depth int) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var levels []Level
	b.tree(side).Ascend(func(l *priceLevel) bool {
		levels = append(levels, Level{Price: l.price, Size: l.size(), Orders: len(l.orders)})
		return depth <= 0 || len(levels) < depth
	})
	return levels
}

// TickerUpdate refreshes the denormalized top of book.
func (b *OrderBookStore) TickerUpdate(askPrice, askQuantity, bidPrice, bidQuantity float64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ticker = TopOfBook{
		AskPrice:    askPrice,
		AskQuantity: askQuantity,
		BidPrice:    bidPrice,
		BidQuantity: bidQuantity,
		UpdatedAt:   ts,
	}
}

func (b *OrderBookStore) Ticker() TopOfBook {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ticker
}

func (b *OrderBookStore) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

func (b *OrderBookStore) tree(side domain.Side) *btree.BTreeG[*priceLevel] {
	if side == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBookStore) addLocked(o domain.BookOrder) {
	if o.Side != domain.SideBuy && o.Side != domain.SideSell {
		b.logger.Warn("Skipping book order without side", zap.String("order_id", o.ID))
		return
	}
	if o.Price <= 0 {
		b.logger.Warn("Skipping book order without price", zap.String("order_id", o.ID))
		return
	}
	if _, exists := b.index[o.ID]; exists && o.ID != "" {
		b.deleteLocked(o.ID)
	}
	t := b.tree(o.Side)
	level, found := t.Get(&priceLevel{price: o.Price})
	if !found {
		level = &priceLevel{price: o.Price}
		t.ReplaceOrInsert(level)
	}
	level.orders = append(level.orders, o)
	if o.ID != "" {
		b.index[o.ID] = bookRef{side: o.Side, price: o.Price}
	}
}

func (b *OrderBookStore) deleteLocked(id string) {
	ref, ok := b.index[id]
	if !ok {
		b.logger.Debug("Order book delete for unknown order", zap.String("order_id", id))
		return
	}
	delete(b.index, id)
	t := b.tree(ref.side)
	level, found := t.Get(&priceLevel{price: ref.price})
	if !found {
		return
	}
	kept := level.orders[:0]
	for _, o := range level.orders {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	level.orders = kept
	if len(level.orders) == 0 {
		t.Delete(level)
	}
}

func topOf(t *btree.BTreeG[*priceLevel]) (Level, bool) {
	l, ok := t.Min()
	if !ok {
		return Level{}, false
	}
	return Level{Price: l.price, Size: l.size(), Orders: len(l.orders)}, true
}
