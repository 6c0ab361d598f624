package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// SQLiteStore persists order details across restarts and the trade history.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ domain.OrderMetadataStore = (*SQLiteStore)(nil)
	_ domain.TradeRepository    = (*SQLiteStore)(nil)
)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS order_metadata (
			exchange_order_id TEXT PRIMARY KEY,
			client_order_id TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			group_name TEXT NOT NULL DEFAULT '',
			tag TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			trigger_price TEXT NOT NULL DEFAULT '0',
			trigger_above BOOLEAN NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			exchange_order_id TEXT NOT NULL DEFAULT '',
			origin_order_id TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			executed_time DATETIME NOT NULL,
			executed_quantity TEXT NOT NULL,
			executed_price TEXT NOT NULL,
			total_cost TEXT NOT NULL,
			fee_currency TEXT NOT NULL DEFAULT '',
			fee_cost TEXT NOT NULL DEFAULT '0',
			fee_rate TEXT NOT NULL DEFAULT '0',
			fee_from_exchange BOOLEAN NOT NULL DEFAULT 0,
			is_closing BOOLEAN NOT NULL DEFAULT 0,
			associated_entry_ids TEXT NOT NULL DEFAULT '[]',
			tag TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades(symbol, executed_time);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// OrderMetadataStore implementation

func (s *SQLiteStore) SaveOrderDetails(ctx context.Context, d *domain.OrderDetails) error {
	query := `INSERT INTO order_metadata (exchange_order_id, client_order_id, symbol, group_name, tag, is_active, trigger_price, trigger_above, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(exchange_order_id) DO UPDATE SET
			  client_order_id=excluded.client_order_id,
			  symbol=excluded.symbol,
			  group_name=excluded.group_name,
			  tag=excluded.tag,
			  is_active=excluded.is_active,
			  trigger_price=excluded.trigger_price,
			  trigger_above=excluded.trigger_above,
			  updated_at=excluded.updated_at`
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		d.ExchangeOrderID, d.ClientOrderID, d.Symbol, d.GroupName, d.Tag,
		d.IsActive, d.TriggerPrice.String(), d.TriggerAbove, updated.UTC())
	return err
}

func (s *SQLiteStore) GetStartupOrderDetails(ctx context.Context, exchangeOrderID string) (*domain.OrderDetails, error) {
	query := `SELECT exchange_order_id, client_order_id, symbol, group_name, tag, is_active, trigger_price, trigger_above, updated_at
			  FROM order_metadata WHERE exchange_order_id = ?`
	row := s.db.QueryRowContext(ctx, query, exchangeOrderID)
	d, err := scanOrderDetails(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *SQLiteStore) DeleteOrderDetails(ctx context.Context, exchangeOrderID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM order_metadata WHERE exchange_order_id = ?", exchangeOrderID)
	return err
}

func (s *SQLiteStore) ListOrderDetails(ctx context.Context) ([]*domain.OrderDetails, error) {
	query := `SELECT exchange_order_id, client_order_id, symbol, group_name, tag, is_active, trigger_price, trigger_above, updated_at
			  FROM order_metadata ORDER BY updated_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.OrderDetails
	for rows.Next() {
		d, err := scanOrderDetails(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrderDetails(row scanner) (*domain.OrderDetails, error) {
	var d domain.OrderDetails
	var trigger string
	if err := row.Scan(&d.ExchangeOrderID, &d.ClientOrderID, &d.Symbol, &d.GroupName, &d.Tag,
		&d.IsActive, &trigger, &d.TriggerAbove, &d.UpdatedAt); err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(trigger)
	if err != nil {
		return nil, fmt.Errorf("order %s trigger price %q: %w", d.ExchangeOrderID, trigger, err)
	}
	d.TriggerPrice = price
	return &d, nil
}

// TradeRepository implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, t *domain.Trade) error {
	entries, err := json.Marshal(t.AssociatedEntryIDs)
	if err != nil {
		return err
	}
	fee := domain.FeeDetails{}
	if t.Fee != nil {
		fee = *t.Fee
	}
	query := `INSERT INTO trades (id, exchange_order_id, origin_order_id, symbol, side, type, status, executed_time,
			  executed_quantity, executed_price, total_cost, fee_currency, fee_cost, fee_rate, fee_from_exchange,
			  is_closing, associated_entry_ids, tag)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		t.ID, t.ExchangeOrderID, t.OriginOrderID, t.Symbol, string(t.Side), string(t.Type), string(t.Status),
		t.ExecutedTime.UTC(), t.ExecutedQuantity.String(), t.ExecutedPrice.String(), t.TotalCost.String(),
		fee.Currency, fee.Cost.String(), fee.Rate.String(), fee.IsFromExchange,
		t.IsClosingOrder, string(entries), t.Tag)
	return err
}

// GetTrades returns the trades of symbol, or of every symbol when empty,
// oldest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, symbol string) ([]domain.Trade, error) {
	query := tradeColumns + ` FROM trades WHERE (? = '' OR symbol = ?) ORDER BY executed_time, id`
	rows, err := s.db.QueryContext(ctx, query, symbol, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListTrades returns the most recent trades, newest first.
func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]domain.Trade, error) {
	query := tradeColumns + ` FROM trades ORDER BY executed_time DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

const tradeColumns = `SELECT id, exchange_order_id, origin_order_id, symbol, side, type, status, executed_time,
	executed_quantity, executed_price, total_cost, fee_currency, fee_cost, fee_rate, fee_from_exchange,
	is_closing, associated_entry_ids, tag`

func scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t                          domain.Trade
			side, orderType, status    string
			qty, price, cost           string
			feeCurrency, feeCost, rate string
			feeFromExchange            bool
			entries                    string
		)
		if err := rows.Scan(&t.ID, &t.ExchangeOrderID, &t.OriginOrderID, &t.Symbol, &side, &orderType, &status,
			&t.ExecutedTime, &qty, &price, &cost, &feeCurrency, &feeCost, &rate, &feeFromExchange,
			&t.IsClosingOrder, &entries, &t.Tag); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.Type = domain.OrderType(orderType)
		t.Status = domain.OrderStatus(status)
		var err error
		if t.ExecutedQuantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("trade %s quantity: %w", t.ID, err)
		}
		if t.ExecutedPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("trade %s price: %w", t.ID, err)
		}
		if t.TotalCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("trade %s cost: %w", t.ID, err)
		}
		if feeCurrency != "" {
			fee := domain.FeeDetails{Currency: feeCurrency, IsFromExchange: feeFromExchange}
			if fee.Cost, err = decimal.NewFromString(feeCost); err != nil {
				return nil, fmt.Errorf("trade %s fee: %w", t.ID, err)
			}
			if fee.Rate, err = decimal.NewFromString(rate); err != nil {
				return nil, fmt.Errorf("trade %s fee rate: %w", t.ID, err)
			}
			t.Fee = &fee
		}
		if err := json.Unmarshal([]byte(entries), &t.AssociatedEntryIDs); err != nil {
			return nil, fmt.Errorf("trade %s entries: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
