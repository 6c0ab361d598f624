package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/config"
	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_core/internal/orders"
	"github.com/vitos/crypto_trade_core/internal/usecase"
)

var (
	entryPrice = decimal.NewFromInt(100)
	notional   = decimal.NewFromInt(20)
)

func fail(format string, args ...interface{}) {
	fmt.Printf("❌ "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// 1. Load Config
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 2. Paper exchange
	sim := exchange.NewSimulatedExchange(cfg.Exchange.DomainMarkets(), cfg.Exchange.Balances,
		cfg.Exchange.MakerFee, cfg.Exchange.TakerFee, log)
	data, err := usecase.NewPersonalData(usecase.PersonalDataConfig{
		Exchange:      cfg.Exchange.Name,
		PortfolioType: cfg.Exchange.DomainPortfolioType(),
		Symbols:       cfg.Trading.Symbols,
		SyncTimeout:   cfg.Trading.SyncTimeout,
	}, usecase.Dependencies{Gateway: sim}, log)
	if err != nil {
		fail("Failed to init personal data: %v", err)
	}
	defer data.Close()
	ctx := context.Background()
	data.Attach(sim)
	if err := data.Initialize(ctx); err != nil {
		fail("Failed to initialize: %v", err)
	}
	symbols := data.Symbols()
	if len(symbols) == 0 {
		fail("No market configured")
	}
	symbol := symbols[0]
	m, _ := data.Market(symbol)
	quantity := m.TruncateAmount(notional.Div(entryPrice))

	setPrice := func(price decimal.Decimal) {
		sim.SetPrice(symbol, price)
		data.Drain(ctx)
		fmt.Printf("   price %s -> %s\n", symbol, price)
	}
	fmt.Printf("Testing trading on %s (%s)...\n", symbol, cfg.Exchange.Name)
	setPrice(entryPrice.Add(decimal.NewFromInt(1)))

	// 3. Entry with OCO exits
	fmt.Println("\n--- Entry with take profit and stop loss ---")
	group, err := data.Trader().Groups().Create("check_trading", orders.GroupOCO)
	if err != nil {
		fail("Failed to create group: %v", err)
	}
	entry := orders.New(orders.Spec{
		Symbol: symbol, Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Quantity: quantity, Price: entryPrice, Tag: "entry", Market: m,
	})
	takeProfit := orders.New(orders.Spec{
		Symbol: symbol, Side: domain.SideSell, Type: domain.OrderTypeLimit,
		Quantity: quantity, Price: m.TruncatePrice(entryPrice.Mul(decimal.RequireFromString("1.1"))),
		Closing: true, Tag: "tp", Market: m,
	})
	// the stop waits locally so the take profit can lock the whole position
	stopPrice := m.TruncatePrice(entryPrice.Mul(decimal.RequireFromString("0.9")))
	stopLoss := orders.New(orders.Spec{
		Symbol: symbol, Side: domain.SideSell, Type: domain.OrderTypeStopLoss,
		Quantity: quantity, StopPrice: stopPrice,
		Closing: true, Tag: "sl", Market: m,
		Inactive: true,
		Trigger:  &orders.ActiveTrigger{Price: stopPrice.Mul(decimal.RequireFromString("1.005"))},
	})
	group.Add(takeProfit)
	group.Add(stopLoss)
	for _, exit := range []*orders.Order{takeProfit, stopLoss} {
		if err := data.Trader().AddChainedOrder(ctx, entry, exit, orders.TriggerOnFill); err != nil {
			fail("Failed to chain %s: %v", exit.Tag, err)
		}
	}
	if err := data.Trader().CreateOrder(ctx, entry); err != nil {
		fail("Failed to place entry: %v", err)
	}
	fmt.Printf("✅ Entry %s %s @ %s (%s)\n", entry.Side, entry.OriginQuantity, entry.OriginPrice, entry.Status)

	// 4. Fill the entry, then the take profit
	setPrice(entryPrice)
	for _, o := range []*orders.Order{entry, takeProfit, stopLoss} {
		fmt.Printf("   %s: %s\n", o.Tag, o.Status)
	}
	setPrice(takeProfit.OriginPrice.Add(decimal.NewFromInt(1)))
	for _, o := range []*orders.Order{takeProfit, stopLoss} {
		fmt.Printf("   %s: %s\n", o.Tag, o.Status)
	}
	if takeProfit.Status != domain.OrderStatusFilled || stopLoss.Status != domain.OrderStatusCancelled {
		fail("OCO exits did not resolve")
	}
	fmt.Println("✅ Take profit filled, stop loss cancelled")

	// 5. Result
	pnl, err := data.PnL(symbol)
	if err != nil {
		fail("Failed to compute pnl: %v", err)
	}
	for _, p := range pnl {
		fmt.Printf("✅ PnL %s qty=%s entry=%s close=%s pnl=%s (%s%%)\n",
			p.Symbol, p.ClosedQuantity, p.EntryPrice, p.ClosePrice, p.RealizedPnL, p.RealizedPnLPercent)
	}
	for name, a := range data.Portfolio().Snapshot() {
		fmt.Printf("   %s available=%s total=%s\n", name, a.Available, a.Total)
	}
}
