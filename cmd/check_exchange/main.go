package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/vitos/crypto_trade_core/internal/config"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_core/internal/usecase"
)

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
	log, err := logger.NewLogger("warn")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	fmt.Printf("Checking exchange %s (%s)...\n", cfg.Exchange.Name, cfg.Exchange.PortfolioType)
	sim := exchange.NewSimulatedExchange(cfg.Exchange.DomainMarkets(), cfg.Exchange.Balances,
		cfg.Exchange.MakerFee, cfg.Exchange.TakerFee, log)
	ctx := context.Background()

	// 2. Check Markets
	markets, err := sim.LoadMarkets(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to load markets: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ %d markets\n", len(markets))
	for _, m := range markets {
		fmt.Printf("   %s amount_precision=%d price_precision=%d min_amount=%s min_cost=%s\n",
			m.Symbol, m.AmountPrecision, m.PricePrecision, m.MinAmount, m.MinCost)
	}

	// 3. Check Personal Data
	data, err := usecase.NewPersonalData(usecase.PersonalDataConfig{
		Exchange:      cfg.Exchange.Name,
		PortfolioType: cfg.Exchange.DomainPortfolioType(),
		Symbols:       cfg.Trading.Symbols,
	}, usecase.Dependencies{Gateway: sim}, log)
	if err != nil {
		fmt.Printf("❌ Failed to init personal data: %v\n", err)
		os.Exit(1)
	}
	defer data.Close()
	if err := data.Initialize(ctx); err != nil {
		fmt.Printf("❌ Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	snapshot := data.Portfolio().Snapshot()
	assets := make([]string, 0, len(snapshot))
	for name := range snapshot {
		assets = append(assets, name)
	}
	sort.Strings(assets)
	fmt.Printf("✅ Portfolio (%d assets):\n", len(assets))
	for _, name := range assets {
		a := snapshot[name]
		fmt.Printf("   %s available=%s total=%s\n", name, a.Available, a.Total)
	}

	remaining, subs := data.ResolveSubPortfolios(cfg.SubPortfolios.SubPortfolios())
	for _, s := range subs {
		fmt.Printf("✅ Sub portfolio %s: resolved=%v missing=%v\n", s.ID, s.Resolved, s.MissingFunds)
	}
	if len(subs) > 0 {
		fmt.Printf("   remaining=%v\n", remaining)
	}
}
