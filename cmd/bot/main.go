package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/config"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_core/internal/market"
	"github.com/vitos/crypto_trade_core/internal/portfolio"
	"github.com/vitos/crypto_trade_core/internal/positions"
	"github.com/vitos/crypto_trade_core/internal/usecase"
	"github.com/vitos/crypto_trade_core/internal/web"
)

func personalDataConfig(cfg *config.Config) usecase.PersonalDataConfig {
	return usecase.PersonalDataConfig{
		Exchange:        cfg.Exchange.Name,
		PortfolioType:   cfg.Exchange.DomainPortfolioType(),
		PositionMode:    positions.Mode(cfg.Exchange.PositionMode),
		Symbols:         cfg.Trading.Symbols,
		TimeFrames:      cfg.Trading.TimeFrames,
		CandlesCapacity: cfg.Trading.CandlesCapacity,
		RefreshTier:     market.RefreshTier(cfg.Trading.RefreshTier),
		SyncTimeout:     cfg.Trading.SyncTimeout,
		MarkPriceWait:   cfg.Trading.MarkPriceWait,
		Inference: portfolio.InferenceConfig{
			FeeCeiling:               cfg.Inference.FeeCeiling,
			InlineLimit:              cfg.Inference.InlineLimit,
			Timeout:                  cfg.Inference.EngineTimeout(),
			RandomizeSecondaryChecks: cfg.Inference.RandomizeSecondaryChecks,
			Seed:                     time.Now().UnixNano(),
		},
		AllowedMissingRatio: cfg.SubPortfolios.AllowedMissingRatio,
		Bridges:             cfg.Trading.Bridges,
	}
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

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (simulated)
	sim := exchange.NewSimulatedExchange(
		cfg.Exchange.DomainMarkets(),
		cfg.Exchange.Balances,
		cfg.Exchange.MakerFee,
		cfg.Exchange.TakerFee,
		log,
	)

	// 5. Init Personal Data
	data, err := usecase.NewPersonalData(personalDataConfig(cfg), usecase.Dependencies{
		Gateway:         sim,
		Metadata:        store,
		TradeRepository: store,
	}, log)
	if err != nil {
		log.Fatal("Failed to init personal data", zap.Error(err))
	}
	defer data.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data.Attach(sim)
	if err := data.Initialize(ctx); err != nil {
		log.Fatal("Failed to initialize personal data", zap.Error(err))
	}
	go data.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 6. Balance Reconcile Loop
	if cfg.Trading.ReconcileInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Trading.ReconcileInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if _, err := data.ReconcileBalance(ctx); err != nil {
						log.Error("Failed to reconcile balance", zap.Error(err))
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// 7. Recent Trades Price Fallback
	go func() {
		ticker := time.NewTicker(market.RefreshTier(cfg.Trading.RefreshTier).Validity() / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, symbol := range data.Symbols() {
					recent, err := sim.FetchRecentTrades(ctx, symbol)
					if err != nil {
						log.Error("Failed to fetch recent trades", zap.String("symbol", symbol), zap.Error(err))
						continue
					}
					if len(recent) == 0 {
						continue
					}
					if err := data.HandleRecentTrades(symbol, recent); err != nil {
						log.Debug("Recent trades ignored", zap.String("symbol", symbol), zap.Error(err))
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// 8. Start Server
	server := web.NewServer(cfg.Server.Port, data, cfg.SubPortfolios.SubPortfolios(), log)
	server.SetPriceInjector(sim.SetPrice)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	<-stop

	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down web server", zap.Error(err))
	}
	cancel()
}
