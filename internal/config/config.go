package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/portfolio"
)

// EnvPrefix prefixes every environment override, e.g. TRADECORE_LOGGING_LEVEL.
const EnvPrefix = "TRADECORE"

type Config struct {
	Exchange      ExchangeConfig      `yaml:"exchange" envconfig:"EXCHANGE"`
	Trading       TradingConfig       `yaml:"trading" envconfig:"TRADING"`
	Inference     InferenceConfig     `yaml:"inference" envconfig:"INFERENCE"`
	SubPortfolios SubPortfoliosConfig `yaml:"sub_portfolios" envconfig:"SUB_PORTFOLIOS"`
	Logging       LoggingConfig       `yaml:"logging" envconfig:"LOGGING"`
	Storage       StorageConfig       `yaml:"storage" envconfig:"STORAGE"`
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
}

type ExchangeConfig struct {
	Name          string                     `yaml:"name" split_words:"true" validate:"required"`
	PortfolioType string                     `yaml:"portfolio_type" split_words:"true" validate:"oneof=spot margin future"`
	PositionMode  string                     `yaml:"position_mode" split_words:"true" validate:"oneof=one_way hedge"`
	MakerFee      decimal.Decimal            `yaml:"maker_fee" split_words:"true" validate:"gte=0,lt=1"`
	TakerFee      decimal.Decimal            `yaml:"taker_fee" split_words:"true" validate:"gte=0,lt=1"`
	Balances      map[string]decimal.Decimal `yaml:"balances" split_words:"true"`
	Markets       []MarketConfig             `yaml:"markets" ignored:"true" validate:"dive"`
}

// MarketConfig describes a market of the simulated exchange.
type MarketConfig struct {
	Symbol          string          `yaml:"symbol" validate:"required"`
	AmountPrecision int32           `yaml:"amount_precision" validate:"gte=0"`
	PricePrecision  int32           `yaml:"price_precision" validate:"gte=0"`
	MinAmount       decimal.Decimal `yaml:"min_amount" validate:"gte=0"`
	MaxAmount       decimal.Decimal `yaml:"max_amount" validate:"gte=0"`
	MinCost         decimal.Decimal `yaml:"min_cost" validate:"gte=0"`
	MaxCost         decimal.Decimal `yaml:"max_cost" validate:"gte=0"`
	ContractType    string          `yaml:"contract_type"`
	ContractSize    decimal.Decimal `yaml:"contract_size" validate:"gte=0"`
}

type TradingConfig struct {
	Symbols           []string      `yaml:"symbols" split_words:"true"`
	TimeFrames        []string      `yaml:"time_frames" split_words:"true" validate:"min=1"`
	CandlesCapacity   int           `yaml:"candles_capacity" split_words:"true" validate:"gt=0"`
	SyncTimeout       time.Duration `yaml:"sync_timeout" split_words:"true" validate:"gt=0"`
	MarkPriceWait     time.Duration `yaml:"mark_price_wait" split_words:"true" validate:"gt=0"`
	RefreshTier       string        `yaml:"refresh_tier" split_words:"true" validate:"oneof=short medium long"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" split_words:"true" validate:"gte=0"`
	Bridges           []string      `yaml:"bridges" split_words:"true"`
}

type InferenceConfig struct {
	FeeCeiling  decimal.Decimal `yaml:"fee_ceiling" split_words:"true" validate:"gt=0,lt=1"`
	InlineLimit int             `yaml:"inline_limit" split_words:"true" validate:"gt=0"`
	// Timeout bounds the filled orders search run while every symbol is
	// locked. An explicit 0 lets it run unbounded.
	Timeout                  time.Duration `yaml:"timeout" split_words:"true" validate:"gte=0"`
	RandomizeSecondaryChecks bool          `yaml:"randomize_secondary_checks" split_words:"true"`
}

// EngineTimeout maps Timeout to the inference engine, where zero would mean
// the default bound.
func (c InferenceConfig) EngineTimeout() time.Duration {
	if c.Timeout == 0 {
		return portfolio.NoInferenceTimeout
	}
	return c.Timeout
}

type SubPortfoliosConfig struct {
	AllowedMissingRatio decimal.Decimal          `yaml:"allowed_missing_ratio" split_words:"true" validate:"gte=0,lt=1"`
	Declared            []SubPortfolioDefinition `yaml:"declared" ignored:"true" validate:"dive"`
}

// SubPortfolioDefinition declares the holdings reserved for one strategy.
type SubPortfolioDefinition struct {
	ID                     string                     `yaml:"id" validate:"required"`
	Priority               int                        `yaml:"priority"`
	Content                map[string]decimal.Decimal `yaml:"content" validate:"required"`
	AllowedFillingAssets   []string                   `yaml:"allowed_filling_assets"`
	ForbiddenFillingAssets []string                   `yaml:"forbidden_filling_assets"`
}

type LoggingConfig struct {
	Level string `yaml:"level" split_words:"true" validate:"oneof=debug info warn error"`
	File  string `yaml:"file" split_words:"true"`
}

type StorageConfig struct {
	Path string `yaml:"path" split_words:"true" validate:"required"`
}

type ServerConfig struct {
	Port int `yaml:"port" split_words:"true" validate:"gte=0,lte=65535"`
}

// Default returns the configuration used for every value the file and the
// environment leave unset.
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Name:          "simulated",
			PortfolioType: string(domain.PortfolioSpot),
			PositionMode:  "one_way",
			MakerFee:      decimal.RequireFromString("0.001"),
			TakerFee:      decimal.RequireFromString("0.001"),
		},
		Trading: TradingConfig{
			TimeFrames:      []string{"1m"},
			CandlesCapacity: 500,
			SyncTimeout:     30 * time.Second,
			MarkPriceWait:   5 * time.Minute,
			RefreshTier:     "medium",
			Bridges:         []string{"USDT", "BTC"},
		},
		Inference: InferenceConfig{
			FeeCeiling:  decimal.RequireFromString("0.012"),
			InlineLimit: 20,
			Timeout:     portfolio.DefaultInferenceTimeout,
		},
		SubPortfolios: SubPortfoliosConfig{
			AllowedMissingRatio: decimal.RequireFromString("0.001"),
		},
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{Path: "trade_core.db"},
		Server:  ServerConfig{Port: 8080},
	}
}

// Load reads the YAML file at path (skipped when empty), applies the .env
// file and TRADECORE_* environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SubPortfolios converts the declared sub-portfolios.
func (s SubPortfoliosConfig) SubPortfolios() []portfolio.SubPortfolio {
	out := make([]portfolio.SubPortfolio, 0, len(s.Declared))
	for _, d := range s.Declared {
		out = append(out, portfolio.SubPortfolio{
			ID:                     d.ID,
			Priority:               d.Priority,
			Content:                d.Content,
			AllowedFillingAssets:   d.AllowedFillingAssets,
			ForbiddenFillingAssets: d.ForbiddenFillingAssets,
		})
	}
	return out
}

func (e ExchangeConfig) DomainPortfolioType() domain.PortfolioType {
	return domain.PortfolioType(e.PortfolioType)
}

// DomainMarkets converts the configured markets.
func (e ExchangeConfig) DomainMarkets() []domain.Market {
	out := make([]domain.Market, 0, len(e.Markets))
	for _, m := range e.Markets {
		base, quote, settlement := domain.ParseSymbol(m.Symbol)
		out = append(out, domain.Market{
			Symbol:          m.Symbol,
			Base:            base,
			Quote:           quote,
			Settlement:      settlement,
			Type:            e.DomainPortfolioType(),
			ContractType:    domain.ContractType(m.ContractType),
			ContractSize:    m.ContractSize,
			AmountPrecision: m.AmountPrecision,
			PricePrecision:  m.PricePrecision,
			MinAmount:       m.MinAmount,
			MaxAmount:       m.MaxAmount,
			MinCost:         m.MinCost,
			MaxCost:         m.MaxCost,
			MakerFee:        e.MakerFee,
			TakerFee:        e.TakerFee,
		})
	}
	return out
}
