package ops

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"qtrader/internal/agenda"
	"qtrader/internal/ledger"
)

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Account  AccountConfig  `yaml:"account"`
	Loop     LoopConfig     `yaml:"loop"`
	Broker   BrokerConfig   `yaml:"broker"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ExchangeConfig describes the market the trader runs against.
type ExchangeConfig struct {
	Name           string   `yaml:"name"`
	Timezone       string   `yaml:"timezone"`
	MorningOpen    string   `yaml:"morningOpen"`
	MorningClose   string   `yaml:"morningClose"`
	AfternoonOpen  string   `yaml:"afternoonOpen"`
	AfternoonClose string   `yaml:"afternoonClose"`
	OffsetMinutes  int      `yaml:"offsetMinutes"`
	Holidays       []string `yaml:"holidays"`
	CashDelivery   int      `yaml:"cashDeliveryDays"`
	StockDelivery  int      `yaml:"stockDeliveryDays"`
}

// AccountConfig seeds the trading account.
type AccountConfig struct {
	Owner     string   `yaml:"owner"`
	InitCash  string   `yaml:"initCash"`
	AssetPool []string `yaml:"assetPool"`
}

// LoopConfig tunes the trader loop pace.
type LoopConfig struct {
	TradingIntervalMS int `yaml:"tradingIntervalMs"`
	IdleIntervalMS    int `yaml:"idleIntervalMs"`
}

// BrokerConfig tunes the simulated exchange boundary.
type BrokerConfig struct {
	QueueSize      int     `yaml:"queueSize"`
	OrdersPerSec   float64 `yaml:"ordersPerSec"`
	Burst          int     `yaml:"burst"`
	FeeRate        string  `yaml:"feeRate"`
	PollIntervalMS int     `yaml:"pollIntervalMs"`
}

// StorageConfig points at the persistence backends.
type StorageConfig struct {
	PostgresDSN string `yaml:"postgresDsn"`
	CandlePath  string `yaml:"candlePath"`
	MessagePath string `yaml:"messagePath"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Exchange string
	Location *time.Location
	Session  agenda.Session
	Calendar *agenda.Calendar
	Delivery ledger.DeliveryPeriods

	Owner     string
	InitCash  decimal.Decimal
	AssetPool []string

	TradingInterval time.Duration
	IdleInterval    time.Duration

	BrokerQueueSize int
	BrokerRate      float64
	BrokerBurst     int
	BrokerPoll      time.Duration
	FeeRate         decimal.Decimal

	PostgresDSN string
	CandlePath  string
	MessagePath string
}

// Load reads a YAML config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	session, err := resolveSession(cfg.Exchange)
	if err != nil {
		return Loaded{}, err
	}
	loc := time.Local
	if cfg.Exchange.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Exchange.Timezone)
		if err != nil {
			return Loaded{}, fmt.Errorf("invalid timezone %s: %w", cfg.Exchange.Timezone, err)
		}
	}
	calendar, err := agenda.NewCalendar(cfg.Exchange.Holidays)
	if err != nil {
		return Loaded{}, err
	}
	if cfg.Exchange.CashDelivery < 0 || cfg.Exchange.StockDelivery < 0 {
		return Loaded{}, fmt.Errorf("delivery periods must be >= 0")
	}

	if cfg.Account.Owner == "" {
		return Loaded{}, fmt.Errorf("account owner is empty")
	}
	initCash, err := resolveDecimal(cfg.Account.InitCash, decimal.Zero)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid initCash: %w", err)
	}
	if initCash.IsNegative() {
		return Loaded{}, fmt.Errorf("initCash must be >= 0")
	}
	if len(cfg.Account.AssetPool) == 0 {
		return Loaded{}, fmt.Errorf("asset pool is empty")
	}

	feeRate, err := resolveDecimal(cfg.Broker.FeeRate, decimal.Zero)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid feeRate: %w", err)
	}
	if feeRate.IsNegative() {
		return Loaded{}, fmt.Errorf("feeRate must be >= 0")
	}

	loaded := Loaded{
		Exchange: cfg.Exchange.Name,
		Location: loc,
		Session:  session,
		Calendar: calendar,
		Delivery: ledger.DeliveryPeriods{
			Cash:  cfg.Exchange.CashDelivery,
			Stock: cfg.Exchange.StockDelivery,
		},
		Owner:           cfg.Account.Owner,
		InitCash:        initCash,
		AssetPool:       cfg.Account.AssetPool,
		TradingInterval: millis(cfg.Loop.TradingIntervalMS, 100*time.Millisecond),
		IdleInterval:    millis(cfg.Loop.IdleIntervalMS, time.Second),
		BrokerQueueSize: cfg.Broker.QueueSize,
		BrokerRate:      cfg.Broker.OrdersPerSec,
		BrokerBurst:     cfg.Broker.Burst,
		BrokerPoll:      millis(cfg.Broker.PollIntervalMS, 100*time.Millisecond),
		FeeRate:         feeRate,
		PostgresDSN:     cfg.Storage.PostgresDSN,
		CandlePath:      cfg.Storage.CandlePath,
		MessagePath:     cfg.Storage.MessagePath,
	}
	return loaded, nil
}

func resolveSession(cfg ExchangeConfig) (agenda.Session, error) {
	parse := func(field, raw string) (agenda.Clock, error) {
		if raw == "" {
			return 0, fmt.Errorf("%s is empty", field)
		}
		c, err := agenda.ParseClock(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", field, err)
		}
		return c, nil
	}
	var (
		session agenda.Session
		err     error
	)
	if session.MorningOpen, err = parse("morningOpen", cfg.MorningOpen); err != nil {
		return agenda.Session{}, err
	}
	if session.MorningClose, err = parse("morningClose", cfg.MorningClose); err != nil {
		return agenda.Session{}, err
	}
	if session.AfternoonOpen, err = parse("afternoonOpen", cfg.AfternoonOpen); err != nil {
		return agenda.Session{}, err
	}
	if session.AfternoonClose, err = parse("afternoonClose", cfg.AfternoonClose); err != nil {
		return agenda.Session{}, err
	}
	if cfg.OffsetMinutes < 0 {
		return agenda.Session{}, fmt.Errorf("offsetMinutes must be >= 0")
	}
	session.Offset = time.Duration(cfg.OffsetMinutes) * time.Minute
	if err := session.Validate(); err != nil {
		return agenda.Session{}, err
	}
	return session, nil
}

func resolveDecimal(raw string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if raw == "" {
		return fallback, nil
	}
	return decimal.NewFromString(raw)
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
