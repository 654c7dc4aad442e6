package config

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConsolidationConfig holds the business rules of the consolidation engine.
type ConsolidationConfig struct {
	MinContactIntervalDays int                `mapstructure:"minContactIntervalDays"`
	MaxInvoicesPerReminder int                `mapstructure:"maxInvoicesPerReminder"`
	BaseCurrency           string             `mapstructure:"baseCurrency"`
	DailySendQuota         int                `mapstructure:"dailySendQuota"`
	Scoring                ScoringConfig      `mapstructure:"scoring"`
	EscalationBands        []EscalationBand   `mapstructure:"escalationBands"`
	Bulk                   BulkConfig         `mapstructure:"bulk"`
	Retry                  RetryConfig        `mapstructure:"retry"`
	Calendar               CalendarConfig     `mapstructure:"calendar"`
	ExchangeRates          map[string]float64 `mapstructure:"exchangeRates"`
}

type ScoringConfig struct {
	AmountCeiling  float64       `mapstructure:"amountCeiling"`
	AgeCeilingDays int           `mapstructure:"ageCeilingDays"`
	Weights        ScoringWeight `mapstructure:"weights"`
}

type ScoringWeight struct {
	Amount         float64 `mapstructure:"amount"`
	Age            float64 `mapstructure:"age"`
	PaymentHistory float64 `mapstructure:"paymentHistory"`
	Relationship   float64 `mapstructure:"relationship"`
}

func (w ScoringWeight) Sum() float64 {
	return w.Amount + w.Age + w.PaymentHistory + w.Relationship
}

func (w ScoringWeight) isZero() bool {
	return w == ScoringWeight{}
}

type EscalationBand struct {
	Level   string `mapstructure:"level"`
	MinDays int    `mapstructure:"minDays"`
}

type BulkConfig struct {
	MaxBatchSize     int           `mapstructure:"maxBatchSize"`
	Concurrency      int           `mapstructure:"concurrency"`
	DefaultSendDelay time.Duration `mapstructure:"defaultSendDelay"`
	BatchTimeout     time.Duration `mapstructure:"batchTimeout"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	BaseDelay   time.Duration `mapstructure:"baseDelay"`
	MaxDelay    time.Duration `mapstructure:"maxDelay"`
}

type CalendarConfig struct {
	Timezone  string           `mapstructure:"timezone"`
	Workdays  []string         `mapstructure:"workdays"`
	OpenTime  string           `mapstructure:"openTime"`
	CloseTime string           `mapstructure:"closeTime"`
	Holidays  []string         `mapstructure:"holidays"`
	Blackouts []BlackoutWindow `mapstructure:"blackouts"`
}

// BlackoutWindow excludes a daily time range; an empty Weekdays list applies every day.
type BlackoutWindow struct {
	Name     string   `mapstructure:"name"`
	Weekdays []string `mapstructure:"weekdays"`
	Start    string   `mapstructure:"start"`
	End      string   `mapstructure:"end"`
}

func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		MinContactIntervalDays: 7,
		MaxInvoicesPerReminder: 25,
		BaseCurrency:           "AED",
		DailySendQuota:         0,
		Scoring: ScoringConfig{
			AmountCeiling:  25_000,
			AgeCeilingDays: 60,
			Weights: ScoringWeight{
				Amount:         0.40,
				Age:            0.30,
				PaymentHistory: 0.20,
				Relationship:   0.10,
			},
		},
		EscalationBands: []EscalationBand{
			{Level: "polite", MinDays: 0},
			{Level: "firm", MinDays: 14},
			{Level: "urgent", MinDays: 31},
			{Level: "final", MinDays: 61},
		},
		Bulk: BulkConfig{
			MaxBatchSize:     150,
			Concurrency:      5,
			DefaultSendDelay: 5 * time.Minute,
			BatchTimeout:     2 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
		Calendar: CalendarConfig{
			Timezone:  "Asia/Dubai",
			Workdays:  []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
			OpenTime:  "09:00",
			CloseTime: "18:00",
			Blackouts: []BlackoutWindow{
				{Name: "jumuah", Weekdays: []string{"friday"}, Start: "12:00", End: "14:30"},
			},
		},
		ExchangeRates: map[string]float64{
			"AED": 1,
			"USD": 3.6725,
			"EUR": 4.0,
			"GBP": 4.65,
			"SAR": 0.9793,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConsolidationConfig.
func (c ConsolidationConfig) WithDefaults() ConsolidationConfig {
	defaults := DefaultConsolidationConfig()
	if c.MinContactIntervalDays == 0 {
		c.MinContactIntervalDays = defaults.MinContactIntervalDays
	}
	if c.MaxInvoicesPerReminder <= 0 {
		c.MaxInvoicesPerReminder = defaults.MaxInvoicesPerReminder
	}
	if strings.TrimSpace(c.BaseCurrency) == "" {
		c.BaseCurrency = defaults.BaseCurrency
	}
	c.BaseCurrency = strings.ToUpper(strings.TrimSpace(c.BaseCurrency))
	if c.Scoring.AmountCeiling == 0 {
		c.Scoring.AmountCeiling = defaults.Scoring.AmountCeiling
	}
	if c.Scoring.AgeCeilingDays == 0 {
		c.Scoring.AgeCeilingDays = defaults.Scoring.AgeCeilingDays
	}
	if c.Scoring.Weights.isZero() {
		c.Scoring.Weights = defaults.Scoring.Weights
	}
	if len(c.EscalationBands) == 0 {
		c.EscalationBands = defaults.EscalationBands
	}
	if c.Bulk.MaxBatchSize <= 0 {
		c.Bulk.MaxBatchSize = defaults.Bulk.MaxBatchSize
	}
	if c.Bulk.Concurrency <= 0 {
		c.Bulk.Concurrency = defaults.Bulk.Concurrency
	}
	if c.Bulk.DefaultSendDelay <= 0 {
		c.Bulk.DefaultSendDelay = defaults.Bulk.DefaultSendDelay
	}
	if c.Bulk.BatchTimeout <= 0 {
		c.Bulk.BatchTimeout = defaults.Bulk.BatchTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = defaults.Retry.BaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = defaults.Retry.MaxDelay
	}
	if strings.TrimSpace(c.Calendar.Timezone) == "" {
		c.Calendar.Timezone = defaults.Calendar.Timezone
	}
	if len(c.Calendar.Workdays) == 0 {
		c.Calendar.Workdays = defaults.Calendar.Workdays
	}
	if c.Calendar.OpenTime == "" {
		c.Calendar.OpenTime = defaults.Calendar.OpenTime
	}
	if c.Calendar.CloseTime == "" {
		c.Calendar.CloseTime = defaults.Calendar.CloseTime
	}
	if c.Calendar.Blackouts == nil {
		c.Calendar.Blackouts = defaults.Calendar.Blackouts
	}
	if len(c.ExchangeRates) == 0 {
		c.ExchangeRates = defaults.ExchangeRates
	}
	// viper lower-cases map keys
	rates := make(map[string]float64, len(c.ExchangeRates))
	for code, rate := range c.ExchangeRates {
		rates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	c.ExchangeRates = rates
	return c
}

func ValidateConsolidationConfig(cfg ConsolidationConfig) error {
	var errs []error
	if cfg.MinContactIntervalDays < 0 {
		errs = append(errs, errors.New("consolidation.minContactIntervalDays cannot be negative"))
	}
	if cfg.MaxInvoicesPerReminder < 2 {
		errs = append(errs, errors.New("consolidation.maxInvoicesPerReminder must be at least 2"))
	}
	if cfg.Scoring.AmountCeiling <= 0 || cfg.Scoring.AgeCeilingDays <= 0 {
		errs = append(errs, errors.New("consolidation.scoring ceilings must be positive"))
	}
	w := cfg.Scoring.Weights
	if w.Amount < 0 || w.Age < 0 || w.PaymentHistory < 0 || w.Relationship < 0 {
		errs = append(errs, errors.New("consolidation.scoring.weights cannot be negative"))
	}
	if math.Abs(w.Sum()-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("consolidation.scoring.weights must sum to 1, got %.4f", w.Sum()))
	}
	if len(cfg.EscalationBands) == 0 {
		errs = append(errs, errors.New("consolidation.escalationBands cannot be empty"))
	}
	for i, band := range cfg.EscalationBands {
		if strings.TrimSpace(band.Level) == "" {
			errs = append(errs, fmt.Errorf("consolidation.escalationBands[%d].level is required", i))
		}
		if i > 0 && band.MinDays <= cfg.EscalationBands[i-1].MinDays {
			errs = append(errs, errors.New("consolidation.escalationBands must be ordered by increasing minDays"))
		}
	}
	if cfg.Bulk.MaxBatchSize <= 0 || cfg.Bulk.Concurrency <= 0 {
		errs = append(errs, errors.New("consolidation.bulk sizes must be positive"))
	}
	if _, ok := cfg.ExchangeRates[cfg.BaseCurrency]; !ok {
		errs = append(errs, fmt.Errorf("consolidation.exchangeRates missing base currency %s", cfg.BaseCurrency))
	}
	for code, rate := range cfg.ExchangeRates {
		if rate <= 0 {
			errs = append(errs, fmt.Errorf("consolidation.exchangeRates[%s] must be positive", code))
		}
	}
	return errors.Join(errs...)
}

// ConsolidationConfigHolder serves the current rules and swaps them on file changes.
type ConsolidationConfigHolder struct {
	current atomic.Value // holds ConsolidationConfig

	mu        sync.Mutex
	listeners []func(ConsolidationConfig)
}

// NewStaticConsolidationConfigHolder returns a holder that never reloads.
func NewStaticConsolidationConfigHolder(cfg ConsolidationConfig) *ConsolidationConfigHolder {
	holder := &ConsolidationConfigHolder{}
	holder.current.Store(cfg.WithDefaults())
	return holder
}

func NewConsolidationConfigHolder(appCfg Config) (*ConsolidationConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("consolidation")
	v.SetConfigType("yml")
	if appCfg.ConsolidationConfigPath != "" {
		v.AddConfigPath(appCfg.ConsolidationConfigPath)
	}
	v.AddConfigPath("/etc/reminder")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REMINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg := DefaultConsolidationConfig()
	if fileFound {
		var loaded ConsolidationConfig
		if err := v.UnmarshalKey("consolidation", &loaded); err != nil {
			return nil, err
		}
		cfg = loaded.WithDefaults()
	}
	if err := ValidateConsolidationConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ConsolidationConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated ConsolidationConfig
			if err := v.UnmarshalKey("consolidation", &updated); err != nil {
				log.Printf("[consolidation-config] reload failed: %v", err)
				return
			}
			updated = updated.WithDefaults()
			if err := ValidateConsolidationConfig(updated); err != nil {
				log.Printf("[consolidation-config] invalid config ignored: %v", err)
				return
			}
			holder.store(updated)
			log.Printf("[consolidation-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *ConsolidationConfigHolder) Get() ConsolidationConfig {
	if h == nil {
		return DefaultConsolidationConfig()
	}
	cfg, ok := h.current.Load().(ConsolidationConfig)
	if !ok {
		return DefaultConsolidationConfig()
	}
	return cfg
}

// OnChange registers fn to run after every accepted reload.
func (h *ConsolidationConfigHolder) OnChange(fn func(ConsolidationConfig)) {
	if h == nil || fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *ConsolidationConfigHolder) store(cfg ConsolidationConfig) {
	h.current.Store(cfg)

	h.mu.Lock()
	listeners := append([]func(ConsolidationConfig){}, h.listeners...)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}
