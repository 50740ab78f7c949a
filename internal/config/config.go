package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/quote-sourcing/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache       CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Sourcing    SourcingConfig   `yaml:"sourcing" mapstructure:"sourcing"`
	Selection   SelectionConfig  `yaml:"selection" mapstructure:"selection"`
	Calls       CallsConfig      `yaml:"calls" mapstructure:"calls"`
	Voice       VoiceConfig      `yaml:"voice" mapstructure:"voice"`
	Browser     BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Partner     PartnerConfig    `yaml:"partner" mapstructure:"partner"`
	Shop        ShopConfig       `yaml:"shop" mapstructure:"shop"`
	CatalogPath string           `yaml:"catalog_path" mapstructure:"catalog_path"`
	Vendors     []model.Vendor   `yaml:"vendors" mapstructure:"vendors"`
	VendorsPath string           `yaml:"vendors_path" mapstructure:"vendors_path"`
	Server      ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the call-history database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CacheConfig configures the quote cache.
type CacheConfig struct {
	Driver   string      `yaml:"driver" mapstructure:"driver"`
	TTLHours int         `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	Shards   int         `yaml:"shards" mapstructure:"shards"`
	Redis    RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings for the shared cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// SourcingConfig configures the coordinator.
type SourcingConfig struct {
	// Mode is "thorough" (wait for every adapter) or "fast" (first success).
	Mode               string   `yaml:"mode" mapstructure:"mode"`
	AdapterTimeoutSecs int      `yaml:"adapter_timeout_secs" mapstructure:"adapter_timeout_secs"`
	Escalate           bool     `yaml:"escalate" mapstructure:"escalate"`
	DisabledAdapters   []string `yaml:"disabled_adapters" mapstructure:"disabled_adapters"`
}

// SelectionWeights are the five factor weights. They must sum to 1.0.
type SelectionWeights struct {
	Price        float64 `yaml:"price" mapstructure:"price"`
	Availability float64 `yaml:"availability" mapstructure:"availability"`
	Delivery     float64 `yaml:"delivery" mapstructure:"delivery"`
	Quality      float64 `yaml:"quality" mapstructure:"quality"`
	Relationship float64 `yaml:"relationship" mapstructure:"relationship"`
}

// SelectionConfig holds the quote ranking weights and lookup tables.
type SelectionConfig struct {
	Weights            SelectionWeights   `yaml:"weights" mapstructure:"weights"`
	AvailabilityScores map[string]float64 `yaml:"availability_scores" mapstructure:"availability_scores"`
	QualityScores      map[string]float64 `yaml:"quality_scores" mapstructure:"quality_scores"`
	PriceDecay         float64            `yaml:"price_decay" mapstructure:"price_decay"`
	BudgetPriceDecay   float64            `yaml:"budget_price_decay" mapstructure:"budget_price_decay"`
	UrgentPriceScore   float64            `yaml:"urgent_price_score" mapstructure:"urgent_price_score"`
	NeutralScore       float64            `yaml:"neutral_score" mapstructure:"neutral_score"`

	UrgentInStockBonus        float64 `yaml:"urgent_in_stock_bonus" mapstructure:"urgent_in_stock_bonus"`
	UrgentNotInStockPenalty   float64 `yaml:"urgent_not_in_stock_penalty" mapstructure:"urgent_not_in_stock_penalty"`
	UrgentFastDeliveryBonus   float64 `yaml:"urgent_fast_delivery_bonus" mapstructure:"urgent_fast_delivery_bonus"`
	UrgentSlowDeliveryPenalty float64 `yaml:"urgent_slow_delivery_penalty" mapstructure:"urgent_slow_delivery_penalty"`

	PremiumQualityBonus   float64 `yaml:"premium_quality_bonus" mapstructure:"premium_quality_bonus"`
	EconomyQualityPenalty float64 `yaml:"economy_quality_penalty" mapstructure:"economy_quality_penalty"`
	OldVehicleBonus       float64 `yaml:"old_vehicle_bonus" mapstructure:"old_vehicle_bonus"`
	PreferenceBonus       float64 `yaml:"preference_bonus" mapstructure:"preference_bonus"`

	TopVendorBonus  float64 `yaml:"top_vendor_bonus" mapstructure:"top_vendor_bonus"`
	SpecialtyBonus  float64 `yaml:"specialty_bonus" mapstructure:"specialty_bonus"`
	PriorityStep    float64 `yaml:"priority_step" mapstructure:"priority_step"`
	TopVendorSlots  int     `yaml:"top_vendor_slots" mapstructure:"top_vendor_slots"`
	MaxAlternatives int     `yaml:"max_alternatives" mapstructure:"max_alternatives"`
	NewVehicleYears int     `yaml:"new_vehicle_years" mapstructure:"new_vehicle_years"`
	OldVehicleYears int     `yaml:"old_vehicle_years" mapstructure:"old_vehicle_years"`
}

// CallsConfig configures the call orchestrator.
type CallsConfig struct {
	TimeoutMins       int     `yaml:"timeout_mins" mapstructure:"timeout_mins"`
	PriceConfidence   float64 `yaml:"price_confidence" mapstructure:"price_confidence"`
	NoPriceConfidence float64 `yaml:"no_price_confidence" mapstructure:"no_price_confidence"`
	MaxConcurrent     int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	ShopName          string  `yaml:"shop_name" mapstructure:"shop_name"`
}

// VoiceConfig holds voice platform settings.
type VoiceConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	Key           string  `yaml:"key" mapstructure:"key"`
	WebhookSecret string  `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// BrowserConfig holds browser-automation service settings.
type BrowserConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	Key             string  `yaml:"key" mapstructure:"key"`
	StepTimeoutSecs int     `yaml:"step_timeout_secs" mapstructure:"step_timeout_secs"`
	RateLimit       float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	SitesPath       string  `yaml:"sites_path" mapstructure:"sites_path"`
}

// PartnerConfig holds partner SOAP API credentials.
type PartnerConfig struct {
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	Account     string `yaml:"account" mapstructure:"account"`
	VendorID    string `yaml:"vendor_id" mapstructure:"vendor_id"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ShopConfig holds the shop's pricing policy.
type ShopConfig struct {
	LaborRate     float64 `yaml:"labor_rate" mapstructure:"labor_rate"`
	PartsMarkup   float64 `yaml:"parts_markup" mapstructure:"parts_markup"`
	MinPartMarkup float64 `yaml:"min_part_markup" mapstructure:"min_part_markup"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the call-health checker run by serve. Rates
// are not alerted on until MinFinishedCalls calls have finished in the window.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	NoPriceRateThreshold float64 `yaml:"no_price_rate_threshold" mapstructure:"no_price_rate_threshold"`
	MinFinishedCalls     int     `yaml:"min_finished_calls" mapstructure:"min_finished_calls"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("QUOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "quotes.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.shards", 16)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.prefix", "quote:")
	v.SetDefault("sourcing.mode", "thorough")
	v.SetDefault("sourcing.adapter_timeout_secs", 90)
	v.SetDefault("sourcing.escalate", true)
	v.SetDefault("calls.timeout_mins", 10)
	v.SetDefault("calls.price_confidence", 0.8)
	v.SetDefault("calls.no_price_confidence", 0.3)
	v.SetDefault("calls.max_concurrent", 5)
	v.SetDefault("calls.shop_name", "the shop")
	v.SetDefault("voice.rate_limit", 2.0)
	v.SetDefault("browser.step_timeout_secs", 30)
	v.SetDefault("browser.rate_limit", 5.0)
	v.SetDefault("partner.vendor_id", "partner")
	v.SetDefault("partner.timeout_secs", 30)
	v.SetDefault("shop.labor_rate", 120.0)
	v.SetDefault("shop.parts_markup", 0.35)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.no_price_rate_threshold", 0.6)
	v.SetDefault("monitoring.min_finished_calls", 5)
	setSelectionDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setSelectionDefaults(v *viper.Viper) {
	v.SetDefault("selection.weights.price", 0.30)
	v.SetDefault("selection.weights.availability", 0.25)
	v.SetDefault("selection.weights.delivery", 0.20)
	v.SetDefault("selection.weights.quality", 0.15)
	v.SetDefault("selection.weights.relationship", 0.10)
	v.SetDefault("selection.availability_scores", map[string]float64{
		"in_stock": 100, "limited_stock": 70, "special_order": 40, "out_of_stock": 0, "unknown": 50,
	})
	v.SetDefault("selection.quality_scores", map[string]float64{
		"oem": 100, "oem_equivalent": 90, "premium": 85, "standard": 70,
		"economy": 50, "remanufactured": 60, "used": 40, "unknown": 50,
	})
	v.SetDefault("selection.price_decay", 0.5)
	v.SetDefault("selection.budget_price_decay", 1.5)
	v.SetDefault("selection.urgent_price_score", 70)
	v.SetDefault("selection.neutral_score", 50)
	v.SetDefault("selection.urgent_in_stock_bonus", 20)
	v.SetDefault("selection.urgent_not_in_stock_penalty", 30)
	v.SetDefault("selection.urgent_fast_delivery_bonus", 20)
	v.SetDefault("selection.urgent_slow_delivery_penalty", 40)
	v.SetDefault("selection.premium_quality_bonus", 15)
	v.SetDefault("selection.economy_quality_penalty", 20)
	v.SetDefault("selection.old_vehicle_bonus", 15)
	v.SetDefault("selection.preference_bonus", 25)
	v.SetDefault("selection.top_vendor_bonus", 10)
	v.SetDefault("selection.specialty_bonus", 5)
	v.SetDefault("selection.priority_step", 10)
	v.SetDefault("selection.top_vendor_slots", 2)
	v.SetDefault("selection.max_alternatives", 3)
	v.SetDefault("selection.new_vehicle_years", 3)
	v.SetDefault("selection.old_vehicle_years", 10)
}

// Validate checks the settings a command mode needs. Modes: "lookup",
// "calls", "serve", "partner", "cache". Selection tables are checked
// separately by the selection package.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "cache":
		errs = append(errs, c.validateCache()...)
	case "partner":
		if c.Partner.Endpoint == "" {
			errs = append(errs, "partner.endpoint is required")
		}
	case "lookup":
		errs = append(errs, c.validateCore()...)
	case "calls":
		errs = append(errs, c.validateCore()...)
		if c.Voice.BaseURL == "" {
			errs = append(errs, "voice.base_url is required")
		}
	case "serve":
		errs = append(errs, c.validateCore()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateCore() []string {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}

	errs = append(errs, c.validateCache()...)

	if c.Sourcing.Mode != "thorough" && c.Sourcing.Mode != "fast" {
		errs = append(errs, fmt.Sprintf("sourcing.mode %q must be thorough or fast", c.Sourcing.Mode))
	}
	if c.Sourcing.AdapterTimeoutSecs <= 0 {
		errs = append(errs, "sourcing.adapter_timeout_secs must be > 0")
	}

	if c.Calls.TimeoutMins <= 0 {
		errs = append(errs, "calls.timeout_mins must be > 0")
	}
	if c.Calls.PriceConfidence < 0 || c.Calls.PriceConfidence > model.MaxHeuristicConfidence {
		errs = append(errs, fmt.Sprintf("calls.price_confidence must be between 0 and %.1f", model.MaxHeuristicConfidence))
	}
	if c.Calls.NoPriceConfidence < 0 || c.Calls.NoPriceConfidence > c.Calls.PriceConfidence {
		errs = append(errs, "calls.no_price_confidence must be between 0 and calls.price_confidence")
	}
	if c.Voice.BaseURL != "" && c.Voice.WebhookSecret == "" {
		errs = append(errs, "voice.webhook_secret is required when voice.base_url is set")
	}
	if c.Calls.MaxConcurrent < 1 || c.Calls.MaxConcurrent > 50 {
		errs = append(errs, "calls.max_concurrent must be between 1 and 50")
	}

	if c.Shop.LaborRate < 0 || c.Shop.PartsMarkup < 0 {
		errs = append(errs, "shop.labor_rate and shop.parts_markup must be >= 0")
	}
	return errs
}

func (c *Config) validateCache() []string {
	var errs []string
	switch c.Cache.Driver {
	case "memory", "":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, "cache.redis.addr is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.driver %q must be memory or redis", c.Cache.Driver))
	}
	if c.Cache.TTLHours <= 0 {
		errs = append(errs, "cache.ttl_hours must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
