package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"

	"github.com/mrcode/loop-caregiver/internal/models"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	LogLevel    string
	LogFormat   string
	HTTPAddr    string
	Sync        SyncConfig
	Display     models.DisplaySettings
	Alerts      AlertConfig
	Redis       RedisConfig
	Loopers     []models.Looper
}

// SyncConfig controls how often and how far back Nightscout is read
type SyncConfig struct {
	RefreshInterval   time.Duration
	FetchTimeout      time.Duration
	GlucoseLookback   time.Duration
	TreatmentLookback time.Duration
	MaxEntries        int
	RetryCount        int
	ForecastEntries   int
}

// AlertConfig enables desktop caregiver alerts
type AlertConfig struct {
	Enabled bool
}

// RedisConfig holds the snapshot cache settings. An empty Addr disables the cache.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
	Channel   string
}

// Enabled reports whether a Redis address is configured
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// looperEntry is one element of the LOOPERS JSON array
type looperEntry struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Secret string `json:"secret"`
	Token  string `json:"token"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	env := &envParser{}

	display := models.DefaultDisplaySettings()
	display.Unit = getEnv("GLUCOSE_UNIT", display.Unit)
	display.TargetLow = env.asInt("TARGET_LOW", display.TargetLow)
	display.TargetHigh = env.asInt("TARGET_HIGH", display.TargetHigh)
	display.UrgentLow = env.asInt("URGENT_LOW", display.UrgentLow)
	display.UrgentHigh = env.asInt("URGENT_HIGH", display.UrgentHigh)
	display.RepeatAlertMinutes = env.asInt("ALERT_REPEAT_MINUTES", display.RepeatAlertMinutes)
	display.EnableCommandAlerts = env.asBool("COMMAND_ALERTS", display.EnableCommandAlerts)

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "loop-caregiver"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		Sync: SyncConfig{
			RefreshInterval:   env.asDuration("REFRESH_INTERVAL", 30*time.Second),
			FetchTimeout:      env.asDuration("FETCH_TIMEOUT", 20*time.Second),
			GlucoseLookback:   env.asDuration("GLUCOSE_LOOKBACK", 24*time.Hour),
			TreatmentLookback: env.asDuration("TREATMENT_LOOKBACK", 24*time.Hour),
			MaxEntries:        env.asInt("MAX_ENTRIES", 1000),
			RetryCount:        env.asInt("NIGHTSCOUT_RETRIES", 2),
			ForecastEntries:   env.asInt("FORECAST_ENTRIES", 60),
		},
		Display: display,
		Alerts: AlertConfig{
			Enabled: env.asBool("ALERTS_ENABLED", false),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        env.asInt("REDIS_DB", 0),
			TTL:       env.asDuration("REDIS_TTL", 15*time.Minute),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "loop-caregiver:snapshot:"),
			Channel:   getEnv("REDIS_CHANNEL", "loop-caregiver:snapshots"),
		},
	}

	if env.errs != nil {
		return nil, env.errs
	}

	loopers, err := loadLoopers()
	if err != nil {
		return nil, err
	}
	cfg.Loopers = loopers

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadLoopers reads LOOPERS, falling back to the single-looper keys
func loadLoopers() ([]models.Looper, error) {
	if raw := os.Getenv("LOOPERS"); raw != "" {
		var entries []looperEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("LOOPERS is not a valid JSON array: %w", err)
		}
		loopers := make([]models.Looper, 0, len(entries))
		for i, entry := range entries {
			name := entry.Name
			if name == "" {
				name = fmt.Sprintf("Looper %d", i+1)
			}
			loopers = append(loopers, models.NewLooper(name, entry.URL, entry.Secret, entry.Token))
		}
		return loopers, nil
	}

	nightscoutURL := getEnv("NIGHTSCOUT_URL", "")
	if nightscoutURL == "" {
		return nil, nil
	}
	return []models.Looper{models.NewLooper(
		getEnv("LOOPER_NAME", "Looper"),
		nightscoutURL,
		getEnv("NIGHTSCOUT_API_SECRET", ""),
		getEnv("NIGHTSCOUT_API_TOKEN", ""),
	)}, nil
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if len(c.Loopers) == 0 {
		return fmt.Errorf("no looper configured: set LOOPERS or NIGHTSCOUT_URL")
	}

	seen := make(map[string]string, len(c.Loopers))
	for _, looper := range c.Loopers {
		parsed, err := url.Parse(looper.NightscoutURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("looper %q: invalid Nightscout URL %q", looper.Name, looper.NightscoutURL)
		}
		if other, ok := seen[looper.ID]; ok {
			return fmt.Errorf("loopers %q and %q use the same Nightscout site", other, looper.Name)
		}
		seen[looper.ID] = looper.Name
	}

	if c.Sync.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}
	if c.Sync.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.Sync.ForecastEntries <= 0 {
		return fmt.Errorf("FORECAST_ENTRIES must be positive")
	}

	if c.Display.Unit != models.UnitMgdL && c.Display.Unit != models.UnitMmolL {
		return fmt.Errorf("GLUCOSE_UNIT must be %q or %q", models.UnitMgdL, models.UnitMmolL)
	}
	d := c.Display
	if !(d.UrgentLow < d.TargetLow && d.TargetLow < d.TargetHigh && d.TargetHigh < d.UrgentHigh) {
		return fmt.Errorf("thresholds must satisfy URGENT_LOW < TARGET_LOW < TARGET_HIGH < URGENT_HIGH")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser reads typed environment values. A malformed value is recorded
// instead of silently replaced by the default.
type envParser struct {
	errs error
}

func (p *envParser) fail(key, value string, err error) {
	p.errs = multierr.Append(p.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *envParser) asInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		p.fail(key, valueStr, err)
		return defaultValue
	}
	return value
}

func (p *envParser) asBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		p.fail(key, valueStr, err)
		return defaultValue
	}
	return value
}

// asDuration requires a unit: "30" is rejected, "30s" is not
func (p *envParser) asDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		p.fail(key, valueStr, err)
		return defaultValue
	}
	return value
}
