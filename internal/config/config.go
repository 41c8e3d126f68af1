package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete application configuration. Values load from
// environment variables (CIRCFLOW_ prefix) first, then an optional YAML
// file overlays them.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Policy    PolicyConfig    `yaml:"policy" envconfig:"POLICY"`

	// Classification maps agency-specific government-level labels onto
	// canonical short codes. Entries here extend/override the built-in
	// mapping table.
	Classification map[string]string `yaml:"classification"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig contains warehouse connection configuration.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" envconfig:"DSN" default:"circflow:circflow@tcp(localhost:3306)/circflow?parseTime=true"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json" validate:"oneof=json text"`
}

// SecurityConfig contains rate limiting for the API surface.
type SecurityConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"100" validate:"gt=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"50" validate:"gt=0"`
}

// WebSocketConfig contains WebSocket hub configuration.
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" default:"30s"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s"`
}

// PolicyConfig carries the numeric policy parameters of the
// reconciliation engine. The defaults reproduce the thresholds the
// warehouse has always used; none of them is statistically derived and
// all may be tuned per deployment.
type PolicyConfig struct {
	// TotalMismatchPct flags periods where independently reported totals
	// disagree with summed detail rows by more than this percentage.
	TotalMismatchPct float64 `yaml:"total_mismatch_pct" envconfig:"TOTAL_MISMATCH_PCT" default:"5" validate:"gt=0"`

	// RollingWindow is the trailing window length, in periods, for rolling
	// outlier statistics.
	RollingWindow int `yaml:"rolling_window" envconfig:"ROLLING_WINDOW" default:"13" validate:"gte=4"`

	// ZScoreThreshold classifies a statistical outlier.
	ZScoreThreshold float64 `yaml:"z_score_threshold" envconfig:"Z_SCORE_THRESHOLD" default:"3" validate:"gt=0"`

	// LargeChangeRatio classifies a large period-on-period change.
	LargeChangeRatio float64 `yaml:"large_change_ratio" envconfig:"LARGE_CHANGE_RATIO" default:"0.5" validate:"gt=0"`

	// AnnualChangeRatio classifies an anomalous year-on-year change.
	AnnualChangeRatio float64 `yaml:"annual_change_ratio" envconfig:"ANNUAL_CHANGE_RATIO" default:"0.8" validate:"gt=0"`

	// SolveWindowStart/End bound the trusted historical window for
	// identity-derived taxation estimates: on/after Start, before End.
	SolveWindowStart string `yaml:"solve_window_start" envconfig:"SOLVE_WINDOW_START" default:"1995-01-01" validate:"datetime=2006-01-02"`
	SolveWindowEnd   string `yaml:"solve_window_end" envconfig:"SOLVE_WINDOW_END" default:"2015-01-01" validate:"datetime=2006-01-02"`

	// SolveMaxShareOfSM rejects implied estimates at or above this share
	// of (S + M).
	SolveMaxShareOfSM float64 `yaml:"solve_max_share_of_sm" envconfig:"SOLVE_MAX_SHARE_OF_SM" default:"0.5" validate:"gt=0,lte=1"`

	// CVExcellentPct / CVGoodPct band the solver's estimate-quality
	// coefficient of variation.
	CVExcellentPct float64 `yaml:"cv_excellent_pct" envconfig:"CV_EXCELLENT_PCT" default:"20" validate:"gt=0"`
	CVGoodPct      float64 `yaml:"cv_good_pct" envconfig:"CV_GOOD_PCT" default:"40" validate:"gt=0"`

	// BalancedPct is the "well-balanced" imbalance cutoff per period.
	BalancedPct float64 `yaml:"balanced_pct" envconfig:"BALANCED_PCT" default:"5" validate:"gt=0"`

	// Equilibrium status bands over the mean percentage imbalance.
	EquilibriumExcellentPct float64 `yaml:"equilibrium_excellent_pct" envconfig:"EQUILIBRIUM_EXCELLENT_PCT" default:"5" validate:"gt=0"`
	EquilibriumGoodPct      float64 `yaml:"equilibrium_good_pct" envconfig:"EQUILIBRIUM_GOOD_PCT" default:"10" validate:"gt=0"`
	EquilibriumModeratePct  float64 `yaml:"equilibrium_moderate_pct" envconfig:"EQUILIBRIUM_MODERATE_PCT" default:"20" validate:"gt=0"`

	// MinComponentsForBalance is how many of the six components a period
	// needs before it is scored.
	MinComponentsForBalance int `yaml:"min_components_for_balance" envconfig:"MIN_COMPONENTS_FOR_BALANCE" default:"5" validate:"gte=1,lte=6"`
}

// SolveWindow returns the parsed trusted historical window.
func (p PolicyConfig) SolveWindow() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", p.SolveWindowStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse solve window start: %w", err)
	}
	end, err = time.Parse("2006-01-02", p.SolveWindowEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse solve window end: %w", err)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("solve window start %s not before end %s", p.SolveWindowStart, p.SolveWindowEnd)
	}
	return start, end, nil
}

// Load loads configuration from environment variables and, when path is
// non-empty and the file exists, overlays values from the YAML file.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("CIRCFLOW", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, _, err := c.Policy.SolveWindow(); err != nil {
		return err
	}
	if c.Policy.CVExcellentPct >= c.Policy.CVGoodPct {
		return fmt.Errorf("cv_excellent_pct (%.1f) must be below cv_good_pct (%.1f)",
			c.Policy.CVExcellentPct, c.Policy.CVGoodPct)
	}
	return nil
}
