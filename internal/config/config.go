package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Log        LogConfig        `yaml:"log"`
	Simulation SimulationConfig `yaml:"simulation"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite file
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	MaxRetries int      `yaml:"max_retries"`
}

type LogConfig struct {
	Dir   string `yaml:"dir"`
	Debug bool   `yaml:"debug"`
}

type SimulationConfig struct {
	TickIntervalMs       int `yaml:"tick_interval_ms"`
	FlattenMaxAttempts   int `yaml:"flatten_max_attempts"`
	FlattenBackoffMs     int `yaml:"flatten_backoff_ms"`
	OutboxPollIntervalMs int `yaml:"outbox_poll_interval_ms"`
	OutboxBatchSize      int `yaml:"outbox_batch_size"`

	MarketHours MarketHoursConfig `yaml:"market_hours"`
}

// MarketHoursConfig confines simulated time to a weekday trading session.
// Open and Close are local wall-clock times formatted as HH:MM.
type MarketHoursConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"`
	Close    string `yaml:"close"`
}

// DefaultsConfig holds the settings given to newly created accounts
type DefaultsConfig struct {
	InitialSimulatedBalance float64 `yaml:"initial_simulated_balance"`
	RealBalance             float64 `yaml:"real_balance"`
	CommissionRate          float64 `yaml:"commission_rate"`
	CommissionType          string  `yaml:"commission_type"`
	HoldingCostRate         float64 `yaml:"holding_cost_rate"`
	HoldingCostType         string  `yaml:"holding_cost_type"`
	MarginLimit             float64 `yaml:"margin_limit"`
	OvernightFeeRate        float64 `yaml:"overnight_fee_rate"`
	OvernightFeeType        string  `yaml:"overnight_fee_type"`
	PowerUpFee              float64 `yaml:"power_up_fee"`
	PowerUpType             string  `yaml:"power_up_type"`
	GainRateThreshold       float64 `yaml:"gain_rate_threshold"`
	DrawdownRateThreshold   float64 `yaml:"drawdown_rate_threshold"`
	StartTime               string  `yaml:"start_time"` // RFC3339 or YYYY-MM-DD
	Speed                   float64 `yaml:"speed"`
}

// Default returns the configuration used when a key is absent from the file
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080, Mode: "release"},
		Database: DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432, SSLMode: "disable", Path: "papersim.db"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		JWT:      JWTConfig{ExpireHours: 24},
		Kafka:    KafkaConfig{Topic: "papersim.settlements", MaxRetries: 3},
		Log:      LogConfig{Dir: "logs"},
		Simulation: SimulationConfig{
			TickIntervalMs:       1000,
			FlattenMaxAttempts:   3,
			FlattenBackoffMs:     50,
			OutboxPollIntervalMs: 500,
			OutboxBatchSize:      100,
			MarketHours: MarketHoursConfig{
				Timezone: "America/Los_Angeles",
				Open:     "06:30",
				Close:    "13:00",
			},
		},
		Defaults: DefaultsConfig{
			InitialSimulatedBalance: 10000,
			CommissionRate:          0.001,
			CommissionType:          "sim",
			HoldingCostRate:         0.0005,
			HoldingCostType:         "sim",
			MarginLimit:             0,
			OvernightFeeRate:        0.0003,
			OvernightFeeType:        "sim",
			PowerUpFee:              10,
			PowerUpType:             "sim",
			GainRateThreshold:       25,
			DrawdownRateThreshold:   25,
			StartTime:               "2024-05-01",
			Speed:                   1,
		},
	}
}

// Load loads configuration from file and environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Override with environment variables if present
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_MODE"); v != "" {
		c.Server.Mode = v
	}

	// Database
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.DBName = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}

	// Redis
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	// JWT
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("JWT_EXPIRE_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.JWT.ExpireHours = hours
		}
	}

	// Kafka
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}

	// Simulation
	if v := os.Getenv("MARKET_HOURS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Simulation.MarketHours.Enabled = enabled
		}
	}
	if v := os.Getenv("MARKET_HOURS_TZ"); v != "" {
		c.Simulation.MarketHours.Timezone = v
	}

	// Log
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Log.Dir = v
	}
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Simulation.TickIntervalMs <= 0 {
		return errors.New("simulation.tick_interval_ms must be positive")
	}
	if c.Simulation.FlattenMaxAttempts < 1 {
		return errors.New("simulation.flatten_max_attempts must be at least 1")
	}
	if c.Simulation.MarketHours.Enabled {
		if _, _, _, err := c.Simulation.MarketHours.Parse(); err != nil {
			return err
		}
	}
	if _, err := c.Defaults.ParseStartTime(); err != nil {
		return err
	}
	if c.Defaults.Speed <= 0 {
		return errors.New("defaults.speed must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether settlement events go to Kafka
func (c *KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// ParseStartTime parses the default clock start
func (c *DefaultsConfig) ParseStartTime() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, c.StartTime); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", c.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("defaults.start_time %q is neither RFC3339 nor YYYY-MM-DD", c.StartTime)
	}
	return t, nil
}

// TickInterval returns the clock worker period
func (c *SimulationConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// Parse resolves the session timezone and returns the open and close times
// as offsets from local midnight
func (c *MarketHoursConfig) Parse() (*time.Location, time.Duration, time.Duration, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("simulation.market_hours.timezone: %w", err)
	}
	open, err := parseClock(c.Open)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("simulation.market_hours.open: %w", err)
	}
	closeAt, err := parseClock(c.Close)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("simulation.market_hours.close: %w", err)
	}
	if closeAt <= open {
		return nil, 0, 0, fmt.Errorf("simulation.market_hours: close %s must be after open %s", c.Close, c.Open)
	}
	return loc, open, closeAt, nil
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FlattenBackoff returns the base delay between flatten retries
func (c *SimulationConfig) FlattenBackoff() time.Duration {
	return time.Duration(c.FlattenBackoffMs) * time.Millisecond
}

// OutboxPollInterval returns the outbox relay period
func (c *SimulationConfig) OutboxPollInterval() time.Duration {
	return time.Duration(c.OutboxPollIntervalMs) * time.Millisecond
}
