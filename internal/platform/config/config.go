package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Run modes. The monitor tap is only installed implicitly in development.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config captures process-level configuration.
type Config struct {
	Server    Server
	Bus       Bus
	Monitor   Monitor
	Redis     RedisConfig
	DB        Database
	RateLimit RateLimit
	Archive   Archive
	Auth      Auth
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"CIVITAS_ADDR" envDefault:":8080"`
	Mode            string        `env:"CIVITAS_MODE" envDefault:"production"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// SeedFile is a YAML file of users and templates loaded into the
	// in-memory directories at start.
	SeedFile string `env:"SEED_FILE"`
}

// Bus configures the signal dispatcher.
type Bus struct {
	ActivityCapacity int `env:"ACTIVITY_LOG_CAPACITY" envDefault:"100"`
}

// Monitor configures the diagnostics tap. Enabled forces the tap on outside
// development mode; KafkaBrokers additionally ships every signal to Kafka.
type Monitor struct {
	Enabled      bool     `env:"MONITOR_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"MONITOR_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"MONITOR_KAFKA_TOPIC" envDefault:"civitas.signals"`
}

// RedisConfig configures the Redis-backed session store. An empty URL keeps
// sessions in memory.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	KeyPrefix    string        `env:"SESSION_KEY_PREFIX" envDefault:"civitas:session:"`
}

// Database configures the Postgres-backed proposal registry. An empty URL
// keeps proposals in memory.
type Database struct {
	URL string `env:"DATABASE_URL"`
}

// RateLimit bounds POST /signals per client IP. A zero limit disables it.
// With Redis configured the window is shared across processes.
type RateLimit struct {
	Signals int           `env:"RATE_LIMIT_SIGNALS" envDefault:"120"`
	Window  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// Archive configures cmd/archiver, which reads the monitor topic into
// Postgres. It reuses the Monitor brokers and topic and the DATABASE_URL.
type Archive struct {
	Group string `env:"ARCHIVE_GROUP" envDefault:"civitas-archiver"`
	Addr  string `env:"ARCHIVE_ADDR" envDefault:":8081"`
}

// Auth guards /signals with HS256 bearer tokens. An empty secret leaves the
// intake open.
type Auth struct {
	JWTSecret string `env:"INTAKE_JWT_SECRET"`
	Issuer    string `env:"INTAKE_JWT_ISSUER" envDefault:"civitas"`
	Audience  string `env:"INTAKE_JWT_AUDIENCE" envDefault:"civitas-intake"`
}

// Enabled reports whether the intake requires tokens.
func (a Auth) Enabled() bool {
	return a.JWTSecret != ""
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants env parsing cannot express.
func (c Config) Validate() error {
	switch c.Server.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("invalid CIVITAS_MODE %q", c.Server.Mode)
	}
	if c.Bus.ActivityCapacity <= 0 {
		return fmt.Errorf("ACTIVITY_LOG_CAPACITY must be positive, got %d", c.Bus.ActivityCapacity)
	}
	if c.RateLimit.Signals < 0 {
		return fmt.Errorf("RATE_LIMIT_SIGNALS must not be negative, got %d", c.RateLimit.Signals)
	}
	if c.RateLimit.Signals > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
	}
	if c.Auth.Enabled() && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("INTAKE_JWT_SECRET must be at least 32 bytes")
	}
	if len(c.Monitor.KafkaBrokers) > 0 && strings.TrimSpace(c.Monitor.KafkaTopic) == "" {
		return fmt.Errorf("MONITOR_KAFKA_TOPIC is required when brokers are set")
	}
	return nil
}

// ValidateArchive checks what cmd/archiver needs on top of Validate.
func (c Config) ValidateArchive() error {
	switch {
	case len(c.Monitor.KafkaBrokers) == 0:
		return fmt.Errorf("MONITOR_KAFKA_BROKERS is required by the archiver")
	case c.DB.URL == "":
		return fmt.Errorf("DATABASE_URL is required by the archiver")
	case strings.TrimSpace(c.Archive.Group) == "":
		return fmt.Errorf("ARCHIVE_GROUP must not be empty")
	}
	return nil
}

// Development reports whether the process runs in development mode.
func (c Config) Development() bool {
	return c.Server.Mode == ModeDevelopment
}

// MonitorActive reports whether the monitor tap should be installed.
func (c Config) MonitorActive() bool {
	return c.Development() || c.Monitor.Enabled
}
