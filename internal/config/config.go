package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

// Supported backends.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	MemoryBackendInProcess = "memory"
	MemoryBackendRedis     = "redis"
)

// DefaultDatabasePath is where the SQLite ledger lives unless configured.
const DefaultDatabasePath = "~/.local/share/dompet/dompet.db"

// Config is the complete application configuration.
type Config struct {
	Logging  LoggingConfig
	Database DatabaseConfig
	Memory   MemoryConfig
	LLM      LLMConfig
	Agent    AgentConfig
	Server   ServerConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects and tunes the ledger store.
type DatabaseConfig struct {
	Driver       string
	DSN          string
	QueryTimeout time.Duration
}

// LLMConfig selects the oracle provider.
type LLMConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	APIVersion  string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	RateLimit   int
}

// MemoryConfig selects where session memory lives.
type MemoryConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// AgentConfig tunes conversational turns.
type AgentConfig struct {
	AppName         string
	Currency        string
	MaxSteps        int
	SearchLimit     int
	UTCOffsetHours  int
	AmountTolerance float64
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string
	Format string
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.query_timeout", 5*time.Second)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.rate_limit", 60)

	v.SetDefault("memory.backend", MemoryBackendInProcess)
	v.SetDefault("memory.redis_db", 0)
	v.SetDefault("memory.ttl", 24*time.Hour)

	v.SetDefault("agent.app_name", "dompet")
	v.SetDefault("agent.currency", "IDR")
	v.SetDefault("agent.max_steps", 6)
	v.SetDefault("agent.search_limit", 5)
	v.SetDefault("agent.utc_offset_hours", 7)
	v.SetDefault("agent.amount_tolerance", 0.05)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads and validates the configuration held by v.
// It follows this precedence:
// 1. Viper configuration (flags, DOMPET_ env vars, config file)
// 2. Conventional environment variables (DATABASE_URL, provider API keys)
// 3. Default values
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(v.GetString("database.driver")),
			DSN:          v.GetString("database.dsn"),
			QueryTimeout: v.GetDuration("database.query_timeout"),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(v.GetString("llm.provider")),
			APIKey:      v.GetString("llm.api_key"),
			Model:       v.GetString("llm.model"),
			BaseURL:     v.GetString("llm.base_url"),
			APIVersion:  v.GetString("llm.api_version"),
			Temperature: v.GetFloat64("llm.temperature"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			MaxRetries:  v.GetInt("llm.max_retries"),
			RetryDelay:  v.GetDuration("llm.retry_delay"),
			Timeout:     v.GetDuration("llm.timeout"),
			RateLimit:   v.GetInt("llm.rate_limit"),
		},
		Memory: MemoryConfig{
			Backend:       strings.ToLower(v.GetString("memory.backend")),
			RedisAddr:     v.GetString("memory.redis_addr"),
			RedisPassword: v.GetString("memory.redis_password"),
			RedisDB:       v.GetInt("memory.redis_db"),
			TTL:           v.GetDuration("memory.ttl"),
		},
		Agent: AgentConfig{
			AppName:         v.GetString("agent.app_name"),
			Currency:        strings.ToUpper(v.GetString("agent.currency")),
			MaxSteps:        v.GetInt("agent.max_steps"),
			SearchLimit:     v.GetInt("agent.search_limit"),
			UTCOffsetHours:  v.GetInt("agent.utc_offset_hours"),
			AmountTolerance: v.GetFloat64("agent.amount_tolerance"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = os.Getenv("DATABASE_URL")
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = inferDriver(cfg.Database.DSN)
	}
	if cfg.Database.Driver == DriverSQLite {
		if cfg.Database.DSN == "" {
			cfg.Database.DSN = DefaultDatabasePath
		}
		cfg.Database.DSN = ExpandPath(cfg.Database.DSN)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKey(cfg.LLM.Provider)
	}
	// Zero means unset; the reference zone is WIB.
	if cfg.Agent.UTCOffsetHours == 0 {
		cfg.Agent.UTCOffsetHours = model.DefaultUTCOffsetHours
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func inferDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// providerKey returns the conventional API key variable of provider.
func providerKey(provider string) string {
	var names []string
	switch provider {
	case "openai":
		names = []string{"OPENAI_API_KEY"}
	case "azure":
		names = []string{"AZURE_OPENAI_API_KEY"}
	case "anthropic":
		names = []string{"ANTHROPIC_API_KEY"}
	case "gemini":
		names = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	}
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports the first invalid setting, naming its key.
func (c Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", common.ErrInvalidConfig, key, fmt.Sprintf(format, args...))
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return invalid("database.driver", "unknown driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return invalid("database.dsn", "is required")
	}
	if c.Database.QueryTimeout <= 0 {
		return invalid("database.query_timeout", "must be positive")
	}

	switch c.LLM.Provider {
	case "openai", "azure", "anthropic", "gemini":
	default:
		return invalid("llm.provider", "unknown provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return invalid("llm.max_retries", "must not be negative")
	}
	if c.LLM.RateLimit <= 0 {
		return invalid("llm.rate_limit", "must be positive")
	}

	switch c.Memory.Backend {
	case MemoryBackendInProcess:
	case MemoryBackendRedis:
		if c.Memory.RedisAddr == "" {
			return invalid("memory.redis_addr", "is required for the redis backend")
		}
	default:
		return invalid("memory.backend", "unknown backend %q", c.Memory.Backend)
	}
	if c.Memory.TTL <= 0 {
		return invalid("memory.ttl", "must be positive")
	}

	if c.Agent.MaxSteps <= 0 {
		return invalid("agent.max_steps", "must be positive")
	}
	if c.Agent.SearchLimit <= 0 {
		return invalid("agent.search_limit", "must be positive")
	}
	if c.Agent.UTCOffsetHours < -12 || c.Agent.UTCOffsetHours > 14 {
		return invalid("agent.utc_offset_hours", "must be between -12 and 14")
	}
	if c.Agent.AmountTolerance < 0 || c.Agent.AmountTolerance >= 1 {
		return invalid("agent.amount_tolerance", "must be in [0, 1)")
	}

	if c.Server.ReadTimeout <= 0 {
		return invalid("server.read_timeout", "must be positive")
	}
	if c.Server.WriteTimeout < 0 {
		return invalid("server.write_timeout", "must not be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return invalid("server.shutdown_timeout", "must be positive")
	}

	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return invalid("logging.format", "unknown format %q", c.Logging.Format)
	}
	return nil
}
