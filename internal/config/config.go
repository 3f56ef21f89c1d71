package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/creditmeter/internal/observability"
	"github.com/davidbz/creditmeter/internal/provider/openai"
)

// Ledger backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config represents the service configuration.
type Config struct {
	Server  ServerConfig
	CORS    CORSConfig
	Credits CreditsConfig
	Ledger  LedgerConfig
	Redis   RedisConfig
	Log     observability.LogConfig
	OpenAI  openai.Config
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"30"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	ExposedHeaders   []string `env:"CORS_EXPOSED_HEADERS"   envSeparator:"," envDefault:"X-Request-Id,X-Trace-Id"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// CreditsConfig contains token rates and the optional catalog file.
type CreditsConfig struct {
	InputRatePer1K  float64 `env:"CREDITS_INPUT_RATE_PER_1K"  envDefault:"0.3"`
	OutputRatePer1K float64 `env:"CREDITS_OUTPUT_RATE_PER_1K" envDefault:"1.5"`
	CatalogFile     string  `env:"CREDITS_CATALOG_FILE"`
}

// LedgerConfig selects and tunes the ledger store.
type LedgerConfig struct {
	Backend    string `env:"LEDGER_BACKEND"     envDefault:"memory"`
	MaxRetries int    `env:"LEDGER_MAX_RETRIES" envDefault:"5"`
	SQLitePath string `env:"SQLITE_PATH"        envDefault:"creditmeter.db"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR"       envDefault:"localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB"         envDefault:"0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"ledger"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*CreditsConfig
	*LedgerConfig
	*RedisConfig
	*observability.LogConfig
	*openai.Config
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Credits,
		&cfg.Ledger,
		&cfg.Redis,
		&cfg.Log,
		&cfg.OpenAI,
	}
}
