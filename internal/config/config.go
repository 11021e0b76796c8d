package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Server      ServerConfig   `env:",prefix=SERVER_"`
	Postgres    PostgresConfig `env:",prefix=POSTGRES_"`
	DatabaseURL string         `env:"DATABASE_URL"`
	Redis       RedisConfig    `env:",prefix=REDIS_"`
	Google      GoogleConfig   `env:",prefix=GOOGLE_"`
	Sync        SyncConfig     `env:",prefix=SYNC_"`
	Operator    OperatorConfig `env:",prefix=OPERATOR_"`
	Security    SecurityConfig `env:",prefix="`
	CORS        CORSConfig     `env:",prefix=CORS_"`
	Env         string         `env:"ENV,default=development"`
}

type ServerConfig struct {
	Port         string   `env:"PORT,default=8080"`
	Host         string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout  Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT,default=60s"`
}

type PostgresConfig struct {
	Host        string `env:"HOST,default=localhost"`
	Port        string `env:"PORT,default=5432"`
	User        string `env:"USER,default=step_sync"`
	Password    string `env:"PASSWORD,default=step_sync_password"`
	DBName      string `env:"DB,default=step_sync_db"`
	SSLMode     string `env:"SSLMODE,default=disable"`
	AutoMigrate bool   `env:"AUTO_MIGRATE,default=false"`
}

type RedisConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=6379"`
	Password string `env:"PASSWORD,default="`
	DB       int    `env:"DB,default=0"`
}

type GoogleConfig struct {
	ClientID          string   `env:"CLIENT_ID,required"`
	ClientSecret      string   `env:"CLIENT_SECRET,required"`
	TokenURL          string   `env:"TOKEN_URL,default=https://oauth2.googleapis.com/token"`
	AggregateURL      string   `env:"AGGREGATE_URL,default=https://www.googleapis.com/fitness/v1/users/me/dataset:aggregate"`
	FetchTimeout      Duration `env:"FETCH_TIMEOUT,default=15s"`
	RefreshTimeout    Duration `env:"REFRESH_TIMEOUT,default=10s"`
	RequestsPerSecond float64  `env:"REQUESTS_PER_SECOND,default=20"`
	RequestBurst      int      `env:"REQUEST_BURST,default=20"`
}

type SyncConfig struct {
	TimeZone          string   `env:"TIMEZONE,default=UTC"`
	Concurrency       int      `env:"CONCURRENCY,default=16"`
	BackfillDefault   int      `env:"BACKFILL_DEFAULT_DAYS,default=7"`
	BackfillMax       int      `env:"BACKFILL_MAX_DAYS,default=30"`
	RateLimitRequests int      `env:"RATE_LIMIT_REQUESTS,default=10"`
	RateLimitWindow   Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
	RefreshLockTTL    Duration `env:"REFRESH_LOCK_TTL,default=30s"`
	FleetSyncTimeout  Duration `env:"FLEET_TIMEOUT,default=2h"`
	SchedulerEnabled  bool     `env:"SCHEDULER_ENABLED,default=true"`
}

type OperatorConfig struct {
	JWTSecret string `env:"JWT_SECRET,required"`
}

type SecurityConfig struct {
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY,default="`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	AllowedMethods []string `env:"ALLOWED_METHODS,default=GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS,default=Content-Type,Authorization"`
}

// DSN returns PostgreSQL connection string
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.Postgres.DSN()
}

// DSN returns PostgreSQL connection URL built from the individual settings
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%s", p.Host, p.Port),
		Path:     p.DBName,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}
	return u.String()
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Location resolves the scheduler zone
func (s SyncConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_TIMEZONE %q: %w", s.TimeZone, err)
	}
	return loc, nil
}

// EncryptionKey decodes the optional token encryption key
func (s SecurityConfig) EncryptionKey() ([]byte, error) {
	if s.TokenEncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(s.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var config Config

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &config,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if len(c.Operator.JWTSecret) < 32 {
		return fmt.Errorf("OPERATOR_JWT_SECRET must be at least 32 characters long")
	}

	if _, err := c.Sync.Location(); err != nil {
		return err
	}

	if c.Google.RequestsPerSecond <= 0 || c.Google.RequestBurst <= 0 {
		return fmt.Errorf("GOOGLE_REQUESTS_PER_SECOND and GOOGLE_REQUEST_BURST must be positive")
	}

	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("SYNC_CONCURRENCY must be positive, got %d", c.Sync.Concurrency)
	}

	if c.Sync.BackfillDefault < 1 || c.Sync.BackfillDefault > c.Sync.BackfillMax {
		return fmt.Errorf("SYNC_BACKFILL_DEFAULT_DAYS must be between 1 and SYNC_BACKFILL_MAX_DAYS (%d), got %d",
			c.Sync.BackfillMax, c.Sync.BackfillDefault)
	}

	if _, err := c.Security.EncryptionKey(); err != nil {
		return err
	}

	return nil
}

// LoadWithDefaults loads configuration with default context
func LoadWithDefaults() (*Config, error) {
	return Load(context.Background())
}
