// Package config loads the gateway configuration from the environment.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength is the shortest accepted admin token secret.
const MinJWTSecretLength = 16

// Config holds every gateway setting. Optional integrations stay disabled
// while their address is empty.
type Config struct {
	ListenAddr      string        `env:"GATE_LISTEN_ADDR,default=:8080"`
	ShutdownTimeout time.Duration `env:"GATE_SHUTDOWN_TIMEOUT,default=15s"`
	Version         string        `env:"GATE_VERSION,default=dev"`

	RootAdmin      string `env:"GATE_ROOT_ADMIN"`
	AdminAddresses string `env:"GATE_ADMIN_ADDRESSES"`
	AddressFormat  string `env:"GATE_ADDRESS_FORMAT,default=opaque"`
	CatalogPath    string `env:"GATE_CATALOG_PATH"`

	JWTSecret   string `env:"GATE_JWT_SECRET"`
	RateLimit   int    `env:"GATE_RATE_LIMIT,default=50"`
	RateBurst   int    `env:"GATE_RATE_BURST,default=100"`
	CORSOrigins string `env:"GATE_CORS_ORIGINS"`

	SessionPingInterval time.Duration `env:"GATE_SESSION_PING_INTERVAL,default=54s"`

	AuditCapacity int    `env:"GATE_AUDIT_CAPACITY,default=200"`
	AuditFile     string `env:"GATE_AUDIT_FILE"`
	PostgresDSN   string `env:"GATE_POSTGRES_DSN"`
	RedisAddr     string `env:"GATE_REDIS_ADDR"`
	RedisPassword string `env:"GATE_REDIS_PASSWORD"`
	RedisAuditKey string `env:"GATE_REDIS_AUDIT_KEY,default=access:audit"`

	BalancesFile   string        `env:"GATE_BALANCES_FILE"`
	OracleURL      string        `env:"GATE_ORACLE_URL"`
	OracleAPIKey   string        `env:"GATE_ORACLE_API_KEY"`
	OracleSchedule string        `env:"GATE_ORACLE_SCHEDULE,default=@every 1m"`
	OracleTimeout  time.Duration `env:"GATE_ORACLE_TIMEOUT,default=5s"`

	LogLevel  string `env:"GATE_LOG_LEVEL,default=info"`
	LogFormat string `env:"GATE_LOG_FORMAT,default=json"`
}

// Load reads envFile (when it exists) into the process environment and decodes
// the configuration. An empty envFile tries ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return FromEnv()
}

// FromEnv decodes the configuration from the current environment.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and ranges.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RootAdmin) == "" {
		errs = append(errs, stderrors.New("GATE_ROOT_ADMIN is required"))
	}
	if len(c.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("GATE_JWT_SECRET must be at least %d bytes", MinJWTSecretLength))
	}
	// envdecode leaves an unparsable duration at zero.
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, stderrors.New("GATE_SHUTDOWN_TIMEOUT must be a positive duration"))
	}
	if c.OracleTimeout <= 0 {
		errs = append(errs, stderrors.New("GATE_ORACLE_TIMEOUT must be a positive duration"))
	}
	if c.SessionPingInterval <= 0 {
		errs = append(errs, stderrors.New("GATE_SESSION_PING_INTERVAL must be a positive duration"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, stderrors.New("GATE_RATE_LIMIT must be positive"))
	}
	if c.RateBurst < 0 {
		errs = append(errs, stderrors.New("GATE_RATE_BURST must not be negative"))
	}
	if c.AuditCapacity <= 0 {
		errs = append(errs, stderrors.New("GATE_AUDIT_CAPACITY must be positive"))
	}
	if c.OracleURL != "" && strings.TrimSpace(c.OracleSchedule) == "" {
		errs = append(errs, stderrors.New("GATE_ORACLE_SCHEDULE is required with GATE_ORACLE_URL"))
	}
	return stderrors.Join(errs...)
}

// Admins returns the configured admin addresses, without the root admin.
func (c *Config) Admins() []string {
	var out []string
	for _, addr := range SplitCSV(c.AdminAddresses) {
		if addr != c.RootAdmin {
			out = append(out, addr)
		}
	}
	return out
}

// Origins returns the allowed CORS origins.
func (c *Config) Origins() []string {
	return SplitCSV(c.CORSOrigins)
}

// SplitCSV splits a comma separated list, dropping blanks and duplicates.
func SplitCSV(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// LoadBalances reads a YAML map of address to balance, used to seed the
// balance book before the first oracle refresh.
func LoadBalances(path string) (map[string]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read balances file: %w", err)
	}

	var file struct {
		Balances map[string]uint64 `yaml:"balances"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse balances file: %w", err)
	}
	if file.Balances == nil {
		file.Balances = map[string]uint64{}
	}
	return file.Balances, nil
}
