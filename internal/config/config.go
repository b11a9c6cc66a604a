package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string `mapstructure:"NPHIES_ENV"`
	BaseURL        string `mapstructure:"NPHIES_BASE_URL"`
	LicenseNumber  string `mapstructure:"NPHIES_LICENSE_NUMBER"`
	OrganizationID string `mapstructure:"NPHIES_ORGANIZATION_ID"`
	ProviderID     string `mapstructure:"NPHIES_PROVIDER_ID"`

	CertFile string `mapstructure:"NPHIES_CERT_FILE"`
	KeyFile  string `mapstructure:"NPHIES_KEY_FILE"`
	CAFile   string `mapstructure:"NPHIES_CA_FILE"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	MaxRetries        int           `mapstructure:"NPHIES_MAX_RETRIES"`
	RequestTimeout    time.Duration `mapstructure:"NPHIES_REQUEST_TIMEOUT"`
	Workers           int           `mapstructure:"BATCH_WORKERS"`
	RecordMaxAttempts int           `mapstructure:"BATCH_RECORD_MAX_ATTEMPTS"`
	EligibilityTTL    time.Duration `mapstructure:"ELIGIBILITY_CACHE_TTL"`
	PollInterval      time.Duration `mapstructure:"COMMUNICATION_POLL_INTERVAL"`

	RejectionMapFile string `mapstructure:"REJECTION_MAP_FILE"`
	MigrationsDir    string `mapstructure:"MIGRATIONS_DIR"`

	Port         string `mapstructure:"PORT"`
	APIJWTSecret string `mapstructure:"API_JWT_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("NPHIES_ENV", "sandbox")
	v.SetDefault("NPHIES_BASE_URL", "https://sgw.nphies.sa")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("NPHIES_MAX_RETRIES", 3)
	v.SetDefault("NPHIES_REQUEST_TIMEOUT", "30s")
	v.SetDefault("BATCH_WORKERS", 10)
	v.SetDefault("BATCH_RECORD_MAX_ATTEMPTS", 3)
	v.SetDefault("ELIGIBILITY_CACHE_TTL", "15m")
	v.SetDefault("COMMUNICATION_POLL_INTERVAL", "5m")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("PORT", "8080")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"NPHIES_ENV", "NPHIES_BASE_URL",
		"NPHIES_LICENSE_NUMBER", "NPHIES_ORGANIZATION_ID", "NPHIES_PROVIDER_ID",
		"NPHIES_CERT_FILE", "NPHIES_KEY_FILE", "NPHIES_CA_FILE",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
		"NPHIES_MAX_RETRIES", "NPHIES_REQUEST_TIMEOUT",
		"BATCH_WORKERS", "BATCH_RECORD_MAX_ATTEMPTS",
		"ELIGIBILITY_CACHE_TTL", "COMMUNICATION_POLL_INTERVAL",
		"REJECTION_MAP_FILE", "MIGRATIONS_DIR", "PORT", "API_JWT_SECRET",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. The organization,
// provider, and license identifiers are required in every environment; the
// client certificate triple only in production, where mutual TLS is
// mandatory.
func (c *Config) Validate() error {
	if c.Env != "sandbox" && c.Env != "production" {
		return fmt.Errorf("NPHIES_ENV must be \"sandbox\" or \"production\", got %q", c.Env)
	}
	if c.LicenseNumber == "" {
		return fmt.Errorf("NPHIES_LICENSE_NUMBER is required")
	}
	if c.OrganizationID == "" {
		return fmt.Errorf("NPHIES_ORGANIZATION_ID is required")
	}
	if c.ProviderID == "" {
		return fmt.Errorf("NPHIES_PROVIDER_ID is required")
	}
	if c.IsProduction() {
		if c.CertFile == "" || c.KeyFile == "" || c.CAFile == "" {
			return fmt.Errorf("NPHIES_CERT_FILE, NPHIES_KEY_FILE, and NPHIES_CA_FILE are required in production")
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("NPHIES_MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.RecordMaxAttempts < 1 {
		return fmt.Errorf("BATCH_RECORD_MAX_ATTEMPTS must be at least 1, got %d", c.RecordMaxAttempts)
	}
	return nil
}
