package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const minTokenSecret = 32

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml over it and
// applies environment overrides such as TOKEN_SECRET or DATABASE_DSN.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName("config." + env)
	_ = v.MergeInConfig() // per-environment file is optional

	return decode(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about, so keys that may be
// absent from the yaml are bound explicitly.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"app.addr", "app.base_url", "app.environment",
		"database.driver", "database.dsn",
		"redis.address", "redis.password",
		"token.secret", "token.ttl",
		"gateway.base_url", "gateway.secret_key", "gateway.redirect_url",
		"admin.token",
		"logging.level", "logging.format",
	} {
		_ = v.BindEnv(key)
	}
}

func loadEnvFile() {
	paths := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "academy"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.App.Addr == "" {
		cfg.App.Addr = ":8080"
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:8080"
	}
	cfg.App.BaseURL = strings.TrimRight(cfg.App.BaseURL, "/")

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = "academy.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}

	if cfg.Redis.SchemaTTL == 0 {
		cfg.Redis.SchemaTTL = 300
	}
	if cfg.Pricing.FamilyDiscount == 0 {
		cfg.Pricing.FamilyDiscount = 0.05
	}
	if cfg.Token.TTL == 0 {
		cfg.Token.TTL = 1800
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10000
	}
	if cfg.Gateway.RedirectURL == "" {
		cfg.Gateway.RedirectURL = cfg.App.BaseURL + "/payments/complete"
	}

	if cfg.Identity.AccountHeader == "" {
		cfg.Identity.AccountHeader = "X-Account-Id"
	}
	if cfg.Identity.EmailHeader == "" {
		cfg.Identity.EmailHeader = "X-Account-Email"
	}
	if cfg.Identity.NameHeader == "" {
		cfg.Identity.NameHeader = "X-Account-Name"
	}
	if cfg.Identity.PhoneCountryCode == "" {
		cfg.Identity.PhoneCountryCode = "234"
	}

	if cfg.Wizard.AutosaveDelay == 0 {
		cfg.Wizard.AutosaveDelay = 3000
	}
	if cfg.Wizard.SessionIdle == 0 {
		cfg.Wizard.SessionIdle = 1800
	}
	if cfg.Wizard.SweepInterval == 0 {
		cfg.Wizard.SweepInterval = 60
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for sqlite")
		}
	case "postgres":
		if cfg.Database.DSN == "" && cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.dsn or database.postgres.host is required")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}

	if len(cfg.Token.Secret) < minTokenSecret {
		return fmt.Errorf("token.secret must be at least %d bytes", minTokenSecret)
	}
	if cfg.Pricing.FamilyDiscount < 0 || cfg.Pricing.FamilyDiscount >= 1 {
		return fmt.Errorf("pricing.family_discount must be in [0, 1)")
	}
	return nil
}
