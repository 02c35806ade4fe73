package config

import (
	"fmt"
	"time"
)

// Config is the portal configuration, loaded from configs/config.yaml and the environment.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Token    TokenConfig    `mapstructure:"token"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Identity IdentityConfig `mapstructure:"identity"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Wizard   WizardConfig   `mapstructure:"wizard"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Addr        string `mapstructure:"addr"`
	BaseURL     string `mapstructure:"base_url"` // public origin used in review links and QR codes
}

type DatabaseConfig struct {
	Driver       string         `mapstructure:"driver"` // sqlite | postgres
	DSN          string         `mapstructure:"dsn"`
	Postgres     PostgresConfig `mapstructure:"postgres"`
	MaxOpenConns int            `mapstructure:"max_open_conns"`
	MaxIdleConns int            `mapstructure:"max_idle_conns"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address   string `mapstructure:"address"` // empty disables the schema cache
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	SchemaTTL int    `mapstructure:"schema_ttl"` // seconds
}

type PricingConfig struct {
	FamilyDiscount float64 `mapstructure:"family_discount"`
}

type TokenConfig struct {
	Secret string `mapstructure:"secret"`
	TTL    int    `mapstructure:"ttl"` // seconds, 0 disables expiry
}

type GatewayConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	SecretKey   string `mapstructure:"secret_key"`
	RedirectURL string `mapstructure:"redirect_url"`
	Timeout     int    `mapstructure:"timeout"` // milliseconds
}

// IdentityConfig names the headers set by the fronting identity provider.
type IdentityConfig struct {
	AccountHeader string `mapstructure:"account_header"`
	EmailHeader   string `mapstructure:"email_header"`
	NameHeader    string `mapstructure:"name_header"`

	// PhoneCountryCode replaces the leading 0 of local phone numbers.
	PhoneCountryCode string `mapstructure:"phone_country_code"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type WizardConfig struct {
	AutosaveDelay int `mapstructure:"autosave_delay"` // milliseconds
	SessionIdle   int `mapstructure:"session_idle"`   // seconds before an untouched session is flushed and dropped
	SweepInterval int `mapstructure:"sweep_interval"` // seconds
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
