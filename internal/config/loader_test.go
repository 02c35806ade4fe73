package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "token:\n  secret: "+testSecret+"\n")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Contains(t, cfg.Database.DSN, "_journal_mode=WAL")
	assert.Equal(t, 0.05, cfg.Pricing.FamilyDiscount)
	assert.Equal(t, 1800, cfg.Token.TTL)
	assert.Equal(t, "X-Account-Id", cfg.Identity.AccountHeader)
	assert.Equal(t, "234", cfg.Identity.PhoneCountryCode)
	assert.Equal(t, 3000, cfg.Wizard.AutosaveDelay)
	assert.Equal(t, 1800, cfg.Wizard.SessionIdle)
	assert.Equal(t, 60, cfg.Wizard.SweepInterval)
	assert.Equal(t, "http://localhost:8080/payments/complete", cfg.Gateway.RedirectURL)
}

func TestLoadFromFile_EnvOverridesAndExpansion(t *testing.T) {
	t.Setenv("TOKEN_SECRET", testSecret)
	t.Setenv("GW_KEY", "FLWSECK-test")
	path := writeConfig(t, `
app:
  base_url: "https://academy.example.org/"
gateway:
  secret_key: "${GW_KEY}"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, testSecret, cfg.Token.Secret)
	assert.Equal(t, "FLWSECK-test", cfg.Gateway.SecretKey)
	assert.Equal(t, "https://academy.example.org", cfg.App.BaseURL)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "short token secret",
			body:    "token:\n  secret: short\n",
			wantErr: "token.secret",
		},
		{
			name:    "unknown driver",
			body:    "token:\n  secret: " + testSecret + "\ndatabase:\n  driver: oracle\n",
			wantErr: "not supported",
		},
		{
			name:    "postgres without host",
			body:    "token:\n  secret: " + testSecret + "\ndatabase:\n  driver: postgres\n",
			wantErr: "database.postgres.host",
		},
		{
			name:    "discount out of range",
			body:    "token:\n  secret: " + testSecret + "\npricing:\n  family_discount: 1.5\n",
			wantErr: "family_discount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, Database: "academy", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=academy sslmode=disable", p.GetDSN())
}
