package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "/dav", cfg.HTTP.BasePath)
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxICSBytes)
	assert.Equal(t, float64(20), cfg.HTTP.RateLimitRPS)
	assert.Equal(t, 40, cfg.HTTP.RateLimitBurst)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.True(t, cfg.Auth.EnableBasic)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("HTTP_RATE_LIMIT_RPS", "5.5")
	t.Setenv("HTTP_RATE_LIMIT_BURST", "10")
	t.Setenv("STORAGE_TYPE", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 5.5, cfg.HTTP.RateLimitRPS)
	assert.Equal(t, 10, cfg.HTTP.RateLimitBurst)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
}

func TestLoad_InvalidNumericEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("HTTP_RATE_LIMIT_RPS", "not-a-number")
	t.Setenv("HTTP_MAX_ICS_BYTES", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, float64(20), cfg.HTTP.RateLimitRPS)
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxICSBytes)
}

func TestLoadAddressbookFilters_IndexedByEnvVars(t *testing.T) {
	t.Setenv("LDAP_ADDRESSBOOK_FILTER_0_NAME", "Staff")
	t.Setenv("LDAP_ADDRESSBOOK_FILTER_0_BASE_DN", "ou=people,dc=example,dc=com")

	filters := loadAddressbookFilters()
	require.Len(t, filters, 1)
	assert.Equal(t, "Staff", filters[0].Name)
	assert.Equal(t, "ou=people,dc=example,dc=com", filters[0].BaseDN)
	assert.True(t, filters[0].Enabled)
}

func TestLoadAddressbookFilters_NoneConfigured(t *testing.T) {
	assert.Empty(t, loadAddressbookFilters())
}
