package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commoditydata/go-commodity-collector/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.ClickHouse.Host)
	assert.Equal(t, 9000, cfg.ClickHouse.Port)
	assert.Equal(t, "default", cfg.ClickHouse.User)
	assert.Equal(t, "commodity_data", cfg.ClickHouse.Database)

	assert.Equal(t, 5, cfg.Fetch.MaxRetryAttempts)
	assert.Equal(t, 60*time.Second, cfg.Fetch.RetryDelay)
	assert.Equal(t, 100, cfg.Fetch.MaxDaysPerRequest)
	assert.Equal(t, 5, cfg.Fetch.MaxRequestPerMinute)
	assert.Equal(t, time.Second, cfg.Fetch.ChunkPause)
	assert.Equal(t, 10000, cfg.Fetch.BatchSize)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("CLICKHOUSE_PORT", "9440")
	t.Setenv("MAX_RETRY_ATTEMPTS", "2")
	t.Setenv("RETRY_DELAY", "5s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ch.internal", cfg.ClickHouse.Host)
	assert.Equal(t, 9440, cfg.ClickHouse.Port)
	assert.Equal(t, 2, cfg.Fetch.MaxRetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.Fetch.RetryDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestAPIValidate(t *testing.T) {
	full := APIConfig{Key: "k", ClientCode: "c", Password: "p", TOTPKey: "t"}
	assert.NoError(t, full.Validate())

	cases := []struct {
		name   string
		mutate func(*APIConfig)
		want   string
	}{
		{"missing key", func(c *APIConfig) { c.Key = "" }, "SMARTAPI_KEY"},
		{"missing client code", func(c *APIConfig) { c.ClientCode = "" }, "SMARTAPI_CLIENT_CODE"},
		{"missing password", func(c *APIConfig) { c.Password = "" }, "SMARTAPI_PASSWORD"},
		{"missing totp key", func(c *APIConfig) { c.TOTPKey = "" }, "SMARTAPI_TOTP_KEY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := full
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestInstrumentsBuiltInCatalog(t *testing.T) {
	cfg := &Config{}
	instruments, err := cfg.Instruments()
	require.NoError(t, err)
	require.NotEmpty(t, instruments)

	for _, inst := range instruments {
		assert.NoError(t, inst.Validate())
		assert.Equal(t, "MCX", inst.Exchange)
	}
}

func TestInstrumentsFromFile(t *testing.T) {
	catalog := []models.Instrument{
		{Name: "GOLD03OCT25FUT", Exchange: "MCX", SymbolToken: "440939"},
	}
	raw, err := json.Marshal(catalog)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "instruments.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	cfg := &Config{InstrumentsFile: path}
	instruments, err := cfg.Instruments()
	require.NoError(t, err)
	assert.Equal(t, catalog, instruments)
}

func TestInstrumentsFileRejectsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"X","exchange":"","symbol_token":"1"}]`), 0o644))

	cfg := &Config{InstrumentsFile: path}
	_, err := cfg.Instruments()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange")
}

func TestFindInstrument(t *testing.T) {
	cfg := &Config{}

	byName, err := cfg.FindInstrument("GOLD03OCT25FUT")
	require.NoError(t, err)
	assert.Equal(t, "440939", byName.SymbolToken)

	byToken, err := cfg.FindInstrument("440939")
	require.NoError(t, err)
	assert.Equal(t, "GOLD03OCT25FUT", byToken.Name)

	_, err = cfg.FindInstrument("PLATINUM")
	assert.Error(t, err)
}
