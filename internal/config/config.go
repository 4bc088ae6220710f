// Package config loads collector settings from the environment, with
// optional .env file support for local runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/commoditydata/go-commodity-collector/internal/models"
)

// APIConfig holds the broker API credentials.
type APIConfig struct {
	Key        string `env:"SMARTAPI_KEY"`
	ClientCode string `env:"SMARTAPI_CLIENT_CODE"`
	Password   string `env:"SMARTAPI_PASSWORD"`
	TOTPKey    string `env:"SMARTAPI_TOTP_KEY"`
}

// Validate checks that all credential fields are present. It is only
// called on code paths that talk to the broker; storage-only commands
// such as setup-db and coverage run without credentials.
func (c APIConfig) Validate() error {
	missing := func(name string) error {
		return fmt.Errorf("missing required environment variable %s", name)
	}
	switch {
	case c.Key == "":
		return missing("SMARTAPI_KEY")
	case c.ClientCode == "":
		return missing("SMARTAPI_CLIENT_CODE")
	case c.Password == "":
		return missing("SMARTAPI_PASSWORD")
	case c.TOTPKey == "":
		return missing("SMARTAPI_TOTP_KEY")
	}
	return nil
}

// ClickHouseConfig holds storage connection settings.
type ClickHouseConfig struct {
	Host     string `env:"CLICKHOUSE_HOST" envDefault:"localhost"`
	Port     int    `env:"CLICKHOUSE_PORT" envDefault:"9000"`
	User     string `env:"CLICKHOUSE_USER" envDefault:"default"`
	Password string `env:"CLICKHOUSE_PASSWORD"`
	Database string `env:"CLICKHOUSE_DATABASE" envDefault:"commodity_data"`
}

// FetchConfig holds retry, pacing and chunking settings.
type FetchConfig struct {
	MaxRetryAttempts    int           `env:"MAX_RETRY_ATTEMPTS" envDefault:"5"`
	RetryDelay          time.Duration `env:"RETRY_DELAY" envDefault:"60s"`
	MaxDaysPerRequest   int           `env:"MAX_DAYS_PER_REQUEST" envDefault:"100"`
	MaxRequestPerMinute int           `env:"MAX_REQUEST_PER_MINUTE" envDefault:"5"`
	ChunkPause          time.Duration `env:"CHUNK_PAUSE" envDefault:"1s"`
	BatchSize           int           `env:"CANDLE_BATCH_SIZE" envDefault:"10000"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
	File   string `env:"LOG_FILE"`
}

// Config is the full collector configuration.
type Config struct {
	API        APIConfig
	ClickHouse ClickHouseConfig
	Fetch      FetchConfig
	Log        LogConfig

	// InstrumentsFile optionally points at a JSON catalog replacing
	// the built-in contract list.
	InstrumentsFile string `env:"INSTRUMENTS_FILE"`
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present; a missing file is
// not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}

// defaultInstruments is the built-in catalog of MCX contracts the
// collector tracks. Symbol tokens change as contracts roll; override
// with INSTRUMENTS_FILE when these expire.
var defaultInstruments = []models.Instrument{
	{Name: "GOLD03OCT25FUT", Exchange: "MCX", SymbolToken: "440939"},
	{Name: "SILVER05DEC25FUT", Exchange: "MCX", SymbolToken: "432964"},
	{Name: "CRUDEOIL19AUG25FUT", Exchange: "MCX", SymbolToken: "449844"},
	{Name: "NATURALGAS26AUG25FUT", Exchange: "MCX", SymbolToken: "450674"},
	{Name: "COPPER29AUG25FUT", Exchange: "MCX", SymbolToken: "451208"},
}

// Instruments returns the tracked contract catalog: the JSON file
// named by INSTRUMENTS_FILE when set, otherwise the built-in list.
func (c *Config) Instruments() ([]models.Instrument, error) {
	if c.InstrumentsFile == "" {
		out := make([]models.Instrument, len(defaultInstruments))
		copy(out, defaultInstruments)
		return out, nil
	}

	raw, err := os.ReadFile(c.InstrumentsFile)
	if err != nil {
		return nil, fmt.Errorf("read instruments file: %w", err)
	}
	var instruments []models.Instrument
	if err := json.Unmarshal(raw, &instruments); err != nil {
		return nil, fmt.Errorf("parse instruments file %s: %w", c.InstrumentsFile, err)
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("instruments file %s is empty", c.InstrumentsFile)
	}
	for i, inst := range instruments {
		if err := inst.Validate(); err != nil {
			return nil, fmt.Errorf("instruments file %s entry %d: %w", c.InstrumentsFile, i, err)
		}
	}
	return instruments, nil
}

// FindInstrument resolves a contract by name or symbol token from the
// catalog.
func (c *Config) FindInstrument(key string) (models.Instrument, error) {
	instruments, err := c.Instruments()
	if err != nil {
		return models.Instrument{}, err
	}
	for _, inst := range instruments {
		if inst.Name == key || inst.SymbolToken == key {
			return inst, nil
		}
	}
	return models.Instrument{}, fmt.Errorf("unknown instrument %q", key)
}
