package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

// MemoPolicy controls what the ingestor does with a deposit whose memo
// does not resolve to a customer: "skip" queues it for manual review and
// advances the cursor; "block" halts ingestion until an operator
// intervenes.
type MemoPolicy string

const (
	MemoPolicySkip  MemoPolicy = "skip"
	MemoPolicyBlock MemoPolicy = "block"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	HorizonURL        string `env:"HORIZON_URL,required"`
	ReceivingAccount  string `env:"RECEIVING_ACCOUNT,required"`
	SubmittingAccount string `env:"SUBMITTING_ACCOUNT,required"`
	SubmittingSeed    string `env:"SUBMITTING_SEED,required"`
	NetworkPassphrase string `env:"NETWORK_PASSPHRASE" envDefault:"Test SDF Network ; September 2015"`

	SettlementIntervalS  int `env:"SETTLEMENT_INTERVAL_S" envDefault:"30"`
	SettlementBatchLimit int `env:"SETTLEMENT_BATCH_LIMIT" envDefault:"50"`
	IngestPollIntervalS  int `env:"INGEST_POLL_INTERVAL_S" envDefault:"5"`
	IngestPageLimit      int `env:"INGEST_PAGE_LIMIT" envDefault:"100"`

	UnresolvedMemoPolicy MemoPolicy `env:"UNRESOLVED_MEMO_POLICY" envDefault:"skip"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.UnresolvedMemoPolicy != MemoPolicySkip && cfg.UnresolvedMemoPolicy != MemoPolicyBlock {
		return nil, fmt.Errorf("config.Load: UNRESOLVED_MEMO_POLICY must be skip or block, got %q", cfg.UnresolvedMemoPolicy)
	}
	return &cfg, nil
}

func (c *Config) SettlementInterval() time.Duration {
	return time.Duration(c.SettlementIntervalS) * time.Second
}

func (c *Config) IngestPollInterval() time.Duration {
	return time.Duration(c.IngestPollIntervalS) * time.Second
}
