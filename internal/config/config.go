package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"orderScope/internal/batch"
)

// EnvPrefix prefixes every environment variable the client reads.
const EnvPrefix = "MARKET"

// Mainnet deployment defaults.
const (
	DefaultFactory     = "0x1e17217d83f85d485ca0af3fa224a0e762e7cf7f"
	DefaultStableToken = "0xf939E0A03FB07F59A73314E73794Be0E57ac1b4E"
	DefaultFeeBps      = 500
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL      string
	ChainID     uint64
	Factory     common.Address
	StableToken common.Address

	// MarketsTemplate and OrdersTemplate are paths to template files;
	// MarketsBytecode and OrdersBytecode are what they contain.
	MarketsTemplate string
	OrdersTemplate  string
	MarketsBytecode string
	OrdersBytecode  string

	FeeBps         uint64
	ChunkSize      uint64
	MaxConcurrency int
	OrdersTTL      time.Duration
	MarketsTTL     time.Duration
	BalancesTTL    time.Duration
	ExactApprovals bool

	PriceAPI    string
	RedisURL    string
	PrivateKey  string
	LogLevel    string
	MetricsAddr string
	Out         string
}

// Load merges an optional .env file, config file, environment variables, and
// flags into Config. Flags win over env, env over the file, the file over
// defaults.
func Load(cfgFile, envFile string, flags *pflag.FlagSet) (Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chain-id", uint64(1))
	v.SetDefault("factory", DefaultFactory)
	v.SetDefault("stable-token", DefaultStableToken)
	v.SetDefault("fee-bps", uint64(DefaultFeeBps))
	v.SetDefault("chunk-size", batch.DefaultChunkSize)
	v.SetDefault("max-concurrency", 8)
	v.SetDefault("orders-ttl", 30*time.Second)
	v.SetDefault("markets-ttl", 5*time.Minute)
	v.SetDefault("balances-ttl", 15*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("marketctl")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	factory, err := ParseOptionalAddress(v.GetString("factory"))
	if err != nil {
		return Config{}, fmt.Errorf("factory: %w", err)
	}
	stable, err := ParseOptionalAddress(v.GetString("stable-token"))
	if err != nil {
		return Config{}, fmt.Errorf("stable-token: %w", err)
	}

	cfg := Config{
		RPCURL:          v.GetString("rpc"),
		ChainID:         v.GetUint64("chain-id"),
		Factory:         factory,
		StableToken:     stable,
		MarketsTemplate: v.GetString("markets-template"),
		OrdersTemplate:  v.GetString("orders-template"),
		FeeBps:          v.GetUint64("fee-bps"),
		ChunkSize:       v.GetUint64("chunk-size"),
		MaxConcurrency:  v.GetInt("max-concurrency"),
		OrdersTTL:       v.GetDuration("orders-ttl"),
		MarketsTTL:      v.GetDuration("markets-ttl"),
		BalancesTTL:     v.GetDuration("balances-ttl"),
		ExactApprovals:  v.GetBool("exact-approvals"),
		PriceAPI:        v.GetString("price-api"),
		RedisURL:        v.GetString("redis-url"),
		PrivateKey:      v.GetString("private-key"),
		LogLevel:        v.GetString("log-level"),
		MetricsAddr:     v.GetString("metrics-addr"),
		Out:             v.GetString("out"),
	}

	if cfg.MarketsBytecode, err = batch.LoadBytecode(cfg.MarketsTemplate); err != nil {
		return Config{}, fmt.Errorf("markets template: %w", err)
	}
	if cfg.OrdersBytecode, err = batch.LoadBytecode(cfg.OrdersTemplate); err != nil {
		return Config{}, fmt.Errorf("orders template: %w", err)
	}
	if cfg.FeeBps > 10_000 {
		return Config{}, fmt.Errorf("fee-bps %d exceeds 10000", cfg.FeeBps)
	}

	return cfg, nil
}

// Validate checks the settings every chain-backed command needs.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain id is required")
	}
	return nil
}

// loadDotEnv reads path, or ./.env when path is empty. A missing default
// file is not an error; a missing explicit one is.
func loadDotEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
