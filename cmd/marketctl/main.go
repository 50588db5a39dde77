package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"orderScope/internal/app"
	"orderScope/internal/batch"
	"orderScope/internal/config"
	"orderScope/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:          "marketctl",
		Short:        "Premium order marketplace client",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("env-file", "", "dotenv file path (default ./.env if present)")

	root.AddCommand(
		marketsCmd(),
		ordersCmd(),
		myOrdersCmd(),
		balancesCmd(),
		buyCmd(),
		createCmd(),
		cancelCmd(),
		watchCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// addCommonFlags registers the settings every command shares. The private
// key is read from the environment only.
func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("rpc", "", "JSON-RPC URL")
	fs.Uint64("chain-id", 1, "expected chain id")
	fs.String("factory", config.DefaultFactory, "marketplace factory address")
	fs.String("stable-token", config.DefaultStableToken, "settlement stablecoin address")
	fs.String("markets-template", "", "markets query template JSON file")
	fs.String("orders-template", "", "orders query template JSON file")
	fs.Uint64("fee-bps", config.DefaultFeeBps, "protocol fee in basis points, for proceeds estimates")
	fs.Uint64("chunk-size", batch.DefaultChunkSize, "orders per query call")
	fs.Int("max-concurrency", 8, "maximum concurrent query calls")
	fs.Duration("orders-ttl", 30*time.Second, "order book freshness window")
	fs.Duration("markets-ttl", 5*time.Minute, "market catalog freshness window")
	fs.Duration("balances-ttl", 15*time.Second, "balance and allowance freshness window")
	fs.String("price-api", "", "price service base URL")
	fs.String("redis-url", "", "optional redis URL for the shared catalog cache")
	fs.Bool("exact-approvals", false, "approve exactly the required amount instead of unlimited")
	fs.String("out", "", "output JSONL path (default stdout)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

// session is the per-invocation state of a command.
type session struct {
	cfg    config.Config
	logger *zap.Logger
	reg    *app.Registry
	out    storage.Storage
	ctx    context.Context
	stop   context.CancelFunc
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(cfgFile, envFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	reg, err := app.New(ctx, cfg, logger)
	if err != nil {
		stop()
		_ = logger.Sync()
		return nil, err
	}

	out, err := storage.NewJsonlStorage(cfg.Out)
	if err != nil {
		reg.Close()
		stop()
		_ = logger.Sync()
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, reg: reg, out: out, ctx: ctx, stop: stop}, nil
}

func (s *session) Close() {
	if err := s.out.Close(); err != nil {
		s.logger.Warn("close output", zap.Error(err))
	}
	s.reg.Close()
	s.stop()
	_ = s.logger.Sync()
}

// owner resolves --owner, falling back to the signer address.
func (s *session) owner(cmd *cobra.Command) (common.Address, error) {
	raw, _ := cmd.Flags().GetString("owner")
	if raw != "" {
		return config.ParseAddress(raw)
	}
	if s.reg.Transactor != nil {
		return s.reg.Transactor.From(), nil
	}
	return common.Address{}, fmt.Errorf("--owner is required without a configured private key")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
