package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"flipd/chain"
	"flipd/config"
	"flipd/game"
	"flipd/observability"
	"flipd/observability/logging"
	flipotel "flipd/observability/otel"
	"flipd/payment"
	"flipd/payout"
	"flipd/server"
	"flipd/storage"
)

// historySource adapts the index client's concrete iterator to the locator's
// pager interface.
type historySource struct {
	client *chain.IndexClient
}

func (h historySource) TransactionHistory(ctx context.Context, account string, pageSize int) (payment.HistoryPager, error) {
	return h.client.TransactionHistory(ctx, account, pageSize)
}

func main() {
	configPath := flag.String("config", "flipd.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logOpts := []logging.Option{}
	if cfg.LogFile != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.LogFile))
	}
	logger := logging.Setup("flipd", cfg.Environment, logOpts...)

	ctx := context.Background()
	if cfg.OTLPEndpoint != "" {
		shutdown, err := flipotel.Init(ctx, flipotel.Config{
			ServiceName: "flipd",
			Environment: cfg.Environment,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.Environment != "production",
			Headers:     flipotel.ParseHeaders(cfg.OTLPHeaders),
		})
		if err != nil {
			log.Fatalf("telemetry init error: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "err", err)
			}
		}()
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("storage error: %v", err)
	}

	indexClient := chain.NewIndexClient(cfg.IndexEndpoint)
	pathClient := indexClient
	if cfg.PathfinderURL() != cfg.IndexEndpoint {
		pathClient = chain.NewIndexClient(cfg.PathfinderURL())
	}
	locator := payment.NewLocator(indexClient, historySource{client: indexClient}, logger)

	executor, err := buildExecutor(cfg, logger)
	if err != nil {
		log.Fatalf("payout setup error: %v", err)
	}

	engine, err := game.NewEngine(
		game.Config{
			Recipient:    cfg.OrgAddress,
			EntryAmount:  cfg.EntryAmount,
			PayoutAmount: cfg.PayoutAmount,
			LinkBase:     cfg.LinkBase,
		},
		store, locator, pathClient, executor,
		game.WithLogger(logger),
		game.WithMetrics(observability.Metrics()),
	)
	if err != nil {
		log.Fatalf("engine init error: %v", err)
	}

	srv := server.New(server.Config{
		Engine:              engine,
		Logger:              logger,
		CreateRatePerMinute: cfg.CreateRatePerMinute,
		CreateBurst:         cfg.CreateBurst,
		TraceHandlers:       cfg.OTLPEndpoint != "",
	})

	logger.Info("starting flipd",
		"listen", cfg.ListenAddress,
		"store", storeKind(cfg),
		"safe", cfg.SafeAddress != "",
		"payout_key", logging.MaskValue(cfg.PayoutKey()),
	)
	if err := srv.ListenAndServe(cfg.ListenAddress); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func openStore(cfg *config.Config) (game.RoundStore, error) {
	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return storage.NewGormStore(db)
	}
	return storage.NewFileStore(cfg.DataFile)
}

func storeKind(cfg *config.Config) string {
	if cfg.DatabaseURL != "" {
		return "postgres"
	}
	return "file"
}

// buildExecutor wires the payout path. A missing RPC endpoint or signing key
// leaves the executor unsigned: payouts then fail with a recorded error
// instead of blocking round resolution.
func buildExecutor(cfg *config.Config, logger *slog.Logger) (*payout.Executor, error) {
	payoutCfg := payout.Config{
		Org:     cfg.OrgAddress,
		Safe:    cfg.SafeAddress,
		ChainID: big.NewInt(cfg.ChainID),
	}

	var client payout.ChainClient
	if cfg.ChainRPCEndpoint != "" {
		eth, err := ethclient.Dial(cfg.ChainRPCEndpoint)
		if err != nil {
			return nil, fmt.Errorf("dial chain rpc: %w", err)
		}
		client = eth
	} else {
		logger.Warn("no chain rpc endpoint configured; payouts will fail until one is set")
	}

	keyHex := cfg.PayoutKey()
	if keyHex == "" {
		logger.Warn("payout signing key not set", "env", cfg.PayoutKeyEnv)
		return payout.NewExecutor(client, payoutCfg, nil, payout.WithLogger(logger)), nil
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse payout key from %s: %w", cfg.PayoutKeyEnv, err)
	}
	return payout.NewExecutor(client, payoutCfg, key, payout.WithLogger(logger)), nil
}
