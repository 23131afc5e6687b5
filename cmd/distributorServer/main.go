package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-mint-go/pkg/config"
	"github.com/Layr-Labs/merkle-mint-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-mint-go/pkg/events"
	ledgermemory "github.com/Layr-Labs/merkle-mint-go/pkg/ledger/memory"
	"github.com/Layr-Labs/merkle-mint-go/pkg/logger"
	"github.com/Layr-Labs/merkle-mint-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-mint-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-mint-go/pkg/persistence/badger"
	persistencememory "github.com/Layr-Labs/merkle-mint-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-mint-go/pkg/persistence/redis"
	"github.com/Layr-Labs/merkle-mint-go/pkg/server"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

const (
	defaultEnvFile  = ".env"
	shutdownTimeout = 10 * time.Second
	eventBufferSize = 64
)

func main() {
	envFile := os.Getenv(config.EnvEnvFile)
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		log.Fatalf("Application error: %v", err)
	}

	app := &cli.App{
		Name:  "distributor-server",
		Usage: "Merkle airdrop and paid mint distributor",
		Description: `Serves one distribution over HTTP.

Claimants redeem merkle allocations, buyers mint at a fixed unit price, and the
owner publishes roots and mints for free through signed admin requests. Value
and payment ledgers are kept in memory; distribution state is persisted to the
selected backend.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "owner-address",
				Aliases:  []string{"owner"},
				Usage:    "Initial administrator address",
				EnvVars:  []string{config.EnvOwnerAddress},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "distributor-address",
				Usage:    "Distribution account, the spender on the payment ledger",
				EnvVars:  []string{config.EnvDistributorAddress},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "wallet-address",
				Aliases:  []string{"wallet"},
				Usage:    "Address receiving paid mint proceeds",
				EnvVars:  []string{config.EnvWalletAddress},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "payment-token-address",
				Usage:   "Settlement token address",
				EnvVars: []string{config.EnvPaymentTokenAddress},
			},
			&cli.StringFlag{
				Name:    "unit-price",
				Usage:   "Price of one unit in settlement token base units",
				Value:   config.DefaultUnitPriceBaseUnit,
				EnvVars: []string{config.EnvUnitPrice},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvPort},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Value:   config.DefaultRateLimit,
				Usage:   "Claim and mint requests per second per client",
				EnvVars: []string{config.EnvRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Value:   config.DefaultRateBurst,
				Usage:   "Rate limiter burst size",
				EnvVars: []string{config.EnvRateBurst},
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origins",
				Usage:   "CORS allowed origins",
				EnvVars: []string{config.EnvAllowedOrigins},
			},
			&cli.DurationFlag{
				Name:    "signature-max-age",
				Value:   config.DefaultSignatureMaxAge,
				Usage:   "Maximum age of a signed request",
				EnvVars: []string{config.EnvSignatureMaxAge},
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Value:   string(config.DefaultPersistenceType),
				Usage:   "Persistence backend: memory, badger or redis",
				EnvVars: []string{config.EnvPersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Value:   config.DefaultDataPath,
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				EnvVars: []string{config.EnvRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Value:   config.DefaultRedisKeyPrefix,
				Usage:   "Prefix for every Redis key",
				EnvVars: []string{config.EnvRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "snapshot-file",
				Usage:   "Snapshot to verify, store and publish on start",
				EnvVars: []string{config.EnvSnapshotFile},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvVerbose},
			},
		},
		Action: runDistributorServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runDistributorServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg := parseConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	unitPrice, err := cfg.UnitPriceInt()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := newStore(cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Warnw("Failed to close persistence", "error", err)
		}
	}()

	broadcaster := events.NewBroadcaster(eventBufferSize, l)
	owner := common.HexToAddress(cfg.OwnerAddress)
	d, err := distributor.NewDistributor(distributor.Config{
		Owner:        owner,
		Address:      common.HexToAddress(cfg.DistributorAddress),
		Wallet:       common.HexToAddress(cfg.WalletAddress),
		PaymentToken: common.HexToAddress(cfg.PaymentTokenAddress),
		UnitPrice:    unitPrice,
		Sink:         events.MultiSink{events.NewLogSink(l), broadcaster},
		Logger:       l,
	}, ledgermemory.NewValueLedger(), ledgermemory.NewPaymentLedger(), store)
	if err != nil {
		return errors.Wrap(err, "failed to create distributor")
	}

	if cfg.SnapshotFile != "" {
		if err := importSnapshot(context.Background(), d, store, cfg.SnapshotFile, l); err != nil {
			return err
		}
	}

	l.Sugar().Infow("Distributor server configuration",
		"owner", d.Owner().Hex(),
		"distributor", d.Address().Hex(),
		"wallet", d.Wallet().Hex(),
		"unit_price", d.Price().Dec(),
		"persistence", cfg.PersistenceType,
		"port", cfg.Port,
		"root", d.Root().Hex(),
		"total_supply", d.TotalSupply(),
	)

	srv := server.NewServer(server.Config{
		Port:            cfg.Port,
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
		AllowedOrigins:  cfg.AllowedOrigins,
		SignatureMaxAge: cfg.SignatureMaxAge,
	}, d, store, broadcaster, l)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	l.Sugar().Info("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	l.Sugar().Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func parseConfig(c *cli.Context) *config.DistributorServerConfig {
	return &config.DistributorServerConfig{
		OwnerAddress:        c.String("owner-address"),
		DistributorAddress:  c.String("distributor-address"),
		WalletAddress:       c.String("wallet-address"),
		PaymentTokenAddress: c.String("payment-token-address"),
		UnitPrice:           c.String("unit-price"),
		Port:                c.Int("port"),
		RateLimit:           c.Float64("rate-limit"),
		RateBurst:           c.Int("rate-burst"),
		AllowedOrigins:      c.StringSlice("allowed-origins"),
		SignatureMaxAge:     c.Duration("signature-max-age"),
		PersistenceType:     config.PersistenceType(c.String("persistence-type")),
		DataPath:            c.String("data-path"),
		RedisAddress:        c.String("redis-address"),
		RedisPassword:       c.String("redis-password"),
		RedisDB:             c.Int("redis-db"),
		RedisKeyPrefix:      c.String("redis-key-prefix"),
		SnapshotFile:        c.String("snapshot-file"),
		Verbose:             c.Bool("verbose"),
	}
}

func newStore(cfg *config.DistributorServerConfig, l *zap.Logger) (persistence.IDistributionPersistence, error) {
	switch cfg.PersistenceType {
	case config.PersistenceTypeBadger:
		store, err := badger.NewBadgerPersistence(cfg.DataPath, l)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open badger at %s", cfg.DataPath)
		}
		return store, nil
	case config.PersistenceTypeRedis:
		store, err := redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, l)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.RedisAddress)
		}
		return store, nil
	default:
		l.Sugar().Warnw("Using in-memory persistence; state is lost on restart")
		return persistencememory.NewMemoryPersistence(), nil
	}
}

// importSnapshot verifies the snapshot at path, stores it, and publishes its root as the owner
func importSnapshot(
	ctx context.Context,
	d *distributor.Distributor,
	store persistence.IDistributionPersistence,
	path string,
	l *zap.Logger,
) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read snapshot %s", path)
	}
	var snapshot types.DistributionSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return errors.Wrapf(err, "failed to parse snapshot %s", path)
	}
	if err := merkle.VerifySnapshot(&snapshot); err != nil {
		return errors.Wrapf(err, "snapshot %s is invalid", path)
	}
	root, err := snapshot.Root()
	if err != nil {
		return errors.Wrapf(err, "snapshot %s has an invalid root", path)
	}

	if err := store.SaveSnapshot(&snapshot); err != nil {
		return errors.Wrap(err, "failed to store snapshot")
	}

	capability, err := d.Grant(d.Owner())
	if err != nil {
		return errors.Wrap(err, "failed to grant owner capability")
	}
	if err := d.SetRoot(ctx, capability, root, path); err != nil {
		return errors.Wrapf(err, "failed to publish root %s", root.Hex())
	}

	l.Sugar().Infow("Snapshot imported",
		"root", root.Hex(),
		"token_total", snapshot.TokenTotal,
		"claims", len(snapshot.Claims),
	)
	return nil
}
