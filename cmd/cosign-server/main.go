package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	internalAws "github.com/Layr-Labs/nft-cosigner-go/internal/aws"
	"github.com/Layr-Labs/nft-cosigner-go/internal/bootstrap"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/auth"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/collections"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/config"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/cosign"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/logger"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/metrics"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/ratelimit"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/secrets"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/server"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer/awsKmsSigner"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	// a missing .env is fine; flags and the environment still apply
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "cosign-server",
		Usage: "NFT mint cosign authorization server",
		Description: `Signs mint authorizations for NFT collections that are inside their eligibility window.

This server implements:
- Admin managed collection windows (POST/GET /collections)
- EIP-191 cosignatures over (collection, minter, qty, cosigner, timestamp) (POST /cosign)`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8080,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvCosignPort},
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Value:   0,
				Usage:   "Prometheus metrics port (0 disables)",
				EnvVars: []string{config.EnvCosignMetricsPort},
			},
			&cli.DurationFlag{
				Name:    "shutdown-timeout",
				Value:   15 * time.Second,
				Usage:   "Time allowed for in-flight requests on shutdown",
				EnvVars: []string{config.EnvCosignShutdownTimeout},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvCosignVerbose},
			},
			&cli.StringFlag{
				Name:    "signer-type",
				Value:   string(config.SignerTypeLocal),
				Usage:   "Signer backend: local, aws-kms",
				EnvVars: []string{config.EnvCosignSignerType},
			},
			&cli.StringFlag{
				Name:    "signer-private-key",
				Usage:   "secp256k1 private key (hex) for the local signer",
				EnvVars: []string{config.EnvCosignSignerPrivateKey},
			},
			&cli.StringFlag{
				Name:    "signer-private-key-secret-arn",
				Usage:   "Secrets Manager ARN holding the local signer private key",
				EnvVars: []string{config.EnvCosignSignerPrivateKeySecretArn},
			},
			&cli.StringFlag{
				Name:    "kms-key-id",
				Usage:   "AWS KMS key id or alias for the aws-kms signer",
				EnvVars: []string{config.EnvCosignKMSKeyId},
			},
			&cli.StringFlag{
				Name:    "aws-region",
				Usage:   "AWS region override",
				EnvVars: []string{config.EnvCosignAWSRegion},
			},
			&cli.StringFlag{
				Name:    "admin-key",
				Usage:   "Secret expected in the x-admin-key header",
				EnvVars: []string{config.EnvCosignAdminKey},
			},
			&cli.StringFlag{
				Name:    "admin-key-secret-arn",
				Usage:   "Secrets Manager ARN holding the admin key",
				EnvVars: []string{config.EnvCosignAdminKeySecretArn},
			},
			&cli.StringFlag{
				Name:    "dd-api-key",
				Usage:   "Datadog API key; telemetry is disabled when empty",
				EnvVars: []string{config.EnvCosignDDAPIKey},
			},
			&cli.StringFlag{
				Name:    "dd-api-key-secret-arn",
				Usage:   "Secrets Manager ARN holding the Datadog API key",
				EnvVars: []string{config.EnvCosignDDAPIKeySecretArn},
			},
			&cli.StringFlag{
				Name:    "dd-endpoint",
				Usage:   "Datadog log intake URL",
				EnvVars: []string{config.EnvCosignDDEndpoint},
			},
			&cli.StringFlag{
				Name:    "dd-service",
				Usage:   "Service name attached to telemetry",
				EnvVars: []string{config.EnvCosignDDService},
			},
			&cli.StringFlag{
				Name:    "environment",
				Usage:   "Environment tag attached to telemetry",
				EnvVars: []string{config.EnvCosignEnvironment},
			},
			&cli.StringFlag{
				Name:    "store-type",
				Value:   string(config.StoreTypeMemory),
				Usage:   fmt.Sprintf("Collection store backend: %s", config.GetSupportedStoreTypesString()),
				EnvVars: []string{config.EnvCosignStoreType},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				EnvVars: []string{config.EnvCosignRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvCosignRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvCosignRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every Redis key",
				EnvVars: []string{config.EnvCosignRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "badger-data-path",
				Value:   "./data/cosigner",
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvCosignBadgerDataPath},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Value:   0,
				Usage:   "Per-IP /cosign requests per second (0 disables)",
				EnvVars: []string{config.EnvCosignRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Value:   10,
				Usage:   "Per-IP /cosign burst size",
				EnvVars: []string{config.EnvCosignRateBurst},
			},
		},
		Action: runCosignServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runCosignServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := parseCosignConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var awsClients *internalAws.Clients
	if cfg.NeedsAWS() {
		awsCfg, err := internalAws.LoadAWSConfig(ctx, cfg.AWSRegion)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		awsClients = internalAws.NewClients(awsCfg)
		logCallerIdentity(ctx, awsClients, l)
	}

	var secretsClient secrets.SecretsManagerAPI
	var kmsClient awsKmsSigner.KMSAPI
	if awsClients != nil {
		secretsClient = awsClients.SecretsManager
		kmsClient = awsClients.KMS
	}
	if err := bootstrap.ResolveSecrets(ctx, cfg, secrets.NewResolver(secretsClient, l)); err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}

	if cfg.AdminKey == "" {
		l.Sugar().Warnw("No admin key configured; /collections will return 500")
	}
	if cfg.Signer.Type == config.SignerTypeLocal && cfg.Signer.PrivateKey == "" {
		l.Sugar().Warnw("No signer private key configured; /cosign will return 500")
	}

	kv, err := bootstrap.NewKeyValueStore(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			l.Sugar().Errorw("Failed to close store", "error", err)
		}
	}()

	factory, err := bootstrap.NewSignerFactory(cfg, kmsClient, l)
	if err != nil {
		return fmt.Errorf("failed to configure signer: %w", err)
	}

	sink, err := telemetry.NewSink(&telemetry.Config{
		APIKey:   cfg.Telemetry.APIKey,
		Endpoint: cfg.Telemetry.Endpoint,
		Service:  cfg.Telemetry.Service,
		Env:      cfg.Telemetry.Environment,
	}, nil, l)
	if err != nil {
		return fmt.Errorf("failed to configure telemetry: %w", err)
	}
	if !sink.Enabled() {
		l.Sugar().Infow("Telemetry disabled: no Datadog API key configured")
	}

	m := metrics.NewMetrics()

	limiter := ratelimit.NewRateLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, l)
	go limiter.Run(ctx, time.Minute)

	store := collections.NewStore(kv, l)
	svc := cosign.NewService(store, signer.NewManager(factory), l,
		cosign.WithTelemetry(sink),
		cosign.WithMetrics(m),
	)

	srv := server.NewServer(&server.Config{Port: cfg.Port}, &server.Dependencies{
		Cosign:      svc,
		Collections: store,
		Guard:       auth.NewGuard(cfg.AdminKey, l),
		RateLimiter: limiter,
		Telemetry:   sink,
		Metrics:     m,
	}, l)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	var metricsSrv *server.MetricsServer
	if cfg.MetricsPort > 0 {
		metricsSrv = server.NewMetricsServer(cfg.MetricsPort, m, l)
		if err := metricsSrv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	l.Sugar().Infow("Cosign server running",
		"port", cfg.Port,
		"store", cfg.StoreType,
		"signer", cfg.Signer.Type,
		"metrics_port", cfg.MetricsPort,
		"rate_limit", cfg.RateLimit.RequestsPerSecond,
	)

	<-ctx.Done()
	l.Sugar().Infow("Shutting down", "timeout", cfg.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		l.Sugar().Errorw("Failed to stop HTTP server", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			l.Sugar().Errorw("Failed to stop metrics server", "error", err)
		}
	}
	if err := sink.Close(shutdownCtx); err != nil {
		l.Sugar().Warnw("Telemetry did not drain before shutdown", "error", err)
	}
	return nil
}

func logCallerIdentity(ctx context.Context, clients *internalAws.Clients, l *zap.Logger) {
	identity, err := clients.GetCallerIdentity(ctx)
	if err != nil {
		l.Sugar().Warnw("Failed to get AWS caller identity", "error", err)
		return
	}
	l.Sugar().Infow("Using AWS identity",
		"account", aws.ToString(identity.Account),
		"arn", aws.ToString(identity.Arn),
		"region", clients.Config.Region,
	)
}

func parseCosignConfig(c *cli.Context) (*config.CosignServerConfig, error) {
	storeType, err := config.ParseStoreType(c.String("store-type"))
	if err != nil {
		return nil, err
	}
	signerType, err := config.ParseSignerType(c.String("signer-type"))
	if err != nil {
		return nil, err
	}

	return &config.CosignServerConfig{
		Port:            c.Int("port"),
		MetricsPort:     c.Int("metrics-port"),
		ShutdownTimeout: c.Duration("shutdown-timeout"),
		AWSRegion:       c.String("aws-region"),
		Debug:           c.Bool("verbose"),
		Signer: config.SignerConfig{
			Type:                signerType,
			PrivateKey:          c.String("signer-private-key"),
			PrivateKeySecretArn: c.String("signer-private-key-secret-arn"),
			KMSKeyId:            c.String("kms-key-id"),
		},
		Telemetry: config.TelemetryConfig{
			APIKey:          c.String("dd-api-key"),
			APIKeySecretArn: c.String("dd-api-key-secret-arn"),
			Endpoint:        c.String("dd-endpoint"),
			Service:         c.String("dd-service"),
			Environment:     c.String("environment"),
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: c.Float64("rate-limit"),
			Burst:             c.Int("rate-burst"),
		},
		AdminKey:          c.String("admin-key"),
		AdminKeySecretArn: c.String("admin-key-secret-arn"),
		StoreType:         storeType,
		Redis: config.RedisConfig{
			Address:   c.String("redis-address"),
			Password:  c.String("redis-password"),
			DB:        c.Int("redis-db"),
			KeyPrefix: c.String("redis-key-prefix"),
		},
		Badger: config.BadgerConfig{
			DataPath: c.String("badger-data-path"),
		},
	}, nil
}
