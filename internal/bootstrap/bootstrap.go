package bootstrap

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/config"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/persistence/badger"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/persistence/memory"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/persistence/redis"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/secrets"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer/awsKmsSigner"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer/inMemorySigner"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NewKeyValueStore opens the backend selected by cfg.StoreType and health
// checks it so an unreachable store fails startup.
func NewKeyValueStore(cfg *config.CosignServerConfig, logger *zap.Logger) (persistence.IKeyValueStore, error) {
	kv, err := openKeyValueStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := CheckKeyValueStore(kv, cfg.StoreType, logger); err != nil {
		if closeErr := kv.Close(); closeErr != nil {
			logger.Sugar().Warnw("Failed to close store after health check failure", "error", closeErr)
		}
		return nil, err
	}
	return kv, nil
}

// CheckKeyValueStore runs the store's health check.
func CheckKeyValueStore(kv persistence.IKeyValueStore, storeType config.StoreType, logger *zap.Logger) error {
	if err := kv.HealthCheck(); err != nil {
		return errors.Wrapf(err, "%s store failed health check", storeType)
	}
	logger.Sugar().Infow("Key-value store ready", "store", storeType)
	return nil
}

func openKeyValueStore(cfg *config.CosignServerConfig, logger *zap.Logger) (persistence.IKeyValueStore, error) {
	switch cfg.StoreType {
	case config.StoreTypeMemory:
		return memory.NewMemoryPersistence(), nil
	case config.StoreTypeRedis:
		kv, err := redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open redis store")
		}
		return kv, nil
	case config.StoreTypeBadger:
		kv, err := badger.NewBadgerPersistence(cfg.Badger.DataPath, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open badger store")
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.StoreType)
	}
}

// ResolveSecrets replaces the admin, signer and telemetry secrets in cfg with
// their Secrets Manager values where an ARN is configured.
func ResolveSecrets(ctx context.Context, cfg *config.CosignServerConfig, resolver *secrets.Resolver) error {
	var err error
	if cfg.AdminKey, err = resolver.Resolve(ctx, "admin key", cfg.AdminKeySecretArn, cfg.AdminKey); err != nil {
		return err
	}
	if cfg.Signer.PrivateKey, err = resolver.Resolve(ctx, "signer private key", cfg.Signer.PrivateKeySecretArn, cfg.Signer.PrivateKey); err != nil {
		return err
	}
	if cfg.Telemetry.APIKey, err = resolver.Resolve(ctx, "telemetry api key", cfg.Telemetry.APIKeySecretArn, cfg.Telemetry.APIKey); err != nil {
		return err
	}
	return nil
}

// NewSignerFactory returns the factory for the configured signer backend.
// kmsClient is only used for the aws-kms signer and may be nil otherwise.
func NewSignerFactory(cfg *config.CosignServerConfig, kmsClient awsKmsSigner.KMSAPI, logger *zap.Logger) (signer.Factory, error) {
	switch cfg.Signer.Type {
	case config.SignerTypeLocal:
		return inMemorySigner.Factory(cfg.Signer.PrivateKey, logger), nil
	case config.SignerTypeAWSKMS:
		if kmsClient == nil {
			return nil, errors.New("aws-kms signer requires a KMS client")
		}
		return awsKmsSigner.Factory(kmsClient, cfg.Signer.KMSKeyId, logger), nil
	default:
		return nil, fmt.Errorf("unsupported signer type: %s", cfg.Signer.Type)
	}
}
