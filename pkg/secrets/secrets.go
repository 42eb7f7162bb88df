package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver turns a (secret ARN, direct value) pair into a secret string.
type Resolver struct {
	client SecretsManagerAPI
	logger *zap.Logger
}

// NewResolver accepts a nil client when no ARNs will be resolved.
func NewResolver(client SecretsManagerAPI, logger *zap.Logger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// Resolve returns the secret stored under secretArn, or directValue when no
// ARN is given. When the fetch fails the direct value is used if present.
// A secret stored as a JSON object with a single key is unwrapped to that
// key's value. Secret values are never logged.
func (r *Resolver) Resolve(ctx context.Context, name string, secretArn string, directValue string) (string, error) {
	if secretArn == "" {
		return directValue, nil
	}
	if r.client == nil {
		return "", fmt.Errorf("secret %s references %s but no Secrets Manager client is configured", name, secretArn)
	}

	value, err := r.fetch(ctx, secretArn)
	if err == nil {
		r.logger.Sugar().Infow("Resolved secret from Secrets Manager", "name", name, "secretArn", secretArn)
		return value, nil
	}

	if directValue != "" {
		r.logger.Sugar().Warnw("Failed to fetch secret from Secrets Manager, using direct value",
			"name", name,
			"secretArn", secretArn,
			"error", err,
		)
		return directValue, nil
	}
	return "", fmt.Errorf("failed to resolve secret %s from %s: %w", name, secretArn, err)
}

func (r *Resolver) fetch(ctx context.Context, secretArn string) (string, error) {
	result, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretArn),
	})
	if err != nil {
		return "", err
	}
	if result.SecretString == nil || *result.SecretString == "" {
		return "", fmt.Errorf("secret %s has no string value", secretArn)
	}
	raw := *result.SecretString

	var asJSON map[string]string
	if jsonErr := json.Unmarshal([]byte(raw), &asJSON); jsonErr == nil {
		if len(asJSON) == 1 {
			for _, v := range asJSON {
				return v, nil
			}
		}
		r.logger.Sugar().Warnw("Secret is JSON but not single-key, using raw string",
			"secretArn", secretArn,
			"keyCount", len(asJSON),
		)
	}
	return raw, nil
}
