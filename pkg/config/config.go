package config

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for cosign server configuration
const (
	EnvCosignPort            = "COSIGN_PORT"
	EnvCosignMetricsPort     = "COSIGN_METRICS_PORT"
	EnvCosignVerbose         = "COSIGN_VERBOSE"
	EnvCosignShutdownTimeout = "COSIGN_SHUTDOWN_TIMEOUT"

	EnvCosignSignerType                = "COSIGN_SIGNER_TYPE"
	EnvCosignSignerPrivateKey          = "COSIGN_SIGNER_PRIVATE_KEY"
	EnvCosignSignerPrivateKeySecretArn = "COSIGN_SIGNER_PRIVATE_KEY_SECRET_ARN"
	EnvCosignKMSKeyId                  = "COSIGN_KMS_KEY_ID"
	EnvCosignAWSRegion                 = "COSIGN_AWS_REGION"

	EnvCosignAdminKey          = "COSIGN_ADMIN_KEY"
	EnvCosignAdminKeySecretArn = "COSIGN_ADMIN_KEY_SECRET_ARN"

	EnvCosignDDAPIKey          = "COSIGN_DD_API_KEY"
	EnvCosignDDAPIKeySecretArn = "COSIGN_DD_API_KEY_SECRET_ARN"
	EnvCosignDDEndpoint        = "COSIGN_DD_ENDPOINT"
	EnvCosignDDService         = "COSIGN_DD_SERVICE"
	EnvCosignEnvironment       = "COSIGN_ENVIRONMENT"

	EnvCosignStoreType      = "COSIGN_STORE_TYPE"
	EnvCosignRedisAddress   = "COSIGN_REDIS_ADDRESS"
	EnvCosignRedisPassword  = "COSIGN_REDIS_PASSWORD"
	EnvCosignRedisDB        = "COSIGN_REDIS_DB"
	EnvCosignRedisKeyPrefix = "COSIGN_REDIS_KEY_PREFIX"
	EnvCosignBadgerDataPath = "COSIGN_BADGER_DATA_PATH"

	EnvCosignRateLimit = "COSIGN_RATE_LIMIT"
	EnvCosignRateBurst = "COSIGN_RATE_BURST"

	EnvCosignServerURL = "COSIGN_SERVER_URL"
)

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeBadger StoreType = "badger"
)

func (s StoreType) String() string {
	return string(s)
}

type SignerType string

const (
	SignerTypeLocal  SignerType = "local"
	SignerTypeAWSKMS SignerType = "aws-kms"
)

func (s SignerType) String() string {
	return string(s)
}

// ParseStoreType is case-insensitive.
func ParseStoreType(s string) (StoreType, error) {
	switch st := StoreType(strings.ToLower(strings.TrimSpace(s))); st {
	case StoreTypeMemory, StoreTypeRedis, StoreTypeBadger:
		return st, nil
	default:
		return "", fmt.Errorf("unsupported store type %q. Supported: %s", s, GetSupportedStoreTypesString())
	}
}

// ParseSignerType is case-insensitive.
func ParseSignerType(s string) (SignerType, error) {
	switch st := SignerType(strings.ToLower(strings.TrimSpace(s))); st {
	case SignerTypeLocal, SignerTypeAWSKMS:
		return st, nil
	default:
		return "", fmt.Errorf("unsupported signer type %q. Supported: %s, %s", s, SignerTypeLocal, SignerTypeAWSKMS)
	}
}

// GetSupportedStoreTypesString returns supported store types for CLI help
func GetSupportedStoreTypesString() string {
	return fmt.Sprintf("%s, %s, %s", StoreTypeMemory, StoreTypeRedis, StoreTypeBadger)
}

type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"-"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"keyPrefix"`
}

type BadgerConfig struct {
	DataPath string `json:"dataPath"`
}

type SignerConfig struct {
	Type SignerType `json:"type"`

	// local
	PrivateKey          string `json:"-"`
	PrivateKeySecretArn string `json:"privateKeySecretArn,omitempty"`

	// aws-kms
	KMSKeyId string `json:"kmsKeyId,omitempty"`
}

type TelemetryConfig struct {
	APIKey          string `json:"-"`
	APIKeySecretArn string `json:"apiKeySecretArn,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	Service         string `json:"service,omitempty"`
	Environment     string `json:"environment,omitempty"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

// CosignServerConfig represents the complete configuration for a cosign server.
// Missing signer and admin secrets are not configuration errors: the
// affected endpoints fail on first use instead.
type CosignServerConfig struct {
	Port            int           `json:"port"`
	MetricsPort     int           `json:"metricsPort"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout"`
	AWSRegion       string        `json:"awsRegion,omitempty"`
	Debug           bool          `json:"debug"`

	Signer    SignerConfig    `json:"signer"`
	Telemetry TelemetryConfig `json:"telemetry"`
	RateLimit RateLimitConfig `json:"rateLimit"`

	AdminKey          string `json:"-"`
	AdminKeySecretArn string `json:"adminKeySecretArn,omitempty"`

	StoreType StoreType    `json:"storeType"`
	Redis     RedisConfig  `json:"redis"`
	Badger    BadgerConfig `json:"badger"`
}

// Validate validates the cosign server configuration
func (c *CosignServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("metricsPort"), c.MetricsPort, "must be between 0-65535"))
	} else if c.MetricsPort != 0 && c.MetricsPort == c.Port {
		allErrors = append(allErrors, field.Duplicate(field.NewPath("metricsPort"), c.MetricsPort))
	}
	if c.ShutdownTimeout < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("shutdownTimeout"), c.ShutdownTimeout.String(), "must not be negative"))
	}

	switch c.Signer.Type {
	case SignerTypeLocal, SignerTypeAWSKMS:
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("signer", "type"), c.Signer.Type, []string{
			SignerTypeLocal.String(), SignerTypeAWSKMS.String(),
		}))
	}

	switch c.StoreType {
	case StoreTypeMemory:
	case StoreTypeRedis:
		if c.Redis.Address == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redis", "address"), "redis address is required when store type is redis"))
		}
		if c.Redis.DB < 0 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redis", "db"), c.Redis.DB, "must not be negative"))
		}
	case StoreTypeBadger:
		if c.Badger.DataPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("badger", "dataPath"), "data path is required when store type is badger"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("storeType"), c.StoreType, []string{
			StoreTypeMemory.String(), StoreTypeRedis.String(), StoreTypeBadger.String(),
		}))
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit", "requestsPerSecond"), c.RateLimit.RequestsPerSecond, "must not be negative"))
	}
	if c.RateLimit.Burst < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit", "burst"), c.RateLimit.Burst, "must not be negative"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// NeedsAWS reports whether any component talks to AWS.
func (c *CosignServerConfig) NeedsAWS() bool {
	return c.Signer.Type == SignerTypeAWSKMS ||
		c.Signer.PrivateKeySecretArn != "" ||
		c.AdminKeySecretArn != "" ||
		c.Telemetry.APIKeySecretArn != ""
}
