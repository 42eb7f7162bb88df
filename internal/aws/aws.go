package aws

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const kubernetesTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// Clients bundles the AWS service clients built from one config.
type Clients struct {
	Config         aws.Config
	KMS            *kms.Client
	SecretsManager *secretsmanager.Client
	STS            *sts.Client
}

func LoadAWSConfig(ctx context.Context, regionOverride string) (aws.Config, error) {
	var options []func(*config.LoadOptions) error

	// Only use profile if we're not in a K8s environment
	if !isInKubernetes() {
		options = append(options, config.WithSharedConfigProfile(getProfile()))
	}

	if regionOverride != "" {
		options = append(options, config.WithRegion(regionOverride))
	}

	return config.LoadDefaultConfig(ctx, options...)
}

func NewClients(cfg aws.Config) *Clients {
	return &Clients{
		Config:         cfg,
		KMS:            kms.NewFromConfig(cfg),
		SecretsManager: secretsmanager.NewFromConfig(cfg),
		STS:            sts.NewFromConfig(cfg),
	}
}

// Simple check to see if we're running in K8s
func isInKubernetes() bool {
	_, err := os.Stat(kubernetesTokenPath)
	return err == nil
}

func getProfile() string {
	if profile := os.Getenv("AWS_PROFILE"); profile != "" {
		return profile
	}
	return "default"
}

func (c *Clients) GetCallerIdentity(ctx context.Context) (*sts.GetCallerIdentityOutput, error) {
	return c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
}
