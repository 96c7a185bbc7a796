package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/dwsmith1983/feedrun/internal/provider/redis"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// SecretPrefix marks a config value that names a Secrets Manager secret.
const SecretPrefix = "secretsmanager://"

// SecretResolver turns a secret id into its value.
type SecretResolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerResolver reads secret strings from AWS Secrets Manager.
type SecretsManagerResolver struct {
	client SecretsManagerAPI
}

// NewSecretsManagerResolver wraps client.
func NewSecretsManagerResolver(client SecretsManagerAPI) *SecretsManagerResolver {
	return &SecretsManagerResolver{client: client}
}

// Resolve fetches the SecretString of id.
func (r *SecretsManagerResolver) Resolve(ctx context.Context, id string) (string, error) {
	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", id)
	}
	return *out.SecretString, nil
}

// secretFields returns pointers to every config value that may hold a
// secret reference.
func secretFields(cfg *types.ProjectConfig) []*string {
	var fields []*string
	if cfg.Server != nil {
		fields = append(fields, &cfg.Server.APIKey)
	}
	if cfg.Sink != nil {
		fields = append(fields, &cfg.Sink.DSN)
	}
	if cfg.Archiver != nil {
		fields = append(fields, &cfg.Archiver.DSN)
	}
	if rc, ok := cfg.Redis.(*redis.Config); ok && rc != nil {
		fields = append(fields, &rc.Password)
	}
	return fields
}

// resolveSecrets replaces secretsmanager:// references in place. The AWS
// client is only built when at least one reference is present.
func resolveSecrets(ctx context.Context, cfg *types.ProjectConfig, resolver SecretResolver) error {
	var refs []*string
	for _, f := range secretFields(cfg) {
		if strings.HasPrefix(*f, SecretPrefix) {
			refs = append(refs, f)
		}
	}
	if len(refs) == 0 {
		return nil
	}

	if resolver == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		resolver = NewSecretsManagerResolver(secretsmanager.NewFromConfig(awsCfg))
	}

	cache := map[string]string{}
	for _, f := range refs {
		id := strings.TrimPrefix(*f, SecretPrefix)
		v, ok := cache[id]
		if !ok {
			var err error
			if v, err = resolver.Resolve(ctx, id); err != nil {
				return err
			}
			cache[id] = v
		}
		*f = v
	}
	return nil
}
