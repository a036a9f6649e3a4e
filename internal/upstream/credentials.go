package upstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Credentials holds the primary provider's login material. When
// SecretsManagerSecretID is configured, these are pulled from AWS
// Secrets Manager instead of environment variables, so rotating a
// compromised TOTP seed never requires a redeploy.
type Credentials struct {
	APIKey     string `json:"api_key"`
	ClientCode string `json:"client_code"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret"`
}

// LoadCredentials resolves primary-provider credentials from Secrets
// Manager if secretID is non-empty, else falls back to the literal
// fields already present in fallback.
func LoadCredentials(ctx context.Context, region, secretID string, fallback Credentials) (Credentials, error) {
	if secretID == "" {
		return fallback, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return Credentials{}, fmt.Errorf("upstream: load aws config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("upstream: get secret %s: %w", secretID, err)
	}

	var creds Credentials
	if out.SecretString == nil {
		return Credentials{}, fmt.Errorf("upstream: secret %s has no string payload", secretID)
	}
	if err := json.Unmarshal([]byte(*out.SecretString), &creds); err != nil {
		return Credentials{}, fmt.Errorf("upstream: unmarshal secret %s: %w", secretID, err)
	}
	return creds, nil
}
