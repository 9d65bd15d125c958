package fetch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Credentials authenticate against private HTTP mirrors.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SecretsAPI is the subset of the Secrets Manager client used to load
// mirror credentials.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadCredentials reads mirror credentials from a Secrets Manager secret
// holding {"username": "...", "password": "..."}.
func LoadCredentials(ctx context.Context, client SecretsAPI, secretID string) (*Credentials, error) {
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve secret: %w", err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %q has no string value", secretID)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(*result.SecretString), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse secret: %w", err)
	}
	if creds.Username == "" {
		return nil, fmt.Errorf("username not set in secret %q", secretID)
	}
	return &creds, nil
}
