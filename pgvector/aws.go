package pgvector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cockroachdb/errors"
)

// SecretsManagerClient defines the interface for AWS Secrets Manager operations.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecrets returns a FetchSecrets function that retrieves database credentials
// from AWS Secrets Manager. The secret is expected to be stored at the path
// "{environment}/pgvector" and contain either a "dsn" field or the fields of an
// RDS-managed secret (host, port, username, password, dbname).
func AWSSecrets(ctx context.Context, client SecretsManagerClient, env string) FetchSecrets {
	secretPath := fmt.Sprintf("%s/pgvector", env)
	return func() (Secrets, error) {
		return getSecret(ctx, client, secretPath, "path")
	}
}

// AWSSecretsFromARN returns a FetchSecrets function that retrieves database
// credentials from AWS Secrets Manager using the provided secret ARN.
func AWSSecretsFromARN(ctx context.Context, client SecretsManagerClient, secretArn string) FetchSecrets {
	return func() (Secrets, error) {
		return getSecret(ctx, client, secretArn, "ARN")
	}
}

func getSecret(ctx context.Context, client SecretsManagerClient, secretID, kind string) (Secrets, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	}

	result, err := client.GetSecretValue(ctx, input)
	if err != nil {
		return Secrets{}, errors.Wrapf(err, "failed to get secret from AWS Secrets Manager with %s %s", kind, secretID)
	}

	if result.SecretString == nil {
		return Secrets{}, errors.Newf("secret with %s %s has no string value", kind, secretID)
	}

	var secrets Secrets
	if err := json.Unmarshal([]byte(aws.ToString(result.SecretString)), &secrets); err != nil {
		return Secrets{}, errors.Wrapf(err, "failed to unmarshal secret JSON from %s %s", kind, secretID)
	}

	return secrets, nil
}
