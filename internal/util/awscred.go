// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Vault-injected credential files for Kubernetes deployments.
const (
	DefaultAWSKeyFile  = "/vault/secrets/awss3key"
	DefaultAWSPassFile = "/vault/secrets/awss3pass"

	// DBPasswordOverrideEnv bypasses Secrets Manager lookups (smoketests/local).
	// When set (even to an empty string), ResolveDBPassword returns the value directly.
	DBPasswordOverrideEnv = "UPLOAD_EXPORT_DB_SECRET_OVERRIDE" //nolint:gosec // env var name, not a credential
)

// credentialFiles is swapped in tests.
var credentialFiles = [2]string{DefaultAWSKeyFile, DefaultAWSPassFile}

// StaticCredentials resolves explicit AWS credentials with the following priority:
// 1. CLI flags / config (accessKeyID, secretAccessKey, sessionToken)
// 2. Vault files, only when AWS_ACCESS_KEY_ID is not already in the environment
//
// ok is false when neither source is available; callers then rely on the
// AWS SDK default chain (env vars, shared config, SSO cache, IAM roles).
func StaticCredentials(accessKeyID, secretAccessKey, sessionToken string) (creds aws.CredentialsProvider, ok bool) {
	if accessKeyID != "" && secretAccessKey != "" {
		return credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken), true
	}

	if os.Getenv("AWS_ACCESS_KEY_ID") != "" {
		return nil, false
	}

	key, err := os.ReadFile(credentialFiles[0])
	if err != nil {
		return nil, false
	}
	pass, err := os.ReadFile(credentialFiles[1])
	if err != nil {
		return nil, false
	}
	return credentials.NewStaticCredentialsProvider(
		strings.TrimSpace(string(key)), strings.TrimSpace(string(pass)), ""), true
}

// LoadAWSConfig builds an aws.Config for region, preferring StaticCredentials
// over the SDK default chain.
func LoadAWSConfig(ctx context.Context, region, accessKeyID, secretAccessKey, sessionToken string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if creds, ok := StaticCredentials(accessKeyID, secretAccessKey, sessionToken); ok {
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("create AWS config: %w", err)
	}
	return awsCfg, nil
}

// SecretGetter is the part of the Secrets Manager client used here.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// GetPasswordFromSecretsManager retrieves the database password from AWS Secrets Manager.
// The secret JSON is expected to contain a "password" field.
func GetPasswordFromSecretsManager(ctx context.Context, svc SecretGetter, secretName string) (string, error) {
	if secretName == "" {
		return "", fmt.Errorf("secret name is required for Secrets Manager")
	}

	out, err := svc.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretName),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret string empty for %s", secretName)
	}

	var payload struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal([]byte(*out.SecretString), &payload); err != nil {
		return "", fmt.Errorf("parse secret json: %w", err)
	}
	if payload.Password == "" {
		return "", fmt.Errorf("password field empty in secret %s", secretName)
	}

	return payload.Password, nil
}

// ResolveDBPassword returns the database password. If DBPasswordOverrideEnv is set
// (even to an empty string), that value is returned. Otherwise, the password is
// fetched from AWS Secrets Manager using the provided secret and region.
func ResolveDBPassword(ctx context.Context, secretName, region string) (string, error) {
	if pwd, ok := os.LookupEnv(DBPasswordOverrideEnv); ok {
		return pwd, nil
	}
	if region == "" {
		return "", fmt.Errorf("region is required for Secrets Manager")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return "", fmt.Errorf("create AWS config: %w", err)
	}
	return GetPasswordFromSecretsManager(ctx, secretsmanager.NewFromConfig(awsCfg), secretName)
}
