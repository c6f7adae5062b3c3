// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	value *string
	err   error
	got   *secretsmanager.GetSecretValueInput
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput,
	_ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestGetPasswordFromSecretsManager(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		fake    *fakeSecrets
		want    string
		wantErr bool
	}{
		{name: "ok", secret: "db/prod", fake: &fakeSecrets{value: aws.String(`{"username":"u","password":"p4ss"}`)}, want: "p4ss"},
		{name: "no secret name", secret: "", fake: &fakeSecrets{}, wantErr: true},
		{name: "api error", secret: "db/prod", fake: &fakeSecrets{err: errors.New("denied")}, wantErr: true},
		{name: "nil string", secret: "db/prod", fake: &fakeSecrets{}, wantErr: true},
		{name: "bad json", secret: "db/prod", fake: &fakeSecrets{value: aws.String("not-json")}, wantErr: true},
		{name: "empty password", secret: "db/prod", fake: &fakeSecrets{value: aws.String(`{"password":""}`)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetPasswordFromSecretsManager(context.Background(), tt.fake, tt.secret)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "AWSCURRENT", aws.ToString(tt.fake.got.VersionStage))
			assert.Equal(t, tt.secret, aws.ToString(tt.fake.got.SecretId))
		})
	}
}

func TestResolveDBPassword_EnvOverride(t *testing.T) {
	t.Setenv(DBPasswordOverrideEnv, "")

	pwd, err := ResolveDBPassword(context.Background(), "unused", "")
	require.NoError(t, err)
	assert.Empty(t, pwd)
}

func TestStaticCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit keys win", func(t *testing.T) {
		creds, ok := StaticCredentials("AKID", "SECRET", "TOKEN")
		require.True(t, ok)
		v, err := creds.Retrieve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "AKID", v.AccessKeyID)
		assert.Equal(t, "TOKEN", v.SessionToken)
	})

	t.Run("vault files", func(t *testing.T) {
		t.Setenv("AWS_ACCESS_KEY_ID", "")
		dir := t.TempDir()
		keyFile := filepath.Join(dir, "key")
		passFile := filepath.Join(dir, "pass")
		require.NoError(t, os.WriteFile(keyFile, []byte("VAULTKEY\n"), 0o600))
		require.NoError(t, os.WriteFile(passFile, []byte("VAULTPASS\n"), 0o600))

		old := credentialFiles
		credentialFiles = [2]string{keyFile, passFile}
		defer func() { credentialFiles = old }()

		creds, ok := StaticCredentials("", "", "")
		require.True(t, ok)
		v, err := creds.Retrieve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "VAULTKEY", v.AccessKeyID)
		assert.Equal(t, "VAULTPASS", v.SecretAccessKey)
	})

	t.Run("env defers to sdk chain", func(t *testing.T) {
		t.Setenv("AWS_ACCESS_KEY_ID", "FROMENV")
		_, ok := StaticCredentials("", "", "")
		assert.False(t, ok)
	})

	t.Run("missing files", func(t *testing.T) {
		t.Setenv("AWS_ACCESS_KEY_ID", "")
		old := credentialFiles
		credentialFiles = [2]string{"/nonexistent/key", "/nonexistent/pass"}
		defer func() { credentialFiles = old }()

		_, ok := StaticCredentials("", "", "")
		assert.False(t, ok)
	})
}
