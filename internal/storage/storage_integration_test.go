// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	"go.uber.org/zap/zaptest"

	"github.com/netSkope/upload-export/internal/testenv"
)

const (
	testBucket   = "upload-exports"
	testUser     = "minioadmin"
	testPassword = "minioadmin"
)

// setupMinio starts a MinIO container with testBucket created and returns
// its host:port.
func setupMinio(t *testing.T) (string, *MinioStore) {
	testenv.RequireDocker(t)
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			testenv.SkipIfUnavailable(t, r)
			panic(r)
		}
	}()

	container, err := tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		tcminio.WithUsername(testUser),
		tcminio.WithPassword(testPassword),
	)
	if err != nil {
		testenv.SkipIfUnavailable(t, err)
		t.Fatalf("Failed to start MinIO container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	ms, err := NewMinioStore(MinioOptions{
		Endpoint:        "http://" + endpoint,
		Bucket:          testBucket,
		Region:          "us-east-1",
		AccessKeyID:     testUser,
		SecretAccessKey: testPassword,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, ms.EnsureBucket(ctx))
	require.NoError(t, ms.EnsureBucket(ctx), "EnsureBucket is idempotent")

	return endpoint, ms
}

func readObject(t *testing.T, ms *MinioStore, key string) (string, error) {
	t.Helper()

	obj, err := ms.client.GetObject(context.Background(), testBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	return string(data), err
}

// runBackendSuite checks the ObjectStore contract through an Uploader.
func runBackendSuite(t *testing.T, backend ObjectStore, ms *MinioStore) {
	ctx := context.Background()
	u, err := NewUploader(backend, "https://cdn.example.com/files/", zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("streamed upload of unknown length", func(t *testing.T) {
		// Larger than one part, written in small pieces through a pipe.
		line := "0192f3a4-7b1c-7d2e-8f90-a1b2c3d4e5f6,X,https://cdn.example.com/images/x.png,2024-05-01T12:00:00.000Z\n"
		const lines = 70000

		pr, pw := io.Pipe()
		go func() {
			_, _ = io.WriteString(pw, "ID,Name,URL,Uploaded at\n")
			for i := 0; i < lines; i++ {
				if _, err := io.WriteString(pw, line); err != nil {
					return
				}
			}
			pw.Close()
		}()

		obj, err := u.Upload(ctx, Descriptor{FileName: "uploads.csv", ContentType: "text/csv", Body: pr, Folder: FolderDownloads})
		require.NoError(t, err)

		wantSize := int64(len("ID,Name,URL,Uploaded at\n") + lines*len(line))
		assert.Equal(t, wantSize, obj.Size)
		assert.True(t, strings.HasPrefix(obj.URL, "https://cdn.example.com/files/downloads/"))

		got, err := readObject(t, ms, obj.Key)
		require.NoError(t, err)
		assert.EqualValues(t, wantSize, len(got))
		assert.True(t, strings.HasPrefix(got, "ID,Name,URL,Uploaded at\n"+line))

		require.NoError(t, u.Discard(ctx, obj.Key))
		_, err = readObject(t, ms, obj.Key)
		assert.Error(t, err, "discarded object should be gone")
	})

	t.Run("failed stream leaves no object", func(t *testing.T) {
		oldID := u.newID
		u.newID = func() string { return "failed-stream" }
		defer func() { u.newID = oldID }()

		pr, pw := io.Pipe()
		go func() {
			_, _ = io.WriteString(pw, "ID,Name,URL,Uploaded at\n")
			pw.CloseWithError(errors.New("cursor failed"))
		}()

		_, err := u.Upload(ctx, Descriptor{FileName: "uploads.csv", Body: pr, Folder: FolderDownloads})
		require.Error(t, err)

		_, err = readObject(t, ms, "downloads/failed-stream-uploads.csv")
		assert.Error(t, err)
	})
}

func TestMinioStore(t *testing.T) {
	_, ms := setupMinio(t)
	runBackendSuite(t, ms, ms)
}

func TestS3Store_AgainstMinio(t *testing.T) {
	endpoint, ms := setupMinio(t)

	s3Store, err := NewS3Store(context.Background(), S3Options{
		Bucket:          testBucket,
		Region:          "us-east-1",
		Endpoint:        "http://" + endpoint,
		ForcePathStyle:  true,
		AccessKeyID:     testUser,
		SecretAccessKey: testPassword,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	runBackendSuite(t, s3Store, ms)
}
