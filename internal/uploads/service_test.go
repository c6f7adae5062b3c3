// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package uploads

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/netSkope/upload-export/internal/apperr"
	"github.com/netSkope/upload-export/internal/model"
	"github.com/netSkope/upload-export/internal/storage"
	"github.com/netSkope/upload-export/internal/store"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memObjects) PutObject(_ context.Context, key, _ string, body io.Reader) (int64, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = string(data)
	return int64(len(data)), nil
}

func (m *memObjects) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// failingRepo rejects every insert.
type failingRepo struct {
	store.Store
}

func (failingRepo) InsertUpload(context.Context, *model.Upload) error {
	return apperr.E(apperr.KindStore, "test.insert", errors.New("disk full"))
}

func setup(t *testing.T) (*Service, store.Store, *memObjects) {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLClient(store.SQLOptions{
		Driver:   store.DriverSQLite,
		Database: filepath.Join(t.TempDir(), "uploads.db"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	objects := &memObjects{objects: map[string]string{}}
	uploader, err := storage.NewUploader(objects, "https://cdn.example.com/", zaptest.NewLogger(t))
	require.NoError(t, err)

	svc, err := NewService(s, uploader, zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc, s, objects
}

func TestUploadFile(t *testing.T) {
	svc, _, objects := setup(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 7200))
	svc.now = func() time.Time { return fixed }

	res, err := svc.UploadFile(context.Background(), FileInput{
		FileName:    "My Cat.PNG",
		ContentType: "image/png",
		Body:        strings.NewReader("\x89PNG..."),
	})
	require.NoError(t, err)

	u := res.Upload
	assert.Len(t, u.ID, 36)
	assert.Equal(t, "My Cat.PNG", u.Name)
	assert.True(t, strings.HasPrefix(u.RemoteKey, "images/"))
	assert.True(t, strings.HasSuffix(u.RemoteKey, "-My-Cat.png"))
	assert.Equal(t, "https://cdn.example.com/"+u.RemoteKey, u.RemoteURL)
	assert.Equal(t, time.UTC, u.CreatedAt.Location())
	assert.True(t, fixed.Equal(u.CreatedAt))
	assert.EqualValues(t, 7, res.Size)
	assert.Equal(t, "\x89PNG...", objects.objects[u.RemoteKey])
}

func TestUploadFile_IDsFollowCreationOrder(t *testing.T) {
	svc, _, _ := setup(t)

	var ids []string
	for i := 0; i < 20; i++ {
		res, err := svc.UploadFile(context.Background(), FileInput{
			FileName: "a.webp", ContentType: "image/webp", Body: strings.NewReader("x"),
		})
		require.NoError(t, err)
		ids = append(ids, res.Upload.ID)
	}
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

func TestUploadFile_InvalidFormat(t *testing.T) {
	svc, s, objects := setup(t)

	for _, ct := range []string{"application/pdf", "text/plain", "", "image/gif", "image/"} {
		_, err := svc.UploadFile(context.Background(), FileInput{
			FileName: "doc.pdf", ContentType: ct, Body: strings.NewReader("%PDF"),
		})
		require.Error(t, err, ct)
		assert.Equal(t, apperr.KindInvalidFileFormat, apperr.KindOf(err), ct)
	}

	assert.Empty(t, objects.objects)
	total, err := s.CountUploads(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCheckContentType(t *testing.T) {
	for _, ok := range []string{"image/jpg", "image/jpeg", "image/png", "image/webp", "IMAGE/PNG", "image/png; charset=binary"} {
		assert.NoError(t, CheckContentType(ok), ok)
	}
}

func TestUploadFile_Validation(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.UploadFile(context.Background(), FileInput{ContentType: "image/png", Body: strings.NewReader("x")})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.UploadFile(context.Background(), FileInput{FileName: "a.png", ContentType: "image/png"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestUploadFile_InsertFailureDiscardsObject(t *testing.T) {
	_, s, objects := setup(t)
	uploader, err := storage.NewUploader(objects, "https://cdn.example.com/", nil)
	require.NoError(t, err)
	svc, err := NewService(failingRepo{Store: s}, uploader, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = svc.UploadFile(context.Background(), FileInput{
		FileName: "a.png", ContentType: "image/png", Body: strings.NewReader("x"),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindStore, apperr.KindOf(err))
	assert.Empty(t, objects.objects, "orphaned object removed")
}

func TestListUploads(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	names := []string{"cat-1.png", "dog.png", "cat-2.png", "bird.jpg", "cat-3.webp"}
	for i, name := range names {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		_, err := svc.UploadFile(ctx, FileInput{FileName: name, ContentType: "image/png", Body: strings.NewReader("x")})
		require.NoError(t, err)
	}

	res, err := svc.ListUploads(ctx, ListInput{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, DefaultPageSize, res.PageSize)
	require.Len(t, res.Uploads, 5)
	assert.Equal(t, "cat-3.webp", res.Uploads[0].Name, "newest first by default")

	res, err = svc.ListUploads(ctx, ListInput{SearchQuery: "CAT", PageSize: 2, Page: 2,
		SortBy: store.SortByCreatedAt, SortDirection: store.SortAsc})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Uploads, 1)
	assert.Equal(t, "cat-3.webp", res.Uploads[0].Name)

	res, err = svc.ListUploads(ctx, ListInput{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, res.Uploads)
	assert.Equal(t, 5, res.Total)
}

func TestListUploads_Validation(t *testing.T) {
	svc, _, _ := setup(t)

	for name, in := range map[string]ListInput{
		"negative page":  {Page: -1},
		"page too large": {PageSize: MaxPageSize + 1},
		"negative size":  {PageSize: -5},
		"sort field":     {SortBy: "name"},
		"sort direction": {SortBy: store.SortByCreatedAt, SortDirection: "up"},
		"search":         {SearchQuery: "a\x00"},
	} {
		_, err := svc.ListUploads(context.Background(), in)
		require.Error(t, err, name)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), name)
	}
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	assert.Error(t, err)
}
