// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package uploads stores user files and keeps their records.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/netSkope/upload-export/internal/apperr"
	"github.com/netSkope/upload-export/internal/model"
	"github.com/netSkope/upload-export/internal/storage"
	"github.com/netSkope/upload-export/internal/store"
)

// Paging defaults and limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const discardTimeout = 30 * time.Second

// AllowedContentTypes lists the accepted file formats.
var AllowedContentTypes = []string{"image/jpg", "image/jpeg", "image/png", "image/webp"}

// Repository persists upload records. store.Store satisfies it.
type Repository interface {
	InsertUpload(ctx context.Context, u *model.Upload) error
	ListUploads(ctx context.Context, q store.ListQuery) ([]model.Upload, error)
	CountUploads(ctx context.Context, f store.Filter) (int, error)
}

// ObjectSink stores file content. *storage.Uploader satisfies it.
type ObjectSink interface {
	Upload(ctx context.Context, d storage.Descriptor) (storage.Object, error)
	Discard(ctx context.Context, key string) error
}

// FileInput is a file to upload.
type FileInput struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// UploadResult is the stored record of an uploaded file.
type UploadResult struct {
	Upload model.Upload
	Size   int64
}

// ListInput selects one page of uploads.
type ListInput struct {
	SearchQuery   string
	SortBy        string // "" or store.SortByCreatedAt
	SortDirection string // store.SortAsc or store.SortDesc
	Page          int    // Default: 1
	PageSize      int    // Default: 20
}

// ListResult is one page of uploads and the total number of matches.
type ListResult struct {
	Uploads  []model.Upload
	Total    int
	Page     int
	PageSize int
}

// Service uploads files and lists their records.
type Service struct {
	repo   Repository
	sink   ObjectSink
	logger *zap.Logger
	now    func() time.Time
	newID  func() (uuid.UUID, error)
}

// NewService creates a Service.
func NewService(repo Repository, sink ObjectSink, logger *zap.Logger) (*Service, error) {
	if repo == nil || sink == nil {
		return nil, errors.New("repository and object sink are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		sink:   sink,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewV7,
	}, nil
}

// CheckContentType reports whether contentType is an accepted file format.
// Parameters such as "; charset=" are ignored.
func CheckContentType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return apperr.E(apperr.KindInvalidFileFormat, "uploads.content_type",
			fmt.Errorf("invalid content type %q: %w", contentType, err))
	}
	for _, allowed := range AllowedContentTypes {
		if mediaType == allowed {
			return nil
		}
	}
	return apperr.E(apperr.KindInvalidFileFormat, "uploads.content_type",
		fmt.Errorf("content type %q is not one of %s", mediaType, strings.Join(AllowedContentTypes, ", ")))
}

// UploadFile stores the file under the images folder and records it. The
// record id is a UUIDv7, so id order is creation order. If the record
// cannot be saved the stored object is removed again.
func (s *Service) UploadFile(ctx context.Context, in FileInput) (UploadResult, error) {
	const op = "uploads.upload"

	if strings.TrimSpace(in.FileName) == "" {
		return UploadResult{}, apperr.Validation(op, "file name is required")
	}
	if in.Body == nil {
		return UploadResult{}, apperr.Validation(op, "file content is required")
	}
	if err := CheckContentType(in.ContentType); err != nil {
		return UploadResult{}, err
	}

	id, err := s.newID()
	if err != nil {
		return UploadResult{}, fmt.Errorf("generate id: %w", err)
	}

	obj, err := s.sink.Upload(ctx, storage.Descriptor{
		FileName:    in.FileName,
		ContentType: in.ContentType,
		Body:        in.Body,
		Folder:      storage.FolderImages,
	})
	if err != nil {
		return UploadResult{}, err
	}

	rec := model.Upload{
		ID:        id.String(),
		Name:      in.FileName,
		RemoteKey: obj.Key,
		RemoteURL: obj.URL,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.InsertUpload(ctx, &rec); err != nil {
		s.discard(ctx, obj.Key)
		return UploadResult{}, apperr.E(apperr.KindStore, op, err)
	}

	s.logger.Info("File uploaded",
		zap.String("id", rec.ID),
		zap.String("name", rec.Name),
		zap.String("s3_key", rec.RemoteKey),
		zap.Int64("size", obj.Size))

	return UploadResult{Upload: rec, Size: obj.Size}, nil
}

// ListUploads returns one page of uploads matching in.
func (s *Service) ListUploads(ctx context.Context, in ListInput) (ListResult, error) {
	const op = "uploads.list"

	filter, err := store.NewFilter(in.SearchQuery)
	if err != nil {
		return ListResult{}, err
	}

	page, pageSize := in.Page, in.PageSize
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		return ListResult{}, apperr.Validation(op, "page must be at least 1, got %d", page)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return ListResult{}, apperr.Validation(op, "page size must be between 1 and %d, got %d", MaxPageSize, pageSize)
	}

	switch in.SortBy {
	case "", store.SortByCreatedAt:
	default:
		return ListResult{}, apperr.Validation(op, "unsupported sort field %q", in.SortBy)
	}
	switch in.SortDirection {
	case "", store.SortAsc, store.SortDesc:
	default:
		return ListResult{}, apperr.Validation(op, "unsupported sort direction %q", in.SortDirection)
	}

	rows, err := s.repo.ListUploads(ctx, store.ListQuery{
		Filter:        filter,
		SortBy:        in.SortBy,
		SortDirection: in.SortDirection,
		Offset:        (page - 1) * pageSize,
		Limit:         pageSize,
	})
	if err != nil {
		return ListResult{}, apperr.E(apperr.KindStore, op, err)
	}

	total, err := s.repo.CountUploads(ctx, filter)
	if err != nil {
		return ListResult{}, apperr.E(apperr.KindStore, op, err)
	}

	return ListResult{Uploads: rows, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *Service) discard(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	if err := s.sink.Discard(ctx, key); err != nil {
		s.logger.Error("Failed to discard object of unsaved upload",
			zap.String("s3_key", key),
			zap.Error(err))
	}
}
