// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/netSkope/upload-export/internal/apperr"
	"github.com/netSkope/upload-export/internal/config"
	"github.com/netSkope/upload-export/internal/csvenc"
	"github.com/netSkope/upload-export/internal/exporter"
	"github.com/netSkope/upload-export/internal/storage"
	"github.com/netSkope/upload-export/internal/store"
	"github.com/netSkope/upload-export/internal/uploads"
	"github.com/netSkope/upload-export/internal/util"
)

// app holds what every command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	stdout   io.Writer
	stderr   io.Writer
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// openStore connects to the configured database.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.cfg

	password := cfg.DBPassword
	if cfg.DBSecretsManagerSecret != "" {
		pwd, err := util.ResolveDBPassword(ctx, cfg.DBSecretsManagerSecret, cfg.DBSecretRegion)
		if err != nil {
			return nil, apperr.E(apperr.KindStore, "store.credentials", err)
		}
		password = pwd
	}

	return store.Open(ctx, store.SQLOptions{
		Driver:   cfg.DBDriver,
		Host:     cfg.DBAddress(),
		User:     cfg.DBUser,
		Password: password,
		Database: cfg.DBDatabase,
		SSLMode:  cfg.DBSSLMode,
		Table:    cfg.DBTable,
		Timeout:  cfg.DBTimeout,
	}, a.logger)
}

// objectStore builds the configured storage backend.
func (a *app) objectStore(ctx context.Context) (storage.ObjectStore, error) {
	cfg := a.cfg

	switch cfg.StorageBackend {
	case "minio":
		return a.minioStore()
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.S3Endpoint,
			ForcePathStyle:  cfg.S3ForcePathStyle,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			SessionToken:    cfg.AWSSessionToken,
			PartSizeMB:      cfg.PartSizeMB,
			Concurrency:     cfg.UploadConcurrency,
		}, a.logger)
	}
	return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
}

func (a *app) minioStore() (*storage.MinioStore, error) {
	cfg := a.cfg
	return storage.NewMinioStore(storage.MinioOptions{
		Endpoint:        cfg.S3Endpoint,
		Bucket:          cfg.S3Bucket,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		UseSSL:          cfg.MinioUseSSL,
		PartSizeMB:      cfg.PartSizeMB,
	}, a.logger)
}

// storageConfig rejects missing or invalid object storage settings.
func (a *app) storageConfig() error {
	if err := a.cfg.ValidateStorage(); err != nil {
		return apperr.E(apperr.KindValidation, "config.storage", err)
	}
	return nil
}

func (a *app) uploader(ctx context.Context) (*storage.Uploader, error) {
	if err := a.storageConfig(); err != nil {
		return nil, err
	}
	backend, err := a.objectStore(ctx)
	if err != nil {
		return nil, apperr.E(apperr.KindUpload, "storage.open", err)
	}
	return storage.NewUploader(backend, a.cfg.PublicURL, a.logger)
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := a.flagSet("export")
	search := fs.String("search", "", "Case-insensitive substring of the file name (default: all uploads)")
	fileName := fs.String("file-name", "", "Name of the exported CSV file (default: uploads-<UTC timestamp>.csv)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.storageConfig(); err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	up, err := a.uploader(ctx)
	if err != nil {
		return err
	}

	exp, err := exporter.New(s, up, exporter.Options{
		BatchSize: a.cfg.BatchSize,
		Timeout:   a.cfg.ExportTimeout,
		FileName:  *fileName,
		CSV: csvenc.Options{
			Delimiter: a.cfg.Delimiter(),
			UseCRLF:   a.cfg.CSVUseCRLF,
		},
	}, exporter.NewMetrics(a.registry), a.logger)
	if err != nil {
		return apperr.E(apperr.KindValidation, "export.setup", err)
	}

	res, err := exp.ExportUploads(ctx, exporter.Request{SearchQuery: *search})
	if err != nil {
		return err
	}

	if a.cfg.Quiet {
		fmt.Fprintln(a.stdout, res.ReportURL)
		return nil
	}
	fmt.Fprintf(a.stdout, "\n=== Export Summary ===\n")
	fmt.Fprintf(a.stdout, "Report URL: %s\n", res.ReportURL)
	fmt.Fprintf(a.stdout, "Object key: %s\n", res.Key)
	fmt.Fprintf(a.stdout, "Rows: %d\n", res.Rows)
	fmt.Fprintf(a.stdout, "Bytes: %d\n", res.Bytes)
	fmt.Fprintf(a.stdout, "Duration: %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(a.stdout, "======================\n")
	return nil
}

func (a *app) migrate(ctx context.Context, args []string) error {
	fs := a.flagSet("migrate")
	createBucket := fs.Bool("create-bucket", false, "Also create the bucket (minio backend only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("Schema migrated",
		zap.String("store", s.Name()),
		zap.String("table", a.cfg.DBTable))

	if *createBucket {
		if a.cfg.StorageBackend != "minio" {
			return apperr.Validation("migrate", "-create-bucket requires the minio storage backend")
		}
		if err := a.storageConfig(); err != nil {
			return err
		}
		ms, err := a.minioStore()
		if err != nil {
			return apperr.E(apperr.KindUpload, "migrate.bucket", err)
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			return apperr.E(apperr.KindUpload, "migrate.bucket", err)
		}
	}

	if !a.cfg.Quiet {
		fmt.Fprintf(a.stdout, "Table %s is ready (%s)\n", a.cfg.DBTable, s.Name())
	}
	return nil
}

func (a *app) upload(ctx context.Context, args []string) error {
	fs := a.flagSet("upload")
	path := fs.String("file", "", "Path of the file to upload (required)")
	contentType := fs.String("content-type", "", "Content type (default: detected from the file extension)")
	name := fs.String("name", "", "Recorded file name (default: base name of -file)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return apperr.Validation("upload", "-file is required")
	}
	if err := a.storageConfig(); err != nil {
		return err
	}
	if *name == "" {
		*name = filepath.Base(*path)
	}
	if *contentType == "" {
		*contentType = mime.TypeByExtension(filepath.Ext(*path))
	}

	f, err := os.Open(*path)
	if err != nil {
		return apperr.E(apperr.KindValidation, "upload", fmt.Errorf("failed to open file: %w", err))
	}
	defer f.Close()

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	up, err := a.uploader(ctx)
	if err != nil {
		return err
	}
	svc, err := uploads.NewService(s, up, a.logger)
	if err != nil {
		return err
	}

	res, err := svc.UploadFile(ctx, uploads.FileInput{
		FileName:    *name,
		ContentType: *contentType,
		Body:        f,
	})
	if err != nil {
		return err
	}

	if a.cfg.Quiet {
		fmt.Fprintln(a.stdout, res.Upload.RemoteURL)
		return nil
	}
	fmt.Fprintf(a.stdout, "ID: %s\nName: %s\nURL: %s\nSize: %d\n",
		res.Upload.ID, res.Upload.Name, res.Upload.RemoteURL, res.Size)
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := a.flagSet("list")
	search := fs.String("search", "", "Case-insensitive substring of the file name")
	page := fs.Int("page", 1, "Page number")
	pageSize := fs.Int("page-size", uploads.DefaultPageSize, "Rows per page (max 100)")
	sortBy := fs.String("sort-by", "", "Sort field: createdAt (default: newest id first)")
	sortDir := fs.String("sort-dir", "", "Sort direction: asc or desc")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	// Listing never writes objects; the sink is only there to satisfy the service.
	svc, err := uploads.NewService(s, noopSink{}, a.logger)
	if err != nil {
		return err
	}

	res, err := svc.ListUploads(ctx, uploads.ListInput{
		SearchQuery:   *search,
		SortBy:        *sortBy,
		SortDirection: *sortDir,
		Page:          *page,
		PageSize:      *pageSize,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tURL\tUPLOADED AT")
	for _, u := range res.Uploads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.RemoteURL, csvenc.FormatTime(u.CreatedAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !a.cfg.Quiet {
		fmt.Fprintf(a.stdout, "\nPage %d (%d per page), %d total\n", res.Page, res.PageSize, res.Total)
	}
	return nil
}

// noopSink rejects writes; used where only reads happen.
type noopSink struct{}

func (noopSink) Upload(context.Context, storage.Descriptor) (storage.Object, error) {
	return storage.Object{}, apperr.E(apperr.KindUpload, "storage.upload", fmt.Errorf("storage is not configured"))
}

func (noopSink) Discard(context.Context, string) error { return nil }
