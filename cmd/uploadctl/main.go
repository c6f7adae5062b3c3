// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/netSkope/upload-export/internal/apperr"
	"github.com/netSkope/upload-export/internal/config"
	uplog "github.com/netSkope/upload-export/internal/log"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitValidation = 2
	exitStore      = 3
	exitUpload     = 4
)

const usage = `Usage: uploadctl [global flags] <command> [command flags]

Commands:
  export    Export uploads as CSV to object storage and print the report URL
  migrate   Create the uploads table (and the MinIO bucket with -create-bucket)
  upload    Upload an image file and record it
  list      List uploads

Run "uploadctl -h" for global flags or "uploadctl <command> -h" for command flags.
`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// Load configuration
	cfg, rest, err := config.LoadConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		fmt.Fprint(stderr, usage)
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitValidation
	}
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return exitValidation
	}

	// Initialize logger
	logger, closeLog, err := uplog.NewLogger(uplog.Options{
		Dir:    cfg.LogDir,
		Name:   cfg.LogName,
		Debug:  cfg.Debug,
		Stdout: cfg.LogStdout,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return exitError
	}
	defer closeLog()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		stdout:   stdout,
		stderr:   stderr,
	}

	command, cmdArgs := rest[0], rest[1:]
	logger.Info("Starting uploadctl",
		zap.String("command", command),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("storage", cfg.StorageBackend))

	switch command {
	case "export":
		err = a.export(ctx, cmdArgs)
	case "migrate":
		err = a.migrate(ctx, cmdArgs)
	case "upload":
		err = a.upload(ctx, cmdArgs)
	case "list":
		err = a.list(ctx, cmdArgs)
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n\n%s", command, usage)
		return exitValidation
	}

	if cfg.MetricsFile != "" {
		if werr := prometheus.WriteToTextfile(cfg.MetricsFile, a.registry); werr != nil {
			logger.Warn("Failed to write metrics file",
				zap.String("path", cfg.MetricsFile),
				zap.Error(werr))
		}
	}

	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		logger.Error("Command failed",
			zap.String("command", command),
			zap.String("kind", apperr.KindOf(err).String()),
			zap.Error(err))
		fmt.Fprintf(stderr, "%s failed: %v\n", command, err)
		return exitCode(err)
	}

	logger.Info("Command completed", zap.String("command", command))
	return exitOK
}

// exitCode maps an error kind to the process exit code.
func exitCode(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindInvalidFileFormat:
		return exitValidation
	case apperr.KindStore:
		return exitStore
	case apperr.KindUpload:
		return exitUpload
	}
	return exitError
}
