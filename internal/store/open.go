// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/netSkope/upload-export/internal/apperr"
)

// Open connects to the store selected by opts.Driver.
func Open(ctx context.Context, opts SQLOptions, logger *zap.Logger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case DriverMySQL, DriverSQLite:
		s, err = NewSQLClient(opts, logger)
	case DriverPostgres:
		s, err = NewPGClient(ctx, PGOptions{
			Host:     opts.Host,
			User:     opts.User,
			Password: opts.Password,
			Database: opts.Database,
			SSLMode:  opts.SSLMode,
			Table:    opts.Table,
		}, logger)
	default:
		err = fmt.Errorf("unsupported database driver: %s", opts.Driver)
	}
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "store.open", err)
	}
	return s, nil
}
