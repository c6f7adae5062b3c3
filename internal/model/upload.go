// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package model

import "time"

// Upload is a single row of the uploads table.
type Upload struct {
	ID        string
	Name      string
	RemoteKey string
	RemoteURL string
	CreatedAt time.Time
}
