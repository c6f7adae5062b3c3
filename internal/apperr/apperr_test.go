// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package apperr

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", io.EOF, KindUnknown},
		{"store", E(KindStore, "fetch", io.ErrUnexpectedEOF), KindStore},
		{"wrapped upload", fmt.Errorf("export: %w", E(KindUpload, "put", io.EOF)), KindUpload},
		{"validation", Validation("export", "bad %s", "query"), KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestE_KeepsInnerKind(t *testing.T) {
	inner := E(KindStore, "fetch", io.EOF)
	outer := E(KindUpload, "export", fmt.Errorf("stage: %w", inner))

	assert.Equal(t, KindStore, KindOf(outer), "inner kind wins")
	assert.ErrorIs(t, outer, io.EOF)
	assert.ErrorIs(t, outer, &Error{Kind: KindStore})
	assert.NotErrorIs(t, outer, &Error{Kind: KindUpload})
}

func TestE_Nil(t *testing.T) {
	assert.NoError(t, E(KindStore, "op", nil))
}
