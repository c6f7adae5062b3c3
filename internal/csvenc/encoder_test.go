// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package csvenc

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/netSkope/upload-export/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUpload(id, name string) *model.Upload {
	return &model.Upload{
		ID:        id,
		Name:      name,
		RemoteURL: "https://cdn.example.com/images/" + id + ".png",
		CreatedAt: time.Date(2024, 3, 9, 14, 5, 6, 789000000, time.UTC),
	}
}

func TestEncoder_HeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, UploadColumns(), Options{})
	require.NoError(t, err)

	require.NoError(t, enc.Write(sampleUpload("a1", "cat.png")))
	require.NoError(t, enc.Write(sampleUpload("b2", "dog.png")))
	require.NoError(t, enc.Close())

	want := "ID,Name,URL,Uploaded at\n" +
		"a1,cat.png,https://cdn.example.com/images/a1.png,2024-03-09T14:05:06.789Z\n" +
		"b2,dog.png,https://cdn.example.com/images/b2.png,2024-03-09T14:05:06.789Z\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, 2, enc.Rows())
	assert.Equal(t, int64(len(want)), enc.Bytes())
}

func TestEncoder_HeaderOnlyWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, UploadColumns(), Options{})
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	assert.Equal(t, "ID,Name,URL,Uploaded at\n", buf.String())
	assert.Equal(t, 0, enc.Rows())
}

func TestEncoder_Quoting(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, UploadColumns(), Options{})
	require.NoError(t, err)

	names := []string{
		`comma, inside`,
		`say "cheese"`,
		"line\nbreak",
		"plain",
	}
	for i, n := range names {
		require.NoError(t, enc.Write(sampleUpload(strings.Repeat("x", i+1), n)))
	}
	require.NoError(t, enc.Close())

	assert.Contains(t, buf.String(), `"comma, inside"`)
	assert.Contains(t, buf.String(), `"say ""cheese"""`)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(names)+1)
	for i, n := range names {
		assert.Equal(t, n, records[i+1][1])
	}
}

func TestEncoder_DelimiterAndCRLF(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, UploadColumns(), Options{Delimiter: ';', UseCRLF: true})
	require.NoError(t, err)
	require.NoError(t, enc.Write(sampleUpload("a1", "semi;colon")))
	require.NoError(t, enc.Close())

	lines := strings.Split(buf.String(), "\r\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID;Name;URL;Uploaded at", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `a1;"semi;colon";`))
}

func TestEncoder_NoHeader(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, UploadColumns(), Options{NoHeader: true})
	require.NoError(t, err)
	require.NoError(t, enc.Write(sampleUpload("a1", "n")))
	require.NoError(t, enc.Close())

	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.True(t, strings.HasPrefix(buf.String(), "a1,"))
}

func TestEncoder_InvalidOptions(t *testing.T) {
	_, err := NewEncoder(&bytes.Buffer{}, nil, Options{})
	assert.Error(t, err)

	_, err = NewEncoder(&bytes.Buffer{}, UploadColumns(), Options{Delimiter: '"'})
	assert.Error(t, err)

	_, err = NewEncoder(&bytes.Buffer{}, UploadColumns(), Options{Delimiter: '\n'})
	assert.Error(t, err)
}

func TestEncoder_WriteAfterClose(t *testing.T) {
	enc, err := NewEncoder(&bytes.Buffer{}, UploadColumns(), Options{})
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	assert.Error(t, enc.Write(sampleUpload("a", "b")))
	assert.NoError(t, enc.Close(), "second Close is a no-op")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestEncoder_PropagatesWriterError(t *testing.T) {
	enc, err := NewEncoder(failingWriter{}, UploadColumns(), Options{})
	require.NoError(t, err)
	require.NoError(t, enc.Write(sampleUpload("a", "b")), "csv.Writer buffers until flush")

	err = enc.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestFormatTime(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	ts := time.Date(2024, 1, 2, 21, 30, 0, 0, loc)

	assert.Equal(t, "2024-01-03T00:30:00.000Z", FormatTime(ts))
	assert.Equal(t, "", FormatTime(time.Time{}))
}
