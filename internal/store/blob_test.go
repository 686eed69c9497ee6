package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBlobStore(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobStore("http://localhost:8080/blobs")

	var calls []int64
	err := blobs.Upload(ctx, "documents/lease agreement.pdf", strings.NewReader("0123456789"), 10, "application/pdf",
		func(sent, total int64) {
			assert.Equal(t, int64(10), total)
			calls = append(calls, sent)
		})
	require.NoError(t, err)
	require.NotEmpty(t, calls)
	assert.Equal(t, int64(10), calls[len(calls)-1])

	url, err := blobs.DownloadURL(ctx, "documents/lease agreement.pdf")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/blobs/documents/lease%20agreement.pdf", url)

	data, contentType, ok := blobs.Content("documents/lease agreement.pdf")
	require.True(t, ok)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, "application/pdf", contentType)

	_, err = blobs.DownloadURL(ctx, "documents/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}
