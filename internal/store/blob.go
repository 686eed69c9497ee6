package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
)

// ProgressFunc receives the cumulative bytes sent and the expected total.
// total is zero when the size is unknown.
type ProgressFunc func(sent, total int64)

// BlobStore keeps uploaded files. Keys are slash separated paths such as
// "documents/passport.pdf".
type BlobStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress ProgressFunc) error
	DownloadURL(ctx context.Context, key string) (string, error)
}

// ProgressReader reports bytes read through the wrapped reader.
type ProgressReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress ProgressFunc
}

func NewProgressReader(r io.Reader, total int64, progress ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, total: total, progress: progress}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.progress != nil {
			p.progress(p.sent, p.total)
		}
	}
	return n, err
}

// MemoryBlobStore holds blobs in process memory and serves them under a fixed
// base URL. It backs the "memory" store driver.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	baseURL string
	blobs   map[string]memoryBlob
}

type memoryBlob struct {
	contentType string
	data        []byte
}

func NewMemoryBlobStore(baseURL string) *MemoryBlobStore {
	return &MemoryBlobStore{baseURL: baseURL, blobs: make(map[string]memoryBlob)}
}

func (m *MemoryBlobStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress ProgressFunc) error {
	if key == "" {
		return fmt.Errorf("blob key is required")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, NewProgressReader(body, size, progress)); err != nil {
		return fmt.Errorf("read blob %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.blobs[key] = memoryBlob{contentType: contentType, data: buf.Bytes()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBlobStore) DownloadURL(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	_, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	return m.baseURL + "/" + (&url.URL{Path: key}).EscapedPath(), nil
}

// Content returns the stored bytes and content type of key.
func (m *MemoryBlobStore) Content(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	return b.data, b.contentType, ok
}
