package aws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"case-portal/internal/common/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSClient struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

func TestSESClient_SendEmail(t *testing.T) {
	var got *ses.SendEmailInput
	client := NewSESClientWithAPI(&MockSESClient{
		SendEmailFunc: func(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			got = params
			return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
		},
	}, "portal@example.org")

	id, err := client.SendEmail(context.Background(), "client@example.org", "Update", "Your application was approved")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, []string{"client@example.org"}, got.Destination.ToAddresses)
	assert.Equal(t, "portal@example.org", aws.ToString(got.Source))
	assert.Equal(t, "Update", aws.ToString(got.Message.Subject.Data))

	_, err = client.SendEmail(context.Background(), "", "s", "b")
	assert.Error(t, err)
}

func TestSNSClient_SendSMS(t *testing.T) {
	client := NewSNSClientWithAPI(&MockSNSClient{
		PublishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			if aws.ToString(params.PhoneNumber) == "+10000000000" {
				return nil, errors.New("opted out")
			}
			return &sns.PublishOutput{MessageId: aws.String("sms-1")}, nil
		},
	})

	id, err := client.SendSMS(context.Background(), "+15550100", "visit confirmed")
	require.NoError(t, err)
	assert.Equal(t, "sms-1", id)

	_, err = client.SendSMS(context.Background(), "+10000000000", "visit confirmed")
	assert.ErrorContains(t, err, "opted out")
}

func newTestS3(t *testing.T, handler http.HandlerFunc) *S3BlobStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewS3BlobStore(context.Background(), config.S3Config{
		Bucket:       "portal",
		Region:       "us-east-1",
		Endpoint:     srv.URL,
		AccessKey:    "test",
		SecretKey:    "test",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	return s
}

func TestS3BlobStore_UploadReportsProgress(t *testing.T) {
	var mu sync.Mutex
	var path, contentType, body string
	s := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, contentType, body = r.URL.Path, r.Header.Get("Content-Type"), string(data)
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	})

	var last int64
	err := s.Upload(context.Background(), "documents/id.pdf", io.NopCloser(strings.NewReader("pdf-bytes")), 9, "application/pdf",
		func(sent, total int64) { last = sent })
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/portal/documents/id.pdf", path)
	assert.Equal(t, "application/pdf", contentType)
	assert.Contains(t, body, "pdf-bytes")
	assert.Equal(t, int64(9), last)
}

func TestS3BlobStore_UploadFailure(t *testing.T) {
	s := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	})

	err := s.Upload(context.Background(), "documents/x.pdf", strings.NewReader("x"), 1, "", nil)
	assert.Error(t, err)
}

func TestS3BlobStore_DownloadURLIsPresigned(t *testing.T) {
	s := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("presigning must not call the service: %s", r.URL)
	})

	url, err := s.DownloadURL(context.Background(), "profile_photos/uid-1")
	require.NoError(t, err)
	assert.Contains(t, url, "/portal/profile_photos/uid-1")
	assert.Contains(t, url, "X-Amz-Signature=")
}
