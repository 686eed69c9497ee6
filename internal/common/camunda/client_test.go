package camunda

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "case-portal/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRetryingClient(maxRetries int) *Client {
	cfg := &ClientConfig{Retry: &RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}}
	cfg.applyDefaults()
	return &Client{config: cfg}
}

func TestRetryConfig_Backoff(t *testing.T) {
	r := &RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, r.backoff(0))
	assert.Equal(t, 2*time.Second, r.backoff(1))
	assert.Equal(t, 4*time.Second, r.backoff(2))
	assert.Equal(t, 5*time.Second, r.backoff(3))
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("transient errors are retried", func(t *testing.T) {
		c := newRetryingClient(3)
		calls := 0
		err := c.withRetry(ctx, "publish", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("rpc error: code = Unavailable desc = connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		c := newRetryingClient(2)
		calls := 0
		err := c.withRetry(ctx, "publish", func(context.Context) error {
			calls++
			return errors.New("deadline exceeded")
		})
		assert.Equal(t, 3, calls)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeExternalService))
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		c := newRetryingClient(3)
		calls := 0
		err := c.withRetry(ctx, "publish", func(context.Context) error {
			calls++
			return errors.New("rpc error: code = NotFound desc = process not found")
		})
		assert.Equal(t, 1, calls)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))
	})

	t.Run("portal errors pass through", func(t *testing.T) {
		c := newRetryingClient(3)
		err := c.withRetry(ctx, "publish", func(context.Context) error {
			return apperrors.NewPayloadInvalidError("bad variables")
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePayloadInvalid))
	})

	t.Run("each attempt gets a deadline", func(t *testing.T) {
		c := newRetryingClient(0)
		err := c.withRetry(ctx, "publish", func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestMapGatewayError(t *testing.T) {
	tests := []struct {
		msg  string
		code apperrors.ErrorCode
	}{
		{"rpc error: code = NotFound desc = no process waiting", apperrors.ErrCodeResourceNotFound},
		{"rpc error: code = AlreadyExists desc = message already exists", apperrors.ErrCodeValidationFailed},
		{"rpc error: code = Internal desc = boom", apperrors.ErrCodeExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := mapGatewayError(errors.New(tt.msg), "publish", 1)
			assert.True(t, apperrors.HasCode(err, tt.code))
		})
	}
}
