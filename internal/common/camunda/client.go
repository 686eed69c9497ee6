// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "case-portal/internal/common/errors"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// ClientConfig holds the gateway settings of the portal's Zeebe connection.
type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	RequestTimeout         time.Duration
	Retry                  *RetryConfig
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryConfig = &RetryConfig{
	MaxRetries: 3,
	BaseDelay:  1 * time.Second,
	MaxDelay:   10 * time.Second,
}

func (c *ClientConfig) applyDefaults() {
	if c.Retry == nil {
		c.Retry = DefaultRetryConfig
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// backoff is the wait before retry number attempt+1.
func (r *RetryConfig) backoff(attempt int) time.Duration {
	delay := r.BaseDelay * time.Duration(1<<attempt)
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

// Client is the portal's connection to the workflow engine. Job workers use
// the raw zbc.Client; the lifecycle engine publishes client-driven
// transitions through PublishMessage.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

// NewClientWithConfig dials the gateway and checks the topology before
// returning.
func NewClientWithConfig(config *ClientConfig) (*Client, error) {
	config.applyDefaults()

	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         config.GatewayAddress,
		UsePlaintextConnection: config.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	c := &Client{client: zeebeClient, config: config}
	if err := c.HealthCheck(context.Background()); err != nil {
		zeebeClient.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe gateway at %s: %w", config.GatewayAddress, err)
	}
	return c, nil
}

func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// PublishMessage correlates a message with the process instance waiting on
// correlationKey. Transport failures are retried with backoff.
func (c *Client) PublishMessage(ctx context.Context, name, correlationKey string, variables map[string]interface{}) error {
	return c.withRetry(ctx, "publish "+name, func(ctx context.Context) error {
		cmd, err := c.client.NewPublishMessageCommand().
			MessageName(name).
			CorrelationKey(correlationKey).
			VariablesFromMap(variables)
		if err != nil {
			return apperrors.NewPayloadInvalidError(fmt.Sprintf("message variables: %v", err))
		}
		_, err = cmd.Send(ctx)
		return err
	})
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}

// withRetry runs send with a per-attempt RequestTimeout until it succeeds,
// fails with a non-transient error or runs out of retries.
func (c *Client) withRetry(ctx context.Context, operation string, send func(context.Context) error) error {
	retry := c.config.Retry
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		err := send(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if _, ok := apperrors.AsStandard(err); ok {
			return err
		}
		if !isTransient(err) || attempt >= retry.MaxRetries {
			return mapGatewayError(err, operation, attempt)
		}

		select {
		case <-time.After(retry.backoff(attempt)):
		case <-ctx.Done():
			return apperrors.NewExternalServiceError("zeebe",
				fmt.Errorf("%s cancelled after %d attempts: %w", operation, attempt+1, ctx.Err()))
		}
	}
}

var transientPhrases = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"unavailable",
	"unreachable",
	"broken pipe",
	"resource_exhausted",
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func mapGatewayError(err error, operation string, attempt int) error {
	msg := fmt.Sprintf("zeebe %s failed", operation)
	if attempt > 0 {
		msg += fmt.Sprintf(" after %d retries", attempt)
	}
	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "not found"):
		return apperrors.NewResourceNotFoundError("zeebe", fmt.Sprintf("%s: %v", msg, err))
	case strings.Contains(lower, "already exists"), strings.Contains(lower, "invalid_argument"):
		return apperrors.NewValidationError(fmt.Sprintf("%s: %v", msg, err))
	default:
		return apperrors.NewExternalServiceError("zeebe", fmt.Errorf("%s: %w", msg, err))
	}
}
