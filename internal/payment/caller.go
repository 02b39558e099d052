package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjod/go_store/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const (
	DefaultCallTimeout = 10 * time.Second
	DefaultMaxAttempts = 3
	maxResponseBytes   = 1 << 20
)

// StatusError is a non-2xx answer from a provider API
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// CallerConfig bounds every outbound provider request
type CallerConfig struct {
	Timeout         time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	// Consecutive failures that open the breaker
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

func (c CallerConfig) withDefaults() CallerConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultCallTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 200 * time.Millisecond
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Caller posts JSON to one provider with a per-attempt timeout, a small retry
// budget with exponential backoff, and a circuit breaker in front of it all.
type Caller struct {
	provider string
	client   *http.Client
	cfg      CallerConfig
	breaker  *gobreaker.CircuitBreaker[[]byte]
	logger   zerolog.Logger
}

func NewCaller(provider string, client *http.Client, cfg CallerConfig, logger zerolog.Logger) *Caller {
	if client == nil {
		client = &http.Client{}
	}
	cfg = cfg.withDefaults()
	logger = logger.With().Str("provider", provider).Logger()

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    provider,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		// A rejected request is the caller's problem, not an outage.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("payment provider circuit breaker changed state")
		},
	})

	return &Caller{
		provider: provider,
		client:   client,
		cfg:      cfg,
		breaker:  breaker,
		logger:   logger,
	}
}

// PostJSON sends body as JSON and decodes the response into out.
func (c *Caller) PostJSON(ctx context.Context, op, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &domain.ProviderError{Provider: c.provider, Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	respBody, err := c.breaker.Execute(func() ([]byte, error) {
		return c.retry(ctx, url, payload)
	})
	if err != nil {
		return &domain.ProviderError{Provider: c.provider, Op: op, Err: err}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.ProviderError{Provider: c.provider, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Caller) retry(ctx context.Context, url string, payload []byte) ([]byte, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.InitialInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		body, err := c.do(ctx, url, payload)
		if err == nil {
			return body, nil
		}
		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}

	return backoff.RetryNotifyWithData(operation, policy, func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("payment provider call failed, retrying")
	})
}

func (c *Caller) do(ctx context.Context, url string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
