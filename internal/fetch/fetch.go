// Package fetch is the HTTP client for the remote configuration service:
// downloading the configuration document and posting metering batches.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagclient/models"
)

const (
	defaultTimeout = 30 * time.Second

	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
	retryMaxTries        = 3
)

// StatusError is a non-2xx response from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure class is worth retrying: 429 and
// 5xx are, any other 4xx is a client error that will not improve.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to one service instance. ServiceURL and APIKey come from the
// SDK options; the zero HTTPClient field gets a 30s-timeout default.
type Client struct {
	ServiceURL string
	APIKey     string
	GUID       string
	HTTPClient *http.Client

	log zerolog.Logger
}

// NewClient creates a fetch client for one service instance.
func NewClient(serviceURL, apiKey, guid string, log zerolog.Logger) *Client {
	return &Client{
		ServiceURL: serviceURL,
		APIKey:     apiKey,
		GUID:       guid,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		log:        log.With().Str("component", "fetch").Logger(),
	}
}

// Config downloads the configuration document for one collection and
// environment. Transient failures (network, 429, 5xx) are retried with
// exponential backoff inside the call; other 4xx responses fail
// immediately.
func (c *Client) Config(ctx context.Context, collectionID, environmentID string) (*models.ConfigPayload, error) {
	u, err := url.Parse(fmt.Sprintf("%s/apprapp/feature/v1/instances/%s/config", c.ServiceURL, c.GUID))
	if err != nil {
		return nil, fmt.Errorf("failed to build config URL: %w", err)
	}
	q := u.Query()
	q.Set("action", "sdkConfig")
	q.Set("collection_id", collectionID)
	q.Set("environment_id", environmentID)
	u.RawQuery = q.Encode()

	operation := func() (*models.ConfigPayload, error) {
		body, err := c.get(ctx, u.String())
		if err != nil {
			if serr, ok := err.(*StatusError); ok && !serr.Retryable() {
				return nil, backoff.Permanent(err)
			}
			c.log.Warn().Err(err).Msg("configuration fetch failed, will retry")
			return nil, err
		}
		var payload models.ConfigPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to decode configuration: %w", err))
		}
		return &payload, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(retryBackOff()),
		backoff.WithMaxTries(retryMaxTries))
}

// UsageBatch is one metering upload: the aggregated usage records of a
// collection/environment pair.
type UsageBatch struct {
	CollectionID  string            `json:"collection_id"`
	EnvironmentID string            `json:"environment_id"`
	Usages        []json.RawMessage `json:"usages"`
}

// PostUsage uploads one metering batch. Callers treat failures as
// non-fatal; the records are simply lost.
func (c *Client) PostUsage(ctx context.Context, batch UsageBatch) error {
	u := fmt.Sprintf("%s/apprapp/events/v1/instances/%s/usage", c.ServiceURL, c.GUID)

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal usage batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("User-Agent", "goflagclient")
}

func retryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	return b
}
