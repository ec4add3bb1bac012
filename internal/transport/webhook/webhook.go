// Package webhook delivers messages by HTTP POST. This is the fastest
// tier: a live endpoint on the recipient's side accepts the payload
// synchronously.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/transport"
)

// Config for the webhook transport.
type Config struct {
	// Endpoint receives the POSTed payloads.
	Endpoint string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
	// MaxRetries bounds in-transport retries of transient failures.
	// Tier-level failover handles everything beyond that.
	MaxRetries uint64
	// RetryBase is the initial backoff between in-transport retries.
	RetryBase time.Duration
}

// Transport posts messages to a webhook endpoint.
type Transport struct {
	cfg    Config
	client *http.Client
}

// New creates a webhook transport. The client timeout is left unset;
// the per-attempt deadline comes from the orchestrator's adaptive
// timeout through AttemptSend.
func New(cfg Config) *Transport {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	return &Transport{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// AttemptSend posts the message once, retrying transient failures a few
// times within the deadline. Non-retryable rejections (4xx) surface
// immediately for classification.
func (t *Transport) AttemptSend(ctx context.Context, msg domain.Message, timeout time.Duration) transport.Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := retry.WithMaxRetries(t.cfg.MaxRetries, retry.NewExponential(t.cfg.RetryBase))

	return transport.Timed(func() error {
		return retry.Do(ctx, backoff, func(ctx context.Context) error {
			return t.post(ctx, msg)
		})
	})
}

func (t *Transport) post(ctx context.Context, msg domain.Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(msg.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Message-Id", msg.ID)
	req.Header.Set("X-Recipient", msg.Recipient)
	req.Header.Set("X-Priority", msg.Priority.String())
	if t.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.AuthToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// Network-level failures are worth one more try within the
		// deadline before the tier is judged.
		return retry.RetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	herr := &transport.HTTPError{Status: resp.StatusCode, Body: string(body)}
	if resp.StatusCode >= 500 {
		return retry.RetryableError(herr)
	}
	// 4xx is a judgment on the request, not the connection; retrying
	// the same bytes cannot help.
	return herr
}

// Close releases idle connections.
func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
