// Package transport defines the contract between the orchestrator and
// concrete tier delivery mechanisms, plus shared error types.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
)

// Outcome is the result of a single send attempt. Exactly one of
// Success/Err describes the attempt; Latency is always populated.
type Outcome struct {
	Success bool
	Latency time.Duration
	Err     error
}

// Transport delivers a message through one tier's mechanism. The
// orchestrator assumes nothing beyond this contract: the attempt either
// succeeds, fails with an error, or respects ctx cancellation.
type Transport interface {
	AttemptSend(ctx context.Context, msg domain.Message, timeout time.Duration) Outcome
	Close() error
}

// HTTPError carries the status code of a rejected webhook delivery so
// classification can map it without parsing text.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("http status %d", e.Status)
}

// HTTPStatus implements the interface classification probes for.
func (e *HTTPError) HTTPStatus() int { return e.Status }

// Timed runs a send body and fills in latency, normalizing the three
// legal shapes of Outcome.
func Timed(send func() error) Outcome {
	start := time.Now()
	err := send()
	latency := time.Since(start)
	if err != nil {
		return Outcome{Latency: latency, Err: err}
	}
	return Outcome{Success: true, Latency: latency}
}
