// Package spool is the tier of last resort: messages are written to a
// local directory for a pickup agent to forward later. It trades
// latency for near-certain acceptance.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/transport"
)

// envelope is the on-disk format, one file per message.
type envelope struct {
	ID        string                 `json:"id"`
	Recipient string                 `json:"recipient"`
	Priority  domain.MessagePriority `json:"priority"`
	CreatedAt time.Time              `json:"created_at"`
	SpooledAt time.Time              `json:"spooled_at"`
	Payload   []byte                 `json:"payload"`
}

// Config for the spool transport.
type Config struct {
	// Dir receives the message files. Created if absent.
	Dir string
}

// Transport writes messages to the spool directory.
type Transport struct {
	dir string
}

// New prepares the spool directory.
func New(cfg Config) (*Transport, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("spool: directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create dir: %w", err)
	}
	return &Transport{dir: cfg.Dir}, nil
}

// AttemptSend persists the message atomically: written to a temp file,
// synced, then renamed into place. A pickup agent never observes a
// partial file.
func (t *Transport) AttemptSend(ctx context.Context, msg domain.Message, timeout time.Duration) transport.Outcome {
	return transport.Timed(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := json.Marshal(envelope{
			ID:        msg.ID,
			Recipient: msg.Recipient,
			Priority:  msg.Priority,
			CreatedAt: msg.CreatedAt,
			SpooledAt: time.Now().UTC(),
			Payload:   msg.Payload,
		})
		if err != nil {
			return fmt.Errorf("spool: encode: %w", err)
		}

		tmp, err := os.CreateTemp(t.dir, ".spool-*")
		if err != nil {
			return fmt.Errorf("spool: create temp: %w", err)
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("spool: write: %w", err)
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("spool: sync: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("spool: close: %w", err)
		}

		final := filepath.Join(t.dir, fmt.Sprintf("%d-%s.msg", time.Now().UnixNano(), msg.ID))
		if err := os.Rename(tmp.Name(), final); err != nil {
			return fmt.Errorf("spool: rename: %w", err)
		}
		return nil
	})
}

// Close is a no-op; every send closes its own file.
func (t *Transport) Close() error { return nil }
