// Package stream delivers messages over a persistent gRPC channel to a
// relay that holds the recipient's live connection. It is the fallback
// when direct webhook push fails but the recipient is still reachable.
package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/transport"
)

// pushMethod is the relay's delivery method. The payload travels as raw
// bytes with message attributes in metadata, so no generated stubs are
// needed on this side.
const pushMethod = "/courier.relay.v1.Relay/Push"

// Config for the stream transport.
type Config struct {
	// Endpoint of the relay, scheme optional. https:// or :443 enables TLS.
	Endpoint string
	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration
}

// Transport sends messages through a shared gRPC client connection.
type Transport struct {
	cfg  Config
	conn *grpc.ClientConn
}

// New dials the relay and returns the transport. The connection is
// shared across sends; gRPC multiplexes and reconnects underneath.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	target := cfg.Endpoint
	var opts []grpc.DialOption
	if strings.HasPrefix(target, "https://") || strings.HasSuffix(target, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", target, err)
	}
	return &Transport{cfg: cfg, conn: conn}, nil
}

// AttemptSend pushes the payload to the relay within the deadline.
// gRPC status errors pass through untouched for classification.
func (t *Transport) AttemptSend(ctx context.Context, msg domain.Message, timeout time.Duration) transport.Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx = metadata.AppendToOutgoingContext(ctx,
		"message-id", msg.ID,
		"recipient", msg.Recipient,
		"priority", msg.Priority.String(),
	)

	return transport.Timed(func() error {
		in := rawFrame(msg.Payload)
		var out rawFrame
		return t.conn.Invoke(ctx, pushMethod, &in, &out, grpc.ForceCodec(rawCodec{}))
	})
}

// Probe checks the relay's health service. Used by the health monitor,
// never on the delivery path.
func (t *Transport) Probe(ctx context.Context) error {
	resp, err := grpc_health_v1.NewHealthClient(t.conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("relay not serving: %s", resp.GetStatus())
	}
	return nil
}

// Close tears down the shared connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// rawFrame carries opaque bytes through grpc.Invoke.
type rawFrame []byte

// rawCodec moves rawFrame values without protobuf in the loop. The
// health probe still uses the default proto codec on its own calls.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("raw codec: unsupported type %T", v)
	}
	return *f, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("raw codec: unsupported type %T", v)
	}
	*f = append((*f)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "raw" }
