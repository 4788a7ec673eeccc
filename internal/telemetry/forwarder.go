// Package telemetry forwards append-only audit log entries to an external
// log sink over gRPC. The SFU is native Go and no longer needs a gRPC hop to
// reach it, but the dial/circuit-breaker shape of that client is exactly
// what an external audit sink needs, so it's repurposed here rather than
// discarded.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wolftown-io/canis-server/internal/metrics"
	"github.com/wolftown-io/canis-server/internal/store"
)

// forwardMethod is the sink's expected RPC, invoked directly against the
// connection rather than through a generated client stub: the sink is an
// operator-provided external service, not something this repo compiles a
// .proto for. The request and reply are both a google.protobuf.Struct, the
// one schemaless message type the standard library's well-known types
// provide, so no local .proto/stub is needed to exercise the wire protocol.
const forwardMethod = "/canis.telemetry.v1.AuditSink/Forward"

// Forwarder dials an external audit sink and pushes entries to it,
// tolerating sink unavailability behind a circuit breaker so a dead sink
// never blocks the audit log write path that calls it.
type Forwarder struct {
	conn *grpc.ClientConn
	cb   *gobreaker.CircuitBreaker
}

// NewForwarder dials addr over TLS 1.2+.
func NewForwarder(addr string) (*Forwarder, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: dial audit sink: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "audit-sink",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("audit-sink").Set(stateVal)
		},
	}

	return &Forwarder{conn: conn, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// Forward ships one audit entry to the sink. Callers treat failures as
// best-effort: the audit log's durable copy already lives in Postgres, so
// a sink outage never blocks admin actions on it.
func (f *Forwarder) Forward(ctx context.Context, entry store.AuditEntry) error {
	details := map[string]any{}
	if len(entry.Details) > 0 {
		if err := json.Unmarshal(entry.Details, &details); err != nil {
			return fmt.Errorf("telemetry: decode audit details: %w", err)
		}
	}

	req, err := structpb.NewStruct(map[string]any{
		"id":          entry.ID,
		"actor_id":    entry.ActorID,
		"action":      entry.Action,
		"target_type": entry.TargetType,
		"target_id":   entry.TargetID,
		"details":     details,
		"created_at":  entry.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("telemetry: build audit record: %w", err)
	}

	_, err = f.cb.Execute(func() (interface{}, error) {
		reply := &structpb.Struct{}
		return reply, f.conn.Invoke(ctx, forwardMethod, req, reply)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("audit-sink").Inc()
			return status.Error(codes.Unavailable, "audit sink circuit breaker open")
		}
		return err
	}
	return nil
}

// Close releases the gRPC connection.
func (f *Forwarder) Close() error {
	return f.conn.Close()
}
