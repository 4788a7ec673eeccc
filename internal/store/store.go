// Package store is the relational persistence seam: a bounded pgx pool plus
// the narrow set of queries the hard engineering cores need directly
// (prekey claim, audit log, admin elevation, webhook delivery bookkeeping,
// moderation filter config). Routine CRUD for users/guilds/channels/messages
// is boundary glue and out of scope; this package exists to give the cores
// a durable backing store, not to be a full data-access layer.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgx connection pool: min 5, max 20 connections, 600s idle
// timeout, and a background health check every 30s. Open bounds the initial
// pool creation and ping to 5s each; later acquires have no pool-level
// timeout beyond the caller's context, and a connection is not validated
// when it is acquired.
type Pool struct {
	*pgxpool.Pool
}

// Open parses dsn, applies the bounded-pool settings, and verifies
// connectivity before returning.
func Open(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	cfg.MinConns = 5
	cfg.MaxConns = 20
	cfg.MaxConnIdleTime = 600 * time.Second
	cfg.HealthCheckPeriod = 30 * time.Second

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	pingCtx, cancel2 := context.WithTimeout(ctx, 5*time.Second)
	defer cancel2()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close releases every pooled connection.
func (p *Pool) Close() {
	if p == nil || p.Pool == nil {
		return
	}
	p.Pool.Close()
}
