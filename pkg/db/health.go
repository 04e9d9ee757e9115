package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var errNilPool = errors.New("pool is nil")

// Pinger is the part of the pool the health checks need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the health state of a database connection.
type HealthStatus struct {
	Healthy       bool
	Latency       time.Duration
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	Error         error
}

// Ping checks if the database is reachable.
func Ping(ctx context.Context, p Pinger) error {
	if isNil(p) {
		return errNilPool
	}
	return p.Ping(ctx)
}

// Check pings the pool and reports latency and connection counts.
func Check(ctx context.Context, pool *pgxpool.Pool) *HealthStatus {
	status := &HealthStatus{}
	if pool == nil {
		status.Error = errNilPool
		return status
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = fmt.Errorf("ping failed: %w", err)
		return status
	}

	stats := pool.Stat()
	status.Healthy = true
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.AcquiredConns = stats.AcquiredConns()
	return status
}

func isNil(p Pinger) bool {
	if p == nil {
		return true
	}
	pool, ok := p.(*pgxpool.Pool)
	return ok && pool == nil
}
