package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Scope holds the pooled connection used by one request or background job.
type Scope struct {
	Conn *pgxpool.Conn
}

// Close releases the connection back to the pool. Safe to call more than once.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
	s.Conn = nil
}

// Acquire takes a connection from the pool.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Scope{Conn: conn}, nil
}

// ScopedContext returns a context carrying a freshly acquired Scope.
// Used outside the HTTP stack (startup bootstrap, scripts). The cleanup function must be called.
func (db *DB) ScopedContext(ctx context.Context) (context.Context, func(), error) {
	scope, err := db.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetScope(ctx, scope), scope.Close, nil
}
