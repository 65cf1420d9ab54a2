package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type contextKey string

const (
	// ScopeKey is the context key for the request's database connection.
	ScopeKey contextKey = "dbScope"
	txKey    contextKey = "dbTx"
)

// ErrNoScope is returned when a repository is called without a connection in context.
var ErrNoScope = errors.New("no database scope in context")

// GetScope retrieves the database scope from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// SetScope stores the database scope in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

func txFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}

func withTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// GetQuerier returns the open transaction in ctx, or the scope connection when
// there is none. Repositories use this so they join a caller's transaction.
func GetQuerier(ctx context.Context) (Querier, error) {
	if tx, ok := txFromContext(ctx); ok {
		return tx, nil
	}
	if scope, ok := GetScope(ctx); ok {
		return scope.Conn, nil
	}
	return nil, ErrNoScope
}
