package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Querier is the subset of pgx shared by *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var (
	_ Querier = (pgx.Tx)(nil)
	_ Querier = (*pgxpool.Conn)(nil)
)

// Transactor runs a function inside a database transaction.
type Transactor interface {
	// InTx begins a transaction on the scope connection in ctx and commits it when
	// fn returns nil. Called inside an existing transaction it opens a savepoint,
	// so a failing inner block can be rolled back without aborting the outer one.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type transactor struct {
	logger *zap.Logger
}

// NewTransactor creates a Transactor bound to the connection carried in each ctx.
func NewTransactor(logger *zap.Logger) Transactor {
	return &transactor{logger: logger.Named("tx")}
}

func (t *transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	if outer, ok := txFromContext(ctx); ok {
		tx, err = outer.Begin(ctx)
	} else {
		scope, ok := GetScope(ctx)
		if !ok {
			return ErrNoScope
		}
		tx, err = scope.Conn.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && rbErr != pgx.ErrTxClosed {
			t.logger.Warn("Failed to roll back transaction", zap.Error(rbErr))
		}
	}()

	if err := fn(withTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
