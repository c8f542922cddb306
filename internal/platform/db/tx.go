package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools, pooled connections and
// transactions. Repositories run every statement through one.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TxFromContext returns the transaction opened by InTx or WithTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the request's tenant connection and returns
// a context carrying it.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// Conn picks the most specific handle for ctx: the open transaction, then the
// tenant connection, then the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// TxRunner runs fn atomically. Services depend on this rather than on pgx so
// their tests can substitute a pass-through runner.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxManager runs units of work atomically.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// InTx runs fn inside a transaction and commits when it returns nil. If ctx
// already carries a transaction, fn joins it and the outer caller commits.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var (
		txCtx context.Context
		tx    pgx.Tx
		err   error
	)
	if ConnFromContext(ctx) != nil {
		txCtx, tx, err = WithTx(ctx)
	} else {
		txCtx, tx, err = m.beginOnPool(ctx)
	}
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	hooks := &[]func(){}
	txCtx = context.WithValue(txCtx, commitHooks, hooks)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	for _, h := range *hooks {
		h()
	}
	return nil
}

// AfterCommit defers fn until the outermost InTx in ctx commits. It is
// dropped if that transaction rolls back. Outside InTx, fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	hooks, ok := ctx.Value(commitHooks).(*[]func())
	if !ok {
		fn()
		return
	}
	*hooks = append(*hooks, fn)
}

// beginOnPool covers callers outside an HTTP request, such as the CLI, where
// no tenant connection has been pinned.
func (m *TxManager) beginOnPool(ctx context.Context) (context.Context, pgx.Tx, error) {
	if m.pool == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	if tid := TenantFromContext(ctx); tid != "" {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", SchemaFor(tid))); err != nil {
			tx.Rollback(ctx)
			return ctx, nil, fmt.Errorf("set search_path: %w", err)
		}
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}
