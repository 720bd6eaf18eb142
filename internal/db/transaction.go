package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
)

// txKey is the key type for storing transaction in context.
type txKey struct{}

// TransactionManager runs functions inside a PostgreSQL transaction.
type TransactionManager struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewTransactionManager creates a new TransactionManager.
func NewTransactionManager(pool *pgxpool.Pool, logger *logging.Logger) *TransactionManager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &TransactionManager{pool: pool, logger: logger}
}

// WithTransaction executes fn within a database transaction.
// If fn returns an error, the transaction is rolled back; otherwise it is committed.
// The transaction is stored in the context and can be retrieved using TxFromContext.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := tm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			tm.logger.Warn("failed to rollback transaction", logging.Error(err))
		}
	}()

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// TxFromContext retrieves the transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}
