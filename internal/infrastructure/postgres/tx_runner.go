package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/facturador-dte/internal/application/lifecycle"
)

// Ensure TxRunner implements lifecycle.TxRunner.
var _ lifecycle.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunLifecycle inicia una transacción, ejecuta fn con repos atados a la tx y
// hace Commit o Rollback. La reserva del correlativo y la transición
// DRAFT→PENDING se persisten juntas o ninguna.
func (r *TxRunner) RunLifecycle(ctx context.Context, fn func(s lifecycle.Stores) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stores := lifecycle.Stores{
		Documents: newDocumentRepositoryTx(tx),
		Sequences: NewSequenceRepository(tx),
	}
	if err := fn(stores); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
