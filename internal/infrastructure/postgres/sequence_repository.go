package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jhoicas/facturador-dte/internal/application/numbering"
)

var _ numbering.SequenceStore = (*SequenceRepo)(nil)

// SequenceRepo implementa el correlativo fiscal por serie (emisor + tipo de
// documento) sobre una fila contadora. El incremento es un único statement
// atómico: dos reservas simultáneas serializan en la fila y nunca devuelven el
// mismo número ni dejan huecos.
type SequenceRepo struct {
	q Querier
}

// NewSequenceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSequenceRepository(q Querier) *SequenceRepo {
	return &SequenceRepo{q: q}
}

// Next consume y devuelve el siguiente correlativo de la serie. Crea la fila
// contadora en la primera reserva (el correlativo arranca en 1).
func (r *SequenceRepo) Next(ctx context.Context, companyID, docType string) (int64, error) {
	query := `
		INSERT INTO fiscal_sequences (company_id, doc_type, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (company_id, doc_type)
		DO UPDATE SET last_number = fiscal_sequences.last_number + 1
		RETURNING last_number`
	var n int64
	if err := r.q.QueryRow(ctx, query, companyID, docType).Scan(&n); err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return n, nil
}

// MarkVoid apunta un correlativo reservado que nunca alcanzó ACCEPTED. El
// registro es idempotente: anular dos veces el mismo correlativo no es error.
func (r *SequenceRepo) MarkVoid(ctx context.Context, companyID, docType string, seq int64, reason string) error {
	query := `
		INSERT INTO voided_sequences (id, company_id, doc_type, sequence_number, reason, voided_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (company_id, doc_type, sequence_number) DO NOTHING`
	if _, err := r.q.Exec(ctx, query, uuid.New().String(), companyID, docType, seq, reason); err != nil {
		return fmt.Errorf("mark void sequence: %w", err)
	}
	return nil
}
