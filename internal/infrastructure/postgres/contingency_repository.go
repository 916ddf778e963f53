package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/facturador-dte/internal/application/contingency"
	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

var _ contingency.EventStore = (*ContingencyRepo)(nil)

// ContingencyRepo persiste los eventos de contingencia. Los códigos de
// generación emitidos durante la ventana se guardan como text[] en orden de
// emisión (el orden del array es el orden FIFO del reenvío).
type ContingencyRepo struct {
	q Querier
}

// NewContingencyRepository construye el adaptador. Pasar pool o tx (Querier).
func NewContingencyRepository(q Querier) *ContingencyRepo {
	return &ContingencyRepo{q: q}
}

// OpenEvent registra una ventana de contingencia recién abierta.
func (r *ContingencyRepo) OpenEvent(ctx context.Context, ev *entity.ContingencyEvent) error {
	query := `
		INSERT INTO contingency_events (id, company_id, reason, started_at, ended_at, generation_codes, reported, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	codes := ev.GenerationCodes
	if codes == nil {
		codes = []string{}
	}
	_, err := r.q.Exec(ctx, query,
		ev.ID, ev.CompanyID, ev.Reason, ev.StartedAt, ev.EndedAt,
		codes, ev.Reported, ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contingency event: %w", err)
	}
	return nil
}

// AppendGenerationCode agrega un DTE a la ventana abierta.
func (r *ContingencyRepo) AppendGenerationCode(ctx context.Context, eventID, generationCode string) error {
	query := `
		UPDATE contingency_events
		SET generation_codes = array_append(generation_codes, $2), updated_at = now()
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, eventID, generationCode)
	if err != nil {
		return fmt.Errorf("append generation code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: evento de contingencia %s", domain.ErrNotFound, eventID)
	}
	return nil
}

// CloseEvent cierra la ventana. La guarda ended_at IS NULL hace el cierre
// idempotente: un segundo cierre no mueve la marca de tiempo.
func (r *ContingencyRepo) CloseEvent(ctx context.Context, eventID string, endedAt time.Time) error {
	query := `
		UPDATE contingency_events
		SET ended_at = $2, updated_at = now()
		WHERE id = $1 AND ended_at IS NULL`
	if _, err := r.q.Exec(ctx, query, eventID, endedAt); err != nil {
		return fmt.Errorf("close contingency event: %w", err)
	}
	return nil
}

// MarkReported marca la ventana como notificada a Hacienda.
func (r *ContingencyRepo) MarkReported(ctx context.Context, eventID string) error {
	query := `UPDATE contingency_events SET reported = true, updated_at = now() WHERE id = $1`
	if _, err := r.q.Exec(ctx, query, eventID); err != nil {
		return fmt.Errorf("mark contingency reported: %w", err)
	}
	return nil
}

// GetEvent obtiene un evento completo por ID.
func (r *ContingencyRepo) GetEvent(ctx context.Context, eventID string) (*entity.ContingencyEvent, error) {
	query := `
		SELECT id, company_id, reason, started_at, ended_at, generation_codes, reported, created_at, updated_at
		FROM contingency_events WHERE id = $1`
	ev, err := scanContingencyEvent(r.q.QueryRow(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: evento de contingencia %s", domain.ErrNotFound, eventID)
		}
		return nil, fmt.Errorf("get contingency event: %w", err)
	}
	return ev, nil
}

// ListByCompany devuelve las ventanas del emisor, más recientes primero.
func (r *ContingencyRepo) ListByCompany(ctx context.Context, companyID string) ([]*entity.ContingencyEvent, error) {
	query := `
		SELECT id, company_id, reason, started_at, ended_at, generation_codes, reported, created_at, updated_at
		FROM contingency_events WHERE company_id = $1 ORDER BY started_at DESC`
	rows, err := r.q.Query(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("list contingency events: %w", err)
	}
	defer rows.Close()
	var list []*entity.ContingencyEvent
	for rows.Next() {
		ev, err := scanContingencyEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contingency event: %w", err)
		}
		list = append(list, ev)
	}
	return list, rows.Err()
}

func scanContingencyEvent(row rowScanner) (*entity.ContingencyEvent, error) {
	var ev entity.ContingencyEvent
	err := row.Scan(
		&ev.ID, &ev.CompanyID, &ev.Reason, &ev.StartedAt, &ev.EndedAt,
		&ev.GenerationCodes, &ev.Reported, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
