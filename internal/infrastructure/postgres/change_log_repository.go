package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/facturador-dte/internal/application/syncer"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

var _ syncer.ChangeLog = (*ChangeLogRepo)(nil)

// ChangeLogRepo persiste el registro local de cambios para la sincronización
// multi-dispositivo. Cada transición del motor inserta aquí (ver
// saveTransitionOn); la revisión la asigna la secuencia de la tabla, monótona
// por dispositivo.
type ChangeLogRepo struct {
	q  Querier
	db *pgxpool.Pool // nil cuando el repo ya corre dentro de una transacción
}

// NewChangeLogRepository construye el adaptador sobre el pool.
func NewChangeLogRepository(pool *pgxpool.Pool) *ChangeLogRepo {
	return &ChangeLogRepo{q: pool, db: pool}
}

const changeColumns = `id, company_id, document_id, COALESCE(generation_code, ''), revision, status,
	       COALESCE(content_hash, ''), COALESCE(reception_seal, ''), payload, pushed, created_at`

// Pending devuelve los registros aún no empujados, en orden de revisión.
func (r *ChangeLogRepo) Pending(ctx context.Context) ([]*entity.ChangeRecord, error) {
	query := `SELECT ` + changeColumns + ` FROM change_log WHERE pushed = false ORDER BY revision`
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending changes: %w", err)
	}
	defer rows.Close()
	var list []*entity.ChangeRecord
	for rows.Next() {
		rec, err := scanChangeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// MarkPushed marca como empujados los registros indicados.
func (r *ChangeLogRepo) MarkPushed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, `UPDATE change_log SET pushed = true WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("mark changes pushed: %w", err)
	}
	return nil
}

// Current devuelve el último registro local del documento (nil si el documento
// no existe en este dispositivo).
func (r *ChangeLogRepo) Current(ctx context.Context, companyID, documentID string) (*entity.ChangeRecord, error) {
	query := `SELECT ` + changeColumns + `
		FROM change_log WHERE company_id = $1 AND document_id = $2
		ORDER BY revision DESC LIMIT 1`
	rec, err := scanChangeRecord(r.q.QueryRow(ctx, query, companyID, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get current change: %w", err)
	}
	return rec, nil
}

// ApplyRemote incorpora un registro remoto: upsert del documento local y
// apunte en el change log ya marcado como empujado (un cambio recibido no se
// reenvía). Ambas escrituras van en la misma transacción.
func (r *ChangeLogRepo) ApplyRemote(ctx context.Context, rec *entity.ChangeRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var p changePayload
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return fmt.Errorf("payload remoto ilegible: %w", err)
		}
	}
	// El payload manda; los campos planos del registro cubren payloads de
	// versiones viejas del esquema.
	if p.GenerationCode == "" {
		p.GenerationCode = rec.GenerationCode
	}
	if p.SnapshotHash == "" {
		p.SnapshotHash = rec.ContentHash
	}
	if p.ReceptionSeal == "" {
		p.ReceptionSeal = rec.ReceptionSeal
	}

	upsert := `
		INSERT INTO invoices (id, company_id, customer_id, number, doc_type, issue_date, status, generation_code, control_number, reception_seal, invalidated, snapshot_hash, created_at, updated_at)
		VALUES ($1, $2, NULL, '', $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''), $4, now())
		ON CONFLICT (id) DO UPDATE SET
		    status          = EXCLUDED.status,
		    generation_code = COALESCE(EXCLUDED.generation_code, invoices.generation_code),
		    control_number  = COALESCE(EXCLUDED.control_number, invoices.control_number),
		    reception_seal  = COALESCE(EXCLUDED.reception_seal, invoices.reception_seal),
		    invalidated     = invoices.invalidated OR EXCLUDED.invalidated,
		    snapshot_hash   = COALESCE(EXCLUDED.snapshot_hash, invoices.snapshot_hash),
		    updated_at      = now()`
	_, err = tx.Exec(ctx, upsert,
		rec.DocumentID, rec.CompanyID, p.DocType, rec.CreatedAt, rec.Status,
		p.GenerationCode, p.ControlNumber, p.ReceptionSeal, p.Invalidated, p.SnapshotHash,
	)
	if err != nil {
		return fmt.Errorf("apply remote invoice: %w", err)
	}

	// Reaplicar el mismo registro remoto es un no-op (ON CONFLICT DO NOTHING).
	_, err = tx.Exec(ctx, `
		INSERT INTO change_log (id, company_id, document_id, generation_code, status, content_hash, reception_seal, payload, pushed, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), $8, true, $9)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.CompanyID, rec.DocumentID, p.GenerationCode,
		rec.Status, p.SnapshotHash, p.ReceptionSeal, rec.Payload, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert remote change record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LastPulledRevision es el cursor de Pull (0 si nunca se sincronizó).
func (r *ChangeLogRepo) LastPulledRevision(ctx context.Context) (int64, error) {
	var rev int64
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE((SELECT last_pulled_revision FROM sync_state WHERE id = 1), 0)`,
	).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("get sync cursor: %w", err)
	}
	return rev, nil
}

// SetLastPulledRevision avanza el cursor de Pull.
func (r *ChangeLogRepo) SetLastPulledRevision(ctx context.Context, rev int64) error {
	query := `
		INSERT INTO sync_state (id, last_pulled_revision) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_pulled_revision = EXCLUDED.last_pulled_revision`
	if _, err := r.q.Exec(ctx, query, rev); err != nil {
		return fmt.Errorf("set sync cursor: %w", err)
	}
	return nil
}

func scanChangeRecord(row rowScanner) (*entity.ChangeRecord, error) {
	var rec entity.ChangeRecord
	err := row.Scan(
		&rec.ID, &rec.CompanyID, &rec.DocumentID, &rec.GenerationCode, &rec.Revision,
		&rec.Status, &rec.ContentHash, &rec.ReceptionSeal, &rec.Payload, &rec.Pushed, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
