package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/facturador-dte/internal/application/invoicing"
	"github.com/jhoicas/facturador-dte/internal/application/lifecycle"
	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

var _ lifecycle.DocumentStore = (*DocumentRepo)(nil)
var _ invoicing.InvoiceRepository = (*DocumentRepo)(nil)

// DocumentRepo persiste facturas, líneas y el audit trail de transiciones
// (usable con pool o tx). Cuando se construye con el pool, SaveTransition abre
// su propia transacción; dentro de RunLifecycle opera sobre la tx del runner.
type DocumentRepo struct {
	q  Querier
	db *pgxpool.Pool // nil cuando el repo ya corre dentro de una transacción
}

// NewDocumentRepository construye el adaptador sobre el pool.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{q: pool, db: pool}
}

// newDocumentRepositoryTx ata el repo a una transacción en curso.
func newDocumentRepositoryTx(tx pgx.Tx) *DocumentRepo {
	return &DocumentRepo{q: tx}
}

const invoiceColumns = `id, company_id, customer_id, number, doc_type, issue_date, status,
	       COALESCE(generation_code, ''), COALESCE(control_number, ''), COALESCE(reception_seal, ''),
	       invalidated, COALESCE(snapshot_hash, ''), COALESCE(last_error, ''), created_at, updated_at`

// Create persiste la cabecera del borrador junto con sus líneas.
func (r *DocumentRepo) Create(ctx context.Context, inv *entity.Invoice, items []*entity.LineItem) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	query := `
		INSERT INTO invoices (id, company_id, customer_id, number, doc_type, issue_date, status, invalidated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.q.Exec(ctx, query,
		inv.ID, inv.CompanyID, inv.CustomerID, inv.Number, inv.DocType,
		inv.IssueDate, inv.Status, inv.Invalidated, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: la factura ya existe", domain.ErrConflict)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	for i, item := range items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.InvoiceID = inv.ID
		_, err := r.q.Exec(ctx, `
			INSERT INTO invoice_items (id, invoice_id, product_id, product_name, quantity, unit_price, tax_rate, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, item.InvoiceID, item.ProductID, item.ProductName,
			item.Quantity, item.UnitPrice, item.TaxRate, i+1,
		)
		if err != nil {
			return fmt.Errorf("insert invoice item: %w", err)
		}
	}
	return nil
}

// GetByID obtiene una factura por ID. Devuelve (nil, nil) si no existe.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// LoadInvoice implementa lifecycle.DocumentStore.
func (r *DocumentRepo) LoadInvoice(ctx context.Context, id string) (*entity.Invoice, error) {
	return r.GetByID(ctx, id)
}

// ListByCompany lista las facturas del emisor, más recientes primero.
func (r *DocumentRepo) ListByCompany(ctx context.Context, companyID string, limit, offset int) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices WHERE company_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.q.Query(ctx, query, companyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	var list []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// ListItems obtiene las líneas de una factura en su orden original.
func (r *DocumentRepo) ListItems(ctx context.Context, invoiceID string) ([]*entity.LineItem, error) {
	query := `
		SELECT id, invoice_id, product_id, product_name, quantity, unit_price, tax_rate
		FROM invoice_items WHERE invoice_id = $1 ORDER BY position`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice items: %w", err)
	}
	defer rows.Close()
	var list []*entity.LineItem
	for rows.Next() {
		var it entity.LineItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.TaxRate); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		list = append(list, &it)
	}
	return list, rows.Err()
}

// LoadLineItems implementa lifecycle.DocumentStore.
func (r *DocumentRepo) LoadLineItems(ctx context.Context, invoiceID string) ([]*entity.LineItem, error) {
	return r.ListItems(ctx, invoiceID)
}

// ListTransitions devuelve el audit trail de un documento en orden cronológico.
func (r *DocumentRepo) ListTransitions(ctx context.Context, invoiceID string) ([]*entity.Transition, error) {
	query := `
		SELECT id, invoice_id, from_status, to_status,
		       COALESCE(generation_code, ''), COALESCE(control_number, ''), COALESCE(reception_seal, ''),
		       COALESCE(snapshot_hash, ''), COALESCE(error_payload, ''), occurred_at
		FROM invoice_transitions WHERE invoice_id = $1 ORDER BY occurred_at, id`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()
	var list []*entity.Transition
	for rows.Next() {
		var t entity.Transition
		if err := rows.Scan(&t.ID, &t.DocumentID, &t.From, &t.To,
			&t.GenerationCode, &t.ControlNumber, &t.ReceptionSeal,
			&t.SnapshotHash, &t.ErrorPayload, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// SaveTransition aplica la transición con guarda optimista: el UPDATE exige
// que el estado persistido siga siendo t.From; cero filas afectadas significa
// que otro proceso movió el documento primero (domain.ErrStaleTransition).
// En la misma transacción se apunta el audit trail y el change log de sync.
func (r *DocumentRepo) SaveTransition(ctx context.Context, t *entity.Transition) error {
	if r.db == nil {
		return saveTransitionOn(ctx, r.q, t)
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := saveTransitionOn(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// changePayload es el estado observable del documento que viaja en cada
// registro del change log. Suficiente para que otro dispositivo reconstruya o
// avance su copia del documento.
type changePayload struct {
	DocumentID     string `json:"documentId"`
	CompanyID      string `json:"companyId"`
	DocType        string `json:"docType"`
	Status         string `json:"status"`
	GenerationCode string `json:"generationCode,omitempty"`
	ControlNumber  string `json:"controlNumber,omitempty"`
	ReceptionSeal  string `json:"receptionSeal,omitempty"`
	SnapshotHash   string `json:"snapshotHash,omitempty"`
	Invalidated    bool   `json:"invalidated,omitempty"`
}

func saveTransitionOn(ctx context.Context, q Querier, t *entity.Transition) error {
	update := `
		UPDATE invoices
		SET status          = $2,
		    generation_code = COALESCE(NULLIF($3, ''), generation_code),
		    control_number  = COALESCE(NULLIF($4, ''), control_number),
		    reception_seal  = COALESCE(NULLIF($5, ''), reception_seal),
		    snapshot_hash   = COALESCE(NULLIF($6, ''), snapshot_hash),
		    last_error      = CASE WHEN $2 = $8 THEN $7 ELSE last_error END,
		    invalidated     = invalidated OR $2 = $9,
		    updated_at      = now()
		WHERE id = $1 AND status = $10
		RETURNING company_id, doc_type,
		          COALESCE(generation_code, ''), COALESCE(control_number, ''),
		          COALESCE(reception_seal, ''), COALESCE(snapshot_hash, ''), invalidated`
	var p changePayload
	p.DocumentID = t.DocumentID
	p.Status = string(t.To)
	err := q.QueryRow(ctx, update,
		t.DocumentID, t.To, t.GenerationCode, t.ControlNumber, t.ReceptionSeal,
		t.SnapshotHash, t.ErrorPayload, entity.StatusFailed, entity.StatusInvalidated, t.From,
	).Scan(&p.CompanyID, &p.DocType, &p.GenerationCode, &p.ControlNumber, &p.ReceptionSeal, &p.SnapshotHash, &p.Invalidated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if qerr := q.QueryRow(ctx, `SELECT true FROM invoices WHERE id = $1`, t.DocumentID).Scan(&exists); qerr != nil {
				if errors.Is(qerr, pgx.ErrNoRows) {
					return domain.ErrNotFound
				}
				return fmt.Errorf("check invoice: %w", qerr)
			}
			return domain.ErrStaleTransition
		}
		return fmt.Errorf("update invoice status: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO invoice_transitions (id, invoice_id, from_status, to_status, generation_code, control_number, reception_seal, snapshot_hash, error_payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.DocumentID, t.From, t.To,
		nullIfEmpty(t.GenerationCode), nullIfEmpty(t.ControlNumber), nullIfEmpty(t.ReceptionSeal),
		nullIfEmpty(t.SnapshotHash), nullIfEmpty(t.ErrorPayload), t.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("serializar change record: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO change_log (id, company_id, document_id, generation_code, status, content_hash, reception_seal, payload, pushed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)`,
		uuid.New().String(), p.CompanyID, t.DocumentID, nullIfEmpty(p.GenerationCode),
		t.To, nullIfEmpty(p.SnapshotHash), nullIfEmpty(p.ReceptionSeal), payload, t.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var inv entity.Invoice
	err := row.Scan(
		&inv.ID, &inv.CompanyID, &inv.CustomerID, &inv.Number, &inv.DocType,
		&inv.IssueDate, &inv.Status, &inv.GenerationCode, &inv.ControlNumber,
		&inv.ReceptionSeal, &inv.Invalidated, &inv.SnapshotHash, &inv.LastError,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
