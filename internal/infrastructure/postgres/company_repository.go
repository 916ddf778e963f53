package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/facturador-dte/internal/application/lifecycle"
	"github.com/jhoicas/facturador-dte/internal/application/syncer"
	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

var _ lifecycle.CompanyStore = (*CompanyRepo)(nil)
var _ syncer.CompanyDirectory = (*CompanyRepo)(nil)

// CompanyRepo implementación del repositorio de emisores (usable con pool o tx).
type CompanyRepo struct {
	q Querier
}

// NewCompanyRepository construye el adaptador. Pasar pool o tx (Querier).
func NewCompanyRepository(q Querier) *CompanyRepo {
	return &CompanyRepo{q: q}
}

// Create registra un emisor.
func (r *CompanyRepo) Create(ctx context.Context, c *entity.Company) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	query := `
		INSERT INTO companies (id, name, nit, nrc, activity_code, establishment_code, point_of_sale_code, address, phone, email, cert_path, cert_key_path, is_production, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.q.Exec(ctx, query,
		c.ID, c.Name, c.NIT, nullIfEmpty(c.NRC), nullIfEmpty(c.ActivityCode),
		c.EstablishmentCode, c.PointOfSaleCode,
		nullIfEmpty(c.Address), nullIfEmpty(c.Phone), nullIfEmpty(c.Email),
		nullIfEmpty(c.CertPath), nullIfEmpty(c.CertKeyPath),
		c.IsProduction, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: NIT ya registrado", domain.ErrConflict)
		}
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

// GetByID obtiene un emisor por ID. Devuelve (nil, nil) si no existe.
func (r *CompanyRepo) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	query := `
		SELECT id, name, nit, COALESCE(nrc, ''), COALESCE(activity_code, ''),
		       establishment_code, point_of_sale_code,
		       COALESCE(address, ''), COALESCE(phone, ''), COALESCE(email, ''),
		       COALESCE(cert_path, ''), COALESCE(cert_key_path, ''), is_production,
		       created_at, updated_at
		FROM companies WHERE id = $1`
	var c entity.Company
	err := r.q.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.NIT, &c.NRC, &c.ActivityCode,
		&c.EstablishmentCode, &c.PointOfSaleCode,
		&c.Address, &c.Phone, &c.Email,
		&c.CertPath, &c.CertKeyPath, &c.IsProduction,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	return &c, nil
}

// IsProduction implementa syncer.CompanyDirectory: la frontera
// producción/sandbox se responde desde la fila del emisor, nunca se confía al
// caller.
func (r *CompanyRepo) IsProduction(ctx context.Context, companyID string) (bool, error) {
	var prod bool
	err := r.q.QueryRow(ctx, `SELECT is_production FROM companies WHERE id = $1`, companyID).Scan(&prod)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%w: emisor %s", domain.ErrNotFound, companyID)
		}
		return false, fmt.Errorf("get company environment: %w", err)
	}
	return prod, nil
}
