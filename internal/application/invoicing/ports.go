package invoicing

import (
	"context"

	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

// InvoiceRepository persiste facturas y su audit trail de transiciones.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *entity.Invoice, items []*entity.LineItem) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	ListByCompany(ctx context.Context, companyID string, limit, offset int) ([]*entity.Invoice, error)
	ListItems(ctx context.Context, invoiceID string) ([]*entity.LineItem, error)
	ListTransitions(ctx context.Context, invoiceID string) ([]*entity.Transition, error)
}

// CustomerRepository lee receptores.
type CustomerRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Customer, error)
}

// ProductRepository lee el catálogo de productos.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Product, error)
}
