// Package invoicing contiene los casos de uso de facturación previos a la
// emisión: crear y consultar borradores. La emisión propiamente dicha la
// orquesta el motor de ciclo de vida.
package invoicing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturador-dte/internal/application/dto"
	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/dte"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	pkgdte "github.com/jhoicas/facturador-dte/pkg/dte"
)

// UseCase crea y consulta borradores de factura.
type UseCase struct {
	invoices  InvoiceRepository
	customers CustomerRepository
	products  ProductRepository
}

func NewUseCase(invoices InvoiceRepository, customers CustomerRepository, products ProductRepository) *UseCase {
	return &UseCase{invoices: invoices, customers: customers, products: products}
}

// CreateDraft crea un borrador con las líneas congeladas: nombre y precio se
// copian del catálogo al momento de crear (el histórico no cambia si el
// catálogo cambia después). Un producto o cliente inexistente es error de
// validación, nunca se factura "lo que haya".
func (uc *UseCase) CreateDraft(ctx context.Context, companyID string, in dto.CreateDraftRequest) (*dto.InvoiceResponse, error) {
	if in.CustomerID == "" || len(in.Items) == 0 {
		return nil, domain.ErrInvalidInput
	}
	if !pkgdte.ValidDocTypes[in.DocType] {
		return nil, domain.Invalid("doc_type", "tipo de DTE no soportado: "+in.DocType)
	}

	customer, err := uc.customers.GetByID(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: receptor %s", domain.ErrNotFound, in.CustomerID)
	}
	if customer.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}

	inv := &entity.Invoice{
		ID:         uuid.NewString(),
		CompanyID:  companyID,
		CustomerID: customer.ID,
		DocType:    in.DocType,
		Status:     entity.StatusDraft,
	}

	items := make([]*entity.LineItem, 0, len(in.Items))
	for i, line := range in.Items {
		if line.Quantity < 1 {
			return nil, domain.Invalid("items.quantity", fmt.Sprintf("línea %d: la cantidad debe ser un entero positivo", i+1))
		}
		product, err := uc.products.GetByID(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, domain.Invalid("items.product_id", fmt.Sprintf("línea %d: producto %s no existe en el catálogo", i+1, line.ProductID))
		}
		if product.CompanyID != companyID {
			return nil, domain.ErrForbidden
		}

		price := product.Price
		if line.UnitPrice != "" {
			price, err = decimal.NewFromString(line.UnitPrice)
			if err != nil {
				return nil, domain.Invalid("items.unit_price", fmt.Sprintf("línea %d: precio no numérico", i+1))
			}
		}
		if price.IsNegative() {
			return nil, domain.Invalid("items.unit_price", fmt.Sprintf("línea %d: el precio no puede ser negativo", i+1))
		}
		if price.Exponent() < -dte.FiscalScale {
			return nil, domain.Invalid("items.unit_price", fmt.Sprintf("línea %d: el precio excede los 2 decimales fiscales", i+1))
		}

		items = append(items, &entity.LineItem{
			ID:          uuid.NewString(),
			InvoiceID:   inv.ID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   price,
			TaxRate:     product.TaxRate,
		})
	}

	if err := uc.invoices.Create(ctx, inv, items); err != nil {
		return nil, err
	}
	return toResponse(inv, items), nil
}

// Get devuelve una factura con sus líneas, acotada a la empresa del token.
func (uc *UseCase) Get(ctx context.Context, companyID, invoiceID string) (*dto.InvoiceResponse, error) {
	inv, err := uc.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	if inv.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}
	items, err := uc.invoices.ListItems(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return toResponse(inv, items), nil
}

// List pagina las facturas de la empresa.
func (uc *UseCase) List(ctx context.Context, companyID string, limit, offset int) ([]*dto.InvoiceResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	invs, err := uc.invoices.ListByCompany(ctx, companyID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.InvoiceResponse, 0, len(invs))
	for _, inv := range invs {
		out = append(out, toResponse(inv, nil))
	}
	return out, nil
}

// Transitions devuelve el audit trail del documento.
func (uc *UseCase) Transitions(ctx context.Context, companyID, invoiceID string) ([]*dto.TransitionResponse, error) {
	inv, err := uc.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	if inv.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}
	trs, err := uc.invoices.ListTransitions(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.TransitionResponse, 0, len(trs))
	for _, t := range trs {
		out = append(out, &dto.TransitionResponse{
			From:           string(t.From),
			To:             string(t.To),
			GenerationCode: t.GenerationCode,
			ControlNumber:  t.ControlNumber,
			ReceptionSeal:  t.ReceptionSeal,
			ErrorPayload:   t.ErrorPayload,
			OccurredAt:     t.OccurredAt,
		})
	}
	return out, nil
}

func toResponse(inv *entity.Invoice, items []*entity.LineItem) *dto.InvoiceResponse {
	resp := &dto.InvoiceResponse{
		ID:             inv.ID,
		CompanyID:      inv.CompanyID,
		CustomerID:     inv.CustomerID,
		DocType:        inv.DocType,
		Status:         string(inv.Status),
		GenerationCode: inv.GenerationCode,
		ControlNumber:  inv.ControlNumber,
		ReceptionSeal:  inv.ReceptionSeal,
		Invalidated:    inv.Invalidated,
		LastError:      inv.LastError,
		CreatedAt:      inv.CreatedAt,
	}
	for _, it := range items {
		resp.Items = append(resp.Items, dto.InvoiceItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			TaxRate:     it.TaxRate.String(),
		})
	}
	return resp
}
