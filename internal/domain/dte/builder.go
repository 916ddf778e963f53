package dte

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

// Builder ensambla snapshots firmables. Es puro y determinista con entradas
// idénticas salvo por el timestamp de generación, que se inyecta (Now) para
// que los tests puedan fijarlo.
type Builder struct {
	Now func() time.Time
}

// NewBuilder crea el builder con el reloj del sistema.
func NewBuilder() *Builder {
	return &Builder{Now: time.Now}
}

// Validate verifica las precondiciones estructurales sin construir nada. Se
// invoca antes de reservar número de control para que un dato inválido nunca
// consuma correlativo.
func (b *Builder) Validate(inv *entity.Invoice, company *entity.Company, customer *entity.Customer, items []*entity.LineItem) error {
	if inv == nil || company == nil || customer == nil {
		return domain.Invalid("context", "faltan invoice, company o customer")
	}
	if inv.DocType != entity.DocTypeFactura && inv.DocType != entity.DocTypeCreditoFiscal {
		return domain.Invalid("docType", "tipo de DTE no soportado: "+inv.DocType)
	}
	if customer.Name == "" || customer.DocumentNum == "" {
		return domain.Invalid("receptor", "nombre y documento de identidad del receptor son obligatorios")
	}
	if inv.DocType == entity.DocTypeCreditoFiscal && customer.NRC == "" {
		return domain.Invalid("receptor.nrc", "el Crédito Fiscal exige NRC del receptor")
	}
	if company.NIT == "" || company.NRC == "" {
		return domain.Invalid("emisor", "NIT y NRC del emisor son obligatorios")
	}
	if len(items) == 0 {
		return domain.Invalid("items", "la factura no tiene líneas")
	}
	for _, it := range items {
		if it.Quantity < 1 {
			return domain.Invalid("quantity", "la cantidad debe ser un entero positivo")
		}
		if it.ProductName == "" {
			return domain.Invalid("productName", "la línea no tiene nombre de producto")
		}
		if it.UnitPrice.Exponent() < -FiscalScale {
			return domain.Invalid("unitPrice", "el precio unitario excede la precisión fiscal de 2 decimales")
		}
	}
	return nil
}

// Build ensambla el snapshot de emisión. Nunca coacciona ni trunca datos:
// cualquier precondición incumplida retorna ValidationError.
func (b *Builder) Build(inv *entity.Invoice, company *entity.Company, customer *entity.Customer, items []*entity.LineItem, taxRate decimal.Decimal) (*DocumentSnapshot, error) {
	if err := b.Validate(inv, company, customer, items); err != nil {
		return nil, err
	}
	if inv.GenerationCode == "" || inv.ControlNumber == "" {
		return nil, domain.Invalid("identification", "código de generación y número de control deben estar asignados antes de construir")
	}

	totals, err := ComputeTotals(items, taxRate)
	if err != nil {
		return nil, err
	}

	lines := make([]SnapshotLine, len(items))
	for i, it := range items {
		qty := decimal.NewFromInt(it.Quantity)
		lines[i] = SnapshotLine{
			Number:      i + 1,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   qty.Mul(it.UnitPrice),
		}
	}

	return &DocumentSnapshot{
		Identification: Identification{
			Version:        SchemaVersion,
			Ambiente:       ambienteFor(company),
			DocType:        inv.DocType,
			GenerationCode: inv.GenerationCode,
			ControlNumber:  inv.ControlNumber,
			IssuedAt:       b.Now().UTC(),
			Contingency:    inv.Status == entity.StatusContingencyQueued,
		},
		Issuer:   issuerBlock(company),
		Receptor: receptorBlock(customer),
		Lines:    lines,
		Summary: SummaryBlock{
			Subtotal: totals.Subtotal,
			Tax:      totals.Tax,
			Total:    totals.Total,
			TaxRate:  taxRate,
		},
	}, nil
}

// BuildInvalidation ensambla el snapshot de invalidación de un DTE aceptado.
// El snapshot referencia al original; el original jamás se muta.
func (b *Builder) BuildInvalidation(inv *entity.Invoice, company *entity.Company, reason *ReasonBlock) (*DocumentSnapshot, error) {
	if inv == nil || company == nil || reason == nil {
		return nil, domain.Invalid("context", "faltan invoice, company o reason")
	}
	if inv.GenerationCode == "" || inv.ReceptionSeal == "" {
		return nil, domain.Invalid("target", "solo un DTE aceptado (con sello de recepción) puede invalidarse")
	}
	if reason.Justification == "" {
		return nil, domain.Invalid("reason.justification", "la justificación es obligatoria")
	}
	if reason.ResponsibleName == "" || reason.ResponsibleDocument == "" {
		return nil, domain.Invalid("reason.responsible", "nombre y documento del responsable son obligatorios")
	}
	if reason.RequesterName == "" || reason.RequesterDocument == "" {
		return nil, domain.Invalid("reason.requester", "nombre y documento del solicitante son obligatorios")
	}
	switch reason.InvalidationType {
	case InvalidationTypeError, InvalidationTypeRescind, InvalidationTypeOther:
	default:
		return nil, domain.Invalid("reason.type", "tipo de invalidación desconocido: "+reason.InvalidationType)
	}

	r := *reason
	r.TargetGenerationCode = inv.GenerationCode
	r.TargetReceptionSeal = inv.ReceptionSeal

	return &DocumentSnapshot{
		Identification: Identification{
			Version:        SchemaVersion,
			Ambiente:       ambienteFor(company),
			DocType:        inv.DocType,
			GenerationCode: NewGenerationCode(), // el evento de invalidación tiene identidad propia
			ControlNumber:  inv.ControlNumber,
			IssuedAt:       b.Now().UTC(),
		},
		Issuer: issuerBlock(company),
		Reason: &r,
	}, nil
}

func ambienteFor(c *entity.Company) string {
	if c.IsProduction {
		return AmbienteProduction
	}
	return AmbienteTest
}

func issuerBlock(c *entity.Company) IssuerBlock {
	return IssuerBlock{
		NIT:              c.NIT,
		NRC:              c.NRC,
		Name:             c.Name,
		ActivityCode:     c.ActivityCode,
		EstablishmentPOS: c.EstablishmentPOS(),
		Address:          c.Address,
		Email:            c.Email,
	}
}

func receptorBlock(cu *entity.Customer) ReceptorBlock {
	return ReceptorBlock{
		DocumentType: cu.DocumentType,
		DocumentNum:  cu.DocumentNum,
		NRC:          cu.NRC,
		Name:         cu.Name,
		Email:        cu.Email,
		Address:      cu.Address,
	}
}
