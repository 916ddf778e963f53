package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de DTE soportados (catálogo CAT-002 del Ministerio de Hacienda).
const (
	DocTypeFactura       = "01" // Factura (consumidor final)
	DocTypeCreditoFiscal = "03" // Comprobante de Crédito Fiscal
)

// Invoice representa la cabecera de una factura. Es un borrador mutable hasta
// el primer intento de emisión; desde ahí los campos fiscales (código de
// generación, número de control) se asignan una sola vez y nunca se reutilizan,
// incluso si el envío falla de forma permanente.
type Invoice struct {
	ID             string
	CompanyID      string
	CustomerID     string
	Number         string // número legible para humanos (no fiscal)
	DocType        string // DocTypeFactura | DocTypeCreditoFiscal
	IssueDate      time.Time
	Status         DocumentStatus
	GenerationCode string // UUID en mayúsculas elegido por el cliente; identidad del DTE
	ControlNumber  string // secuencia fiscal DTE-{tipo}-{estab}{pos}-{correlativo}
	ReceptionSeal  string // sello de recepción emitido por Hacienda al aceptar
	Invalidated    bool
	SnapshotHash   string // hash del snapshot canónico firmado (comparación en sync)
	LastError      string // payload del último error adjunto a una transición a FAILED
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LineItem es una línea de la factura. Nombre y precio se copian del producto
// al momento de facturar (snapshot, no referencia viva): el histórico no cambia
// si el catálogo cambia después.
type LineItem struct {
	ID          string
	InvoiceID   string
	ProductID   string
	ProductName string
	Quantity    int64 // siempre >= 1
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal // tasa IVA incluida en el precio (ej. 0.13)
}

// Transition es el registro append-only de una transición persistida. El audit
// trail fiscal exige que nunca se borre ni se reescriba una transición.
type Transition struct {
	ID             string
	DocumentID     string // ID de la factura
	From           DocumentStatus
	To             DocumentStatus
	GenerationCode string // asignado en DRAFT→PENDING, vacío en el resto
	ControlNumber  string // idem
	ReceptionSeal  string // asignado en SUBMITTED→ACCEPTED o ACCEPTED→INVALIDATED
	SnapshotHash   string
	ErrorPayload   string // razón estructurada cuando To == FAILED
	OccurredAt     time.Time
}
