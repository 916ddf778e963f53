package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product es una entrada del catálogo. El motor DTE nunca la muta: al facturar
// se copian nombre y precio a la línea (ver LineItem).
type Product struct {
	ID        string
	CompanyID string
	SKU       string
	Name      string
	Price     decimal.Decimal // precio unitario IVA incluido
	TaxRate   decimal.Decimal // ej. 0.13
	CreatedAt time.Time
	UpdatedAt time.Time
}
