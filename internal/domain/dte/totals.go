// Cálculo de montos del DTE con aritmética decimal exacta. Los totales nunca
// se almacenan: se derivan siempre de las líneas para que no exista drift de
// redondeo entre lo persistido y lo transmitido a Hacienda.

package dte

import (
	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

// FiscalScale es la precisión decimal fiscal: 2 dígitos fraccionarios.
const FiscalScale = 2

var one = decimal.NewFromInt(1)

// Totals agrupa los montos derivados de una factura. Invariante:
// Total = Tax + Subtotal de forma exacta bajo escala 2.
type Totals struct {
	Total    decimal.Decimal // Σ(cantidad × precio unitario), IVA incluido
	Tax      decimal.Decimal // Total − Subtotal
	Subtotal decimal.Decimal // round2(Total ÷ (1 + tasa))
}

// ComputeTotals deriva los montos de las líneas con la tasa de IVA incluida.
// El subtotal se redondea a 2 dígitos y el impuesto se obtiene por diferencia,
// de modo que la identidad Total = Tax + Subtotal se cumple siempre.
func ComputeTotals(items []*entity.LineItem, taxRate decimal.Decimal) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, domain.Invalid("items", "la factura no tiene líneas")
	}
	if taxRate.IsNegative() {
		return Totals{}, domain.Invalid("taxRate", "la tasa de IVA no puede ser negativa")
	}

	total := decimal.Zero
	for _, it := range items {
		if it.Quantity < 1 {
			return Totals{}, domain.Invalid("quantity", "la cantidad debe ser un entero positivo")
		}
		if it.UnitPrice.IsNegative() {
			return Totals{}, domain.Invalid("unitPrice", "el precio unitario no puede ser negativo")
		}
		if it.UnitPrice.Exponent() < -FiscalScale {
			return Totals{}, domain.Invalid("unitPrice", "el precio unitario excede la precisión fiscal de 2 decimales")
		}
		total = total.Add(decimal.NewFromInt(it.Quantity).Mul(it.UnitPrice))
	}

	subtotal := total.Div(one.Add(taxRate)).Round(FiscalScale)
	tax := total.Sub(subtotal)

	return Totals{Total: total, Tax: tax, Subtotal: subtotal}, nil
}
