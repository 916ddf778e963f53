package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/dte"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	pkgdte "github.com/jhoicas/facturador-dte/pkg/dte"
)

// SequenceStore es el puerto de persistencia de correlativos. Next debe ser
// atómico bajo concurrencia: dos llamadas simultáneas para la misma serie
// (empresa + tipo de documento) nunca devuelven el mismo número ni dejan
// huecos. La implementación Postgres usa un UPDATE con RETURNING; los tests
// usan un fake en memoria.
type SequenceStore interface {
	Next(ctx context.Context, companyID, docType string) (int64, error)
	// MarkVoid registra un correlativo reservado que nunca llegó a aceptarse,
	// para el reporte de anulados ante Hacienda. No reutiliza el número.
	MarkVoid(ctx context.Context, companyID, docType string, seq int64, reason string) error
}

// Allocator reserva números de control fiscales. No guarda estado propio: la
// fuente de verdad del correlativo vive en el SequenceStore, de modo que la
// reserva participe en la misma transacción que la transición del documento.
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// Reserve consume el siguiente correlativo de la serie y devuelve el número
// de control ya formateado. Debe invocarse dentro de la transacción que
// persiste la transición DRAFT→PENDING: si esa transacción aborta, la reserva
// se revierte con ella y la serie queda sin huecos.
func (a *Allocator) Reserve(ctx context.Context, seqs SequenceStore, company *entity.Company, docType string) (string, error) {
	if !pkgdte.ValidDocTypes[docType] {
		return "", domain.Invalid("docType", fmt.Sprintf("tipo de documento desconocido: %q", docType))
	}
	if company.EstablishmentCode == "" || company.PointOfSaleCode == "" {
		return "", domain.Invalid("company", "el emisor no tiene código de establecimiento o punto de venta")
	}

	n, err := seqs.Next(ctx, company.ID, docType)
	if err != nil {
		return "", fmt.Errorf("reservar correlativo: %w", err)
	}
	return dte.FormatControlNumber(docType, company.EstablishmentPOS(), n)
}

// Void marca como anulado un número de control reservado que nunca alcanzó
// ACCEPTED (documento fallido definitivamente o emisión cancelada tras la
// reserva). El correlativo no se reutiliza; solo queda apuntado para el
// reporte fiscal de correlativos anulados.
func (a *Allocator) Void(ctx context.Context, seqs SequenceStore, company *entity.Company, docType, controlNumber, reason string) error {
	seq, err := sequenceOf(controlNumber)
	if err != nil {
		return err
	}
	return seqs.MarkVoid(ctx, company.ID, docType, seq, reason)
}

// sequenceOf extrae el correlativo (último segmento de 15 dígitos) de un
// número de control válido.
func sequenceOf(controlNumber string) (int64, error) {
	if err := dte.ValidateControlNumber(controlNumber); err != nil {
		return 0, err
	}
	parts := strings.Split(controlNumber, "-")
	seq, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0, domain.Invalid("controlNumber", "correlativo no numérico")
	}
	return seq, nil
}
