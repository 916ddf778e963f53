package dte

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/jhoicas/facturador-dte/internal/domain"
)

// Formato del número de control exigido por Hacienda:
//
//	DTE-{tipoDte}-{estab}{pos}-{correlativo de 15 dígitos}
//
// Ejemplo: DTE-01-M001P001-000000000000001
const (
	controlNumberPrefix = "DTE"
	sequenceDigits      = 15
)

var controlNumberRe = regexp.MustCompile(`^DTE-\d{2}-[A-Z0-9]{8}-\d{15}$`)

// FormatControlNumber arma el número de control a partir del tipo de DTE, el
// bloque establecimiento+punto de venta y el correlativo reservado.
func FormatControlNumber(docType, establishmentPOS string, seq int64) (string, error) {
	if len(docType) != 2 {
		return "", domain.Invalid("docType", "el tipo de DTE debe ser un código de 2 dígitos")
	}
	if len(establishmentPOS) != 8 {
		return "", domain.Invalid("establishmentPOS", "establecimiento+punto de venta debe tener 8 caracteres")
	}
	if seq < 1 {
		return "", domain.Invalid("sequence", "el correlativo debe ser positivo")
	}
	n := fmt.Sprintf("%s-%s-%s-%0*d", controlNumberPrefix, docType, establishmentPOS, sequenceDigits, seq)
	if !controlNumberRe.MatchString(n) {
		return "", domain.Invalid("controlNumber", "el número de control generado no cumple el formato DTE")
	}
	return n, nil
}

// ValidateControlNumber verifica el formato completo.
func ValidateControlNumber(n string) error {
	if !controlNumberRe.MatchString(n) {
		return domain.Invalid("controlNumber", "formato inválido, se espera DTE-NN-XXXXXXXX-<15 dígitos>")
	}
	return nil
}

// NewGenerationCode produce el código de generación: un UUID v4 en mayúsculas,
// identidad del DTE elegida por el cliente e independiente del número de control.
func NewGenerationCode() string {
	return strings.ToUpper(uuid.New().String())
}
