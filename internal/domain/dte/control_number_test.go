package dte_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-dte/internal/domain/dte"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

func TestFormatControlNumber_FormatoExacto(t *testing.T) {
	n, err := dte.FormatControlNumber(entity.DocTypeFactura, "M001P001", 1)
	require.NoError(t, err)
	assert.Equal(t, "DTE-01-M001P001-000000000000001", n,
		"el número de control debe seguir el formato DTE-{tipo}-{estab}{pos}-{15 dígitos}")

	n2, err := dte.FormatControlNumber(entity.DocTypeCreditoFiscal, "M002P010", 987654)
	require.NoError(t, err)
	assert.Equal(t, "DTE-03-M002P010-000000000987654", n2)
}

func TestFormatControlNumber_Errores(t *testing.T) {
	_, err := dte.FormatControlNumber("1", "M001P001", 1)
	assert.Error(t, err, "tipo de DTE de 1 dígito debe fallar")

	_, err = dte.FormatControlNumber(entity.DocTypeFactura, "M001", 1)
	assert.Error(t, err, "bloque establecimiento+pos incompleto debe fallar")

	_, err = dte.FormatControlNumber(entity.DocTypeFactura, "M001P001", 0)
	assert.Error(t, err, "correlativo cero debe fallar: los números inician en 1")
}

func TestValidateControlNumber(t *testing.T) {
	assert.NoError(t, dte.ValidateControlNumber("DTE-01-M001P001-000000000000042"))
	assert.Error(t, dte.ValidateControlNumber("DTE-01-M001P001-42"),
		"el correlativo debe ir relleno a 15 dígitos")
	assert.Error(t, dte.ValidateControlNumber("FAC-01-M001P001-000000000000042"))
}

func TestNewGenerationCode_UUIDMayusculas(t *testing.T) {
	code := dte.NewGenerationCode()
	assert.Len(t, code, 36, "el código de generación debe ser un UUID con guiones")
	assert.Equal(t, strings.ToUpper(code), code, "Hacienda exige el UUID en mayúsculas")

	otro := dte.NewGenerationCode()
	assert.NotEqual(t, code, otro, "dos códigos de generación no deben colisionar")
}
