package dte_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-dte/pkg/dte"
)

func TestValidateNIT_VectorConocido(t *testing.T) {
	// Verificador calculado a mano: módulo 11, pesos 2..7 de derecha a izquierda.
	assert.NoError(t, dte.ValidateNIT("0614-290523-102-8"))
	assert.NoError(t, dte.ValidateNIT("06142905231028"), "el NIT sin guiones también debe validar")

	assert.Error(t, dte.ValidateNIT("0614-290523-102-7"), "verificador incorrecto debe fallar")
	assert.Error(t, dte.ValidateNIT("0614-290523-102"), "NIT de 13 dígitos debe fallar")
}

func TestComputeNITVerificationDigit(t *testing.T) {
	dv, err := dte.ComputeNITVerificationDigit("0614-290523-102")
	require.NoError(t, err)
	assert.Equal(t, byte('8'), dv)

	_, err = dte.ComputeNITVerificationDigit("0614")
	assert.Error(t, err, "menos de 13 dígitos no permite calcular el verificador")
}

func TestValidateDUI(t *testing.T) {
	// 04567890 → suma ponderada 197, verificador (10 − 7) mod 10 = 3.
	assert.NoError(t, dte.ValidateDUI("04567890-3"))
	assert.Error(t, dte.ValidateDUI("04567890-1"), "verificador incorrecto debe fallar")
	assert.Error(t, dte.ValidateDUI("0456789"), "DUI incompleto debe fallar")
}
