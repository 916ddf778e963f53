package dte_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/dte"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

var fixedNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func fixedBuilder() *dte.Builder {
	return &dte.Builder{Now: func() time.Time { return fixedNow }}
}

func testCompany() *entity.Company {
	return &entity.Company{
		ID: "co-1", Name: "Comercial El Roble S.A. de C.V.",
		NIT: "0614-290523-102-3", NRC: "123456-7",
		ActivityCode:      "47111",
		EstablishmentCode: "M001", PointOfSaleCode: "P001",
		Address: "San Salvador", Email: "facturacion@elroble.sv",
		IsProduction: false,
	}
}

func testCustomer() *entity.Customer {
	return &entity.Customer{
		ID: "cu-1", CompanyID: "co-1", Name: "Ana Martínez",
		DocumentType: "13", DocumentNum: "04567890-1",
		Email: "ana@example.com",
	}
}

func testInvoice() *entity.Invoice {
	return &entity.Invoice{
		ID: "inv-1", CompanyID: "co-1", CustomerID: "cu-1",
		DocType:        entity.DocTypeFactura,
		Status:         entity.StatusPending,
		GenerationCode: "A1B2C3D4-0000-4000-8000-000000000001",
		ControlNumber:  "DTE-01-M001P001-000000000000001",
	}
}

func testItems() []*entity.LineItem {
	return []*entity.LineItem{
		{ProductName: "Café molido 500g", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
		{ProductName: "Azúcar 1kg", Quantity: 1, UnitPrice: decimal.RequireFromString("20.00")},
	}
}

// ── Build ─────────────────────────────────────────────────────────────────────

func TestBuild_SnapshotCompleto(t *testing.T) {
	b := fixedBuilder()
	snap, err := b.Build(testInvoice(), testCompany(), testCustomer(), testItems(), iva13)
	require.NoError(t, err)

	assert.Equal(t, dte.AmbienteTest, snap.Identification.Ambiente,
		"una empresa sandbox emite en ambiente de pruebas 00")
	assert.Equal(t, "A1B2C3D4-0000-4000-8000-000000000001", snap.Identification.GenerationCode)
	assert.Equal(t, "DTE-01-M001P001-000000000000001", snap.Identification.ControlNumber)
	assert.Equal(t, fixedNow, snap.Identification.IssuedAt)

	require.Len(t, snap.Lines, 2)
	assert.Equal(t, 1, snap.Lines[0].Number)
	assert.True(t, snap.Lines[0].LineTotal.Equal(decimal.RequireFromString("20.00")))

	assert.True(t, snap.Summary.Total.Equal(decimal.RequireFromString("40.00")))
	assert.True(t, snap.Summary.Tax.Equal(decimal.RequireFromString("4.60")))
	assert.True(t, snap.Summary.Subtotal.Equal(decimal.RequireFromString("35.40")))
	assert.Nil(t, snap.Reason, "un snapshot de emisión no lleva bloque de motivo")
}

func TestBuild_DeterministaConRelojFijo(t *testing.T) {
	b := fixedBuilder()
	s1, err1 := b.Build(testInvoice(), testCompany(), testCustomer(), testItems(), iva13)
	s2, err2 := b.Build(testInvoice(), testCompany(), testCustomer(), testItems(), iva13)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, s1, s2, "entradas idénticas con reloj fijo deben producir snapshots idénticos")
}

func TestBuild_AmbienteProduccion(t *testing.T) {
	co := testCompany()
	co.IsProduction = true
	snap, err := fixedBuilder().Build(testInvoice(), co, testCustomer(), testItems(), iva13)
	require.NoError(t, err)
	assert.Equal(t, dte.AmbienteProduction, snap.Identification.Ambiente)
}

func TestBuild_SinNumeroDeControl(t *testing.T) {
	inv := testInvoice()
	inv.ControlNumber = ""
	_, err := fixedBuilder().Build(inv, testCompany(), testCustomer(), testItems(), iva13)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "identification", verr.Field)
}

func TestBuild_CreditoFiscalExigeNRCReceptor(t *testing.T) {
	inv := testInvoice()
	inv.DocType = entity.DocTypeCreditoFiscal
	cu := testCustomer()
	cu.NRC = "" // receptor sin NRC

	_, err := fixedBuilder().Build(inv, testCompany(), cu, testItems(), iva13)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr, "falta de NRC en CCF debe ser ValidationError, nunca coerción silenciosa")
	assert.Equal(t, "receptor.nrc", verr.Field)
}

func TestBuild_ReceptorSinDocumento(t *testing.T) {
	cu := testCustomer()
	cu.DocumentNum = ""
	_, err := fixedBuilder().Build(testInvoice(), testCompany(), cu, testItems(), iva13)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "receptor", verr.Field)
}

// ── BuildInvalidation ─────────────────────────────────────────────────────────

func testReason() *dte.ReasonBlock {
	return &dte.ReasonBlock{
		InvalidationType:    dte.InvalidationTypeError,
		Justification:       "monto del detalle incorrecto",
		ResponsibleName:     "Carlos Pineda",
		ResponsibleDocument: "01234567-8",
		RequesterName:       "Ana Martínez",
		RequesterDocument:   "04567890-1",
	}
}

func TestBuildInvalidation_ReferenciaAlOriginal(t *testing.T) {
	inv := testInvoice()
	inv.Status = entity.StatusAccepted
	inv.ReceptionSeal = "SELLO-2025-0001"

	snap, err := fixedBuilder().BuildInvalidation(inv, testCompany(), testReason())
	require.NoError(t, err)

	require.NotNil(t, snap.Reason)
	assert.Equal(t, inv.GenerationCode, snap.Reason.TargetGenerationCode,
		"el evento debe referenciar el código de generación del DTE original")
	assert.Equal(t, "SELLO-2025-0001", snap.Reason.TargetReceptionSeal)
	assert.NotEqual(t, inv.GenerationCode, snap.Identification.GenerationCode,
		"el evento de invalidación tiene identidad propia")
}

func TestBuildInvalidation_SoloDTEAceptado(t *testing.T) {
	inv := testInvoice()
	inv.ReceptionSeal = "" // nunca fue aceptado

	_, err := fixedBuilder().BuildInvalidation(inv, testCompany(), testReason())
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "target", verr.Field)
}

func TestBuildInvalidation_MotivoIncompleto(t *testing.T) {
	inv := testInvoice()
	inv.ReceptionSeal = "SELLO-2025-0001"

	r := testReason()
	r.Justification = ""
	_, err := fixedBuilder().BuildInvalidation(inv, testCompany(), r)
	assert.Error(t, err, "justificación vacía debe fallar")

	r = testReason()
	r.RequesterDocument = ""
	_, err = fixedBuilder().BuildInvalidation(inv, testCompany(), r)
	assert.Error(t, err, "solicitante sin documento debe fallar")

	r = testReason()
	r.InvalidationType = "9"
	_, err = fixedBuilder().BuildInvalidation(inv, testCompany(), r)
	assert.Error(t, err, "tipo de invalidación fuera de catálogo debe fallar")
}
