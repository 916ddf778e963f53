package hacienda_test

import (
	"archive/zip"
	"bytes"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-dte/internal/domain/dte"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	"github.com/jhoicas/facturador-dte/internal/infrastructure/hacienda"
)

func sampleSnapshot() *dte.DocumentSnapshot {
	return &dte.DocumentSnapshot{
		Identification: dte.Identification{
			Version:        dte.SchemaVersion,
			Ambiente:       dte.AmbienteTest,
			DocType:        "01",
			GenerationCode: "A5B9C1D2-0000-4000-8000-000000000001",
			ControlNumber:  "DTE-01-M001P001-000000000000001",
			IssuedAt:       time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC),
		},
		Issuer: dte.IssuerBlock{
			NIT: "06142905231028", NRC: "123456-7", Name: "Cafetalera SV",
			ActivityCode: "46900", EstablishmentPOS: "M001P001",
		},
		Receptor: dte.ReceptorBlock{
			DocumentType: "13", DocumentNum: "045678903", Name: "Juana Pérez",
		},
		Lines: []dte.SnapshotLine{
			{Number: 1, ProductName: "Café molido", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00"), LineTotal: decimal.RequireFromString("20.00")},
		},
		Summary: dte.SummaryBlock{
			Subtotal: decimal.RequireFromString("35.40"),
			Tax:      decimal.RequireFromString("4.60"),
			Total:    decimal.RequireFromString("40.00"),
			TaxRate:  decimal.RequireFromString("0.13"),
		},
	}
}

func TestEncode_EstructuraYPlaceholderDeFirma(t *testing.T) {
	codec := hacienda.NewXMLCodec()

	out, err := codec.Encode(sampleSnapshot())
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	root := doc.Root()
	require.Equal(t, "DTE", root.Tag)
	assert.Equal(t, "dte-doc", root.SelectAttrValue("Id", ""))

	require.NotNil(t, root.SelectElement("Identificacion"))
	require.NotNil(t, root.SelectElement("Receptor"))
	require.NotNil(t, root.SelectElement("Firma"), "el codec deja el placeholder de firma")

	resumen := root.SelectElement("Resumen")
	require.NotNil(t, resumen)
	assert.Equal(t, "40.00", resumen.SelectElement("MontoTotalOperacion").Text())
	assert.Equal(t, "4.60", resumen.SelectElement("TotalIva").Text())
	assert.Equal(t, "35.40", resumen.SelectElement("SubTotal").Text())
}

func TestEncode_EsDeterminista(t *testing.T) {
	codec := hacienda.NewXMLCodec()

	a, err := codec.Encode(sampleSnapshot())
	require.NoError(t, err)
	b, err := codec.Encode(sampleSnapshot())
	require.NoError(t, err)

	assert.Equal(t, a, b, "mismo snapshot, mismos bytes: el hash debe ser comparable entre dispositivos")
	assert.Equal(t, codec.Hash(a), codec.Hash(b))
}

func TestEncode_InvalidacionLlevaMotivoSinCuerpo(t *testing.T) {
	codec := hacienda.NewXMLCodec()

	s := sampleSnapshot()
	s.Lines = nil
	s.Reason = &dte.ReasonBlock{
		InvalidationType:     dte.InvalidationTypeError,
		Justification:        "monto incorrecto",
		ResponsibleName:      "María López",
		ResponsibleDocument:  "045678903",
		RequesterName:        "Juana Pérez",
		RequesterDocument:    "045678903",
		TargetGenerationCode: "A5B9C1D2-0000-4000-8000-000000000001",
		TargetReceptionSeal:  "SELLO-1",
	}

	out, err := codec.Encode(s)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	root := doc.Root()

	motivo := root.SelectElement("Motivo")
	require.NotNil(t, motivo)
	assert.Equal(t, "SELLO-1", motivo.SelectElement("SelloRecibido").Text())
	assert.Nil(t, root.SelectElement("CuerpoDocumento"), "la invalidación referencia, no repite el cuerpo")
	assert.Nil(t, root.SelectElement("Receptor"))
}

func TestHash_SensibleAlContenido(t *testing.T) {
	codec := hacienda.NewXMLCodec()

	a, err := codec.Encode(sampleSnapshot())
	require.NoError(t, err)

	s := sampleSnapshot()
	s.Summary.Total = decimal.RequireFromString("40.01")
	b, err := codec.Encode(s)
	require.NoError(t, err)

	assert.NotEqual(t, codec.Hash(a), codec.Hash(b))
}

func TestPackageDTE_NombreYContenido(t *testing.T) {
	company := &entity.Company{NIT: "0614-290523-102-8"}
	inv := &entity.Invoice{ControlNumber: "DTE-01-M001P001-000000000000001"}

	data, name, err := hacienda.PackageDTE([]byte("<DTE/>"), company, inv)
	require.NoError(t, err)
	assert.Equal(t, "06142905231028-DTE-01-M001P001-000000000000001.zip", name)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1, "el ZIP contiene exactamente un archivo")
	assert.Equal(t, "06142905231028-DTE-01-M001P001-000000000000001.xml", zr.File[0].Name)
}
