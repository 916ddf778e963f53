package dte

import (
	"time"

	"github.com/shopspring/decimal"
)

// Versión del esquema DTE y códigos de ambiente (catálogo CAT-001).
const (
	SchemaVersion = 1

	AmbienteTest       = "00" // pruebas
	AmbienteProduction = "01" // producción
)

// Tipos de invalidación (catálogo CAT-024).
const (
	InvalidationTypeError       = "1" // error en la información del DTE
	InvalidationTypeRescind     = "2" // rescindir la operación
	InvalidationTypeOther       = "3" // otro
)

// DocumentSnapshot es la carga inmutable que se firma y transmite. Una vez
// construida no se muta nunca: una corrección produce un snapshot nuevo más la
// invalidación del anterior (audit trail append-only).
type DocumentSnapshot struct {
	Identification Identification
	Issuer         IssuerBlock
	Receptor       ReceptorBlock
	Lines          []SnapshotLine
	Summary        SummaryBlock
	Reason         *ReasonBlock // solo en snapshots de invalidación
}

// Identification es el bloque de identificación del DTE.
type Identification struct {
	Version        int
	Ambiente       string // AmbienteTest | AmbienteProduction
	DocType        string
	GenerationCode string
	ControlNumber  string
	IssuedAt       time.Time // inyectado por el builder, no por el reloj global
	Contingency    bool
}

// IssuerBlock identifica al emisor.
type IssuerBlock struct {
	NIT              string
	NRC              string
	Name             string
	ActivityCode     string
	EstablishmentPOS string
	Address          string
	Email            string
}

// ReceptorBlock identifica al receptor.
type ReceptorBlock struct {
	DocumentType string
	DocumentNum  string
	NRC          string
	Name         string
	Email        string
	Address      string
}

// SnapshotLine es una línea del cuerpo del documento, copiada (no referida) de
// la línea de factura.
type SnapshotLine struct {
	Number      int
	ProductName string
	Quantity    int64
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// SummaryBlock son los totales derivados del cuerpo.
type SummaryBlock struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	TaxRate  decimal.Decimal
}

// ReasonBlock es el motivo de una invalidación: tipo, justificación y los
// documentos de identidad del responsable y del solicitante.
type ReasonBlock struct {
	InvalidationType    string // constantes InvalidationType*
	Justification       string
	ResponsibleName     string
	ResponsibleDocument string
	RequesterName       string
	RequesterDocument   string
	TargetGenerationCode string // código de generación del DTE que se invalida
	TargetReceptionSeal  string
}
