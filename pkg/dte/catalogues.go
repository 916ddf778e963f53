// Package dte contiene catálogos y validaciones alineados a la normativa de
// facturación electrónica del Ministerio de Hacienda de El Salvador.
package dte

// =============================================================================
// CAT-002 - Tipo de Documento Tributario Electrónico
// =============================================================================

const (
	DocFactura             = "01" // Factura
	DocComprobanteCredito  = "03" // Comprobante de Crédito Fiscal
	DocNotaRemision        = "04" // Nota de Remisión
	DocNotaCredito         = "05" // Nota de Crédito
	DocNotaDebito          = "06" // Nota de Débito
	DocComprobanteRetencion = "07" // Comprobante de Retención
	DocFacturaExportacion  = "11" // Factura de Exportación
	DocFacturaSujetoExcluido = "14" // Factura de Sujeto Excluido
)

// ValidDocTypes son los tipos de DTE que el motor sabe emitir hoy. El resto del
// catálogo queda declarado para validación de datos entrantes.
var ValidDocTypes = map[string]bool{
	DocFactura:            true,
	DocComprobanteCredito: true,
}

// =============================================================================
// CAT-001 - Ambiente de destino
// =============================================================================

const (
	AmbientePruebas    = "00"
	AmbienteProduccion = "01"
)

// =============================================================================
// CAT-022 - Tipo de documento de identificación del receptor
// =============================================================================

const (
	IdentNIT      = "36" // NIT
	IdentDUI      = "13" // DUI
	IdentPasaporte = "03" // Pasaporte
	IdentCarnet   = "02" // Carnet de residente
	IdentOtro     = "37" // Otro
)

// ValidIdentTypes contiene los tipos de identificación aceptados para el receptor.
var ValidIdentTypes = map[string]bool{
	IdentNIT: true, IdentDUI: true, IdentPasaporte: true, IdentCarnet: true, IdentOtro: true,
}

// =============================================================================
// CAT-005 - Tipo de contingencia / CAT-024 - Tipo de invalidación
// =============================================================================

const (
	ContingenciaSistemaMH   = "1"
	ContingenciaInternet    = "2"
	ContingenciaEnergia     = "3"
	ContingenciaSistemaEmisor = "4"
	ContingenciaOtro        = "5"
)

const (
	InvalidacionError    = "1"
	InvalidacionRescindir = "2"
	InvalidacionOtro     = "3"
)

// IVA es la tasa general del impuesto a la transferencia de bienes y servicios.
const IVARateStr = "0.13"
