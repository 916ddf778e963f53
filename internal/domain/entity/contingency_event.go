package entity

import "time"

// Razones de contingencia (catálogo CAT-005).
const (
	ContingencyReasonServiceDown  = "1" // no disponibilidad del sistema del MH
	ContingencyReasonNoInternet   = "2" // falla en el servicio de internet del emisor
	ContingencyReasonPowerOutage  = "3" // falla en el suministro eléctrico
	ContingencyReasonIssuerSystem = "4" // no disponibilidad del sistema del emisor
	ContingencyReasonOther        = "5" // otro motivo
)

// ContingencyEvent registra una ventana de indisponibilidad del servicio de
// recepción. Se abre solo mientras no hay conexión con Hacienda y se cierra
// exactamente una vez cuando la conectividad regresa; luego debe reportarse a
// la autoridad como notificación fuera de banda.
type ContingencyEvent struct {
	ID              string
	CompanyID       string
	Reason          string // constantes ContingencyReason*
	StartedAt       time.Time
	EndedAt         *time.Time // nil mientras la ventana sigue abierta
	GenerationCodes []string   // DTE emitidos durante la ventana, en orden de emisión
	Reported        bool       // true cuando la ventana ya se notificó a Hacienda
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Open indica si la ventana sigue abierta.
func (e *ContingencyEvent) Open() bool { return e.EndedAt == nil }
