package entity

// Estados del ciclo de vida de un DTE. El orden total (Rank) se usa para el
// merge "gana el estado más avanzado" del coordinador de sincronización.
type DocumentStatus string

const (
	StatusDraft             DocumentStatus = "DRAFT"              // Borrador local, editable
	StatusPending           DocumentStatus = "PENDING"            // Número de control reservado, en proceso
	StatusContingencyQueued DocumentStatus = "CONTINGENCY_QUEUED" // Emitido en contingencia, en cola de reenvío
	StatusSubmitted         DocumentStatus = "SUBMITTED"          // Entregado al WS de Hacienda, respuesta pendiente
	StatusAccepted          DocumentStatus = "ACCEPTED"           // Aceptado: sello de recepción recibido
	StatusFailed            DocumentStatus = "FAILED"             // Terminal con error; reintentable vía Retry
	StatusInvalidated       DocumentStatus = "INVALIDATED"        // Invalidado tras haber sido aceptado
)

// statusRank define el orden total Draft < Pending < ContingencyQueued <
// Submitted < Accepted/Failed/Invalidated.
var statusRank = map[DocumentStatus]int{
	StatusDraft:             0,
	StatusPending:           1,
	StatusContingencyQueued: 2,
	StatusSubmitted:         3,
	StatusAccepted:          4,
	StatusFailed:            4,
	StatusInvalidated:       4,
}

// Rank devuelve la posición del estado en el orden total (-1 si es desconocido).
func (s DocumentStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Terminal indica si el estado no admite más transiciones automáticas.
// FAILED es terminal-error pero admite reentrada manual vía Retry.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case StatusAccepted, StatusFailed, StatusInvalidated:
		return true
	}
	return false
}

// legalTransitions enumera las aristas permitidas de la máquina de estados.
// Ninguna transición puede saltar estados; FAILED→PENDING es la reentrada
// manual de Retry (reutiliza código de generación y número de control).
var legalTransitions = map[DocumentStatus][]DocumentStatus{
	StatusDraft:             {StatusPending, StatusFailed},
	StatusPending:           {StatusSubmitted, StatusContingencyQueued, StatusFailed},
	StatusContingencyQueued: {StatusSubmitted, StatusFailed},
	StatusSubmitted:         {StatusAccepted, StatusFailed},
	StatusAccepted:          {StatusInvalidated},
	StatusFailed:            {StatusPending},
}

// CanTransition valida una arista de la máquina de estados.
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
