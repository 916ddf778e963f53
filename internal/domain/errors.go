package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound           = errors.New("recurso no encontrado")
	ErrInvalidInput       = errors.New("entrada inválida")
	ErrForbidden          = errors.New("acceso denegado")
	ErrConflict           = errors.New("conflicto con el estado actual")
	ErrAllocationConflict = errors.New("conflicto en la reserva del número de control")
	ErrSigningFailed      = errors.New("falló la firma del documento")
	ErrOperationCanceled  = errors.New("operación cancelada antes de reservar número de control")
	ErrStaleTransition    = errors.New("el estado persistido no coincide con el estado origen de la transición")
)

// ValidationError describe una precondición estructural incumplida al construir
// un DTE. Nunca se reintenta: el caller debe corregir el dato y volver a emitir.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("documento inválido: campo %q: %s", e.Field, e.Reason)
}

// Invalid construye un ValidationError (atajo usado por el builder).
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ── Errores de envío al Ministerio de Hacienda ────────────────────────────────

// SubmissionCategory clasifica un fallo del cliente de recepción. La categoría
// decide la política: Transient se reintenta, Rejected es terminal y
// Unavailable activa el modo contingencia.
type SubmissionCategory string

const (
	SubmissionTransient   SubmissionCategory = "transient"
	SubmissionRejected    SubmissionCategory = "rejected"
	SubmissionUnavailable SubmissionCategory = "unavailable"
)

// SubmissionError es el error estructurado del puerto de envío.
type SubmissionError struct {
	Category     SubmissionCategory
	Message      string
	Observations []string // observaciones devueltas por Hacienda en un rechazo
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("envío DTE [%s]: %s", e.Category, e.Message)
}

// AsSubmissionError extrae un *SubmissionError de una cadena de errores.
func AsSubmissionError(err error) (*SubmissionError, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ── Errores de sincronización ─────────────────────────────────────────────────

// SyncIntegrityViolation señala que un estado terminal remoto y el local no
// coinciden para el mismo código de generación. Nunca se auto-resuelve: ambos
// registros se conservan y el conflicto se expone para conciliación manual.
type SyncIntegrityViolation struct {
	CompanyID  string
	DocumentID string
	LocalHash  string
	RemoteHash string
	LocalSeal  string
	RemoteSeal string
}

func (e *SyncIntegrityViolation) Error() string {
	if e.LocalHash == e.RemoteHash && e.LocalSeal != e.RemoteSeal {
		return fmt.Sprintf("integridad de sincronización violada: documento %s (sello local %s, remoto %s)",
			e.DocumentID, e.LocalSeal, e.RemoteSeal)
	}
	return fmt.Sprintf("integridad de sincronización violada: documento %s (hash local %s, remoto %s)",
		e.DocumentID, e.LocalHash, e.RemoteHash)
}
