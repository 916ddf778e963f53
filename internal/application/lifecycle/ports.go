package lifecycle

import (
	"context"
	"crypto/tls"

	"github.com/jhoicas/facturador-dte/internal/application/numbering"
	"github.com/jhoicas/facturador-dte/internal/domain/dte"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

// ── Puerto de envío a Hacienda ────────────────────────────────────────────────

// SignedDocument es el blob firmado que viaja al servicio de recepción. El
// esquema del payload es un contrato externo opaco: el motor solo lo produce
// con el codec y lo entrega.
type SignedDocument struct {
	GenerationCode string
	ControlNumber  string
	DocType        string
	IssuerNIT      string
	Ambiente       string
	Payload        []byte // snapshot canónico con la firma inyectada
}

// SubmissionResult es la respuesta de Hacienda a un envío.
type SubmissionResult struct {
	Accepted      bool
	ReceptionSeal string
	Observations  []string
}

// InvalidationResult es la respuesta a una solicitud de invalidación.
type InvalidationResult struct {
	Accepted     bool
	Seal         string
	Observations []string
}

// SubmissionClient es el puerto de salida hacia el servicio de recepción del
// Ministerio de Hacienda. La implementación concreta vive en infraestructura;
// para tests se inyecta un fake. Los errores se reportan como
// *domain.SubmissionError con categoría transient | rejected | unavailable.
type SubmissionClient interface {
	Submit(ctx context.Context, doc *SignedDocument) (*SubmissionResult, error)
	QueryStatus(ctx context.Context, generationCode string) (entity.DocumentStatus, error)
	Invalidate(ctx context.Context, doc *SignedDocument) (*InvalidationResult, error)
}

// ── Codec y firma ─────────────────────────────────────────────────────────────

// SnapshotCodec serializa un snapshot a su representación canónica firmable y
// calcula el hash de contenido que usa la sincronización.
type SnapshotCodec interface {
	Encode(s *dte.DocumentSnapshot) ([]byte, error)
	Hash(payload []byte) string
}

// Signer produce la firma sobre los bytes del snapshot. Función pura sobre
// bytes: sin red, sin estado. La credencial la aporta el caller en cada
// llamada; el motor nunca la cachea.
type Signer interface {
	Sign(payload []byte, cred tls.Certificate) ([]byte, error)
}

// CredentialSource resuelve la credencial de firma de un emisor. La gestión
// del ciclo de vida de la llave es un asunto externo al motor.
type CredentialSource interface {
	Load(company *entity.Company) (tls.Certificate, error)
}

// ── Persistencia ──────────────────────────────────────────────────────────────

// DocumentStore es el puerto de persistencia de documentos. SaveTransition
// debe ser atómico y con guarda optimista: si el estado persistido no coincide
// con t.From, retorna domain.ErrStaleTransition y no deja transición parcial
// visible. Cada transición se apunta además al audit trail append-only.
type DocumentStore interface {
	LoadInvoice(ctx context.Context, id string) (*entity.Invoice, error)
	LoadLineItems(ctx context.Context, invoiceID string) ([]*entity.LineItem, error)
	SaveTransition(ctx context.Context, t *entity.Transition) error
}

// CompanyStore y CustomerStore son lecturas de colaboradores externos; el
// motor los referencia por valor y nunca los muta.
type CompanyStore interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

type CustomerStore interface {
	GetByID(ctx context.Context, id string) (*entity.Customer, error)
}

// Stores agrupa los repositorios disponibles dentro de una transacción de
// ciclo de vida (reserva de correlativo + transición inicial).
type Stores struct {
	Documents DocumentStore
	Sequences numbering.SequenceStore
}

// TxRunner ejecuta fn dentro de una transacción: o la reserva del número de
// control y la transición DRAFT→PENDING se persisten juntas, o ninguna.
type TxRunner interface {
	RunLifecycle(ctx context.Context, fn func(s Stores) error) error
}

// ── Contingencia ──────────────────────────────────────────────────────────────

// ContingencyGate es la vista del gestor de contingencia que necesita el motor.
type ContingencyGate interface {
	// InContingency indica si la emisión debe encolarse en lugar de enviarse.
	InContingency() bool
	// RecordTransientFailure registra un fallo transitorio y devuelve true si
	// el umbral dentro de la ventana deslizante activó el modo contingencia.
	RecordTransientFailure() bool
	// NoteUnavailable fuerza la entrada en contingencia (AuthorityUnavailable).
	NoteUnavailable(reason string)
	// Enqueue agrega el documento a la cola FIFO de reenvío y devuelve el ID
	// del evento de contingencia abierto para la empresa.
	Enqueue(ctx context.Context, company *entity.Company, documentID, generationCode string) (string, error)
}
