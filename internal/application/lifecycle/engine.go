package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturador-dte/internal/application/numbering"
	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/dte"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	pkgdte "github.com/jhoicas/facturador-dte/pkg/dte"
	"github.com/jhoicas/facturador-dte/pkg/logger"
)

var defaultIVA = decimal.RequireFromString(pkgdte.IVARateStr)

// DocumentHandle es la referencia durable que devuelve la emisión: en cuanto
// existe, el código de generación y el número de control están persistidos y
// sobreviven a un reinicio.
type DocumentHandle struct {
	DocumentID     string
	GenerationCode string
	ControlNumber  string
	Status         entity.DocumentStatus
}

// Deps son los colaboradores del motor. Todos los puertos son obligatorios
// salvo Gate (nil deshabilita contingencia, útil en dev sin servicio remoto).
type Deps struct {
	Tx          TxRunner
	Documents   DocumentStore
	Companies   CompanyStore
	Customers   CustomerStore
	Client      SubmissionClient
	Codec       SnapshotCodec
	Signer      Signer
	Credentials CredentialSource
	Gate        ContingencyGate
	Policy      Policy
	Log         *logger.Logger
}

// Engine orquesta el ciclo de vida completo de un DTE: reserva de correlativo,
// construcción del snapshot, firma, envío con reintentos, contingencia e
// invalidación. Serializa las operaciones por documento con un lock por ID;
// documentos distintos avanzan en paralelo.
type Engine struct {
	tx        TxRunner
	docs      DocumentStore
	companies CompanyStore
	customers CustomerStore
	client    SubmissionClient
	codec     SnapshotCodec
	signer    Signer
	creds     CredentialSource
	gate      ContingencyGate
	policy    Policy
	log       *logger.Logger

	alloc   *numbering.Allocator
	builder *dte.Builder
	hub     *statusHub
	locks   sync.Map // documentID -> *sync.Mutex

	// inyectables para tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
	now    func() time.Time
}

func NewEngine(d Deps) *Engine {
	if d.Policy.RetryAttempts == 0 {
		d.Policy = DefaultPolicy()
	}
	return &Engine{
		tx:        d.Tx,
		docs:      d.Documents,
		companies: d.Companies,
		customers: d.Customers,
		client:    d.Client,
		codec:     d.Codec,
		signer:    d.Signer,
		creds:     d.Credentials,
		gate:      d.Gate,
		policy:    d.Policy,
		log:       d.Log,
		alloc:     numbering.NewAllocator(),
		builder:   dte.NewBuilder(),
		hub:       newStatusHub(),
		sleep:     sleepCtx,
		jitter:    randomJitter,
		now:       time.Now,
	}
}

func (e *Engine) lockFor(documentID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(documentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ── Emisión ───────────────────────────────────────────────────────────────────

// CreateAndSubmit arranca la emisión de un borrador. Valida ANTES de reservar
// (un dato inválido nunca consume correlativo), reserva número de control y
// transiciona DRAFT→PENDING en una sola transacción, y retorna en cuanto esa
// transacción compromete. El envío continúa en segundo plano.
func (e *Engine) CreateAndSubmit(ctx context.Context, documentID string) (*DocumentHandle, error) {
	if ctx.Err() != nil {
		return nil, domain.ErrOperationCanceled
	}

	mu := e.lockFor(documentID)
	mu.Lock()

	inv, company, customer, items, err := e.loadBundle(ctx, documentID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if inv.Status != entity.StatusDraft {
		mu.Unlock()
		return nil, fmt.Errorf("%w: la emisión exige un borrador, el documento está en %s", domain.ErrConflict, inv.Status)
	}
	if err := e.builder.Validate(inv, company, customer, items); err != nil {
		mu.Unlock()
		return nil, err
	}
	// Punto de no retorno: pasada esta línea el correlativo puede consumirse.
	if ctx.Err() != nil {
		mu.Unlock()
		return nil, domain.ErrOperationCanceled
	}

	gen := dte.NewGenerationCode()
	var ctrl string
	err = e.tx.RunLifecycle(ctx, func(s Stores) error {
		var rerr error
		ctrl, rerr = e.alloc.Reserve(ctx, s.Sequences, company, inv.DocType)
		if rerr != nil {
			return rerr
		}
		return s.Documents.SaveTransition(ctx, &entity.Transition{
			ID:             uuid.NewString(),
			DocumentID:     inv.ID,
			From:           entity.StatusDraft,
			To:             entity.StatusPending,
			GenerationCode: gen,
			ControlNumber:  ctrl,
			OccurredAt:     e.now(),
		})
	})
	if err != nil {
		mu.Unlock()
		if ctx.Err() != nil {
			// La transacción abortó con el contexto: la reserva se revirtió
			// con ella, la serie queda sin huecos.
			return nil, domain.ErrOperationCanceled
		}
		return nil, err
	}

	inv.Status = entity.StatusPending
	inv.GenerationCode = gen
	inv.ControlNumber = ctrl
	mu.Unlock()

	e.log.Info().
		Str("document_id", inv.ID).
		Str("generation_code", gen).
		Str("control_number", ctrl).
		Msg("emisión iniciada")
	e.hub.notify(inv.ID, entity.StatusPending)
	e.dispatch(inv.ID)

	return &DocumentHandle{
		DocumentID:     inv.ID,
		GenerationCode: gen,
		ControlNumber:  ctrl,
		Status:         entity.StatusPending,
	}, nil
}

func (e *Engine) dispatch(documentID string) {
	if e.policy.SynchronousDispatch {
		e.process(context.Background(), documentID)
		return
	}
	go e.process(context.Background(), documentID)
}

// process ejecuta el pipeline de emisión de un documento en PENDING:
// construir, firmar y enviar, o encolar si hay contingencia activa.
func (e *Engine) process(ctx context.Context, documentID string) {
	mu := e.lockFor(documentID)
	mu.Lock()
	defer mu.Unlock()

	inv, company, customer, items, err := e.loadBundle(ctx, documentID)
	if err != nil {
		e.log.Error().Err(err).Str("document_id", documentID).Msg("no se pudo cargar el documento a procesar")
		return
	}
	if inv.Status != entity.StatusPending {
		// Reinicio o doble dispatch: el documento ya avanzó, no hay nada que hacer.
		e.log.Debug().Str("document_id", documentID).Str("status", string(inv.Status)).Msg("proceso omitido")
		return
	}

	if e.gate != nil && e.gate.InContingency() {
		e.queueContingency(ctx, inv, company)
		return
	}

	signed, err := e.prepare(inv, company, customer, items)
	if err != nil {
		e.markFailed(ctx, inv, err.Error())
		return
	}

	if err := e.transition(ctx, inv, entity.StatusSubmitted, func(t *entity.Transition) {
		t.SnapshotHash = inv.SnapshotHash
	}); err != nil {
		e.log.Error().Err(err).Str("document_id", inv.ID).Msg("no se pudo registrar SUBMITTED")
		return
	}

	e.submitWithRetry(ctx, inv, company, signed)
}

// prepare construye el snapshot, lo serializa y lo firma. No toca el estado.
func (e *Engine) prepare(inv *entity.Invoice, company *entity.Company, customer *entity.Customer, items []*entity.LineItem) (*SignedDocument, error) {
	snap, err := e.builder.Build(inv, company, customer, items, e.taxRate(items))
	if err != nil {
		return nil, err
	}
	payload, err := e.codec.Encode(snap)
	if err != nil {
		return nil, fmt.Errorf("serializar snapshot: %w", err)
	}
	inv.SnapshotHash = e.codec.Hash(payload)

	cred, err := e.creds.Load(company)
	if err != nil {
		return nil, fmt.Errorf("%w: credencial del emisor: %v", domain.ErrSigningFailed, err)
	}
	signedPayload, err := e.signer.Sign(payload, cred)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}

	return &SignedDocument{
		GenerationCode: inv.GenerationCode,
		ControlNumber:  inv.ControlNumber,
		DocType:        inv.DocType,
		IssuerNIT:      company.NIT,
		Ambiente:       snap.Identification.Ambiente,
		Payload:        signedPayload,
	}, nil
}

// queueContingency transiciona PENDING→CONTINGENCY_QUEUED y agrega el documento
// a la cola FIFO de reenvío. El marcador provisional CONTINGENCIA-{evento} queda
// apuntado en la transición; el sello real llega al reenviar.
func (e *Engine) queueContingency(ctx context.Context, inv *entity.Invoice, company *entity.Company) {
	eventID, err := e.gate.Enqueue(ctx, company, inv.ID, inv.GenerationCode)
	if err != nil {
		e.markFailed(ctx, inv, "no se pudo encolar en contingencia: "+err.Error())
		return
	}
	if err := e.transition(ctx, inv, entity.StatusContingencyQueued, func(t *entity.Transition) {
		t.ReceptionSeal = "CONTINGENCIA-" + eventID
	}); err != nil {
		e.log.Error().Err(err).Str("document_id", inv.ID).Msg("no se pudo registrar CONTINGENCY_QUEUED")
		return
	}
	e.log.Warn().
		Str("document_id", inv.ID).
		Str("contingency_event", eventID).
		Msg("documento emitido en contingencia, encolado para reenvío")
}

// submitWithRetry envía el documento firmado aplicando la política por
// categoría: transient reintenta con backoff, rejected falla de inmediato,
// unavailable activa contingencia y encola. El caller debe tener el lock.
func (e *Engine) submitWithRetry(ctx context.Context, inv *entity.Invoice, company *entity.Company, doc *SignedDocument) {
	for attempt := 1; ; attempt++ {
		res, err := e.client.Submit(ctx, doc)
		if err == nil {
			if res.Accepted && res.ReceptionSeal != "" {
				e.accept(ctx, inv, res.ReceptionSeal)
				return
			}
			// Nunca ACCEPTED sin sello: una respuesta positiva sin sello de
			// recepción se trata como rechazo.
			e.markFailed(ctx, inv, rejectionPayload("respuesta sin sello de recepción", res.Observations))
			return
		}

		se, ok := domain.AsSubmissionError(err)
		if !ok {
			e.markFailed(ctx, inv, err.Error())
			return
		}
		switch se.Category {
		case domain.SubmissionRejected:
			e.markFailed(ctx, inv, rejectionPayload(se.Message, se.Observations))
			return

		case domain.SubmissionUnavailable:
			if e.gate == nil {
				e.markFailed(ctx, inv, se.Message)
				return
			}
			e.gate.NoteUnavailable(pkgdte.ContingenciaSistemaMH)
			e.queueForReplay(ctx, inv, company)
			return

		case domain.SubmissionTransient:
			if e.gate != nil && e.gate.RecordTransientFailure() {
				// La ventana deslizante cruzó el umbral: el documento queda
				// SUBMITTED y se suma a la cola de reenvío.
				e.queueForReplay(ctx, inv, company)
				return
			}
			if attempt >= e.policy.RetryAttempts {
				e.markFailed(ctx, inv, fmt.Sprintf("agotados %d intentos: %s", attempt, se.Message))
				return
			}
			e.log.Warn().
				Str("document_id", inv.ID).
				Int("attempt", attempt).
				Str("cause", se.Message).
				Msg("fallo transitorio, se reintenta")
			if err := e.sleep(ctx, e.delay(attempt)); err != nil {
				e.log.Warn().Str("document_id", inv.ID).Msg("reintento interrumpido, el documento queda SUBMITTED")
				return
			}

		default:
			e.markFailed(ctx, inv, se.Message)
			return
		}
	}
}

// queueForReplay agrega un documento ya SUBMITTED a la cola de contingencia.
// No regresa de estado: SUBMITTED es más avanzado que CONTINGENCY_QUEUED.
func (e *Engine) queueForReplay(ctx context.Context, inv *entity.Invoice, company *entity.Company) {
	eventID, err := e.gate.Enqueue(ctx, company, inv.ID, inv.GenerationCode)
	if err != nil {
		e.log.Error().Err(err).Str("document_id", inv.ID).Msg("no se pudo encolar para reenvío")
		return
	}
	e.log.Warn().
		Str("document_id", inv.ID).
		Str("contingency_event", eventID).
		Msg("servicio de Hacienda no disponible, documento encolado")
}

func (e *Engine) accept(ctx context.Context, inv *entity.Invoice, seal string) {
	if err := e.transition(ctx, inv, entity.StatusAccepted, func(t *entity.Transition) {
		t.ReceptionSeal = seal
		t.SnapshotHash = inv.SnapshotHash
	}); err != nil {
		e.log.Error().Err(err).Str("document_id", inv.ID).Msg("no se pudo registrar ACCEPTED")
		return
	}
	inv.ReceptionSeal = seal
	e.log.Info().
		Str("document_id", inv.ID).
		Str("reception_seal", seal).
		Msg("DTE aceptado por Hacienda")
}

// ── Reenvío de cola de contingencia ───────────────────────────────────────────

// ReplayQueued reenvía un documento encolado durante una contingencia. Lo
// invoca el gestor de contingencia en orden FIFO al restablecerse el servicio.
func (e *Engine) ReplayQueued(ctx context.Context, documentID string) error {
	mu := e.lockFor(documentID)
	mu.Lock()
	defer mu.Unlock()

	inv, company, customer, items, err := e.loadBundle(ctx, documentID)
	if err != nil {
		return err
	}

	switch inv.Status {
	case entity.StatusContingencyQueued:
		// Se reconstruye y re-firma con la bandera de contingencia puesta.
		signed, perr := e.prepare(inv, company, customer, items)
		if perr != nil {
			e.markFailed(ctx, inv, perr.Error())
			return perr
		}
		if terr := e.transition(ctx, inv, entity.StatusSubmitted, func(t *entity.Transition) {
			t.SnapshotHash = inv.SnapshotHash
		}); terr != nil {
			return terr
		}
		e.submitWithRetry(ctx, inv, company, signed)
		return nil

	case entity.StatusSubmitted:
		// Quedó entregado sin respuesta; se reenvía tal cual (el servicio es
		// idempotente por código de generación).
		signed, perr := e.prepare(inv, company, customer, items)
		if perr != nil {
			e.markFailed(ctx, inv, perr.Error())
			return perr
		}
		e.submitWithRetry(ctx, inv, company, signed)
		return nil

	default:
		// Ya terminal o todavía en proceso: nada que reenviar.
		return nil
	}
}

// ── Reintento manual ──────────────────────────────────────────────────────────

// Retry reintenta un documento en FAILED. Reutiliza el código de generación y
// el número de control ya asignados: jamás se reserva un correlativo nuevo.
func (e *Engine) Retry(ctx context.Context, documentID string) (*DocumentHandle, error) {
	mu := e.lockFor(documentID)
	mu.Lock()

	inv, err := e.docs.LoadInvoice(ctx, documentID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if inv == nil {
		mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if inv.Status != entity.StatusFailed {
		mu.Unlock()
		return nil, fmt.Errorf("%w: solo un documento FAILED admite reintento, está en %s", domain.ErrConflict, inv.Status)
	}
	if inv.GenerationCode == "" || inv.ControlNumber == "" {
		mu.Unlock()
		return nil, fmt.Errorf("%w: el documento falló antes de reservar número de control; emita de nuevo", domain.ErrConflict)
	}

	if err := e.transition(ctx, inv, entity.StatusPending, nil); err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	e.log.Info().Str("document_id", inv.ID).Msg("reintento manual: FAILED→PENDING")
	e.dispatch(inv.ID)

	return &DocumentHandle{
		DocumentID:     inv.ID,
		GenerationCode: inv.GenerationCode,
		ControlNumber:  inv.ControlNumber,
		Status:         entity.StatusPending,
	}, nil
}

// Abandon renuncia definitivamente a un documento FAILED: su número de control
// queda registrado como correlativo anulado, de modo que el hueco de la serie
// está declarado y es auditable. El documento permanece en FAILED; abandonar y
// luego reintentar es un error operativo que el reporte de anulados delata.
func (e *Engine) Abandon(ctx context.Context, documentID, reason string) error {
	mu := e.lockFor(documentID)
	mu.Lock()
	defer mu.Unlock()

	inv, err := e.docs.LoadInvoice(ctx, documentID)
	if err != nil {
		return err
	}
	if inv == nil {
		return domain.ErrNotFound
	}
	if inv.Status != entity.StatusFailed {
		return fmt.Errorf("%w: solo un documento FAILED admite abandono, está en %s", domain.ErrConflict, inv.Status)
	}
	if inv.ControlNumber == "" {
		return fmt.Errorf("%w: el documento falló sin número de control, no hay correlativo que anular", domain.ErrConflict)
	}
	company, err := e.companies.GetByID(ctx, inv.CompanyID)
	if err != nil {
		return err
	}
	if company == nil {
		return fmt.Errorf("%w: emisor %s", domain.ErrNotFound, inv.CompanyID)
	}

	if err := e.tx.RunLifecycle(ctx, func(s Stores) error {
		return e.alloc.Void(ctx, s.Sequences, company, inv.DocType, inv.ControlNumber, reason)
	}); err != nil {
		return err
	}

	e.log.Warn().
		Str("document_id", inv.ID).
		Str("control_number", inv.ControlNumber).
		Str("reason", reason).
		Msg("documento abandonado, correlativo marcado como anulado")
	return nil
}

// ── Invalidación ──────────────────────────────────────────────────────────────

// Invalidate solicita a Hacienda la invalidación de un DTE aceptado. Es
// síncrona: un rechazo o un error de red dejan el documento en ACCEPTED y el
// error se devuelve al caller.
func (e *Engine) Invalidate(ctx context.Context, documentID string, reason *dte.ReasonBlock) (*InvalidationResult, error) {
	mu := e.lockFor(documentID)
	mu.Lock()
	defer mu.Unlock()

	inv, err := e.docs.LoadInvoice(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	if inv.Status != entity.StatusAccepted {
		return nil, fmt.Errorf("%w: solo un DTE aceptado puede invalidarse, está en %s", domain.ErrConflict, inv.Status)
	}
	company, err := e.companies.GetByID(ctx, inv.CompanyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, domain.ErrNotFound
	}

	snap, err := e.builder.BuildInvalidation(inv, company, reason)
	if err != nil {
		return nil, err
	}
	payload, err := e.codec.Encode(snap)
	if err != nil {
		return nil, fmt.Errorf("serializar evento de invalidación: %w", err)
	}
	cred, err := e.creds.Load(company)
	if err != nil {
		return nil, fmt.Errorf("%w: credencial del emisor: %v", domain.ErrSigningFailed, err)
	}
	signedPayload, err := e.signer.Sign(payload, cred)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}

	res, err := e.client.Invalidate(ctx, &SignedDocument{
		GenerationCode: snap.Identification.GenerationCode,
		ControlNumber:  inv.ControlNumber,
		DocType:        inv.DocType,
		IssuerNIT:      company.NIT,
		Ambiente:       snap.Identification.Ambiente,
		Payload:        signedPayload,
	})
	if err != nil {
		return nil, err
	}
	if !res.Accepted {
		return res, &domain.SubmissionError{
			Category:     domain.SubmissionRejected,
			Message:      "Hacienda rechazó la invalidación",
			Observations: res.Observations,
		}
	}

	if err := e.transition(ctx, inv, entity.StatusInvalidated, func(t *entity.Transition) {
		t.ReceptionSeal = res.Seal
	}); err != nil {
		return nil, err
	}
	inv.Invalidated = true
	e.log.Info().
		Str("document_id", inv.ID).
		Str("invalidation_seal", res.Seal).
		Msg("DTE invalidado")
	return res, nil
}

// ── Consulta y reconciliación ─────────────────────────────────────────────────

// Status devuelve el estado local persistido del documento.
func (e *Engine) Status(ctx context.Context, documentID string) (entity.DocumentStatus, error) {
	inv, err := e.docs.LoadInvoice(ctx, documentID)
	if err != nil {
		return "", err
	}
	if inv == nil {
		return "", domain.ErrNotFound
	}
	return inv.Status, nil
}

// Reconcile consulta el estado remoto de un documento SUBMITTED cuya respuesta
// se perdió. Si Hacienda ya lo aceptó, se reenvía para recuperar el sello (el
// servicio es idempotente por código de generación); si lo marcó fallido, se
// registra el fallo local.
func (e *Engine) Reconcile(ctx context.Context, documentID string) error {
	mu := e.lockFor(documentID)
	mu.Lock()

	inv, company, customer, items, err := e.loadBundle(ctx, documentID)
	if err != nil {
		mu.Unlock()
		return err
	}
	if inv.Status != entity.StatusSubmitted {
		mu.Unlock()
		return fmt.Errorf("%w: la reconciliación aplica a documentos SUBMITTED, está en %s", domain.ErrConflict, inv.Status)
	}

	remote, err := e.client.QueryStatus(ctx, inv.GenerationCode)
	if err != nil {
		mu.Unlock()
		return err
	}

	switch remote {
	case entity.StatusAccepted:
		signed, perr := e.prepare(inv, company, customer, items)
		if perr != nil {
			e.markFailed(ctx, inv, perr.Error())
			mu.Unlock()
			return perr
		}
		e.submitWithRetry(ctx, inv, company, signed)
		mu.Unlock()
		return nil
	case entity.StatusFailed:
		e.markFailed(ctx, inv, "Hacienda reporta el envío como fallido")
		mu.Unlock()
		return nil
	default:
		mu.Unlock()
		return nil
	}
}

// Export reconstruye, serializa y firma el XML del documento para descarga o
// archivo fiscal. Exige que el número de control ya esté asignado; el
// resultado es byte a byte el mismo documento que viajó (el codec es
// determinista y la identidad fiscal no cambia tras la reserva).
func (e *Engine) Export(ctx context.Context, documentID string) ([]byte, error) {
	mu := e.lockFor(documentID)
	mu.Lock()
	defer mu.Unlock()

	inv, company, customer, items, err := e.loadBundle(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if inv.ControlNumber == "" {
		return nil, fmt.Errorf("%w: el documento aún no tiene número de control asignado", domain.ErrConflict)
	}
	signed, err := e.prepare(inv, company, customer, items)
	if err != nil {
		return nil, err
	}
	return signed.Payload, nil
}

// SubscribeStatusChanges entrega un canal con cada cambio de estado persistido
// del documento. El canal se cierra al alcanzar un estado terminal o al
// invocar el cancel devuelto.
func (e *Engine) SubscribeStatusChanges(documentID string) (<-chan entity.DocumentStatus, func()) {
	return e.hub.subscribe(documentID)
}

// WatchStatus se suscribe al documento y devuelve el estado persistido leído
// DESPUÉS de la suscripción. Una transición que aterrice tras la foto llega
// por el canal; una que aterrizó justo antes aparece en la foto: ningún
// cambio se pierde. Si la foto ya es terminal el caller debe cortar ahí, pues
// el hub ya cerró los canales del documento y el devuelto no recibirá nada.
func (e *Engine) WatchStatus(ctx context.Context, documentID string) (entity.DocumentStatus, <-chan entity.DocumentStatus, func(), error) {
	ch, cancel := e.hub.subscribe(documentID)
	st, err := e.Status(ctx, documentID)
	if err != nil {
		cancel()
		return "", nil, nil, err
	}
	return st, ch, cancel, nil
}

// ── Internos ──────────────────────────────────────────────────────────────────

// loadBundle carga el documento y sus colaboradores. ErrNotFound si falta
// cualquiera de ellos.
func (e *Engine) loadBundle(ctx context.Context, documentID string) (*entity.Invoice, *entity.Company, *entity.Customer, []*entity.LineItem, error) {
	inv, err := e.docs.LoadInvoice(ctx, documentID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if inv == nil {
		return nil, nil, nil, nil, domain.ErrNotFound
	}
	company, err := e.companies.GetByID(ctx, inv.CompanyID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if company == nil {
		return nil, nil, nil, nil, fmt.Errorf("%w: emisor %s", domain.ErrNotFound, inv.CompanyID)
	}
	customer, err := e.customers.GetByID(ctx, inv.CustomerID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if customer == nil {
		return nil, nil, nil, nil, fmt.Errorf("%w: receptor %s", domain.ErrNotFound, inv.CustomerID)
	}
	items, err := e.docs.LoadLineItems(ctx, documentID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return inv, company, customer, items, nil
}

// transition persiste una transición con guarda optimista, actualiza la copia
// en memoria y notifica a los suscriptores (siempre después del commit).
func (e *Engine) transition(ctx context.Context, inv *entity.Invoice, to entity.DocumentStatus, fill func(*entity.Transition)) error {
	if !entity.CanTransition(inv.Status, to) {
		return fmt.Errorf("%w: transición ilegal %s→%s", domain.ErrConflict, inv.Status, to)
	}
	t := &entity.Transition{
		ID:         uuid.NewString(),
		DocumentID: inv.ID,
		From:       inv.Status,
		To:         to,
		OccurredAt: e.now(),
	}
	if fill != nil {
		fill(t)
	}
	if err := e.docs.SaveTransition(ctx, t); err != nil {
		return err
	}
	inv.Status = to
	e.hub.notify(inv.ID, to)
	return nil
}

func (e *Engine) markFailed(ctx context.Context, inv *entity.Invoice, payload string) {
	if err := e.transition(ctx, inv, entity.StatusFailed, func(t *entity.Transition) {
		t.ErrorPayload = payload
		t.SnapshotHash = inv.SnapshotHash
	}); err != nil {
		e.log.Error().Err(err).Str("document_id", inv.ID).Msg("no se pudo registrar FAILED")
		return
	}
	inv.LastError = payload
	e.log.Error().
		Str("document_id", inv.ID).
		Str("cause", payload).
		Msg("emisión fallida")
}

func (e *Engine) taxRate(items []*entity.LineItem) decimal.Decimal {
	for _, it := range items {
		if !it.TaxRate.IsZero() {
			return it.TaxRate
		}
	}
	return defaultIVA
}

func rejectionPayload(msg string, observations []string) string {
	if len(observations) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(observations, "; ")
}
