// Package contingency gobierna el modo de operación del emisor: Online cuando
// el servicio de recepción responde, Contingency cuando no. En contingencia
// los documentos se entregan al receptor con marcador provisional y quedan en
// una cola FIFO que se reenvía al restablecerse el servicio.
package contingency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	pkgdte "github.com/jhoicas/facturador-dte/pkg/dte"
	"github.com/jhoicas/facturador-dte/pkg/logger"
)

// Mode es el modo de operación del emisor.
type Mode string

const (
	ModeOnline      Mode = "ONLINE"
	ModeContingency Mode = "CONTINGENCY"
)

// EventStore persiste los eventos de contingencia. Los eventos son el registro
// fiscal del período sin servicio y de los DTE emitidos durante él.
type EventStore interface {
	OpenEvent(ctx context.Context, ev *entity.ContingencyEvent) error
	AppendGenerationCode(ctx context.Context, eventID, generationCode string) error
	CloseEvent(ctx context.Context, eventID string, endedAt time.Time) error
	MarkReported(ctx context.Context, eventID string) error
	GetEvent(ctx context.Context, eventID string) (*entity.ContingencyEvent, error)
	ListByCompany(ctx context.Context, companyID string) ([]*entity.ContingencyEvent, error)
}

// HealthProber verifica si el servicio de recepción volvió. Lo implementa el
// cliente de Hacienda con un endpoint liviano de salud.
type HealthProber interface {
	Probe(ctx context.Context) error
}

// WindowReporter informa a Hacienda la ventana de contingencia cerrada
// (obligación normativa tras restablecerse el servicio).
type WindowReporter interface {
	ReportContingency(ctx context.Context, ev *entity.ContingencyEvent) error
}

// Replayer reenvía un documento encolado. Lo implementa el motor de ciclo de
// vida; se inyecta después de construir ambos para romper la dependencia
// circular del cableado.
type Replayer interface {
	ReplayQueued(ctx context.Context, documentID string) error
}

type queuedDoc struct {
	companyID      string
	documentID     string
	generationCode string
	enqueuedAt     time.Time
}

// Manager mantiene el modo de operación, la ventana deslizante de fallos
// transitorios y la cola FIFO de reenvío. Seguro para uso concurrente.
type Manager struct {
	store    EventStore
	prober   HealthProber
	reporter WindowReporter
	log      *logger.Logger

	threshold int
	window    time.Duration

	mu         sync.Mutex
	mode       Mode
	reason     string
	failures   []time.Time
	openEvents map[string]string // companyID → eventID del evento abierto
	queue      []queuedDoc

	replayer Replayer

	now   func() time.Time
	newID func() string
}

// NewManager crea el gestor en modo Online. threshold y window definen la
// ventana deslizante: threshold fallos transitorios dentro de window activan
// la contingencia.
func NewManager(store EventStore, prober HealthProber, reporter WindowReporter, threshold int, window time.Duration, log *logger.Logger) *Manager {
	if threshold < 1 {
		threshold = 3
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Manager{
		store:      store,
		prober:     prober,
		reporter:   reporter,
		log:        log,
		threshold:  threshold,
		window:     window,
		mode:       ModeOnline,
		openEvents: make(map[string]string),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// BindReplayer inyecta el motor de reenvío. Debe llamarse antes de arrancar
// Watch; se separa del constructor porque el motor también depende del gestor.
func (m *Manager) BindReplayer(r Replayer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayer = r
}

// Mode devuelve el modo de operación actual.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// InContingency implementa lifecycle.ContingencyGate.
func (m *Manager) InContingency() bool {
	return m.Mode() == ModeContingency
}

// QueueLength expone el tamaño de la cola de reenvío (observabilidad).
func (m *Manager) QueueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// RecordTransientFailure registra un fallo transitorio en la ventana
// deslizante. Devuelve true si este fallo cruzó el umbral y activó la
// contingencia (causa: conexión a internet).
func (m *Manager) RecordTransientFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == ModeContingency {
		return false
	}
	now := m.now()
	m.failures = append(m.failures, now)
	m.prune(now)
	if len(m.failures) >= m.threshold {
		m.enterLocked(pkgdte.ContingenciaInternet)
		return true
	}
	return false
}

// prune descarta los fallos que salieron de la ventana. Requiere el lock.
func (m *Manager) prune(now time.Time) {
	cutoff := now.Add(-m.window)
	kept := m.failures[:0]
	for _, t := range m.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.failures = kept
}

// NoteUnavailable fuerza la entrada en contingencia con la causa dada
// (catálogo CAT-005). Idempotente si ya está activa.
func (m *Manager) NoteUnavailable(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enterLocked(reason)
}

// enterLocked activa el modo contingencia. Requiere el lock.
func (m *Manager) enterLocked(reason string) {
	if m.mode == ModeContingency {
		return
	}
	m.mode = ModeContingency
	m.reason = reason
	m.failures = nil
	m.log.Warn().Str("reason", reason).Msg("modo contingencia activado")
}

// Enqueue agrega un documento a la cola FIFO de reenvío y lo asocia al evento
// de contingencia abierto de su empresa (abriéndolo si es el primero).
// Devuelve el ID del evento. Si el gestor estaba Online, entra en contingencia
// primero: encolar implica que el servicio no está disponible.
func (m *Manager) Enqueue(ctx context.Context, company *entity.Company, documentID, generationCode string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enterLocked(pkgdte.ContingenciaSistemaMH)

	eventID, ok := m.openEvents[company.ID]
	if !ok {
		ev := &entity.ContingencyEvent{
			ID:        m.newID(),
			CompanyID: company.ID,
			Reason:    m.reason,
			StartedAt: m.now(),
		}
		if err := m.store.OpenEvent(ctx, ev); err != nil {
			return "", err
		}
		eventID = ev.ID
		m.openEvents[company.ID] = eventID
		m.log.Warn().
			Str("company_id", company.ID).
			Str("contingency_event", eventID).
			Msg("evento de contingencia abierto")
	}

	if err := m.store.AppendGenerationCode(ctx, eventID, generationCode); err != nil {
		return "", err
	}
	m.queue = append(m.queue, queuedDoc{
		companyID:      company.ID,
		documentID:     documentID,
		generationCode: generationCode,
		enqueuedAt:     m.now(),
	})
	return eventID, nil
}

// ResumeOnline intenta salir de contingencia: sondea el servicio y, si
// responde, cierra los eventos abiertos (exactamente una vez), reenvía la cola
// en orden FIFO y reporta cada ventana cerrada a Hacienda. Si el sondeo falla
// el gestor permanece en contingencia sin efectos secundarios.
func (m *Manager) ResumeOnline(ctx context.Context) error {
	if err := m.prober.Probe(ctx); err != nil {
		m.log.Debug().Err(err).Msg("el servicio de recepción sigue sin responder")
		return err
	}

	m.mu.Lock()
	if m.mode == ModeOnline {
		m.mu.Unlock()
		return nil
	}
	// Salir de contingencia antes de reenviar: los reenvíos deben ir por la
	// vía online o volverían a encolarse.
	m.mode = ModeOnline
	m.reason = ""
	m.failures = nil
	pending := m.queue
	m.queue = nil
	closed := m.openEvents
	m.openEvents = make(map[string]string)
	replayer := m.replayer
	endedAt := m.now()
	m.mu.Unlock()

	m.log.Info().Int("queued", len(pending)).Msg("servicio restablecido, reenviando cola de contingencia")

	for _, eventID := range closed {
		if err := m.store.CloseEvent(ctx, eventID, endedAt); err != nil {
			m.log.Error().Err(err).Str("contingency_event", eventID).Msg("no se pudo cerrar el evento")
		}
	}

	// FIFO estricto: un documento encolado antes se reenvía antes.
	for _, d := range pending {
		if replayer == nil {
			break
		}
		if err := replayer.ReplayQueued(ctx, d.documentID); err != nil {
			// El motor ya dejó el documento en FAILED o reencolado; se sigue
			// con el resto de la cola.
			m.log.Error().Err(err).Str("document_id", d.documentID).Msg("reenvío fallido")
		}
	}

	for _, eventID := range closed {
		ev, err := m.store.GetEvent(ctx, eventID)
		if err != nil || ev == nil {
			m.log.Error().Err(err).Str("contingency_event", eventID).Msg("no se pudo cargar el evento a reportar")
			continue
		}
		if err := m.reporter.ReportContingency(ctx, ev); err != nil {
			m.log.Error().Err(err).Str("contingency_event", eventID).Msg("no se pudo reportar la ventana de contingencia")
			continue
		}
		if err := m.store.MarkReported(ctx, eventID); err != nil {
			m.log.Error().Err(err).Str("contingency_event", eventID).Msg("no se pudo marcar el evento como reportado")
		}
	}
	return nil
}

// Watch sondea periódicamente mientras haya contingencia activa y dispara
// ResumeOnline cuando el servicio vuelve. Retorna al cancelarse el contexto.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.InContingency() {
				_ = m.ResumeOnline(ctx)
			}
		}
	}
}

// Events lista los eventos de contingencia de una empresa (abiertos y
// cerrados) para el reporte fiscal.
func (m *Manager) Events(ctx context.Context, companyID string) ([]*entity.ContingencyEvent, error) {
	return m.store.ListByCompany(ctx, companyID)
}
