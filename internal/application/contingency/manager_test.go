package contingency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	pkgdte "github.com/jhoicas/facturador-dte/pkg/dte"
	"github.com/jhoicas/facturador-dte/pkg/logger"
)

type memEvents struct {
	mu     sync.Mutex
	events map[string]*entity.ContingencyEvent
	closes []string // registra cada CloseEvent para detectar cierres dobles
}

func newMemEvents() *memEvents {
	return &memEvents{events: make(map[string]*entity.ContingencyEvent)}
}

func (m *memEvents) OpenEvent(_ context.Context, ev *entity.ContingencyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *memEvents) AppendGenerationCode(_ context.Context, eventID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return errors.New("evento inexistente")
	}
	ev.GenerationCodes = append(ev.GenerationCodes, code)
	return nil
}

func (m *memEvents) CloseEvent(_ context.Context, eventID string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes = append(m.closes, eventID)
	if ev, ok := m.events[eventID]; ok {
		ev.EndedAt = &endedAt
	}
	return nil
}

func (m *memEvents) MarkReported(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[eventID]; ok {
		ev.Reported = true
	}
	return nil
}

func (m *memEvents) GetEvent(_ context.Context, eventID string) (*entity.ContingencyEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (m *memEvents) ListByCompany(_ context.Context, companyID string) ([]*entity.ContingencyEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ContingencyEvent
	for _, ev := range m.events {
		if ev.CompanyID == companyID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeProber struct{ down bool }

func (p *fakeProber) Probe(context.Context) error {
	if p.down {
		return errors.New("sin conexión")
	}
	return nil
}

type fakeReporter struct {
	mu       sync.Mutex
	reported []*entity.ContingencyEvent
}

func (r *fakeReporter) ReportContingency(_ context.Context, ev *entity.ContingencyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, ev)
	return nil
}

type fakeReplayer struct {
	mu     sync.Mutex
	order  []string
	failOn string
}

func (r *fakeReplayer) ReplayQueued(_ context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, documentID)
	if documentID == r.failOn {
		return errors.New("reenvío rechazado")
	}
	return nil
}

func testManager() (*Manager, *memEvents, *fakeProber, *fakeReporter, *fakeReplayer, *time.Time) {
	store := newMemEvents()
	prober := &fakeProber{}
	reporter := &fakeReporter{}
	replayer := &fakeReplayer{}

	m := NewManager(store, prober, reporter, 3, 5*time.Minute, logger.New(logger.Config{Level: "error"}))
	m.BindReplayer(replayer)

	clock := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	seq := 0
	m.newID = func() string { seq++; return fmt.Sprintf("evt-%d", seq) }

	return m, store, prober, reporter, replayer, &clock
}

func company(id string) *entity.Company {
	return &entity.Company{ID: id, NIT: "06142905231028", EstablishmentCode: "M001", PointOfSaleCode: "P001"}
}

func TestVentanaDeslizante_UmbralDentroDeLaVentana(t *testing.T) {
	m, _, _, _, _, _ := testManager()

	assert.False(t, m.RecordTransientFailure())
	assert.False(t, m.RecordTransientFailure())
	assert.Equal(t, ModeOnline, m.Mode())

	assert.True(t, m.RecordTransientFailure(), "el tercer fallo dentro de la ventana activa contingencia")
	assert.Equal(t, ModeContingency, m.Mode())
}

func TestVentanaDeslizante_FallosViejosExpiran(t *testing.T) {
	m, _, _, _, _, clock := testManager()

	assert.False(t, m.RecordTransientFailure())
	assert.False(t, m.RecordTransientFailure())

	// los dos primeros fallos salen de la ventana de 5 minutos
	*clock = clock.Add(6 * time.Minute)

	assert.False(t, m.RecordTransientFailure(), "solo un fallo vigente: no cruza el umbral")
	assert.Equal(t, ModeOnline, m.Mode())
}

func TestEnqueue_AbreUnEventoPorEmpresaYLoReutiliza(t *testing.T) {
	m, store, _, _, _, _ := testManager()
	ctx := context.Background()
	m.NoteUnavailable(pkgdte.ContingenciaEnergia)

	ev1, err := m.Enqueue(ctx, company("emp-1"), "doc-a", "GEN-A")
	require.NoError(t, err)
	ev2, err := m.Enqueue(ctx, company("emp-1"), "doc-b", "GEN-B")
	require.NoError(t, err)
	assert.Equal(t, ev1, ev2, "la misma empresa reutiliza su evento abierto")

	ev3, err := m.Enqueue(ctx, company("emp-2"), "doc-c", "GEN-C")
	require.NoError(t, err)
	assert.NotEqual(t, ev1, ev3, "cada empresa lleva su propio evento")

	got, err := store.GetEvent(ctx, ev1)
	require.NoError(t, err)
	assert.Equal(t, []string{"GEN-A", "GEN-B"}, got.GenerationCodes)
	assert.Equal(t, pkgdte.ContingenciaEnergia, got.Reason)
	assert.Equal(t, 3, m.QueueLength())
}

func TestEnqueue_EstandoOnlineActivaContingencia(t *testing.T) {
	m, _, _, _, _, _ := testManager()

	_, err := m.Enqueue(context.Background(), company("emp-1"), "doc-a", "GEN-A")
	require.NoError(t, err)
	assert.Equal(t, ModeContingency, m.Mode(), "encolar implica que el servicio no está disponible")
}

func TestResumeOnline_SondeoFallidoNoTieneEfectos(t *testing.T) {
	m, store, prober, _, replayer, _ := testManager()
	ctx := context.Background()

	_, err := m.Enqueue(ctx, company("emp-1"), "doc-a", "GEN-A")
	require.NoError(t, err)

	prober.down = true
	assert.Error(t, m.ResumeOnline(ctx))

	assert.Equal(t, ModeContingency, m.Mode())
	assert.Empty(t, store.closes, "ningún evento se cierra mientras el sondeo falle")
	assert.Empty(t, replayer.order)
	assert.Equal(t, 1, m.QueueLength())
}

func TestResumeOnline_CierraReenviaFIFOYReporta(t *testing.T) {
	m, store, _, reporter, replayer, clock := testManager()
	ctx := context.Background()

	evID, err := m.Enqueue(ctx, company("emp-1"), "doc-a", "GEN-A")
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, company("emp-1"), "doc-b", "GEN-B")
	require.NoError(t, err)

	*clock = clock.Add(10 * time.Minute)
	require.NoError(t, m.ResumeOnline(ctx))

	assert.Equal(t, ModeOnline, m.Mode())
	assert.Equal(t, []string{"doc-a", "doc-b"}, replayer.order, "reenvío FIFO: el encolado primero sale primero")
	assert.Equal(t, 0, m.QueueLength())

	ev, err := store.GetEvent(ctx, evID)
	require.NoError(t, err)
	require.NotNil(t, ev.EndedAt, "el evento queda cerrado con timestamp de fin")
	assert.True(t, ev.Reported)
	require.Len(t, reporter.reported, 1)
	assert.Equal(t, evID, reporter.reported[0].ID)

	// una segunda reanudación es inocua: el cierre ocurre exactamente una vez
	require.NoError(t, m.ResumeOnline(ctx))
	assert.Equal(t, []string{evID}, store.closes)
}

func TestResumeOnline_UnReenvioFallidoNoDetieneLaCola(t *testing.T) {
	m, _, _, _, replayer, _ := testManager()
	ctx := context.Background()
	replayer.failOn = "doc-a"

	_, err := m.Enqueue(ctx, company("emp-1"), "doc-a", "GEN-A")
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, company("emp-1"), "doc-b", "GEN-B")
	require.NoError(t, err)

	require.NoError(t, m.ResumeOnline(ctx))
	assert.Equal(t, []string{"doc-a", "doc-b"}, replayer.order,
		"el fallo de un documento no bloquea el reenvío del resto")
}
