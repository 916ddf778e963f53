package syncer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-dte/internal/application/syncer"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	"github.com/jhoicas/facturador-dte/pkg/logger"
)

type memChangeLog struct {
	mu       sync.Mutex
	records  []*entity.ChangeRecord // cambios locales pendientes de push
	current  map[string]*entity.ChangeRecord
	applied  []*entity.ChangeRecord
	pushed   []string
	cursor   int64
}

func newMemChangeLog() *memChangeLog {
	return &memChangeLog{current: make(map[string]*entity.ChangeRecord)}
}

func key(companyID, documentID string) string { return companyID + "/" + documentID }

func (m *memChangeLog) Pending(context.Context) ([]*entity.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ChangeRecord
	for _, r := range m.records {
		if !r.Pushed {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memChangeLog) MarkPushed(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
		m.pushed = append(m.pushed, id)
	}
	for _, r := range m.records {
		if set[r.ID] {
			r.Pushed = true
		}
	}
	return nil
}

func (m *memChangeLog) Current(_ context.Context, companyID, documentID string) (*entity.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.current[key(companyID, documentID)]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *memChangeLog) ApplyRemote(_ context.Context, rec *entity.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.current[key(rec.CompanyID, rec.DocumentID)] = &cp
	m.applied = append(m.applied, &cp)
	return nil
}

func (m *memChangeLog) LastPulledRevision(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *memChangeLog) SetLastPulledRevision(_ context.Context, rev int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = rev
	return nil
}

func (m *memChangeLog) setLocal(rec *entity.ChangeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[key(rec.CompanyID, rec.DocumentID)] = rec
}

type memTransport struct {
	mu       sync.Mutex
	received []*entity.ChangeRecord
	remote   []*entity.ChangeRecord
	cursor   int64
}

func (t *memTransport) Push(_ context.Context, recs []*entity.ChangeRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received = append(t.received, recs...)
	return nil
}

func (t *memTransport) Pull(_ context.Context, since int64) ([]*entity.ChangeRecord, int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*entity.ChangeRecord
	for _, r := range t.remote {
		if r.Revision > since {
			out = append(out, r)
		}
	}
	return out, t.cursor, nil
}

type memDirectory struct{ production map[string]bool }

func (d *memDirectory) IsProduction(_ context.Context, companyID string) (bool, error) {
	return d.production[companyID], nil
}

func rec(id, companyID, documentID string, revision int64, status entity.DocumentStatus, hash string) *entity.ChangeRecord {
	return &entity.ChangeRecord{
		ID:         id,
		CompanyID:  companyID,
		DocumentID: documentID,
		Revision:   revision,
		Status:     status,
		ContentHash: hash,
	}
}

func newCoordinator(log *memChangeLog, transport *memTransport) *syncer.Coordinator {
	dir := &memDirectory{production: map[string]bool{"emp-prod": true, "emp-sandbox": false}}
	return syncer.NewCoordinator(log, transport, dir, logger.New(logger.Config{Level: "error"}))
}

func TestPush_EmpujaSoloProduccion(t *testing.T) {
	log := newMemChangeLog()
	transport := &memTransport{}
	log.records = []*entity.ChangeRecord{
		rec("c1", "emp-prod", "doc-1", 1, entity.StatusAccepted, "h1"),
		rec("c2", "emp-sandbox", "doc-2", 2, entity.StatusAccepted, "h2"),
		rec("c3", "emp-prod", "doc-3", 3, entity.StatusSubmitted, "h3"),
	}

	res, err := newCoordinator(log, transport).Push(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pushed)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, transport.received, 2)
	for _, r := range transport.received {
		assert.Equal(t, "emp-prod", r.CompanyID, "un documento sandbox jamás sale del dispositivo")
	}
	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, log.pushed,
		"los sandbox se marcan como procesados para no reacumularse")
}

func TestPull_DocumentoNuevoSeIncorpora(t *testing.T) {
	log := newMemChangeLog()
	transport := &memTransport{
		remote: []*entity.ChangeRecord{rec("r1", "emp-prod", "doc-9", 7, entity.StatusAccepted, "h9")},
		cursor: 7,
	}

	res, err := newCoordinator(log, transport).Pull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Applied)
	require.Len(t, log.applied, 1)
	assert.Equal(t, "doc-9", log.applied[0].DocumentID)

	cur, _ := log.LastPulledRevision(context.Background())
	assert.EqualValues(t, 7, cur, "el cursor avanza tras aplicar")
}

func TestPull_GanaElEstadoMasAvanzado(t *testing.T) {
	log := newMemChangeLog()
	log.setLocal(rec("l1", "emp-prod", "doc-1", 1, entity.StatusSubmitted, ""))
	transport := &memTransport{
		remote: []*entity.ChangeRecord{rec("r1", "emp-prod", "doc-1", 5, entity.StatusAccepted, "h1")},
		cursor: 5,
	}

	res, err := newCoordinator(log, transport).Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Empty(t, res.Violations)
}

func TestPull_RemotoAtrasadoSeIgnora(t *testing.T) {
	log := newMemChangeLog()
	log.setLocal(rec("l1", "emp-prod", "doc-1", 1, entity.StatusSubmitted, ""))
	transport := &memTransport{
		remote: []*entity.ChangeRecord{rec("r1", "emp-prod", "doc-1", 5, entity.StatusPending, "")},
		cursor: 5,
	}

	res, err := newCoordinator(log, transport).Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, log.applied, "un estado menos avanzado nunca pisa al local")
}

func TestPull_TerminalesIdenticosNoHacenNada(t *testing.T) {
	log := newMemChangeLog()
	log.setLocal(rec("l1", "emp-prod", "doc-1", 1, entity.StatusAccepted, "mismohash"))
	transport := &memTransport{
		remote: []*entity.ChangeRecord{rec("r1", "emp-prod", "doc-1", 5, entity.StatusAccepted, "mismohash")},
		cursor: 5,
	}

	res, err := newCoordinator(log, transport).Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Violations)
}

func TestPull_TerminalesDivergentesSonViolacion(t *testing.T) {
	log := newMemChangeLog()
	log.setLocal(rec("l1", "emp-prod", "doc-1", 1, entity.StatusAccepted, "hash-local"))
	transport := &memTransport{
		remote: []*entity.ChangeRecord{rec("r1", "emp-prod", "doc-1", 5, entity.StatusAccepted, "hash-remoto")},
		cursor: 5,
	}

	res, err := newCoordinator(log, transport).Pull(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Violations, 1)
	v := res.Violations[0]
	assert.Equal(t, "doc-1", v.DocumentID)
	assert.Equal(t, "hash-local", v.LocalHash)
	assert.Equal(t, "hash-remoto", v.RemoteHash)
	assert.Empty(t, log.applied, "una violación de integridad jamás se auto-resuelve")
}

func TestPull_SellosDivergentesConMismoHashSonViolacion(t *testing.T) {
	log := newMemChangeLog()
	local := rec("l1", "emp-prod", "doc-1", 1, entity.StatusAccepted, "HASH-IGUAL")
	local.ReceptionSeal = "SELLO-LOCAL"
	log.setLocal(local)
	remote := rec("r1", "emp-prod", "doc-1", 5, entity.StatusAccepted, "HASH-IGUAL")
	remote.ReceptionSeal = "SELLO-REMOTO"
	transport := &memTransport{remote: []*entity.ChangeRecord{remote}, cursor: 5}

	res, err := newCoordinator(log, transport).Pull(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Violations, 1,
		"el hash cubre el snapshot previo al envío; dos sellos distintos son dos aceptaciones diferentes")
	v := res.Violations[0]
	assert.Equal(t, "doc-1", v.DocumentID)
	assert.Equal(t, "SELLO-LOCAL", v.LocalSeal)
	assert.Equal(t, "SELLO-REMOTO", v.RemoteSeal)
	assert.Empty(t, log.applied, "una violación de integridad jamás se auto-resuelve")
}

func TestPull_InvalidacionRemotaAvanzaSobreAceptado(t *testing.T) {
	log := newMemChangeLog()
	log.setLocal(rec("l1", "emp-prod", "doc-1", 1, entity.StatusAccepted, "h1"))
	transport := &memTransport{
		remote: []*entity.ChangeRecord{rec("r1", "emp-prod", "doc-1", 5, entity.StatusInvalidated, "h2")},
		cursor: 5,
	}

	res, err := newCoordinator(log, transport).Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied, "ACCEPTED→INVALIDATED es progresión legal, no conflicto")
	assert.Empty(t, res.Violations)
}

func TestPull_ReintentoRemotoExitosoSuperaFailedLocal(t *testing.T) {
	log := newMemChangeLog()
	log.setLocal(rec("l1", "emp-prod", "doc-1", 1, entity.StatusFailed, ""))
	transport := &memTransport{
		remote: []*entity.ChangeRecord{rec("r1", "emp-prod", "doc-1", 5, entity.StatusAccepted, "h1")},
		cursor: 5,
	}

	res, err := newCoordinator(log, transport).Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied, "otro dispositivo reintentó con éxito: FAILED cede")
}

func TestPull_RemotoSandboxSeDescarta(t *testing.T) {
	log := newMemChangeLog()
	transport := &memTransport{
		remote: []*entity.ChangeRecord{rec("r1", "emp-sandbox", "doc-1", 5, entity.StatusAccepted, "h1")},
		cursor: 5,
	}

	res, err := newCoordinator(log, transport).Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, log.applied, "la frontera sandbox se impone también al recibir")
}

func TestSync_PasadaCompleta(t *testing.T) {
	log := newMemChangeLog()
	log.records = []*entity.ChangeRecord{rec("c1", "emp-prod", "doc-1", 1, entity.StatusAccepted, "h1")}
	transport := &memTransport{
		remote: []*entity.ChangeRecord{rec("r1", "emp-prod", "doc-2", 3, entity.StatusAccepted, "h2")},
		cursor: 3,
	}

	res, err := newCoordinator(log, transport).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1, res.Applied)
}
