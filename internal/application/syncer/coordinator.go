// Package syncer implementa la sincronización multi-dispositivo sobre un store
// remoto compartido. El modelo es last-writer-wins acotado por la máquina de
// estados: entre dos versiones del mismo documento gana la de estado más
// avanzado, y dos estados terminales distintos para el mismo DTE son una
// violación de integridad que se expone, nunca se auto-resuelve.
package syncer

import (
	"context"
	"fmt"

	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	"github.com/jhoicas/facturador-dte/pkg/logger"
)

// ChangeLog es el puerto al registro local de cambios. Cada transición
// persistida por el motor agrega un registro; Pending devuelve los aún no
// empujados en orden de revisión.
type ChangeLog interface {
	Pending(ctx context.Context) ([]*entity.ChangeRecord, error)
	MarkPushed(ctx context.Context, ids []string) error
	// Current devuelve el último registro local del documento (nil si el
	// documento no existe en este dispositivo).
	Current(ctx context.Context, companyID, documentID string) (*entity.ChangeRecord, error)
	// ApplyRemote incorpora un registro remoto al estado local. Nunca borra:
	// aplicar es insertar el documento o avanzar su estado.
	ApplyRemote(ctx context.Context, rec *entity.ChangeRecord) error
	// LastPulledRevision es el cursor de Pull (0 si nunca se sincronizó).
	LastPulledRevision(ctx context.Context) (int64, error)
	SetLastPulledRevision(ctx context.Context, rev int64) error
}

// Transport mueve registros de cambio desde y hacia el store remoto.
type Transport interface {
	Push(ctx context.Context, recs []*entity.ChangeRecord) error
	Pull(ctx context.Context, sinceRevision int64) ([]*entity.ChangeRecord, int64, error)
}

// CompanyDirectory responde si una empresa es de producción. Los documentos de
// empresas sandbox jamás cruzan la frontera del dispositivo, en ninguna
// dirección.
type CompanyDirectory interface {
	IsProduction(ctx context.Context, companyID string) (bool, error)
}

// Result resume una pasada de sincronización.
type Result struct {
	Pushed     int
	Applied    int
	Skipped    int
	Violations []*domain.SyncIntegrityViolation
}

// Coordinator ejecuta las pasadas de Push y Pull. No guarda estado en memoria:
// el cursor y el change log viven en el store local, de modo que una pasada
// interrumpida se reanuda sin pérdida.
type Coordinator struct {
	log       ChangeLog
	transport Transport
	companies CompanyDirectory
	logger    *logger.Logger
}

func NewCoordinator(changeLog ChangeLog, transport Transport, companies CompanyDirectory, log *logger.Logger) *Coordinator {
	return &Coordinator{log: changeLog, transport: transport, companies: companies, logger: log}
}

// Push empuja al store remoto los cambios locales pendientes de empresas de
// producción. Los cambios sandbox se marcan como empujados sin salir del
// dispositivo para que no se reacumulen.
func (c *Coordinator) Push(ctx context.Context) (*Result, error) {
	pending, err := c.log.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("leer cambios pendientes: %w", err)
	}
	if len(pending) == 0 {
		return &Result{}, nil
	}

	var outbound []*entity.ChangeRecord
	var done []string
	res := &Result{}
	for _, rec := range pending {
		prod, err := c.companies.IsProduction(ctx, rec.CompanyID)
		if err != nil {
			return nil, err
		}
		if !prod {
			done = append(done, rec.ID)
			res.Skipped++
			continue
		}
		outbound = append(outbound, rec)
	}

	if len(outbound) > 0 {
		if err := c.transport.Push(ctx, outbound); err != nil {
			return nil, fmt.Errorf("empujar cambios: %w", err)
		}
		for _, rec := range outbound {
			done = append(done, rec.ID)
		}
		res.Pushed = len(outbound)
	}
	if len(done) > 0 {
		if err := c.log.MarkPushed(ctx, done); err != nil {
			return nil, err
		}
	}

	c.logger.Debug().Int("pushed", res.Pushed).Int("skipped", res.Skipped).Msg("push de sincronización completado")
	return res, nil
}

// Pull trae los cambios remotos desde el cursor y los concilia con el estado
// local: gana el estado más avanzado; dos terminales con hash distinto son una
// violación de integridad que se reporta sin tocar ninguno de los dos lados.
func (c *Coordinator) Pull(ctx context.Context) (*Result, error) {
	since, err := c.log.LastPulledRevision(ctx)
	if err != nil {
		return nil, err
	}
	remote, cursor, err := c.transport.Pull(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("traer cambios remotos: %w", err)
	}

	res := &Result{}
	for _, rec := range remote {
		applied, violation, err := c.merge(ctx, rec)
		if err != nil {
			return nil, err
		}
		switch {
		case violation != nil:
			res.Violations = append(res.Violations, violation)
		case applied:
			res.Applied++
		default:
			res.Skipped++
		}
	}

	if cursor > since {
		if err := c.log.SetLastPulledRevision(ctx, cursor); err != nil {
			return nil, err
		}
	}

	if len(res.Violations) > 0 {
		c.logger.Error().Int("violations", len(res.Violations)).Msg("conflictos de integridad detectados en pull")
	}
	c.logger.Debug().Int("applied", res.Applied).Int("skipped", res.Skipped).Msg("pull de sincronización completado")
	return res, nil
}

// Sync ejecuta una pasada completa push+pull.
func (c *Coordinator) Sync(ctx context.Context) (*Result, error) {
	pushRes, err := c.Push(ctx)
	if err != nil {
		return nil, err
	}
	pullRes, err := c.Pull(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{
		Pushed:     pushRes.Pushed,
		Applied:    pullRes.Applied,
		Skipped:    pushRes.Skipped + pullRes.Skipped,
		Violations: pullRes.Violations,
	}, nil
}

// merge decide el destino de un registro remoto frente al estado local.
func (c *Coordinator) merge(ctx context.Context, rec *entity.ChangeRecord) (applied bool, violation *domain.SyncIntegrityViolation, err error) {
	// La frontera sandbox se impone también al recibir: si otra instancia
	// empujó documentos de una empresa de pruebas, se descartan.
	prod, err := c.companies.IsProduction(ctx, rec.CompanyID)
	if err != nil {
		return false, nil, err
	}
	if !prod {
		return false, nil, nil
	}

	local, err := c.log.Current(ctx, rec.CompanyID, rec.DocumentID)
	if err != nil {
		return false, nil, err
	}
	if local == nil {
		// Documento emitido en otro dispositivo: se incorpora tal cual.
		return true, nil, c.log.ApplyRemote(ctx, rec)
	}

	if local.Status.Terminal() && rec.Status.Terminal() {
		switch {
		case local.Status == rec.Status:
			// El hash se calcula sobre el snapshot canónico antes del envío:
			// el sello de recepción no viaja en él y se compara aparte. Dos
			// ACCEPTED con sellos distintos son dos aceptaciones diferentes.
			if local.ContentHash != rec.ContentHash || local.ReceptionSeal != rec.ReceptionSeal {
				return false, c.violation(local, rec), nil
			}
			return false, nil, nil // terminales idénticos: nada que hacer
		case local.Status == entity.StatusFailed:
			// Otro dispositivo reintentó con éxito: FAILED cede ante el
			// desenlace exitoso remoto.
			return true, nil, c.log.ApplyRemote(ctx, rec)
		case rec.Status == entity.StatusFailed:
			return false, nil, nil // el remoto quedó atrás en un reintento ya superado
		case entity.CanTransition(local.Status, rec.Status):
			// Progresión legal entre terminales (ACCEPTED→INVALIDATED).
			return true, nil, c.log.ApplyRemote(ctx, rec)
		case entity.CanTransition(rec.Status, local.Status):
			return false, nil, nil // el remoto está una transición atrás
		default:
			return false, c.violation(local, rec), nil
		}
	}

	if rec.Status.Rank() > local.Status.Rank() {
		return true, nil, c.log.ApplyRemote(ctx, rec)
	}
	return false, nil, nil
}

func (c *Coordinator) violation(local, remote *entity.ChangeRecord) *domain.SyncIntegrityViolation {
	return &domain.SyncIntegrityViolation{
		CompanyID:  remote.CompanyID,
		DocumentID: remote.DocumentID,
		LocalHash:  local.ContentHash,
		RemoteHash: remote.ContentHash,
		LocalSeal:  local.ReceptionSeal,
		RemoteSeal: remote.ReceptionSeal,
	}
}
