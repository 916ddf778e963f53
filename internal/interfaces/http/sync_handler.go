package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturador-dte/internal/application/dto"
	"github.com/jhoicas/facturador-dte/internal/application/syncer"
)

// SyncHandler dispara pasadas de sincronización manual contra el store
// compartido (protegido). Con sync deshabilitado el coordinador es nil y el
// endpoint responde 503.
type SyncHandler struct {
	coordinator *syncer.Coordinator
}

// NewSyncHandler construye el handler.
func NewSyncHandler(coordinator *syncer.Coordinator) *SyncHandler {
	return &SyncHandler{coordinator: coordinator}
}

// Run ejecuta Push y luego Pull y resume el resultado, incluidas las
// violaciones de integridad detectadas (nunca auto-resueltas).
// POST /api/sync
func (h *SyncHandler) Run(c *fiber.Ctx) error {
	if h.coordinator == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "sincronización deshabilitada en este dispositivo"})
	}
	res, err := h.coordinator.Sync(c.Context())
	if err != nil {
		return fail(c, err)
	}
	out := dto.SyncResultResponse{
		Pushed:  res.Pushed,
		Applied: res.Applied,
		Skipped: res.Skipped,
	}
	for _, v := range res.Violations {
		out.Violations = append(out.Violations, dto.SyncViolationResponse{
			DocumentID: v.DocumentID,
			LocalHash:  v.LocalHash,
			RemoteHash: v.RemoteHash,
			LocalSeal:  v.LocalSeal,
			RemoteSeal: v.RemoteSeal,
		})
	}
	return c.JSON(out)
}
