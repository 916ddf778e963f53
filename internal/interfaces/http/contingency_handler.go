package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturador-dte/internal/application/contingency"
	"github.com/jhoicas/facturador-dte/internal/application/dto"
)

// ContingencyHandler expone el estado del modo de operación y las ventanas de
// contingencia del emisor (protegido).
type ContingencyHandler struct {
	manager *contingency.Manager
}

// NewContingencyHandler construye el handler.
func NewContingencyHandler(manager *contingency.Manager) *ContingencyHandler {
	return &ContingencyHandler{manager: manager}
}

// Mode devuelve el modo de operación actual y el tamaño de la cola de reenvío.
// GET /api/contingency/mode
func (h *ContingencyHandler) Mode(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"mode":         string(h.manager.Mode()),
		"queue_length": h.manager.QueueLength(),
	})
}

// Events lista las ventanas de contingencia del emisor, más recientes primero.
// GET /api/contingency/events
func (h *ContingencyHandler) Events(c *fiber.Ctx) error {
	events, err := h.manager.Events(c.Context(), GetCompanyID(c))
	if err != nil {
		return fail(c, err)
	}
	out := make([]dto.ContingencyEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, dto.ContingencyEventResponse{
			ID:              ev.ID,
			Reason:          ev.Reason,
			StartedAt:       ev.StartedAt,
			EndedAt:         ev.EndedAt,
			GenerationCodes: ev.GenerationCodes,
			Reported:        ev.Reported,
		})
	}
	return c.JSON(out)
}

// Resume fuerza un intento de salida de contingencia (probe + reenvío FIFO).
// POST /api/contingency/resume
func (h *ContingencyHandler) Resume(c *fiber.Ctx) error {
	if err := h.manager.ResumeOnline(c.Context()); err != nil {
		return fail(c, err)
	}
	return h.Mode(c)
}
