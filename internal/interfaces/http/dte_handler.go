package http

import (
	"bufio"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/jhoicas/facturador-dte/internal/application/dto"
	"github.com/jhoicas/facturador-dte/internal/application/lifecycle"
	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/dte"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	"github.com/jhoicas/facturador-dte/internal/infrastructure/hacienda"
)

// DTEHandler expone el ciclo de vida del DTE: emisión, reintento,
// invalidación, estado, flujo de eventos y descarga (protegido).
type DTEHandler struct {
	engine    *lifecycle.Engine
	docs      lifecycle.DocumentStore
	companies lifecycle.CompanyStore
}

// NewDTEHandler construye el handler.
func NewDTEHandler(engine *lifecycle.Engine, docs lifecycle.DocumentStore, companies lifecycle.CompanyStore) *DTEHandler {
	return &DTEHandler{engine: engine, docs: docs, companies: companies}
}

// owned carga la factura y verifica que pertenezca al emisor del token.
func (h *DTEHandler) owned(c *fiber.Ctx) (*entity.Invoice, error) {
	inv, err := h.docs.LoadInvoice(c.Context(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	if inv.CompanyID != GetCompanyID(c) {
		return nil, domain.ErrForbidden
	}
	return inv, nil
}

// Emit arranca la emisión de un borrador. Retorna en cuanto el número de
// control quedó persistido; el envío continúa en segundo plano.
// POST /api/invoices/:id/emit
func (h *DTEHandler) Emit(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return fail(c, err)
	}
	handle, err := h.engine.CreateAndSubmit(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.EmitResponse{
		DocumentID:     handle.DocumentID,
		GenerationCode: handle.GenerationCode,
		ControlNumber:  handle.ControlNumber,
		Status:         string(handle.Status),
	})
}

// Retry reintenta un documento FAILED reutilizando su número de control.
// POST /api/invoices/:id/retry
func (h *DTEHandler) Retry(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return fail(c, err)
	}
	handle, err := h.engine.Retry(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.EmitResponse{
		DocumentID:     handle.DocumentID,
		GenerationCode: handle.GenerationCode,
		ControlNumber:  handle.ControlNumber,
		Status:         string(handle.Status),
	})
}

// Abandon renuncia a un documento FAILED: marca su número de control como
// correlativo anulado para que el hueco de la serie quede declarado.
// POST /api/invoices/:id/abandon
func (h *DTEHandler) Abandon(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return fail(c, err)
	}
	var in dto.AbandonRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "cuerpo inválido"})
	}
	if in.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "el abandono exige un motivo"})
	}
	if err := h.engine.Abandon(c.Context(), c.Params("id"), in.Reason); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Invalidate solicita a Hacienda la invalidación de un DTE aceptado.
// POST /api/invoices/:id/invalidate
func (h *DTEHandler) Invalidate(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return fail(c, err)
	}
	var in dto.InvalidateRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "cuerpo inválido"})
	}
	res, err := h.engine.Invalidate(c.Context(), c.Params("id"), &dte.ReasonBlock{
		InvalidationType:    in.Type,
		Justification:       in.Justification,
		ResponsibleName:     in.ResponsibleName,
		ResponsibleDocument: in.ResponsibleDocument,
		RequesterName:       in.RequesterName,
		RequesterDocument:   in.RequesterDocument,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.InvalidateResponse{Seal: res.Seal, Observations: res.Observations})
}

// Status devuelve el estado local persistido.
// GET /api/invoices/:id/status
func (h *DTEHandler) Status(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return fail(c, err)
	}
	st, err := h.engine.Status(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.StatusResponse{DocumentID: c.Params("id"), Status: string(st)})
}

// Reconcile consulta el estado remoto de un envío sin respuesta.
// POST /api/invoices/:id/reconcile
func (h *DTEHandler) Reconcile(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return fail(c, err)
	}
	if err := h.engine.Reconcile(c.Context(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	st, err := h.engine.Status(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.StatusResponse{DocumentID: c.Params("id"), Status: string(st)})
}

// Events entrega los cambios de estado como Server-Sent Events. El flujo es
// finito: se cierra al llegar el documento a estado terminal o al desconectar
// el cliente.
// GET /api/invoices/:id/events
func (h *DTEHandler) Events(c *fiber.Ctx) error {
	inv, err := h.owned(c)
	if err != nil {
		return fail(c, err)
	}

	// La foto inicial se lee DESPUÉS de suscribirse (WatchStatus): una
	// transición terminal que aterrice tras la carga de autorización aparece
	// en la foto y el flujo cierra en vez de colgarse.
	current, ch, cancel, err := h.engine.WatchStatus(c.Context(), inv.ID)
	if err != nil {
		return fail(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		writeEvent := func(st entity.DocumentStatus) bool {
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", st)
			return w.Flush() == nil
		}
		if !writeEvent(current) {
			return
		}
		if current.Terminal() {
			return
		}
		for st := range ch {
			if !writeEvent(st) {
				return
			}
		}
	}))
	return nil
}

// Download empaqueta el DTE firmado en un ZIP con la convención de nombre de
// Hacienda ({NIT}-{numeroControl}).
// GET /api/invoices/:id/download
func (h *DTEHandler) Download(c *fiber.Ctx) error {
	inv, err := h.owned(c)
	if err != nil {
		return fail(c, err)
	}
	company, err := h.companies.GetByID(c.Context(), inv.CompanyID)
	if err != nil {
		return fail(c, err)
	}
	if company == nil {
		return fail(c, domain.ErrNotFound)
	}

	payload, err := h.engine.Export(c.Context(), inv.ID)
	if err != nil {
		return fail(c, err)
	}
	data, name, err := hacienda.PackageDTE(payload, company, inv)
	if err != nil {
		return fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Send(data)
}
