package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturador-dte/internal/application/dto"
	"github.com/jhoicas/facturador-dte/internal/application/invoicing"
)

// InvoiceHandler maneja los borradores de factura y su consulta (protegido).
type InvoiceHandler struct {
	uc *invoicing.UseCase
}

// NewInvoiceHandler construye el handler.
func NewInvoiceHandler(uc *invoicing.UseCase) *InvoiceHandler {
	return &InvoiceHandler{uc: uc}
}

// Create crea un borrador de factura con snapshot de catálogo.
// POST /api/invoices
func (h *InvoiceHandler) Create(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	var in dto.CreateDraftRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "cuerpo inválido"})
	}
	inv, err := h.uc.CreateDraft(c.Context(), companyID, in)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(inv)
}

// GetByID obtiene una factura con sus líneas.
// GET /api/invoices/:id
func (h *InvoiceHandler) GetByID(c *fiber.Ctx) error {
	inv, err := h.uc.Get(c.Context(), GetCompanyID(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(inv)
}

// List lista las facturas del emisor.
// GET /api/invoices?limit=&offset=
func (h *InvoiceHandler) List(c *fiber.Ctx) error {
	list, err := h.uc.List(c.Context(), GetCompanyID(c), c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(list)
}

// Transitions devuelve el audit trail del documento.
// GET /api/invoices/:id/transitions
func (h *InvoiceHandler) Transitions(c *fiber.Ctx) error {
	trs, err := h.uc.Transitions(c.Context(), GetCompanyID(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(trs)
}
