package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturador-dte/internal/application/dto"
	"github.com/jhoicas/facturador-dte/internal/domain"
)

// fail traduce los errores de dominio al código HTTP correspondiente. Los
// errores de envío (rechazo de Hacienda) y las violaciones de integridad de
// sync llevan su detalle en el cuerpo; el resto de errores internos no filtran
// detalles de infraestructura.
func fail(c *fiber.Ctx, err error) error {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: ve.Error()})
	}
	var se *domain.SubmissionError
	if errors.As(err, &se) && se.Category == domain.SubmissionRejected {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Error: se.Error()})
	}
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "recurso no encontrado"})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "acceso denegado al recurso"})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrStaleTransition):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrOperationCanceled):
		return c.Status(fiber.StatusRequestTimeout).JSON(dto.ErrorResponse{Error: "operación cancelada"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
}
