package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/emisor-dte/internal/application/dto"
	"github.com/jhoicas/emisor-dte/internal/domain"
)

var (
	errEmptyUpload = errors.New("archivo requerido")
	errTooLarge    = errors.New("archivo demasiado grande")
)

// errorMapping código HTTP y código de error por sentinel. El orden importa:
// gana el primer sentinel presente en la cadena de errores. Una falla de comunicación con la
// autoridad puede envolver un NotFound del proveedor (track id desconocido): se informa como 502.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrTransmissionFailed, fiber.StatusBadGateway, "TRANSMISSION_FAILED"},
	{domain.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{domain.ErrForbidden, fiber.StatusForbidden, "FORBIDDEN"},
	{domain.ErrInvalidInput, fiber.StatusBadRequest, "VALIDATION"},
	{domain.ErrInvalidDocument, fiber.StatusUnprocessableEntity, "INVALID_DOCUMENT"},
	{domain.ErrUnsupportedCountry, fiber.StatusUnprocessableEntity, "UNSUPPORTED_COUNTRY"},
	{domain.ErrNoActiveRange, fiber.StatusConflict, "NO_ACTIVE_RANGE"},
	{domain.ErrRangeExhausted, fiber.StatusConflict, "RANGE_EXHAUSTED"},
	{domain.ErrNoActiveCredential, fiber.StatusConflict, "NO_ACTIVE_CREDENTIAL"},
	{domain.ErrCredentialExpired, fiber.StatusConflict, "CREDENTIAL_EXPIRED"},
	{domain.ErrCredentialInvalid, fiber.StatusUnprocessableEntity, "CREDENTIAL_INVALID"},
	{domain.ErrInvalidTransition, fiber.StatusConflict, "INVALID_TRANSITION"},
	{domain.ErrConcurrentModification, fiber.StatusConflict, "CONCURRENT_MODIFICATION"},
	{domain.ErrAuthorityRejected, fiber.StatusUnprocessableEntity, "AUTHORITY_REJECTED"},
	{domain.ErrNotImplemented, fiber.StatusNotImplemented, "NOT_IMPLEMENTED"},
}

// errorStatus traduce un error de la aplicación a (status, código).
func errorStatus(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return fiber.StatusInternalServerError, "INTERNAL"
}

// writeError responde con el error mapeado. Los errores internos no exponen detalle:
// el caso de uso ya los registró con su contexto.
func writeError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "error interno, intente nuevamente"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: msg})
}
