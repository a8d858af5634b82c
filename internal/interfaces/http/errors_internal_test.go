package http

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/emisor-dte/internal/domain"
)

func TestErrorStatus_SentinelsEnvueltos(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("documento x: %w", domain.ErrNotFound), fiber.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("folio: %w", domain.ErrNoActiveRange), fiber.StatusConflict, "NO_ACTIVE_RANGE"},
		{fmt.Errorf("folio: %w", domain.ErrRangeExhausted), fiber.StatusConflict, "RANGE_EXHAUSTED"},
		{fmt.Errorf("%w: venció", domain.ErrCredentialExpired), fiber.StatusConflict, "CREDENTIAL_EXPIRED"},
		{fmt.Errorf("%w: %w", domain.ErrTransmissionFailed, errors.New("timeout")), fiber.StatusBadGateway, "TRANSMISSION_FAILED"},
		{fmt.Errorf("%w: VE", domain.ErrNotImplemented), fiber.StatusNotImplemented, "NOT_IMPLEMENTED"},
		{domain.ErrInternal, fiber.StatusInternalServerError, "INTERNAL"},
		{errors.New("pq: connection reset"), fiber.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		status, code := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

// Un NotFound del proveedor dentro de una consulta fallida no es un 404 del documento.
func TestErrorStatus_ConsultaFallidaConNotFoundDelProveedor(t *testing.T) {
	err := fmt.Errorf("%w: consulta de estado: %w", domain.ErrTransmissionFailed,
		fmt.Errorf("track MOCK-000001: %w", domain.ErrNotFound))
	status, code := errorStatus(err)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "TRANSMISSION_FAILED", code)
}

func TestValidationMessage_Espanol(t *testing.T) {
	type req struct {
		Email string `json:"email" validate:"omitempty,email"`
		Name  string `json:"name" validate:"required,max=3"`
	}
	resp := validationResponse(validate.Struct(req{Email: "x", Name: "abcd"}))
	assert.Equal(t, "VALIDATION", resp.Code)
	require.Len(t, resp.Details, 2)
	assert.ElementsMatch(t, []string{"email", "name"}, []string{resp.Details[0].Field, resp.Details[1].Field})
	for _, d := range resp.Details {
		switch d.Field {
		case "email":
			assert.Equal(t, "correo electrónico inválido", d.Message)
		case "name":
			assert.Equal(t, "debe tener como máximo 3 caracteres", d.Message)
		}
	}
}
