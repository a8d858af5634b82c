package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/emisor-dte/internal/application/dto"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

// tenantLookup es el contrato mínimo que necesita el middleware para verificar el tenant.
// Lo implementa cualquier repository.TenantRepository.
type tenantLookup interface {
	GetByID(ctx context.Context, id string) (*entity.Tenant, error)
}

// RequireActiveTenant verifica que el tenant del token exista y esté activo.
// Debe usarse DESPUÉS de AuthMiddleware (necesita LocalTenantID).
//
// Comportamiento:
//   - 403 Forbidden → tenant desconocido o desactivado.
//   - 503 Service Unavailable → fallo del store al consultar el tenant.
//   - Sin tenant_id en el contexto responde 401.
func RequireActiveTenant(tenants tenantLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID := GetTenantID(c)
		if tenantID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "tenant_id no encontrado en el token",
			})
		}

		tenant, err := tenants.GetByID(c.Context(), tenantID)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
				Code:    "TENANT_CHECK_FAILED",
				Message: "no se pudo verificar el tenant, intente más tarde",
			})
		}

		if tenant == nil || !tenant.Active {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Code:    "TENANT_DISABLED",
				Message: "el tenant no existe o no está habilitado para emitir",
			})
		}

		return c.Next()
	}
}
