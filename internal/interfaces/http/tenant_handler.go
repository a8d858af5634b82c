package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/emisor-dte/internal/application/dto"
	"github.com/jhoicas/emisor-dte/internal/application/folio"
	"github.com/jhoicas/emisor-dte/internal/application/provider"
)

// TenantHandler verificación de configuración y catálogo de proveedores.
type TenantHandler struct {
	tenants   tenantLookup
	registry  *provider.Registry
	allocator *folio.Allocator
}

// NewTenantHandler construye el handler.
func NewTenantHandler(tenants tenantLookup, registry *provider.Registry, allocator *folio.Allocator) *TenantHandler {
	return &TenantHandler{tenants: tenants, registry: registry, allocator: allocator}
}

// Check indica si el tenant puede emitir: configuración válida ante su autoridad y,
// como advertencia, tipos sin folios o con pocos folios disponibles.
// GET /api/tenant/check
func (h *TenantHandler) Check(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	tenant, err := h.tenants.GetByID(c.Context(), tenantID)
	if err != nil {
		return writeError(c, err)
	}
	if tenant == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "tenant no encontrado"})
	}
	prov, err := h.registry.Resolve(tenant.Country)
	if err != nil {
		return writeError(c, err)
	}
	capab := prov.Capability()
	out := dto.TenantCheckResponse{Country: capab.Country, Ready: true, DocTypes: capab.SupportedDocumentTypes}

	if err := prov.ValidateTenantConfiguration(c.Context(), tenantID); err != nil {
		_, code := errorStatus(err)
		out.Ready, out.Code, out.Problem = false, code, err.Error()
	}
	if capab.UsesSeries || h.allocator == nil {
		return c.JSON(out)
	}
	for _, t := range capab.SupportedDocumentTypes {
		st, err := h.allocator.ActiveStatus(c.Context(), tenantID, t)
		if err != nil {
			return writeError(c, err)
		}
		switch {
		case st == nil:
			out.Warnings = append(out.Warnings, fmt.Sprintf("tipo %d: sin rango de folios cargado", t))
		case st.Expired:
			out.Warnings = append(out.Warnings, fmt.Sprintf("tipo %d: rango de folios vencido", t))
		case st.Low:
			out.Warnings = append(out.Warnings, fmt.Sprintf("tipo %d: quedan %d folios", t, st.Remaining))
		}
	}
	return c.JSON(out)
}

// Providers países registrados y sus tipos de documento.
// GET /api/providers
func (h *TenantHandler) Providers(c *fiber.Ctx) error {
	caps := h.registry.Capabilities()
	out := make([]dto.ProviderResponse, 0, len(caps))
	for _, cp := range caps {
		out = append(out, dto.ProviderResponse{
			Country:                cp.Country,
			SupportedDocumentTypes: cp.SupportedDocumentTypes,
			UsesSeries:             cp.UsesSeries,
		})
	}
	return c.JSON(out)
}
