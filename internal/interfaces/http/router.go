package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/emisor-dte/internal/application/dte"
	"github.com/jhoicas/emisor-dte/internal/application/folio"
	"github.com/jhoicas/emisor-dte/internal/application/provider"
	"github.com/jhoicas/emisor-dte/internal/application/signing"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
	"github.com/jhoicas/emisor-dte/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Lifecycle     *dte.Manager
	Importer      *folio.Importer
	Allocator     *folio.Allocator
	Rotator       *signing.Rotator
	Signer        *signing.Service
	Registry      *provider.Registry
	Tenants       repository.TenantRepository
	PDF           PDFRenderer
	PublicBaseURL string
	Location      *time.Location
	JWTSecret     string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	tenantHandler := NewTenantHandler(deps.Tenants, deps.Registry, deps.Allocator)

	// Catálogo de proveedores (público)
	api.Get("/providers", tenantHandler.Providers)

	// Rutas protegidas (requieren Bearer Token y tenant habilitado)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret), RequireActiveTenant(deps.Tenants))
	anyRole := RequireRole(jwt.RoleAdmin, jwt.RoleEmisor, jwt.RoleConsulta)
	issuers := RequireRole(jwt.RoleAdmin, jwt.RoleEmisor)
	admins := RequireRole(jwt.RoleAdmin)

	protected.Get("/tenant/check", anyRole, tenantHandler.Check)

	// DTE
	dtes := protected.Group("/dtes")
	dteHandler := NewDTEHandler(deps.Lifecycle, deps.PDF, deps.PublicBaseURL, deps.Location)
	dtes.Post("/", issuers, dteHandler.Issue)
	dtes.Get("/", anyRole, dteHandler.List)
	dtes.Post("/drafts", issuers, dteHandler.CreateDraft)
	dtes.Get("/:id", anyRole, dteHandler.GetByID)
	dtes.Get("/:id/status", anyRole, dteHandler.Status)
	dtes.Get("/:id/pdf", anyRole, dteHandler.PDF)
	dtes.Get("/:id/xml", anyRole, dteHandler.XML)
	dtes.Post("/:id/submit", issuers, dteHandler.Submit)
	dtes.Post("/:id/retry", issuers, dteHandler.Retry)
	dtes.Post("/:id/poll", issuers, dteHandler.Poll)
	dtes.Post("/:id/void", admins, dteHandler.Void)

	// Folios
	folios := protected.Group("/folios")
	folioHandler := NewFolioHandler(deps.Importer, deps.Allocator)
	folios.Get("/", anyRole, folioHandler.List)
	folios.Get("/:type", anyRole, folioHandler.Capacity)
	folios.Post("/caf", admins, folioHandler.ImportCAF)
	folios.Post("/ranges", admins, folioHandler.ImportRange)

	// Certificados de firma
	creds := protected.Group("/credentials")
	credentialHandler := NewCredentialHandler(deps.Rotator, deps.Signer)
	creds.Get("/status", anyRole, credentialHandler.Status)
	creds.Post("/", admins, credentialHandler.Rotate)
}
