package http

import (
	"io"
	"math"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/emisor-dte/internal/application/dto"
	"github.com/jhoicas/emisor-dte/internal/application/signing"
)

const maxCertificateSize = 64 << 10

// CredentialHandler rotación y consulta del certificado de firma del tenant (protegido).
type CredentialHandler struct {
	rotator *signing.Rotator
	signer  *signing.Service
	now     func() time.Time
}

// NewCredentialHandler construye el handler.
func NewCredentialHandler(rotator *signing.Rotator, signer *signing.Service) *CredentialHandler {
	return &CredentialHandler{rotator: rotator, signer: signer, now: time.Now}
}

// Rotate registra un nuevo .p12 (campo "certificate") con su contraseña (campo "password").
// POST /api/credentials
func (h *CredentialHandler) Rotate(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	fh, err := c.FormFile("certificate")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "campo certificate requerido"})
	}
	if fh.Size > maxCertificateSize {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: errTooLarge.Error()})
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "no se pudo leer el certificado"})
	}
	defer f.Close()
	p12, err := io.ReadAll(io.LimitReader(f, maxCertificateSize))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "no se pudo leer el certificado"})
	}
	cred, err := h.rotator.Rotate(c.Context(), tenantID, p12, c.FormValue("password"))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewCredentialResponse(cred))
}

// Status datos del certificado activo.
// GET /api/credentials/status
func (h *CredentialHandler) Status(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	cred, err := h.signer.Credential(c.Context(), tenantID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.CredentialStatusResponse{
		Subject:   cred.Leaf.Subject.CommonName,
		Issuer:    cred.Leaf.Issuer.CommonName,
		ExpiresAt: cred.ExpiresAt,
		DaysLeft:  int(math.Floor(cred.ExpiresAt.Sub(h.now()).Hours() / 24)),
	})
}
