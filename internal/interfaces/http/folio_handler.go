package http

import (
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/emisor-dte/internal/application/dto"
	"github.com/jhoicas/emisor-dte/internal/application/folio"
)

// maxCAFSize tope del archivo CAF (los reales pesan unos pocos KB).
const maxCAFSize = 256 << 10

// FolioHandler carga y consulta de rangos de folios autorizados (protegido).
type FolioHandler struct {
	importer  *folio.Importer
	allocator *folio.Allocator
}

// NewFolioHandler construye el handler.
func NewFolioHandler(importer *folio.Importer, allocator *folio.Allocator) *FolioHandler {
	return &FolioHandler{importer: importer, allocator: allocator}
}

// ImportCAF registra el archivo de autorización de folios de la autoridad.
// Acepta multipart (campo "caf") o el XML directo en el cuerpo.
// POST /api/folios/caf
func (h *FolioHandler) ImportCAF(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	raw, err := cafPayload(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: err.Error()})
	}
	r, err := h.importer.ImportCAF(c.Context(), tenantID, raw)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewFolioRangeResponse(r))
}

// ImportRange godoc
// @Summary      Registrar rango de folios sin CAF
// @Tags         folios
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      dto.ImportRangeRequest  true  "Rango autorizado"
// @Success      201   {object}  dto.FolioRangeResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      403   {object}  dto.ErrorResponse
// @Router       /api/folios/ranges [post]
func (h *FolioHandler) ImportRange(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.ImportRangeRequest
	if ok, err := parseAndValidate(c, &in); !ok {
		return err
	}
	r, err := h.importer.ImportRange(c.Context(), tenantID, in.ToAuthorization())
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewFolioRangeResponse(r))
}

// List rangos del tenant.
// GET /api/folios
func (h *FolioHandler) List(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	list, err := h.importer.Ranges(c.Context(), tenantID)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]dto.FolioRangeResponse, 0, len(list))
	for _, r := range list {
		out = append(out, dto.NewFolioRangeResponse(r))
	}
	return c.JSON(out)
}

// Capacity godoc
// @Summary      Folios disponibles del rango activo
// @Tags         folios
// @Produce      json
// @Security     BearerAuth
// @Param        type  path      int  true  "Tipo de documento"
// @Success      200   {object}  dto.FolioCapacityResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/folios/{type} [get]
func (h *FolioHandler) Capacity(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	docType, err := c.ParamsInt("type")
	if err != nil || docType <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "tipo de documento inválido"})
	}
	st, err := h.allocator.ActiveStatus(c.Context(), tenantID, docType)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.NewFolioCapacityResponse(docType, st))
}

func cafPayload(c *fiber.Ctx) ([]byte, error) {
	if fh, err := c.FormFile("caf"); err == nil {
		if fh.Size > maxCAFSize {
			return nil, errTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxCAFSize))
	}
	body := c.Body()
	if len(body) == 0 {
		return nil, errEmptyUpload
	}
	if len(body) > maxCAFSize {
		return nil, errTooLarge
	}
	return append([]byte(nil), body...), nil
}
