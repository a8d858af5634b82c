package http

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/emisor-dte/internal/application/dte"
	"github.com/jhoicas/emisor-dte/internal/application/dto"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/pdf"
)

// maxAwait tope de espera para POST /api/dtes/:id/poll?wait=N.
const maxAwait = 30 * time.Second

// PDFRenderer genera la representación impresa del documento.
type PDFRenderer interface {
	Generate(ctx context.Context, p pdf.Printable) ([]byte, error)
}

// DTEHandler maneja las peticiones HTTP de emisión y seguimiento de DTE (protegido).
type DTEHandler struct {
	mgr     *dte.Manager
	pdf     PDFRenderer
	baseURL string
	loc     *time.Location
}

// NewDTEHandler construye el handler. loc interpreta issue_date; nil usa UTC.
func NewDTEHandler(mgr *dte.Manager, renderer PDFRenderer, baseURL string, loc *time.Location) *DTEHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &DTEHandler{mgr: mgr, pdf: renderer, baseURL: baseURL, loc: loc}
}

// Issue godoc
// @Summary      Emitir documento tributario
// @Description  Asigna folio, persiste y, si se pide, firma y envía a la autoridad.
// @Tags         dtes
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      dto.IssueDTERequest  true  "Documento a emitir"
// @Success      201   {object}  dto.DocumentResponse
// @Success      202   {object}  dto.DocumentResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Failure      422   {object}  dto.ErrorResponse
// @Router       /api/dtes [post]
func (h *DTEHandler) Issue(c *fiber.Ctx) error {
	req, ok, err := h.issueRequest(c)
	if !ok {
		return err
	}
	doc, err := h.mgr.Issue(c.Context(), req)
	if err != nil {
		if doc != nil {
			// El documento existe con folio asignado; el envío se puede reintentar.
			return c.Status(fiber.StatusAccepted).JSON(h.withError(doc, err))
		}
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewDocumentResponse(doc, nil, h.baseURL))
}

// CreateDraft godoc
// @Summary      Crear borrador
// @Description  Guarda el documento sin consumir folio.
// @Tags         dtes
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      dto.IssueDTERequest  true  "Documento"
// @Success      201   {object}  dto.DocumentResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Router       /api/dtes/drafts [post]
func (h *DTEHandler) CreateDraft(c *fiber.Ctx) error {
	req, ok, err := h.issueRequest(c)
	if !ok {
		return err
	}
	doc, err := h.mgr.CreateDraft(c.Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewDocumentResponse(doc, nil, h.baseURL))
}

// Submit confirma un borrador: asigna folio y, si corresponde, lo envía.
// POST /api/dtes/:id/submit
func (h *DTEHandler) Submit(c *fiber.Ctx) error {
	return h.transition(c, h.mgr.Submit)
}

// Retry reintenta firma y envío de un documento PENDING con el mismo folio.
// POST /api/dtes/:id/retry
func (h *DTEHandler) Retry(c *fiber.Ctx) error {
	return h.transition(c, h.mgr.Retry)
}

// Poll godoc
// @Summary      Consultar estado en la autoridad
// @Description  Con wait=N espera hasta N segundos (máximo 30) un estado final.
// @Tags         dtes
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string  true   "ID del documento"
// @Param        wait  query     int     false  "Segundos de espera"
// @Success      200   {object}  dto.StatusResponse
// @Failure      404   {object}  dto.ErrorResponse
// @Router       /api/dtes/{id}/poll [post]
func (h *DTEHandler) Poll(c *fiber.Ctx) error {
	wait := time.Duration(c.QueryInt("wait", 0)) * time.Second
	if wait <= 0 {
		return h.transition(c, h.mgr.Poll)
	}
	if wait > maxAwait {
		wait = maxAwait
	}
	return h.transition(c, func(ctx context.Context, tenantID, docID string) (*entity.Document, error) {
		return h.mgr.AwaitTerminal(ctx, tenantID, docID, wait)
	})
}

// Void godoc
// @Summary      Anular documento
// @Tags         dtes
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string              true  "ID del documento"
// @Param        body  body      dto.VoidDTERequest  true  "Motivo"
// @Success      200   {object}  dto.DocumentResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/dtes/{id}/void [post]
func (h *DTEHandler) Void(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.VoidDTERequest
	if ok, err := parseAndValidate(c, &in); !ok {
		return err
	}
	doc, err := h.mgr.Void(c.Context(), tenantID, c.Params("id"), in.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.NewDocumentResponse(doc, nil, h.baseURL))
}

// GetByID godoc
// @Summary      Obtener documento con su historial
// @Tags         dtes
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "ID del documento"
// @Success      200  {object}  dto.DocumentResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/dtes/{id} [get]
func (h *DTEHandler) GetByID(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, hist, err := h.mgr.Get(c.Context(), tenantID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.NewDocumentResponse(doc, hist, h.baseURL))
}

// Status vista liviana del estado.
// GET /api/dtes/:id/status
func (h *DTEHandler) Status(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, _, err := h.mgr.Get(c.Context(), tenantID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.NewStatusResponse(doc))
}

// List godoc
// @Summary      Listar documentos
// @Description  Documentos del tenant, más recientes primero.
// @Tags         dtes
// @Produce      json
// @Security     BearerAuth
// @Param        limit   query     int  false  "Límite (máx. 100)"
// @Param        offset  query     int  false  "Desplazamiento"
// @Success      200     {object}  dto.DocumentListResponse
// @Router       /api/dtes [get]
func (h *DTEHandler) List(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_QUERY", Message: "parámetros de paginación inválidos"})
	}
	page.DefaultPage()
	if err := validate.Struct(page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(validationResponse(err))
	}
	docs, total, err := h.mgr.List(c.Context(), tenantID, page.Limit, page.Offset)
	if err != nil {
		return writeError(c, err)
	}
	out := dto.DocumentListResponse{
		Items: make([]dto.DocumentResponse, 0, len(docs)),
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset, Total: total},
	}
	for _, d := range docs {
		out.Items = append(out.Items, dto.NewDocumentResponse(d, nil, h.baseURL))
	}
	return c.JSON(out)
}

// PDF representación impresa.
// GET /api/dtes/:id/pdf
func (h *DTEHandler) PDF(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	if h.pdf == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(dto.ErrorResponse{Code: "NOT_IMPLEMENTED", Message: "representación impresa no configurada"})
	}
	doc, _, err := h.mgr.Get(c.Context(), tenantID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	p := pdf.Printable{Document: doc}
	if doc.ReferenceDocumentID != "" {
		if ref, _, err := h.mgr.Get(c.Context(), tenantID, doc.ReferenceDocumentID); err == nil {
			p.Reference = ref
		}
	}
	raw, err := h.pdf.Generate(c.Context(), p)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "PDF_ERROR", Message: "no se pudo generar el PDF"})
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="%s.pdf"`, artifactName(doc)))
	return c.Send(raw)
}

// XML documento firmado.
// GET /api/dtes/:id/xml
func (h *DTEHandler) XML(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, _, err := h.mgr.Get(c.Context(), tenantID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if doc.SignedContent == "" {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_SIGNED", Message: "el documento aún no está firmado"})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.xml"`, artifactName(doc)))
	return c.SendString(doc.SignedContent)
}

// ── helpers ──

func (h *DTEHandler) issueRequest(c *fiber.Ctx) (dte.IssueRequest, bool, error) {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return dte.IssueRequest{}, false, c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.IssueDTERequest
	if ok, err := parseAndValidate(c, &in); !ok {
		return dte.IssueRequest{}, false, err
	}
	req, err := in.ToIssueRequest(tenantID, h.loc)
	if err != nil {
		return dte.IssueRequest{}, false, c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	return req, true, nil
}

// transition ejecuta una operación del ciclo de vida sobre :id. Si la operación devuelve el
// documento junto con un error, la respuesta incluye ambos.
func (h *DTEHandler) transition(c *fiber.Ctx, op func(ctx context.Context, tenantID, docID string) (*entity.Document, error)) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, err := op(c.Context(), tenantID, c.Params("id"))
	if err != nil {
		if doc == nil {
			return writeError(c, err)
		}
		status, _ := errorStatus(err)
		return c.Status(status).JSON(h.withError(doc, err))
	}
	return c.JSON(dto.NewDocumentResponse(doc, nil, h.baseURL))
}

func (h *DTEHandler) withError(doc *entity.Document, err error) dto.DocumentResponse {
	resp := dto.NewDocumentResponse(doc, nil, h.baseURL)
	status, code := errorStatus(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "error interno, intente nuevamente"
	}
	resp.Error = &dto.ErrorResponse{Code: code, Message: msg}
	return resp
}

func artifactName(doc *entity.Document) string {
	return fmt.Sprintf("DTE_%d_%d", doc.DocumentType, doc.Folio)
}
