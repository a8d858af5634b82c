package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/emisor-dte/internal/application/dte"
	"github.com/jhoicas/emisor-dte/internal/application/dto"
	"github.com/jhoicas/emisor-dte/internal/application/folio"
	"github.com/jhoicas/emisor-dte/internal/application/provider"
	"github.com/jhoicas/emisor-dte/internal/application/signing"
	dterules "github.com/jhoicas/emisor-dte/internal/domain/dte"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/memory"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/mockauthority"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/pdf"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/sii"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/xmldsig"
	apphttp "github.com/jhoicas/emisor-dte/internal/interfaces/http"
	"github.com/jhoicas/emisor-dte/internal/testutil"
	pkgjwt "github.com/jhoicas/emisor-dte/pkg/jwt"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

const baseURL = "https://dte.example.cl"

type apiFixture struct {
	app   *fiber.App
	store *memory.Store
	mock  *mockauthority.Provider
}

// newAPI arma la API completa sobre el store en memoria y la autoridad simulada.
// El tenant de prueba tiene folios 1..100 para boleta, factura y nota de crédito.
func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Tenants.Create(ctx, &entity.Tenant{
		ID: testTenantID, Country: entity.CountryMock, TaxID: "76086428-5",
		LegalName: "Comercial T SpA", BusinessLine: "Venta al por menor", Active: true,
	}))
	require.NoError(t, s.Tenants.Create(ctx, &entity.Tenant{
		ID: "otro", Country: entity.CountryMock, TaxID: "96790240-3", LegalName: "Otra SpA", Active: true,
	}))
	for _, typ := range []int{39, 33, 61} {
		require.NoError(t, s.FolioRanges.ReplaceActive(ctx, &entity.FolioRange{
			TenantID: testTenantID, DocumentType: typ, RangeStart: 1, RangeEnd: 100, Cursor: 0,
			AuthorizedDate: time.Now().AddDate(0, -1, 0),
		}))
	}

	calc, err := dterules.NewCalculator(decimal.RequireFromString("0.19"), 0)
	require.NoError(t, err)
	mock := mockauthority.New(mockauthority.Config{}, logger.Nop())
	reg := provider.NewRegistry(logger.Nop())
	require.NoError(t, reg.Register(mock))

	alloc := folio.NewAllocator(s.FolioRanges, logger.Nop())
	mgr := dte.NewManager(s.Tenants, s.Documents, alloc, reg, dte.NewBuilder(calc, time.UTC), calc, nil,
		dte.Config{TransmitTimeout: time.Second, PollTimeout: time.Second, AwaitInitialInterval: time.Millisecond},
		logger.Nop())

	cache := signing.NewCache(s.Credentials, logger.Nop())
	signer := signing.NewService(cache, xmldsig.NewSHA256Signer(), logger.Nop())

	app := fiber.New()
	apphttp.Router(app, apphttp.RouterDeps{
		Lifecycle:     mgr,
		Importer:      folio.NewImporter(s.FolioRanges, s.Tenants, sii.CAFParser{}, logger.Nop()),
		Allocator:     alloc,
		Rotator:       signing.NewRotator(s.Credentials, cache, nil, logger.Nop()),
		Signer:        signer,
		Registry:      reg,
		Tenants:       s.Tenants,
		PDF:           pdf.NewMarotoGenerator("S.I.I. - SANTIAGO CENTRO"),
		PublicBaseURL: baseURL,
		Location:      time.UTC,
		JWTSecret:     testJWTSecret,
	})
	return &apiFixture{app: app, store: s, mock: mock}
}

func tokenFor(t *testing.T, tenantID, role string) string {
	t.Helper()
	tok, err := pkgjwt.Generate(testJWTSecret, testUserID, tenantID, role, testIssuer, testExpMin)
	require.NoError(t, err)
	return "Bearer " + tok
}

// call lanza la petición con cuerpo JSON (body nil = sin cuerpo) y devuelve status y cuerpo.
func (f *apiFixture) call(t *testing.T, method, path, auth string, body interface{}) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return f.do(t, req)
}

func (f *apiFixture) do(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decodeDoc(t *testing.T, raw []byte) dto.DocumentResponse {
	t.Helper()
	var out dto.DocumentResponse
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func decodeErr(t *testing.T, raw []byte) dto.ErrorResponse {
	t.Helper()
	var out dto.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func boletaBody(transmit bool) map[string]interface{} {
	return map[string]interface{}{
		"document_type":         39,
		"issue_date":            "2026-03-02",
		"transmit_to_authority": transmit,
		"items": []map[string]interface{}{
			{"description": "Café de grano 1kg", "quantity": "2", "unit_price": "11900"},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Emisión
// ──────────────────────────────────────────────────────────────────────────────

func TestIssue_BoletaAceptada(t *testing.T) {
	f := newAPI(t)
	status, raw := f.call(t, http.MethodPost, "/api/dtes", tokenFor(t, testTenantID, pkgjwt.RoleEmisor), boletaBody(true))
	require.Equal(t, http.StatusCreated, status, string(raw))

	doc := decodeDoc(t, raw)
	assert.Equal(t, int64(1), doc.Folio)
	assert.Equal(t, string(entity.StateAccepted), doc.State)
	assert.Equal(t, "BOLETA ELECTRÓNICA", doc.DocumentTypeName)
	assert.Equal(t, "2026-03-02", doc.IssueDate)
	assert.Equal(t, "20000", doc.NetAmount.String())
	assert.Equal(t, "3800", doc.TaxAmount.String())
	assert.Equal(t, "23800", doc.TotalAmount.String())
	assert.NotEmpty(t, doc.TrackID)
	assert.Equal(t, baseURL+"/api/dtes/"+doc.ID+"/pdf", doc.PDFURL)
	assert.Equal(t, baseURL+"/api/dtes/"+doc.ID+"/xml", doc.XMLURL)
	assert.NotEmpty(t, doc.StatusDescription)
	require.NotNil(t, doc.Recipient, "la boleta sin receptor usa consumidor final")
	assert.Equal(t, "66666666-6", doc.Recipient.TaxID)
}

func TestIssue_ValidacionDevuelveCampos(t *testing.T) {
	f := newAPI(t)
	body := map[string]interface{}{
		"document_type": 39,
		"items": []map[string]interface{}{
			{"description": strings.Repeat("x", 81), "quantity": "0", "unit_price": "-1"},
		},
		"recipient": map[string]interface{}{"tax_id": "1-9", "legal_name": "Juan", "email": "no-es-correo"},
	}
	status, raw := f.call(t, http.MethodPost, "/api/dtes", tokenFor(t, testTenantID, pkgjwt.RoleEmisor), body)
	require.Equal(t, http.StatusBadRequest, status)

	e := decodeErr(t, raw)
	assert.Equal(t, "VALIDATION", e.Code)
	fields := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{
		"recipient.email", "items[0].description", "items[0].quantity", "items[0].unit_price",
	}, fields)
}

func TestIssue_SinItems(t *testing.T) {
	f := newAPI(t)
	status, raw := f.call(t, http.MethodPost, "/api/dtes", tokenFor(t, testTenantID, pkgjwt.RoleEmisor),
		map[string]interface{}{"document_type": 39, "items": []interface{}{}})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", decodeErr(t, raw).Code)
}

func TestIssue_RolConsultaNoEmite(t *testing.T) {
	f := newAPI(t)
	status, _ := f.call(t, http.MethodPost, "/api/dtes", tokenFor(t, testTenantID, pkgjwt.RoleConsulta), boletaBody(false))
	assert.Equal(t, http.StatusForbidden, status)
}

func TestIssue_SinRangoActivo(t *testing.T) {
	f := newAPI(t)
	body := map[string]interface{}{
		"document_type": 34,
		"recipient":     map[string]interface{}{"tax_id": "96790240-3", "legal_name": "Cliente SpA"},
		"items":         []map[string]interface{}{{"description": "Asesoría", "quantity": "1", "unit_price": "50000"}},
	}
	status, raw := f.call(t, http.MethodPost, "/api/dtes", tokenFor(t, testTenantID, pkgjwt.RoleEmisor), body)
	require.Equal(t, http.StatusConflict, status, string(raw))
	assert.Equal(t, "NO_ACTIVE_RANGE", decodeErr(t, raw).Code)
}

func TestIssue_TipoNoSoportado(t *testing.T) {
	f := newAPI(t)
	body := boletaBody(false)
	body["document_type"] = 999
	status, raw := f.call(t, http.MethodPost, "/api/dtes", tokenFor(t, testTenantID, pkgjwt.RoleEmisor), body)
	require.Equal(t, http.StatusUnprocessableEntity, status, string(raw))
	assert.Equal(t, "INVALID_DOCUMENT", decodeErr(t, raw).Code)
}

func TestIssue_EnvioFallidoQuedaPendienteYSeReintenta(t *testing.T) {
	f := newAPI(t)
	auth := tokenFor(t, testTenantID, pkgjwt.RoleEmisor)
	f.mock.SetOutcome(mockauthority.OutcomeTransportFailure)

	status, raw := f.call(t, http.MethodPost, "/api/dtes", auth, boletaBody(true))
	require.Equal(t, http.StatusAccepted, status, string(raw))
	doc := decodeDoc(t, raw)
	assert.Equal(t, string(entity.StatePending), doc.State)
	require.NotNil(t, doc.Error)
	assert.Equal(t, "TRANSMISSION_FAILED", doc.Error.Code)
	folioNumber := doc.Folio

	f.mock.SetOutcome(mockauthority.OutcomeAccept)
	status, raw = f.call(t, http.MethodPost, "/api/dtes/"+doc.ID+"/retry", auth, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	retried := decodeDoc(t, raw)
	assert.Equal(t, string(entity.StateAccepted), retried.State)
	assert.Equal(t, folioNumber, retried.Folio, "el reintento conserva el folio")
	assert.Nil(t, retried.Error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Borradores, anulación y consulta
// ──────────────────────────────────────────────────────────────────────────────

func TestDraft_SubmitAsignaFolio(t *testing.T) {
	f := newAPI(t)
	auth := tokenFor(t, testTenantID, pkgjwt.RoleEmisor)

	status, raw := f.call(t, http.MethodPost, "/api/dtes/drafts", auth, boletaBody(false))
	require.Equal(t, http.StatusCreated, status, string(raw))
	draft := decodeDoc(t, raw)
	assert.Equal(t, string(entity.StateDraft), draft.State)
	assert.Zero(t, draft.Folio)
	assert.Empty(t, draft.XMLURL, "sin firma no hay XML publicado")

	status, raw = f.call(t, http.MethodPost, "/api/dtes/"+draft.ID+"/submit", auth, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	submitted := decodeDoc(t, raw)
	assert.Equal(t, string(entity.StatePending), submitted.State)
	assert.Equal(t, int64(1), submitted.Folio)

	status, raw = f.call(t, http.MethodPost, "/api/dtes/"+draft.ID+"/submit", auth, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", decodeErr(t, raw).Code)
}

func TestVoid_SoloAdminYSoloNoTerminal(t *testing.T) {
	f := newAPI(t)
	status, raw := f.call(t, http.MethodPost, "/api/dtes", tokenFor(t, testTenantID, pkgjwt.RoleEmisor), boletaBody(false))
	require.Equal(t, http.StatusCreated, status)
	doc := decodeDoc(t, raw)
	path := "/api/dtes/" + doc.ID + "/void"
	reason := map[string]string{"reason": "error de digitación"}

	status, _ = f.call(t, http.MethodPost, path, tokenFor(t, testTenantID, pkgjwt.RoleEmisor), reason)
	assert.Equal(t, http.StatusForbidden, status)

	admin := tokenFor(t, testTenantID, pkgjwt.RoleAdmin)
	status, raw = f.call(t, http.MethodPost, path, admin, map[string]string{})
	require.Equal(t, http.StatusBadRequest, status, "el motivo es obligatorio")

	status, raw = f.call(t, http.MethodPost, path, admin, reason)
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Equal(t, string(entity.StateVoided), decodeDoc(t, raw).State)

	status, raw = f.call(t, http.MethodPost, path, admin, reason)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", decodeErr(t, raw).Code)
}

func TestGet_HistorialYAislamientoPorTenant(t *testing.T) {
	f := newAPI(t)
	status, raw := f.call(t, http.MethodPost, "/api/dtes", tokenFor(t, testTenantID, pkgjwt.RoleEmisor), boletaBody(true))
	require.Equal(t, http.StatusCreated, status)
	id := decodeDoc(t, raw).ID

	status, raw = f.call(t, http.MethodGet, "/api/dtes/"+id, tokenFor(t, testTenantID, pkgjwt.RoleConsulta), nil)
	require.Equal(t, http.StatusOK, status)
	doc := decodeDoc(t, raw)
	require.Len(t, doc.Transitions, 3)
	assert.Equal(t, "PENDING", doc.Transitions[0].To)
	assert.Equal(t, "ACCEPTED", doc.Transitions[2].To)

	status, raw = f.call(t, http.MethodGet, "/api/dtes/"+id+"/status", tokenFor(t, testTenantID, pkgjwt.RoleConsulta), nil)
	require.Equal(t, http.StatusOK, status)
	var st dto.StatusResponse
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.True(t, st.Terminal)

	status, raw = f.call(t, http.MethodGet, "/api/dtes/"+id, tokenFor(t, "otro", pkgjwt.RoleAdmin), nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", decodeErr(t, raw).Code)
}

func TestList_Paginado(t *testing.T) {
	f := newAPI(t)
	auth := tokenFor(t, testTenantID, pkgjwt.RoleEmisor)
	for i := 0; i < 3; i++ {
		status, _ := f.call(t, http.MethodPost, "/api/dtes", auth, boletaBody(false))
		require.Equal(t, http.StatusCreated, status)
	}

	status, raw := f.call(t, http.MethodGet, "/api/dtes?limit=2&offset=0", auth, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	var page dto.DocumentListResponse
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Page.Total)

	status, _ = f.call(t, http.MethodGet, "/api/dtes?limit=500", auth, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPoll_DocumentoNoEnviado(t *testing.T) {
	f := newAPI(t)
	auth := tokenFor(t, testTenantID, pkgjwt.RoleEmisor)
	f.mock.SetMode(mockauthority.ModeAsync)

	status, raw := f.call(t, http.MethodPost, "/api/dtes", auth, boletaBody(true))
	require.Equal(t, http.StatusCreated, status, string(raw))
	doc := decodeDoc(t, raw)
	require.Equal(t, string(entity.StateSubmitted), doc.State)

	status, raw = f.call(t, http.MethodPost, "/api/dtes/"+doc.ID+"/poll?wait=2", auth, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Equal(t, string(entity.StateAccepted), decodeDoc(t, raw).State)
}

// ──────────────────────────────────────────────────────────────────────────────
// Artefactos
// ──────────────────────────────────────────────────────────────────────────────

func TestArtefactos_PDFyXML(t *testing.T) {
	f := newAPI(t)
	auth := tokenFor(t, testTenantID, pkgjwt.RoleEmisor)
	status, raw := f.call(t, http.MethodPost, "/api/dtes", auth, boletaBody(true))
	require.Equal(t, http.StatusCreated, status)
	id := decodeDoc(t, raw).ID

	req := httptest.NewRequest(http.MethodGet, "/api/dtes/"+id+"/pdf", nil)
	req.Header.Set("Authorization", auth)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))

	status, raw = f.call(t, http.MethodGet, "/api/dtes/"+id+"/xml", auth, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "DocumentoMock")
}

func TestArtefactos_XMLDeBorrador(t *testing.T) {
	f := newAPI(t)
	auth := tokenFor(t, testTenantID, pkgjwt.RoleEmisor)
	status, raw := f.call(t, http.MethodPost, "/api/dtes/drafts", auth, boletaBody(false))
	require.Equal(t, http.StatusCreated, status)

	status, raw = f.call(t, http.MethodGet, "/api/dtes/"+decodeDoc(t, raw).ID+"/xml", auth, nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_SIGNED", decodeErr(t, raw).Code)
}

// ──────────────────────────────────────────────────────────────────────────────
// Folios, certificados y tenant
// ──────────────────────────────────────────────────────────────────────────────

func TestFolios_RangoManualYCapacidad(t *testing.T) {
	f := newAPI(t)
	admin := tokenFor(t, testTenantID, pkgjwt.RoleAdmin)

	body := map[string]interface{}{
		"document_type": 34, "range_start": 11, "range_end": 20, "authorized_date": "2026-01-10",
	}
	status, raw := f.call(t, http.MethodPost, "/api/folios/ranges", admin, body)
	require.Equal(t, http.StatusCreated, status, string(raw))
	var r dto.FolioRangeResponse
	require.NoError(t, json.Unmarshal(raw, &r))
	assert.Equal(t, int64(10), r.Remaining)
	assert.Zero(t, r.LastIssued)

	status, raw = f.call(t, http.MethodGet, "/api/folios/34", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var capy dto.FolioCapacityResponse
	require.NoError(t, json.Unmarshal(raw, &capy))
	assert.Equal(t, int64(10), capy.Remaining)
	assert.False(t, capy.Expired)

	body["range_end"] = 5
	status, raw = f.call(t, http.MethodPost, "/api/folios/ranges", admin, body)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", decodeErr(t, raw).Code)

	status, raw = f.call(t, http.MethodGet, "/api/folios", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var list []dto.FolioRangeResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Len(t, list, 4)
}

func TestFolios_CAFIlegible(t *testing.T) {
	f := newAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/folios/caf", strings.NewReader("<no-es-un-caf/>"))
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Authorization", tokenFor(t, testTenantID, pkgjwt.RoleAdmin))
	status, raw := f.do(t, req)
	require.Equal(t, http.StatusBadRequest, status, string(raw))
	assert.Equal(t, "VALIDATION", decodeErr(t, raw).Code)
}

func credentialRequest(t *testing.T, p12 []byte, password string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("certificate", "firma.p12")
	require.NoError(t, err)
	_, err = part.Write(p12)
	require.NoError(t, err)
	require.NoError(t, w.WriteField("password", password))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/credentials", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", tokenFor(t, testTenantID, pkgjwt.RoleAdmin))
	return req
}

func TestCredentials_RotarYConsultar(t *testing.T) {
	f := newAPI(t)
	cert := testutil.NewCertificate(t, "Firmante T", time.Now().AddDate(0, 6, 0))

	status, raw := f.do(t, credentialRequest(t, cert.P12(t, "secreta"), "otra"))
	require.Equal(t, http.StatusUnprocessableEntity, status, string(raw))
	assert.Equal(t, "CREDENTIAL_INVALID", decodeErr(t, raw).Code)

	status, raw = f.call(t, http.MethodGet, "/api/credentials/status", tokenFor(t, testTenantID, pkgjwt.RoleConsulta), nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "NO_ACTIVE_CREDENTIAL", decodeErr(t, raw).Code)

	status, raw = f.do(t, credentialRequest(t, cert.P12(t, "secreta"), "secreta"))
	require.Equal(t, http.StatusCreated, status, string(raw))
	assert.NotContains(t, string(raw), "secreta")

	status, raw = f.call(t, http.MethodGet, "/api/credentials/status", tokenFor(t, testTenantID, pkgjwt.RoleConsulta), nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	var st dto.CredentialStatusResponse
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, "Firmante T", st.Subject)
	assert.InDelta(t, 182, st.DaysLeft, 3)
}

func TestTenantCheck_AdvierteTiposSinFolios(t *testing.T) {
	f := newAPI(t)
	status, raw := f.call(t, http.MethodGet, "/api/tenant/check", tokenFor(t, testTenantID, pkgjwt.RoleConsulta), nil)
	require.Equal(t, http.StatusOK, status, string(raw))

	var out dto.TenantCheckResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, out.Ready)
	assert.Equal(t, entity.CountryMock, out.Country)
	assert.Contains(t, out.Warnings, "tipo 34: sin rango de folios cargado")
	assert.Contains(t, out.Warnings, "tipo 41: sin rango de folios cargado")
}

func TestProviders_Publico(t *testing.T) {
	f := newAPI(t)
	status, raw := f.call(t, http.MethodGet, "/api/providers", "", nil)
	require.Equal(t, http.StatusOK, status)
	var out []dto.ProviderResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out, 1)
	assert.Equal(t, entity.CountryMock, out[0].Country)
}

func TestTenantInactivo_Bloqueado(t *testing.T) {
	f := newAPI(t)
	require.NoError(t, f.store.Tenants.Create(context.Background(), &entity.Tenant{
		ID: "inactivo", Country: entity.CountryMock, TaxID: "11111111-1", LegalName: "Baja SpA", Active: false,
	}))
	status, raw := f.call(t, http.MethodGet, "/api/dtes", tokenFor(t, "inactivo", pkgjwt.RoleAdmin), nil)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "TENANT_DISABLED", decodeErr(t, raw).Code)

	status, _ = f.call(t, http.MethodGet, "/api/dtes", tokenFor(t, "desconocido", pkgjwt.RoleAdmin), nil)
	assert.Equal(t, http.StatusForbidden, status)
}
