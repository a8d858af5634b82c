package dto

import (
	"time"

	"github.com/jhoicas/emisor-dte/internal/application/folio"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

// ImportRangeRequest registro manual de un rango (jurisdicciones sin archivo CAF o pruebas).
type ImportRangeRequest struct {
	DocumentType   int    `json:"document_type" validate:"required,gt=0"`
	RangeStart     int64  `json:"range_start" validate:"required,gt=0"`
	RangeEnd       int64  `json:"range_end" validate:"required,gtefield=RangeStart"`
	AuthorizedDate string `json:"authorized_date" validate:"required,datetime=2006-01-02"`
	ExpiryDate     string `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
}

// ToAuthorization traduce la solicitud. Las fechas ya fueron validadas con el formato YYYY-MM-DD.
func (r ImportRangeRequest) ToAuthorization() folio.Authorization {
	auth := folio.Authorization{
		DocumentType: r.DocumentType,
		RangeStart:   r.RangeStart,
		RangeEnd:     r.RangeEnd,
	}
	auth.AuthorizedDate, _ = time.Parse(time.DateOnly, r.AuthorizedDate)
	if r.ExpiryDate != "" {
		exp, _ := time.Parse(time.DateOnly, r.ExpiryDate)
		auth.ExpiryDate = &exp
	}
	return auth
}

// FolioRangeResponse rango de folios autorizado.
type FolioRangeResponse struct {
	ID             string  `json:"id"`
	DocumentType   int     `json:"document_type"`
	RangeStart     int64   `json:"range_start"`
	RangeEnd       int64   `json:"range_end"`
	LastIssued     int64   `json:"last_issued"`
	Remaining      int64   `json:"remaining"`
	AuthorizedDate string  `json:"authorized_date"`
	ExpiryDate     *string `json:"expiry_date,omitempty"`
	Active         bool    `json:"active"`
}

// NewFolioRangeResponse arma la respuesta. LastIssued es 0 si aún no se entrega ningún folio.
func NewFolioRangeResponse(r *entity.FolioRange) FolioRangeResponse {
	out := FolioRangeResponse{
		ID:             r.ID,
		DocumentType:   r.DocumentType,
		RangeStart:     r.RangeStart,
		RangeEnd:       r.RangeEnd,
		Remaining:      r.Remaining(),
		AuthorizedDate: r.AuthorizedDate.Format(time.DateOnly),
		Active:         r.Active,
	}
	if r.Cursor >= r.RangeStart {
		out.LastIssued = r.Cursor
	}
	if r.ExpiryDate != nil {
		s := r.ExpiryDate.Format(time.DateOnly)
		out.ExpiryDate = &s
	}
	return out
}

// FolioCapacityResponse capacidad del rango activo de un tipo.
type FolioCapacityResponse struct {
	DocumentType int                 `json:"document_type"`
	Remaining    int64               `json:"remaining"`
	Expired      bool                `json:"expired"`
	Low          bool                `json:"low"`
	Range        *FolioRangeResponse `json:"range,omitempty"`
}

// NewFolioCapacityResponse st nil significa que no hay rango activo.
func NewFolioCapacityResponse(documentType int, st *folio.Status) FolioCapacityResponse {
	out := FolioCapacityResponse{DocumentType: documentType, Low: true}
	if st == nil {
		return out
	}
	r := NewFolioRangeResponse(st.Range)
	out.Remaining = st.Remaining
	out.Expired = st.Expired
	out.Low = st.Low
	out.Range = &r
	return out
}

// CredentialResponse certificado registrado (nunca expone el .p12 ni la contraseña).
type CredentialResponse struct {
	ID         string    `json:"id"`
	ExpiryDate time.Time `json:"expiry_date"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewCredentialResponse arma la respuesta.
func NewCredentialResponse(c *entity.SigningCredential) CredentialResponse {
	return CredentialResponse{ID: c.ID, ExpiryDate: c.ExpiryDate, Active: c.Active, CreatedAt: c.CreatedAt}
}

// CredentialStatusResponse estado del certificado activo del tenant.
type CredentialStatusResponse struct {
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	ExpiresAt time.Time `json:"expires_at"`
	DaysLeft  int       `json:"days_left"`
}

// TenantCheckResponse resultado de la verificación de configuración del tenant.
type TenantCheckResponse struct {
	Country  string   `json:"country"`
	Ready    bool     `json:"ready"`
	Problem  string   `json:"problem,omitempty"`
	Code     string   `json:"code,omitempty"`
	DocTypes []int    `json:"document_types"`
	Warnings []string `json:"warnings,omitempty"`
}

// ProviderResponse capacidades de un proveedor registrado.
type ProviderResponse struct {
	Country                string `json:"country"`
	SupportedDocumentTypes []int  `json:"supported_document_types"`
	UsesSeries             bool   `json:"uses_series"`
}

// DocumentListResponse listado paginado de documentos.
type DocumentListResponse struct {
	Items []DocumentResponse `json:"items"`
	Page  PageResponse       `json:"page"`
}
