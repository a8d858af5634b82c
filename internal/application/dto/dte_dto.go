package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/emisor-dte/internal/application/dte"
	dtedomain "github.com/jhoicas/emisor-dte/internal/domain/dte"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/pkg/sii"
)

// PartyRequest receptor del documento.
type PartyRequest struct {
	TaxID        string `json:"tax_id" validate:"required,max=20"`
	LegalName    string `json:"legal_name" validate:"required,max=100"`
	BusinessLine string `json:"business_line" validate:"max=40"`
	ActivityCode string `json:"activity_code" validate:"omitempty,numeric,max=6"`
	Address      string `json:"address" validate:"max=70"`
	Commune      string `json:"commune" validate:"max=20"`
	City         string `json:"city" validate:"max=20"`
	Email        string `json:"email" validate:"omitempty,email,max=80"`
}

// LineItemRequest línea de detalle en la solicitud de emisión.
type LineItemRequest struct {
	Code            string          `json:"code" validate:"max=35"`
	Description     string          `json:"description" validate:"required,max=80"`
	Quantity        decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice       decimal.Decimal `json:"unit_price" validate:"gte=0"`
	DiscountPercent decimal.Decimal `json:"discount_percent" validate:"gte=0,lte=100"`
	DiscountAmount  decimal.Decimal `json:"discount_amount" validate:"gte=0"`
	Exempt          bool            `json:"exempt"`
}

// IssueDTERequest cuerpo de POST /api/dtes y POST /api/dtes/drafts.
type IssueDTERequest struct {
	DocumentType        int               `json:"document_type" validate:"required,gt=0"`
	IssueDate           string            `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	Recipient           *PartyRequest     `json:"recipient" validate:"omitempty"`
	Items               []LineItemRequest `json:"items" validate:"required,min=1,max=60,dive"`
	ReferenceDocumentID string            `json:"reference_document_id" validate:"max=64"`
	ReferenceReason     string            `json:"reference_reason" validate:"max=90"`
	TransmitToAuthority bool              `json:"transmit_to_authority"`
	SendReceiptEmail    bool              `json:"send_receipt_email"`
	PricesIncludeTax    *bool             `json:"prices_include_tax"`
}

// ToIssueRequest traduce la solicitud HTTP al caso de uso. La fecha se interpreta en loc.
func (r IssueDTERequest) ToIssueRequest(tenantID string, loc *time.Location) (dte.IssueRequest, error) {
	out := dte.IssueRequest{
		TenantID:            tenantID,
		DocumentType:        r.DocumentType,
		ReferenceDocumentID: strings.TrimSpace(r.ReferenceDocumentID),
		ReferenceReason:     strings.TrimSpace(r.ReferenceReason),
		TransmitToAuthority: r.TransmitToAuthority,
		SendReceiptEmail:    r.SendReceiptEmail,
		PricesIncludeTax:    r.PricesIncludeTax,
	}
	if r.IssueDate != "" {
		if loc == nil {
			loc = time.UTC
		}
		d, err := time.ParseInLocation(time.DateOnly, r.IssueDate, loc)
		if err != nil {
			return dte.IssueRequest{}, fmt.Errorf("issue_date: %w", err)
		}
		out.IssueDate = &d
	}
	if r.Recipient != nil {
		out.Recipient = &entity.Party{
			TaxID:        strings.TrimSpace(r.Recipient.TaxID),
			LegalName:    strings.TrimSpace(r.Recipient.LegalName),
			BusinessLine: r.Recipient.BusinessLine,
			ActivityCode: r.Recipient.ActivityCode,
			Address:      r.Recipient.Address,
			Commune:      r.Recipient.Commune,
			City:         r.Recipient.City,
			Email:        strings.TrimSpace(r.Recipient.Email),
		}
	}
	for _, it := range r.Items {
		out.LineItems = append(out.LineItems, dte.LineInput{
			Code:            it.Code,
			Description:     it.Description,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			DiscountPercent: it.DiscountPercent,
			DiscountAmount:  it.DiscountAmount,
			Exempt:          it.Exempt,
		})
	}
	return out, nil
}

// VoidDTERequest cuerpo de POST /api/dtes/:id/void.
type VoidDTERequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

// PartyResponse emisor o receptor en la respuesta.
type PartyResponse struct {
	TaxID        string `json:"tax_id"`
	LegalName    string `json:"legal_name"`
	BusinessLine string `json:"business_line,omitempty"`
	Address      string `json:"address,omitempty"`
	Commune      string `json:"commune,omitempty"`
	City         string `json:"city,omitempty"`
	Email        string `json:"email,omitempty"`
}

// LineItemResponse línea tal como quedó calculada.
type LineItemResponse struct {
	Sequence        int             `json:"sequence"`
	Code            string          `json:"code,omitempty"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	LineTotal       decimal.Decimal `json:"line_total"`
	Exempt          bool            `json:"exempt"`
}

// TransitionResponse registro del historial de estados.
type TransitionResponse struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// DocumentResponse representación de un DTE para el cliente.
type DocumentResponse struct {
	ID                  string               `json:"id"`
	DocumentType        int                  `json:"document_type"`
	DocumentTypeName    string               `json:"document_type_name"`
	Folio               int64                `json:"folio,omitempty"`
	IssueDate           string               `json:"issue_date"`
	State               string               `json:"state"`
	StatusDescription   string               `json:"status_description"`
	TrackID             string               `json:"track_id,omitempty"`
	AuthorityMessage    string               `json:"authority_message,omitempty"`
	Issuer              PartyResponse        `json:"issuer"`
	Recipient           *PartyResponse       `json:"recipient,omitempty"`
	Items               []LineItemResponse   `json:"items"`
	NetAmount           decimal.Decimal      `json:"net_amount"`
	TaxAmount           decimal.Decimal      `json:"tax_amount"`
	ExemptAmount        decimal.Decimal      `json:"exempt_amount"`
	TotalAmount         decimal.Decimal      `json:"total_amount"`
	ReferenceDocumentID string               `json:"reference_document_id,omitempty"`
	ReferenceReason     string               `json:"reference_reason,omitempty"`
	PDFURL              string               `json:"pdf_url,omitempty"`
	XMLURL              string               `json:"xml_url,omitempty"`
	Transitions         []TransitionResponse `json:"transitions,omitempty"`
	// Error presente cuando la operación dejó el documento en un estado recuperable (ej: envío fallido).
	Error     *ErrorResponse `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StatusResponse vista liviana para GET /api/dtes/:id/status.
type StatusResponse struct {
	ID                string `json:"id"`
	Folio             int64  `json:"folio,omitempty"`
	State             string `json:"state"`
	StatusDescription string `json:"status_description"`
	TrackID           string `json:"track_id,omitempty"`
	AuthorityMessage  string `json:"authority_message,omitempty"`
	Terminal          bool   `json:"terminal"`
}

// NewDocumentResponse arma la respuesta. baseURL se antepone a las rutas de artefactos;
// el XML solo se publica cuando el documento ya está firmado.
func NewDocumentResponse(doc *entity.Document, transitions []*entity.StateTransition, baseURL string) DocumentResponse {
	out := DocumentResponse{
		ID:                  doc.ID,
		DocumentType:        doc.DocumentType,
		DocumentTypeName:    documentTypeName(doc.DocumentType),
		Folio:               doc.Folio,
		IssueDate:           doc.IssueDate.Format(time.DateOnly),
		State:               string(doc.State),
		StatusDescription:   dtedomain.Description(doc.State),
		TrackID:             doc.TrackID,
		AuthorityMessage:    doc.AuthorityMessage,
		Issuer:              partyResponse(doc.Issuer),
		NetAmount:           doc.NetAmount,
		TaxAmount:           doc.TaxAmount,
		ExemptAmount:        doc.ExemptAmount,
		TotalAmount:         doc.TotalAmount,
		ReferenceDocumentID: doc.ReferenceDocumentID,
		ReferenceReason:     doc.ReferenceReason,
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           doc.UpdatedAt,
	}
	if doc.Recipient != nil {
		r := partyResponse(*doc.Recipient)
		out.Recipient = &r
	}
	out.Items = make([]LineItemResponse, 0, len(doc.LineItems))
	for _, li := range doc.LineItems {
		out.Items = append(out.Items, LineItemResponse{
			Sequence:        li.Sequence,
			Code:            li.Code,
			Description:     li.Description,
			Quantity:        li.Quantity,
			UnitPrice:       li.UnitPrice,
			DiscountPercent: li.DiscountPercent,
			DiscountAmount:  li.DiscountAmount,
			LineTotal:       li.LineTotal,
			Exempt:          li.Exempt,
		})
	}
	base := strings.TrimRight(baseURL, "/") + "/api/dtes/" + doc.ID
	out.PDFURL = base + "/pdf"
	if doc.SignedContent != "" {
		out.XMLURL = base + "/xml"
	}
	for _, t := range transitions {
		out.Transitions = append(out.Transitions, TransitionResponse{
			From: string(t.From), To: string(t.To), Detail: t.Detail, At: t.At,
		})
	}
	return out
}

// NewStatusResponse vista de estado del documento.
func NewStatusResponse(doc *entity.Document) StatusResponse {
	return StatusResponse{
		ID:                doc.ID,
		Folio:             doc.Folio,
		State:             string(doc.State),
		StatusDescription: dtedomain.Description(doc.State),
		TrackID:           doc.TrackID,
		AuthorityMessage:  doc.AuthorityMessage,
		Terminal:          dtedomain.IsTerminal(doc.State),
	}
}

func partyResponse(p entity.Party) PartyResponse {
	return PartyResponse{
		TaxID:        p.TaxID,
		LegalName:    p.LegalName,
		BusinessLine: p.BusinessLine,
		Address:      p.Address,
		Commune:      p.Commune,
		City:         p.City,
		Email:        p.Email,
	}
}

func documentTypeName(t int) string {
	if n, ok := sii.NombresTipoDTE[t]; ok {
		return n
	}
	return fmt.Sprintf("TIPO %d", t)
}
