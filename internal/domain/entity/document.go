package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentState estado del ciclo de vida de un DTE.
type DocumentState string

const (
	StateDraft                    DocumentState = "DRAFT"
	StatePending                  DocumentState = "PENDING"
	StateSubmitted                DocumentState = "SUBMITTED"
	StateAccepted                 DocumentState = "ACCEPTED"
	StateAcceptedWithObservations DocumentState = "ACCEPTED_WITH_OBSERVATIONS"
	StateRejected                 DocumentState = "REJECTED"
	StateVoided                   DocumentState = "VOIDED"
)

// Party emisor o receptor del documento.
type Party struct {
	TaxID        string
	LegalName    string
	BusinessLine string
	ActivityCode string
	Address      string
	Commune      string
	City         string
	Email        string
}

// LineItem línea de detalle. Sequence es contiguo desde 1 y LineTotal se deriva
// de Quantity, UnitPrice y el descuento con la misma regla de redondeo que los montos.
type LineItem struct {
	Sequence        int
	Code            string
	Description     string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	DiscountAmount  decimal.Decimal
	LineTotal       decimal.Decimal
	Exempt          bool
}

// Document representa un DTE emitido por un tenant.
// Invariante: NetAmount + TaxAmount + ExemptAmount == TotalAmount.
// Fuera de DRAFT, Folio, LineItems y TotalAmount son inmutables.
type Document struct {
	ID                  string
	TenantID            string
	DocumentType        int
	Folio               int64 // 0 mientras no se asigne
	IssueDate           time.Time
	Issuer              Party
	Recipient           *Party
	LineItems           []LineItem
	NetAmount           decimal.Decimal
	TaxAmount           decimal.Decimal
	ExemptAmount        decimal.Decimal
	TotalAmount         decimal.Decimal
	State               DocumentState
	TrackID             string
	RawContent          string
	SignedContent       string
	AuthorityMessage    string // glosa de la autoridad (reparos, motivo de rechazo)
	ReferenceDocumentID string
	ReferenceReason     string
	TransmitToAuthority bool
	SendReceiptEmail    bool
	Version             int64 // se incrementa en cada transición persistida
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// StateTransition registro inmutable de un cambio de estado.
type StateTransition struct {
	ID         string
	DocumentID string
	From       DocumentState
	To         DocumentState
	Detail     string
	At         time.Time
}
