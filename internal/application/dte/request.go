// Package dte orquesta la emisión de documentos tributarios electrónicos:
// armado, asignación de folio, firma, envío a la autoridad y seguimiento de estado.
package dte

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

// LineInput línea tal como llega en la solicitud de emisión.
type LineInput struct {
	Code            string
	Description     string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	DiscountAmount  decimal.Decimal
	Exempt          bool
}

// IssueRequest solicitud de emisión proveniente del módulo de ventas.
type IssueRequest struct {
	TenantID            string
	DocumentType        int
	IssueDate           *time.Time
	LineItems           []LineInput
	Recipient           *entity.Party
	ReferenceDocumentID string
	ReferenceReason     string
	TransmitToAuthority bool
	SendReceiptEmail    bool
	// PricesIncludeTax fuerza la interpretación de los precios; nil usa la capacidad del proveedor.
	PricesIncludeTax *bool
}
