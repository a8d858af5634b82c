package dte

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/emisor-dte/internal/application/provider"
	"github.com/jhoicas/emisor-dte/internal/domain"
	dterules "github.com/jhoicas/emisor-dte/internal/domain/dte"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

// Builder arma la representación canónica en memoria del documento (sin folio).
type Builder struct {
	calc *dterules.Calculator
	loc  *time.Location
	now  func() time.Time
}

// NewBuilder construye el armador. loc define el día calendario de la fecha de emisión.
func NewBuilder(calc *dterules.Calculator, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{calc: calc, loc: loc, now: time.Now}
}

// Build arma un documento DRAFT con líneas numeradas, montos calculados y partes completas.
func (b *Builder) Build(tenant *entity.Tenant, capab provider.Capability, req IssueRequest) (*entity.Document, error) {
	if !capab.Supports(req.DocumentType) {
		return nil, fmt.Errorf("%w: tipo %d no soportado en %s", domain.ErrInvalidDocument, req.DocumentType, capab.Country)
	}

	items := make([]entity.LineItem, len(req.LineItems))
	for i, in := range req.LineItems {
		it := entity.LineItem{
			Sequence:        i + 1,
			Code:            strings.TrimSpace(in.Code),
			Description:     strings.TrimSpace(in.Description),
			Quantity:        in.Quantity,
			UnitPrice:       in.UnitPrice,
			DiscountPercent: in.DiscountPercent,
			DiscountAmount:  in.DiscountAmount,
			Exempt:          in.Exempt,
		}
		it.LineTotal = b.calc.LineTotal(it)
		items[i] = it
	}
	if err := dterules.ValidateLineItems(b.calc, items); err != nil {
		return nil, err
	}

	allExempt := capab.Exempt(req.DocumentType)
	taxInclusive := capab.TaxInclusive(req.DocumentType)
	if req.PricesIncludeTax != nil {
		taxInclusive = *req.PricesIncludeTax
	}
	var m dterules.Montos
	if taxInclusive {
		m = b.calc.FromLineItems(items, allExempt)
	} else {
		m = b.calc.FromNetLineItems(items, allExempt)
	}
	if !b.calc.Validate(m) {
		return nil, fmt.Errorf("%w: los montos calculados no cuadran", domain.ErrInvalidDocument)
	}

	recipient := req.Recipient
	if recipient == nil {
		if !capab.RecipientOptional(req.DocumentType) || capab.DefaultRecipient == nil {
			return nil, fmt.Errorf("%w: el tipo %d requiere receptor", domain.ErrInvalidDocument, req.DocumentType)
		}
		r := *capab.DefaultRecipient
		recipient = &r
	}
	if recipient.TaxID == "" {
		return nil, fmt.Errorf("%w: receptor sin identificación tributaria", domain.ErrInvalidDocument)
	}
	if capab.RequiresReference(req.DocumentType) && req.ReferenceDocumentID == "" {
		return nil, fmt.Errorf("%w: el tipo %d debe referenciar un documento", domain.ErrInvalidDocument, req.DocumentType)
	}

	return &entity.Document{
		ID:                  uuid.New().String(),
		TenantID:            tenant.ID,
		DocumentType:        req.DocumentType,
		IssueDate:           b.issueDate(req.IssueDate),
		Issuer:              issuerFrom(tenant),
		Recipient:           recipient,
		LineItems:           items,
		NetAmount:           m.Neto,
		TaxAmount:           m.IVA,
		ExemptAmount:        m.Exento,
		TotalAmount:         m.Total,
		State:               entity.StateDraft,
		ReferenceDocumentID: req.ReferenceDocumentID,
		ReferenceReason:     strings.TrimSpace(req.ReferenceReason),
		TransmitToAuthority: req.TransmitToAuthority,
		SendReceiptEmail:    req.SendReceiptEmail,
	}, nil
}

// issueDate día calendario en la zona del emisor, a medianoche.
func (b *Builder) issueDate(requested *time.Time) time.Time {
	t := b.now()
	if requested != nil {
		t = *requested
	}
	y, m, d := t.In(b.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, b.loc)
}

func issuerFrom(t *entity.Tenant) entity.Party {
	return entity.Party{
		TaxID:        t.TaxID,
		LegalName:    t.LegalName,
		BusinessLine: t.BusinessLine,
		ActivityCode: t.ActivityCode,
		Address:      t.Address,
		Commune:      t.Commune,
		City:         t.City,
		Email:        t.Email,
	}
}
