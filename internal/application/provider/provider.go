// Package provider define el contrato de integración con cada autoridad tributaria
// y el registro que resuelve la implementación por país.
package provider

import (
	"context"
	"fmt"
	"slices"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

// Capability datos estáticos de registro de un proveedor. Solo lectura tras el arranque.
type Capability struct {
	Country                string
	SupportedDocumentTypes []int
	// TaxInclusiveTypes tipos cuyos precios de línea incluyen el impuesto (boletas).
	TaxInclusiveTypes []int
	// ExemptTypes tipos íntegramente exentos.
	ExemptTypes []int
	// ReferenceRequiredTypes tipos que deben referenciar otro documento (notas).
	ReferenceRequiredTypes []int
	// RecipientOptionalTypes tipos que admiten receptor anónimo (DefaultRecipient).
	RecipientOptionalTypes []int
	DefaultRecipient       *entity.Party
	// UsesSeries la jurisdicción numera con serie+correlativo en vez de rangos autorizados.
	UsesSeries bool
}

func (c Capability) Supports(documentType int) bool {
	return slices.Contains(c.SupportedDocumentTypes, documentType)
}

func (c Capability) TaxInclusive(documentType int) bool {
	return slices.Contains(c.TaxInclusiveTypes, documentType)
}

func (c Capability) Exempt(documentType int) bool {
	return slices.Contains(c.ExemptTypes, documentType)
}

func (c Capability) RequiresReference(documentType int) bool {
	return slices.Contains(c.ReferenceRequiredTypes, documentType)
}

func (c Capability) RecipientOptional(documentType int) bool {
	return slices.Contains(c.RecipientOptionalTypes, documentType)
}

// TransmitResult resultado de un envío. Accepted indica éxito de transporte (recepción),
// no aceptación de negocio.
type TransmitResult struct {
	Accepted     bool
	TrackID      string
	ErrorCode    string
	ErrorMessage string
	// Status veredicto sincrónico, cuando la autoridad lo entrega en la misma respuesta.
	Status *StatusResult
}

// StatusResult estado informado por la autoridad.
// State es SUBMITTED mientras la autoridad no entrega veredicto.
type StatusResult struct {
	State    entity.DocumentState
	Accepted bool
	Code     string
	Message  string
}

// Final indica si el estado es un veredicto.
func (s StatusResult) Final() bool {
	return s.State == entity.StateAccepted || s.State == entity.StateAcceptedWithObservations || s.State == entity.StateRejected
}

// SeriesFolio numeración serie+correlativo (ej: F001-00000042).
type SeriesFolio struct {
	Series string
	Number int64
}

func (s SeriesFolio) String() string {
	return fmt.Sprintf("%s-%08d", s.Series, s.Number)
}

// AuthorityProvider integración con una autoridad tributaria.
// Una operación no disponible en la jurisdicción devuelve domain.ErrNotImplemented.
type AuthorityProvider interface {
	Capability() Capability
	BuildRepresentation(ctx context.Context, doc *entity.Document) ([]byte, error)
	Sign(ctx context.Context, raw []byte, tenantID string) ([]byte, error)
	Transmit(ctx context.Context, signed []byte, tenantID string) (*TransmitResult, error)
	PollStatus(ctx context.Context, trackID, tenantID string) (*StatusResult, error)
	// ValidateTenantConfiguration nil si el tenant puede emitir en esta jurisdicción.
	ValidateTenantConfiguration(ctx context.Context, tenantID string) error
	NextSeriesFolio(ctx context.Context, tenantID string, documentType int) (SeriesFolio, error)
}

// Unimplemented se embebe en proveedores parciales: toda operación no sobrescrita
// devuelve domain.ErrNotImplemented con el país en el mensaje.
type Unimplemented struct {
	Country string
}

func (u Unimplemented) notImplemented(op string) error {
	return fmt.Errorf("%w: %s en %s", domain.ErrNotImplemented, op, u.Country)
}

func (u Unimplemented) BuildRepresentation(context.Context, *entity.Document) ([]byte, error) {
	return nil, u.notImplemented("buildRepresentation")
}

func (u Unimplemented) Sign(context.Context, []byte, string) ([]byte, error) {
	return nil, u.notImplemented("sign")
}

func (u Unimplemented) Transmit(context.Context, []byte, string) (*TransmitResult, error) {
	return nil, u.notImplemented("transmit")
}

func (u Unimplemented) PollStatus(context.Context, string, string) (*StatusResult, error) {
	return nil, u.notImplemented("pollStatus")
}

func (u Unimplemented) ValidateTenantConfiguration(context.Context, string) error {
	return u.notImplemented("validateTenantConfiguration")
}

func (u Unimplemented) NextSeriesFolio(context.Context, string, int) (SeriesFolio, error) {
	return SeriesFolio{}, u.notImplemented("nextSeriesFolio")
}
