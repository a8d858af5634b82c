// Package seniat reserva la integración con el SENIAT (Venezuela). Todas las
// operaciones responden domain.ErrNotImplemented.
package seniat

import (
	"github.com/jhoicas/emisor-dte/internal/application/provider"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

// Tipos de documento de la Providencia SNAT/2011/00071.
const (
	TipoFactura     = 1
	TipoNotaDebito  = 2
	TipoNotaCredito = 3
)

// Provider stub de Venezuela.
type Provider struct {
	provider.Unimplemented
}

var _ provider.AuthorityProvider = Provider{}

func New() Provider {
	return Provider{Unimplemented: provider.Unimplemented{Country: entity.CountryVenezuela}}
}

func (Provider) Capability() provider.Capability {
	return provider.Capability{
		Country:                entity.CountryVenezuela,
		SupportedDocumentTypes: []int{TipoFactura, TipoNotaDebito, TipoNotaCredito},
		ReferenceRequiredTypes: []int{TipoNotaDebito, TipoNotaCredito},
	}
}
