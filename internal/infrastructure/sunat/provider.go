// Package sunat integra la emisión de comprobantes electrónicos de Perú (SUNAT).
// Por ahora solo la numeración serie+correlativo; el resto de las operaciones responde
// domain.ErrNotImplemented.
package sunat

import (
	"context"
	"fmt"

	"github.com/jhoicas/emisor-dte/internal/application/provider"
	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// Tipos de comprobante (catálogo 01 de SUNAT).
const (
	TipoFactura     = 1
	TipoBoleta      = 3
	TipoNotaCredito = 7
	TipoNotaDebito  = 8
)

// DefaultSeries serie por tipo de comprobante. Las notas usan la serie de facturas.
var DefaultSeries = map[int]string{
	TipoFactura:     "F001",
	TipoBoleta:      "B001",
	TipoNotaCredito: "F001",
	TipoNotaDebito:  "F001",
}

// Provider numeración de comprobantes SUNAT.
type Provider struct {
	provider.Unimplemented

	series repository.SeriesRepository
	names  map[int]string
	log    *logger.Logger
}

var _ provider.AuthorityProvider = (*Provider)(nil)

// New construye el proveedor. series nil usa DefaultSeries.
func New(repo repository.SeriesRepository, series map[int]string, log *logger.Logger) *Provider {
	if series == nil {
		series = DefaultSeries
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Provider{
		Unimplemented: provider.Unimplemented{Country: entity.CountryPeru},
		series:        repo,
		names:         series,
		log:           log.Module("sunat"),
	}
}

func (p *Provider) Capability() provider.Capability {
	return provider.Capability{
		Country:                entity.CountryPeru,
		SupportedDocumentTypes: []int{TipoFactura, TipoBoleta, TipoNotaCredito, TipoNotaDebito},
		TaxInclusiveTypes:      []int{TipoBoleta},
		ReferenceRequiredTypes: []int{TipoNotaCredito, TipoNotaDebito},
		RecipientOptionalTypes: []int{TipoBoleta},
		DefaultRecipient:       &entity.Party{TaxID: "00000000", LegalName: "CLIENTES VARIOS"},
		UsesSeries:             true,
	}
}

// NextSeriesFolio siguiente correlativo de la serie del tipo. El incremento es atómico en el store.
func (p *Provider) NextSeriesFolio(ctx context.Context, tenantID string, documentType int) (provider.SeriesFolio, error) {
	series, ok := p.names[documentType]
	if !ok {
		return provider.SeriesFolio{}, fmt.Errorf("%w: tipo %d sin serie configurada", domain.ErrInvalidDocument, documentType)
	}
	n, err := p.series.NextCorrelative(ctx, tenantID, documentType, series)
	if err != nil {
		return provider.SeriesFolio{}, fmt.Errorf("sunat: correlativo %s: %w", series, err)
	}
	sf := provider.SeriesFolio{Series: series, Number: n}
	p.log.Debug().Str("tenant_id", tenantID).Str("folio", sf.String()).Msg("correlativo asignado")
	return sf, nil
}
