package folio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
	"github.com/jhoicas/emisor-dte/pkg/logger"
	"github.com/jhoicas/emisor-dte/pkg/sii"
)

// Authorization datos de un archivo de autorización de folios ya interpretado.
type Authorization struct {
	IssuerTaxID    string // RUT del emisor declarado en el CAF (vacío = no verificar)
	DocumentType   int
	RangeStart     int64
	RangeEnd       int64
	AuthorizedDate time.Time
	ExpiryDate     *time.Time
	Raw            string // XML original, se conserva para timbrar
}

// CAFParser interpreta el archivo que entrega la autoridad.
type CAFParser interface {
	Parse(raw []byte) (*Authorization, error)
}

// Importer carga autorizaciones de folios y reemplaza el rango activo.
type Importer struct {
	ranges  repository.FolioRangeRepository
	tenants repository.TenantRepository
	parser  CAFParser
	log     *logger.Logger
}

// NewImporter construye el caso de uso. parser puede ser nil si solo se usa ImportRange.
func NewImporter(ranges repository.FolioRangeRepository, tenants repository.TenantRepository, parser CAFParser, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.Nop()
	}
	return &Importer{ranges: ranges, tenants: tenants, parser: parser, log: log.Module("caf")}
}

// ImportCAF interpreta el archivo de la autoridad y lo registra como rango activo.
func (i *Importer) ImportCAF(ctx context.Context, tenantID string, raw []byte) (*entity.FolioRange, error) {
	if i.parser == nil {
		return nil, fmt.Errorf("%w: importador sin parser de CAF", domain.ErrNotImplemented)
	}
	auth, err := i.parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return i.ImportRange(ctx, tenantID, *auth)
}

// ImportRange registra un rango: valida contra el tenant y los rangos previos,
// desactiva el activo anterior del mismo tipo e inserta el nuevo con cursor en RangeStart-1.
func (i *Importer) ImportRange(ctx context.Context, tenantID string, auth Authorization) (*entity.FolioRange, error) {
	tenant, err := i.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("caf: obtener tenant: %w", err)
	}
	if tenant == nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, domain.ErrNotFound)
	}
	if err := validateAuthorization(tenant, auth); err != nil {
		return nil, err
	}

	prev, err := i.ranges.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("caf: listar rangos: %w", err)
	}
	for _, p := range prev {
		if p.DocumentType != auth.DocumentType {
			continue
		}
		if auth.RangeStart <= p.RangeEnd && p.RangeStart <= auth.RangeEnd {
			return nil, fmt.Errorf("%w: el rango [%d,%d] se superpone con uno ya cargado [%d,%d]",
				domain.ErrInvalidInput, auth.RangeStart, auth.RangeEnd, p.RangeStart, p.RangeEnd)
		}
	}

	r := &entity.FolioRange{
		TenantID:       tenantID,
		DocumentType:   auth.DocumentType,
		RangeStart:     auth.RangeStart,
		RangeEnd:       auth.RangeEnd,
		Cursor:         auth.RangeStart - 1,
		AuthorizedDate: auth.AuthorizedDate,
		ExpiryDate:     auth.ExpiryDate,
		CAFXML:         auth.Raw,
	}
	if err := i.ranges.ReplaceActive(ctx, r); err != nil {
		return nil, fmt.Errorf("caf: registrar rango: %w", err)
	}
	i.log.Info().
		Str("tenant_id", tenantID).
		Int("document_type", r.DocumentType).
		Int64("range_start", r.RangeStart).
		Int64("range_end", r.RangeEnd).
		Msg("CAF cargado")
	return r, nil
}

func validateAuthorization(tenant *entity.Tenant, auth Authorization) error {
	if auth.DocumentType <= 0 {
		return fmt.Errorf("%w: tipo de documento %d", domain.ErrInvalidInput, auth.DocumentType)
	}
	if auth.RangeStart <= 0 || auth.RangeEnd < auth.RangeStart {
		return fmt.Errorf("%w: rango [%d,%d] inválido", domain.ErrInvalidInput, auth.RangeStart, auth.RangeEnd)
	}
	if auth.ExpiryDate != nil && !auth.ExpiryDate.After(auth.AuthorizedDate) {
		return fmt.Errorf("%w: el vencimiento es anterior a la autorización", domain.ErrInvalidInput)
	}
	if auth.IssuerTaxID == "" {
		return nil
	}
	if !sameTaxID(tenant, auth.IssuerTaxID) {
		return fmt.Errorf("%w: el CAF pertenece a %s y el tenant es %s",
			domain.ErrInvalidInput, auth.IssuerTaxID, tenant.TaxID)
	}
	return nil
}

func sameTaxID(tenant *entity.Tenant, other string) bool {
	if tenant.Country == entity.CountryChile {
		a, errA := sii.NormalizeRUT(tenant.TaxID)
		b, errB := sii.NormalizeRUT(other)
		return errA == nil && errB == nil && a == b
	}
	return strings.EqualFold(strings.TrimSpace(tenant.TaxID), strings.TrimSpace(other))
}

// Ranges rangos registrados del tenant, activos e inactivos.
func (i *Importer) Ranges(ctx context.Context, tenantID string) ([]*entity.FolioRange, error) {
	list, err := i.ranges.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("caf: listar rangos: %w", err)
	}
	return list, nil
}
