package sii

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/emisor-dte/internal/application/provider"
	"github.com/jhoicas/emisor-dte/internal/application/signing"
	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
	"github.com/jhoicas/emisor-dte/pkg/logger"
	"github.com/jhoicas/emisor-dte/pkg/sii"
)

// Signer firma con el certificado del tenant (signing.Service).
type Signer interface {
	Sign(ctx context.Context, raw []byte, tenantID string) ([]byte, error)
	Credential(ctx context.Context, tenantID string) (*signing.Credential, error)
}

// Config parámetros del proveedor Chile.
type Config struct {
	Environment      string // dev | cert | prod
	SenderRUT        string // RutEnvia; vacío = RUT del emisor
	ResolutionNumber int
	ResolutionDate   time.Time
	TaxRate          decimal.Decimal
	Location         *time.Location
}

// Provider integración con el SII.
// En ambiente dev arma, timbra y firma igual que en producción pero simula la recepción.
type Provider struct {
	provider.Unimplemented

	cfg     Config
	tenants repository.TenantRepository
	ranges  repository.FolioRangeRepository
	docs    repository.DocumentRepository
	signer  Signer
	client  *Client
	log     *logger.Logger
	now     func() time.Time
	devSeq  atomic.Int64
}

var _ provider.AuthorityProvider = (*Provider)(nil)

// NewProvider construye el proveedor. client puede ser nil solo en ambiente dev.
func NewProvider(
	cfg Config,
	tenants repository.TenantRepository,
	ranges repository.FolioRangeRepository,
	docs repository.DocumentRepository,
	signer Signer,
	client *Client,
	log *logger.Logger,
) (*Provider, error) {
	if cfg.Environment == "" {
		cfg.Environment = EnvDev
	}
	if cfg.Environment != EnvDev {
		if _, err := Host(cfg.Environment); err != nil {
			return nil, err
		}
		if client == nil {
			return nil, fmt.Errorf("sii: ambiente %s requiere cliente del SII", cfg.Environment)
		}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Provider{
		Unimplemented: provider.Unimplemented{Country: entity.CountryChile},
		cfg:           cfg,
		tenants:       tenants,
		ranges:        ranges,
		docs:          docs,
		signer:        signer,
		client:        client,
		log:           log.Module("sii"),
		now:           time.Now,
	}, nil
}

func (p *Provider) Capability() provider.Capability {
	return provider.Capability{
		Country: entity.CountryChile,
		SupportedDocumentTypes: []int{
			sii.TipoFacturaElectronica, sii.TipoFacturaExenta, sii.TipoBoletaElectronica,
			sii.TipoBoletaExenta, sii.TipoNotaDebito, sii.TipoNotaCredito,
		},
		TaxInclusiveTypes:      []int{sii.TipoBoletaElectronica, sii.TipoBoletaExenta},
		ExemptTypes:            []int{sii.TipoFacturaExenta, sii.TipoBoletaExenta},
		ReferenceRequiredTypes: []int{sii.TipoNotaDebito, sii.TipoNotaCredito},
		RecipientOptionalTypes: []int{sii.TipoBoletaElectronica, sii.TipoBoletaExenta},
		DefaultRecipient:       &entity.Party{TaxID: sii.RUTConsumidorFinal, LegalName: sii.NombreConsumidorFinal},
	}
}

// BuildRepresentation XML del DTE con timbre del CAF que cubre el folio.
func (p *Provider) BuildRepresentation(ctx context.Context, doc *entity.Document) ([]byte, error) {
	caf, err := p.cafFor(ctx, doc)
	if err != nil {
		return nil, err
	}
	ref, err := p.reference(ctx, doc)
	if err != nil {
		return nil, err
	}
	return BuildDTE(BuildInput{
		Document:  doc,
		CAF:       caf,
		Reference: ref,
		TaxRate:   p.cfg.TaxRate,
		Now:       p.now().In(p.cfg.Location),
	})
}

func (p *Provider) Sign(ctx context.Context, raw []byte, tenantID string) ([]byte, error) {
	return p.signer.Sign(ctx, raw, tenantID)
}

// Transmit arma el sobre, lo firma y lo sube con DTEUpload. El veredicto llega por PollStatus.
func (p *Provider) Transmit(ctx context.Context, signed []byte, tenantID string) (*provider.TransmitResult, error) {
	tenant, err := p.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	docType, err := documentTypeOf(signed)
	if err != nil {
		return nil, err
	}
	sender := p.cfg.SenderRUT
	if sender == "" {
		sender = tenant.TaxID
	}
	envelope, err := BuildEnvelope(signed, Caratula{
		RutEmisor:        tenant.TaxID,
		RutEnvia:         sender,
		ResolutionDate:   p.cfg.ResolutionDate,
		ResolutionNumber: p.cfg.ResolutionNumber,
		DocumentType:     docType,
		SignedAt:         p.now().In(p.cfg.Location),
	})
	if err != nil {
		return nil, err
	}
	signedEnvelope, err := p.signer.Sign(ctx, envelope, tenantID)
	if err != nil {
		return nil, err
	}
	payload, err := ToLatin1(signedEnvelope)
	if err != nil {
		return nil, err
	}

	if p.cfg.Environment == EnvDev {
		trackID := fmt.Sprintf("DEV-%08d", p.devSeq.Add(1))
		p.log.Info().Str("tenant_id", tenantID).Str("track_id", trackID).Int("bytes", len(payload)).
			Msg("[DEV] envío simulado, sobre generado y firmado")
		st := provider.StatusResult{State: entity.StateAccepted, Accepted: true, Code: sii.EstadoProcesado, Message: "envío simulado"}
		return &provider.TransmitResult{Accepted: true, TrackID: trackID, Status: &st}, nil
	}

	token, err := p.client.Token(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	res, err := p.client.Upload(ctx, token, sender, tenant.TaxID, payload)
	if err != nil {
		return nil, err
	}
	if res.Status == "5" {
		p.client.Forget(tenantID)
	}
	p.log.Info().Str("tenant_id", tenantID).Str("status", res.Status).Str("track_id", res.TrackID).Msg("DTEUpload")
	return &provider.TransmitResult{
		Accepted:     res.Accepted(),
		TrackID:      res.TrackID,
		ErrorCode:    res.Status,
		ErrorMessage: res.Message,
	}, nil
}

// PollStatus consulta QueryEstUp y traduce el estado del envío a la máquina de estados.
func (p *Provider) PollStatus(ctx context.Context, trackID, tenantID string) (*provider.StatusResult, error) {
	if p.cfg.Environment == EnvDev {
		return &provider.StatusResult{State: entity.StateAccepted, Accepted: true, Code: sii.EstadoProcesado, Message: "envío simulado"}, nil
	}
	tenant, err := p.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	token, err := p.client.Token(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	st, err := p.client.EnvelopeStatus(ctx, token, tenant.TaxID, trackID)
	if err != nil {
		return nil, err
	}
	return MapEnvelopeStatus(st), nil
}

// MapEnvelopeStatus estados del SII → estados del documento (el sobre lleva un solo DTE).
func MapEnvelopeStatus(st *EnvelopeStatus) *provider.StatusResult {
	res := &provider.StatusResult{State: entity.StateSubmitted, Code: st.Estado, Message: st.Glosa}
	final, accepted, observations := sii.ClasificarEstado(st.Estado)
	switch {
	case !final:
		return res
	case !accepted || st.Rechazos > 0:
		res.State = entity.StateRejected
	case observations || st.Reparos > 0:
		res.State, res.Accepted = entity.StateAcceptedWithObservations, true
	default:
		res.State, res.Accepted = entity.StateAccepted, true
	}
	return res
}

// ValidateTenantConfiguration el tenant debe tener RUT válido y certificado vigente;
// fuera de dev además se exige la fecha de resolución (en certificación el número es 0).
func (p *Provider) ValidateTenantConfiguration(ctx context.Context, tenantID string) error {
	tenant, err := p.tenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.Country != entity.CountryChile {
		return fmt.Errorf("%w: tenant de %s", domain.ErrUnsupportedCountry, tenant.Country)
	}
	if err := sii.ValidateRUT(tenant.TaxID); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if _, err := p.signer.Credential(ctx, tenantID); err != nil {
		return err
	}
	if p.cfg.Environment != EnvDev && p.cfg.ResolutionDate.IsZero() {
		return fmt.Errorf("%w: falta la resolución del SII", domain.ErrInvalidInput)
	}
	return nil
}

func (p *Provider) tenant(ctx context.Context, tenantID string) (*entity.Tenant, error) {
	t, err := p.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sii: obtener tenant: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, domain.ErrNotFound)
	}
	return t, nil
}

// cafFor CAF que cubre el folio del documento (activo o ya reemplazado).
// En dev se emite sin timbre si no hay CAF con llave.
func (p *Provider) cafFor(ctx context.Context, doc *entity.Document) (*CAF, error) {
	ranges, err := p.ranges.ListByTenant(ctx, doc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("sii: listar rangos: %w", err)
	}
	for _, r := range ranges {
		if r.DocumentType != doc.DocumentType || doc.Folio < r.RangeStart || doc.Folio > r.RangeEnd {
			continue
		}
		if r.CAFXML == "" {
			break
		}
		caf, err := ParseCAF([]byte(r.CAFXML))
		if err != nil {
			return nil, fmt.Errorf("sii: CAF almacenado ilegible: %w", err)
		}
		if caf.CanStamp() {
			return caf, nil
		}
		break
	}
	if p.cfg.Environment == EnvDev {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: sin CAF con llave para el folio %d tipo %d",
		domain.ErrNoActiveRange, doc.Folio, doc.DocumentType)
}

func (p *Provider) reference(ctx context.Context, doc *entity.Document) (*Reference, error) {
	if doc.ReferenceDocumentID == "" {
		return nil, nil
	}
	ref, err := p.docs.GetByID(ctx, doc.ReferenceDocumentID)
	if err != nil {
		return nil, fmt.Errorf("sii: obtener referencia: %w", err)
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: documento de referencia inexistente", domain.ErrInvalidDocument)
	}
	code := sii.CodRefCorrigeMontos
	if doc.DocumentType == sii.TipoNotaCredito && doc.TotalAmount.Equal(ref.TotalAmount) {
		code = sii.CodRefAnula
	}
	return &Reference{
		DocumentType: ref.DocumentType,
		Folio:        ref.Folio,
		IssueDate:    ref.IssueDate,
		Code:         code,
		Reason:       doc.ReferenceReason,
	}, nil
}

func documentTypeOf(signedDTE []byte) (int, error) {
	x := etree.NewDocument()
	if err := x.ReadFromBytes(signedDTE); err != nil {
		return 0, fmt.Errorf("sii: DTE firmado ilegible: %w", err)
	}
	el := x.FindElement(".//IdDoc/TipoDTE")
	if el == nil {
		return 0, errors.New("sii: DTE sin TipoDTE")
	}
	return strconv.Atoi(el.Text())
}
