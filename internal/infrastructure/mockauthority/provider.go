// Package mockauthority simula una autoridad tributaria para desarrollo y pruebas.
// Soporta veredicto sincrónico (en la respuesta del envío) y asincrónico (en la consulta).
package mockauthority

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/emisor-dte/internal/application/provider"
	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/pkg/logger"
	"github.com/jhoicas/emisor-dte/pkg/sii"
)

// Outcome veredicto que entregará la autoridad simulada.
type Outcome string

const (
	OutcomeAccept                 Outcome = "accept"
	OutcomeAcceptWithObservations Outcome = "accept_with_observations"
	OutcomeReject                 Outcome = "reject"
	// OutcomeTransportFailure el envío falla a nivel de red.
	OutcomeTransportFailure Outcome = "transport_failure"
	// OutcomeHang el envío no responde hasta que vence el contexto.
	OutcomeHang Outcome = "hang"
)

// Mode momento en que llega el veredicto.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Signer firma con el certificado del tenant (signing.Service).
type Signer interface {
	Sign(ctx context.Context, raw []byte, tenantID string) ([]byte, error)
}

// Config comportamiento de la autoridad simulada.
type Config struct {
	Mode    Mode
	Outcome Outcome
	// PollsBeforeVerdict consultas que responden "en proceso" antes del veredicto (modo async).
	PollsBeforeVerdict int
	// Signer opcional; sin él se adjunta un digest SHA-256 en lugar de XMLDSig.
	Signer Signer
}

type track struct {
	tenantID string
	outcome  Outcome
	polls    int
}

var _ provider.AuthorityProvider = (*Provider)(nil)

// Provider autoridad simulada. Es seguro para uso concurrente.
type Provider struct {
	provider.Unimplemented

	log *logger.Logger

	mu            sync.Mutex
	cfg           Config
	signErr       error
	seq           int64
	tracks        map[string]*track
	transmissions int
}

// New crea la autoridad simulada. Por defecto acepta sincrónicamente.
func New(cfg Config, log *logger.Logger) *Provider {
	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}
	if cfg.Outcome == "" {
		cfg.Outcome = OutcomeAccept
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Provider{
		Unimplemented: provider.Unimplemented{Country: entity.CountryMock},
		cfg:           cfg,
		tracks:        make(map[string]*track),
		log:           log.Module("mockauthority"),
	}
}

// SetOutcome cambia el veredicto para los próximos envíos.
func (p *Provider) SetOutcome(o Outcome) {
	p.mu.Lock()
	p.cfg.Outcome = o
	p.mu.Unlock()
}

// SetMode cambia el modo para los próximos envíos.
func (p *Provider) SetMode(m Mode) {
	p.mu.Lock()
	p.cfg.Mode = m
	p.mu.Unlock()
}

// FailSigning hace que Sign devuelva err (nil restablece).
func (p *Provider) FailSigning(err error) {
	p.mu.Lock()
	p.signErr = err
	p.mu.Unlock()
}

// Transmissions cantidad de envíos recibidos con éxito de transporte.
func (p *Provider) Transmissions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transmissions
}

func (p *Provider) Capability() provider.Capability {
	return provider.Capability{
		Country: entity.CountryMock,
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

// BuildRepresentation XML mínimo con encabezado, totales y detalle.
func (p *Provider) BuildRepresentation(_ context.Context, doc *entity.Document) ([]byte, error) {
	if doc.Folio <= 0 {
		return nil, fmt.Errorf("%w: documento sin folio", domain.ErrInvalidDocument)
	}
	x := etree.NewDocument()
	root := x.CreateElement("DocumentoMock")
	d := root.CreateElement("Documento")
	d.CreateAttr("ID", fmt.Sprintf("F%dT%d", doc.Folio, doc.DocumentType))
	d.CreateElement("Tipo").SetText(strconv.Itoa(doc.DocumentType))
	d.CreateElement("Folio").SetText(strconv.FormatInt(doc.Folio, 10))
	d.CreateElement("Fecha").SetText(doc.IssueDate.Format(time.DateOnly))
	d.CreateElement("Emisor").SetText(doc.Issuer.TaxID)
	if doc.Recipient != nil {
		d.CreateElement("Receptor").SetText(doc.Recipient.TaxID)
	}
	tot := d.CreateElement("Totales")
	tot.CreateElement("Neto").SetText(doc.NetAmount.String())
	tot.CreateElement("IVA").SetText(doc.TaxAmount.String())
	tot.CreateElement("Exento").SetText(doc.ExemptAmount.String())
	tot.CreateElement("Total").SetText(doc.TotalAmount.String())
	for _, it := range doc.LineItems {
		l := d.CreateElement("Linea")
		l.CreateAttr("n", strconv.Itoa(it.Sequence))
		l.CreateElement("Nombre").SetText(it.Description)
		l.CreateElement("Monto").SetText(it.LineTotal.String())
	}
	return x.WriteToBytes()
}

func (p *Provider) Sign(ctx context.Context, raw []byte, tenantID string) ([]byte, error) {
	p.mu.Lock()
	signErr, signer := p.signErr, p.cfg.Signer
	p.mu.Unlock()
	if signErr != nil {
		return nil, signErr
	}
	if signer != nil {
		return signer.Sign(ctx, raw, tenantID)
	}
	x := etree.NewDocument()
	if err := x.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("mock: parsear XML: %w", err)
	}
	if x.Root() == nil {
		return nil, errors.New("mock: documento sin raíz")
	}
	sum := sha256.Sum256(raw)
	x.Root().CreateElement("FirmaSimulada").SetText(base64.StdEncoding.EncodeToString(sum[:]))
	return x.WriteToBytes()
}

func (p *Provider) Transmit(ctx context.Context, signed []byte, tenantID string) (*provider.TransmitResult, error) {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	switch cfg.Outcome {
	case OutcomeTransportFailure:
		return nil, fmt.Errorf("mock: conexión rechazada por la autoridad simulada")
	case OutcomeHang:
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(signed) == 0 {
		return &provider.TransmitResult{Accepted: false, ErrorCode: "VAC", ErrorMessage: "envío vacío"}, nil
	}

	p.mu.Lock()
	p.seq++
	p.transmissions++
	trackID := fmt.Sprintf("MOCK-%06d", p.seq)
	p.tracks[trackID] = &track{tenantID: tenantID, outcome: cfg.Outcome}
	p.mu.Unlock()

	p.log.Debug().Str("tenant_id", tenantID).Str("track_id", trackID).Str("mode", string(cfg.Mode)).Msg("envío recibido")
	res := &provider.TransmitResult{Accepted: true, TrackID: trackID}
	if cfg.Mode == ModeSync {
		st := verdict(cfg.Outcome)
		res.Status = &st
	}
	return res, nil
}

func (p *Provider) PollStatus(_ context.Context, trackID, tenantID string) (*provider.StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tracks[trackID]
	if !ok || t.tenantID != tenantID {
		return nil, fmt.Errorf("mock: track id %s desconocido: %w", trackID, domain.ErrNotFound)
	}
	t.polls++
	if p.cfg.Mode == ModeAsync && t.polls <= p.cfg.PollsBeforeVerdict {
		return &provider.StatusResult{State: entity.StateSubmitted, Code: sii.EstadoEnProceso, Message: "envío en proceso"}, nil
	}
	st := verdict(t.outcome)
	return &st, nil
}

func (p *Provider) ValidateTenantConfiguration(context.Context, string) error { return nil }

func verdict(o Outcome) provider.StatusResult {
	switch o {
	case OutcomeAcceptWithObservations:
		return provider.StatusResult{State: entity.StateAcceptedWithObservations, Accepted: true, Code: sii.EstadoAceptadoReparos, Message: "aceptado con reparos"}
	case OutcomeReject:
		return provider.StatusResult{State: entity.StateRejected, Code: sii.EstadoRechazadoDTE, Message: "DTE rechazado"}
	default:
		return provider.StatusResult{State: entity.StateAccepted, Accepted: true, Code: sii.EstadoProcesado, Message: "aceptado"}
	}
}
