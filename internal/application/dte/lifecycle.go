package dte

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jhoicas/emisor-dte/internal/application/folio"
	"github.com/jhoicas/emisor-dte/internal/application/provider"
	"github.com/jhoicas/emisor-dte/internal/domain"
	dterules "github.com/jhoicas/emisor-dte/internal/domain/dte"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// ReceiptNotifier envía el acuse al receptor tras la aceptación (correo con PDF).
type ReceiptNotifier interface {
	SendReceipt(ctx context.Context, doc *entity.Document) error
}

// transmitLeaseMargin holgura de la reserva de envío sobre TransmitTimeout (cubre la firma).
const transmitLeaseMargin = 30 * time.Second

// Config tiempos del ciclo de vida.
type Config struct {
	TransmitTimeout time.Duration // por envío a la autoridad
	PollTimeout     time.Duration // por consulta de estado
	// AwaitInitialInterval primer intervalo de espera de AwaitTerminal (crece exponencialmente).
	AwaitInitialInterval time.Duration
}

// Manager conduce cada documento por la máquina de estados. Toda transición es un
// check-and-set sobre el estado almacenado: dos workers nunca procesan el mismo paso.
type Manager struct {
	tenants   repository.TenantRepository
	docs      repository.DocumentRepository
	allocator *folio.Allocator
	registry  *provider.Registry
	builder   *Builder
	calc      *dterules.Calculator
	notifier  ReceiptNotifier
	cfg       Config
	log       *logger.Logger
	now       func() time.Time
}

// NewManager construye el orquestador. notifier puede ser nil.
func NewManager(
	tenants repository.TenantRepository,
	docs repository.DocumentRepository,
	allocator *folio.Allocator,
	registry *provider.Registry,
	builder *Builder,
	calc *dterules.Calculator,
	notifier ReceiptNotifier,
	cfg Config,
	log *logger.Logger,
) *Manager {
	if cfg.TransmitTimeout <= 0 {
		cfg.TransmitTimeout = 60 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.AwaitInitialInterval <= 0 {
		cfg.AwaitInitialInterval = 2 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		tenants:   tenants,
		docs:      docs,
		allocator: allocator,
		registry:  registry,
		builder:   builder,
		calc:      calc,
		notifier:  notifier,
		cfg:       cfg,
		log:       log.Module("lifecycle"),
		now:       time.Now,
	}
}

// ── emisión ──

// Issue valida y calcula el documento, asigna folio, lo persiste y lo deja en PENDING.
// Con TransmitToAuthority además lo firma y envía. Si el envío falla devuelve el documento
// (PENDING, folio conservado) junto con el error.
// Un error de suministro de folios ocurre antes de crear el documento.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (*entity.Document, error) {
	tenant, prov, err := m.tenantProvider(ctx, req.TenantID)
	if err != nil {
		return nil, m.surface(err, "issue", req.TenantID, "")
	}
	doc, err := m.buildDraft(ctx, tenant, prov, req)
	if err != nil {
		return nil, m.surface(err, "issue", req.TenantID, "")
	}

	folioNumber, err := m.allocate(ctx, tenant, prov, doc.DocumentType)
	if err != nil {
		return nil, m.surface(err, "issue", req.TenantID, "")
	}
	doc.Folio = folioNumber
	if err := dterules.ValidateDocument(m.calc, doc, true); err != nil {
		return nil, m.surface(err, "issue", req.TenantID, doc.ID)
	}
	if err := m.docs.Create(ctx, doc); err != nil {
		m.log.Error().Err(err).Str("tenant_id", doc.TenantID).Int64("folio", doc.Folio).
			Msg("documento no persistido: el folio queda consumido")
		return nil, m.surface(err, "issue", req.TenantID, doc.ID)
	}
	if err := m.transition(ctx, doc, entity.StatePending, fmt.Sprintf("folio %d asignado", doc.Folio)); err != nil {
		return nil, m.surface(err, "issue", req.TenantID, doc.ID)
	}
	m.log.Info().Str("tenant_id", doc.TenantID).Str("document_id", doc.ID).
		Int("document_type", doc.DocumentType).Int64("folio", doc.Folio).
		Str("total", doc.TotalAmount.String()).Msg("documento emitido")

	if !doc.TransmitToAuthority {
		return doc, nil
	}
	return m.Process(ctx, doc.TenantID, doc.ID)
}

// CreateDraft arma y persiste el documento en DRAFT sin consumir folio.
func (m *Manager) CreateDraft(ctx context.Context, req IssueRequest) (*entity.Document, error) {
	tenant, prov, err := m.tenantProvider(ctx, req.TenantID)
	if err != nil {
		return nil, m.surface(err, "draft", req.TenantID, "")
	}
	doc, err := m.buildDraft(ctx, tenant, prov, req)
	if err != nil {
		return nil, m.surface(err, "draft", req.TenantID, "")
	}
	if err := m.docs.Create(ctx, doc); err != nil {
		return nil, m.surface(err, "draft", req.TenantID, doc.ID)
	}
	return doc, nil
}

// Submit DRAFT → PENDING: valida montos, asigna folio y, si corresponde, transmite.
// Si la validación o el suministro de folios fallan, el documento sigue en DRAFT.
func (m *Manager) Submit(ctx context.Context, tenantID, docID string) (*entity.Document, error) {
	doc, err := m.load(ctx, tenantID, docID)
	if err != nil {
		return nil, m.surface(err, "submit", tenantID, docID)
	}
	if doc.State != entity.StateDraft {
		return nil, fmt.Errorf("%w: el documento está en %s", domain.ErrInvalidTransition, doc.State)
	}
	if err := dterules.ValidateDocument(m.calc, doc, false); err != nil {
		return nil, err
	}
	tenant, prov, err := m.tenantProvider(ctx, tenantID)
	if err != nil {
		return nil, m.surface(err, "submit", tenantID, docID)
	}
	folioNumber, err := m.allocate(ctx, tenant, prov, doc.DocumentType)
	if err != nil {
		return nil, m.surface(err, "submit", tenantID, docID)
	}
	doc.Folio = folioNumber
	if err := m.transition(ctx, doc, entity.StatePending, fmt.Sprintf("folio %d asignado", doc.Folio)); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			m.log.Warn().Str("document_id", docID).Int64("folio", folioNumber).
				Msg("submit concurrente: el folio asignado queda sin uso")
		}
		return nil, m.surface(err, "submit", tenantID, docID)
	}
	if !doc.TransmitToAuthority {
		return doc, nil
	}
	return m.Process(ctx, tenantID, docID)
}

// ── transmisión ──

// Process PENDING → SUBMITTED: firma (o reutiliza la firma previa) y transmite con timeout.
// Falla de firma o de transporte: el documento sigue en PENDING y puede reintentarse sin
// nuevo folio. Con veredicto sincrónico se aplica en la misma llamada.
func (m *Manager) Process(ctx context.Context, tenantID, docID string) (*entity.Document, error) {
	doc, err := m.load(ctx, tenantID, docID)
	if err != nil {
		return nil, m.surface(err, "process", tenantID, docID)
	}
	if doc.State != entity.StatePending {
		return doc, fmt.Errorf("%w: el documento está en %s", domain.ErrInvalidTransition, doc.State)
	}
	_, prov, err := m.tenantProvider(ctx, tenantID)
	if err != nil {
		return doc, m.surface(err, "process", tenantID, docID)
	}

	// Reserva de envío: el worker que la pierde no firma ni transmite.
	now := m.now()
	if err := m.docs.ClaimTransmission(ctx, docID, now, now.Add(m.cfg.TransmitTimeout+transmitLeaseMargin)); err != nil {
		m.log.Warn().Err(err).Str("tenant_id", tenantID).Str("document_id", docID).Int64("folio", doc.Folio).
			Msg("envío en curso por otro worker")
		return doc, m.surface(err, "process", tenantID, docID)
	}
	defer m.releaseTransmission(ctx, docID)
	if doc, err = m.load(ctx, tenantID, docID); err != nil {
		return nil, m.surface(err, "process", tenantID, docID)
	}
	if doc.State != entity.StatePending {
		return doc, fmt.Errorf("%w: el documento está en %s", domain.ErrInvalidTransition, doc.State)
	}

	signed, err := m.signedContent(ctx, prov, doc)
	if err != nil {
		m.log.Warn().Err(err).Str("tenant_id", tenantID).Str("document_id", docID).Int64("folio", doc.Folio).
			Msg("firma fallida: el documento queda PENDING")
		return doc, m.surface(err, "sign", tenantID, docID)
	}

	tctx, cancel := context.WithTimeout(ctx, m.cfg.TransmitTimeout)
	res, err := prov.Transmit(tctx, signed, tenantID)
	cancel()
	if err != nil {
		m.log.Warn().Err(err).Str("tenant_id", tenantID).Str("document_id", docID).Int64("folio", doc.Folio).
			Msg("transmisión fallida: el documento queda PENDING")
		if errors.Is(err, domain.ErrNotImplemented) {
			return doc, err
		}
		return doc, fmt.Errorf("%w: %w", domain.ErrTransmissionFailed, err)
	}
	if !res.Accepted {
		doc.AuthorityMessage = fmt.Sprintf("%s %s", res.ErrorCode, res.ErrorMessage)
		if err := m.docs.Transition(ctx, doc, entity.StatePending, nil); err != nil {
			return doc, m.surface(err, "process", tenantID, docID)
		}
		m.log.Warn().Str("document_id", docID).Str("code", res.ErrorCode).Str("message", res.ErrorMessage).
			Msg("envío no recibido por la autoridad")
		return doc, fmt.Errorf("%w: %s %s", domain.ErrTransmissionFailed, res.ErrorCode, res.ErrorMessage)
	}

	doc.TrackID = res.TrackID
	doc.AuthorityMessage = ""
	if err := m.transition(ctx, doc, entity.StateSubmitted, "track id "+res.TrackID); err != nil {
		return doc, m.surface(err, "process", tenantID, docID)
	}
	m.log.Info().Str("document_id", docID).Int64("folio", doc.Folio).Str("track_id", res.TrackID).Msg("documento enviado")

	if res.Status != nil && res.Status.Final() {
		return m.applyVerdict(ctx, doc, *res.Status)
	}
	return doc, nil
}

func (m *Manager) releaseTransmission(ctx context.Context, docID string) {
	if err := m.docs.ReleaseTransmission(context.WithoutCancel(ctx), docID); err != nil {
		m.log.Error().Err(err).Str("document_id", docID).Msg("reserva de envío no liberada: vence sola")
	}
}

// Retry reintenta firma y envío de un documento PENDING con su folio original.
func (m *Manager) Retry(ctx context.Context, tenantID, docID string) (*entity.Document, error) {
	m.log.Info().Str("tenant_id", tenantID).Str("document_id", docID).Msg("reintento de envío")
	return m.Process(ctx, tenantID, docID)
}

func (m *Manager) signedContent(ctx context.Context, prov provider.AuthorityProvider, doc *entity.Document) ([]byte, error) {
	if doc.SignedContent != "" {
		return []byte(doc.SignedContent), nil
	}
	raw := []byte(doc.RawContent)
	if len(raw) == 0 {
		var err error
		if raw, err = prov.BuildRepresentation(ctx, doc); err != nil {
			return nil, err
		}
		doc.RawContent = string(raw)
	}
	signed, err := prov.Sign(ctx, raw, doc.TenantID)
	if err != nil {
		// La representación se conserva para el reintento.
		if perr := m.docs.Transition(ctx, doc, entity.StatePending, nil); perr != nil {
			m.log.Error().Err(perr).Str("tenant_id", doc.TenantID).Str("document_id", doc.ID).
				Msg("representación no persistida tras firma fallida")
		}
		return nil, err
	}
	doc.SignedContent = string(signed)
	if err := m.docs.Transition(ctx, doc, entity.StatePending, nil); err != nil {
		return nil, err
	}
	return signed, nil
}

// ── seguimiento ──

// Poll consulta a la autoridad el estado de un documento SUBMITTED y aplica el veredicto.
// Para documentos ya terminales no hace nada.
func (m *Manager) Poll(ctx context.Context, tenantID, docID string) (*entity.Document, error) {
	doc, err := m.load(ctx, tenantID, docID)
	if err != nil {
		return nil, m.surface(err, "poll", tenantID, docID)
	}
	if dterules.IsTerminal(doc.State) {
		return doc, nil
	}
	if doc.State != entity.StateSubmitted {
		return doc, fmt.Errorf("%w: el documento está en %s", domain.ErrInvalidTransition, doc.State)
	}
	_, prov, err := m.tenantProvider(ctx, tenantID)
	if err != nil {
		return doc, m.surface(err, "poll", tenantID, docID)
	}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
	st, err := prov.PollStatus(pctx, doc.TrackID, tenantID)
	cancel()
	if err != nil {
		m.markPolled(ctx, doc)
		if errors.Is(err, domain.ErrNotImplemented) {
			return doc, err
		}
		return doc, fmt.Errorf("%w: consulta de estado: %w", domain.ErrTransmissionFailed, err)
	}
	if !st.Final() {
		m.markPolled(ctx, doc)
		return doc, nil
	}
	return m.applyVerdict(ctx, doc, *st)
}

// markPolled manda el documento al final de la cola del poller.
func (m *Manager) markPolled(ctx context.Context, doc *entity.Document) {
	if err := m.docs.MarkPolled(ctx, doc.ID, m.now()); err != nil {
		m.log.Warn().Err(err).Str("document_id", doc.ID).Msg("consulta de estado no registrada")
	}
}

// PollPending consulta hasta limit documentos SUBMITTED. Devuelve cuántos llegaron a veredicto.
func (m *Manager) PollPending(ctx context.Context, limit int) (int, error) {
	docs, err := m.docs.ListByState(ctx, entity.StateSubmitted, limit)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: listar enviados: %w", err)
	}
	resolved := 0
	for _, d := range docs {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		got, err := m.Poll(ctx, d.TenantID, d.ID)
		if got != nil && dterules.IsVerdict(got.State) {
			resolved++
		}
		if err != nil && !errors.Is(err, domain.ErrAuthorityRejected) {
			m.log.Warn().Err(err).Str("document_id", d.ID).Msg("consulta de estado fallida")
		}
	}
	return resolved, nil
}

// AwaitTerminal consulta con espera exponencial hasta veredicto o hasta maxWait.
// Al vencer el plazo devuelve el documento aún SUBMITTED sin error.
func (m *Manager) AwaitTerminal(ctx context.Context, tenantID, docID string, maxWait time.Duration) (*entity.Document, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.AwaitInitialInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = maxWait

	var last *entity.Document
	errPending := errors.New("sin veredicto")
	op := func() error {
		doc, err := m.Poll(ctx, tenantID, docID)
		if doc != nil {
			last = doc
		}
		switch {
		case err != nil && errors.Is(err, domain.ErrTransmissionFailed):
			return err
		case err != nil:
			return backoff.Permanent(err)
		case dterules.IsTerminal(doc.State):
			return nil
		}
		return errPending
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err == nil || errors.Is(err, errPending) {
		return last, nil
	}
	return last, err
}

func (m *Manager) applyVerdict(ctx context.Context, doc *entity.Document, st provider.StatusResult) (*entity.Document, error) {
	if !dterules.CanTransition(doc.State, st.State) {
		return doc, fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, doc.State, st.State)
	}
	doc.AuthorityMessage = st.Message
	detail := st.Message
	if st.Code != "" {
		detail = st.Code + " " + st.Message
	}
	if err := m.transition(ctx, doc, st.State, detail); err != nil {
		return doc, m.surface(err, "verdict", doc.TenantID, doc.ID)
	}
	m.log.Info().Str("tenant_id", doc.TenantID).Str("document_id", doc.ID).Int64("folio", doc.Folio).
		Str("state", string(doc.State)).Str("code", st.Code).Msg("veredicto de la autoridad")

	if doc.State == entity.StateRejected {
		return doc, fmt.Errorf("%w: %s", domain.ErrAuthorityRejected, st.Message)
	}
	m.sendReceipt(ctx, doc)
	return doc, nil
}

func (m *Manager) sendReceipt(ctx context.Context, doc *entity.Document) {
	if m.notifier == nil || !doc.SendReceiptEmail || doc.Recipient == nil || doc.Recipient.Email == "" {
		return
	}
	if err := m.notifier.SendReceipt(ctx, doc); err != nil {
		m.log.Error().Err(err).Str("document_id", doc.ID).Str("email", doc.Recipient.Email).Msg("acuse por correo no enviado")
	}
}

// ── administración ──

// Void anula un documento no terminal. Anular un terminal (incluido uno ya anulado) es
// domain.ErrInvalidTransition.
func (m *Manager) Void(ctx context.Context, tenantID, docID, reason string) (*entity.Document, error) {
	doc, err := m.load(ctx, tenantID, docID)
	if err != nil {
		return nil, m.surface(err, "void", tenantID, docID)
	}
	if !dterules.CanTransition(doc.State, entity.StateVoided) {
		return doc, fmt.Errorf("%w: no se puede anular un documento %s", domain.ErrInvalidTransition, doc.State)
	}
	if reason == "" {
		reason = "anulado por operador"
	}
	if err := m.transition(ctx, doc, entity.StateVoided, reason); err != nil {
		return nil, m.surface(err, "void", tenantID, docID)
	}
	m.log.Info().Str("tenant_id", tenantID).Str("document_id", docID).Int64("folio", doc.Folio).Str("reason", reason).Msg("documento anulado")
	return doc, nil
}

// Get devuelve el documento del tenant con su historial de estados.
func (m *Manager) Get(ctx context.Context, tenantID, docID string) (*entity.Document, []*entity.StateTransition, error) {
	doc, err := m.load(ctx, tenantID, docID)
	if err != nil {
		return nil, nil, m.surface(err, "get", tenantID, docID)
	}
	hist, err := m.docs.ListTransitions(ctx, docID)
	if err != nil {
		return nil, nil, m.surface(err, "get", tenantID, docID)
	}
	return doc, hist, nil
}

// List documentos del tenant, más recientes primero, con el total para paginar.
func (m *Manager) List(ctx context.Context, tenantID string, limit, offset int) ([]*entity.Document, int, error) {
	docs, total, err := m.docs.ListByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, 0, m.surface(err, "list", tenantID, "")
	}
	return docs, total, nil
}

// ── helpers ──

func (m *Manager) load(ctx context.Context, tenantID, docID string) (*entity.Document, error) {
	doc, err := m.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: obtener documento: %w", err)
	}
	if doc == nil || doc.TenantID != tenantID {
		return nil, fmt.Errorf("documento %s: %w", docID, domain.ErrNotFound)
	}
	return doc, nil
}

func (m *Manager) tenantProvider(ctx context.Context, tenantID string) (*entity.Tenant, provider.AuthorityProvider, error) {
	tenant, err := m.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("lifecycle: obtener tenant: %w", err)
	}
	if tenant == nil {
		return nil, nil, fmt.Errorf("tenant %s: %w", tenantID, domain.ErrNotFound)
	}
	if !tenant.Active {
		return nil, nil, fmt.Errorf("%w: tenant %s inactivo", domain.ErrForbidden, tenantID)
	}
	prov, err := m.registry.Resolve(tenant.Country)
	if err != nil {
		return nil, nil, err
	}
	return tenant, prov, nil
}

func (m *Manager) buildDraft(ctx context.Context, tenant *entity.Tenant, prov provider.AuthorityProvider, req IssueRequest) (*entity.Document, error) {
	capab := prov.Capability()
	if req.ReferenceDocumentID != "" {
		ref, err := m.docs.GetByID(ctx, req.ReferenceDocumentID)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: obtener referencia: %w", err)
		}
		if ref == nil || ref.TenantID != tenant.ID {
			return nil, fmt.Errorf("%w: documento de referencia %s inexistente", domain.ErrInvalidDocument, req.ReferenceDocumentID)
		}
		if ref.Folio == 0 || ref.State == entity.StateVoided {
			return nil, fmt.Errorf("%w: el documento de referencia no fue emitido", domain.ErrInvalidDocument)
		}
	}
	return m.builder.Build(tenant, capab, req)
}

// allocate folio desde el rango autorizado o, en jurisdicciones con series, desde el proveedor.
func (m *Manager) allocate(ctx context.Context, tenant *entity.Tenant, prov provider.AuthorityProvider, documentType int) (int64, error) {
	if prov.Capability().UsesSeries {
		sf, err := prov.NextSeriesFolio(ctx, tenant.ID, documentType)
		if err != nil {
			return 0, err
		}
		return sf.Number, nil
	}
	return m.allocator.Allocate(ctx, tenant.ID, documentType)
}

// transition aplica from → to con check-and-set sobre el estado actual de doc.
func (m *Manager) transition(ctx context.Context, doc *entity.Document, to entity.DocumentState, detail string) error {
	from := doc.State
	if !dterules.CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, from, to)
	}
	doc.State = to
	t := &entity.StateTransition{DocumentID: doc.ID, From: from, To: to, Detail: detail, At: m.now()}
	if err := m.docs.Transition(ctx, doc, from, t); err != nil {
		doc.State = from
		return err
	}
	return nil
}

// knownErrors errores que se entregan al llamador tal cual.
var knownErrors = []error{
	domain.ErrNotFound, domain.ErrInvalidInput, domain.ErrForbidden,
	domain.ErrNoActiveRange, domain.ErrRangeExhausted,
	domain.ErrInvalidDocument, domain.ErrInvalidTransition, domain.ErrConcurrentModification,
	domain.ErrNoActiveCredential, domain.ErrCredentialExpired, domain.ErrCredentialInvalid,
	domain.ErrUnsupportedCountry, domain.ErrTransmissionFailed, domain.ErrAuthorityRejected,
	domain.ErrNotImplemented,
}

// surface deja pasar los errores clasificados; el resto se registra con contexto y se
// entrega como domain.ErrInternal.
func (m *Manager) surface(err error, step, tenantID, docID string) error {
	for _, k := range knownErrors {
		if errors.Is(err, k) {
			return err
		}
	}
	m.log.Error().Err(err).Str("step", step).Str("tenant_id", tenantID).Str("document_id", docID).Msg("error inesperado")
	return domain.ErrInternal
}
