package dte_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/emisor-dte/internal/application/dte"
	"github.com/jhoicas/emisor-dte/internal/application/folio"
	"github.com/jhoicas/emisor-dte/internal/application/provider"
	"github.com/jhoicas/emisor-dte/internal/domain"
	dterules "github.com/jhoicas/emisor-dte/internal/domain/dte"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/memory"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/mockauthority"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

const (
	boleta      = 39
	factura     = 33
	notaCredito = 61
)

type fixture struct {
	store     *memory.Store
	mock      *mockauthority.Provider
	allocator *folio.Allocator
	manager   *dte.Manager
	notifier  *notifierSpy
}

type notifierSpy struct {
	mu   sync.Mutex
	sent []string
}

func (n *notifierSpy) SendReceipt(_ context.Context, doc *entity.Document) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, doc.ID)
	return nil
}

type failingCreate struct {
	*memory.Documents
}

func (f failingCreate) Create(context.Context, *entity.Document) error {
	return errors.New("pq: connection reset by peer")
}

func newFixture(t *testing.T, country string, cfg mockauthority.Config) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Tenants.Create(ctx, &entity.Tenant{
		ID: "T", Country: country, TaxID: "76086428-5", LegalName: "Comercial T SpA", Active: true,
	}))
	for _, typ := range []int{boleta, factura, notaCredito} {
		require.NoError(t, s.FolioRanges.ReplaceActive(ctx, &entity.FolioRange{
			TenantID: "T", DocumentType: typ, RangeStart: 1, RangeEnd: 100, Cursor: 5,
		}))
	}

	calc, err := dterules.NewCalculator(decimal.RequireFromString("0.19"), 0)
	require.NoError(t, err)
	mock := mockauthority.New(cfg, logger.Nop())
	reg := provider.NewRegistry(logger.Nop())
	require.NoError(t, reg.Register(mock))

	alloc := folio.NewAllocator(s.FolioRanges, logger.Nop())
	spy := &notifierSpy{}
	mgr := dte.NewManager(s.Tenants, s.Documents, alloc, reg, dte.NewBuilder(calc, time.UTC), calc, spy,
		dte.Config{TransmitTimeout: 50 * time.Millisecond, PollTimeout: 50 * time.Millisecond, AwaitInitialInterval: time.Millisecond},
		logger.Nop())
	return &fixture{store: s, mock: mock, allocator: alloc, manager: mgr, notifier: spy}
}

func exemptBoleta(transmit bool) dte.IssueRequest {
	return dte.IssueRequest{
		TenantID:     "T",
		DocumentType: boleta,
		LineItems: []dte.LineInput{{
			Description: "Clase de yoga", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(1000), Exempt: true,
		}},
		TransmitToAuthority: transmit,
	}
}

func (f *fixture) remaining(t *testing.T, typ int) int64 {
	t.Helper()
	n, err := f.allocator.Remaining(context.Background(), "T", typ)
	require.NoError(t, err)
	return n
}

func states(hist []*entity.StateTransition) []entity.DocumentState {
	out := make([]entity.DocumentState, 0, len(hist))
	for _, h := range hist {
		out = append(out, h.To)
	}
	return out
}

func TestIssue_EscenarioBoletaExentaAceptada(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	ctx := context.Background()

	doc, err := f.manager.Issue(ctx, exemptBoleta(true))
	require.NoError(t, err)

	assert.Equal(t, int64(6), doc.Folio)
	assert.True(t, doc.NetAmount.IsZero())
	assert.True(t, doc.TaxAmount.IsZero())
	assert.Equal(t, "2000", doc.ExemptAmount.String())
	assert.Equal(t, "2000", doc.TotalAmount.String())
	assert.Equal(t, entity.StateAccepted, doc.State)
	assert.NotEmpty(t, doc.TrackID)
	assert.Equal(t, int64(94), f.remaining(t, boleta))

	_, hist, err := f.manager.Get(ctx, "T", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []entity.DocumentState{entity.StatePending, entity.StateSubmitted, entity.StateAccepted}, states(hist))
	assert.Equal(t, entity.StateDraft, hist[0].From)
}

func TestIssue_RangoAgotado_NoCreaDocumento(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	ctx := context.Background()
	require.NoError(t, f.store.FolioRanges.ReplaceActive(ctx, &entity.FolioRange{
		TenantID: "T", DocumentType: boleta, RangeStart: 101, RangeEnd: 110, Cursor: 110,
	}))

	doc, err := f.manager.Issue(ctx, exemptBoleta(true))
	assert.ErrorIs(t, err, domain.ErrRangeExhausted)
	assert.Nil(t, doc)

	for _, st := range []entity.DocumentState{entity.StateDraft, entity.StatePending, entity.StateSubmitted, entity.StateAccepted} {
		docs, err := f.store.Documents.ListByState(ctx, st, 0)
		require.NoError(t, err)
		assert.Empty(t, docs, st)
	}
	assert.Zero(t, f.mock.Transmissions())
}

func TestIssue_DocumentoInvalido_NoConsumeFolio(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	req := exemptBoleta(true)
	req.LineItems[0].Quantity = decimal.Zero

	_, err := f.manager.Issue(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
	assert.Equal(t, int64(95), f.remaining(t, boleta))
}

func TestIssue_FalloDeFirma_QuedaPendingYReintenta(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	ctx := context.Background()
	f.mock.FailSigning(domain.ErrCredentialExpired)

	doc, err := f.manager.Issue(ctx, exemptBoleta(true))
	require.ErrorIs(t, err, domain.ErrCredentialExpired)
	require.NotNil(t, doc)
	assert.Equal(t, entity.StatePending, doc.State)
	assert.Equal(t, int64(6), doc.Folio)

	f.mock.FailSigning(nil)
	doc, err = f.manager.Retry(ctx, "T", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAccepted, doc.State)
	assert.Equal(t, int64(6), doc.Folio, "el reintento conserva el folio")
	assert.Equal(t, int64(94), f.remaining(t, boleta))
}

// transicionesFallidas rechaza toda escritura de estado.
type transicionesFallidas struct {
	*memory.Documents
}

func (transicionesFallidas) Transition(context.Context, *entity.Document, entity.DocumentState, *entity.StateTransition) error {
	return errors.New("conexión perdida")
}

func TestRetry_FalloDeFirmaYDeGuardado_SeRegistra(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	ctx := context.Background()
	doc, err := f.manager.Issue(ctx, exemptBoleta(false))
	require.NoError(t, err)

	var buf bytes.Buffer
	calc, err := dterules.NewCalculator(decimal.RequireFromString("0.19"), 0)
	require.NoError(t, err)
	reg := provider.NewRegistry(logger.Nop())
	require.NoError(t, reg.Register(f.mock))
	mgr := dte.NewManager(f.store.Tenants, transicionesFallidas{f.store.Documents}, f.allocator, reg,
		dte.NewBuilder(calc, time.UTC), calc, f.notifier,
		dte.Config{TransmitTimeout: 50 * time.Millisecond, PollTimeout: 50 * time.Millisecond},
		logger.New(logger.Config{Level: "warn", Output: &buf}))

	f.mock.FailSigning(domain.ErrCredentialExpired)
	_, err = mgr.Retry(ctx, "T", doc.ID)
	require.ErrorIs(t, err, domain.ErrCredentialExpired)
	assert.Contains(t, buf.String(), "representación no persistida tras firma fallida")
	assert.Contains(t, buf.String(), "conexión perdida")
	assert.Zero(t, f.mock.Transmissions())
}

func TestIssue_TimeoutDeTransmision_ReintentoReusaFirma(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{Outcome: mockauthority.OutcomeHang})
	ctx := context.Background()

	doc, err := f.manager.Issue(ctx, exemptBoleta(true))
	require.ErrorIs(t, err, domain.ErrTransmissionFailed)
	assert.Equal(t, entity.StatePending, doc.State)

	stored, _, err := f.manager.Get(ctx, "T", doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.SignedContent)
	signed := stored.SignedContent

	f.mock.SetOutcome(mockauthority.OutcomeAccept)
	doc, err = f.manager.Retry(ctx, "T", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAccepted, doc.State)
	assert.Equal(t, signed, doc.SignedContent)
	assert.Equal(t, int64(6), doc.Folio)
}

func TestIssue_RechazoSincronico(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{Outcome: mockauthority.OutcomeReject})
	doc, err := f.manager.Issue(context.Background(), exemptBoleta(true))
	assert.ErrorIs(t, err, domain.ErrAuthorityRejected)
	require.NotNil(t, doc)
	assert.Equal(t, entity.StateRejected, doc.State)

	_, err = f.manager.Retry(context.Background(), "T", doc.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "un rechazo no se reintenta")
}

func TestIssue_Asincronico_ConsultaHastaVeredicto(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{
		Mode: mockauthority.ModeAsync, Outcome: mockauthority.OutcomeAcceptWithObservations, PollsBeforeVerdict: 3,
	})
	ctx := context.Background()

	doc, err := f.manager.Issue(ctx, exemptBoleta(true))
	require.NoError(t, err)
	assert.Equal(t, entity.StateSubmitted, doc.State)

	doc, err = f.manager.Poll(ctx, "T", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateSubmitted, doc.State)

	doc, err = f.manager.AwaitTerminal(ctx, "T", doc.ID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAcceptedWithObservations, doc.State)
	assert.NotEmpty(t, doc.AuthorityMessage)
}

func TestPollPending_ResuelveEnviados(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{Mode: mockauthority.ModeAsync})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.manager.Issue(ctx, exemptBoleta(true))
		require.NoError(t, err)
	}
	n, err := f.manager.PollPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	left, err := f.store.Documents.ListByState(ctx, entity.StateSubmitted, 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestVoid_ReglasDeAnulacion(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	ctx := context.Background()

	pending, err := f.manager.Issue(ctx, exemptBoleta(false))
	require.NoError(t, err)
	require.Equal(t, entity.StatePending, pending.State)

	voided, err := f.manager.Void(ctx, "T", pending.ID, "error de digitación")
	require.NoError(t, err)
	assert.Equal(t, entity.StateVoided, voided.State)

	_, err = f.manager.Void(ctx, "T", pending.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "anular dos veces se rechaza")

	accepted, err := f.manager.Issue(ctx, exemptBoleta(true))
	require.NoError(t, err)
	_, err = f.manager.Void(ctx, "T", accepted.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "un documento aceptado no se anula")

	_, err = f.manager.Void(ctx, "otro", accepted.ID, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Consultas y anulaciones concurrentes: exactamente un estado terminal gana.
func TestTransiciones_Concurrentes_UnSoloTerminal(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{Mode: mockauthority.ModeAsync})
	ctx := context.Background()

	doc, err := f.manager.Issue(ctx, exemptBoleta(true))
	require.NoError(t, err)
	require.Equal(t, entity.StateSubmitted, doc.State)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = f.manager.Poll(ctx, "T", doc.ID)
			} else {
				_, _ = f.manager.Void(ctx, "T", doc.ID, "")
			}
		}(i)
	}
	wg.Wait()

	final, hist, err := f.manager.Get(ctx, "T", doc.ID)
	require.NoError(t, err)
	assert.True(t, dterules.IsTerminal(final.State))

	terminals := 0
	for _, h := range hist {
		if dterules.IsTerminal(h.To) {
			terminals++
			assert.Equal(t, entity.StateSubmitted, h.From)
		}
	}
	assert.Equal(t, 1, terminals)
}

// autoridadLenta demora la transmisión para que los reintentos se solapen.
type autoridadLenta struct {
	*mockauthority.Provider
	delay time.Duration
}

func (a autoridadLenta) Transmit(ctx context.Context, signed []byte, tenantID string) (*provider.TransmitResult, error) {
	time.Sleep(a.delay)
	return a.Provider.Transmit(ctx, signed, tenantID)
}

// autoridadAtascada responde "en proceso" para los track id indicados.
type autoridadAtascada struct {
	*mockauthority.Provider
	stuck map[string]bool
}

func (a autoridadAtascada) PollStatus(ctx context.Context, trackID, tenantID string) (*provider.StatusResult, error) {
	if a.stuck[trackID] {
		return &provider.StatusResult{State: entity.StateSubmitted}, nil
	}
	return a.Provider.PollStatus(ctx, trackID, tenantID)
}

func (f *fixture) managerCon(t *testing.T, p provider.AuthorityProvider) *dte.Manager {
	t.Helper()
	calc, err := dterules.NewCalculator(decimal.RequireFromString("0.19"), 0)
	require.NoError(t, err)
	reg := provider.NewRegistry(logger.Nop())
	require.NoError(t, reg.Register(p))
	return dte.NewManager(f.store.Tenants, f.store.Documents, f.allocator, reg, dte.NewBuilder(calc, time.UTC), calc, f.notifier,
		dte.Config{TransmitTimeout: 2 * time.Second, PollTimeout: 50 * time.Millisecond, AwaitInitialInterval: time.Millisecond},
		logger.Nop())
}

// Reintentos concurrentes sobre un PENDING: una sola transmisión, los demás se rechazan.
func TestRetry_Concurrente_UnaSolaTransmision(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	mgr := f.managerCon(t, autoridadLenta{Provider: f.mock, delay: 20 * time.Millisecond})
	ctx := context.Background()

	doc, err := mgr.Issue(ctx, exemptBoleta(false))
	require.NoError(t, err)
	require.Equal(t, entity.StatePending, doc.State)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, rejected := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Retry(ctx, "T", doc.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrConcurrentModification), errors.Is(err, domain.ErrInvalidTransition):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.mock.Transmissions())
	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, rejected)

	final, hist, err := mgr.Get(ctx, "T", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAccepted, final.State)
	submitted := 0
	for _, h := range hist {
		if h.To == entity.StateSubmitted {
			submitted++
		}
	}
	assert.Equal(t, 1, submitted)
}

// Tras un envío terminado la reserva se libera: un fallo de transporte no bloquea el reintento.
func TestRetry_ReservaLiberadaTrasFallo(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{Outcome: mockauthority.OutcomeTransportFailure})
	ctx := context.Background()

	doc, err := f.manager.Issue(ctx, exemptBoleta(true))
	require.ErrorIs(t, err, domain.ErrTransmissionFailed)
	require.Equal(t, entity.StatePending, doc.State)

	f.mock.SetOutcome(mockauthority.OutcomeAccept)
	doc, err = f.manager.Retry(ctx, "T", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAccepted, doc.State)
}

// Documentos que siguen "en proceso" no acaparan el lote del poller.
func TestPollPending_RotaDocumentosEnProceso(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{Mode: mockauthority.ModeAsync})
	ctx := context.Background()

	var docs []*entity.Document
	for i := 0; i < 3; i++ {
		doc, err := f.manager.Issue(ctx, exemptBoleta(true))
		require.NoError(t, err)
		require.Equal(t, entity.StateSubmitted, doc.State)
		docs = append(docs, doc)
	}
	stuck := map[string]bool{docs[0].TrackID: true, docs[1].TrackID: true}
	mgr := f.managerCon(t, autoridadAtascada{Provider: f.mock, stuck: stuck})

	for i := 0; i < 10; i++ {
		_, err := mgr.PollPending(ctx, 2)
		require.NoError(t, err)
	}

	third, _, err := mgr.Get(ctx, "T", docs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAccepted, third.State)
	for _, d := range docs[:2] {
		got, _, err := mgr.Get(ctx, "T", d.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.StateSubmitted, got.State)
	}
}

func TestCreateDraftYSubmit(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	ctx := context.Background()

	draft, err := f.manager.CreateDraft(ctx, exemptBoleta(true))
	require.NoError(t, err)
	assert.Equal(t, entity.StateDraft, draft.State)
	assert.Zero(t, draft.Folio)
	assert.Equal(t, int64(95), f.remaining(t, boleta), "un borrador no consume folio")

	doc, err := f.manager.Submit(ctx, "T", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), doc.Folio)
	assert.Equal(t, entity.StateAccepted, doc.State)

	_, err = f.manager.Submit(ctx, "T", draft.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSubmit_SinFolios_QuedaEnDraft(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	ctx := context.Background()
	draft, err := f.manager.CreateDraft(ctx, exemptBoleta(false))
	require.NoError(t, err)
	require.NoError(t, f.store.FolioRanges.ReplaceActive(ctx, &entity.FolioRange{
		TenantID: "T", DocumentType: boleta, RangeStart: 200, RangeEnd: 200, Cursor: 200,
	}))

	_, err = f.manager.Submit(ctx, "T", draft.ID)
	assert.ErrorIs(t, err, domain.ErrRangeExhausted)

	stored, _, err := f.manager.Get(ctx, "T", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateDraft, stored.State)
	assert.Zero(t, stored.Folio)
}

func TestIssue_PaisSinProveedor(t *testing.T) {
	f := newFixture(t, "AR", mockauthority.Config{})
	_, err := f.manager.Issue(context.Background(), exemptBoleta(true))
	assert.ErrorIs(t, err, domain.ErrUnsupportedCountry)
}

func TestIssue_NotaDeCreditoRequiereReferencia(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	ctx := context.Background()
	recipient := &entity.Party{TaxID: "11111111-1", LegalName: "Cliente", Email: "cliente@example.com"}

	req := dte.IssueRequest{
		TenantID: "T", DocumentType: notaCredito, Recipient: recipient, TransmitToAuthority: true,
		LineItems: []dte.LineInput{{Description: "Devolución", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(10000)}},
	}
	_, err := f.manager.Issue(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)

	inv := req
	inv.DocumentType = factura
	inv.SendReceiptEmail = true
	original, err := f.manager.Issue(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, "10000", original.NetAmount.String())
	assert.Equal(t, "1900", original.TaxAmount.String())
	assert.Equal(t, "11900", original.TotalAmount.String())
	assert.Equal(t, []string{original.ID}, f.notifier.sent)

	req.ReferenceDocumentID = original.ID
	req.ReferenceReason = "devolución total"
	nc, err := f.manager.Issue(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAccepted, nc.State)
	assert.Equal(t, original.ID, nc.ReferenceDocumentID)
}

func TestIssue_FacturaSinReceptor(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	req := exemptBoleta(false)
	req.DocumentType = factura
	_, err := f.manager.Issue(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
}

func TestIssue_ErrorInesperadoSeEntregaComoInterno(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	calc, _ := dterules.NewCalculator(decimal.RequireFromString("0.19"), 0)
	reg := provider.NewRegistry(logger.Nop())
	require.NoError(t, reg.Register(f.mock))
	mgr := dte.NewManager(f.store.Tenants, failingCreate{f.store.Documents}, f.allocator, reg,
		dte.NewBuilder(calc, time.UTC), calc, nil, dte.Config{}, logger.Nop())

	_, err := mgr.Issue(context.Background(), exemptBoleta(true))
	assert.Equal(t, domain.ErrInternal, err)
	assert.NotContains(t, err.Error(), "connection reset")
}

func TestList_SoloDelTenantYPaginado(t *testing.T) {
	f := newFixture(t, entity.CountryMock, mockauthority.Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.manager.CreateDraft(ctx, exemptBoleta(false))
		require.NoError(t, err)
	}

	page, total, err := f.manager.List(ctx, "T", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	rest, _, err := f.manager.List(ctx, "T", 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	none, total, err := f.manager.List(ctx, "otro", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}
