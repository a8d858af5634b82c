//go:build integration

package postgres_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jhoicas/emisor-dte/internal/application/folio"
	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/postgres"
	"github.com/jhoicas/emisor-dte/pkg/config"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

type testDB struct {
	tenants   *postgres.TenantRepo
	ranges    *postgres.FolioRangeRepo
	documents *postgres.DocumentRepo
	creds     *postgres.CredentialRepo
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("emisor_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(dsn, logger.Nop()))

	pool, err := postgres.NewPool(ctx, config.DBConfig{DatabaseURL: dsn}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := &testDB{
		tenants:   postgres.NewTenantRepository(pool),
		ranges:    postgres.NewFolioRangeRepository(pool),
		documents: postgres.NewDocumentRepository(pool),
		creds:     postgres.NewCredentialRepository(pool),
	}
	require.NoError(t, db.tenants.Create(ctx, &entity.Tenant{
		ID: "T", Country: entity.CountryChile, TaxID: "76086428-5", LegalName: "Comercial T SpA", Active: true,
	}))
	return db
}

func TestPostgres_AsignacionConcurrenteSinDuplicados(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ranges.ReplaceActive(ctx, &entity.FolioRange{
		TenantID: "T", DocumentType: 39, RangeStart: 1, RangeEnd: 150, Cursor: 0,
	}))
	alloc := folio.NewAllocator(db.ranges, logger.Nop())

	const workers = 200
	var (
		mu     sync.Mutex
		folios []int64
		errs   []error
		wg     sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := alloc.Allocate(ctx, "T", 39)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			folios = append(folios, f)
		}()
	}
	wg.Wait()

	require.Len(t, folios, 150)
	require.Len(t, errs, 50)
	for _, err := range errs {
		assert.ErrorIs(t, err, domain.ErrRangeExhausted)
	}
	sort.Slice(folios, func(i, j int) bool { return folios[i] < folios[j] })
	for i, f := range folios {
		assert.Equal(t, int64(i+1), f)
	}

	active, err := db.ranges.GetActive(ctx, "T", 39)
	require.NoError(t, err)
	assert.Equal(t, int64(150), active.Cursor)
}

func TestPostgres_CAFVencidoNoEntregaFolio(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.ranges.ReplaceActive(ctx, &entity.FolioRange{
		TenantID: "T", DocumentType: 33, RangeStart: 1, RangeEnd: 10, ExpiryDate: &past,
	}))
	got, err := db.ranges.IncrementCursor(ctx, "T", 33, time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgres_TransicionCheckAndSet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	doc := &entity.Document{
		TenantID: "T", DocumentType: 39, Folio: 6, IssueDate: time.Now(),
		Issuer:    entity.Party{TaxID: "76086428-5", LegalName: "Comercial T SpA"},
		Recipient: &entity.Party{TaxID: "66666666-6"},
		LineItems: []entity.LineItem{{
			Sequence: 1, Description: "Clase", Quantity: decimal.NewFromInt(2),
			UnitPrice: decimal.NewFromInt(1000), LineTotal: decimal.NewFromInt(2000), Exempt: true,
		}},
		NetAmount: decimal.Zero, TaxAmount: decimal.Zero,
		ExemptAmount: decimal.NewFromInt(2000), TotalAmount: decimal.NewFromInt(2000),
		State: entity.StatePending,
	}
	require.NoError(t, db.documents.Create(ctx, doc))

	doc.State = entity.StateSubmitted
	doc.TrackID = "123456"
	require.NoError(t, db.documents.Transition(ctx, doc, entity.StatePending,
		&entity.StateTransition{DocumentID: doc.ID, From: entity.StatePending, To: entity.StateSubmitted}))

	stale := *doc
	stale.State = entity.StateVoided
	err := db.documents.Transition(ctx, &stale, entity.StatePending,
		&entity.StateTransition{DocumentID: doc.ID, From: entity.StatePending, To: entity.StateVoided})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	got, err := db.documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateSubmitted, got.State)
	assert.Equal(t, "123456", got.TrackID)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(2000)))
	require.Len(t, got.LineItems, 1)
	assert.True(t, got.LineItems[0].Exempt)

	hist, err := db.documents.ListTransitions(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, entity.StateSubmitted, hist[0].To)
}

func TestPostgres_CorrelativoPorSerie(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		n, err := db.ranges.NextCorrelative(ctx, "T", 1, "F001")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := db.ranges.NextCorrelative(ctx, "T", 3, "B001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgres_RotarCertificado(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	exp := time.Now().Add(365 * 24 * time.Hour)
	first := &entity.SigningCredential{TenantID: "T", CredentialBytes: []byte{1}, CredentialPassword: "a", ExpiryDate: exp}
	second := &entity.SigningCredential{TenantID: "T", CredentialBytes: []byte{2}, CredentialPassword: "b", ExpiryDate: exp}
	require.NoError(t, db.creds.Rotate(ctx, first))
	require.NoError(t, db.creds.Rotate(ctx, second))

	active, err := db.creds.GetActive(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, []byte{2}, active.CredentialBytes)
}
