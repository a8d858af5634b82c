package sunat_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/memory"
	"github.com/jhoicas/emisor-dte/internal/infrastructure/sunat"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

func TestNextSeriesFolio_PorSerie(t *testing.T) {
	p := sunat.New(memory.New().FolioRanges, nil, logger.Nop())
	ctx := context.Background()

	f1, err := p.NextSeriesFolio(ctx, "T", sunat.TipoFactura)
	require.NoError(t, err)
	f2, err := p.NextSeriesFolio(ctx, "T", sunat.TipoFactura)
	require.NoError(t, err)
	b1, err := p.NextSeriesFolio(ctx, "T", sunat.TipoBoleta)
	require.NoError(t, err)

	assert.Equal(t, "F001-00000001", f1.String())
	assert.Equal(t, "F001-00000002", f2.String())
	assert.Equal(t, "B001-00000001", b1.String())
}

func TestNextSeriesFolio_ConcurrenteSinDuplicados(t *testing.T) {
	p := sunat.New(memory.New().FolioRanges, nil, logger.Nop())
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sf, err := p.NextSeriesFolio(context.Background(), "T", sunat.TipoBoleta)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[sf.Number] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestProvider_OperacionesNoImplementadas(t *testing.T) {
	p := sunat.New(memory.New().FolioRanges, nil, logger.Nop())
	ctx := context.Background()

	_, err := p.BuildRepresentation(ctx, &entity.Document{})
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
	_, err = p.Transmit(ctx, nil, "T")
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
	_, err = p.NextSeriesFolio(ctx, "T", 99)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
	assert.True(t, p.Capability().UsesSeries)
}
