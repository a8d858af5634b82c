// Package folio administra el suministro de folios desde rangos autorizados (CAF).
package folio

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// DefaultLowCapacityThreshold folios restantes bajo los cuales se emite el aviso.
const DefaultLowCapacityThreshold int64 = 10

// LowCapacityFunc recibe el aviso de capacidad baja (no fatal).
type LowCapacityFunc func(tenantID string, documentType int, remaining int64)

// Allocator entrega folios. La exclusión mutua vive en el store (IncrementCursor),
// no en el proceso: varias instancias pueden compartir la misma base.
type Allocator struct {
	repo      repository.FolioRangeRepository
	log       *logger.Logger
	threshold int64
	onLow     LowCapacityFunc
	now       func() time.Time
}

// Option configura el Allocator.
type Option func(*Allocator)

// WithLowCapacityThreshold cambia el umbral de aviso (por defecto 10).
func WithLowCapacityThreshold(n int64) Option {
	return func(a *Allocator) { a.threshold = n }
}

// WithLowCapacityHook registra un callback adicional al log de aviso.
func WithLowCapacityHook(fn LowCapacityFunc) Option {
	return func(a *Allocator) { a.onLow = fn }
}

// WithClock reemplaza el reloj (pruebas de vencimiento).
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// NewAllocator construye el asignador.
func NewAllocator(repo repository.FolioRangeRepository, log *logger.Logger, opts ...Option) *Allocator {
	if log == nil {
		log = logger.Nop()
	}
	a := &Allocator{
		repo:      repo,
		log:       log.Module("folio"),
		threshold: DefaultLowCapacityThreshold,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Allocate entrega el siguiente folio de (tenant, tipo). El cursor queda persistido antes de
// retornar: si el resto del flujo falla, el folio se considera consumido.
func (a *Allocator) Allocate(ctx context.Context, tenantID string, documentType int) (int64, error) {
	r, err := a.repo.IncrementCursor(ctx, tenantID, documentType, a.now())
	if err != nil {
		return 0, fmt.Errorf("folio: incrementar cursor: %w", err)
	}
	if r == nil {
		return 0, a.refusal(ctx, tenantID, documentType)
	}

	remaining := r.Remaining()
	if remaining <= a.threshold {
		a.log.Warn().
			Str("tenant_id", tenantID).
			Int("document_type", documentType).
			Int64("folio", r.Cursor).
			Int64("remaining", remaining).
			Int64("range_end", r.RangeEnd).
			Msg("capacidad de folios baja: cargar un nuevo CAF")
		if a.onLow != nil {
			a.onLow(tenantID, documentType, remaining)
		}
	}
	return r.Cursor, nil
}

// refusal explica por qué ninguna fila calificó para el incremento.
func (a *Allocator) refusal(ctx context.Context, tenantID string, documentType int) error {
	r, err := a.repo.GetActive(ctx, tenantID, documentType)
	if err != nil {
		return fmt.Errorf("folio: leer rango activo: %w", err)
	}
	switch {
	case r == nil:
		return fmt.Errorf("%w: tenant %s tipo %d", domain.ErrNoActiveRange, tenantID, documentType)
	case r.ExpiredAt(a.now()):
		return fmt.Errorf("%w: CAF [%d,%d] vencido el %s", domain.ErrNoActiveRange,
			r.RangeStart, r.RangeEnd, r.ExpiryDate.Format(time.DateOnly))
	default:
		return fmt.Errorf("%w: tenant %s tipo %d, rango [%d,%d]", domain.ErrRangeExhausted,
			tenantID, documentType, r.RangeStart, r.RangeEnd)
	}
}

// HasCapacity indica si queda al menos un folio utilizable.
func (a *Allocator) HasCapacity(ctx context.Context, tenantID string, documentType int) (bool, error) {
	n, err := a.Remaining(ctx, tenantID, documentType)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remaining folios disponibles; 0 si no hay rango activo o el CAF venció.
func (a *Allocator) Remaining(ctx context.Context, tenantID string, documentType int) (int64, error) {
	r, err := a.repo.GetActive(ctx, tenantID, documentType)
	if err != nil {
		return 0, fmt.Errorf("folio: leer rango activo: %w", err)
	}
	if r == nil || r.ExpiredAt(a.now()) {
		return 0, nil
	}
	return r.Remaining(), nil
}

// Status resumen del rango activo para consultas de capacidad.
type Status struct {
	Range     *entity.FolioRange
	Remaining int64
	Expired   bool
	Low       bool
}

// ActiveStatus devuelve el rango activo y su capacidad, o nil si no existe.
func (a *Allocator) ActiveStatus(ctx context.Context, tenantID string, documentType int) (*Status, error) {
	r, err := a.repo.GetActive(ctx, tenantID, documentType)
	if err != nil {
		return nil, fmt.Errorf("folio: leer rango activo: %w", err)
	}
	if r == nil {
		return nil, nil
	}
	st := &Status{Range: r, Remaining: r.Remaining(), Expired: r.ExpiredAt(a.now())}
	if st.Expired {
		st.Remaining = 0
	}
	st.Low = st.Remaining <= a.threshold
	return st, nil
}
