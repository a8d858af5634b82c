package repository

import (
	"context"
	"time"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

// FolioRangeRepository define el puerto de persistencia para rangos CAF.
type FolioRangeRepository interface {
	// GetActive devuelve el rango activo para (tenant, tipo) o nil, nil si no existe.
	GetActive(ctx context.Context, tenantID string, documentType int) (*entity.FolioRange, error)

	// IncrementCursor avanza el cursor del rango activo en una sola operación atómica del store,
	// solo si quedan folios y el CAF no está vencido en now. Devuelve el rango ya actualizado
	// (Cursor = folio entregado) o nil, nil si ninguna fila cumplió la condición.
	// Dos llamadas concurrentes nunca observan el mismo cursor.
	IncrementCursor(ctx context.Context, tenantID string, documentType int, now time.Time) (*entity.FolioRange, error)

	// ReplaceActive desactiva el rango activo previo (si existe) e inserta el nuevo, atómicamente.
	ReplaceActive(ctx context.Context, r *entity.FolioRange) error

	// ListByTenant lista todos los rangos del tenant (activos e inactivos).
	ListByTenant(ctx context.Context, tenantID string) ([]*entity.FolioRange, error)
}

// SeriesRepository correlativos por serie para jurisdicciones sin CAF (SUNAT).
type SeriesRepository interface {
	// NextCorrelative incrementa atómicamente y devuelve el correlativo de la serie.
	NextCorrelative(ctx context.Context, tenantID string, documentType int, series string) (int64, error)
}
