package repository

import (
	"context"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

// TenantRepository define el puerto de lectura de emisores.
type TenantRepository interface {
	// GetByID devuelve el tenant o nil, nil si no existe.
	GetByID(ctx context.Context, id string) (*entity.Tenant, error)
	Create(ctx context.Context, t *entity.Tenant) error
}
