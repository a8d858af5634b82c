package repository

import (
	"context"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

// CredentialRepository define el puerto de persistencia para certificados de firma.
type CredentialRepository interface {
	// GetActive devuelve el certificado activo del tenant o nil, nil si no tiene.
	GetActive(ctx context.Context, tenantID string) (*entity.SigningCredential, error)

	// Rotate desactiva el certificado activo previo e inserta el nuevo, atómicamente.
	Rotate(ctx context.Context, cred *entity.SigningCredential) error
}
