package signing

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// InvalidationBus propaga invalidaciones de caché a las demás instancias.
type InvalidationBus interface {
	Publish(ctx context.Context, tenantID string) error
}

// Rotator registra un nuevo certificado e invalida la caché local y remota.
type Rotator struct {
	repo  repository.CredentialRepository
	cache *Cache
	bus   InvalidationBus // opcional
	log   *logger.Logger
	now   func() time.Time
}

// NewRotator construye el caso de uso. bus puede ser nil (una sola instancia).
func NewRotator(repo repository.CredentialRepository, cache *Cache, bus InvalidationBus, log *logger.Logger) *Rotator {
	if log == nil {
		log = logger.Nop()
	}
	return &Rotator{repo: repo, cache: cache, bus: bus, log: log.Module("signing"), now: time.Now}
}

// Rotate valida el .p12 con su contraseña, lo registra como activo y descarta el anterior.
// El vencimiento registrado es NotAfter del certificado.
func (r *Rotator) Rotate(ctx context.Context, tenantID string, p12 []byte, password string) (*entity.SigningCredential, error) {
	_, leaf, err := DecodeP12(p12, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCredentialInvalid, err)
	}
	if !r.now().Before(leaf.NotAfter) {
		return nil, fmt.Errorf("%w: venció el %s", domain.ErrCredentialExpired, leaf.NotAfter.Format(time.DateOnly))
	}

	cred := &entity.SigningCredential{
		TenantID:           tenantID,
		CredentialBytes:    p12,
		CredentialPassword: password,
		ExpiryDate:         leaf.NotAfter,
	}
	if err := r.repo.Rotate(ctx, cred); err != nil {
		return nil, fmt.Errorf("signing: registrar certificado: %w", err)
	}
	r.cache.Invalidate(tenantID)

	if r.bus != nil {
		if err := r.bus.Publish(ctx, tenantID); err != nil {
			// Las otras instancias conservan el certificado anterior hasta su próxima invalidación.
			r.log.Error().Err(err).Str("tenant_id", tenantID).Msg("no se pudo propagar la invalidación del certificado")
		}
	}
	r.log.Info().Str("tenant_id", tenantID).Str("credential_id", cred.ID).
		Str("subject", leaf.Subject.CommonName).Time("expires_at", leaf.NotAfter).Msg("certificado rotado")
	return cred, nil
}
