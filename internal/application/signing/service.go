package signing

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// XMLSigner firma un documento XML con el certificado dado (implementación XMLDSig).
type XMLSigner interface {
	Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error)
}

// Service produce contenido firmado con el certificado activo del tenant.
// Falla cerrado: sin certificado, vencido o ilegible no hay firma.
type Service struct {
	cache  *Cache
	signer XMLSigner
	log    *logger.Logger
	now    func() time.Time
}

// NewService construye el servicio de firma.
func NewService(cache *Cache, signer XMLSigner, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{cache: cache, signer: signer, log: log.Module("signing"), now: time.Now}
}

// WithClock reemplaza el reloj de la verificación de vencimiento (pruebas).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Credential devuelve el certificado vigente del tenant, verificando el vencimiento contra el reloj.
func (s *Service) Credential(ctx context.Context, tenantID string) (*Credential, error) {
	cred, err := s.cache.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if now := s.now(); cred.ExpiredAt(now) {
		s.log.Warn().Str("tenant_id", tenantID).Str("credential_id", cred.ID).
			Time("expires_at", cred.ExpiresAt).Msg("firma rechazada: certificado vencido")
		return nil, fmt.Errorf("%w: venció el %s", domain.ErrCredentialExpired, cred.ExpiresAt.Format(time.DateOnly))
	}
	return cred, nil
}

// Sign firma raw con el certificado del tenant. El vencimiento se comprueba en cada llamada,
// también para certificados ya presentes en caché.
func (s *Service) Sign(ctx context.Context, raw []byte, tenantID string) ([]byte, error) {
	cred, err := s.Credential(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	signed, err := s.signer.Sign(raw, cred.Certificate)
	if err != nil {
		return nil, fmt.Errorf("signing: firmar documento: %w", err)
	}
	return signed, nil
}
