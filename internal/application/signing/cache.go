// Package signing firma documentos con el certificado del tenant.
package signing

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/pkcs12"
	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// Credential certificado decodificado. Inmutable una vez publicado en la caché.
type Credential struct {
	ID          string
	TenantID    string
	Certificate tls.Certificate
	Leaf        *x509.Certificate
	// ExpiresAt el menor entre el vencimiento registrado y NotAfter del certificado.
	ExpiresAt time.Time
	LoadedAt  time.Time
}

// ExpiredAt indica si el certificado ya no puede usarse en now.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Cache memoriza certificados decodificados por tenant. Las entradas se reemplazan
// completas (nunca se editan), así un lector ve la versión anterior o la nueva.
type Cache struct {
	repo repository.CredentialRepository
	log  *logger.Logger
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]*Credential
	gen     map[string]uint64
	loads   singleflight.Group
}

// NewCache construye la caché sobre el repositorio de certificados.
func NewCache(repo repository.CredentialRepository, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{
		repo:    repo,
		log:     log.Module("certcache"),
		now:     time.Now,
		entries: make(map[string]*Credential),
		gen:     make(map[string]uint64),
	}
}

// Get devuelve el certificado del tenant, cargándolo y decodificándolo si no está en caché.
// No verifica vencimiento: eso lo hace el firmador en cada uso.
func (c *Cache) Get(ctx context.Context, tenantID string) (*Credential, error) {
	c.mu.RLock()
	cred, ok := c.entries[tenantID]
	gen := c.gen[tenantID]
	c.mu.RUnlock()
	if ok {
		return cred, nil
	}

	v, err, _ := c.loads.Do(tenantID, func() (interface{}, error) {
		return c.load(ctx, tenantID, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

func (c *Cache) load(ctx context.Context, tenantID string, gen uint64) (*Credential, error) {
	stored, err := c.repo.GetActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("signing: leer certificado: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: tenant %s", domain.ErrNoActiveCredential, tenantID)
	}
	cert, leaf, err := DecodeP12(stored.CredentialBytes, stored.CredentialPassword)
	if err != nil {
		c.log.Warn().Err(err).Str("tenant_id", tenantID).Str("credential_id", stored.ID).Msg("certificado ilegible")
		return nil, fmt.Errorf("%w: %w", domain.ErrCredentialInvalid, err)
	}
	expires := leaf.NotAfter
	if !stored.ExpiryDate.IsZero() && stored.ExpiryDate.Before(expires) {
		expires = stored.ExpiryDate
	}
	cred := &Credential{
		ID:          stored.ID,
		TenantID:    tenantID,
		Certificate: cert,
		Leaf:        leaf,
		ExpiresAt:   expires,
		LoadedAt:    c.now(),
	}

	c.mu.Lock()
	// Si hubo una invalidación durante la carga, no se publica el resultado viejo.
	if c.gen[tenantID] == gen {
		c.entries[tenantID] = cred
	}
	c.mu.Unlock()
	c.log.Debug().Str("tenant_id", tenantID).Str("credential_id", cred.ID).Time("expires_at", expires).Msg("certificado cargado")
	return cred, nil
}

// Invalidate descarta la entrada del tenant. Debe llamarse tras cada rotación.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.gen[tenantID]++
	c.mu.Unlock()
	c.loads.Forget(tenantID)
	c.log.Info().Str("tenant_id", tenantID).Msg("certificado invalidado en caché")
}

// Len cantidad de entradas vigentes en caché.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DecodeP12 decodifica un .p12/.pfx. Si el archivo trae cadena de certificación,
// toma como hoja el certificado que corresponde a la llave privada.
func DecodeP12(data []byte, password string) (tls.Certificate, *x509.Certificate, error) {
	if len(data) == 0 {
		return tls.Certificate{}, nil, errors.New("archivo vacío")
	}
	priv, leaf, err := pkcs12.Decode(data, password)
	if err == nil {
		return tls.Certificate{Certificate: [][]byte{leaf.Raw}, PrivateKey: priv, Leaf: leaf}, leaf, nil
	}
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return tls.Certificate{}, nil, err
	}

	blocks, pemErr := pkcs12.ToPEM(data, password)
	if pemErr != nil {
		return tls.Certificate{}, nil, fmt.Errorf("decodificar p12: %w", err)
	}
	var key *rsa.PrivateKey
	var certs []*x509.Certificate
	for _, b := range blocks {
		switch b.Type {
		case "CERTIFICATE":
			if c, err := x509.ParseCertificate(b.Bytes); err == nil {
				certs = append(certs, c)
			}
		case "PRIVATE KEY", "RSA PRIVATE KEY":
			if k, err := parseRSAKey(b); err == nil {
				key = k
			}
		}
	}
	if key == nil {
		return tls.Certificate{}, nil, errors.New("p12 sin llave privada RSA")
	}
	for _, c := range certs {
		if pub, ok := c.PublicKey.(*rsa.PublicKey); ok && pub.Equal(&key.PublicKey) {
			chain := [][]byte{c.Raw}
			for _, other := range certs {
				if other != c {
					chain = append(chain, other.Raw)
				}
			}
			return tls.Certificate{Certificate: chain, PrivateKey: key, Leaf: c}, c, nil
		}
	}
	return tls.Certificate{}, nil, errors.New("p12 sin certificado para la llave privada")
}

func parseRSAKey(b *pem.Block) (*rsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS1PrivateKey(b.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(b.Bytes)
	if err != nil {
		return nil, err
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("llave no RSA")
	}
	return rk, nil
}
