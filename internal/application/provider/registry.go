package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/pkg/logger"
)

// Registry mapa explícito país → proveedor, poblado al arranque.
// El respaldo solo se usa si se configuró; nunca se elige uno implícitamente.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]AuthorityProvider
	fallback  string
	log       *logger.Logger
}

// NewRegistry crea un registro vacío.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{providers: make(map[string]AuthorityProvider), log: log.Module("provider")}
}

func normalizeCountry(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// Register agrega un proveedor. Registrar dos veces el mismo país es un error de arranque.
func (r *Registry) Register(p AuthorityProvider) error {
	country := normalizeCountry(p.Capability().Country)
	if country == "" {
		return fmt.Errorf("provider: capacidad sin país")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[country]; exists {
		return fmt.Errorf("provider: ya existe un proveedor para %s", country)
	}
	r.providers[country] = p
	r.log.Info().Str("country", country).Ints("document_types", p.Capability().SupportedDocumentTypes).Msg("proveedor registrado")
	return nil
}

// SetFallback designa el país cuyo proveedor atiende países sin registro. Vacío lo desactiva.
func (r *Registry) SetFallback(country string) error {
	country = normalizeCountry(country)
	r.mu.Lock()
	defer r.mu.Unlock()
	if country != "" {
		if _, ok := r.providers[country]; !ok {
			return fmt.Errorf("provider: fallback %s no registrado", country)
		}
	}
	r.fallback = country
	return nil
}

// Resolve devuelve el proveedor del país o domain.ErrUnsupportedCountry.
func (r *Registry) Resolve(country string) (AuthorityProvider, error) {
	country = normalizeCountry(country)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[country]; ok {
		return p, nil
	}
	if r.fallback != "" {
		r.log.Warn().Str("country", country).Str("fallback", r.fallback).Msg("país sin proveedor: usando fallback configurado")
		return r.providers[r.fallback], nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedCountry, country)
}

// Capabilities capacidades registradas, ordenadas por país.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Capability())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })
	return out
}
