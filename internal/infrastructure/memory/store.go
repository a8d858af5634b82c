// Package memory implementa los puertos de persistencia en memoria.
// Se usa en pruebas y con STORE_DRIVER=memory para desarrollo local; no sobrevive reinicios.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
)

var (
	_ repository.TenantRepository     = (*Tenants)(nil)
	_ repository.FolioRangeRepository = (*FolioRanges)(nil)
	_ repository.SeriesRepository     = (*FolioRanges)(nil)
	_ repository.DocumentRepository   = (*Documents)(nil)
	_ repository.CredentialRepository = (*Credentials)(nil)
)

// Store agrupa todos los repositorios en memoria con un único candado,
// de modo que las operaciones compuestas (rotar, reemplazar rango) son atómicas.
type Store struct {
	mu sync.RWMutex

	tenants     map[string]*entity.Tenant
	ranges      map[string]*entity.FolioRange // por id
	series      map[string]int64
	documents   map[string]*entity.Document
	transitions map[string][]*entity.StateTransition
	leases      map[string]time.Time                 // reserva de envío por documento
	polled      map[string]time.Time                 // última consulta sin veredicto
	credentials map[string]*entity.SigningCredential // por id

	Tenants     *Tenants
	FolioRanges *FolioRanges
	Documents   *Documents
	Credentials *Credentials
}

// New crea un store vacío.
func New() *Store {
	s := &Store{
		tenants:     make(map[string]*entity.Tenant),
		ranges:      make(map[string]*entity.FolioRange),
		series:      make(map[string]int64),
		documents:   make(map[string]*entity.Document),
		transitions: make(map[string][]*entity.StateTransition),
		leases:      make(map[string]time.Time),
		polled:      make(map[string]time.Time),
		credentials: make(map[string]*entity.SigningCredential),
	}
	s.Tenants = &Tenants{s: s}
	s.FolioRanges = &FolioRanges{s: s}
	s.Documents = &Documents{s: s}
	s.Credentials = &Credentials{s: s}
	return s
}

// ── tenants ──

// Tenants repositorio de emisores.
type Tenants struct{ s *Store }

// GetByID devuelve una copia del tenant o nil, nil.
func (r *Tenants) GetByID(_ context.Context, id string) (*entity.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *Tenants) Create(_ context.Context, t *entity.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, exists := r.s.tenants[t.ID]; exists {
		return fmt.Errorf("tenant %s ya existe", t.ID)
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	r.s.tenants[t.ID] = &cp
	return nil
}

// ── rangos de folios ──

// FolioRanges repositorio de rangos CAF y correlativos de serie.
type FolioRanges struct{ s *Store }

func (r *FolioRanges) activeLocked(tenantID string, docType int) *entity.FolioRange {
	for _, fr := range r.s.ranges {
		if fr.Active && fr.TenantID == tenantID && fr.DocumentType == docType {
			return fr
		}
	}
	return nil
}

func (r *FolioRanges) GetActive(_ context.Context, tenantID string, docType int) (*entity.FolioRange, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	fr := r.activeLocked(tenantID, docType)
	if fr == nil {
		return nil, nil
	}
	cp := *fr
	return &cp, nil
}

// IncrementCursor avanza el cursor bajo el candado exclusivo: equivale al UPDATE condicional de Postgres.
func (r *FolioRanges) IncrementCursor(_ context.Context, tenantID string, docType int, now time.Time) (*entity.FolioRange, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	fr := r.activeLocked(tenantID, docType)
	if fr == nil || fr.Exhausted() || fr.ExpiredAt(now) {
		return nil, nil
	}
	fr.Cursor++
	fr.UpdatedAt = now
	cp := *fr
	return &cp, nil
}

func (r *FolioRanges) ReplaceActive(_ context.Context, fr *entity.FolioRange) error {
	if fr.RangeStart <= 0 || fr.RangeEnd < fr.RangeStart {
		return fmt.Errorf("%w: rango [%d,%d] inválido", domain.ErrInvalidInput, fr.RangeStart, fr.RangeEnd)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	if prev := r.activeLocked(fr.TenantID, fr.DocumentType); prev != nil {
		prev.Active = false
		prev.UpdatedAt = now
	}
	if fr.ID == "" {
		fr.ID = uuid.New().String()
	}
	fr.Active = true
	fr.CreatedAt, fr.UpdatedAt = now, now
	cp := *fr
	r.s.ranges[fr.ID] = &cp
	return nil
}

func (r *FolioRanges) ListByTenant(_ context.Context, tenantID string) ([]*entity.FolioRange, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entity.FolioRange
	for _, fr := range r.s.ranges {
		if fr.TenantID == tenantID {
			cp := *fr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *FolioRanges) NextCorrelative(_ context.Context, tenantID string, docType int, series string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := fmt.Sprintf("%s|%d|%s", tenantID, docType, series)
	r.s.series[key]++
	return r.s.series[key], nil
}

// ── documentos ──

// Documents repositorio de DTE con check-and-set por estado.
type Documents struct{ s *Store }

func cloneDocument(d *entity.Document) *entity.Document {
	cp := *d
	cp.LineItems = append([]entity.LineItem(nil), d.LineItems...)
	if d.Recipient != nil {
		r := *d.Recipient
		cp.Recipient = &r
	}
	return &cp
}

func (r *Documents) Create(_ context.Context, doc *entity.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if _, exists := r.s.documents[doc.ID]; exists {
		return fmt.Errorf("documento %s ya existe", doc.ID)
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	doc.Version = 1
	r.s.documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *Documents) GetByID(_ context.Context, id string) (*entity.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.documents[id]
	if !ok {
		return nil, nil
	}
	return cloneDocument(d), nil
}

func (r *Documents) Transition(_ context.Context, doc *entity.Document, expected entity.DocumentState, t *entity.StateTransition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.documents[doc.ID]
	if !ok {
		return fmt.Errorf("documento %s: %w", doc.ID, domain.ErrNotFound)
	}
	if cur.State != expected {
		return fmt.Errorf("documento %s en %s, se esperaba %s: %w", doc.ID, cur.State, expected, domain.ErrConcurrentModification)
	}
	doc.Version = cur.Version + 1
	doc.UpdatedAt = time.Now()
	doc.CreatedAt = cur.CreatedAt
	r.s.documents[doc.ID] = cloneDocument(doc)
	if t != nil && t.From != t.To {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.At.IsZero() {
			t.At = doc.UpdatedAt
		}
		cp := *t
		r.s.transitions[doc.ID] = append(r.s.transitions[doc.ID], &cp)
	}
	return nil
}

func (r *Documents) ClaimTransmission(_ context.Context, documentID string, now, until time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.documents[documentID]
	if !ok {
		return fmt.Errorf("documento %s: %w", documentID, domain.ErrNotFound)
	}
	if cur.State != entity.StatePending {
		return fmt.Errorf("documento %s en %s: %w", documentID, cur.State, domain.ErrConcurrentModification)
	}
	if held, ok := r.s.leases[documentID]; ok && now.Before(held) {
		return fmt.Errorf("documento %s con envío en curso: %w", documentID, domain.ErrConcurrentModification)
	}
	r.s.leases[documentID] = until
	return nil
}

func (r *Documents) ReleaseTransmission(_ context.Context, documentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.leases, documentID)
	return nil
}

func (r *Documents) MarkPolled(_ context.Context, documentID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.documents[documentID]; !ok {
		return fmt.Errorf("documento %s: %w", documentID, domain.ErrNotFound)
	}
	r.s.polled[documentID] = at
	return nil
}

func (r *Documents) ListByState(_ context.Context, state entity.DocumentState, limit int) ([]*entity.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entity.Document
	for _, d := range r.s.documents {
		if d.State == state {
			out = append(out, cloneDocument(d))
		}
	}
	// Nunca consultados primero (tiempo cero), luego por consulta más antigua.
	sort.Slice(out, func(i, j int) bool {
		pi, pj := r.s.polled[out[i].ID], r.s.polled[out[j].ID]
		if !pi.Equal(pj) {
			return pi.Before(pj)
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Documents) ListByTenant(_ context.Context, tenantID string, limit, offset int) ([]*entity.Document, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entity.Document
	for _, d := range r.s.documents {
		if d.TenantID == tenantID {
			out = append(out, cloneDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *Documents) ListTransitions(_ context.Context, documentID string) ([]*entity.StateTransition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	src := r.s.transitions[documentID]
	out := make([]*entity.StateTransition, 0, len(src))
	for _, t := range src {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// ── certificados ──

// Credentials repositorio de certificados de firma.
type Credentials struct{ s *Store }

func (r *Credentials) GetActive(_ context.Context, tenantID string) (*entity.SigningCredential, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.credentials {
		if c.Active && c.TenantID == tenantID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *Credentials) Rotate(_ context.Context, cred *entity.SigningCredential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.credentials {
		if c.Active && c.TenantID == cred.TenantID {
			c.Active = false
		}
	}
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	cred.Active = true
	cred.CreatedAt = time.Now()
	cp := *cred
	r.s.credentials[cred.ID] = &cp
	return nil
}
