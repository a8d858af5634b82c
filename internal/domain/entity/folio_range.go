package entity

import "time"

// FolioRange representa un Código de Autorización de Folios (CAF): un bloque de folios
// autorizado por la autoridad para un tenant y tipo de documento.
//
// Cursor es el último folio entregado; un rango recién cargado parte en RangeStart-1.
// A lo más un rango activo por (tenant, tipo). Nunca se borra: se desactiva.
type FolioRange struct {
	ID             string
	TenantID       string
	DocumentType   int
	RangeStart     int64
	RangeEnd       int64
	Cursor         int64
	AuthorizedDate time.Time
	ExpiryDate     *time.Time // nil = sin vencimiento (boletas)
	Active         bool
	CAFXML         string // XML original del CAF (incluye la llave para el timbre)
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining folios aún disponibles en el rango.
func (r *FolioRange) Remaining() int64 {
	if r.Cursor >= r.RangeEnd {
		return 0
	}
	return r.RangeEnd - r.Cursor
}

// Exhausted indica que el último folio del rango ya fue entregado.
func (r *FolioRange) Exhausted() bool {
	return r.Cursor >= r.RangeEnd
}

// ExpiredAt indica si el CAF está vencido en el instante dado.
func (r *FolioRange) ExpiredAt(now time.Time) bool {
	return r.ExpiryDate != nil && !now.Before(*r.ExpiryDate)
}
