package entity

import "time"

// Países con integración de autoridad tributaria (ISO 3166-1 alfa-2).
const (
	CountryChile     = "CL"
	CountryPeru      = "PE"
	CountryVenezuela = "VE"
	CountryMock      = "MOCK"
)

// Tenant representa un contribuyente emisor independiente.
type Tenant struct {
	ID           string
	Country      string // ver constantes Country*
	TaxID        string // RUT / RUC / RIF del emisor
	LegalName    string // razón social
	BusinessLine string // giro
	ActivityCode string // código de actividad económica (Acteco)
	Address      string
	Commune      string
	City         string
	Email        string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
