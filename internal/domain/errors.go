package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrForbidden    = errors.New("acceso denegado")
	ErrInternal     = errors.New("error interno")

	// Suministro de folios.
	ErrNoActiveRange  = errors.New("no hay rango de folios (CAF) activo")
	ErrRangeExhausted = errors.New("rango de folios agotado")

	// Documento.
	ErrInvalidDocument        = errors.New("documento inválido")
	ErrInvalidTransition      = errors.New("transición de estado no permitida")
	ErrConcurrentModification = errors.New("el documento fue modificado concurrentemente")

	// Firma.
	ErrNoActiveCredential = errors.New("el tenant no tiene certificado de firma activo")
	ErrCredentialExpired  = errors.New("certificado de firma vencido")
	ErrCredentialInvalid  = errors.New("certificado de firma ilegible o contraseña incorrecta")

	// Autoridad tributaria.
	ErrUnsupportedCountry = errors.New("país sin proveedor de autoridad tributaria")
	ErrTransmissionFailed = errors.New("falló la transmisión a la autoridad tributaria")
	ErrAuthorityRejected  = errors.New("documento rechazado por la autoridad tributaria")
	ErrNotImplemented     = errors.New("operación no implementada para esta jurisdicción")
)
