// Package sii contiene catálogos y validaciones alineados al formato DTE del
// Servicio de Impuestos Internos (Chile).
package sii

// =============================================================================
// Tipos de DTE (Formato DTE v10, campo TipoDTE)
// =============================================================================

const (
	TipoFacturaElectronica = 33 // Factura electrónica afecta
	TipoFacturaExenta      = 34 // Factura no afecta o exenta electrónica
	TipoBoletaElectronica  = 39 // Boleta electrónica
	TipoBoletaExenta       = 41 // Boleta exenta electrónica
	TipoGuiaDespacho       = 52 // Guía de despacho electrónica
	TipoNotaDebito         = 56 // Nota de débito electrónica
	TipoNotaCredito        = 61 // Nota de crédito electrónica
)

// NombresTipoDTE nombre legible de cada tipo (representación impresa y logs).
var NombresTipoDTE = map[int]string{
	TipoFacturaElectronica: "FACTURA ELECTRÓNICA",
	TipoFacturaExenta:      "FACTURA NO AFECTA O EXENTA ELECTRÓNICA",
	TipoBoletaElectronica:  "BOLETA ELECTRÓNICA",
	TipoBoletaExenta:       "BOLETA EXENTA ELECTRÓNICA",
	TipoGuiaDespacho:       "GUÍA DE DESPACHO ELECTRÓNICA",
	TipoNotaDebito:         "NOTA DE DÉBITO ELECTRÓNICA",
	TipoNotaCredito:        "NOTA DE CRÉDITO ELECTRÓNICA",
}

// EsExento indica si el tipo de documento es íntegramente exento de IVA.
func EsExento(tipo int) bool {
	return tipo == TipoFacturaExenta || tipo == TipoBoletaExenta
}

// EsBoleta indica si el tipo pertenece a la familia boleta (receptor opcional, CAF sin vencimiento).
func EsBoleta(tipo int) bool {
	return tipo == TipoBoletaElectronica || tipo == TipoBoletaExenta
}

// RequiereReferencia indica si el documento debe referenciar a otro (notas de crédito/débito).
func RequiereReferencia(tipo int) bool {
	return tipo == TipoNotaCredito || tipo == TipoNotaDebito
}

// =============================================================================
// Receptor genérico para boletas sin identificación del comprador
// =============================================================================

const (
	RUTConsumidorFinal    = "66666666-6"
	NombreConsumidorFinal = "CONSUMIDOR FINAL"
)

// =============================================================================
// Códigos de referencia (CodRef)
// =============================================================================

const (
	CodRefAnula         = 1 // Anula documento de referencia
	CodRefCorrigeTexto  = 2 // Corrige texto del documento de referencia
	CodRefCorrigeMontos = 3 // Corrige montos
)

// =============================================================================
// Estados de envío (QueryEstUp) y su clasificación
// =============================================================================

const (
	EstadoRecibido          = "REC" // Envío recibido
	EstadoSchemaOK          = "SOK" // Schema validado
	EstadoFirmaOK           = "FOK" // Firma de envío validada
	EstadoEnProceso         = "PRD" // Envío en proceso
	EstadoCaratulaOK        = "CRT" // Carátula OK
	EstadoProcesado         = "EPR" // Envío procesado (aceptado)
	EstadoAceptadoReparos   = "RPR" // Aceptado con reparos
	EstadoRechazadoSchema   = "RSC" // Rechazado por error en schema
	EstadoRechazadoFirma    = "RFR" // Rechazado por error en firma
	EstadoRechazadoCaratula = "RCT" // Rechazado por error en carátula
	EstadoRechazadoDTE      = "RCH" // DTE rechazado
	EstadoRechazadoCert     = "RCS" // Rechazado por certificado
)

// ClasificarEstado agrupa los códigos del SII en pendiente, aceptado, con reparos o rechazado.
func ClasificarEstado(estado string) (final, aceptado, reparos bool) {
	switch estado {
	case EstadoProcesado:
		return true, true, false
	case EstadoAceptadoReparos:
		return true, true, true
	case EstadoRechazadoSchema, EstadoRechazadoFirma, EstadoRechazadoCaratula, EstadoRechazadoDTE, EstadoRechazadoCert:
		return true, false, false
	default:
		return false, false, false
	}
}
