package dte

import "github.com/jhoicas/emisor-dte/internal/domain/entity"

// transitions transiciones permitidas. VOIDED es una acción administrativa explícita.
var transitions = map[entity.DocumentState][]entity.DocumentState{
	entity.StateDraft:     {entity.StatePending, entity.StateVoided},
	entity.StatePending:   {entity.StateSubmitted, entity.StateVoided},
	entity.StateSubmitted: {entity.StateAccepted, entity.StateAcceptedWithObservations, entity.StateRejected, entity.StateVoided},
}

// CanTransition indica si la máquina de estados permite pasar de from a to.
func CanTransition(from, to entity.DocumentState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal estados sin salida.
func IsTerminal(s entity.DocumentState) bool {
	switch s {
	case entity.StateAccepted, entity.StateAcceptedWithObservations, entity.StateRejected, entity.StateVoided:
		return true
	}
	return false
}

// IsVerdict estados terminales que provienen de la autoridad.
func IsVerdict(s entity.DocumentState) bool {
	return s == entity.StateAccepted || s == entity.StateAcceptedWithObservations || s == entity.StateRejected
}

// Description texto legible del estado para el cliente.
func Description(s entity.DocumentState) string {
	switch s {
	case entity.StateDraft:
		return "Borrador: aún no tiene folio asignado"
	case entity.StatePending:
		return "Pendiente: folio asignado, en espera de firma o envío"
	case entity.StateSubmitted:
		return "Enviado: recibido por la autoridad, en validación"
	case entity.StateAccepted:
		return "Aceptado por la autoridad tributaria"
	case entity.StateAcceptedWithObservations:
		return "Aceptado con reparos por la autoridad tributaria"
	case entity.StateRejected:
		return "Rechazado por la autoridad tributaria; debe emitirse un nuevo documento"
	case entity.StateVoided:
		return "Anulado"
	}
	return string(s)
}
