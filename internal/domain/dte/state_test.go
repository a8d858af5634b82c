package dte_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/emisor-dte/internal/domain/dte"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

var allStates = []entity.DocumentState{
	entity.StateDraft, entity.StatePending, entity.StateSubmitted,
	entity.StateAccepted, entity.StateAcceptedWithObservations, entity.StateRejected, entity.StateVoided,
}

func TestCanTransition_CaminoFeliz(t *testing.T) {
	assert.True(t, dte.CanTransition(entity.StateDraft, entity.StatePending))
	assert.True(t, dte.CanTransition(entity.StatePending, entity.StateSubmitted))
	assert.True(t, dte.CanTransition(entity.StateSubmitted, entity.StateAccepted))
	assert.True(t, dte.CanTransition(entity.StateSubmitted, entity.StateAcceptedWithObservations))
	assert.True(t, dte.CanTransition(entity.StateSubmitted, entity.StateRejected))
}

// Ningún estado previo a SUBMITTED llega directo a un veredicto de la autoridad.
func TestCanTransition_NoSaltaSubmitted(t *testing.T) {
	for _, from := range []entity.DocumentState{entity.StateDraft, entity.StatePending} {
		for _, to := range allStates {
			if dte.IsVerdict(to) {
				assert.Falsef(t, dte.CanTransition(from, to), "%s -> %s", from, to)
			}
		}
	}
}

func TestCanTransition_TerminalesSinSalida(t *testing.T) {
	for _, from := range allStates {
		if !dte.IsTerminal(from) {
			assert.Truef(t, dte.CanTransition(from, entity.StateVoided), "%s debe poder anularse", from)
			continue
		}
		for _, to := range allStates {
			assert.Falsef(t, dte.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestDescription_CubreTodosLosEstados(t *testing.T) {
	for _, s := range allStates {
		assert.NotEqual(t, string(s), dte.Description(s))
	}
}
