package repository

import (
	"context"
	"time"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
)

// DocumentRepository define el puerto de persistencia para DTE y su historial de estados.
type DocumentRepository interface {
	// Create persiste el documento junto con sus líneas.
	Create(ctx context.Context, doc *entity.Document) error

	// GetByID devuelve el documento o nil, nil si no existe.
	GetByID(ctx context.Context, id string) (*entity.Document, error)

	// Transition persiste doc (estado, folio, track id, contenidos) solo si el estado almacenado
	// sigue siendo expected (check-and-set) y registra la transición. Si otro proceso ganó la
	// carrera devuelve domain.ErrConcurrentModification sin modificar nada.
	// Cuando expected == doc.State se actualizan contenidos sin registrar transición.
	Transition(ctx context.Context, doc *entity.Document, expected entity.DocumentState, t *entity.StateTransition) error

	// ClaimTransmission reserva el envío de un documento PENDING hasta until. Si el documento
	// ya no está PENDING o hay otra reserva vigente en now devuelve domain.ErrConcurrentModification.
	ClaimTransmission(ctx context.Context, documentID string, now, until time.Time) error

	// ReleaseTransmission libera la reserva de envío.
	ReleaseTransmission(ctx context.Context, documentID string) error

	// MarkPolled registra una consulta de estado que no trajo veredicto.
	MarkPolled(ctx context.Context, documentID string, at time.Time) error

	// ListByState lista documentos en un estado (ej: SUBMITTED para el poller). Primero los
	// nunca consultados, luego por consulta más antigua.
	ListByState(ctx context.Context, state entity.DocumentState, limit int) ([]*entity.Document, error)

	// ListByTenant documentos del tenant, más recientes primero. Devuelve también el total.
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*entity.Document, int, error)

	// ListTransitions historial de estados de un documento, en orden cronológico.
	ListTransitions(ctx context.Context, documentID string) ([]*entity.StateTransition, error)
}
